package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/api"
	"github.com/kjannette/shares-trader/internal/config"
	"github.com/kjannette/shares-trader/internal/db"
	"github.com/kjannette/shares-trader/internal/ethereum"
	"github.com/kjannette/shares-trader/internal/external"
	"github.com/kjannette/shares-trader/internal/feed"
	"github.com/kjannette/shares-trader/internal/logging"
	"github.com/kjannette/shares-trader/internal/market"
	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/notifications"
	"github.com/kjannette/shares-trader/internal/quote"
	"github.com/kjannette/shares-trader/internal/repository"
	"github.com/kjannette/shares-trader/internal/risk"
	"github.com/kjannette/shares-trader/internal/trade"
)

const banner = `
╔══════════════════════════════════════╗
║     Artist Shares Trader v0.3        ║
║                                      ║
╚══════════════════════════════════════╝
`

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()
	slog.SetDefault(logging.New(cfg.LogLevel, cfg.LogFile))

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Chain
	client, err := ethereum.NewClient(cfg.EthereumAPIEndpoint, cfg.PrivateKey, int64(cfg.ChainID), cfg.GasLimit, cfg.GasMultiplier)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ETH] Client failed: %v\n", err)
		os.Exit(1)
	}
	defer client.Close()

	curve, err := ethereum.NewCurve(client, cfg.TokenAddress)
	if err != nil {
		fmt.Fprintf(os.Stderr, "[ETH] Curve binding failed: %v\n", err)
		os.Exit(1)
	}
	if client.CanSign() {
		fmt.Printf("[ETH] Wallet: %s\n", client.WalletAddress().Hex())
	}

	// History and volume: backend database or REST
	var (
		history market.HistorySource
		volume  risk.VolumeSource
		pinger  api.Pinger
	)
	if cfg.UseDatabase {
		fmt.Printf("\n[DB] Connecting to %s:%d/%s ...\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		pool, err := db.Connect(ctx, cfg.DSN())
		if err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Connection failed: %v\n", err)
			os.Exit(1)
		}
		defer func() {
			pool.Close()
			fmt.Println("[DB] Connection pool closed")
		}()
		if err := db.CheckSchema(ctx, pool); err != nil {
			fmt.Fprintf(os.Stderr, "[DB] Schema check failed: %v\n", err)
			os.Exit(1)
		}
		history = repository.NewCandleRepo(pool)
		volume = repository.NewVolumeRepo(pool)
		pinger = pool
	} else {
		backend := external.NewBackendClient(external.BackendOptions{
			BaseURL:    cfg.BackendURL,
			Token:      cfg.BackendToken,
			CandlePath: cfg.CandlePath,
			VolumePath: cfg.VolumePath,
		})
		history = backend
		volume = backend
	}

	// Trade safety
	guard := risk.NewGuard(risk.Limits{MaxTradeUSD: decimal.NewFromFloat(cfg.MaxTradeUSD)}, curve, volume)
	engine := quote.NewEngine(curve, guard, cfg.QuoteMaxAge)

	notify := notifications.NewSender(cfg.WebhookURL, cfg.NotifyName)

	var submitter api.Submitter
	if client.CanSign() {
		submitter = notifications.NewNotifyingSubmitter(trade.NewSubmitter(client, curve, engine).WithCooldown(guard), notify)
	}

	// Market data
	tf, _ := models.ParseTimeframe(cfg.DefaultTimeframe)
	streams := func(artistID string, sink feed.Sink) market.Stream {
		return feed.NewSubscriber(cfg.FeedURL, artistID, cfg.BackendToken, sink, feed.DefaultOptions)
	}
	controller := market.New(market.Options{
		ArtistID:        cfg.ArtistID,
		Timeframe:       tf,
		Window:          cfg.RealtimeWindow(),
		RefreshInterval: cfg.HistoryRefresh,
		DedupCapacity:   cfg.DedupCapacity,
	}, history, streams, engine)
	unsubscribe := controller.Subscribe(notify.ObserveMarket)
	defer unsubscribe()

	controllerDone := make(chan struct{})
	go func() {
		defer close(controllerDone)
		if err := controller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			slog.Error("market controller stopped", "err", err)
		}
	}()

	// API server
	srv := api.NewServer(api.Deps{
		Market:    controller,
		Limits:    guard,
		Submitter: submitter,
		DB:        pinger,
	}, api.Options{
		Port:            cfg.APIPort,
		APIKey:          cfg.APIKey,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		DefaultSlippage: decimal.NewFromFloat(cfg.DefaultSlippagePercent),
		QuoteTTL:        cfg.QuoteMaxAge,
	})
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	fmt.Println("\nAll services started successfully")

	// Wait for shutdown signal
	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")

	select {
	case <-controllerDone:
		fmt.Println("[MARKET] Feed closed")
	case <-shutdownCtx.Done():
		fmt.Fprintln(os.Stderr, "[MARKET] Timed out waiting for feed shutdown")
	}
	fmt.Println("Shutdown complete")
}
