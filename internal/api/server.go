package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/market"
	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
	"github.com/kjannette/shares-trader/internal/risk"
	"github.com/kjannette/shares-trader/internal/trade"
)

// Market is the view of the market controller the API needs.
type Market interface {
	Snapshot() market.Snapshot
	Subscribe(obs market.Observer) func()
	SetTimeframe(ctx context.Context, tf models.Timeframe) error
	QuoteBuy(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*quote.Quote, error)
	QuoteSell(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*quote.Quote, error)
}

type Limits interface {
	DailyLimitState(ctx context.Context, user common.Address) (risk.DailyLimitState, error)
	CooldownRemaining(ctx context.Context, user common.Address) (time.Duration, error)
}

type Submitter interface {
	Submit(ctx context.Context, q *quote.Quote) (*trade.Result, error)
}

// Pinger is satisfied by *pgxpool.Pool in database mode.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators behind the routes. Submitter and DB may be nil.
type Deps struct {
	Market    Market
	Limits    Limits
	Submitter Submitter
	DB        Pinger
}

type Options struct {
	Port            int
	APIKey          string
	CORSAllowOrigin string
	DefaultSlippage decimal.Decimal
	QuoteTTL        time.Duration
}

type Server struct {
	deps       Deps
	opts       Options
	quotes     *quoteStore
	hub        *streamHub
	httpServer *http.Server
	apiKey     string
}

func NewServer(deps Deps, opts Options) *Server {
	if opts.QuoteTTL <= 0 {
		opts.QuoteTTL = 30 * time.Second
	}
	s := &Server{
		deps:   deps,
		opts:   opts,
		quotes: newQuoteStore(opts.QuoteTTL),
		hub:    newStreamHub(),
		apiKey: opts.APIKey,
	}

	mux := http.NewServeMux()

	// Quote routes
	mux.HandleFunc("GET /v1/quotes/buy", s.handleQuoteBuy)
	mux.HandleFunc("GET /v1/quotes/sell", s.handleQuoteSell)
	mux.HandleFunc("POST /v1/quotes/{id}/submit", s.handleSubmit)

	// Limit routes
	mux.HandleFunc("GET /v1/limits/{address}", s.handleLimits)

	// Market data routes
	mux.HandleFunc("GET /v1/candles", s.handleCandles)
	mux.HandleFunc("PUT /v1/timeframe", s.handleSetTimeframe)
	mux.HandleFunc("GET /v1/stream", s.handleStream)

	// Health check (no auth required)
	mux.HandleFunc("GET /health", s.handleHealth)

	handler := s.authMiddleware(corsMiddleware(mux, opts.CORSAllowOrigin))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 20 * time.Second,
	}

	return s
}

// Start serves until Shutdown. It also forwards every market snapshot to
// connected stream clients.
func (s *Server) Start() error {
	unsubscribe := s.deps.Market.Subscribe(s.hub.Broadcast)
	defer unsubscribe()

	fmt.Printf("[API] REST API server started on http://localhost%s\n", s.httpServer.Addr)
	fmt.Printf("[API] Health check: http://localhost%s/health\n", s.httpServer.Addr)
	fmt.Printf("[API] Live stream: ws://localhost%s/v1/stream\n", s.httpServer.Addr)
	if s.apiKey != "" {
		fmt.Println("[API] Authentication: enabled (Bearer token)")
	} else {
		fmt.Println("[API] Authentication: disabled (no API_KEY configured)")
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.CloseAll()
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || r.URL.Path == "/health" || r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		// Browsers cannot set headers on a websocket handshake.
		if r.URL.Path == "/v1/stream" && r.URL.Query().Get("token") == s.apiKey {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "unauthorized", "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "unauthorized", "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- request helpers ---

func parseAddress(v string) (common.Address, bool) {
	if !common.IsHexAddress(v) {
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// parseDecimal returns fallback when v is empty.
func parseDecimal(v string, fallback decimal.Decimal) (decimal.Decimal, error) {
	if v == "" {
		return fallback, nil
	}
	return decimal.NewFromString(v)
}

// --- response helpers ---

type errorResponse struct {
	Error            string `json:"error"`
	Code             string `json:"code"`
	Reason           string `json:"reason,omitempty"`
	Retryable        bool   `json:"retryable"`
	RemainingSeconds int64  `json:"remainingSeconds,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}
