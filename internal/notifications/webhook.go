// Package notifications posts trade and market alerts to a Slack or
// Discord webhook.
package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/kjannette/shares-trader/internal/httputil"
	"github.com/kjannette/shares-trader/internal/market"
	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
	"github.com/kjannette/shares-trader/internal/trade"
)

type Sender struct {
	webhookURL string
	name       string
	httpClient *http.Client
	retry      httputil.RetryConfig

	mu        sync.Mutex
	lastState market.State
}

func NewSender(webhookURL, name string) *Sender {
	if name == "" {
		name = "SharesTrader"
	}
	return &Sender{
		webhookURL: webhookURL,
		name:       name,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
		lastState: market.StateIdle,
	}
}

// WithRetry overrides the retry policy, mainly so tests run fast.
func (s *Sender) WithRetry(cfg httputil.RetryConfig) *Sender {
	s.retry = cfg
	return s
}

// Send logs msg and posts it to the webhook. Delivery failures are logged,
// never returned.
func (s *Sender) Send(ctx context.Context, msg string) {
	slog.Info("notification", "name", s.name, "msg", msg)
	if s.webhookURL == "" {
		return
	}

	body, err := json.Marshal(s.formatPayload(fmt.Sprintf("[%s] %s", s.name, msg)))
	if err != nil {
		slog.Error("notification marshal failed", "err", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, "webhook", func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		slog.Warn("notification not delivered", "err", err)
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.name,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.name,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

// ObserveMarket is a market.Observer that alerts when the chart enters or
// leaves a degraded state. Sends happen off the controller's loop.
func (s *Sender) ObserveMarket(snap market.Snapshot) {
	s.mu.Lock()
	prev := s.lastState
	s.lastState = snap.State
	s.mu.Unlock()

	if prev == snap.State {
		return
	}
	var msg string
	switch {
	case snap.State == market.StateError:
		msg = fmt.Sprintf("market data for artist %s (%s) failed: %s", snap.ArtistID, snap.Timeframe, snap.Error)
	case snap.State == market.StateReconnecting:
		msg = fmt.Sprintf("trade feed for artist %s lost, reconnecting", snap.ArtistID)
	case snap.State == market.StateSubscribed && (prev == market.StateError || prev == market.StateReconnecting):
		msg = fmt.Sprintf("market data for artist %s (%s) recovered", snap.ArtistID, snap.Timeframe)
	default:
		return
	}
	go s.Send(context.Background(), msg)
}

type submitter interface {
	Submit(ctx context.Context, q *quote.Quote) (*trade.Result, error)
}

// NotifyingSubmitter announces every sent transaction.
type NotifyingSubmitter struct {
	next   submitter
	sender *Sender
}

func NewNotifyingSubmitter(next submitter, sender *Sender) *NotifyingSubmitter {
	return &NotifyingSubmitter{next: next, sender: sender}
}

func (n *NotifyingSubmitter) Submit(ctx context.Context, q *quote.Quote) (*trade.Result, error) {
	res, err := n.next.Submit(ctx, q)
	if err != nil {
		return nil, err
	}
	go n.sender.Send(context.Background(), describeTrade(q, res))
	return res, nil
}

func describeTrade(q *quote.Quote, res *trade.Result) string {
	tokens := models.FromWei(q.Tokens).StringFixed(2)
	eth := models.FromWei(q.ETH).StringFixed(6)
	verb := "bought"
	if q.Side == models.SideSell {
		verb = "sold"
	}
	msg := fmt.Sprintf("%s %s shares for %s ETH (~$%s) tx %s", verb, tokens, eth, q.TradeUSD.StringFixed(2), res.TxHash)
	if q.Capped {
		msg += fmt.Sprintf(" [capped: %s]", q.CapReason)
	}
	return msg
}
