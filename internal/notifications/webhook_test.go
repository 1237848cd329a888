package notifications

import (
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/httputil"
	"github.com/kjannette/shares-trader/internal/market"
	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
	"github.com/kjannette/shares-trader/internal/trade"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

func TestSend_NoWebhook(t *testing.T) {
	s := NewSender("", "TestBot")
	if s.Enabled() {
		t.Fatal("should not be enabled with empty URL")
	}
	s.Send(context.Background(), "hello from test")
	t.Log("Send with no webhook: OK (log only)")
}

func TestSend_SlackFormat(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "TestBot")
	if !s.Enabled() {
		t.Fatal("should be enabled")
	}

	s.Send(context.Background(), "feed recovered")

	if received["username"] != "TestBot" {
		t.Fatalf("username: got %s", received["username"])
	}
	if received["text"] == "" {
		t.Fatal("text should not be empty")
	}
	t.Logf("Slack payload: %+v", received)
}

func TestSend_DiscordFormat(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &received)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// URL containing "discord" triggers Discord format
	s := NewSender(srv.URL+"/discord/webhook", "SharesBot")
	s.Send(context.Background(), "bought 2000.00 shares")

	if received["content"] == "" {
		t.Fatal("content should not be empty for Discord")
	}
	if received["username"] != "SharesBot" {
		t.Fatalf("username: got %s", received["username"])
	}
	if _, hasText := received["text"]; hasText {
		t.Fatal("Discord payload should not have 'text' field")
	}
}

func TestSend_WebhookError(t *testing.T) {
	s := NewSender("http://localhost:1/bogus", "TestBot").
		WithRetry(httputil.RetryConfig{MaxAttempts: 1})
	// Should not panic, just log the error
	s.Send(context.Background(), "this will fail gracefully")
}

func TestDefaultName(t *testing.T) {
	s := NewSender("", "")
	if s.name != "SharesTrader" {
		t.Fatalf("expected default name, got %s", s.name)
	}
}

func TestObserveMarket_AlertsOnStateChanges(t *testing.T) {
	msgs := make(chan string, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var payload map[string]string
		json.NewDecoder(r.Body).Decode(&payload)
		msgs <- payload["text"]
	}))
	defer srv.Close()

	s := NewSender(srv.URL, "TestBot")
	snap := market.Snapshot{ArtistID: "7", Timeframe: models.Timeframe5m}

	for _, st := range []market.State{market.StateLoading, market.StateSubscribed, market.StateSubscribed} {
		snap.State = st
		s.ObserveMarket(snap)
	}
	snap.State = market.StateReconnecting
	s.ObserveMarket(snap)
	snap.State = market.StateSubscribed
	s.ObserveMarket(snap)

	want := []string{"reconnecting", "recovered"}
	got := make(map[string]bool)
	for range want {
		select {
		case m := <-msgs:
			for _, w := range want {
				if strings.Contains(m, w) {
					got[w] = true
				}
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out; got %v", got)
		}
	}
	for _, w := range want {
		if !got[w] {
			t.Errorf("missing %q alert", w)
		}
	}
	select {
	case extra := <-msgs:
		t.Errorf("unexpected alert %q", extra)
	case <-time.After(50 * time.Millisecond):
	}
}

type stubSubmitter struct{ err error }

func (s stubSubmitter) Submit(_ context.Context, q *quote.Quote) (*trade.Result, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &trade.Result{QuoteID: q.ID, TxHash: "0xabc"}, nil
}

func TestNotifyingSubmitter(t *testing.T) {
	s := NewSender("", "TestBot")
	q := &quote.Quote{
		ID: "q1", Side: models.SideSell,
		Tokens: new(big.Int).Mul(big.NewInt(2857), models.OneToken()), ETH: big.NewInt(1e15),
		TradeUSD: decimal.RequireFromString("9.99"),
	}

	res, err := NewNotifyingSubmitter(stubSubmitter{}, s).Submit(context.Background(), q)
	if err != nil || res.TxHash != "0xabc" {
		t.Fatalf("submit: %v %+v", err, res)
	}
	if got := describeTrade(q, res); got != "sold 2857.00 shares for 0.001000 ETH (~$9.99) tx 0xabc" {
		t.Errorf("message %q", got)
	}

	stale := &tradeerr.StaleQuoteError{QuoteID: "q1"}
	if _, err := NewNotifyingSubmitter(stubSubmitter{err: stale}, s).Submit(context.Background(), q); err != stale {
		t.Fatalf("error not passed through: %v", err)
	}
}
