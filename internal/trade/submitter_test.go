package trade

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

var (
	wallet   = common.HexToAddress("0x3333333333333333333333333333333333333333")
	contract = common.HexToAddress("0x2222222222222222222222222222222222222222")
)

type mockSender struct {
	err   error
	sent  int
	value *big.Int
	data  []byte
}

func (m *mockSender) SignAndSend(_ context.Context, to common.Address, value *big.Int, data []byte) (string, error) {
	m.sent++
	m.value, m.data = value, data
	if m.err != nil {
		return "", m.err
	}
	return "0xabc", nil
}

func (m *mockSender) WalletAddress() common.Address { return wallet }

type mockEncoder struct{}

func (mockEncoder) Address() common.Address { return contract }
func (mockEncoder) PackBuy(min *big.Int) ([]byte, error) {
	return append([]byte("buy:"), min.Bytes()...), nil
}
func (mockEncoder) PackSell(in, min *big.Int) ([]byte, error) {
	return append(append([]byte("sell:"), in.Bytes()...), min.Bytes()...), nil
}
func (mockEncoder) ExplorerURL(h string) string { return "https://explorer/" + h }

type mockValidator struct {
	err   error
	calls int
}

func (m *mockValidator) Revalidate(context.Context, *quote.Quote) error {
	m.calls++
	return m.err
}

func buyQuote(id string) *quote.Quote {
	return &quote.Quote{
		ID:       id,
		Side:     models.SideBuy,
		User:     wallet,
		Tokens:   big.NewInt(1000),
		ETH:      big.NewInt(77),
		Fee:      big.NewInt(1),
		MinBound: big.NewInt(980),
	}
}

func TestSubmit_BuySendsValueAndMinTokens(t *testing.T) {
	sender := &mockSender{}
	s := NewSubmitter(sender, mockEncoder{}, &mockValidator{})

	res, err := s.Submit(context.Background(), buyQuote("q1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.TxHash != "0xabc" || res.ExplorerURL != "https://explorer/0xabc" {
		t.Fatalf("unexpected result %+v", res)
	}
	if sender.value.Int64() != 77 {
		t.Fatalf("buy must send the quoted ETH, got %s", sender.value)
	}
	if string(sender.data[:4]) != "buy:" {
		t.Fatalf("expected buy calldata, got %q", sender.data)
	}
}

func TestSubmit_SellSendsNoValue(t *testing.T) {
	sender := &mockSender{}
	s := NewSubmitter(sender, mockEncoder{}, &mockValidator{})

	q := buyQuote("q-sell")
	q.Side = models.SideSell
	if _, err := s.Submit(context.Background(), q); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sender.value.Sign() != 0 {
		t.Fatalf("sell must not send ETH, got %s", sender.value)
	}
}

func TestSubmit_QuoteIsSingleUse(t *testing.T) {
	sender := &mockSender{err: errors.New("nonce too low")}
	s := NewSubmitter(sender, mockEncoder{}, &mockValidator{})

	if _, err := s.Submit(context.Background(), buyQuote("q2")); err == nil {
		t.Fatal("expected send failure")
	}
	sender.err = nil
	_, err := s.Submit(context.Background(), buyQuote("q2"))

	var stale *tradeerr.StaleQuoteError
	if !errors.As(err, &stale) {
		t.Fatalf("second submission must be rejected as stale, got %v", err)
	}
	if sender.sent != 1 {
		t.Fatalf("expected exactly one send, got %d", sender.sent)
	}
}

func TestSubmit_RevalidationFailureBlocksSend(t *testing.T) {
	sender := &mockSender{}
	v := &mockValidator{err: &tradeerr.StaleQuoteError{QuoteID: "q3", Reason: "price moved beyond slippage"}}
	s := NewSubmitter(sender, mockEncoder{}, v)

	_, err := s.Submit(context.Background(), buyQuote("q3"))
	if !tradeerr.IsRetriable(err) {
		t.Fatalf("stale quote should be retriable with a new quote, got %v", err)
	}
	if sender.sent != 0 {
		t.Fatal("nothing may be sent after failed revalidation")
	}
}

func TestSubmit_ClassifiesDailyLimitRevert(t *testing.T) {
	sender := &mockSender{err: errors.New("execution reverted: Daily sell limit exceeded")}
	s := NewSubmitter(sender, mockEncoder{}, &mockValidator{})

	_, err := s.Submit(context.Background(), buyQuote("q4"))
	var capErr *tradeerr.CapExceededError
	if !errors.As(err, &capErr) || capErr.Reason != tradeerr.ReasonDailyLimit {
		t.Fatalf("expected daily CapExceededError, got %v", err)
	}
	if !tradeerr.IsRetriable(err) {
		t.Fatal("on-chain daily limit revert should be retriable")
	}
	t.Logf("Classified: %v", err)
}

func TestSubmit_WrongSigner(t *testing.T) {
	s := NewSubmitter(&mockSender{}, mockEncoder{}, &mockValidator{})
	q := buyQuote("q5")
	q.User = common.HexToAddress("0x4444444444444444444444444444444444444444")

	var inv *tradeerr.InvalidInputError
	if _, err := s.Submit(context.Background(), q); !errors.As(err, &inv) {
		t.Fatalf("expected InvalidInputError, got %v", err)
	}
}

type mockCooldown struct {
	remaining time.Duration
	err       error
	calls     int
}

func (m *mockCooldown) CooldownRemaining(context.Context, common.Address) (time.Duration, error) {
	m.calls++
	return m.remaining, m.err
}

func TestSubmit_CooldownRevertReportsRemaining(t *testing.T) {
	sender := &mockSender{err: errors.New("execution reverted: Sell cooldown active")}
	cooldown := &mockCooldown{remaining: 25 * time.Minute}
	s := NewSubmitter(sender, mockEncoder{}, &mockValidator{}).WithCooldown(cooldown)

	q := buyQuote("q6")
	q.Side = models.SideSell
	_, err := s.Submit(context.Background(), q)

	var cd *tradeerr.CooldownActiveError
	if !errors.As(err, &cd) {
		t.Fatalf("expected CooldownActiveError, got %v", err)
	}
	if cooldown.calls != 1 || cd.RemainingSeconds() != 1500 {
		t.Fatalf("remaining %ds after %d reads, want 1500s", cd.RemainingSeconds(), cooldown.calls)
	}
	t.Logf("Classified: %v", err)
}

func TestSubmit_CooldownRevertUnknownWhenReadFails(t *testing.T) {
	sender := &mockSender{err: errors.New("execution reverted: Sell cooldown active")}
	cooldown := &mockCooldown{err: errors.New("rpc down")}
	s := NewSubmitter(sender, mockEncoder{}, &mockValidator{}).WithCooldown(cooldown)

	q := buyQuote("q7")
	q.Side = models.SideSell
	_, err := s.Submit(context.Background(), q)

	var cd *tradeerr.CooldownActiveError
	if !errors.As(err, &cd) || cd.Remaining != 0 {
		t.Fatalf("expected cooldown with unknown remaining, got %v", err)
	}
	if want := "remaining time unknown"; !strings.Contains(err.Error(), want) {
		t.Fatalf("error %q should say %q", err, want)
	}
}
