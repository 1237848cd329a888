package trade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/quote"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

// consumedTTL bounds how long spent quote IDs are remembered. It only needs
// to outlive the engine's quote max age.
const consumedTTL = time.Hour

// Sender signs and broadcasts. *ethereum.Client satisfies it.
type Sender interface {
	SignAndSend(ctx context.Context, to common.Address, value *big.Int, data []byte) (string, error)
	WalletAddress() common.Address
}

// Encoder builds curve calldata. *ethereum.Curve satisfies it.
type Encoder interface {
	Address() common.Address
	PackBuy(minTokensOut *big.Int) ([]byte, error)
	PackSell(tokensIn, minEthOut *big.Int) ([]byte, error)
	ExplorerURL(txHash string) string
}

// CooldownReader is satisfied by *risk.Guard.
type CooldownReader interface {
	CooldownRemaining(ctx context.Context, user common.Address) (time.Duration, error)
}

// Validator is satisfied by *quote.Engine.
type Validator interface {
	Revalidate(ctx context.Context, q *quote.Quote) error
}

type Result struct {
	QuoteID     string `json:"quoteId"`
	TxHash      string `json:"txHash"`
	ExplorerURL string `json:"explorerUrl"`
}

// Submitter sends quotes as transactions. Every quote is consumed on its
// first submission attempt whether or not the attempt succeeds.
type Submitter struct {
	sender    Sender
	encoder   Encoder
	validator Validator
	cooldown  CooldownReader
	now       func() time.Time

	mu       sync.Mutex
	consumed map[string]time.Time
}

func NewSubmitter(sender Sender, encoder Encoder, validator Validator) *Submitter {
	return &Submitter{
		sender:    sender,
		encoder:   encoder,
		validator: validator,
		now:       time.Now,
		consumed:  make(map[string]time.Time),
	}
}

func (s *Submitter) Submit(ctx context.Context, q *quote.Quote) (*Result, error) {
	if err := s.consume(q.ID); err != nil {
		return nil, err
	}
	if q.User != s.sender.WalletAddress() {
		return nil, &tradeerr.InvalidInputError{
			Field:  "user",
			Reason: fmt.Sprintf("quote is for %s but the signer is %s", q.User.Hex(), s.sender.WalletAddress().Hex()),
		}
	}

	if err := s.validator.Revalidate(ctx, q); err != nil {
		slog.Warn("quote failed revalidation", "quoteId", q.ID, "side", q.Side, "err", err)
		return nil, err
	}

	var (
		data  []byte
		value *big.Int
		err   error
	)
	switch q.Side {
	case models.SideBuy:
		data, err = s.encoder.PackBuy(q.MinBound)
		value = q.ETH
	case models.SideSell:
		data, err = s.encoder.PackSell(q.Tokens, q.MinBound)
		value = big.NewInt(0)
	default:
		return nil, &tradeerr.InvalidInputError{Field: "side", Reason: string(q.Side)}
	}
	if err != nil {
		return nil, err
	}

	hash, err := s.sender.SignAndSend(ctx, s.encoder.Address(), value, data)
	if err != nil {
		classified := tradeerr.ClassifyRevert(err)
		s.fillCooldown(ctx, q.User, classified)
		slog.Error("trade submission failed", "quoteId", q.ID, "side", q.Side, "err", classified)
		return nil, fmt.Errorf("submit %s: %w", q.Side, classified)
	}

	slog.Info("trade submitted",
		"quoteId", q.ID, "side", q.Side, "tokens", q.Tokens.String(),
		"eth", q.ETH.String(), "minBound", q.MinBound.String(), "tx", hash)

	return &Result{QuoteID: q.ID, TxHash: hash, ExplorerURL: s.encoder.ExplorerURL(hash)}, nil
}

// WithCooldown lets a cooldown revert report the time left, which the
// revert text does not carry.
func (s *Submitter) WithCooldown(c CooldownReader) *Submitter {
	s.cooldown = c
	return s
}

func (s *Submitter) fillCooldown(ctx context.Context, user common.Address, err error) {
	var cd *tradeerr.CooldownActiveError
	if s.cooldown == nil || !errors.As(err, &cd) || cd.Remaining > 0 {
		return
	}
	remaining, rerr := s.cooldown.CooldownRemaining(ctx, user)
	if rerr != nil {
		slog.Warn("cooldown read after revert failed", "user", user.Hex(), "err", rerr)
		return
	}
	cd.Remaining = remaining
}

// consume marks id as spent and prunes expired entries.
func (s *Submitter) consume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for k, at := range s.consumed {
		if now.Sub(at) > consumedTTL {
			delete(s.consumed, k)
		}
	}
	if _, seen := s.consumed[id]; seen {
		return &tradeerr.StaleQuoteError{QuoteID: id, Reason: "already submitted"}
	}
	s.consumed[id] = now
	return nil
}
