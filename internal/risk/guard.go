package risk

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

const (
	// SellCooldown is enforced by the contract between a user's sells.
	SellCooldown = time.Hour

	// DailyWindow matches the backend's rolling volume aggregate.
	DailyWindow = 24 * time.Hour

	TotalSupplyTokens = 1_000_000_000
	maxHoldingBps     = 500
)

// VolumeSource abstracts the backend aggregate of a user's realized USD
// volume over the last DailyWindow so Guard can be tested without HTTP or a
// database.
type VolumeSource interface {
	UsedVolumeUSD(ctx context.Context, user common.Address) (decimal.Decimal, error)
}

// ChainLimits is the on-chain half of the limit state.
type ChainLimits interface {
	DailySellLimitUSD(ctx context.Context) (*big.Int, error)
	LastSellTime(ctx context.Context, user common.Address) (*big.Int, error)
}

// Limits holds client-side thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxTradeUSD decimal.Decimal
}

// DailyLimitState is the advisory view of a user's daily allowance. LimitUSD
// is authoritative on-chain; UsedUSD is whatever the backend last recorded.
type DailyLimitState struct {
	UsedUSD     decimal.Decimal `json:"usedUsd"`
	LimitUSD    decimal.Decimal `json:"limitUsd"`
	WindowStart time.Time       `json:"windowStart"`
}

// Enabled reports whether the contract enforces a daily limit at all.
func (s DailyLimitState) Enabled() bool { return s.LimitUSD.IsPositive() }

// Remaining is the USD still tradable today, never negative.
func (s DailyLimitState) Remaining() decimal.Decimal {
	return decimal.Max(s.LimitUSD.Sub(s.UsedUSD), decimal.Zero)
}

type Guard struct {
	limits Limits
	chain  ChainLimits
	volume VolumeSource
	now    func() time.Time
}

func NewGuard(limits Limits, chain ChainLimits, volume VolumeSource) *Guard {
	return &Guard{limits: limits, chain: chain, volume: volume, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

// CheckTradeSize applies the optional per-trade USD ceiling.
func (g *Guard) CheckTradeSize(tradeUSD decimal.Decimal) error {
	if g.limits.MaxTradeUSD.IsPositive() && tradeUSD.GreaterThan(g.limits.MaxTradeUSD) {
		return &tradeerr.CapExceededError{
			Reason: tradeerr.ReasonTradeSize,
			Detail: fmt.Sprintf("trade $%s exceeds max $%s", tradeUSD.StringFixed(2), g.limits.MaxTradeUSD.StringFixed(2)),
		}
	}
	return nil
}

// DailyLimitState reads the on-chain limit and the backend's running total.
// A volume lookup failure is a TransportError: the check cannot be skipped.
func (g *Guard) DailyLimitState(ctx context.Context, user common.Address) (DailyLimitState, error) {
	rawLimit, err := g.chain.DailySellLimitUSD(ctx)
	if err != nil {
		return DailyLimitState{}, fmt.Errorf("read daily limit: %w", err)
	}
	state := DailyLimitState{
		LimitUSD:    models.USDFromFixed(rawLimit),
		WindowStart: g.now().Add(-DailyWindow).UTC(),
	}
	if !state.Enabled() {
		return state, nil
	}

	used, err := g.volume.UsedVolumeUSD(ctx, user)
	if err != nil {
		return DailyLimitState{}, tradeerr.Transport("daily volume", err)
	}
	state.UsedUSD = used
	return state, nil
}

// CheckDailyLimit fails when used + tradeUSD would exceed the contract's
// limit. Passing is advisory; the chain may still revert if the backend
// total lagged, which ClassifyRevert reports as a retryable cap.
func (g *Guard) CheckDailyLimit(ctx context.Context, tradeUSD decimal.Decimal, user common.Address) error {
	state, err := g.DailyLimitState(ctx, user)
	if err != nil {
		return err
	}
	if !state.Enabled() {
		return nil
	}
	if total := state.UsedUSD.Add(tradeUSD); total.GreaterThan(state.LimitUSD) {
		return &tradeerr.CapExceededError{
			Reason: tradeerr.ReasonDailyLimit,
			Detail: fmt.Sprintf("used $%s + trade $%s exceeds limit $%s",
				state.UsedUSD.StringFixed(2), tradeUSD.StringFixed(2), state.LimitUSD.StringFixed(2)),
		}
	}
	return nil
}

// CooldownRemaining is zero when the user may sell now.
func (g *Guard) CooldownRemaining(ctx context.Context, user common.Address) (time.Duration, error) {
	raw, err := g.chain.LastSellTime(ctx, user)
	if err != nil {
		return 0, fmt.Errorf("read last sell time: %w", err)
	}
	if raw.Sign() == 0 {
		return 0, nil
	}
	last := time.Unix(raw.Int64(), 0)
	remaining := last.Add(SellCooldown).Sub(g.now())
	if remaining <= 0 {
		return 0, nil
	}
	return remaining, nil
}

func (g *Guard) CheckCooldown(ctx context.Context, user common.Address) error {
	remaining, err := g.CooldownRemaining(ctx, user)
	if err != nil {
		return err
	}
	if remaining > 0 {
		return &tradeerr.CooldownActiveError{Remaining: remaining}
	}
	return nil
}

// MaxHoldingWei is the most any single wallet may hold: 5% of total supply.
func MaxHoldingWei() *big.Int {
	total := new(big.Int).Mul(big.NewInt(TotalSupplyTokens), models.OneToken())
	return total.Mul(total, big.NewInt(maxHoldingBps)).Div(total, big.NewInt(10_000))
}

// HoldingRoom is how many more token wei the user may acquire. It can be
// zero or negative when the wallet is already at or over the cap.
func HoldingRoom(balance *big.Int) *big.Int {
	return new(big.Int).Sub(MaxHoldingWei(), balance)
}
