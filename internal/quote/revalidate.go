package quote

import (
	"context"
	"fmt"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/risk"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

// Revalidate re-reads chain state immediately before submission. It fails
// with StaleQuoteError when the quote is older than the engine's max age or
// the transaction it describes would no longer clear its own bound or caps.
// A stale quote must be discarded and re-requested.
func (e *Engine) Revalidate(ctx context.Context, q *Quote) error {
	if e.maxAge > 0 && q.Age(e.now()) > e.maxAge {
		return &tradeerr.StaleQuoteError{QuoteID: q.ID, Reason: fmt.Sprintf("older than %s", e.maxAge)}
	}
	switch q.Side {
	case models.SideBuy:
		return e.revalidateBuy(ctx, q)
	case models.SideSell:
		return e.revalidateSell(ctx, q)
	default:
		return &tradeerr.InvalidInputError{Field: "side", Reason: string(q.Side)}
	}
}

func (e *Engine) revalidateBuy(ctx context.Context, q *Quote) error {
	st, err := e.readBuyState(ctx, q.User)
	if err != nil {
		return err
	}

	tokensNow, err := e.curve.TokensForEth(ctx, q.ETH)
	if err != nil {
		return fmt.Errorf("read tokens for eth: %w", err)
	}
	if tokensNow.Cmp(q.MinBound) < 0 {
		return &tradeerr.StaleQuoteError{QuoteID: q.ID, Reason: "price moved beyond slippage"}
	}
	if q.Tokens.Cmp(st.tokensInCurve) > 0 {
		return &tradeerr.StaleQuoteError{QuoteID: q.ID, Reason: "curve supply dropped below quoted amount"}
	}
	if q.Tokens.Cmp(risk.HoldingRoom(st.balance)) > 0 {
		return &tradeerr.StaleQuoteError{QuoteID: q.ID, Reason: "holding limit no longer fits quoted amount"}
	}

	return e.limits.CheckDailyLimit(ctx, q.TradeUSD, q.User)
}

func (e *Engine) revalidateSell(ctx context.Context, q *Quote) error {
	if err := e.limits.CheckCooldown(ctx, q.User); err != nil {
		return err
	}

	balance, err := e.curve.BalanceOf(ctx, q.User)
	if err != nil {
		return fmt.Errorf("read balance: %w", err)
	}
	if balance.Cmp(q.Tokens) < 0 {
		return &tradeerr.StaleQuoteError{QuoteID: q.ID, Reason: "balance dropped below quoted amount"}
	}

	_, _, payout, err := e.sellProceeds(ctx, q.Tokens)
	if err != nil {
		return err
	}
	if payout.Cmp(q.MinBound) < 0 {
		return &tradeerr.StaleQuoteError{QuoteID: q.ID, Reason: "price moved beyond slippage"}
	}

	available, err := e.curve.ContractETHBalance(ctx)
	if err != nil {
		return err
	}
	if available.Cmp(payout) < 0 {
		return &tradeerr.InsufficientLiquidityError{NeededWei: payout, AvailableWei: available}
	}

	return e.limits.CheckDailyLimit(ctx, q.TradeUSD, q.User)
}
