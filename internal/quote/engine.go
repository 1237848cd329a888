package quote

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/risk"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

// CurveReader is the contract read surface the engine needs.
// *ethereum.Curve satisfies it.
type CurveReader interface {
	TokensInCurve(ctx context.Context) (*big.Int, error)
	BalanceOf(ctx context.Context, user common.Address) (*big.Int, error)
	CurrentPriceMicroUSD(ctx context.Context) (*big.Int, error)
	EthUsdPrice(ctx context.Context) (*big.Int, error)
	BuyFeeBps(ctx context.Context) (*big.Int, error)
	SellFeeBps(ctx context.Context, tokens *big.Int) (*big.Int, error)
	TokensForEth(ctx context.Context, wei *big.Int) (*big.Int, error)
	EthForTokens(ctx context.Context, tokens *big.Int) (*big.Int, error)
	EthNeededForBuy(ctx context.Context, tokens *big.Int) (*big.Int, error)
	ContractETHBalance(ctx context.Context) (*big.Int, error)
}

// LimitChecker is satisfied by *risk.Guard.
type LimitChecker interface {
	CheckTradeSize(tradeUSD decimal.Decimal) error
	CheckDailyLimit(ctx context.Context, tradeUSD decimal.Decimal, user common.Address) error
	CheckCooldown(ctx context.Context, user common.Address) error
}

type Engine struct {
	curve  CurveReader
	limits LimitChecker
	maxAge time.Duration
	now    func() time.Time
}

func NewEngine(curve CurveReader, limits LimitChecker, maxAge time.Duration) *Engine {
	return &Engine{curve: curve, limits: limits, maxAge: maxAge, now: time.Now}
}

// WithClock replaces the wall clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

func (e *Engine) MaxAge() time.Duration { return e.maxAge }

type buyState struct {
	tokensInCurve *big.Int
	balance       *big.Int
	priceMicro    *big.Int
	ethUSDRaw     *big.Int
	buyFeeBps     *big.Int
}

// QuoteBuy prices spending usdAmount on tokens. Caps are applied in order:
// remaining curve supply, then the 5% holding limit. When either binds, ETH
// is re-read for the capped amount with getEthNeededForBuy.
func (e *Engine) QuoteBuy(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*Quote, error) {
	if err := validate(usdAmount, slippagePct, user); err != nil {
		return nil, err
	}

	st, err := e.readBuyState(ctx, user)
	if err != nil {
		return nil, err
	}

	ethUSD := models.USDFromFixed(st.ethUSDRaw)
	if !ethUSD.IsPositive() {
		return nil, &tradeerr.ZeroPriceError{Reason: "ETH/USD oracle returned 0"}
	}

	price := models.USDFromFixed(st.priceMicro)
	estimated := false
	if price.IsZero() && st.tokensInCurve.Sign() > 0 {
		price = EstimatedPrice(st.tokensInCurve)
		estimated = true
		slog.Warn("on-chain price is 0, using curve-progress estimate",
			"tokensInCurve", st.tokensInCurve.String(), "estimatedPriceUsd", price.String())
	}
	if !price.IsPositive() {
		return nil, &tradeerr.ZeroPriceError{Reason: "price is 0 and the curve is empty"}
	}

	feeBps := st.buyFeeBps.Int64()
	if feeBps < 0 || feeBps >= feeDenomBps {
		return nil, fmt.Errorf("buy fee %d bps out of range", feeBps)
	}
	ethIn := models.ToWei(GrossUpForFee(EthBeforeFee(usdAmount, ethUSD), feeBps))

	tokensOut, err := e.curve.TokensForEth(ctx, ethIn)
	if err != nil {
		return nil, fmt.Errorf("read tokens for eth: %w", err)
	}
	if tokensOut.Sign() <= 0 {
		return nil, &tradeerr.InvalidInputError{Field: "usdAmount", Reason: "too small to buy any tokens"}
	}

	var reason tradeerr.CapReason
	if tokensOut.Cmp(st.tokensInCurve) > 0 {
		if st.tokensInCurve.Sign() == 0 {
			return nil, &tradeerr.CapExceededError{Reason: tradeerr.ReasonCurveSupply, Detail: "no tokens left in curve"}
		}
		tokensOut = new(big.Int).Set(st.tokensInCurve)
		reason = tradeerr.ReasonCurveSupply
	}
	room := risk.HoldingRoom(st.balance)
	if room.Sign() <= 0 {
		return nil, &tradeerr.CapExceededError{Reason: tradeerr.ReasonHoldingLimit, Detail: "wallet already at the 5% holding limit"}
	}
	if tokensOut.Cmp(room) > 0 {
		tokensOut = room
		reason = tradeerr.ReasonHoldingLimit
	}

	capped := reason != ""
	if capped {
		ethIn, err = e.curve.EthNeededForBuy(ctx, tokensOut)
		if err != nil {
			return nil, fmt.Errorf("read eth needed for capped buy: %w", err)
		}
	}

	tradeUSD := models.FromWei(ethIn).Mul(ethUSD)
	if err := e.limits.CheckTradeSize(tradeUSD); err != nil {
		return nil, err
	}
	if err := e.limits.CheckDailyLimit(ctx, tradeUSD, user); err != nil {
		return nil, err
	}

	return &Quote{
		ID:             uuid.NewString(),
		Side:           models.SideBuy,
		User:           user,
		USDAmount:      usdAmount,
		SlippagePct:    slippagePct,
		Tokens:         tokensOut,
		ETH:            ethIn,
		Fee:            bps(ethIn, st.buyFeeBps),
		MinBound:       applySlippage(tokensOut, slippagePct),
		Capped:         capped,
		CapReason:      reason,
		PriceUSD:       price,
		PriceEstimated: estimated,
		EthUSD:         ethUSD,
		TradeUSD:       tradeUSD,
		CreatedAt:      e.now(),
	}, nil
}

// QuoteSell prices selling usdAmount worth of whole tokens at the marginal
// price (ETH for exactly one token), capped to the user's balance.
func (e *Engine) QuoteSell(ctx context.Context, usdAmount, slippagePct decimal.Decimal, user common.Address) (*Quote, error) {
	if err := validate(usdAmount, slippagePct, user); err != nil {
		return nil, err
	}

	if err := e.limits.CheckCooldown(ctx, user); err != nil {
		return nil, err
	}

	var balance, ethUSDRaw, ethForOne *big.Int
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		balance, err = e.curve.BalanceOf(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		ethUSDRaw, err = e.curve.EthUsdPrice(gctx)
		return err
	})
	g.Go(func() (err error) {
		ethForOne, err = e.curve.EthForTokens(gctx, models.OneToken())
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read sell state: %w", err)
	}

	ethUSD := models.USDFromFixed(ethUSDRaw)
	marginal := models.FromWei(ethForOne).Mul(ethUSD)
	if !marginal.IsPositive() {
		return nil, &tradeerr.ZeroPriceError{Reason: "marginal sell price is 0"}
	}

	whole := usdAmount.Div(marginal).Floor().BigInt()
	held := new(big.Int).Div(balance, models.OneToken())
	var reason tradeerr.CapReason
	if whole.Cmp(held) > 0 {
		whole = held
		reason = tradeerr.ReasonBalance
	}
	if whole.Sign() <= 0 {
		if held.Sign() == 0 {
			return nil, &tradeerr.CapExceededError{Reason: tradeerr.ReasonBalance, Detail: "no whole shares to sell"}
		}
		return nil, &tradeerr.InvalidInputError{Field: "usdAmount", Reason: "less than the price of one share"}
	}
	tokensIn := new(big.Int).Mul(whole, models.OneToken())

	gross, fee, payout, err := e.sellProceeds(ctx, tokensIn)
	if err != nil {
		return nil, err
	}

	available, err := e.curve.ContractETHBalance(ctx)
	if err != nil {
		return nil, err
	}
	if available.Cmp(payout) < 0 {
		return nil, &tradeerr.InsufficientLiquidityError{NeededWei: payout, AvailableWei: available}
	}

	tradeUSD := models.FromWei(payout).Mul(ethUSD)
	if err := e.limits.CheckTradeSize(tradeUSD); err != nil {
		return nil, err
	}
	if err := e.limits.CheckDailyLimit(ctx, tradeUSD, user); err != nil {
		return nil, err
	}

	slog.Debug("sell quote",
		"user", user.Hex(), "tokensIn", tokensIn.String(), "gross", gross.String(),
		"fee", fee.String(), "payout", payout.String(), "marginalUsd", marginal.String())

	return &Quote{
		ID:          uuid.NewString(),
		Side:        models.SideSell,
		User:        user,
		USDAmount:   usdAmount,
		SlippagePct: slippagePct,
		Tokens:      tokensIn,
		ETH:         payout,
		Fee:         fee,
		MinBound:    applySlippage(payout, slippagePct),
		Capped:      reason != "",
		CapReason:   reason,
		PriceUSD:    marginal,
		EthUSD:      ethUSD,
		TradeUSD:    tradeUSD,
		CreatedAt:   e.now(),
	}, nil
}

func (e *Engine) readBuyState(ctx context.Context, user common.Address) (*buyState, error) {
	st := &buyState{}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		st.tokensInCurve, err = e.curve.TokensInCurve(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.balance, err = e.curve.BalanceOf(gctx, user)
		return err
	})
	g.Go(func() (err error) {
		st.priceMicro, err = e.curve.CurrentPriceMicroUSD(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.ethUSDRaw, err = e.curve.EthUsdPrice(gctx)
		return err
	})
	g.Go(func() (err error) {
		st.buyFeeBps, err = e.curve.BuyFeeBps(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("read buy state: %w", err)
	}
	return st, nil
}

// sellProceeds returns gross ETH, fee and net payout for tokensIn.
func (e *Engine) sellProceeds(ctx context.Context, tokensIn *big.Int) (gross, fee, payout *big.Int, err error) {
	gross, err = e.curve.EthForTokens(ctx, tokensIn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read eth for tokens: %w", err)
	}
	feeBps, err := e.curve.SellFeeBps(ctx, tokensIn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("read sell fee: %w", err)
	}
	fee = bps(gross, feeBps)
	if fee.Cmp(gross) > 0 {
		return nil, nil, nil, &tradeerr.ZeroPriceError{Reason: "sell fee exceeds proceeds"}
	}
	return gross, fee, new(big.Int).Sub(gross, fee), nil
}

func validate(usdAmount, slippagePct decimal.Decimal, user common.Address) error {
	if !usdAmount.IsPositive() {
		return &tradeerr.InvalidInputError{Field: "usdAmount", Reason: "must be greater than 0"}
	}
	if slippagePct.IsNegative() || slippagePct.GreaterThan(hundred) {
		return &tradeerr.InvalidInputError{Field: "slippagePct", Reason: "must be within [0, 100]"}
	}
	if user == (common.Address{}) {
		return &tradeerr.InvalidInputError{Field: "user", Reason: "zero address"}
	}
	return nil
}
