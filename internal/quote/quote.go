// Package quote prices and caps bonding-curve trades from a fresh read of
// on-chain state. Quotes are immutable values; a quote is valid for one
// submission attempt and must pass Revalidate first.
package quote

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

const (
	targetFDVUSD = 1000
	feeDenomBps  = 10_000
)

var (
	hundred     = decimal.NewFromInt(100)
	totalSupply = decimal.NewFromInt(1_000_000_000)
)

type Quote struct {
	ID          string
	Side        models.Side
	User        common.Address
	USDAmount   decimal.Decimal
	SlippagePct decimal.Decimal

	// Tokens is tokensOut for a buy and tokensIn for a sell, in token wei.
	Tokens *big.Int
	// ETH is the value to send for a buy (fee included) or the net payout
	// of a sell (fee deducted), in wei.
	ETH *big.Int
	// Fee is the fee portion in wei.
	Fee *big.Int
	// MinBound is minTokensOut for a buy and minEthOut for a sell.
	MinBound *big.Int

	Capped    bool
	CapReason tradeerr.CapReason

	// PriceUSD is the spot price for a buy and the marginal one-token price
	// for a sell. PriceEstimated marks the curve-progress fallback.
	PriceUSD       decimal.Decimal
	PriceEstimated bool
	EthUSD         decimal.Decimal
	TradeUSD       decimal.Decimal

	CreatedAt time.Time
}

// SameTerms reports whether two quotes would submit identical transactions,
// ignoring identity and creation time.
func (q *Quote) SameTerms(o *Quote) bool {
	return q.Side == o.Side &&
		q.User == o.User &&
		q.USDAmount.Equal(o.USDAmount) &&
		q.SlippagePct.Equal(o.SlippagePct) &&
		q.Tokens.Cmp(o.Tokens) == 0 &&
		q.ETH.Cmp(o.ETH) == 0 &&
		q.Fee.Cmp(o.Fee) == 0 &&
		q.MinBound.Cmp(o.MinBound) == 0 &&
		q.Capped == o.Capped &&
		q.CapReason == o.CapReason &&
		q.PriceUSD.Equal(o.PriceUSD) &&
		q.PriceEstimated == o.PriceEstimated &&
		q.TradeUSD.Equal(o.TradeUSD)
}

// Age is how long ago the quote was produced relative to now.
func (q *Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.CreatedAt)
}

// EthBeforeFee converts a USD amount to ETH at the oracle price.
func EthBeforeFee(usd, ethUSD decimal.Decimal) decimal.Decimal {
	return usd.DivRound(ethUSD, models.TokenDecimals)
}

// GrossUpForFee returns the ETH to send so that eth remains after a fee of
// feeBps is taken from the total.
func GrossUpForFee(eth decimal.Decimal, feeBps int64) decimal.Decimal {
	return eth.Mul(decimal.NewFromInt(feeDenomBps)).
		DivRound(decimal.NewFromInt(feeDenomBps-feeBps), models.TokenDecimals)
}

// EstimatedPrice is the degraded price used when the contract reports 0:
// price = (tokensInCurve / totalSupply) * targetFDV / totalSupply.
func EstimatedPrice(tokensInCurve *big.Int) decimal.Decimal {
	progress := models.FromWei(tokensInCurve).DivRound(totalSupply, 30)
	return progress.Mul(decimal.NewFromInt(targetFDVUSD)).DivRound(totalSupply, 30)
}

// applySlippage returns floor(v * (100 - pct) / 100).
func applySlippage(v *big.Int, pct decimal.Decimal) *big.Int {
	return decimal.NewFromBigInt(v, 0).
		Mul(hundred.Sub(pct)).
		DivRound(hundred, 8).
		Floor().
		BigInt()
}

// bps returns floor(v * bps / 10000).
func bps(v, feeBps *big.Int) *big.Int {
	out := new(big.Int).Mul(v, feeBps)
	return out.Div(out, big.NewInt(feeDenomBps))
}
