package models

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// The curve contract reports USD values (price, ETH/USD, daily limit) as
// 8-decimal fixed point, and token/ETH amounts in 18-decimal wei.
const (
	USDDecimals   = 8
	TokenDecimals = 18
)

var oneToken = new(big.Int).Exp(big.NewInt(10), big.NewInt(TokenDecimals), nil)

// OneToken returns 1e18 as a fresh big.Int.
func OneToken() *big.Int { return new(big.Int).Set(oneToken) }

// USDFromFixed converts an 8-decimal on-chain value into dollars.
func USDFromFixed(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -USDDecimals)
}

// USDToFixed converts dollars into 8-decimal fixed point, truncating.
func USDToFixed(d decimal.Decimal) *big.Int {
	return d.Shift(USDDecimals).BigInt()
}

// FromWei converts an 18-decimal amount (ETH or tokens) to a decimal.
func FromWei(v *big.Int) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(v, -TokenDecimals)
}

// ToWei converts a decimal amount to 18-decimal units, truncating.
func ToWei(d decimal.Decimal) *big.Int {
	return d.Shift(TokenDecimals).BigInt()
}
