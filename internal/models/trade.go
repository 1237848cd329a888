package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts the backend's eventType values in any case.
func ParseSide(s string) (Side, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "BUY":
		return SideBuy, nil
	case "SELL":
		return SideSell, nil
	}
	return "", fmt.Errorf("unknown side %q", s)
}

// TradeEvent is one executed trade as delivered by the live feed.
// TxHash is the identity key used for deduplication.
type TradeEvent struct {
	TxHash    string          `json:"txHash"`
	Timestamp int64           `json:"timestamp"` // epoch seconds
	PriceUSD  decimal.Decimal `json:"priceInUsd"`
	Amount    decimal.Decimal `json:"amount"`
	Side      Side            `json:"eventType"`
}

// Validate reports the first reason the event cannot be folded into a candle.
func (e TradeEvent) Validate() error {
	if e.Timestamp <= 0 {
		return fmt.Errorf("invalid timestamp %d", e.Timestamp)
	}
	if !e.PriceUSD.IsPositive() {
		return fmt.Errorf("invalid price %s", e.PriceUSD)
	}
	if e.Amount.IsNegative() {
		return fmt.Errorf("invalid amount %s", e.Amount)
	}
	if e.Side != SideBuy && e.Side != SideSell {
		return fmt.Errorf("invalid side %q", e.Side)
	}
	return nil
}
