// Package tradeerr holds the error taxonomy shared by quoting, limits,
// submission and the live feed. Every failure a user can act on maps to
// exactly one of these types so the UI can render a specific message.
package tradeerr

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// RetriableError is implemented by errors where repeating the same request
// later may succeed.
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// CapReason names the limit that bound or rejected a trade.
type CapReason string

const (
	ReasonCurveSupply  CapReason = "curve_supply"
	ReasonHoldingLimit CapReason = "holding_limit"
	ReasonDailyLimit   CapReason = "daily_limit"
	ReasonBalance      CapReason = "balance"
	ReasonTradeSize    CapReason = "trade_size"
)

// InvalidInputError rejects a request before any network call.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ZeroPriceError means no usable price could be derived from the curve.
type ZeroPriceError struct {
	Reason string
}

func (e *ZeroPriceError) Error() string {
	return "price unavailable: " + e.Reason
}

// CapExceededError is a curve, holding, balance or daily cap rejection.
// Retryable is set when the off-chain view of the cap may simply be stale.
type CapExceededError struct {
	Reason    CapReason
	Detail    string
	Retryable bool
}

func (e *CapExceededError) Error() string {
	if e.Detail == "" {
		return "cap exceeded: " + string(e.Reason)
	}
	return fmt.Sprintf("cap exceeded (%s): %s", e.Reason, e.Detail)
}

func (e *CapExceededError) IsRetriable() bool { return e.Retryable }

// CooldownActiveError carries the time left before the next sell.
type CooldownActiveError struct {
	Remaining time.Duration
}

// Remaining is zero when it is unknown, e.g. from a revert message.
func (e *CooldownActiveError) Error() string {
	if e.Remaining <= 0 {
		return "sell cooldown active: remaining time unknown"
	}
	return fmt.Sprintf("sell cooldown active: %ds remaining", e.RemainingSeconds())
}

func (e *CooldownActiveError) IsRetriable() bool { return true }

// RemainingSeconds rounds up so the UI never shows 0 while still blocked.
func (e *CooldownActiveError) RemainingSeconds() int64 {
	s := int64(e.Remaining / time.Second)
	if e.Remaining%time.Second > 0 {
		s++
	}
	return s
}

// InsufficientLiquidityError means the contract cannot pay out a sell.
type InsufficientLiquidityError struct {
	NeededWei    *big.Int
	AvailableWei *big.Int
}

func (e *InsufficientLiquidityError) Error() string {
	if e.NeededWei == nil || e.AvailableWei == nil {
		return "insufficient contract liquidity"
	}
	return fmt.Sprintf("insufficient contract liquidity: need %s wei, have %s wei", e.NeededWei, e.AvailableWei)
}

// StaleQuoteError means chain state moved between quote and submission,
// or the quote was already used. The caller must request a new quote.
type StaleQuoteError struct {
	QuoteID string
	Reason  string
}

func (e *StaleQuoteError) Error() string {
	return fmt.Sprintf("quote %s is stale: %s", e.QuoteID, e.Reason)
}

func (e *StaleQuoteError) IsRetriable() bool { return true }

// FeedParseError is logged and dropped by the feed; it never reaches the UI.
type FeedParseError struct {
	Payload string
	Err     error
}

func (e *FeedParseError) Error() string {
	return "feed parse: " + e.Err.Error()
}

func (e *FeedParseError) Unwrap() error { return e.Err }

// TransportError is an RPC, HTTP or websocket failure that survived retries.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error { return e.Err }

func (e *TransportError) IsRetriable() bool { return true }

// Transport wraps err as a TransportError unless it already is one.
func Transport(op string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}
