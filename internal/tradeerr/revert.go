package tradeerr

import (
	"strings"
)

type revertRule struct {
	needles []string
	build   func(msg string) error
}

// Matched against the lower-cased revert text; all needles must be present.
var revertRules = []revertRule{
	{[]string{"daily", "limit"}, func(msg string) error {
		return &CapExceededError{Reason: ReasonDailyLimit, Detail: msg, Retryable: true}
	}},
	{[]string{"cooldown"}, func(msg string) error {
		return &CooldownActiveError{}
	}},
	{[]string{"max", "holding"}, func(msg string) error {
		return &CapExceededError{Reason: ReasonHoldingLimit, Detail: msg}
	}},
	{[]string{"exceeds", "curve"}, func(msg string) error {
		return &CapExceededError{Reason: ReasonCurveSupply, Detail: msg}
	}},
	{[]string{"insufficient", "eth"}, func(msg string) error {
		return &InsufficientLiquidityError{}
	}},
	{[]string{"slippage"}, func(msg string) error {
		return &StaleQuoteError{Reason: msg}
	}},
	{[]string{"insufficient", "balance"}, func(msg string) error {
		return &CapExceededError{Reason: ReasonBalance, Detail: msg}
	}},
}

// ClassifyRevert maps a submission failure onto the taxonomy when its revert
// reason matches a known cap or cooldown message. Unknown failures are
// returned unchanged so they surface verbatim.
func ClassifyRevert(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	lower := strings.ToLower(msg)
	if !strings.Contains(lower, "revert") {
		return err
	}
	for _, r := range revertRules {
		if containsAll(lower, r.needles) {
			return &classified{kind: r.build(msg), cause: err}
		}
	}
	return err
}

func containsAll(s string, needles []string) bool {
	for _, n := range needles {
		if !strings.Contains(s, n) {
			return false
		}
	}
	return true
}

// classified keeps the original revert error reachable through Unwrap while
// errors.As still finds the taxonomy type.
type classified struct {
	kind  error
	cause error
}

func (c *classified) Error() string { return c.kind.Error() + " (" + c.cause.Error() + ")" }

func (c *classified) Unwrap() []error { return []error{c.kind, c.cause} }
