package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/kjannette/shares-trader/internal/ethereum"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

// writeTradeError maps the trade error taxonomy onto HTTP statuses so the
// UI can branch on code without parsing messages.
func writeTradeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error(), Retryable: tradeerr.IsRetriable(err)}
	status := http.StatusInternalServerError

	var (
		invalid   *tradeerr.InvalidInputError
		zero      *tradeerr.ZeroPriceError
		capped    *tradeerr.CapExceededError
		cooldown  *tradeerr.CooldownActiveError
		liquidity *tradeerr.InsufficientLiquidityError
		stale     *tradeerr.StaleQuoteError
		transport *tradeerr.TransportError
	)
	switch {
	case errors.As(err, &invalid):
		status, resp.Code = http.StatusBadRequest, "invalid_input"
		resp.Reason = invalid.Field
	case errors.As(err, &zero):
		status, resp.Code = http.StatusServiceUnavailable, "zero_price"
	case errors.As(err, &capped):
		status, resp.Code = http.StatusUnprocessableEntity, "cap_exceeded"
		resp.Reason = string(capped.Reason)
	case errors.As(err, &cooldown):
		status, resp.Code = http.StatusTooManyRequests, "cooldown_active"
		// unknown remaining time leaves both out rather than claiming 0
		if secs := cooldown.RemainingSeconds(); secs > 0 {
			resp.RemainingSeconds = secs
			w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
		}
	case errors.As(err, &liquidity):
		status, resp.Code = http.StatusUnprocessableEntity, "insufficient_liquidity"
	case errors.As(err, &stale):
		status, resp.Code = http.StatusConflict, "stale_quote"
	case errors.As(err, &transport):
		status, resp.Code = http.StatusBadGateway, "transport"
	case errors.Is(err, ethereum.ErrReadOnly):
		status, resp.Code = http.StatusServiceUnavailable, "submission_disabled"
	default:
		resp.Code = "internal"
	}

	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "code", resp.Code, "err", err)
	} else {
		slog.Info("request rejected", "method", r.Method, "path", r.URL.Path, "code", resp.Code, "err", err)
	}
	writeJSON(w, status, resp)
}
