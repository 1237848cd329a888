package httputil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kjannette/shares-trader/internal/tradeerr"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

var DefaultRetry = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   1 * time.Second,
	MaxDelay:    10 * time.Second,
}

// Do executes an HTTP request with exponential backoff retry. Server errors
// and 429 are retried; a 429 Retry-After header overrides the backoff delay
// (capped at MaxDelay). Any other status is returned to the caller as-is.
//
// buildReq is called on each attempt because request bodies are consumed.
// When every attempt fails the error is a *tradeerr.TransportError tagged op.
func Do(ctx context.Context, client *http.Client, cfg RetryConfig, op string, buildReq func() (*http.Request, error)) (*http.Response, error) {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultRetry.MaxAttempts
	}

	var lastErr error
	delay := cfg.BaseDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		req, err := buildReq()
		if err != nil {
			return nil, fmt.Errorf("build request: %w", err)
		}

		resp, err := client.Do(req)
		if err == nil && !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		wait := delay
		if err != nil {
			lastErr = err
		} else {
			if ra, ok := retryAfter(resp); ok {
				wait = min(ra, cfg.MaxDelay)
			}
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			resp.Body.Close()
			lastErr = fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		slog.Warn("http attempt failed, retrying",
			"op", op, "attempt", attempt, "max", cfg.MaxAttempts, "wait", wait, "err", lastErr)

		select {
		case <-ctx.Done():
			return nil, tradeerr.Transport(op, ctx.Err())
		case <-time.After(wait):
		}

		delay *= 2
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return nil, tradeerr.Transport(op, fmt.Errorf("all %d attempts failed, last error: %w", cfg.MaxAttempts, lastErr))
}

func retryableStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

func retryAfter(resp *http.Response) (time.Duration, bool) {
	if resp.StatusCode != http.StatusTooManyRequests {
		return 0, false
	}
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second, true
	}
	if at, err := http.ParseTime(v); err == nil {
		return max(time.Until(at), 0), true
	}
	return 0, false
}
