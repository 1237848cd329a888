package external

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/httputil"
	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

type BackendOptions struct {
	BaseURL    string
	Token      string
	CandlePath string
	VolumePath string
}

// BackendClient reads candle history and per-user trade volume from the
// platform backend's REST API.
type BackendClient struct {
	httpClient *http.Client
	retry      httputil.RetryConfig
	opts       BackendOptions
}

func NewBackendClient(opts BackendOptions) *BackendClient {
	if opts.CandlePath == "" {
		opts.CandlePath = "/api/artists/candleData"
	}
	if opts.VolumePath == "" {
		opts.VolumePath = "/api/blockchain/financials/by-user/"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	return &BackendClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    10 * time.Second,
		},
		opts: opts,
	}
}

// WithRetry overrides the retry policy, mainly so tests run fast.
func (c *BackendClient) WithRetry(cfg httputil.RetryConfig) *BackendClient {
	c.retry = cfg
	return c
}

type backendCandle struct {
	Timestamp     json.RawMessage `json:"timestamp"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	Close         decimal.Decimal `json:"close"`
	Volume        decimal.Decimal `json:"volume"`
	LastEventType string          `json:"lastEventType"`
}

// FetchCandles returns the backend's candles for an artist and timeframe,
// sorted and deduplicated by bucket. Rows with an unreadable timestamp are
// skipped.
func (c *BackendClient) FetchCandles(ctx context.Context, artistID string, tf models.Timeframe) (models.CandleSeries, error) {
	q := url.Values{}
	q.Set("artistId", artistID)
	q.Set("timeframe", tf.BackendLabel())
	endpoint := c.opts.BaseURL + c.opts.CandlePath + "?" + q.Encode()

	var rows []backendCandle
	if err := c.getJSON(ctx, "fetch candles", endpoint, &rows); err != nil {
		return nil, err
	}

	out := make(models.CandleSeries, 0, len(rows))
	skipped := 0
	for _, r := range rows {
		ts, err := models.ParseTimestamp(r.Timestamp)
		if err != nil {
			skipped++
			continue
		}
		side, _ := models.ParseSide(r.LastEventType)
		out = append(out, models.Candle{
			BucketStart: tf.BucketStart(ts),
			Open:        r.Open,
			High:        r.High,
			Low:         r.Low,
			Close:       r.Close,
			Volume:      r.Volume,
			LastSide:    side,
		}.Normalized())
	}
	if skipped > 0 {
		slog.Warn("skipped backend candles with bad timestamps",
			"artist", artistID, "timeframe", tf, "skipped", skipped)
	}
	return out.Sorted(), nil
}

// UsedVolumeUSD returns the user's realized USD volume over the backend's
// rolling 24h window.
func (c *BackendClient) UsedVolumeUSD(ctx context.Context, user common.Address) (decimal.Decimal, error) {
	endpoint := c.opts.BaseURL + c.opts.VolumePath + url.PathEscape(user.Hex())

	var used decimal.NullDecimal
	if err := c.getJSON(ctx, "fetch daily volume", endpoint, &used); err != nil {
		return decimal.Zero, err
	}
	if !used.Valid {
		return decimal.Zero, nil
	}
	return used.Decimal, nil
}

func (c *BackendClient) getJSON(ctx context.Context, op, endpoint string, dst any) error {
	resp, err := httputil.Do(ctx, c.httpClient, c.retry, op, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if c.opts.Token != "" {
			req.Header.Set("Authorization", "Bearer "+c.opts.Token)
		}
		return req, nil
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return tradeerr.Transport(op, fmt.Errorf("backend returned status %d: %s", resp.StatusCode, string(body)))
	}

	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		return fmt.Errorf("%s: decode: %w", op, err)
	}
	return nil
}
