package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/kjannette/shares-trader/internal/models"
	"github.com/kjannette/shares-trader/internal/tradeerr"
)

// CandleRepo reads the backend's persisted candles directly. It satisfies
// market.HistorySource in database mode.
type CandleRepo struct {
	pool *pgxpool.Pool
}

func NewCandleRepo(pool *pgxpool.Pool) *CandleRepo {
	return &CandleRepo{pool: pool}
}

// FetchCandles returns every stored candle for the artist and timeframe,
// oldest first. Timestamps are stored as UTC wall-clock values.
func (r *CandleRepo) FetchCandles(ctx context.Context, artistID string, tf models.Timeframe) (models.CandleSeries, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT timestamp, open::text, high::text, low::text, close::text, volume::text,
		        COALESCE(last_event_type::text, '')
		 FROM candle_data
		 WHERE artist_id = $1 AND timeframe::text = $2
		 ORDER BY timestamp ASC`,
		artistID, tf.BackendLabel(),
	)
	if err != nil {
		return nil, tradeerr.Transport("query candle_data", err)
	}
	defer rows.Close()

	series, err := collectCandles(rows, tf)
	if err != nil {
		return nil, tradeerr.Transport("scan candle_data", err)
	}
	return series.Sorted(), nil
}

// --- scan helpers ---

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func collectCandles(rows rowsIter, tf models.Timeframe) (models.CandleSeries, error) {
	var out models.CandleSeries
	for rows.Next() {
		var ts time.Time
		var o, h, l, c, v, lastSide string
		if err := rows.Scan(&ts, &o, &h, &l, &c, &v, &lastSide); err != nil {
			return nil, err
		}
		candle, err := buildCandle(ts, tf, o, h, l, c, v, lastSide)
		if err != nil {
			slog.Warn("skipping malformed stored candle", "timeframe", tf, "timestamp", ts, "err", err)
			continue
		}
		out = append(out, candle)
	}
	return out, rows.Err()
}

func buildCandle(ts time.Time, tf models.Timeframe, o, h, l, c, v, lastSide string) (models.Candle, error) {
	var fields [5]decimal.Decimal
	for i, s := range []string{o, h, l, c, v} {
		d, err := decimal.NewFromString(s)
		if err != nil {
			return models.Candle{}, fmt.Errorf("column %d: %w", i, err)
		}
		fields[i] = d
	}
	candle := models.Candle{
		BucketStart: tf.BucketStart(ts.Unix()),
		Open:        fields[0],
		High:        fields[1],
		Low:         fields[2],
		Close:       fields[3],
		Volume:      fields[4],
	}
	if lastSide != "" {
		if side, err := models.ParseSide(lastSide); err == nil {
			candle.LastSide = side
		}
	}
	return candle.Normalized(), nil
}
