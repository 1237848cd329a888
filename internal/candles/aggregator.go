// Package candles folds live trades into OHLCV buckets and merges them with
// backend history at a cutoff.
package candles

import (
	"log/slog"

	"github.com/kjannette/shares-trader/internal/models"
)

const DefaultDedupCapacity = 4096

// Aggregator holds live candles per timeframe. It is not safe for
// concurrent use; the market controller's event loop owns it.
type Aggregator struct {
	capacity int
	buckets  map[models.Timeframe]map[int64]models.Candle
	seen     map[models.Timeframe]*txRing
}

func NewAggregator(dedupCapacity int) *Aggregator {
	if dedupCapacity <= 0 {
		dedupCapacity = DefaultDedupCapacity
	}
	return &Aggregator{
		capacity: dedupCapacity,
		buckets:  make(map[models.Timeframe]map[int64]models.Candle),
		seen:     make(map[models.Timeframe]*txRing),
	}
}

// Ingest folds ev into its bucket and returns the resulting candle. The
// bool is false when nothing changed: the event was malformed or its tx
// hash was already applied for this timeframe. Events without a tx hash
// are applied but cannot be deduplicated.
func (a *Aggregator) Ingest(ev models.TradeEvent, tf models.Timeframe) (models.Candle, bool) {
	if !tf.Valid() {
		slog.Warn("trade dropped: unknown timeframe", "timeframe", tf, "tx", ev.TxHash)
		return models.Candle{}, false
	}
	if err := ev.Validate(); err != nil {
		slog.Warn("trade dropped: malformed event", "tx", ev.TxHash, "err", err)
		return models.Candle{}, false
	}

	buckets := a.bucketsFor(tf)
	start := tf.BucketStart(ev.Timestamp)

	if ev.TxHash != "" {
		ring := a.ringFor(tf)
		if ring.Seen(ev.TxHash) {
			slog.Debug("trade ignored: duplicate tx", "tx", ev.TxHash, "timeframe", tf)
			return buckets[start], false
		}
		ring.Add(ev.TxHash)
	}

	c, ok := buckets[start]
	if !ok {
		c = models.Candle{
			BucketStart: start,
			Open:        ev.PriceUSD,
			High:        ev.PriceUSD,
			Low:         ev.PriceUSD,
			Close:       ev.PriceUSD,
			Volume:      ev.Amount,
			LastSide:    ev.Side,
		}
	} else {
		if ev.PriceUSD.GreaterThan(c.High) {
			c.High = ev.PriceUSD
		}
		if ev.PriceUSD.LessThan(c.Low) {
			c.Low = ev.PriceUSD
		}
		c.Close = ev.PriceUSD
		c.Volume = c.Volume.Add(ev.Amount)
		c.LastSide = ev.Side
	}
	buckets[start] = c
	return c, true
}

// Reset discards all live candles and remembered tx hashes for tf.
func (a *Aggregator) Reset(tf models.Timeframe) {
	delete(a.buckets, tf)
	delete(a.seen, tf)
}

// Series returns the live candles for tf in time order.
func (a *Aggregator) Series(tf models.Timeframe) models.CandleSeries {
	buckets := a.buckets[tf]
	out := make(models.CandleSeries, 0, len(buckets))
	for _, c := range buckets {
		out = append(out, c)
	}
	return out.Sorted()
}

// Seed loads backend candles into the live window. Every bucket the
// backend reports replaces the live one, so a bucket that counted a trade
// twice (once from history, once from the feed) is repaired by the next
// load. Buckets the backend has not written yet stay live.
func (a *Aggregator) Seed(tf models.Timeframe, history models.CandleSeries) {
	if !tf.Valid() {
		return
	}
	buckets := a.bucketsFor(tf)
	for _, h := range history {
		h.BucketStart = tf.BucketStart(h.BucketStart)
		buckets[h.BucketStart] = h.Normalized()
	}
}

// Prune drops candles that start before the given epoch second.
func (a *Aggregator) Prune(tf models.Timeframe, before int64) int {
	buckets := a.buckets[tf]
	n := 0
	for start := range buckets {
		if start < before {
			delete(buckets, start)
			n++
		}
	}
	return n
}

func (a *Aggregator) bucketsFor(tf models.Timeframe) map[int64]models.Candle {
	b, ok := a.buckets[tf]
	if !ok {
		b = make(map[int64]models.Candle)
		a.buckets[tf] = b
	}
	return b
}

func (a *Aggregator) ringFor(tf models.Timeframe) *txRing {
	r, ok := a.seen[tf]
	if !ok {
		r = newTxRing(a.capacity)
		a.seen[tf] = r
	}
	return r
}
