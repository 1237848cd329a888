package candles

import (
	"time"

	"github.com/kjannette/shares-trader/internal/models"
)

// DefaultRealtimeWindow is how far back the live aggregator is trusted.
const DefaultRealtimeWindow = 2 * time.Hour

// Merge takes historical candles before cutoff and live candles at or after
// it. The result is strictly increasing by BucketStart; when both sides
// hold the same bucket the live candle wins.
func Merge(historical, live models.CandleSeries, cutoff int64) models.CandleSeries {
	combined := make(models.CandleSeries, 0, len(historical)+len(live))
	for _, c := range historical {
		if c.BucketStart < cutoff {
			combined = append(combined, c)
		}
	}
	for _, c := range live {
		if c.BucketStart >= cutoff {
			combined = append(combined, c)
		}
	}
	return combined.Sorted()
}

// Cutoff is now minus window, aligned down to a tf bucket boundary so the
// boundary bucket is owned entirely by one side.
func Cutoff(now time.Time, window time.Duration, tf models.Timeframe) int64 {
	if window <= 0 {
		window = DefaultRealtimeWindow
	}
	return tf.BucketStart(now.Add(-window).Unix())
}
