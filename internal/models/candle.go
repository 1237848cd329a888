package models

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Candle is one OHLCV bucket. BucketStart is epoch seconds.
type Candle struct {
	BucketStart int64           `json:"time"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	Volume      decimal.Decimal `json:"volume"`
	LastSide    Side            `json:"lastSide,omitempty"`
}

// Consistent reports whether low <= {open, close} <= high.
func (c Candle) Consistent() bool {
	return c.Low.LessThanOrEqual(c.Open) && c.Low.LessThanOrEqual(c.Close) &&
		c.High.GreaterThanOrEqual(c.Open) && c.High.GreaterThanOrEqual(c.Close)
}

// Normalized widens high/low so the candle satisfies Consistent.
func (c Candle) Normalized() Candle {
	c.High = decimal.Max(c.High, c.Open, c.Close)
	c.Low = decimal.Min(c.Low, c.Open, c.Close)
	return c
}

// CandleSeries is ordered by BucketStart with at most one candle per bucket.
type CandleSeries []Candle

// Sorted returns a copy ordered by BucketStart. When two candles share a
// bucket the later one in the input wins.
func (s CandleSeries) Sorted() CandleSeries {
	byBucket := make(map[int64]Candle, len(s))
	for _, c := range s {
		byBucket[c.BucketStart] = c
	}
	out := make(CandleSeries, 0, len(byBucket))
	for _, c := range byBucket {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BucketStart < out[j].BucketStart })
	return out
}

// StrictlyIncreasing reports whether bucket starts strictly increase.
func (s CandleSeries) StrictlyIncreasing() bool {
	for i := 1; i < len(s); i++ {
		if s[i].BucketStart <= s[i-1].BucketStart {
			return false
		}
	}
	return true
}

// Last returns the newest candle, if any.
func (s CandleSeries) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}
