package models

import (
	"fmt"
	"strings"
)

// Timeframe is a candle interval label, normalised to lower case ("5m", "1h", "1d").
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe30m Timeframe = "30m"
	Timeframe1h  Timeframe = "1h"
	Timeframe4h  Timeframe = "4h"
	Timeframe1d  Timeframe = "1d"
	Timeframe1w  Timeframe = "1w"
)

var timeframeSeconds = map[Timeframe]int64{
	Timeframe1m:  60,
	Timeframe5m:  300,
	Timeframe15m: 900,
	Timeframe30m: 1800,
	Timeframe1h:  3600,
	Timeframe4h:  14400,
	Timeframe1d:  86400,
	Timeframe1w:  604800,
}

// AllTimeframes lists the supported intervals in ascending order.
var AllTimeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m, Timeframe30m,
	Timeframe1h, Timeframe4h, Timeframe1d, Timeframe1w,
}

// ParseTimeframe accepts both the UI spelling ("1h") and the backend spelling ("1H").
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := timeframeSeconds[tf]; !ok {
		return "", fmt.Errorf("unsupported timeframe: %s", s)
	}
	return tf, nil
}

// Seconds returns the bucket width, or 0 for an unknown timeframe.
func (tf Timeframe) Seconds() int64 {
	return timeframeSeconds[tf]
}

func (tf Timeframe) Valid() bool {
	return tf.Seconds() > 0
}

// BucketStart floors ts (epoch seconds) to the start of its bucket.
func (tf Timeframe) BucketStart(ts int64) int64 {
	iv := tf.Seconds()
	if iv == 0 {
		return ts
	}
	b := ts / iv * iv
	if ts < 0 && ts%iv != 0 {
		b -= iv
	}
	return b
}

// BackendLabel is the spelling the backend's candle endpoint expects.
// Minute frames stay lower case, hour/day/week frames are upper case.
func (tf Timeframe) BackendLabel() string {
	s := string(tf)
	if strings.HasSuffix(s, "m") {
		return s
	}
	return strings.ToUpper(s)
}
