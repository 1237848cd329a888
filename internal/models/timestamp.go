package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
// Seconds stay below it until the year 33658.
const epochMillisThreshold = 1_000_000_000_000

var localLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
}

// ParseTimestamp turns the timestamp shapes the backend emits into epoch
// seconds: a Jackson LocalDateTime array [y, M, d, h, m, s, nanos], an ISO
// string with or without zone, or epoch seconds/milliseconds as a number or
// numeric string. Zone-less values are UTC.
func ParseTimestamp(raw json.RawMessage) (int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0, fmt.Errorf("missing timestamp")
	}

	switch raw[0] {
	case '[':
		var parts []int
		if err := json.Unmarshal(raw, &parts); err != nil {
			return 0, fmt.Errorf("timestamp array: %w", err)
		}
		return fromDateParts(parts)
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return 0, fmt.Errorf("timestamp string: %w", err)
		}
		return parseTimestampString(s)
	default:
		return parseEpoch(string(raw))
	}
}

func fromDateParts(p []int) (int64, error) {
	if len(p) < 3 {
		return 0, fmt.Errorf("timestamp array needs at least [year, month, day], got %v", p)
	}
	get := func(i int) int {
		if i < len(p) {
			return p[i]
		}
		return 0
	}
	year, month, day, hour, minute, sec, nanos := p[0], get(1), get(2), get(3), get(4), get(5), get(6)
	t := time.Date(year, time.Month(month), day, hour, minute, sec, nanos, time.UTC)
	// time.Date normalises out-of-range parts; a value that does not
	// survive the round trip was not a real instant.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day ||
		t.Hour() != hour || t.Minute() != minute || t.Second() != sec ||
		nanos < 0 || nanos >= int(time.Second) {
		return 0, fmt.Errorf("timestamp array %v is out of range", p)
	}
	return t.Unix(), nil
}

func parseTimestampString(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timestamp")
	}
	if ts, err := parseEpoch(s); err == nil {
		return ts, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.Unix(), nil
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Unix(), nil
		}
	}
	return 0, fmt.Errorf("unparseable timestamp %q", s)
}

func parseEpoch(s string) (int64, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("timestamp %q: %w", s, err)
	}
	if f >= epochMillisThreshold {
		return int64(f / 1000), nil
	}
	return int64(f), nil
}
