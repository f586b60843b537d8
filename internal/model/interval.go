package model

import (
	"errors"
	"fmt"
	"time"
)

var ErrInvalidInterval = errors.New("invalid interval")

// Interval is an exchange candle interval such as "1m" or "4h".
type Interval string

// Month is the calendar-month interval; its length varies.
const Month Interval = "1M"

var intervalDurations = map[Interval]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  3 * 24 * time.Hour,
	"1w":  7 * 24 * time.Hour,
}

// ParseInterval validates an interval string.
func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if i == Month {
		return i, nil
	}
	if _, ok := intervalDurations[i]; !ok {
		return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
	}
	return i, nil
}

// Duration returns the nominal interval length. Month reports 30 days.
func (i Interval) Duration() time.Duration {
	if i == Month {
		return 30 * 24 * time.Hour
	}
	return intervalDurations[i]
}

// NextOpen returns the open time (ms) of the candle following the one opened at openMs.
func (i Interval) NextOpen(openMs int64) int64 {
	if i == Month {
		return time.UnixMilli(openMs).UTC().AddDate(0, 1, 0).UnixMilli()
	}
	return openMs + intervalDurations[i].Milliseconds()
}

// CloseTime returns the close time (ms) of the candle opened at openMs, following the
// exchange convention close = next open - 1ms.
func (i Interval) CloseTime(openMs int64) int64 {
	return i.NextOpen(openMs) - 1
}

func (i Interval) String() string {
	return string(i)
}
