package metrics

import (
	"fmt"
	"time"
)

// Duration is a span reported both as raw milliseconds and as HH:MM:SS.
type Duration struct {
	Ms   int64  `json:"ms"`
	Text string `json:"text"`
}

func newDuration(d time.Duration) Duration {
	if d < 0 {
		d = 0
	}
	return Duration{Ms: d.Milliseconds(), Text: FormatHMS(d)}
}

// FormatHMS renders d as zero-padded HH:MM:SS. Hours are not capped at 99.
func FormatHMS(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", secs/3600, secs%3600/60, secs%60)
}

// stat accumulates strictly positive durations.
type stat struct {
	count int
	total time.Duration
	max   time.Duration
}

func (s *stat) add(d time.Duration, times int) {
	if d <= 0 || times <= 0 {
		return
	}
	s.count += times
	s.total += d * time.Duration(times)
	if d > s.max {
		s.max = d
	}
}

func (s stat) average() Duration {
	if s.count == 0 {
		return newDuration(0)
	}
	return newDuration(s.total / time.Duration(s.count))
}

func (s stat) maximum() Duration {
	return newDuration(s.max)
}

func optTime(t time.Time, ok bool) *time.Time {
	if !ok {
		return nil
	}
	return &t
}
