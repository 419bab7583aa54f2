package utils

import (
	"errors"
	"fmt"
	"time"
)

// ParseTimestamp parses an RFC 3339 timestamp, fractional seconds allowed, and returns it in UTC.
func ParseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty time value")
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time: %w", err)
	}
	return t.UTC(), nil
}

// Window is the span of acceptable timestamps around a reference instant.
type Window struct {
	// Past is how far before the reference a timestamp may lie.
	Past time.Duration
	// Future is how far after the reference a timestamp may lie.
	Future time.Duration
}

// Bounds returns the oldest and newest accepted instants for reference now.
func (w Window) Bounds(now time.Time) (oldest, newest time.Time) {
	return now.Add(-w.Past), now.Add(w.Future)
}

// Contains reports whether t lies within the window around now, bounds inclusive.
func (w Window) Contains(t, now time.Time) bool {
	oldest, newest := w.Bounds(now)
	return !t.Before(oldest) && !t.After(newest)
}

// Span is the total width of the window.
func (w Window) Span() time.Duration {
	return w.Past + w.Future
}
