// Package utils provides small shared helpers (date conversions).
package utils

import (
	"fmt"
	"time"
)

// DateLayout is the canonical calendar-day representation used across the engine.
const DateLayout = "2006-01-02"

// ParseDate parses a canonical YYYY-MM-DD string into midnight UTC.
func ParseDate(date string) (time.Time, error) {
	t, err := time.Parse(DateLayout, date)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD): %w", date, err)
	}
	return t, nil
}

// DateToUnix converts a YYYY-MM-DD string to a unix timestamp at midnight UTC.
func DateToUnix(date string) (int64, error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, err
	}
	return t.Unix(), nil
}

// UnixToDate converts a unix timestamp back to the canonical YYYY-MM-DD form.
func UnixToDate(ts int64) string {
	return time.Unix(ts, 0).UTC().Format(DateLayout)
}

// Today returns the current UTC date in canonical form.
func Today() string {
	return time.Now().UTC().Format(DateLayout)
}

// AddDays shifts a canonical date by n calendar days.
func AddDays(date string, n int) (string, error) {
	t, err := ParseDate(date)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 0, n).Format(DateLayout), nil
}

// ISOWeek returns the ISO year and week of a canonical date. Used by the
// weekly resolution to pick the last trading day of each week.
func ISOWeek(date string) (year, week int, err error) {
	t, err := ParseDate(date)
	if err != nil {
		return 0, 0, err
	}
	y, w := t.ISOWeek()
	return y, w, nil
}
