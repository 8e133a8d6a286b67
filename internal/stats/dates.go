package stats

import (
	"fmt"
	"time"
)

// ParseDate parses a YYYY-MM-DD date. The empty string yields the zero time.
func ParseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return t, nil
}

// ParseDateRange turns inclusive start and end dates into the half-open
// [from, until) range used to list activities. Either side may be empty.
func ParseDateRange(start, end string) (from, until time.Time, err error) {
	if from, err = ParseDate(start); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing start date: %w", err)
	}
	if until, err = ParseDate(end); err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parsing end date: %w", err)
	}
	if !until.IsZero() {
		until = until.AddDate(0, 0, 1)
	}
	if !from.IsZero() && !until.IsZero() && !from.Before(until) {
		return time.Time{}, time.Time{}, fmt.Errorf("start date %s is after end date %s", start, end)
	}
	return from, until, nil
}
