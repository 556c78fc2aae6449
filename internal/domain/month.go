package domain

import (
	"fmt"
	"strings"
	"time"
)

// MonthLayout is the canonical textual form of a calendar month.
const MonthLayout = "2006-01"

// MonthStart normalises t to the first day of its month, 00:00 UTC.
func MonthStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

// AddMonths shifts a month by n calendar months.
func AddMonths(month time.Time, n int) time.Time {
	m := MonthStart(month)
	return time.Date(m.Year(), m.Month()+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
}

// MonthsBetween returns the number of whole months from a to b (b - a).
func MonthsBetween(a, b time.Time) int {
	a, b = MonthStart(a), MonthStart(b)
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// DaysIn returns the number of days in the month containing t.
func DaysIn(t time.Time) int {
	return AddMonths(t, 1).AddDate(0, 0, -1).Day()
}

// FormatMonth renders a month as YYYY-MM.
func FormatMonth(t time.Time) string {
	return MonthStart(t).Format(MonthLayout)
}

// ParseMonth accepts YYYY-MM (or a full YYYY-MM-DD date) and returns the month start.
func ParseMonth(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty value", ErrInvalidMonth)
	}

	for _, layout := range []string{MonthLayout, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return MonthStart(t), nil
		}
	}

	return time.Time{}, fmt.Errorf("%w: %q (expected YYYY-MM)", ErrInvalidMonth, s)
}
