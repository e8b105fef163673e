// Package calendar answers the month-boundary questions the lifecycle
// triggers depend on.
package calendar

import (
	"fmt"
	"time"
)

// IsFirstDayOfMonth reports whether t falls on the first day of its month.
func IsFirstDayOfMonth(t time.Time) bool {
	return t.Day() == 1
}

// IsLastDayOfMonth reports whether t falls on the last day of its month.
func IsLastDayOfMonth(t time.Time) bool {
	return t.Day() == DaysIn(t.Year(), t.Month())
}

// DaysIn returns the number of days in month of year.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// Period formats the year and month of t as YYYY-MM.
func Period(t time.Time) string {
	return fmt.Sprintf("%04d-%02d", t.Year(), int(t.Month()))
}
