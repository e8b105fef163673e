package scheduler

import (
	"time"

	"github.com/okian/teamcomp/internal/domain/dedupe"
)

// Option applies a configuration option to the Scheduler.
type Option func(*Scheduler)

// WithInterval sets how often the calendar is checked.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithIngestMinute sets the minute of every hour from which ingestion runs.
func WithIngestMinute(m int) Option {
	return func(s *Scheduler) {
		if m >= 0 && m < 60 {
			s.ingestMinute = m
		}
	}
}

// WithMonthEndHour sets the hour of the last day of a month from which the
// month end runs.
func WithMonthEndHour(h int) Option {
	return func(s *Scheduler) {
		if h >= 0 && h < 24 {
			s.monthEndHour = h
		}
	}
}

// WithMonthStart toggles the first-of-month reset.
func WithMonthStart(enabled bool) Option {
	return func(s *Scheduler) {
		s.monthStartEnabled = enabled
	}
}

// WithMonthEnd toggles the month end.
func WithMonthEnd(enabled bool) Option {
	return func(s *Scheduler) {
		s.monthEndEnabled = enabled
	}
}

// WithIngest toggles the hourly ingestion.
func WithIngest(enabled bool) Option {
	return func(s *Scheduler) {
		s.ingestEnabled = enabled
	}
}

// WithDedupeSize bounds how many fired triggers are remembered.
func WithDedupeSize(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.dedupeSize = n
		}
	}
}

// WithDeduper replaces the trigger deduper.
func WithDeduper(d dedupe.Deduper) Option {
	return func(s *Scheduler) {
		s.deduper = d
	}
}

// WithLocation sets the time zone month boundaries are computed in.
func WithLocation(loc *time.Location) Option {
	return func(s *Scheduler) {
		if loc != nil {
			s.location = loc
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		if now != nil {
			s.now = now
		}
	}
}
