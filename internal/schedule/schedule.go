// Package schedule computes the next valid dispatch slot for a task given
// a schedule's IANA time zone and weekday/window rules. It is a pure
// function of its inputs: no I/O, no clock of its own.
package schedule

import (
	"fmt"
	"time"

	"github.com/acme/outbound-dialer/internal/domain"
)

// lookaheadDays bounds how far into the future NextValidSlot searches
// before giving up. A schedule with an empty Days list, or one whose
// window can never be satisfied, would otherwise loop forever.
const lookaheadDays = 14

var weekdayIndex = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// Validate checks that a schedule's rules are well-formed: at least one
// recognized weekday, and start/end times parseable as HH:MM.
func Validate(rules domain.ScheduleRules) error {
	if len(rules.Days) == 0 {
		return fmt.Errorf("schedule: no days configured")
	}
	for _, d := range rules.Days {
		if _, ok := weekdayIndex[d]; !ok {
			return fmt.Errorf("schedule: unrecognized day %q", d)
		}
	}
	if _, err := time.Parse("15:04", rules.StartTime); err != nil {
		return fmt.Errorf("schedule: invalid start_time %q: %w", rules.StartTime, err)
	}
	if _, err := time.Parse("15:04", rules.EndTime); err != nil {
		return fmt.Errorf("schedule: invalid end_time %q: %w", rules.EndTime, err)
	}
	return nil
}

// NextValidSlot returns the earliest instant at or after from that falls
// within an allowed weekday/window of the schedule, expressed in the
// schedule's own time zone. Windows that cross midnight (end strictly
// before start) are honored: a window opened on an allowed day stays
// open into the following day regardless of whether that following day
// is itself allowed. If from already sits inside a valid window, from
// is returned unchanged. When start_time == end_time the window
// collapses to a single instant: the only valid slot is that exact
// wall-clock instant on an allowed day, never a range.
func NextValidSlot(rules domain.ScheduleRules, tz string, from time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("schedule: invalid time zone %q: %w", tz, err)
	}
	if err := Validate(rules); err != nil {
		return time.Time{}, err
	}

	start, err := time.Parse("15:04", rules.StartTime)
	if err != nil {
		return time.Time{}, err
	}
	end, err := time.Parse("15:04", rules.EndTime)
	if err != nil {
		return time.Time{}, err
	}
	exactInstant := start.Equal(end)
	crossesMidnight := !exactInstant && end.Before(start)

	allowed := make(map[time.Weekday]bool, len(rules.Days))
	for _, d := range rules.Days {
		allowed[weekdayIndex[d]] = true
	}

	local := from.In(loc)

	// Start the scan one day back so a midnight-crossing window opened
	// "yesterday" (relative to local) is still considered.
	for day := -1; day <= lookaheadDays; day++ {
		anchor := local.AddDate(0, 0, day)
		if !allowed[anchor.Weekday()] {
			continue
		}

		windowStart := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), start.Hour(), start.Minute(), 0, 0, loc)

		if exactInstant {
			if local.Before(windowStart) {
				return windowStart, nil
			}
			if local.Equal(windowStart) {
				return local, nil
			}
			continue
		}

		windowEnd := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), end.Hour(), end.Minute(), 0, 0, loc)
		if crossesMidnight {
			windowEnd = windowEnd.AddDate(0, 0, 1)
		}

		if local.Before(windowStart) {
			return windowStart, nil
		}
		if local.Before(windowEnd) {
			return local, nil
		}
	}

	return time.Time{}, fmt.Errorf("schedule: no valid slot found within %d days", lookaheadDays)
}
