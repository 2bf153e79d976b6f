// Package recurrence computes the next instant a reminder should fire.
//
// The resolver is a pure function over (reminder, now): no I/O, no state, so
// the calendar arithmetic is testable in isolation from timers and storage.
package recurrence

import (
	"time"

	"habitd/internal/model"
)

// weeklyProbeLimit bounds day-by-day probing; seven probes cover every weekday.
const weeklyProbeLimit = 7

// monthlyProbeLimit bounds month stepping. Two steps suffice in practice
// (current month passed, next month candidate); the rest is a safety margin.
const monthlyProbeLimit = 24

// NextFireTime returns the next instant at or after now at which the reminder
// should fire, honoring frequency, time-of-day, day-of-week set, timezone and
// active window. ok is false when the reminder has no next fire.
//
// The resolver assumes boundary-validated input but fails closed (returns
// ok=false) on malformed data it still encounters; it never panics.
func NextFireTime(r model.Reminder, now time.Time) (at time.Time, ok bool) {
	if !r.IsActive {
		return time.Time{}, false
	}
	if !r.TimeOfDay.Valid() {
		return time.Time{}, false
	}
	for _, d := range r.DaysOfWeek {
		if d < 0 || d > 6 {
			return time.Time{}, false
		}
	}
	if r.Window.End != nil && now.After(*r.Window.End) {
		return time.Time{}, false
	}

	loc := r.Location()
	start := r.Window.Start

	// Build the first candidate on the day of max(now, window start).
	base := now
	if start.After(now) {
		base = start
	}
	cand := atTimeOfDay(base.In(loc), r.TimeOfDay, loc)

	switch r.Frequency {
	case model.FrequencyOnce:
		if r.LastFiredAt != nil {
			return time.Time{}, false
		}
		if cand.Before(start) {
			cand = nextDay(cand, loc)
		}
		if !cand.After(now) {
			// A missed one-shot still fires once, immediately.
			cand = now
		}
		return checkEnd(cand, r.Window.End)

	case model.FrequencyDaily:
		cand = advancePast(cand, now, start, loc)
		return checkEnd(cand, r.Window.End)

	case model.FrequencyWeekly, model.FrequencyCustom:
		cand = advancePast(cand, now, start, loc)
		for i := 0; i < weeklyProbeLimit; i++ {
			if r.FiresOnWeekday(cand.In(loc).Weekday()) {
				return checkEnd(cand, r.Window.End)
			}
			cand = nextDay(cand, loc)
		}
		// Day set filtered every probe: nothing to schedule.
		return time.Time{}, false

	case model.FrequencyMonthly:
		// Anchor day-of-month comes from the window start in the reminder's
		// timezone; months shorter than the anchor clamp to their last day
		// (a reminder for the 31st fires Feb 28/29, Apr 30, ...).
		anchor := start.In(loc)
		if start.IsZero() {
			anchor = now.In(loc)
		}
		day := anchor.Day()
		local := base.In(loc)
		year, month := local.Year(), local.Month()
		for i := 0; i < monthlyProbeLimit; i++ {
			cand = clampedMonthDay(year, month, day, r.TimeOfDay, loc)
			if cand.After(now) && !cand.Before(start) {
				return checkEnd(cand, r.Window.End)
			}
			month++
			if month > time.December {
				month = time.January
				year++
			}
		}
		return time.Time{}, false
	}

	return time.Time{}, false
}

// atTimeOfDay places the reminder's wall-clock time on local's calendar day.
// time.Date normalizes nonexistent local times (DST spring-forward) forward.
func atTimeOfDay(local time.Time, tod model.TimeOfDay, loc *time.Location) time.Time {
	return time.Date(local.Year(), local.Month(), local.Day(), tod.Hour, tod.Minute, 0, 0, loc)
}

// nextDay advances one calendar day keeping the wall-clock time.
func nextDay(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day()+1, lt.Hour(), lt.Minute(), 0, 0, loc)
}

// advancePast steps the candidate forward by whole days until it is strictly
// after now and not before the window start.
func advancePast(cand, now, start time.Time, loc *time.Location) time.Time {
	for !cand.After(now) || cand.Before(start) {
		cand = nextDay(cand, loc)
	}
	return cand
}

func clampedMonthDay(year int, month time.Month, day int, tod model.TimeOfDay, loc *time.Location) time.Time {
	if last := daysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, tod.Hour, tod.Minute, 0, 0, loc)
}

func daysIn(year int, month time.Month) int {
	// Day 0 of the next month is the last day of this one.
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func checkEnd(cand time.Time, end *time.Time) (time.Time, bool) {
	if end != nil && cand.After(*end) {
		return time.Time{}, false
	}
	return cand, true
}
