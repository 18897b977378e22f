// Package recurrence answers two pure questions about a schedule: does it
// occur on a given date, and how much of its session quota is done for the
// period containing that date. It never touches storage or clocks.
package recurrence

import (
	"time"

	"wellbeat/internal/model"
)

// OccursOn reports whether the schedule produces an occurrence on date.
//
// A schedule past its effective cutoff (explicitly disabled, or a habit
// program with an end date) still occurs strictly before that cutoff.
func OccursOn(s model.Schedule, date time.Time) bool {
	d := model.Day(date)
	if !withinCutoff(s, d) {
		return false
	}

	switch s.Type {
	case model.OneTime:
		return d.Equal(model.Day(s.StartDate))
	case model.Daily:
		return !d.Before(model.Day(s.StartDate))
	case model.Weekly:
		if d.Before(model.Day(s.StartDate)) {
			return false
		}
		want := model.WeekdayOf(d.Weekday())
		for _, wd := range s.ScheduleDays {
			if wd == want {
				return true
			}
		}
		return false
	case model.Monthly:
		for _, dom := range s.RepeatPerMonth {
			if d.Day() == dom {
				return true
			}
		}
		return false
	case model.Habit:
		if d.Before(model.Day(s.StartDate)) {
			return false
		}
		return true
	}
	return false
}

func withinCutoff(s model.Schedule, day time.Time) bool {
	if !s.HasEnd() {
		return true
	}
	if !s.Disabled && s.Type != model.Habit {
		return true
	}
	// Strictly before the cutoff: the end date itself no longer occurs.
	return day.Before(model.Day(s.EndDate))
}

// CountSessions counts completion evidence for the period containing target.
//
// The counting window depends on the schedule type: the target day for
// ONE_TIME and HABIT, the ISO week (Monday..Sunday) for DAILY and WEEKLY, the
// calendar month for MONTHLY. Monthly counting only credits sessions that
// fell on a listed day of month.
//
// completed is the raw in-window count divided (integer division) by the
// per-day repeat quota, so a day only counts once all its repeats are done.
func CountSessions(s model.Schedule, sessions []model.Session, target time.Time) (total, completed int) {
	perDay := s.RepeatPerDay
	if perDay < 1 {
		perDay = 1
	}

	from, to := window(s.Type, target)
	raw := 0
	for _, sess := range sessions {
		d := model.Day(sess.Date)
		if d.Before(from) || !d.Before(to) {
			continue
		}
		if s.Type == model.Monthly && !containsInt(s.RepeatPerMonth, d.Day()) {
			continue
		}
		raw++
	}

	completed = raw / perDay

	switch s.Type {
	case model.Weekly:
		total = len(s.ScheduleDays)
	case model.Monthly:
		total = len(s.RepeatPerMonth)
	case model.Daily:
		total = 7
	default:
		total = perDay
	}
	if total == 0 {
		total = 1
	}
	return total, completed
}

// window returns the half-open [from, to) counting window for the type.
func window(t model.ScheduleType, target time.Time) (from, to time.Time) {
	d := model.Day(target)
	switch t {
	case model.Daily, model.Weekly:
		// ISO week: Monday start.
		shift := (int(d.Weekday()) + 6) % 7
		from = d.AddDate(0, 0, -shift)
		return from, from.AddDate(0, 0, 7)
	case model.Monthly:
		from = time.Date(d.Year(), d.Month(), 1, 0, 0, 0, 0, time.UTC)
		return from, from.AddDate(0, 1, 0)
	default:
		return d, d.AddDate(0, 0, 1)
	}
}

func containsInt(xs []int, v int) bool {
	for _, x := range xs {
		if x == v {
			return true
		}
	}
	return false
}
