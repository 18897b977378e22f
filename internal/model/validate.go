package model

import (
	"time"
)

// Validate checks a schedule's recurrence fields before it is persisted or
// handed to cron construction. All failures wrap ErrBadRequest.
func Validate(s Schedule, now time.Time) error {
	if !s.Type.Valid() {
		return BadRequestf("unknown schedule type %q", s.Type)
	}
	if !s.For.Valid() {
		return BadRequestf("unknown schedule target %q", s.For)
	}
	if s.StartDate.IsZero() {
		return BadRequestf("start date required")
	}
	if s.HasEnd() && Day(s.EndDate).Before(Day(s.StartDate)) {
		return BadRequestf("end date %s precedes start date %s", DayKey(s.EndDate), DayKey(s.StartDate))
	}
	if s.RepeatPerDay < 1 || s.RepeatPerDay > 7 {
		return BadRequestf("repeat per day %d out of range [1,7]", s.RepeatPerDay)
	}

	switch s.Type {
	case Weekly:
		if len(s.ScheduleDays) == 0 {
			return BadRequestf("weekly schedule requires schedule days")
		}
		if len(s.RepeatPerMonth) != 0 {
			return BadRequestf("weekly schedule must not set repeat per month")
		}
		for _, d := range s.ScheduleDays {
			if !d.Valid() {
				return BadRequestf("invalid weekday token %q", d)
			}
		}
	case Monthly:
		if len(s.RepeatPerMonth) == 0 {
			return BadRequestf("monthly schedule requires repeat per month days")
		}
		if len(s.ScheduleDays) != 0 {
			return BadRequestf("monthly schedule must not set schedule days")
		}
		// Days are checked against the current month's length. For target
		// months shorter than the current one this lets through days that
		// will simply never occur there; kept for compatibility with the
		// historical behavior.
		maxDay := daysInMonth(now)
		for _, d := range s.RepeatPerMonth {
			if d < 1 || d > maxDay {
				return BadRequestf("day of month %d out of range [1,%d]", d, maxDay)
			}
		}
	case OneTime:
		if len(s.ScheduleDays) != 0 || len(s.RepeatPerMonth) != 0 {
			return BadRequestf("one-time schedule must not set day sets")
		}
		if s.RepeatPerDay > 1 {
			return BadRequestf("one-time schedule repeats at most once per day")
		}
	case Daily, Habit:
		if len(s.ScheduleDays) != 0 || len(s.RepeatPerMonth) != 0 {
			return BadRequestf("%s schedule must not set day sets", s.Type)
		}
	}
	return nil
}

func daysInMonth(t time.Time) int {
	y, m, _ := t.Date()
	return time.Date(y, m+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
