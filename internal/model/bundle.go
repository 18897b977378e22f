package model

// ScheduleBundle is the read model the store returns for agenda expansion: a
// schedule with its reminders and the sessions overlapping the queried range.
type ScheduleBundle struct {
	Schedule  Schedule
	Reminders []Reminder
	Sessions  []Session
}

// HabitBundle extends ScheduleBundle with the habit program's day-plans and
// the requesting user's exclusions.
type HabitBundle struct {
	ScheduleBundle
	Days       []HabitDay
	Exclusions []HabitDayExclusion
}

// ExcludedDay reports whether a habit day-plan is hidden for this bundle.
func (b HabitBundle) ExcludedDay(habitDayID string) bool {
	for _, ex := range b.Exclusions {
		if ex.HabitDayID == habitDayID {
			return true
		}
	}
	return false
}

// DayPlan returns the plan for day index n (1-based), if any.
func (b HabitBundle) DayPlan(n int) (HabitDay, bool) {
	for _, d := range b.Days {
		if d.Day == n {
			return d, true
		}
	}
	return HabitDay{}, false
}
