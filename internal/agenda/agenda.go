// Package agenda expands schedules across a date range into per-date
// occurrence lists. It is pure over already-fetched bundles; parallelizing
// per date is safe but the per-date occurrence order (habit entries first,
// then regular ones) is a contract callers render verbatim.
package agenda

import (
	"sort"
	"time"

	"wellbeat/internal/model"
	"wellbeat/internal/recurrence"
)

// Occurrence is one concrete calendar-date instance of a schedule.
type Occurrence struct {
	ScheduleID string
	UserID     string
	For        model.ScheduleFor
	Type       model.ScheduleType
	EntityID   string
	Date       time.Time

	Completed   int
	Total       int
	IsCompleted bool

	Reminders []model.Reminder

	// Habit fan-out only.
	HabitID    string
	HabitDayID string
	ToolkitID  string
	Title      string
}

// Expand walks every date of the inclusive [from, to] range against every
// non-habit schedule. Disabled schedules still yield occurrences strictly
// before their end date; that window gate lives in recurrence.OccursOn.
func Expand(bundles []model.ScheduleBundle, from, to time.Time) map[string][]Occurrence {
	out := map[string][]Occurrence{}
	start, end := model.Day(from), model.Day(to)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for _, b := range bundles {
			if b.Schedule.Type == model.Habit {
				continue
			}
			if !recurrence.OccursOn(b.Schedule, d) {
				continue
			}
			out[model.DayKey(d)] = append(out[model.DayKey(d)], occurrenceFor(b, d))
		}
	}
	return out
}

// ExpandHabit maps each date of the range onto a habit program's day plan.
// Day index is 1 on the start date. Absent or excluded day plans are
// skipped; present ones fan out one occurrence per toolkit, every one
// inheriting the parent schedule's reminders and session accounting but
// carrying its own toolkit reference and day identity.
func ExpandHabit(bundles []model.HabitBundle, from, to time.Time) map[string][]Occurrence {
	out := map[string][]Occurrence{}
	start, end := model.Day(from), model.Day(to)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		for _, b := range bundles {
			if !recurrence.OccursOn(b.Schedule, d) {
				continue
			}
			idx := model.DaysBetween(b.Schedule.StartDate, d) + 1
			plan, ok := b.DayPlan(idx)
			if !ok || b.ExcludedDay(plan.ID) {
				continue
			}
			base := occurrenceFor(b.ScheduleBundle, d)
			for _, tool := range plan.Tools {
				occ := base
				occ.HabitID = b.Schedule.ID
				occ.HabitDayID = plan.ID
				occ.ToolkitID = tool.ToolkitID
				occ.Title = tool.Title
				out[model.DayKey(d)] = append(out[model.DayKey(d)], occ)
			}
		}
	}
	return out
}

// Merge concatenates habit and regular occurrences per date, habit entries
// first. The ordering is a preserved behavioral contract, not a derivable
// property.
func Merge(habit, regular map[string][]Occurrence) map[string][]Occurrence {
	out := make(map[string][]Occurrence, len(habit)+len(regular))
	for day, occs := range habit {
		out[day] = append(out[day], occs...)
	}
	for day, occs := range regular {
		out[day] = append(out[day], occs...)
	}
	return out
}

// Page flattens a merged agenda by ascending date (merge order within a
// date) and slices it for the paged user-agenda read. page is 1-based.
func Page(byDay map[string][]Occurrence, page, limit int) (items []Occurrence, hasMore bool) {
	days := make([]string, 0, len(byDay))
	for day := range byDay {
		days = append(days, day)
	}
	sort.Strings(days)

	var flat []Occurrence
	for _, day := range days {
		flat = append(flat, byDay[day]...)
	}

	if page < 1 {
		page = 1
	}
	if limit <= 0 {
		return flat, false
	}
	lo := (page - 1) * limit
	if lo >= len(flat) {
		return nil, false
	}
	hi := lo + limit
	if hi > len(flat) {
		hi = len(flat)
	}
	return flat[lo:hi], hi < len(flat)
}

// Filter drops occurrences whose target kind is not in keep. An empty keep
// set keeps everything.
func Filter(byDay map[string][]Occurrence, keep []model.ScheduleFor) map[string][]Occurrence {
	if len(keep) == 0 {
		return byDay
	}
	want := map[model.ScheduleFor]bool{}
	for _, f := range keep {
		want[f] = true
	}
	out := make(map[string][]Occurrence, len(byDay))
	for day, occs := range byDay {
		for _, occ := range occs {
			if want[occ.For] {
				out[day] = append(out[day], occ)
			}
		}
	}
	return out
}

func occurrenceFor(b model.ScheduleBundle, day time.Time) Occurrence {
	total, completed := recurrence.CountSessions(b.Schedule, b.Sessions, day)
	quota := b.Schedule.RepeatPerDay
	if quota < 1 {
		quota = 1
	}
	return Occurrence{
		ScheduleID:  b.Schedule.ID,
		UserID:      b.Schedule.UserID,
		For:         b.Schedule.For,
		Type:        b.Schedule.Type,
		EntityID:    b.Schedule.EntityID,
		Date:        day,
		Completed:   completed,
		Total:       total,
		IsCompleted: completed >= quota,
		Reminders:   b.Reminders,
	}
}
