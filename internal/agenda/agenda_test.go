package agenda

import (
	"testing"
	"time"

	"wellbeat/internal/model"
)

func day(s string) time.Time {
	t, err := model.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func dailyBundle(id string) model.ScheduleBundle {
	return model.ScheduleBundle{
		Schedule: model.Schedule{
			ID:           id,
			UserID:       "u1",
			For:          model.ForCheckIn,
			Type:         model.Daily,
			StartDate:    day("2024-01-01"),
			RepeatPerDay: 1,
		},
	}
}

func habitBundle(id string) model.HabitBundle {
	return model.HabitBundle{
		ScheduleBundle: model.ScheduleBundle{
			Schedule: model.Schedule{
				ID:           id,
				UserID:       "u1",
				For:          model.ForToolKit,
				Type:         model.Habit,
				StartDate:    day("2024-01-01"),
				RepeatPerDay: 1,
			},
		},
		Days: []model.HabitDay{
			{ID: "hd1", ScheduleID: id, Day: 1, Tools: []model.HabitTool{
				{ID: "t1", ToolkitID: "tk-breathe", Title: "Breathing"},
			}},
			{ID: "hd3", ScheduleID: id, Day: 3, Tools: []model.HabitTool{
				{ID: "t2", ToolkitID: "tk-walk", Title: "Walk"},
				{ID: "t3", ToolkitID: "tk-journal", Title: "Journal"},
			}},
		},
	}
}

func TestExpandHabitDayIndex(t *testing.T) {
	t.Parallel()
	out := ExpandHabit([]model.HabitBundle{habitBundle("h1")}, day("2024-01-01"), day("2024-01-04"))

	if got := len(out["2024-01-01"]); got != 1 {
		t.Fatalf("day 1 occurrences = %d, want 1", got)
	}
	if _, ok := out["2024-01-02"]; ok {
		t.Fatal("day 2 has no plan and must produce nothing")
	}
	// Start 2024-01-01 makes 2024-01-03 day index 3, which fans out per tool.
	day3 := out["2024-01-03"]
	if len(day3) != 2 {
		t.Fatalf("day 3 occurrences = %d, want 2", len(day3))
	}
	for _, occ := range day3 {
		if occ.HabitDayID != "hd3" || occ.HabitID != "h1" {
			t.Fatalf("occurrence carries wrong habit identity: %+v", occ)
		}
	}
	if day3[0].ToolkitID == day3[1].ToolkitID {
		t.Fatal("fan-out must keep one occurrence per toolkit")
	}
	if _, ok := out["2024-01-04"]; ok {
		t.Fatal("day 4 has no plan and must produce nothing")
	}
}

func TestExpandHabitExclusion(t *testing.T) {
	t.Parallel()
	b := habitBundle("h1")
	b.Exclusions = []model.HabitDayExclusion{{ScheduleID: "h1", UserID: "u1", HabitDayID: "hd3"}}

	out := ExpandHabit([]model.HabitBundle{b}, day("2024-01-01"), day("2024-01-05"))
	if _, ok := out["2024-01-03"]; ok {
		t.Fatal("excluded day plan must not appear")
	}
	if len(out["2024-01-01"]) != 1 {
		t.Fatal("non-excluded days must still appear")
	}
}

func TestExpandSkipsHabitSchedules(t *testing.T) {
	t.Parallel()
	bundles := []model.ScheduleBundle{
		dailyBundle("s1"),
		habitBundle("h1").ScheduleBundle,
	}
	out := Expand(bundles, day("2024-01-01"), day("2024-01-01"))
	occs := out["2024-01-01"]
	if len(occs) != 1 || occs[0].ScheduleID != "s1" {
		t.Fatalf("expected only the regular schedule, got %+v", occs)
	}
}

func TestExpandDisabledWithEndTomorrow(t *testing.T) {
	t.Parallel()
	b := dailyBundle("s1")
	b.Schedule.Disabled = true
	b.Schedule.EndDate = day("2024-01-11")

	out := Expand([]model.ScheduleBundle{b}, day("2024-01-10"), day("2024-01-12"))
	if len(out["2024-01-10"]) != 1 {
		t.Fatal("the day before the cutoff must still appear")
	}
	if _, ok := out["2024-01-11"]; ok {
		t.Fatal("the cutoff day itself must not appear")
	}
	if _, ok := out["2024-01-12"]; ok {
		t.Fatal("days past the cutoff must not appear")
	}
}

func TestExpandCompletionAccounting(t *testing.T) {
	t.Parallel()
	b := dailyBundle("s1")
	b.Schedule.RepeatPerDay = 2
	b.Sessions = []model.Session{
		{ID: "x1", Date: day("2024-01-03")},
		{ID: "x2", Date: day("2024-01-03")},
		{ID: "x3", Date: day("2024-01-04")},
		{ID: "x4", Date: day("2024-01-04")},
	}

	out := Expand([]model.ScheduleBundle{b}, day("2024-01-03"), day("2024-01-03"))
	occ := out["2024-01-03"][0]
	if occ.Completed != 2 {
		t.Fatalf("completed = %d, want 2 (4 raw sessions / 2 per day)", occ.Completed)
	}
	if !occ.IsCompleted {
		t.Fatal("quota met, occurrence must be completed")
	}
}

func TestMergeKeepsHabitFirst(t *testing.T) {
	t.Parallel()
	habit := map[string][]Occurrence{
		"2024-01-01": {{ScheduleID: "h1", Type: model.Habit}},
	}
	regular := map[string][]Occurrence{
		"2024-01-01": {{ScheduleID: "s1", Type: model.Daily}},
		"2024-01-02": {{ScheduleID: "s1", Type: model.Daily}},
	}
	out := Merge(habit, regular)
	first := out["2024-01-01"]
	if len(first) != 2 || first[0].ScheduleID != "h1" || first[1].ScheduleID != "s1" {
		t.Fatalf("merge order wrong: %+v", first)
	}
	if len(out["2024-01-02"]) != 1 {
		t.Fatal("regular-only days must survive the merge")
	}
}

func TestPage(t *testing.T) {
	t.Parallel()
	byDay := map[string][]Occurrence{}
	for _, d := range []string{"2024-01-02", "2024-01-01", "2024-01-03"} {
		byDay[d] = []Occurrence{{ScheduleID: "s-" + d, Date: day(d)}}
	}

	items, hasMore := Page(byDay, 1, 2)
	if len(items) != 2 || !hasMore {
		t.Fatalf("page 1: got %d items, hasMore=%v", len(items), hasMore)
	}
	if items[0].ScheduleID != "s-2024-01-01" || items[1].ScheduleID != "s-2024-01-02" {
		t.Fatalf("page 1 out of date order: %+v", items)
	}

	items, hasMore = Page(byDay, 2, 2)
	if len(items) != 1 || hasMore {
		t.Fatalf("page 2: got %d items, hasMore=%v", len(items), hasMore)
	}

	items, hasMore = Page(byDay, 3, 2)
	if items != nil || hasMore {
		t.Fatal("pages past the end must be empty")
	}
}

func TestFilter(t *testing.T) {
	t.Parallel()
	byDay := map[string][]Occurrence{
		"2024-01-01": {
			{ScheduleID: "a", For: model.ForCheckIn},
			{ScheduleID: "b", For: model.ForAppointment},
		},
	}

	out := Filter(byDay, []model.ScheduleFor{model.ForAppointment})
	if got := out["2024-01-01"]; len(got) != 1 || got[0].ScheduleID != "b" {
		t.Fatalf("filter kept wrong rows: %+v", got)
	}

	all := Filter(byDay, nil)
	if len(all["2024-01-01"]) != 2 {
		t.Fatal("empty keep set must keep everything")
	}
}
