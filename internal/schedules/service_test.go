package schedules

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"wellbeat/internal/eventbus"
	"wellbeat/internal/model"
	"wellbeat/internal/queue"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

type fixture struct {
	st  store.Store
	q   *queue.Service
	bus eventbus.Bus
	sv  *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "test.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	bus := eventbus.New()
	q := queue.New(queue.Config{}, logx.Nop(), bus, st)
	sv := New(st, q, bus, logx.Nop())
	sv.RegisterJobs()
	return &fixture{st: st, q: q, bus: bus, sv: sv}
}

func day(s string) time.Time {
	t, err := model.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return t
}

func (f *fixture) repeatableJobIDs() map[string]bool {
	out := map[string]bool{}
	for _, info := range f.q.ListRepeatable() {
		out[info.JobID] = true
	}
	return out
}

func TestCreateRegistersRemindersAndCompletionCheck(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	ch, unsub := f.bus.Subscribe(8)
	defer unsub()

	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, []string{"2024-01-01T08:30:00+02:00"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if sc.ID == "" {
		t.Fatal("Create must assign an id")
	}
	if sc.RepeatPerDay != 1 {
		t.Fatalf("RepeatPerDay = %d, want the default 1", sc.RepeatPerDay)
	}

	reminders, err := f.st.RemindersBySchedule(ctx, sc.ID)
	if err != nil {
		t.Fatalf("RemindersBySchedule: %v", err)
	}
	if len(reminders) != 1 {
		t.Fatalf("reminders = %d, want 1", len(reminders))
	}

	jobs := f.repeatableJobIDs()
	if !jobs[reminders[0].ID] {
		t.Fatalf("reminder registration missing from %v", jobs)
	}
	if !jobs[completionJobID(sc.ID)] {
		t.Fatalf("completion check missing from %v", jobs)
	}

	select {
	case e := <-ch:
		if e.Name != eventbus.EventScheduleAdded {
			t.Fatalf("event = %q, want %q", e.Name, eventbus.EventScheduleAdded)
		}
	default:
		t.Fatal("schedule creation must publish an event")
	}
}

func TestCreateRejectsInvalidSchedule(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.sv.Create(context.Background(), model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Weekly, // no schedule days
		StartDate: day("2024-01-01"),
	}, nil)
	if !errors.Is(err, model.ErrBadRequest) {
		t.Fatalf("error %v does not wrap ErrBadRequest", err)
	}
}

func TestCreateOneTimeArmsIndependentOneShots(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return time.Date(2024, 5, 10, 6, 0, 0, 0, time.UTC) }

	// Two reminders on the same day stay two independent one-shots.
	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForAppointment,
		Type:      model.OneTime,
		StartDate: day("2024-05-10"),
	}, []string{"2024-05-10T07:00:00Z", "2024-05-10T18:00:00Z"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	pending := f.q.PendingOneShots()
	if len(pending) != 2 {
		t.Fatalf("pending one-shots = %v, want 2", pending)
	}
	// One-time schedules get no completion sweep.
	if jobs := f.repeatableJobIDs(); jobs[completionJobID(sc.ID)] {
		t.Fatalf("one-time schedule must not register a completion check: %v", jobs)
	}
}

func TestUpdateRemindersReplacesRegistrations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, []string{"2024-01-01T08:00:00Z", "2024-01-01T20:00:00Z"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	old, _ := f.st.RemindersBySchedule(ctx, sc.ID)

	n, err := f.sv.UpdateReminders(ctx, sc.ID, []string{"2024-01-01T09:30:00Z"})
	if err != nil {
		t.Fatalf("UpdateReminders: %v", err)
	}
	if n != 3 { // 2 removed + 1 added
		t.Fatalf("affected = %d, want 3", n)
	}

	now, err := f.st.RemindersBySchedule(ctx, sc.ID)
	if err != nil {
		t.Fatalf("RemindersBySchedule: %v", err)
	}
	if len(now) != 1 {
		t.Fatalf("reminders = %d, want 1", len(now))
	}

	jobs := f.repeatableJobIDs()
	for _, r := range old {
		if jobs[r.ID] {
			t.Fatalf("stale registration %s survived the replace", r.ID)
		}
	}
	if !jobs[now[0].ID] {
		t.Fatalf("new registration missing from %v", jobs)
	}
}

func TestUpdateRemindersEmptyRemovesAllAndIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, []string{"2024-01-01T08:00:00Z"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	n, err := f.sv.UpdateReminders(ctx, sc.ID, nil)
	if err != nil {
		t.Fatalf("UpdateReminders: %v", err)
	}
	if n != 1 {
		t.Fatalf("affected = %d, want 1", n)
	}
	left, _ := f.st.RemindersBySchedule(ctx, sc.ID)
	if len(left) != 0 {
		t.Fatalf("reminders = %+v, want none", left)
	}

	// Second identical call finds nothing to remove and succeeds.
	n, err = f.sv.UpdateReminders(ctx, sc.ID, nil)
	if err != nil {
		t.Fatalf("UpdateReminders repeat: %v", err)
	}
	if n != 0 {
		t.Fatalf("affected on repeat = %d, want 0", n)
	}

	// Only the completion check remains registered.
	jobs := f.repeatableJobIDs()
	if len(jobs) != 1 || !jobs[completionJobID(sc.ID)] {
		t.Fatalf("registrations = %v, want only the completion check", jobs)
	}
}

func TestDisableArmsTeardown(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, []string{"2024-01-01T08:00:00Z"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	cutoff := time.Now().AddDate(0, 0, 2)
	if err := f.sv.Disable(ctx, sc.ID, cutoff, "ops"); err != nil {
		t.Fatalf("Disable: %v", err)
	}

	got, err := f.st.Schedule(ctx, sc.ID)
	if err != nil {
		t.Fatalf("Schedule: %v", err)
	}
	if !got.Disabled || !got.EndDate.Equal(model.Day(cutoff)) {
		t.Fatalf("disable not persisted: %+v", got)
	}

	found := false
	for _, id := range f.q.PendingOneShots() {
		if id == sc.ID+":teardown" {
			found = true
		}
	}
	if !found {
		t.Fatalf("teardown one-shot missing from %v", f.q.PendingOneShots())
	}

	// Until the cutoff arrives the reminder registrations stay live.
	reminders, _ := f.st.RemindersBySchedule(ctx, sc.ID)
	jobs := f.repeatableJobIDs()
	if !jobs[reminders[0].ID] {
		t.Fatal("reminder registration must survive until the cutoff")
	}
}

func TestMaintenanceTearsDownRegistrations(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, []string{"2024-01-01T08:00:00Z"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	err = f.sv.handleMaintenance(ctx, queue.Payload{Kind: queue.KindMaintenance, ScheduleID: sc.ID})
	if err != nil {
		t.Fatalf("handleMaintenance: %v", err)
	}
	if got := f.q.ListRepeatable(); len(got) != 0 {
		t.Fatalf("registrations after teardown = %+v, want none", got)
	}
	// Store rows stay for history.
	if _, err := f.st.Schedule(ctx, sc.ID); err != nil {
		t.Fatalf("schedule row must survive teardown: %v", err)
	}
	reminders, err := f.st.RemindersBySchedule(ctx, sc.ID)
	if err != nil || len(reminders) != 1 {
		t.Fatalf("reminder rows must survive teardown: %v %v", reminders, err)
	}
}

func TestCompletionCheckPublishesWhenQuotaMet(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-03") }

	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:       "u1",
		For:          model.ForCheckIn,
		Type:         model.Daily,
		StartDate:    day("2024-01-01"),
		RepeatPerDay: 2,
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ch, unsub := f.bus.Subscribe(8)
	defer unsub()

	// Below quota: no event.
	if err := f.st.PutSession(ctx, model.Session{ID: "x1", ScheduleID: sc.ID, UserID: "u1", Date: day("2024-01-03")}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if err := f.sv.handleCompletion(ctx, queue.Payload{Kind: queue.KindCompletion, ScheduleID: sc.ID}); err != nil {
		t.Fatalf("handleCompletion: %v", err)
	}
	select {
	case e := <-ch:
		t.Fatalf("unexpected event below quota: %+v", e)
	default:
	}

	// At quota: completed event.
	if err := f.st.PutSession(ctx, model.Session{ID: "x2", ScheduleID: sc.ID, UserID: "u1", Date: day("2024-01-03")}); err != nil {
		t.Fatalf("PutSession: %v", err)
	}
	if err := f.sv.handleCompletion(ctx, queue.Payload{Kind: queue.KindCompletion, ScheduleID: sc.ID}); err != nil {
		t.Fatalf("handleCompletion: %v", err)
	}
	select {
	case e := <-ch:
		if e.Name != eventbus.EventScheduleCompleted {
			t.Fatalf("event = %q, want %q", e.Name, eventbus.EventScheduleCompleted)
		}
		done, ok := e.Data.(eventbus.ScheduleCompleted)
		if !ok {
			t.Fatalf("payload type %T", e.Data)
		}
		if done.ScheduleID != sc.ID || done.Day != "2024-01-03" {
			t.Fatalf("payload = %+v", done)
		}
	default:
		t.Fatal("quota met, expected a completion event")
	}
}

func TestCompletionCheckExpiredScheduleSelfRemoves(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	sc, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := f.st.DisableSchedule(ctx, sc.ID, day("2024-01-05"), "ops"); err != nil {
		t.Fatalf("DisableSchedule: %v", err)
	}

	f.sv.now = func() time.Time { return day("2024-02-01") }
	if err := f.sv.handleCompletion(ctx, queue.Payload{Kind: queue.KindCompletion, ScheduleID: sc.ID}); err != nil {
		t.Fatalf("handleCompletion: %v", err)
	}
	if jobs := f.repeatableJobIDs(); jobs[completionJobID(sc.ID)] {
		t.Fatal("expired schedule must remove its own completion check")
	}
}

func TestUserAgendaPages(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	_, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	items, more, err := f.sv.UserAgenda(ctx, "u1", day("2024-01-01"), day("2024-01-05"), 1, 3)
	if err != nil {
		t.Fatalf("UserAgenda: %v", err)
	}
	if len(items) != 3 || !more {
		t.Fatalf("page 1: %d items, more=%v; want 3 and more", len(items), more)
	}
	items, more, err = f.sv.UserAgenda(ctx, "u1", day("2024-01-01"), day("2024-01-05"), 2, 3)
	if err != nil {
		t.Fatalf("UserAgenda: %v", err)
	}
	if len(items) != 2 || more {
		t.Fatalf("page 2: %d items, more=%v; want 2 and no more", len(items), more)
	}
}

func TestCalendarAgendaFilters(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	ctx := context.Background()
	f.sv.now = func() time.Time { return day("2024-01-01") }

	_, err := f.sv.Create(ctx, model.Schedule{
		UserID:    "u1",
		For:       model.ForCheckIn,
		Type:      model.Daily,
		StartDate: day("2024-01-01"),
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = f.sv.Create(ctx, model.Schedule{
		UserID:       "u1",
		For:          model.ForAppointment,
		Type:         model.Weekly,
		StartDate:    day("2024-01-01"),
		ScheduleDays: []model.Weekday{model.Monday},
	}, nil)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// 2024-01-01 is a Monday: both schedules occur unfiltered.
	all, err := f.sv.CalendarAgenda(ctx, "u1", day("2024-01-01"), day("2024-01-01"), nil)
	if err != nil {
		t.Fatalf("CalendarAgenda: %v", err)
	}
	if len(all["2024-01-01"]) != 2 {
		t.Fatalf("occurrences = %+v, want 2", all["2024-01-01"])
	}

	only, err := f.sv.CalendarAgenda(ctx, "u1", day("2024-01-01"), day("2024-01-01"),
		[]model.ScheduleFor{model.ForAppointment})
	if err != nil {
		t.Fatalf("CalendarAgenda filtered: %v", err)
	}
	occs := only["2024-01-01"]
	if len(occs) != 1 || occs[0].For != model.ForAppointment {
		t.Fatalf("filtered occurrences = %+v", occs)
	}
}
