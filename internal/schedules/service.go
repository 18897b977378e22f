// Package schedules holds the write flows of the engine: creating schedules,
// replacing reminder sets, disabling with a future cutoff, and the agenda
// reads backed by the materializer.
package schedules

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"wellbeat/internal/agenda"
	"wellbeat/internal/cronspec"
	"wellbeat/internal/eventbus"
	"wellbeat/internal/model"
	"wellbeat/internal/queue"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

type Service struct {
	st  store.Store
	q   *queue.Service
	bus eventbus.Bus
	log logx.Logger

	now func() time.Time
}

func New(st store.Store, q *queue.Service, bus eventbus.Bus, log logx.Logger) *Service {
	return &Service{st: st, q: q, bus: bus, log: log, now: time.Now}
}

// Create validates and persists a schedule, registers its reminders, and
// announces it on the bus.
func (s *Service) Create(ctx context.Context, sc model.Schedule, reminderTimes []string) (model.Schedule, error) {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if sc.RepeatPerDay == 0 {
		sc.RepeatPerDay = 1
	}
	if err := model.Validate(sc, s.now()); err != nil {
		return model.Schedule{}, err
	}
	if err := s.st.PutSchedule(ctx, sc); err != nil {
		return model.Schedule{}, err
	}

	for _, at := range reminderTimes {
		r := model.Reminder{
			ID:         uuid.NewString(),
			ScheduleID: sc.ID,
			UserID:     sc.UserID,
			At:         at,
		}
		if err := s.st.PutReminder(ctx, r); err != nil {
			return model.Schedule{}, err
		}
		if err := s.registerReminder(ctx, r, sc); err != nil {
			return model.Schedule{}, err
		}
	}

	if sc.Type != model.OneTime {
		if err := s.registerCompletionCheck(ctx, sc); err != nil {
			return model.Schedule{}, err
		}
	}

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Name: eventbus.EventScheduleAdded,
			Data: eventbus.ScheduleAdded{ScheduleID: sc.ID, UserID: sc.UserID, EntityID: sc.EntityID},
		})
	}
	s.log.Info("schedule created",
		logx.String("schedule", sc.ID),
		logx.String("type", string(sc.Type)),
		logx.Int("reminders", len(reminderTimes)))
	return sc, nil
}

// AddReminder persists and registers a single reminder against its schedule.
func (s *Service) AddReminder(ctx context.Context, r model.Reminder) error {
	sc, err := s.st.Schedule(ctx, r.ScheduleID)
	if err != nil {
		return err
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := s.st.PutReminder(ctx, r); err != nil {
		return err
	}
	return s.registerReminder(ctx, r, sc)
}

// UpdateReminders destroys and recreates the schedule's reminder set.
// Removal of the old registrations is strictly sequenced before the new ones
// are added so an edit can never double-fire a reminder id. An empty times
// slice removes everything and adds nothing; repeating the call is
// idempotent. The returned count covers reminders removed plus added.
func (s *Service) UpdateReminders(ctx context.Context, scheduleID string, times []string) (int, error) {
	sc, err := s.st.Schedule(ctx, scheduleID)
	if err != nil {
		return 0, err
	}
	old, err := s.st.RemindersBySchedule(ctx, scheduleID)
	if err != nil {
		return 0, err
	}

	// Remove first, add after. A crash in between may miss or duplicate one
	// firing; accepted weak-consistency tradeoff.
	s.unregisterAll(ctx, sc, old)
	if err := s.st.DeleteRemindersBySchedule(ctx, scheduleID); err != nil {
		return 0, err
	}

	added := 0
	for _, at := range times {
		r := model.Reminder{
			ID:         uuid.NewString(),
			ScheduleID: sc.ID,
			UserID:     sc.UserID,
			At:         at,
		}
		if err := s.st.PutReminder(ctx, r); err != nil {
			return len(old) + added, err
		}
		if err := s.registerReminder(ctx, r, sc); err != nil {
			return len(old) + added, err
		}
		added++
	}

	s.log.Info("reminders replaced",
		logx.String("schedule", scheduleID),
		logx.Int("removed", len(old)),
		logx.Int("added", added))
	return len(old) + added, nil
}

// Disable writes the cutoff date and arms a maintenance job that tears the
// reminder registrations down once the cutoff arrives. Until then the
// schedule keeps occurring and firing.
func (s *Service) Disable(ctx context.Context, scheduleID string, cutoff time.Time, updatedBy string) error {
	if err := s.st.DisableSchedule(ctx, scheduleID, cutoff, updatedBy); err != nil {
		return err
	}
	delay := time.Until(model.Day(cutoff))
	p := queue.Payload{Kind: queue.KindMaintenance, ScheduleID: scheduleID}
	if err := s.q.EnqueueDelayed(ctx, scheduleID+":teardown", p, delay); err != nil {
		return fmt.Errorf("arm teardown for %s: %w", scheduleID, err)
	}
	s.log.Info("schedule disabled",
		logx.String("schedule", scheduleID),
		logx.String("cutoff", model.DayKey(cutoff)))
	return nil
}

// registerReminder builds the fire spec and hands it to the queue. Disabled
// reminders and None specs register nothing.
func (s *Service) registerReminder(ctx context.Context, r model.Reminder, sc model.Schedule) error {
	if r.Disabled {
		return nil
	}
	spec, err := cronspec.Build(r, sc, s.now())
	if err != nil {
		return err
	}
	p := queue.Payload{
		Kind:       queue.KindDispatch,
		ReminderID: r.ID,
		ScheduleID: sc.ID,
		UserID:     r.UserID,
	}
	switch spec.Kind {
	case cronspec.OneShot:
		return s.q.EnqueueDelayed(ctx, r.ID, p, spec.Delay)
	case cronspec.Repeating:
		return s.q.EnqueueRepeatable(ctx, r.ID, p, spec.Expr, spec.Loc)
	default:
		s.log.Debug("reminder not registered",
			logx.String("reminder", r.ID),
			logx.String("reason", spec.Reason))
		return nil
	}
}

// unregisterAll cancels the queue registrations for a reminder set:
// one-shots in bulk for one-time schedules, repeatables by registry scan
// otherwise.
func (s *Service) unregisterAll(ctx context.Context, sc model.Schedule, reminders []model.Reminder) {
	if len(reminders) == 0 {
		return
	}
	if sc.Type == model.OneTime {
		ids := make([]string, len(reminders))
		for i, r := range reminders {
			ids[i] = r.ID
		}
		s.q.RemoveDelayedBulk(ctx, ids)
		return
	}
	live := s.q.ListRepeatable()
	for _, r := range reminders {
		for _, info := range live {
			if info.JobID == r.ID {
				s.q.RemoveRepeatableByKey(ctx, info.Key)
			}
		}
	}
}

// UserAgenda is the paged agenda read. Habit occurrences come first within a
// date.
func (s *Service) UserAgenda(ctx context.Context, userID string, from, to time.Time, page, limit int) ([]agenda.Occurrence, bool, error) {
	merged, err := s.mergedAgenda(ctx, userID, from, to, nil)
	if err != nil {
		return nil, false, err
	}
	items, more := agenda.Page(merged, page, limit)
	return items, more, nil
}

// CalendarAgenda returns the per-date occurrence lists, optionally filtered
// by target kind.
func (s *Service) CalendarAgenda(ctx context.Context, userID string, from, to time.Time, filters []model.ScheduleFor) (map[string][]agenda.Occurrence, error) {
	merged, err := s.mergedAgenda(ctx, userID, from, to, filters)
	if err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *Service) mergedAgenda(ctx context.Context, userID string, from, to time.Time, filters []model.ScheduleFor) (map[string][]agenda.Occurrence, error) {
	regular, err := s.st.SchedulesWithSessions(ctx, userID, from, to, filters)
	if err != nil {
		return nil, err
	}
	habits, err := s.st.HabitSchedulesWithSessions(ctx, userID, from, to)
	if err != nil {
		return nil, err
	}
	merged := agenda.Merge(agenda.ExpandHabit(habits, from, to), agenda.Expand(regular, from, to))
	return agenda.Filter(merged, filters), nil
}
