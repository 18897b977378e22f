// Package dispatch is the job handler invoked when a reminder fires. It
// re-validates live state before emitting anything: the schedule may have
// been disabled, expired, or had its linked activity deleted since the job
// was registered.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wellbeat/internal/eventbus"
	"wellbeat/internal/model"
	"wellbeat/internal/queue"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

type Dispatcher struct {
	st  store.Store
	q   *queue.Service
	bus eventbus.Bus
	log logx.Logger

	// now is swappable in tests.
	now func() time.Time
}

func New(st store.Store, q *queue.Service, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	return &Dispatcher{st: st, q: q, bus: bus, log: log, now: time.Now}
}

// HandleJob adapts Handle to the queue's handler signature. Soft no-op
// results are logged at debug; errors are logged with a stack and returned
// so queue-level retry policy, if any, applies.
func (d *Dispatcher) HandleJob(ctx context.Context, p queue.Payload) error {
	res, err := d.Handle(ctx, p)
	if err != nil {
		d.log.Error("reminder dispatch failed",
			logx.String("reminder", p.ReminderID),
			logx.String("schedule", p.ScheduleID),
			logx.Err(err),
			logx.Stack(logx.StackTrace(3, 12)))
		return err
	}
	d.log.Debug("reminder dispatched",
		logx.String("reminder", p.ReminderID),
		logx.String("result", res))
	return nil
}

// Handle runs the fire-time state machine and returns a short description of
// what happened. A missing linked entity is an expected steady state (the
// user may have deleted it after scheduling) and yields a no-op result, not
// an error. A missing schedule is an error.
func (d *Dispatcher) Handle(ctx context.Context, p queue.Payload) (string, error) {
	s, err := d.st.Schedule(ctx, p.ScheduleID)
	if err != nil {
		return "", fmt.Errorf("load schedule %s: %w", p.ScheduleID, err)
	}

	if s.EffectivelyDisabled(d.now()) {
		if err := d.cancelScheduleJobs(ctx, s); err != nil {
			return "", err
		}
		return fmt.Sprintf("schedule %s disabled, reminders cancelled", s.ID), nil
	}

	fired := eventbus.ReminderFired{
		ReminderID: p.ReminderID,
		ScheduleID: s.ID,
		UserID:     s.UserID,
	}

	// One branch per target kind; the switch is exhaustive over ScheduleFor.
	switch s.For {
	case model.ForCheckIn:
		c, err := d.st.CheckInBySchedule(ctx, s.ID, s.UserID)
		if noSuchEntity(err) {
			return "check-in no longer exists, nothing to send", nil
		}
		if err != nil {
			return "", err
		}
		fired.EntityID, fired.EntityTitle = c.ID, c.Title
		d.emit(eventbus.EventCheckInReminder, fired)
		return "check-in reminder emitted", nil

	case model.ForAppointment:
		a, err := d.st.UserAppointmentBySchedule(ctx, s.ID, s.UserID)
		if noSuchEntity(err) {
			return "appointment no longer exists, nothing to send", nil
		}
		if err != nil {
			return "", err
		}
		fired.EntityID, fired.EntityTitle = a.ID, a.Title
		d.emit(eventbus.EventAppointmentReminder, fired)
		return "appointment reminder emitted", nil

	case model.ForUserToolkit:
		u, err := d.st.UserToolkitBySchedule(ctx, s.ID, s.UserID)
		if noSuchEntity(err) {
			return "user toolkit no longer exists, nothing to send", nil
		}
		if err != nil {
			return "", err
		}
		fired.EntityID, fired.EntityTitle = u.ID, u.Title
		d.emit(eventbus.EventUserToolkitReminder, fired)
		return "user toolkit reminder emitted", nil

	case model.ForToolKit:
		t, err := d.st.ToolkitBySchedule(ctx, s.ID, s.UserID)
		if noSuchEntity(err) {
			return "toolkit no longer exists, nothing to send", nil
		}
		if err != nil {
			return "", err
		}
		fired.EntityID, fired.EntityTitle = t.ID, t.Title
		d.emit(eventbus.EventAgendaReminder, fired)
		return "agenda reminder emitted", nil
	}
	return "", model.BadRequestf("unknown schedule target %q", s.For)
}

// cancelScheduleJobs tears down every queue registration belonging to the
// schedule's reminders: pending one-shots by id, repeatables by registry
// lookup. Store rows stay; only triggers go away.
func (d *Dispatcher) cancelScheduleJobs(ctx context.Context, s model.Schedule) error {
	reminders, err := d.st.RemindersBySchedule(ctx, s.ID)
	if err != nil {
		return fmt.Errorf("load reminders for %s: %w", s.ID, err)
	}
	if s.Type == model.OneTime {
		ids := make([]string, len(reminders))
		for i, r := range reminders {
			ids[i] = r.ID
		}
		d.q.RemoveDelayedBulk(ctx, ids)
		return nil
	}

	// The queue indexes repeatables by its own key, so match on JobID.
	live := d.q.ListRepeatable()
	for _, r := range reminders {
		for _, info := range live {
			if info.JobID == r.ID {
				d.q.RemoveRepeatableByKey(ctx, info.Key)
			}
		}
	}
	return nil
}

func (d *Dispatcher) emit(name string, data eventbus.ReminderFired) {
	if d.bus == nil {
		return
	}
	d.bus.Publish(eventbus.Event{Name: name, Data: data})
}

func noSuchEntity(err error) bool {
	return errors.Is(err, model.ErrNotFound)
}
