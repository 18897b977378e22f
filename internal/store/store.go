// Package store is the persistence boundary of the scheduling engine. The
// engine only ever talks to the Store interface; the sqlite backend here is
// the worker's durable state, including the job registry the queue rebuilds
// from after a restart.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"wellbeat/internal/model"
	"wellbeat/pkg/logx"
)

// Config configures the store.
type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// JobRecord is a persisted queue registration. One-shot records carry RunAt;
// repeatable records carry Expr plus the fixed-zone offset of the reminder's
// local time.
type JobRecord struct {
	ID        string
	Kind      string
	Repeat    bool
	Expr      string
	TZOffset  int // seconds east of UTC
	RunAt     time.Time
	Payload   string // JSON
	CreatedAt time.Time
}

// Store is the persistence API consumed by the engine.
type Store interface {
	// Schedules.
	Schedule(ctx context.Context, id string) (model.Schedule, error)
	ActiveSchedule(ctx context.Context, id string) (model.Schedule, error)
	PutSchedule(ctx context.Context, s model.Schedule) error
	DisableSchedule(ctx context.Context, id string, cutoff time.Time, updatedBy string) error
	SchedulesWithSessions(ctx context.Context, userID string, from, to time.Time, filters []model.ScheduleFor) ([]model.ScheduleBundle, error)
	HabitSchedulesWithSessions(ctx context.Context, userID string, from, to time.Time) ([]model.HabitBundle, error)

	// Reminders.
	Reminder(ctx context.Context, id string) (model.Reminder, error)
	RemindersBySchedule(ctx context.Context, scheduleID string) ([]model.Reminder, error)
	PutReminder(ctx context.Context, r model.Reminder) error
	DeleteRemindersBySchedule(ctx context.Context, scheduleID string) error

	// Sessions (written by completion flows, read here).
	PutSession(ctx context.Context, s model.Session) error
	SessionsBySchedule(ctx context.Context, scheduleID string, from, to time.Time) ([]model.Session, error)

	// Habit programs.
	PutHabitDay(ctx context.Context, d model.HabitDay) error
	ExcludeHabitDay(ctx context.Context, ex model.HabitDayExclusion) error

	// Linked entities resolved at fire time.
	CheckInBySchedule(ctx context.Context, scheduleID, userID string) (model.CheckIn, error)
	UserAppointmentBySchedule(ctx context.Context, scheduleID, userID string) (model.UserAppointment, error)
	UserToolkitBySchedule(ctx context.Context, scheduleID, userID string) (model.UserToolkit, error)
	ToolkitBySchedule(ctx context.Context, scheduleID, userID string) (model.Toolkit, error)
	PutCheckIn(ctx context.Context, scheduleID string, c model.CheckIn) error
	PutUserAppointment(ctx context.Context, scheduleID string, a model.UserAppointment) error
	PutUserToolkit(ctx context.Context, scheduleID string, u model.UserToolkit) error
	PutToolkit(ctx context.Context, scheduleID string, t model.Toolkit) error

	// Queue job registry.
	PutJob(ctx context.Context, j JobRecord) error
	DeleteJob(ctx context.Context, id string) error
	ListJobs(ctx context.Context) ([]JobRecord, error)

	Close() error
}

// Open initializes the sqlite store at cfg.Path.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("store path is required")
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return openSQLite(cfg, log)
}
