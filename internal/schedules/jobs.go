package schedules

import (
	"context"
	"time"

	"wellbeat/internal/cronspec"
	"wellbeat/internal/eventbus"
	"wellbeat/internal/model"
	"wellbeat/internal/queue"
	"wellbeat/internal/recurrence"
	"wellbeat/pkg/logx"
)

// completionJobID derives the repeatable registration id for a schedule's
// nightly completion check.
func completionJobID(scheduleID string) string { return scheduleID + ":completion" }

// RegisterJobs binds this service's handlers to the queue. The queue keeps
// the kinds in isolated pools, so completion sweeps and maintenance bursts
// never delay reminder dispatch.
func (s *Service) RegisterJobs() {
	s.q.RegisterHandler(queue.KindCompletion, s.handleCompletion)
	s.q.RegisterHandler(queue.KindMaintenance, s.handleMaintenance)
}

// registerCompletionCheck arms the nightly session recount for a schedule.
// It runs late in the day, in UTC; per-user zones only matter for reminder
// firing, not for the accounting sweep.
func (s *Service) registerCompletionCheck(ctx context.Context, sc model.Schedule) error {
	p := queue.Payload{Kind: queue.KindCompletion, ScheduleID: sc.ID, UserID: sc.UserID}
	return s.q.EnqueueRepeatable(ctx, completionJobID(sc.ID), p,
		cronspec.Expr{Minute: 55, Hour: 23}, time.UTC)
}

// handleCompletion recounts today's sessions for a schedule and announces
// quota completion. An expired schedule unregisters its own sweep.
func (s *Service) handleCompletion(ctx context.Context, p queue.Payload) error {
	sc, err := s.st.Schedule(ctx, p.ScheduleID)
	if err != nil {
		s.log.Error("completion check failed",
			logx.String("schedule", p.ScheduleID),
			logx.Err(err),
			logx.Stack(logx.StackTrace(3, 12)))
		return err
	}

	today := model.Day(s.now())
	if sc.EffectivelyDisabled(today) {
		s.removeRepeatableByJobID(ctx, completionJobID(sc.ID))
		return nil
	}
	if !recurrence.OccursOn(sc, today) {
		return nil
	}

	sessions, err := s.st.SessionsBySchedule(ctx, sc.ID, today, today)
	if err != nil {
		return err
	}
	quota := sc.RepeatPerDay
	if quota < 1 {
		quota = 1
	}
	if len(sessions) < quota {
		return nil
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{
			Name: eventbus.EventScheduleCompleted,
			Data: eventbus.ScheduleCompleted{
				ScheduleID: sc.ID,
				UserID:     sc.UserID,
				Day:        model.DayKey(today),
				Completed:  len(sessions) / quota,
				Total:      quota,
			},
		})
	}
	return nil
}

// handleMaintenance runs a schedule's deferred teardown: once the disable
// cutoff arrives, every reminder registration and the completion sweep go
// away. Store rows stay for history.
func (s *Service) handleMaintenance(ctx context.Context, p queue.Payload) error {
	sc, err := s.st.Schedule(ctx, p.ScheduleID)
	if err != nil {
		s.log.Error("schedule teardown failed",
			logx.String("schedule", p.ScheduleID),
			logx.Err(err),
			logx.Stack(logx.StackTrace(3, 12)))
		return err
	}
	reminders, err := s.st.RemindersBySchedule(ctx, sc.ID)
	if err != nil {
		return err
	}
	s.unregisterAll(ctx, sc, reminders)
	s.removeRepeatableByJobID(ctx, completionJobID(sc.ID))
	s.log.Info("schedule torn down", logx.String("schedule", sc.ID))
	return nil
}

func (s *Service) removeRepeatableByJobID(ctx context.Context, jobID string) {
	for _, info := range s.q.ListRepeatable() {
		if info.JobID == jobID {
			s.q.RemoveRepeatableByKey(ctx, info.Key)
		}
	}
}
