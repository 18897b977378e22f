package queue

import (
	"context"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"wellbeat/internal/eventbus"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

func New(cfg Config, log logx.Logger, bus eventbus.Bus, st store.Store) *Service {
	return &Service{
		cfg:         cfg.withDefaults(),
		log:         log,
		bus:         bus,
		st:          st,
		handlers:    map[Kind]Handler{},
		parser:      cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		runners:     map[int]*cron.Cron{},
		repeats:     map[string]repeatDef{},
		timers:      map[string]*time.Timer{},
		onceAt:      map[string]time.Time{},
		oncePayload: map[string]Payload{},
		onceVer:     map[string]uint64{},
		warnLimiter: rate.NewLimiter(rate.Every(5*time.Second), 1),
	}
}

// RegisterHandler binds a handler to a job kind. Register all handlers
// before Start; registrations after Start are still picked up but jobs fired
// in between are dropped with a warn.
func (s *Service) RegisterHandler(k Kind, h Handler) {
	s.mu.Lock()
	s.handlers[k] = h
	s.mu.Unlock()
}

// Start spins the worker pool, restores persisted registrations, and starts
// the cron runners.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return nil
	}
	s.stopCh = make(chan struct{})
	s.runCtx, s.cancel = context.WithCancel(ctx)
	// Fresh queue per run so a stop/start toggle never executes stale work.
	s.q = make(chan task, s.cfg.QueueSize)

	workers := s.cfg.Workers
	runCtx := s.runCtx
	stopCh := s.stopCh
	q := s.q

	s.workerWG.Add(workers)
	for i := 0; i < workers; i++ {
		idx := i
		go func() {
			defer s.workerWG.Done()
			defer func() {
				if r := recover(); r != nil {
					s.log.Error("panic in queue worker",
						logx.Int("worker", idx), logx.Any("panic", r),
						logx.Stack(string(debug.Stack())))
				}
			}()
			s.worker(runCtx, stopCh, q)
		}()
	}
	s.mu.Unlock()

	if err := s.restore(ctx); err != nil {
		s.log.Error("job registry restore failed", logx.Err(err))
	}

	s.mu.Lock()
	for _, c := range s.runners {
		c.Start()
	}
	repeats, timers := len(s.repeats), 0
	s.mu.Unlock()
	s.tmu.Lock()
	timers = len(s.timers)
	s.tmu.Unlock()

	s.log.Info("queue started",
		logx.Int("workers", workers),
		logx.Int("repeatable", repeats),
		logx.Int("oneshot", timers))
	return nil
}

// Stop halts cron runners and one-shot timers, then drains workers.
// Definitions stay registered so a later Start resumes them.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh == nil {
		s.mu.Unlock()
		return
	}
	stopCh := s.stopCh
	cancel := s.cancel
	runners := s.runners
	s.stopCh = nil
	s.cancel = nil
	s.runners = map[int]*cron.Cron{}
	for id, def := range s.repeats {
		def.entryID = 0
		s.repeats[id] = def
	}
	s.mu.Unlock()

	close(stopCh)
	if cancel != nil {
		cancel()
	}
	for _, c := range runners {
		<-c.Stop().Done()
	}

	s.tmu.Lock()
	for _, t := range s.timers {
		_ = t.Stop()
	}
	s.timers = map[string]*time.Timer{}
	s.tmu.Unlock()

	done := make(chan struct{})
	go func() {
		s.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
	s.log.Info("queue stopped")
}

// restore re-arms persisted registrations after a restart. One-shots whose
// run time already passed still get the minimum delay so they fire instead
// of silently dropping.
func (s *Service) restore(ctx context.Context) error {
	if s.st == nil {
		return nil
	}
	jobs, err := s.st.ListJobs(ctx)
	if err != nil {
		return err
	}
	for _, j := range jobs {
		p, err := decodePayload(j.Payload)
		if err != nil {
			s.log.Warn("dropping unreadable job record", logx.String("job", j.ID), logx.Err(err))
			_ = s.st.DeleteJob(ctx, j.ID)
			continue
		}
		if j.Repeat {
			if err := s.registerRepeat(j.ID, p, j.Expr, j.TZOffset); err != nil {
				s.log.Warn("dropping invalid repeatable record",
					logx.String("job", j.ID), logx.String("expr", j.Expr), logx.Err(err))
				_ = s.st.DeleteJob(ctx, j.ID)
			}
			continue
		}
		delay := time.Until(j.RunAt)
		if delay < time.Second {
			delay = time.Second
		}
		s.armOneShot(j.ID, p, delay)
	}
	return nil
}

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, q chan task) {
	for {
		// Fast-exit check so a closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case t, ok := <-q:
			if !ok {
				return
			}
			ps := s.pool(t.payload.Kind)
			if !ps.tryAcquire() {
				// Pool at capacity: put the task back and look for other work.
				select {
				case <-ctx.Done():
					return
				case <-stopCh:
					return
				case q <- t:
				default:
					s.log.Warn("queue full, dropping job",
						logx.String("kind", string(t.payload.Kind)),
						logx.String("reminder", t.payload.ReminderID))
				}
				runtime.Gosched()
				continue
			}
			s.execOne(ctx, t)
			ps.release()
		}
	}
}

func (s *Service) execOne(ctx context.Context, t task) {
	s.mu.Lock()
	h := s.handlers[t.payload.Kind]
	s.mu.Unlock()
	if h == nil {
		s.log.Warn("no handler for job kind", logx.String("kind", string(t.payload.Kind)))
		return
	}

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("panic in job handler",
				logx.String("kind", string(t.payload.Kind)),
				logx.Any("panic", r),
				logx.Stack(string(debug.Stack())))
		}
	}()

	// No deadline here: repeatable handlers run to completion and retry
	// policy lives above the queue.
	err := h(ctx, t.payload)
	took := time.Since(start)
	if err != nil {
		s.log.Error("job failed",
			logx.String("kind", string(t.payload.Kind)),
			logx.String("reminder", t.payload.ReminderID),
			logx.Duration("took", took),
			logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Name: "queue.job.failed", Data: t.payload})
		}
		return
	}
	s.log.Debug("job done",
		logx.String("kind", string(t.payload.Kind)),
		logx.String("reminder", t.payload.ReminderID),
		logx.Duration("took", took))
}

func (s *Service) submit(p Payload) {
	s.mu.Lock()
	q := s.q
	s.mu.Unlock()
	if q == nil {
		return
	}
	select {
	case q <- task{payload: p, enqueuedAt: time.Now()}:
	default:
		if s.warnLimiter.Allow() {
			s.log.Warn("queue full, job dropped",
				logx.String("kind", string(p.Kind)),
				logx.String("reminder", p.ReminderID))
		}
	}
}
