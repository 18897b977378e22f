package queue

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	"wellbeat/internal/cronspec"
	"wellbeat/internal/eventbus"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

// Kind names a job family. Each kind runs in its own bounded pool so a burst
// of one kind (say, reminder maintenance after a bulk edit) cannot starve
// another (timely dispatch).
type Kind string

const (
	KindDispatch    Kind = "reminder.dispatch"
	KindCompletion  Kind = "completion.check"
	KindMaintenance Kind = "reminder.maintenance"
)

// Payload is what a fired job hands to its handler. It is small and
// JSON-stable because the registry persists it across restarts.
type Payload struct {
	Kind       Kind   `json:"kind"`
	ReminderID string `json:"reminder_id,omitempty"`
	ScheduleID string `json:"schedule_id,omitempty"`
	UserID     string `json:"user_id,omitempty"`
}

func (p Payload) encode() string {
	b, _ := json.Marshal(p)
	return string(b)
}

func decodePayload(s string) (Payload, error) {
	var p Payload
	err := json.Unmarshal([]byte(s), &p)
	return p, err
}

// Handler executes a fired job. Handlers run without a deadline; retry and
// backoff belong to infrastructure above this queue, never to handlers.
type Handler func(ctx context.Context, p Payload) error

// Config controls the queue service.
type Config struct {
	Workers   int
	QueueSize int

	// PoolLimits caps concurrent executions per job kind. Missing kinds get
	// DefaultPoolLimit.
	PoolLimits       map[Kind]int
	DefaultPoolLimit int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.DefaultPoolLimit <= 0 {
		c.DefaultPoolLimit = 2
	}
	return c
}

// RepeatableInfo describes one registered repeatable job. Key is the queue's
// own registration key; callers that only know a reminder id find their
// registration by scanning JobID (the queue keeps no secondary index).
type RepeatableInfo struct {
	Key   string
	JobID string
	Expr  string
	Zone  string
}

type repeatDef struct {
	jobID   string
	expr    string
	offset  int // seconds east of UTC
	payload Payload
	entryID cron.EntryID
}

func (d repeatDef) key() string {
	return d.jobID + "|" + d.expr + "|" + cronspec.ZoneFromOffset(d.offset).String()
}

type task struct {
	payload    Payload
	enqueuedAt time.Time
}

// Service is the reminder job queue: one-shot delayed jobs and repeatable
// cron jobs, both keyed by reminder id with last-write-wins replace
// semantics, executed on bounded per-kind worker pools.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus
	st  store.Store // nil disables registry persistence

	handlers map[Kind]Handler

	parser  cron.Parser
	runners map[int]*cron.Cron // one runner per fixed-zone offset
	repeats map[string]repeatDef

	q        chan task
	workerWG sync.WaitGroup
	stopCh   chan struct{}
	runCtx   context.Context
	cancel   context.CancelFunc

	// Per-kind concurrency pools.
	gmu    sync.Mutex
	groups map[Kind]*poolSemaphore

	// One-shot timers. Timers are runtime; onceAt/oncePayload are the
	// definitions rebuilt after Stop()/Start().
	tmu         sync.Mutex
	timers      map[string]*time.Timer
	onceAt      map[string]time.Time
	oncePayload map[string]Payload
	onceVer     map[string]uint64

	// Throttles repeated enqueue-failure warns.
	warnLimiter *rate.Limiter
}

// poolSemaphore is a channel-based semaphore with tokens pre-filled to limit.
// The limit is fixed for the semaphore's lifetime.
type poolSemaphore struct {
	ch chan struct{}
}

func newPoolSemaphore(limit int) *poolSemaphore {
	if limit <= 0 {
		limit = 1
	}
	ps := &poolSemaphore{ch: make(chan struct{}, limit)}
	for i := 0; i < limit; i++ {
		ps.ch <- struct{}{}
	}
	return ps
}

func (p *poolSemaphore) tryAcquire() bool {
	if p == nil {
		return true
	}
	select {
	case <-p.ch:
		return true
	default:
		return false
	}
}

func (p *poolSemaphore) release() {
	if p == nil {
		return
	}
	// Best-effort: never block on release.
	select {
	case p.ch <- struct{}{}:
	default:
	}
}

func (s *Service) pool(k Kind) *poolSemaphore {
	s.gmu.Lock()
	defer s.gmu.Unlock()
	if s.groups == nil {
		s.groups = map[Kind]*poolSemaphore{}
	}
	ps := s.groups[k]
	if ps == nil {
		limit := s.cfg.PoolLimits[k]
		if limit <= 0 {
			limit = s.cfg.DefaultPoolLimit
		}
		ps = newPoolSemaphore(limit)
		s.groups[k] = ps
	}
	return ps
}
