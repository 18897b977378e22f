// Package app wires the engine together: config, logging, store, event bus,
// queue, dispatcher, and the schedule flows.
package app

import (
	"context"
	"sync"

	"wellbeat/internal/config"
	"wellbeat/internal/dispatch"
	"wellbeat/internal/eventbus"
	"wellbeat/internal/queue"
	"wellbeat/internal/schedules"
	"wellbeat/internal/store"
	"wellbeat/pkg/logx"
)

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger

	st  store.Store
	bus eventbus.Bus
	q   *queue.Service

	dispatcher *dispatch.Dispatcher
	scheds     *schedules.Service

	stopWatch context.CancelFunc
	wg        sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	mgr := config.NewManager(cfgPath)
	cfg, err := mgr.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logx())
	mgr.SetLogger(log)

	storeCfg, err := cfg.Store()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log.With(logx.String("comp", "store")))
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()
	q := queue.New(cfg.QueueService(), log.With(logx.String("comp", "queue")), bus, st)

	d := dispatch.New(st, q, bus, log.With(logx.String("comp", "dispatch")))
	q.RegisterHandler(queue.KindDispatch, d.HandleJob)

	sv := schedules.New(st, q, bus, log.With(logx.String("comp", "schedules")))
	sv.RegisterJobs()

	return &App{
		cfgMgr:     mgr,
		logSvc:     logSvc,
		log:        log,
		st:         st,
		bus:        bus,
		q:          q,
		dispatcher: d,
		scheds:     sv,
	}, nil
}

// Schedules exposes the flow service to the transport layer (out of scope
// here; tests and callers use it directly).
func (a *App) Schedules() *schedules.Service { return a.scheds }

// Bus exposes the event bus so delivery adapters can subscribe.
func (a *App) Bus() eventbus.Bus { return a.bus }

func (a *App) Start(ctx context.Context) error {
	if err := a.q.Start(ctx); err != nil {
		return err
	}

	wctx, cancel := context.WithCancel(ctx)
	a.stopWatch = cancel
	updates := a.cfgMgr.Subscribe(1)
	a.wg.Add(2)
	go func() {
		defer a.wg.Done()
		if err := a.cfgMgr.Watch(wctx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()
	go func() {
		defer a.wg.Done()
		for {
			select {
			case <-wctx.Done():
				a.cfgMgr.Unsubscribe(updates)
				return
			case cfg, ok := <-updates:
				if !ok {
					return
				}
				// Only the log section applies live; queue and storage
				// changes need a restart.
				a.logSvc.Apply(cfg.Logx())
			}
		}
	}()

	a.log.Info("app started")
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	if a.stopWatch != nil {
		a.stopWatch()
	}
	a.q.Stop(ctx)
	a.wg.Wait()
	err := a.st.Close()
	_ = a.logSvc.Close()
	return err
}
