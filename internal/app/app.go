// Package app wires configuration, storage, the handler registry, the
// automation service and the HTTP API into one process with hot reload.
package app

import (
	"context"
	"time"

	"flowdesk/internal/automation/handler"
	"flowdesk/internal/automation/service"
	"flowdesk/internal/config"
	"flowdesk/internal/eventbus"
	"flowdesk/internal/httpapi"
	"flowdesk/internal/runtime/supervisor"
	"flowdesk/internal/storage"
	"flowdesk/pkg/logx"
)

type App struct {
	cfgm *config.Manager
	sup  *supervisor.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	reg   *handler.Registry
	sched *service.Service
	api   *httpapi.Server
}

func New(cfgPath string) (*App, error) {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}

	logSvc, log := logx.New(cfg.Logging.ToLogx())
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	st, err := storage.Open(mapStorageConfig(cfg.Storage), log.With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	reg := handler.NewRegistry()
	handler.RegisterLogging(reg, log.With(logx.String("comp", "handler")))

	schedCfg, err := service.FromScheduler(cfg.Scheduler)
	if err != nil {
		return nil, err
	}
	sched, err := service.New(schedCfg, st, reg, log.With(logx.String("comp", "scheduler")), bus)
	if err != nil {
		return nil, err
	}

	api := httpapi.New(httpapi.Config{
		Enabled: cfg.HTTP.Enabled,
		Address: cfg.HTTP.Address,
	}, sched, log.With(logx.String("comp", "http")))

	return &App{
		cfgm:  cfgm,
		log:   log,
		logs:  logSvc,
		bus:   bus,
		store: st,
		reg:   reg,
		sched: sched,
		api:   api,
	}, nil
}

// Registry exposes the handler registry so embedders can swap the
// logging handlers for real ones before Start.
func (a *App) Registry() *handler.Registry { return a.reg }

// Scheduler exposes the automation service.
func (a *App) Scheduler() *service.Service { return a.sched }

func (a *App) Start(ctx context.Context) error {
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	})

	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.api.Start(a.sup.Context()); err != nil {
		_ = a.sched.Stop(ctx)
		return err
	}

	// Config file watch + live reload.
	a.sup.GoRestart("config.watch", a.cfgm.Watch)
	updates := a.cfgm.Subscribe(4)
	a.sup.Go("config.reload", func(c context.Context) error {
		defer a.cfgm.Unsubscribe(updates)
		for {
			select {
			case <-c.Done():
				return c.Err()
			case cfg, ok := <-updates:
				if !ok {
					return nil
				}
				a.applyConfig(cfg)
			}
		}
	})

	a.log.Info("started")
	return nil
}

func (a *App) applyConfig(cfg *config.Config) {
	a.logs.Apply(cfg.Logging.ToLogx())

	schedCfg, err := service.FromScheduler(cfg.Scheduler)
	if err != nil {
		// Validator should have caught this; keep the old settings.
		a.log.Error("reload: bad scheduler config", logx.Err(err))
		return
	}
	if err := a.sched.Apply(schedCfg); err != nil {
		a.log.Error("reload: apply scheduler config", logx.Err(err))
		return
	}
	a.log.Info("config reloaded")
}

// Done is closed when the app supervisor context is canceled.
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor, if any.
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
	}
	var firstErr error
	if err := a.api.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := a.sched.Stop(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if a.sup != nil {
		if err := a.sup.Stop(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := a.store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return firstErr
}

func mapStorageConfig(sc config.StorageConfig) storage.Config {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 0)
	if err != nil {
		busy = 0
	}
	return storage.Config{
		Driver:      sc.Driver,
		Path:        sc.Path,
		BusyTimeout: busy,
	}
}
