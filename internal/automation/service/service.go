package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"flowdesk/internal/automation/engine"
	"flowdesk/internal/automation/handler"
	"flowdesk/internal/automation/recurrence"
	"flowdesk/internal/config"
	"flowdesk/internal/eventbus"
	"flowdesk/internal/runtime/supervisor"
	"flowdesk/internal/storage"
	"flowdesk/pkg/logx"
)

const defaultPollInterval = time.Minute

// Config is the resolved scheduler configuration.
type Config struct {
	Enabled      bool
	PollInterval time.Duration
	// Timezone is the default IANA zone for HH:MM schedule fields.
	// Empty means UTC.
	Timezone string
	Engine   engine.Config
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	return c
}

// FromScheduler maps the application config section onto a Config,
// parsing the string durations.
func FromScheduler(sc config.SchedulerConfig) (Config, error) {
	poll, err := config.ParseDurationOrDefault("scheduler.poll_interval", sc.PollInterval, defaultPollInterval)
	if err != nil {
		return Config{}, err
	}
	handlerTimeout, err := config.ParseDurationOrDefault("scheduler.handler_timeout", sc.HandlerTimeout, 0)
	if err != nil {
		return Config{}, err
	}
	return Config{
		Enabled:      sc.Enabled,
		PollInterval: poll,
		Timezone:     strings.TrimSpace(sc.Timezone),
		Engine: engine.Config{
			Workers:            sc.Workers,
			HandlerTimeout:     handlerTimeout,
			DispatchRatePerSec: sc.DispatchRatePerSec,
			HistorySize:        sc.HistorySize,
		},
	}, nil
}

// Service drives the engine from a polling loop and exposes the
// automation CRUD API.
type Service struct {
	mu      sync.Mutex
	cfg     Config
	loc     *time.Location
	running bool
	sup     *supervisor.Supervisor

	log   logx.Logger
	store storage.Store
	eng   *engine.Engine

	now func() time.Time
}

type Option func(*Service)

// WithClock overrides the service's (and its engine's) time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func New(cfg Config, store storage.Store, reg *handler.Registry, log logx.Logger, bus eventbus.Bus, opts ...Option) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	cfg = cfg.withDefaults()
	loc, err := resolveLocation(cfg.Timezone)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:   cfg,
		loc:   loc,
		log:   log,
		store: store,
		now:   time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	s.eng = engine.New(cfg.Engine, store, reg, s.calculator(), log, bus, engine.WithClock(s.now))
	return s, nil
}

func resolveLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("scheduler.timezone: %w", err)
	}
	return loc, nil
}

func newCalculator(loc *time.Location) recurrence.Calculator {
	return recurrence.Calculator{
		CronEval:        recurrence.NewStandardCron(),
		DefaultLocation: loc,
	}
}

func (s *Service) calculator() recurrence.Calculator {
	s.mu.Lock()
	defer s.mu.Unlock()
	return newCalculator(s.loc)
}

// Engine exposes the underlying engine for diagnostic surfaces.
func (s *Service) Engine() *engine.Engine { return s.eng }

// Start launches the polling loop. A disabled service starts nothing
// and returns nil; double starts are no-ops.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	if !s.cfg.Enabled {
		s.log.Info("scheduler disabled, not starting")
		return nil
	}
	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	s.sup.GoRestart("automation.poller", s.pollLoop)
	s.running = true
	s.log.Info("scheduler started",
		logx.Duration("poll_interval", s.cfg.PollInterval),
		logx.String("timezone", s.loc.String()),
	)
	return nil
}

// Stop halts the polling loop and waits for an in-flight tick to finish.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	s.running = false
	s.mu.Unlock()
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

func (s *Service) pollLoop(ctx context.Context) error {
	timer := time.NewTimer(s.interval())
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
		if _, err := s.eng.RunTick(ctx); err != nil {
			if errors.Is(err, engine.ErrTickInProgress) {
				s.log.Debug("tick still running, skipping poll")
			} else if ctx.Err() == nil {
				s.log.Error("tick failed", logx.Err(err))
			}
		}
		timer.Reset(s.interval())
	}
}

func (s *Service) interval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PollInterval
}

// Apply swaps scheduler settings at runtime. Engine settings take
// effect on the next tick; a timezone change swaps the recurrence
// calculator; a poll interval change is picked up after the current
// wait elapses. Toggling Enabled requires a Stop/Start cycle, which the
// caller owns.
func (s *Service) Apply(cfg Config) error {
	cfg = cfg.withDefaults()
	loc, err := resolveLocation(cfg.Timezone)
	if err != nil {
		return err
	}
	s.mu.Lock()
	tzChanged := s.loc.String() != loc.String()
	s.cfg = cfg
	s.loc = loc
	s.mu.Unlock()

	s.eng.Apply(cfg.Engine)
	if tzChanged {
		s.eng.SetCalculator(newCalculator(loc))
		s.log.Info("default timezone changed", logx.String("timezone", loc.String()))
	}
	return nil
}
