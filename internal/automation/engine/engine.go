package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"flowdesk/internal/automation"
	"flowdesk/internal/automation/handler"
	"flowdesk/internal/automation/recurrence"
	"flowdesk/internal/eventbus"
	"flowdesk/internal/storage"
	"flowdesk/pkg/logx"
)

// onceRefireWindow is the one-shot guard window: a ONCE automation whose
// last execution is closer than this is considered already-fired for its
// current activation and must not be dispatched again.
const onceRefireWindow = 24 * time.Hour

type Engine struct {
	mu  sync.Mutex
	cfg Config

	log   logx.Logger
	bus   eventbus.Bus
	store storage.Store
	reg   *handler.Registry
	calc  recurrence.Calculator

	// now is injected for tests; defaults to time.Now.
	now func() time.Time

	limiter *rate.Limiter

	tick     RunState
	inFlight int32

	ticksRun  uint64
	succeeded uint64
	failed    uint64
	skipped   uint64
	critical  uint64

	hmu      sync.Mutex
	lastTick *TickSummary
	history  []TickSummary
}

type Option func(*Engine)

// WithClock overrides the engine's time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}

func New(cfg Config, store storage.Store, reg *handler.Registry, calc recurrence.Calculator, log logx.Logger, bus eventbus.Bus, opts ...Option) *Engine {
	if log.IsZero() {
		log = logx.Nop()
	}
	e := &Engine{
		cfg:     cfg.withDefaults(),
		log:     log,
		bus:     bus,
		store:   store,
		reg:     reg,
		calc:    calc,
		now:     time.Now,
		limiter: newLimiter(cfg.DispatchRatePerSec),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Apply swaps execution settings at runtime (config hot reload).
func (e *Engine) Apply(cfg Config) {
	e.mu.Lock()
	e.cfg = cfg.withDefaults()
	e.limiter = newLimiter(cfg.DispatchRatePerSec)
	e.mu.Unlock()
}

// SetCalculator swaps the recurrence calculator, e.g. after a default
// timezone change. Ticks already in flight keep the old one.
func (e *Engine) SetCalculator(calc recurrence.Calculator) {
	e.mu.Lock()
	e.calc = calc
	e.mu.Unlock()
}

func (e *Engine) calculator() recurrence.Calculator {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calc
}

func newLimiter(perSec int) *rate.Limiter {
	if perSec <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perSec), perSec)
}

// RunTick evaluates all due automations once and returns the per-tick
// summary. Overlapping invocations are rejected with ErrTickInProgress;
// the caller should treat that as a skipped tick, not a failure.
func (e *Engine) RunTick(ctx context.Context) (TickSummary, error) {
	if !e.tick.tryAcquire() {
		return TickSummary{}, ErrTickInProgress
	}
	defer e.tick.release()

	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	// One authoritative now for the whole tick.
	now := e.now()

	scheduled, err := e.store.ListScheduled(ctx)
	if err != nil {
		return TickSummary{}, err
	}
	due := selectDue(scheduled, now)

	summary := TickSummary{At: now, Evaluated: len(due)}
	if len(due) == 0 {
		e.recordTick(summary, cfg)
		return summary, nil
	}

	e.log.Debug("tick started", logx.Time("now", now), logx.Int("scheduled", len(scheduled)), logx.Int("due", len(due)))

	workers := cfg.Workers
	if workers > len(due) {
		workers = len(due)
	}

	jobs := make(chan automation.Automation)
	results := make(chan TickResult, len(due))

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				atomic.AddInt32(&e.inFlight, 1)
				results <- e.runOne(ctx, cfg, a, now)
				atomic.AddInt32(&e.inFlight, -1)
			}
		}()
	}
	for _, a := range due {
		jobs <- a
	}
	close(jobs)
	wg.Wait()
	close(results)

	for r := range results {
		summary.Results = append(summary.Results, r)
		switch r.Outcome {
		case OutcomeSuccess:
			atomic.AddUint64(&e.succeeded, 1)
		case OutcomeFailed:
			atomic.AddUint64(&e.failed, 1)
		case OutcomeSkipped:
			atomic.AddUint64(&e.skipped, 1)
		case OutcomeCriticalError:
			atomic.AddUint64(&e.critical, 1)
		}
	}

	e.recordTick(summary, cfg)
	e.log.Info("tick finished",
		logx.Int("evaluated", summary.Evaluated),
		logx.Duration("took", e.now().Sub(now)),
	)
	return summary, nil
}

func (e *Engine) recordTick(s TickSummary, cfg Config) {
	atomic.AddUint64(&e.ticksRun, 1)
	e.hmu.Lock()
	e.lastTick = &s
	e.history = append(e.history, s)
	if len(e.history) > cfg.HistorySize {
		e.history = e.history[len(e.history)-cfg.HistorySize:]
	}
	e.hmu.Unlock()

	if e.bus != nil {
		e.bus.Publish(eventbus.Event{Type: "tick.finished", Time: s.At, Data: s})
	}
}

// History returns retained tick summaries, oldest first.
func (e *Engine) History() []TickSummary {
	e.hmu.Lock()
	defer e.hmu.Unlock()
	out := make([]TickSummary, len(e.history))
	copy(out, e.history)
	return out
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	cfg := e.cfg
	e.mu.Unlock()

	snap := Snapshot{
		Workers:            cfg.Workers,
		HandlerTimeout:     cfg.HandlerTimeout,
		DispatchRatePerSec: cfg.DispatchRatePerSec,
		InFlight:           int(atomic.LoadInt32(&e.inFlight)),
		TicksRun:           atomic.LoadUint64(&e.ticksRun),
		Succeeded:          atomic.LoadUint64(&e.succeeded),
		Failed:             atomic.LoadUint64(&e.failed),
		Skipped:            atomic.LoadUint64(&e.skipped),
		Critical:           atomic.LoadUint64(&e.critical),
	}
	e.hmu.Lock()
	if e.lastTick != nil {
		last := *e.lastTick
		snap.LastTick = &last
	}
	e.hmu.Unlock()
	return snap
}

func (e *Engine) limiterRef() *rate.Limiter {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.limiter
}

func (e *Engine) publish(typ string, at time.Time, ev AutomationEvent) {
	if e.bus == nil {
		return
	}
	e.bus.Publish(eventbus.Event{Type: typ, Time: at, Data: ev})
}
