// Package eventbus is a small in-process fanout for lifecycle events
// (ticks finishing, automations succeeding or failing). Publishing never
// blocks the scheduler: a subscriber that cannot keep up loses events
// instead of stalling a tick.
package eventbus

import (
	"sync"
	"time"
)

// Event is one bus message. Data carries a small, JSON-serializable
// payload (engine.AutomationEvent, engine.TickSummary).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	// Publish delivers e to current subscribers, dropping it for any
	// whose buffer is full. Never blocks.
	Publish(e Event)
	// Subscribe returns a buffered event channel and its unsubscribe
	// func. After unsubscribe returns the channel is closed.
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory bus with no background goroutines.
func New() Bus {
	return &fanout{subs: map[int]chan Event{}}
}

type fanout struct {
	mu   sync.Mutex
	next int
	subs map[int]chan Event
}

func (f *fanout) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	f.mu.Lock()
	targets := make([]chan Event, 0, len(f.subs))
	for _, ch := range f.subs {
		targets = append(targets, ch)
	}
	f.mu.Unlock()

	for _, ch := range targets {
		// A concurrent unsubscribe can close ch under us; treat the
		// resulting send panic as a drop.
		f.trySend(ch, e)
	}
}

func (f *fanout) trySend(ch chan Event, e Event) {
	defer func() { _ = recover() }()
	select {
	case ch <- e:
	default:
	}
}

func (f *fanout) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	f.mu.Lock()
	id := f.next
	f.next++
	f.subs[id] = ch
	f.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}
