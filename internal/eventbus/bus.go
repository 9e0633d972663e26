package eventbus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Event types published by the planner after a successful commit.
const (
	TypeProjectCreated    = "project.created"
	TypeProjectDeleted    = "project.deleted"
	TypeTaskCreated       = "task.created"
	TypeTaskUpdated       = "task.updated"
	TypeTaskDeleted       = "task.deleted"
	TypeDependencyAdded   = "dependency.added"
	TypeDependencyRemoved = "dependency.removed"
	TypeScheduleUpdated   = "schedule.updated"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers MUST use buffered channels.
//   - Slow subscribers may drop events (bounded backpressure).
//
// Data holds one of the payload types below.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// ScheduleUpdated carries the result of a propagation that was committed.
type ScheduleUpdated struct {
	ProjectID string
	StartDate time.Time
	EndDate   time.Time
	Duration  int
	Tasks     int
	Critical  []string
}

type TaskChanged struct {
	ProjectID string
	TaskID    string
}

type DependencyChanged struct {
	ProjectID    string
	TaskID       string
	DependencyID string
}

type ProjectChanged struct {
	ProjectID string
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
	// Dropped counts events not delivered to a full subscriber.
	Dropped() uint64
}

// New returns a simple in-memory fanout bus.
// It does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu      sync.RWMutex
	subs    map[uint64]chan Event
	seq     atomic.Uint64
	dropped atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch; recover from the send panic.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
				b.dropped.Add(1)
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

func (b *memBus) Dropped() uint64 { return b.dropped.Load() }
