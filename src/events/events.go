// Package events carries coarse lifecycle notifications between pipeline
// stages and observers (log mirror, tray tooltip, install progress).
// Delivery is best-effort: publishing never blocks, and subscribers that
// fall behind lose events.
package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies a lifecycle event.
type Kind int

const (
	KindStarted Kind = iota
	KindProgress
	KindSuccess
	KindError
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindStarted:
		return "started"
	case KindProgress:
		return "progress"
	case KindSuccess:
		return "success"
	case KindError:
		return "error"
	case KindCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Stage names used by the publishers in this repo.
const (
	StageBootstrap = "bootstrap"
	StageWorker    = "worker"
	StageScheduler = "scheduler"
	StageOverlay   = "overlay"
)

// Event is a single status notification.
type Event struct {
	Stage   string
	Kind    Kind
	Message string
	Err     error
	At      time.Time
}

type subscriber struct {
	ch     chan Event
	active bool
}

// Bus fans events out to subscribers. A nil *Bus is valid and drops
// everything, so components can treat the bus as optional.
type Bus struct {
	mu   sync.RWMutex
	subs map[string]*subscriber
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]*subscriber)}
}

// Subscribe registers a new subscriber with the given channel buffer and
// returns its token plus the receive channel.
func (b *Bus) Subscribe(buffer int) (string, <-chan Event) {
	if buffer <= 0 {
		buffer = 16
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	id := uuid.NewString()
	sub := &subscriber{ch: make(chan Event, buffer), active: true}
	b.subs[id] = sub
	return id, sub.ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subs[id]; ok {
		sub.active = false
		close(sub.ch)
		delete(b.subs, id)
	}
}

// Publish delivers ev to every subscriber that has room. Full subscribers
// are skipped rather than waited on.
func (b *Bus) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, sub := range b.subs {
		if !sub.active {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
		}
	}
}

// Close unsubscribes everyone.
func (b *Bus) Close() {
	if b == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		sub.active = false
		close(sub.ch)
		delete(b.subs, id)
	}
}
