package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Well-known event types. These names are part of the panel's SSE contract.
const (
	TypeFeedingUpdate = "feeding:update"
	TypePouchesUpdate = "pouches:update"
	TypeListsUpdate   = "lists:update"
	TypeAlertsNew     = "alerts:new"
	TypeHeartbeat     = "heartbeat"
)

// Event is a lightweight, in-memory signal used to decouple components.
//
// Contract:
//   - Publish MUST be non-blocking.
//   - Subscribers use buffered channels; slow subscribers may drop events
//     (bounded backpressure).
//
// Data should be small and JSON-serializable (it goes onto the SSE wire).
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe registers a subscriber queue. hb is the heartbeat interval
	// used by Subscription.Receive; hb <= 0 uses DefaultHeartbeat.
	Subscribe(buffer int, hb time.Duration) *Subscription
}

const DefaultHeartbeat = 30 * time.Second

// New returns a simple in-memory fanout bus.
//
// It intentionally does not own any background goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot subscribers so Publish doesn't hold locks while sending.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// Non-blocking delivery. If the subscriber is slow, we drop.
		// If a subscriber unsubscribes concurrently and the channel closes,
		// recover from a possible panic (send on closed channel).
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, hb time.Duration) *Subscription {
	if buffer <= 0 {
		buffer = 8
	}
	if hb <= 0 {
		hb = DefaultHeartbeat
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	s := &Subscription{ch: ch, hb: hb}
	s.unsub = func() {
		s.once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Closing is safe because Publish recovers from send panics.
			close(ch)
		})
	}
	return s
}

// Subscription is an ephemeral per-consumer queue. It owns no persistent
// state; create on connect, Close on disconnect.
type Subscription struct {
	ch    chan Event
	hb    time.Duration
	unsub func()
	once  sync.Once
}

// Events exposes the raw queue for select-based consumers.
// The channel is closed by Close().
func (s *Subscription) Events() <-chan Event { return s.ch }

// Receive blocks until an event arrives, the heartbeat interval elapses
// (a synthetic heartbeat event is returned), or ctx is done.
//
// The second return is false once the subscription is closed.
func (s *Subscription) Receive(ctx context.Context) (Event, bool) {
	t := time.NewTimer(s.hb)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return Event{}, false
	case e, ok := <-s.ch:
		if !ok {
			return Event{}, false
		}
		return e, true
	case now := <-t.C:
		return Event{Type: TypeHeartbeat, Time: now}, true
	}
}

// Close unsubscribes. Idempotent, and safe to call concurrently with an
// in-flight Publish.
func (s *Subscription) Close() { s.unsub() }
