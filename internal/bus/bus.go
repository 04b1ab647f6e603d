// internal/bus/bus.go

// Package bus is the in-process pub/sub layer that fans newly recorded mood
// log entries and alerts out to live guardian subscriptions. Delivery is
// best-effort to whoever is subscribed at publish time; there is no replay,
// and durable history lives in the store.
package bus

import (
	"log/slog"
	"sync"

	"github.com/user/kidwatch/internal/types"
)

// subscriberBuffer is the per-subscription channel depth. A subscriber that
// falls this far behind starts losing events; it can resync from the store.
const subscriberBuffer = 64

// Subscription is a live event feed for one child. Receive from C until
// Cancel is called, after which C is closed.
type Subscription struct {
	ID      types.SubscriptionID
	ChildID types.ChildID
	C       <-chan types.Event

	bus    *Bus
	ch     chan types.Event
	mu     sync.Mutex
	closed bool
}

// Cancel removes the subscription from the bus registry and closes C.
// Safe to call more than once.
func (s *Subscription) Cancel() {
	s.bus.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// send delivers one event without blocking the publisher. Returns false if
// the event was dropped because the subscription is cancelled or its buffer
// is full.
func (s *Subscription) send(ev types.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- ev:
		return true
	default:
		return false
	}
}

// Bus is a per-child pub/sub registry. Publish and subscribe/unsubscribe are
// safe for concurrent use; the registry lock is held only long enough to
// snapshot the subscriber set, so fan-out never blocks new subscriptions.
type Bus struct {
	mu   sync.RWMutex
	subs map[types.ChildID][]*Subscription
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs: make(map[types.ChildID][]*Subscription),
	}
}

// Subscribe registers a live event feed for the child. Events published
// before Subscribe returns are not delivered.
func (b *Bus) Subscribe(childID types.ChildID) *Subscription {
	ch := make(chan types.Event, subscriberBuffer)
	sub := &Subscription{
		ID:      types.NewSubscriptionID(),
		ChildID: childID,
		C:       ch,
		bus:     b,
		ch:      ch,
	}

	b.mu.Lock()
	b.subs[childID] = append(b.subs[childID], sub)
	b.mu.Unlock()

	return sub
}

// Publish delivers the event to every subscription active for the child at
// publish time. With no subscribers it is a no-op. Delivery failures are
// logged and never surfaced to the publisher.
func (b *Bus) Publish(childID types.ChildID, ev types.Event) {
	b.mu.RLock()
	current := b.subs[childID]
	snapshot := make([]*Subscription, len(current))
	copy(snapshot, current)
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if !sub.send(ev) {
			slog.Warn("dropping event for slow or cancelled subscriber",
				"child_id", string(childID),
				"subscription_id", string(sub.ID),
				"event_kind", string(ev.Kind))
		}
	}
}

// SubscriberCount returns the number of live subscriptions for the child.
func (b *Bus) SubscriberCount(childID types.ChildID) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[childID])
}

// remove deletes the subscription from the registry.
func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[sub.ChildID]
	for i, s := range subs {
		if s == sub {
			b.subs[sub.ChildID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[sub.ChildID]) == 0 {
		delete(b.subs, sub.ChildID)
	}
}
