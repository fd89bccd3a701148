// Package events delivers merged Pi-Status snapshots from the Connection
// Service to the GATT server's notification path.
package events

import (
	"sync"

	"github.com/micro-nova/sync-sonic-go/internal/models"
)

const subBufferSize = 8

// Delivery wraps a published snapshot with the sequence number it was
// assigned, so a subscriber can tell a coalescing drop (see Publish)
// apart from silence.
type Delivery struct {
	Seq  uint64
	Snap models.Snapshot
}

// Bus is a non-blocking, latest-wins publish-subscribe channel for
// models.Snapshot. The Connection Service owns all FSM state for a MAC
// on that MAC's own goroutine and only calls Publish once it has
// finished emitting every per-phase event belonging to a transition, so
// by the time a snapshot reaches the bus it already reflects a causally
// complete view. The bus's own job is narrower: make sure that view is
// never displaced by a stale one still sitting unread in a slow
// subscriber's buffer.
//
// If a subscriber's buffer is full, Publish drops the oldest queued
// delivery rather than the new one — an unread snapshot from three
// transitions ago is never more useful to a phone than the current
// state, so coalescing toward the latest value beats the arrival-order
// drop a generic event bus would apply.
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Delivery
	last Delivery
	seq  uint64
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]chan Delivery)}
}

// Subscribe creates a new subscription with the given ID and, if a
// snapshot has already been published, immediately replays the latest
// one — a GATT client subscribing after the daemon has settled into a
// steady state shouldn't have to wait for the next transition to learn
// it. Call Unsubscribe when done to clean up.
func (b *Bus) Subscribe(id string) <-chan Delivery {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Delivery, subBufferSize)
	b.subs[id] = ch
	if b.seq > 0 {
		ch <- b.last
	}
	return ch
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish assigns the next sequence number and sends the snapshot to
// every subscriber, coalescing toward the latest value on a full buffer
// instead of dropping the one just published.
func (b *Bus) Publish(snap models.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	d := Delivery{Seq: b.seq, Snap: snap}
	b.last = d
	for _, ch := range b.subs {
		select {
		case ch <- d:
			continue
		default:
		}
		// Buffer is full: evict the oldest queued delivery and retry once.
		// A failed retry here means another Publish raced onto the same
		// slot first, which is harmless — that delivery is newer still.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- d:
		default:
		}
	}
}

// SubscriberCount returns the current number of subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
