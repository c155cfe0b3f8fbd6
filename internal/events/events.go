// Package events replaces the teacher's onQR/onReady/onClose callback
// fields (internal/core.Connection) with a subscriber bus: each call to
// Subscribe gets its own bounded queue, and a slow consumer is told it
// missed events via Lagged rather than blocking the producer or silently
// dropping state. Grounded on spec.md §4.8 and the §9 redesign flag
// ("event delivery built on ambient mutable callback fields... replace
// with an explicit subscriber model").
package events

import (
	"sync"
	"time"
)

// Kind identifies the shape of an Event's payload.
type Kind int

const (
	KindStateChanged Kind = iota
	KindEnrollmentCodeImage
	KindEnrollmentCodeTyped
	KindAuthenticated
	KindLoggedOut
	KindIncomingEnvelope
	KindReceipt
	KindConnectionError
	// KindLagged is synthesized by the bus itself, never published by a
	// producer, and tells a subscriber it missed one or more events
	// because its queue was full.
	KindLagged
)

// Event is the envelope delivered to subscribers. Payload's concrete type
// depends on Kind: session.Transition for KindStateChanged,
// session.ScannedCodeEvent for KindEnrollmentCodeImage, enroll.TypedCodeReply
// for KindEnrollmentCodeTyped, session.Snapshot for KindAuthenticated, the
// reason string for KindLoggedOut, []byte for KindIncomingEnvelope and
// KindReceipt, error for KindConnectionError, and nil for KindLagged — callers
// type-assert based on Kind, matching the teacher's single-purpose
// callback signatures collapsed into one sum type.
type Event struct {
	Kind    Kind
	At      time.Time
	Payload interface{}
}

// Subscription is a bounded per-subscriber queue. Receive from C until it
// closes (on Bus.Close) or call Unsubscribe to stop receiving early.
type Subscription struct {
	C <-chan Event

	bus *Bus
	id  uint64
	ch  chan Event
}

// Unsubscribe removes this subscription from the bus and closes C.
func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s.id)
}

// Bus fans a single stream of Events out to any number of subscribers,
// each with its own bounded queue sized by queueDepth.
type Bus struct {
	mu          sync.Mutex
	subs        map[uint64]chan Event
	nextID      uint64
	queueDepth  int
	closed      bool
}

// NewBus creates a Bus whose subscriber queues hold queueDepth events
// before a subscriber is considered lagging.
func NewBus(queueDepth int) *Bus {
	if queueDepth <= 0 {
		queueDepth = 32
	}
	return &Bus{subs: make(map[uint64]chan Event), queueDepth: queueDepth}
}

// Subscribe registers a new subscriber and returns its Subscription.
func (b *Bus) Subscribe() *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, b.queueDepth)
	id := b.nextID
	b.nextID++
	if b.closed {
		close(ch)
	} else {
		b.subs[id] = ch
	}
	return &Subscription{C: ch, bus: b, id: id, ch: ch}
}

func (b *Bus) unsubscribe(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Publish delivers ev to every current subscriber without blocking. For a
// subscriber whose queue is full, ev is not delivered: the oldest queued
// event is dropped to make room and a KindLagged event is enqueued in its
// place. Each overflow enqueues its own KindLagged event.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for id, ch := range b.subs {
		select {
		case ch <- ev:
		default:
			b.signalLagged(id, ch)
		}
	}
}

func (b *Bus) signalLagged(id uint64, ch chan Event) {
	// Drain one slot to make room for the Lagged marker; if even that
	// fails the queue is being serviced just slowly, not stuck, so skip
	// silently rather than deadlock under the bus lock.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- Event{Kind: KindLagged, At: time.Now()}:
	default:
	}
}

// Close closes every subscriber's channel and marks the bus closed; further
// Subscribe calls return an already-closed Subscription.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}
