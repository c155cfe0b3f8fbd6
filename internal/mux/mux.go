// Package mux implements the request multiplexer of spec.md §4.4: tag
// allocation, a pending-request map, and at-most-one delivery of each
// reply. The teacher has no equivalent — Connection only ever awaits a
// single reply off msgChan — so this is built fresh, borrowing the
// teacher's non-blocking select/default channel idiom for the hot path.
package mux

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/duskrelay/wasession/internal/waerr"
	"github.com/google/uuid"
)

// Result is delivered exactly once to a pending request's slot: either a
// reply payload or the error that completed it (Timeout, Cancelled,
// Disconnected).
type Result struct {
	Payload []byte
	Err     error
}

type pendingRequest struct {
	slot  chan Result
	timer *time.Timer
	done  bool
}

// Multiplexer owns the tag counter and the pending-request map. Per
// spec.md §5, it is only ever mutated from the dedicated session task;
// NewTag/Register/Complete/Cancel/DrainDisconnected assume single-writer
// access and use a mutex only to guard against the timer goroutines'
// callbacks racing with that task.
type Multiplexer struct {
	mu      sync.Mutex
	counter uint64
	pending map[string]*pendingRequest
}

// New creates an empty Multiplexer.
func New() *Multiplexer {
	return &Multiplexer{pending: make(map[string]*pendingRequest)}
}

// NewTag allocates a unique tag of the form "<monotonic_hex>-<random_hex>"
// (spec.md §4.4).
func (m *Multiplexer) NewTag() string {
	m.mu.Lock()
	m.counter++
	n := m.counter
	m.mu.Unlock()

	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s-%s", strconv.FormatUint(n, 16), random)
}

// Register creates a pending-request entry for tag with the given timeout.
// onTimeout is invoked (off a timer goroutine, not the caller) once the
// deadline elapses; the session task is expected to route that call back
// into CompleteTimeout on its own goroutine to preserve single-writer
// semantics over the rest of its state.
func (m *Multiplexer) Register(tag string, timeout time.Duration, onTimeout func(tag string)) <-chan Result {
	slot := make(chan Result, 1)
	entry := &pendingRequest{slot: slot}
	entry.timer = time.AfterFunc(timeout, func() { onTimeout(tag) })

	m.mu.Lock()
	m.pending[tag] = entry
	m.mu.Unlock()

	return slot
}

// Complete delivers payload to tag's slot if still pending. Returns false
// if tag is unknown (a reply with no matching tag is dropped per spec.md
// §4.4).
func (m *Multiplexer) Complete(tag string, payload []byte) bool {
	return m.finish(tag, Result{Payload: payload})
}

// CompleteTimeout completes tag with waerr.Timeout, called once the
// deadline set in Register elapses.
func (m *Multiplexer) CompleteTimeout(tag string) bool {
	return m.finish(tag, Result{Err: waerr.Timeout})
}

// Cancel completes tag with waerr.Cancelled, called when the caller's wait
// is cancelled.
func (m *Multiplexer) Cancel(tag string) bool {
	return m.finish(tag, Result{Err: waerr.Cancelled})
}

func (m *Multiplexer) finish(tag string, result Result) bool {
	m.mu.Lock()
	entry, ok := m.pending[tag]
	if ok {
		delete(m.pending, tag)
	}
	m.mu.Unlock()
	if !ok || entry.done {
		return false
	}
	entry.done = true
	entry.timer.Stop()
	entry.slot <- result
	return true
}

// DrainDisconnected completes every still-pending request with
// waerr.Disconnected; no pending entry survives a reconnection (spec.md
// §4.4 Connection drop).
func (m *Multiplexer) DrainDisconnected() {
	m.mu.Lock()
	pending := m.pending
	m.pending = make(map[string]*pendingRequest)
	m.mu.Unlock()

	for _, entry := range pending {
		if entry.done {
			continue
		}
		entry.done = true
		entry.timer.Stop()
		entry.slot <- Result{Err: waerr.Disconnected}
	}
}

// Pending reports the number of in-flight requests, used by tests and
// diagnostics.
func (m *Multiplexer) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}
