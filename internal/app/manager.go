// Package app is the application layer fronting the core: a multi-session
// manager wrapping one session.Machine per tenant, grounded on the
// teacher's internal/client.SessionManager. It is a consumer of the core's
// public API only — it never reaches into session/transport/mux
// internals.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/duskrelay/wasession/internal/app/store"
	"github.com/duskrelay/wasession/internal/app/webhook"
	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/enroll"
	"github.com/duskrelay/wasession/internal/events"
	"github.com/duskrelay/wasession/internal/session"
	"github.com/duskrelay/wasession/internal/waerr"
	"go.uber.org/zap"
)

// Handle wraps one session.Machine with the bookkeeping the gateway layer
// needs: the session ID callers address it by, the latest observed state
// (cached off the event bus so status reads don't round-trip the actor),
// and the most recent scanned-code event for QR rendering.
type Handle struct {
	ID string

	machine *session.Machine
	store   *store.FileStore
	logger  *zap.SugaredLogger

	mu          sync.RWMutex
	state       session.State
	lastCode    *session.ScannedCodeEvent
	lastErr     error
	createdAt   time.Time
}

// Machine exposes the underlying session.Machine for callers (e.g. the
// send handler) that need to drive requests directly.
func (h *Handle) Machine() *session.Machine { return h.machine }

// Snapshot is the gateway-facing view of a session's current status.
type Snapshot struct {
	ID        string     `json:"id"`
	State     string     `json:"state"`
	CreatedAt time.Time  `json:"createdAt"`
	LastError string     `json:"lastError,omitempty"`
}

// Status returns the handle's cached snapshot.
func (h *Handle) Status() Snapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s := Snapshot{ID: h.ID, State: h.state.String(), CreatedAt: h.createdAt}
	if h.lastErr != nil {
		s.LastError = h.lastErr.Error()
	}
	return s
}

func (h *Handle) currentState() session.State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// LastScannedCode returns the most recent enrollment code event, if any
// scanned-code enrollment has started.
func (h *Handle) LastScannedCode() (session.ScannedCodeEvent, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.lastCode == nil {
		return session.ScannedCodeEvent{}, false
	}
	return *h.lastCode, true
}

func (h *Handle) watch(bus *events.Subscription) {
	for ev := range bus.C {
		h.mu.Lock()
		switch ev.Kind {
		case events.KindStateChanged:
			if t, ok := ev.Payload.(session.Transition); ok {
				h.state = t.To
			}
		case events.KindEnrollmentCodeImage:
			if sc, ok := ev.Payload.(session.ScannedCodeEvent); ok {
				h.lastCode = &sc
			}
		case events.KindAuthenticated:
			h.lastErr = nil
		case events.KindConnectionError:
			if err, ok := ev.Payload.(error); ok {
				h.lastErr = err
			}
		case events.KindLagged:
			h.logger.Warnw("event subscriber lagged, dropped events", "session", h.ID)
		}
		h.mu.Unlock()

		if snap, ok := ev.Payload.(session.Snapshot); ok && ev.Kind == events.KindAuthenticated {
			if err := h.store.Save(h.ID, snap); err != nil {
				h.logger.Warnw("persist session credential failed", "session", h.ID, "error", err)
			}
		}
	}
}

// Manager owns every active Handle, keyed by session ID, following the
// teacher's SessionManager: a mutex-guarded map plus a data directory for
// persisted credentials.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Handle

	cfg        config.Config
	logger     *zap.SugaredLogger
	store      *store.FileStore
	dispatcher *webhook.Dispatcher
}

// ErrSessionExists mirrors the teacher's sentinel for a duplicate Create.
var ErrSessionExists = waerr.New(waerr.CodeConfig, "session already exists")

// ErrSessionNotFound mirrors the teacher's sentinel for an unknown ID.
var ErrSessionNotFound = waerr.New(waerr.CodeConfig, "session not found")

// NewManager builds a Manager persisting credentials under dataDir and
// fanning every session's events out to dispatcher (may be nil to disable
// webhook delivery).
func NewManager(cfg config.Config, logger *zap.SugaredLogger, dataDir string, dispatcher *webhook.Dispatcher) (*Manager, error) {
	st, err := store.NewFileStore(dataDir)
	if err != nil {
		return nil, err
	}
	return &Manager{
		sessions:   make(map[string]*Handle),
		cfg:        cfg,
		logger:     logger,
		store:      st,
		dispatcher: dispatcher,
	}, nil
}

// CreateSession builds a fresh, unauthenticated session.Machine for id and
// starts its connect attempt. Returns ErrSessionExists if id is already
// registered.
func (m *Manager) CreateSession(ctx context.Context, id string) (*Handle, error) {
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return nil, ErrSessionExists
	}
	m.mu.Unlock()

	return m.start(ctx, id, nil)
}

func (m *Manager) start(ctx context.Context, id string, restore *session.Snapshot) (*Handle, error) {
	machine, err := session.New(m.cfg, m.logger, restore)
	if err != nil {
		return nil, err
	}

	h := &Handle{
		ID:        id,
		machine:   machine,
		store:     m.store,
		logger:    m.logger,
		createdAt: time.Now(),
	}
	sub := machine.Subscribe()
	go h.watch(sub)
	if m.dispatcher != nil {
		go m.dispatcher.Watch(id, machine.Subscribe())
	}

	m.mu.Lock()
	m.sessions[id] = h
	m.mu.Unlock()

	if err := machine.Connect(ctx); err != nil {
		m.logger.Warnw("initial connect failed, relying on session reconnect loop", "session", id, "error", err)
	}
	return h, nil
}

// GetSession returns the handle for id, or (nil, false) if unknown.
func (m *Manager) GetSession(id string) (*Handle, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.sessions[id]
	return h, ok
}

// ListSessions returns every registered handle.
func (m *Manager) ListSessions() []*Handle {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		out = append(out, h)
	}
	return out
}

// Stats summarizes session counts by state, mirroring the teacher's
// SessionStats.
type Stats struct {
	Total         int `json:"total"`
	Authenticated int `json:"authenticated"`
	Connecting    int `json:"connecting"`
}

// Stats computes the current session breakdown.
func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := Stats{Total: len(m.sessions)}
	for _, h := range m.sessions {
		switch h.currentState() {
		case session.StateAuthenticated:
			stats.Authenticated++
		case session.StateConnecting, session.StateHandshake, session.StateAwaitingEnrollment, session.StateReconnecting:
			stats.Connecting++
		}
	}
	return stats
}

// DeleteSession closes and forgets the session, and removes its persisted
// credential.
func (m *Manager) DeleteSession(id string) error {
	m.mu.Lock()
	h, exists := m.sessions[id]
	if !exists {
		m.mu.Unlock()
		return ErrSessionNotFound
	}
	delete(m.sessions, id)
	m.mu.Unlock()

	err := h.machine.Close()
	if delErr := m.store.Delete(id); delErr != nil {
		m.logger.Warnw("delete persisted credential failed", "session", id, "error", delErr)
	}
	return err
}

// LoadPersisted reconnects every session with a credential file already on
// disk, following the teacher's LoadPersistedSessions.
func (m *Manager) LoadPersisted(ctx context.Context) error {
	ids, err := m.store.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		snap, ok, err := m.store.Load(id)
		if err != nil {
			m.logger.Warnw("skip unreadable persisted session", "session", id, "error", err)
			continue
		}
		if !ok {
			continue
		}
		if _, err := m.start(ctx, id, &snap); err != nil {
			m.logger.Warnw("restore persisted session failed", "session", id, "error", err)
		}
	}
	return nil
}

// DisconnectAll closes every active session's machine, used on shutdown.
func (m *Manager) DisconnectAll() {
	m.mu.RLock()
	handles := make([]*Handle, 0, len(m.sessions))
	for _, h := range m.sessions {
		handles = append(handles, h)
	}
	m.mu.RUnlock()

	for _, h := range handles {
		if err := h.machine.Close(); err != nil {
			m.logger.Warnw("close session failed", "session", h.ID, "error", err)
		}
	}
}

// RequestTypedCode proxies to the session's typed-code enrollment path, used
// by the gateway's phone-number linking endpoint.
func (h *Handle) RequestTypedCode(ctx context.Context, destinationID string) (enroll.TypedCodeReply, error) {
	return h.machine.RequestTypedCode(ctx, enroll.TypedCodeRequest{DestinationID: destinationID})
}
