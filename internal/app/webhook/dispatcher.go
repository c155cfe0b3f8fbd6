// Package webhook dispatches session lifecycle and message events to
// registered HTTP endpoints, adapted from the teacher's
// internal/webhook.Dispatcher: same HMAC-signed payload and retry-with-
// backoff delivery loop, now fed by an events.Bus subscription instead of
// direct calls sprinkled through handler code.
package webhook

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/duskrelay/wasession/internal/events"
	"github.com/duskrelay/wasession/internal/waerr"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Webhook is a registered delivery target.
type Webhook struct {
	ID        string    `json:"id"`
	URL       string    `json:"url"`
	Events    []string  `json:"events"`
	Secret    string    `json:"secret,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

// Event is the envelope delivered to a webhook endpoint.
type Event struct {
	Type      string      `json:"event"`
	Timestamp time.Time   `json:"timestamp"`
	SessionID string      `json:"sessionId,omitempty"`
	WebhookID string      `json:"webhookId,omitempty"`
	Signature string      `json:"signature,omitempty"`
	Data      interface{} `json:"data"`
}

// Event type names surfaced to subscribers, mapped from internal
// events.Kind values by the caller that bridges a session's Subscription
// into Dispatch calls.
const (
	EventSessionStateChanged = "session.state_changed"
	EventSessionAuthenticated = "session.authenticated"
	EventSessionLoggedOut     = "session.logged_out"
	EventEnrollmentCodeReady  = "session.enrollment_code_ready"
	EventMessageReceived      = "message.received"
	EventMessageReceipt       = "message.receipt"
	EventConnectionError      = "session.connection_error"
)

// ErrWebhookNotFound is returned by Unregister for an unknown ID.
var ErrWebhookNotFound = waerr.New(waerr.CodeConfig, "webhook not found")

// Dispatcher owns the registered webhook set and fans out events to
// matching endpoints concurrently, with retry.
type Dispatcher struct {
	mu         sync.RWMutex
	webhooks   map[string]*Webhook
	logger     *zap.SugaredLogger
	httpClient *http.Client
	maxRetries int
}

// NewDispatcher builds a Dispatcher with a 10s per-attempt HTTP timeout and
// 3 retries, matching the teacher's defaults.
func NewDispatcher(logger *zap.SugaredLogger) *Dispatcher {
	return &Dispatcher{
		webhooks:   make(map[string]*Webhook),
		logger:     logger,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		maxRetries: 3,
	}
}

// Register adds a new webhook subscribed to events (or "*" for all).
func (d *Dispatcher) Register(url string, events []string, secret string) (*Webhook, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	wh := &Webhook{
		ID:        "wh_" + uuid.New().String()[:8],
		URL:       url,
		Events:    events,
		Secret:    secret,
		Active:    true,
		CreatedAt: time.Now(),
	}
	d.webhooks[wh.ID] = wh
	d.logger.Infow("registered webhook", "id", wh.ID, "events", events)
	return wh, nil
}

// Unregister removes a webhook.
func (d *Dispatcher) Unregister(id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.webhooks[id]; !exists {
		return ErrWebhookNotFound
	}
	delete(d.webhooks, id)
	return nil
}

// List returns every registered webhook, with secrets redacted.
func (d *Dispatcher) List() []*Webhook {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Webhook, 0, len(d.webhooks))
	for _, wh := range d.webhooks {
		copy := *wh
		if copy.Secret != "" {
			copy.Secret = "***"
		}
		out = append(out, &copy)
	}
	return out
}

// Dispatch fans an event out to every active webhook subscribed to
// eventType (or "*"), each delivery running on its own goroutine.
func (d *Dispatcher) Dispatch(sessionID, eventType string, data interface{}) {
	d.mu.RLock()
	targets := make([]*Webhook, 0)
	for _, wh := range d.webhooks {
		if !wh.Active {
			continue
		}
		for _, e := range wh.Events {
			if e == eventType || e == "*" {
				targets = append(targets, wh)
				break
			}
		}
	}
	d.mu.RUnlock()

	for _, wh := range targets {
		go d.deliver(wh, sessionID, eventType, data)
	}
}

func (d *Dispatcher) deliver(wh *Webhook, sessionID, eventType string, data interface{}) {
	ev := Event{
		Type:      eventType,
		Timestamp: time.Now(),
		SessionID: sessionID,
		WebhookID: wh.ID,
		Data:      data,
	}
	if wh.Secret != "" {
		ev.Signature = sign(ev.Data, wh.Secret)
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		d.logger.Errorw("marshal webhook payload failed", "error", err)
		return
	}

	for attempt := 0; attempt <= d.maxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt*attempt) * time.Second)
		}

		req, err := http.NewRequest(http.MethodPost, wh.URL, bytes.NewReader(payload))
		if err != nil {
			d.logger.Errorw("build webhook request failed", "error", err)
			continue
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Webhook-ID", wh.ID)
		req.Header.Set("X-Webhook-Event", eventType)
		if ev.Signature != "" {
			req.Header.Set("X-Webhook-Signature", ev.Signature)
		}

		resp, err := d.httpClient.Do(req)
		if err != nil {
			d.logger.Warnw("webhook delivery failed", "attempt", attempt+1, "error", err)
			continue
		}
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return
		}
		d.logger.Warnw("webhook rejected", "status", resp.StatusCode, "attempt", attempt+1)
	}

	d.logger.Errorw("webhook delivery exhausted retries", "url", wh.URL, "event", eventType)
}

// Watch drains sub for the lifetime of a session, translating each
// internal events.Event into a Dispatch call under the external event
// names webhook consumers subscribe to. Runs until the subscription's
// channel closes (the session's Machine shut down).
func (d *Dispatcher) Watch(sessionID string, sub *events.Subscription) {
	for ev := range sub.C {
		switch ev.Kind {
		case events.KindStateChanged:
			d.Dispatch(sessionID, EventSessionStateChanged, ev.Payload)
		case events.KindAuthenticated:
			d.Dispatch(sessionID, EventSessionAuthenticated, ev.Payload)
		case events.KindLoggedOut:
			d.Dispatch(sessionID, EventSessionLoggedOut, ev.Payload)
		case events.KindEnrollmentCodeImage:
			d.Dispatch(sessionID, EventEnrollmentCodeReady, ev.Payload)
		case events.KindIncomingEnvelope:
			d.Dispatch(sessionID, EventMessageReceived, ev.Payload)
		case events.KindReceipt:
			d.Dispatch(sessionID, EventMessageReceipt, ev.Payload)
		case events.KindConnectionError:
			d.Dispatch(sessionID, EventConnectionError, ev.Payload)
		}
	}
}

func sign(data interface{}, secret string) string {
	payload, _ := json.Marshal(data)
	h := hmac.New(sha256.New, []byte(secret))
	h.Write(payload)
	return "sha256=" + hex.EncodeToString(h.Sum(nil))
}
