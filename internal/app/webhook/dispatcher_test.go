package webhook

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testDispatcher() *Dispatcher {
	return NewDispatcher(zap.NewNop().Sugar())
}

func TestRegisterUnregisterList(t *testing.T) {
	d := testDispatcher()

	wh, err := d.Register("https://example.test/hook", []string{EventSessionAuthenticated}, "secret")
	require.NoError(t, err)
	require.NotEmpty(t, wh.ID)

	list := d.List()
	require.Len(t, list, 1)
	require.Equal(t, "***", list[0].Secret, "List must redact secrets")

	require.NoError(t, d.Unregister(wh.ID))
	require.Empty(t, d.List())
}

func TestUnregisterUnknownIDReturnsErrWebhookNotFound(t *testing.T) {
	d := testDispatcher()
	require.ErrorIs(t, d.Unregister("never-registered"), ErrWebhookNotFound)
}

func TestDispatchDeliversOnlyToMatchingActiveWebhooks(t *testing.T) {
	var mu sync.Mutex
	var received []string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		received = append(received, r.Header.Get("X-Webhook-Event"))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDispatcher()
	_, err := d.Register(server.URL, []string{EventSessionAuthenticated}, "")
	require.NoError(t, err)
	_, err = d.Register(server.URL, []string{EventMessageReceipt}, "")
	require.NoError(t, err)

	d.Dispatch("session-1", EventSessionAuthenticated, map[string]string{"ok": "yes"})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{EventSessionAuthenticated}, received)
}

func TestDispatchWildcardSubscriptionReceivesEverything(t *testing.T) {
	var mu sync.Mutex
	count := 0

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		count++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDispatcher()
	_, err := d.Register(server.URL, []string{"*"}, "")
	require.NoError(t, err)

	d.Dispatch("session-1", EventMessageReceived, nil)
	d.Dispatch("session-1", EventConnectionError, nil)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return count == 2
	}, time.Second, 5*time.Millisecond)
}

func TestDispatchSignsPayloadWhenSecretSet(t *testing.T) {
	received := make(chan string, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received <- r.Header.Get("X-Webhook-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDispatcher()
	_, err := d.Register(server.URL, []string{"*"}, "top-secret")
	require.NoError(t, err)

	d.Dispatch("session-1", EventMessageReceived, map[string]string{"a": "b"})

	select {
	case sig := <-received:
		require.NotEmpty(t, sig)
		require.Equal(t, sign(map[string]string{"a": "b"}, "top-secret"), sig)
	case <-time.After(time.Second):
		t.Fatal("webhook was never delivered")
	}
}

func TestDispatchToInactiveWebhookSkipsDelivery(t *testing.T) {
	var mu sync.Mutex
	delivered := false

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		delivered = true
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	d := testDispatcher()
	wh, err := d.Register(server.URL, []string{"*"}, "")
	require.NoError(t, err)
	wh.Active = false

	d.Dispatch("session-1", EventMessageReceived, nil)
	time.Sleep(50 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.False(t, delivered)
}
