package app

import (
	"context"
	"testing"
	"time"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/duskrelay/wasession/internal/session"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testManagerConfig() config.Config {
	cfg, err := config.New(
		config.WithEndpoint("ws://127.0.0.1:1/ws", "http://127.0.0.1"),
		config.WithAutoReconnect(false),
		config.WithBackoff(time.Millisecond, 1, 2*time.Millisecond, 1),
	)
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestStatsCountsSessionsByState(t *testing.T) {
	m := &Manager{sessions: map[string]*Handle{
		"a": {ID: "a", state: session.StateAuthenticated},
		"b": {ID: "b", state: session.StateConnecting},
		"c": {ID: "c", state: session.StateReconnecting},
		"d": {ID: "d", state: session.StateDisconnected},
	}}

	stats := m.Stats()
	require.Equal(t, 4, stats.Total)
	require.Equal(t, 1, stats.Authenticated)
	require.Equal(t, 2, stats.Connecting)
}

func TestCreateSessionRegistersHandle(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zap.NewNop().Sugar(), t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	h, err := m.CreateSession(ctx, "tenant-1")
	require.NoError(t, err)
	require.Equal(t, "tenant-1", h.ID)
	defer m.DisconnectAll()

	got, ok := m.GetSession("tenant-1")
	require.True(t, ok)
	require.Same(t, h, got)
}

func TestCreateSessionDuplicateIDFails(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zap.NewNop().Sugar(), t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.CreateSession(ctx, "dup")
	require.NoError(t, err)
	defer m.DisconnectAll()

	_, err = m.CreateSession(ctx, "dup")
	require.ErrorIs(t, err, ErrSessionExists)
}

func TestDeleteSessionRemovesHandle(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zap.NewNop().Sugar(), t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.CreateSession(ctx, "temp")
	require.NoError(t, err)

	require.NoError(t, m.DeleteSession("temp"))
	_, ok := m.GetSession("temp")
	require.False(t, ok)
}

func TestDeleteSessionUnknownIDReturnsErrSessionNotFound(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zap.NewNop().Sugar(), t.TempDir(), nil)
	require.NoError(t, err)

	err = m.DeleteSession("never-existed")
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestListSessionsReturnsAllRegistered(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zap.NewNop().Sugar(), t.TempDir(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err = m.CreateSession(ctx, "a")
	require.NoError(t, err)
	_, err = m.CreateSession(ctx, "b")
	require.NoError(t, err)
	defer m.DisconnectAll()

	require.Len(t, m.ListSessions(), 2)
}

func TestLoadPersistedIsNoOpOnEmptyDataDir(t *testing.T) {
	m, err := NewManager(testManagerConfig(), zap.NewNop().Sugar(), t.TempDir(), nil)
	require.NoError(t, err)

	require.NoError(t, m.LoadPersisted(context.Background()))
	require.Empty(t, m.ListSessions())
}
