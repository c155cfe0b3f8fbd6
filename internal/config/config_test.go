package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestNewAppliesOptionsOverDefaults(t *testing.T) {
	cfg, err := New(
		WithEndpoint("wss://example.test/ws", "https://example.test"),
		WithAutoReconnect(false),
		WithBackoff(time.Second, 2, 30*time.Second, 5),
		WithRequestTimeout(10*time.Second),
		WithKeepAlive(5*time.Second, 15*time.Second),
		WithEnrollment(45*time.Second, 4),
	)
	require.NoError(t, err)
	require.Equal(t, "wss://example.test/ws", cfg.EndpointURL)
	require.False(t, cfg.AutoReconnect)
	require.Equal(t, 5, cfg.ReconnectMaxAttempts)
	require.Equal(t, 10*time.Second, cfg.RequestDefaultTimeout)
	require.Equal(t, 4, cfg.EnrollmentMaxAttempts)
}

func TestValidateRejectsEmptyEndpoint(t *testing.T) {
	cfg := Default()
	cfg.EndpointURL = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsEmptyOrigin(t *testing.T) {
	cfg := Default()
	cfg.Origin = ""
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsFactorBelowOne(t *testing.T) {
	cfg := Default()
	cfg.ReconnectFactor = 0.5
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveInitialDelay(t *testing.T) {
	cfg := Default()
	cfg.ReconnectInitialDelay = 0
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsMaxDelayBelowInitialDelay(t *testing.T) {
	cfg := Default()
	cfg.ReconnectInitialDelay = 10 * time.Second
	cfg.ReconnectMaxDelay = time.Second
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveTimeouts(t *testing.T) {
	base := Default()

	withConnectTimeout := base
	withConnectTimeout.ConnectTimeout = 0
	require.Error(t, withConnectTimeout.Validate())

	withHandshakeTimeout := base
	withHandshakeTimeout.HandshakeTimeout = 0
	require.Error(t, withHandshakeTimeout.Validate())

	withRequestTimeout := base
	withRequestTimeout.RequestDefaultTimeout = 0
	require.Error(t, withRequestTimeout.Validate())
}

func TestValidateRejectsKeepAliveGraceNotExceedingInterval(t *testing.T) {
	cfg := Default()
	cfg.KeepAliveInterval = 20 * time.Second
	cfg.KeepAliveGrace = 20 * time.Second
	require.Error(t, cfg.Validate())
}

func TestValidateRejectsNonPositiveEnrollmentFields(t *testing.T) {
	base := Default()

	withTimeout := base
	withTimeout.EnrollmentCodeTimeout = 0
	require.Error(t, withTimeout.Validate())

	withAttempts := base
	withAttempts.EnrollmentMaxAttempts = 0
	require.Error(t, withAttempts.Validate())
}

func TestDefaultMediaSizeLimitsAreOrderedBySize(t *testing.T) {
	limits := DefaultMediaSizeLimits()
	require.Greater(t, limits.VideoBytes, limits.ImageBytes)
	require.Greater(t, limits.ImageBytes, limits.SmallStickerBytes)
}
