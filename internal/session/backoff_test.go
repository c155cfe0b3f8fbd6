package session

import (
	"math/rand"
	"testing"
	"time"

	"github.com/duskrelay/wasession/internal/config"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelayGrowsWithAttemptAndRespectsMax(t *testing.T) {
	cfg := config.Default()
	cfg.ReconnectInitialDelay = time.Second
	cfg.ReconnectFactor = 2
	cfg.ReconnectMaxDelay = 10 * time.Second

	rng := rand.New(rand.NewSource(1))

	prev := time.Duration(0)
	for attempt := 0; attempt < 10; attempt++ {
		delay := backoffDelay(cfg, attempt, rng)
		require.Greater(t, delay, time.Duration(0))
		require.LessOrEqual(t, delay, cfg.ReconnectMaxDelay*12/10, "delay must stay within the jittered max bound")
		if attempt > 0 && cfg.ReconnectInitialDelay<<attempt <= cfg.ReconnectMaxDelay {
			require.Greater(t, delay, prev, "delay must grow with attempt while below the cap")
		}
		prev = delay
	}
	_ = prev
}

func TestBackoffDelayJitterStaysWithinTwentyPercent(t *testing.T) {
	cfg := config.Default()
	cfg.ReconnectInitialDelay = 100 * time.Millisecond
	cfg.ReconnectFactor = 1
	cfg.ReconnectMaxDelay = time.Second

	rng := rand.New(rand.NewSource(42))
	low := cfg.ReconnectInitialDelay * 8 / 10
	high := cfg.ReconnectInitialDelay * 12 / 10

	for i := 0; i < 100; i++ {
		delay := backoffDelay(cfg, 0, rng)
		require.GreaterOrEqual(t, delay, low)
		require.LessOrEqual(t, delay, high)
	}
}

func TestBackoffDelayCapsAtMaxDelayForLargeAttempts(t *testing.T) {
	cfg := config.Default()
	cfg.ReconnectInitialDelay = time.Second
	cfg.ReconnectFactor = 10
	cfg.ReconnectMaxDelay = 5 * time.Second

	rng := rand.New(rand.NewSource(7))
	delay := backoffDelay(cfg, 20, rng)
	require.LessOrEqual(t, delay, cfg.ReconnectMaxDelay*12/10)
}
