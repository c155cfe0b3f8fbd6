package session

import (
	"math"
	"math/rand"
	"time"

	"github.com/duskrelay/wasession/internal/config"
)

// backoffDelay computes min(initial*factor^attempt, max) with ±20% jitter,
// per spec.md §4.5. attempt is 0-indexed (the first reconnect attempt
// passes 0).
func backoffDelay(cfg config.Config, attempt int, rng *rand.Rand) time.Duration {
	base := float64(cfg.ReconnectInitialDelay) * math.Pow(cfg.ReconnectFactor, float64(attempt))
	if max := float64(cfg.ReconnectMaxDelay); base > max {
		base = max
	}
	jitter := 0.8 + rng.Float64()*0.4 // uniform in [0.8, 1.2]
	return time.Duration(base * jitter)
}
