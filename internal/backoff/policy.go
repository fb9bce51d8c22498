// Package backoff provides exponential backoff with jitter, shared by every
// component that retries (HTTP primitive, WebSocket sink reconnects, agent
// loop provider retries). Adapted from nexus's internal/backoff.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines the parameters for exponential backoff calculation.
type Policy struct {
	InitialMs float64
	MaxMs     float64
	Factor    float64
	Jitter    float64
}

// Compute calculates the backoff duration for a given attempt number
// (attempts start at 1): base = InitialMs * Factor^(attempt-1), plus up to
// Jitter fraction of base, clamped to MaxMs.
func Compute(policy Policy, attempt int) time.Duration {
	return ComputeWithRand(policy, attempt, rand.Float64()) // #nosec G404 -- jitter, not security sensitive
}

// ComputeWithRand is Compute with an injected random value in [0, 1), for
// deterministic tests.
func ComputeWithRand(policy Policy, attempt int, randomValue float64) time.Duration {
	exp := math.Max(float64(attempt-1), 0)
	base := policy.InitialMs * math.Pow(policy.Factor, exp)
	jitterAmount := base * policy.Jitter * randomValue
	total := math.Min(policy.MaxMs, base+jitterAmount)
	return time.Duration(math.Round(total)) * time.Millisecond
}

// DefaultPolicy matches spec.md §4.3's 1s/2s/4s/... HTTP retry sequence.
func DefaultPolicy() Policy {
	return Policy{InitialMs: 1000, MaxMs: 30000, Factor: 2, Jitter: 0.1}
}

// WebSocketReconnectPolicy matches spec.md §4.5's WebSocketSink reconnect
// backoff: quicker first attempts since a dropped connection is often
// transient.
func WebSocketReconnectPolicy() Policy {
	return Policy{InitialMs: 250, MaxMs: 5000, Factor: 2, Jitter: 0.2}
}
