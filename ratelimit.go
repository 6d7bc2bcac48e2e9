package mqttbroker

import (
	"net"

	"golang.org/x/time/rate"
)

// connectLimiter throttles how fast a listener accepts new connections,
// guarding max_connections/accept-rate (spec.md §6) against a connect
// storm. A nil *connectLimiter imposes no limit.
type connectLimiter struct {
	limiter *rate.Limiter
}

// newConnectLimiter builds a limiter from the rate/burst pair taken
// from WithConnectRateLimit. ratePerSecond <= 0 disables limiting.
func newConnectLimiter(ratePerSecond float64, burst int) *connectLimiter {
	if ratePerSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &connectLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

// Allow reports whether a new connection from addr may proceed to the
// CONNECT handshake right now. addr is accepted for future per-source
// limiting but is not currently used to partition the budget.
func (l *connectLimiter) Allow(_ net.Addr) bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}
