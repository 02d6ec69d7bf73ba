package reconcile

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter spaces out requests to the same host using one token bucket
// per host. Different hosts never wait on each other.
type HostLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      float64
}

// NewHostLimiter creates a HostLimiter allowing rps requests per second per
// host with no bursting.
func NewHostLimiter(rps float64) *HostLimiter {
	return &HostLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rps,
	}
}

// Wait blocks until host may be contacted again or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, host string) error {
	h.mu.Lock()
	limiter, ok := h.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(h.rps), 1)
		h.limiters[host] = limiter
	}
	h.mu.Unlock()

	return limiter.Wait(ctx)
}
