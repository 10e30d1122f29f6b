package federation

import (
	"sync"

	"golang.org/x/time/rate"
)

// sourceLimiter keeps one token bucket per source node.
type sourceLimiter struct {
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newSourceLimiter(rps float64, burst int) *sourceLimiter {
	if burst < 1 {
		burst = 1
	}
	return &sourceLimiter{
		rps:      rate.Limit(rps),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *sourceLimiter) allow(source string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[source]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[source] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
