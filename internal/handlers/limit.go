package handlers

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// limiterIdle is the least time a client bucket stays unused before it is dropped.
const limiterIdle = 10 * time.Minute

// clientLimiter keeps one token bucket per client address. Buckets unused for longer than idle are
// swept on a later call to allow.
type clientLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*clientBucket
	lastSweep time.Time

	limit rate.Limit
	burst int
	idle  time.Duration
	now   func() time.Time
}

type clientBucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func newClientLimiter(requestsPerMinute, burst int) *clientLimiter {
	every := time.Minute / time.Duration(requestsPerMinute)
	return &clientLimiter{
		limiters: make(map[string]*clientBucket),
		limit:    rate.Every(every),
		burst:    burst,
		// Buckets are dropped only after they would have refilled.
		idle: max(limiterIdle, time.Duration(burst)*every),
		now:  time.Now,
	}
}

func (c *clientLimiter) allow(key string) bool {
	now := c.now()

	c.mu.Lock()
	if now.Sub(c.lastSweep) >= c.idle {
		c.sweep(now)
	}
	b, ok := c.limiters[key]
	if !ok {
		b = &clientBucket{limiter: rate.NewLimiter(c.limit, c.burst)}
		c.limiters[key] = b
	}
	b.lastSeen = now
	c.mu.Unlock()

	return b.limiter.AllowN(now, 1)
}

// sweep drops buckets idle since before now minus the idle time. The caller holds mu.
func (c *clientLimiter) sweep(now time.Time) {
	for key, b := range c.limiters {
		if now.Sub(b.lastSeen) >= c.idle {
			delete(c.limiters, key)
		}
	}
	c.lastSweep = now
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
