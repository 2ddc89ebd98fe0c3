package server

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"golang.org/x/time/rate"
)

// minIdleTTL is the shortest time a bucket is kept after its last request
const minIdleTTL = 10 * time.Minute

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

// limiter hands out one token bucket per identity. Buckets idle for longer
// than idleTTL are full again and get evicted.
type limiter struct {
	mu        sync.Mutex
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	buckets   map[string]*bucket
	now       func() time.Time
}

func newLimiter(rps float64, burst int) *limiter {
	if burst <= 0 {
		burst = 1
	}
	ttl := minIdleTTL
	if rps > 0 {
		if refill := time.Duration(float64(burst) / rps * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return &limiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: ttl,
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

func (l *limiter) allow(key string) bool {
	now := l.now()

	l.mu.Lock()
	if now.Sub(l.lastSweep) >= l.idleTTL {
		l.sweep(now)
	}
	b, ok := l.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[key] = b
	}
	b.seen = now
	l.mu.Unlock()

	return b.lim.AllowN(now, 1)
}

// sweep drops idle buckets; l.mu must be held
func (l *limiter) sweep(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.seen) >= l.idleTTL {
			delete(l.buckets, k)
		}
	}
	l.lastSweep = now
}

func (l *limiter) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

// middleware must run after authentication so buckets are keyed by identity
func (l *limiter) middleware() app.HandlerFunc {
	return func(ctx context.Context, c *app.RequestContext) {
		key := Identity(c)
		if key == "" {
			key = c.ClientIP()
		}
		if !l.allow(key) {
			abortWithError(c, errRateLimited)
			return
		}
		c.Next(ctx)
	}
}
