package middleware

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/use-agent/padcrawl/config"
	"github.com/use-agent/padcrawl/models"
)

const (
	idleLimiterTTL = time.Hour
	sweepInterval  = 5 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiters holds one token bucket per caller identity.
type limiters struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	limit   rate.Limit
	burst   int
}

func (l *limiters) get(identity string, now time.Time) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[identity]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.entries[identity] = e
	}
	e.lastSeen = now
	return e.limiter
}

func (l *limiters) sweep(cutoff time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, e := range l.entries {
		if e.lastSeen.Before(cutoff) {
			delete(l.entries, id)
		}
	}
}

// RateLimit returns per-identity (API key or client IP) token-bucket rate
// limiting. Buckets idle for an hour are evicted until ctx is done.
func RateLimit(ctx context.Context, cfg config.RateLimitConfig) gin.HandlerFunc {
	l := &limiters{
		entries: make(map[string]*limiterEntry),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
	}

	go func() {
		ticker := time.NewTicker(sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				l.sweep(now.Add(-idleLimiterTTL))
			}
		}
	}()

	return func(c *gin.Context) {
		identity := c.ClientIP()
		if key, ok := c.Get(identityKey); ok {
			identity = key.(string)
		}

		lim := l.get(identity, time.Now())
		if !lim.Allow() {
			if lim.Limit() > 0 {
				wait := math.Ceil(1 / float64(lim.Limit()))
				c.Header("Retry-After", strconv.Itoa(int(wait)))
			}
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}
		c.Next()
	}
}
