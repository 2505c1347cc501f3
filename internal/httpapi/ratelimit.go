package httpapi

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"callcenter/internal/auth"
	"callcenter/pkg/logger"
)

// LimiterRegistry keeps one token bucket per key and forgets keys idle longer than ttl.
type LimiterRegistry struct {
	mu       sync.Mutex
	limiters map[string]*limiterEntry
	rate     rate.Limit
	burst    int
	ttl      time.Duration
	clock    func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func NewLimiterRegistry(r rate.Limit, burst int, ttl time.Duration) *LimiterRegistry {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &LimiterRegistry{
		limiters: map[string]*limiterEntry{},
		rate:     r,
		burst:    burst,
		ttl:      ttl,
		clock:    time.Now,
	}
}

// PerMinute builds a registry allowing n events per minute with a burst of n.
func PerMinute(n int) *LimiterRegistry {
	return NewLimiterRegistry(rate.Limit(float64(n)/60.0), n, 10*time.Minute)
}

func (r *LimiterRegistry) Allow(key string) bool {
	now := r.clock()
	r.mu.Lock()
	e, ok := r.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(r.rate, r.burst)}
		r.limiters[key] = e
	}
	e.lastSeen = now
	r.mu.Unlock()
	return e.limiter.AllowN(now, 1)
}

func (r *LimiterRegistry) sweep() int {
	now := r.clock()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for k, e := range r.limiters {
		if now.Sub(e.lastSeen) > r.ttl {
			delete(r.limiters, k)
			n++
		}
	}
	return n
}

// StartJanitor evicts idle limiters every interval until ctx is done.
func (r *LimiterRegistry) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = r.ttl
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

// PerActor rate limits by authenticated user, falling back to client IP.
func (r *LimiterRegistry) PerActor() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := auth.UserID(c.Request.Context())
		if err != nil {
			key = "ip:" + c.ClientIP()
		}
		if !r.Allow(key) {
			logger.FromGin(c).Warn("rate limit exceeded", "key", key, "path", c.FullPath())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, ErrorResponse{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
