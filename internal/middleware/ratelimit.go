package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/report-variables-server/internal/domain"
)

// RateLimiter hands out one token bucket per client IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration

	mu      sync.Mutex
	clients map[string]*client
}

type client struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond requests per client with the given burst.
// Buckets idle for longer than idleTTL are dropped on the next sweep.
func NewRateLimiter(perSecond float64, burst int, idleTTL time.Duration) *RateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if idleTTL <= 0 {
		idleTTL = 10 * time.Minute
	}
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		idleTTL: idleTTL,
		clients: make(map[string]*client),
	}
}

// Allow reports whether the client at key may proceed at now.
func (rl *RateLimiter) Allow(key string, now time.Time) bool {
	rl.mu.Lock()
	c, ok := rl.clients[key]
	if !ok {
		c = &client{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[key] = c
	}
	c.lastSeen = now
	rl.mu.Unlock()

	return c.limiter.AllowN(now, 1)
}

// Sweep drops buckets idle since before now minus the idle TTL and returns
// how many remain.
func (rl *RateLimiter) Sweep(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for key, c := range rl.clients {
		if now.Sub(c.lastSeen) > rl.idleTTL {
			delete(rl.clients, key)
		}
	}
	return len(rl.clients)
}

// Middleware rejects requests over the limit with 429. A zero limit
// disables limiting.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if rl.limit <= 0 {
			c.Next()
			return
		}
		now := time.Now()
		if !rl.Allow(c.ClientIP(), now) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, domain.NewAPIError(
				domain.ErrCodeRateLimit, "Too many requests", "", c.GetString(CorrelationIDKey)))
			return
		}
		c.Next()
	}
}
