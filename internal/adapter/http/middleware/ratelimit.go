package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// idleAfter is how long a caller's limiter is kept without requests. It is
// well past the time a bucket needs to refill, so a dropped limiter behaves
// exactly like a new one.
const idleAfter = 10 * time.Minute

type callerLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimit allows perMinute requests per principal, falling back to the
// client IP for anonymous requests. Must run after Authz.Require.
type RateLimit struct {
	mu        sync.Mutex
	limiters  map[string]*callerLimiter
	every     rate.Limit
	burst     int
	now       func() time.Time
	lastSweep time.Time
}

func NewRateLimit(perMinute int) *RateLimit {
	if perMinute <= 0 {
		perMinute = 10
	}
	return &RateLimit{
		limiters:  make(map[string]*callerLimiter),
		every:     rate.Every(time.Minute / time.Duration(perMinute)),
		burst:     perMinute,
		now:       time.Now,
		lastSweep: time.Now(),
	}
}

func (rl *RateLimit) allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastSweep) >= idleAfter {
		rl.sweep(now)
	}
	cl, ok := rl.limiters[key]
	if !ok {
		cl = &callerLimiter{lim: rate.NewLimiter(rl.every, rl.burst)}
		rl.limiters[key] = cl
	}
	cl.lastSeen = now
	return cl.lim.AllowN(now, 1)
}

// sweep drops limiters idle for idleAfter. Callers hold rl.mu.
func (rl *RateLimit) sweep(now time.Time) {
	for key, cl := range rl.limiters {
		if now.Sub(cl.lastSeen) >= idleAfter {
			delete(rl.limiters, key)
		}
	}
	rl.lastSweep = now
}

// tracked is the number of callers with a live limiter.
func (rl *RateLimit) tracked() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.limiters)
}

func (rl *RateLimit) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := Principal(c).ID
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !rl.allow(key) {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
