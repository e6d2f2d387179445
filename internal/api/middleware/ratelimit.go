package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// rateLimitEvery spaces requests so each key settles at 30 per minute with a
// small burst allowance for legitimate retry storms.
const (
	rateLimitEvery = 2 * time.Second
	rateLimitBurst = 10
	limiterMaxAge  = 10 * time.Minute
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit throttles per client key: the device fingerprint header when the
// client sends one, the remote IP otherwise. Stale limiters are evicted
// lazily on each pass.
func RateLimit() gin.HandlerFunc {
	var mu sync.Mutex
	clients := map[string]*clientLimiter{}

	return func(c *gin.Context) {
		key := c.GetHeader("X-Device-Fingerprint")
		if key == "" {
			key = c.ClientIP()
		}

		mu.Lock()
		now := time.Now()
		cl, ok := clients[key]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(rate.Every(rateLimitEvery), rateLimitBurst)}
			clients[key] = cl
		}
		cl.lastSeen = now

		for k, v := range clients {
			if now.Sub(v.lastSeen) > limiterMaxAge {
				delete(clients, k)
			}
		}
		mu.Unlock()

		if !cl.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
