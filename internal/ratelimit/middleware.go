package ratelimit

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// KeyFunc extracts the rate-limit key from a request — typically the
// caller's remote address, since the intake endpoint sees unauthenticated
// traffic before signature verification runs.
type KeyFunc func(c *gin.Context) string

// ByRemoteIP is the default KeyFunc: one budget per source IP.
func ByRemoteIP(c *gin.Context) string { return c.ClientIP() }

// Middleware rejects requests once keyFn's key exceeds l's budget,
// responding 429 with a Retry-After hint. A Limiter construction or
// broker failure never blocks traffic: Allow's own degraded-client
// behavior already treats that as "unlimited" rather than failing closed.
func Middleware(l *Limiter, keyFn KeyFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, err := l.Allow(c.Request.Context(), keyFn(c))
		if err != nil {
			c.Next()
			return
		}
		if !allowed {
			c.Header("Retry-After", "60")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
