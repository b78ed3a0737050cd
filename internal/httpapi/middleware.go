package httpapi

import (
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// apiRatePerSec and apiBurst bound how often a single client IP may call
// the read-only HTTP API, grounded on the teacher's internal/api
// rate-limited route groups but built on golang.org/x/time/rate rather
// than a hand-rolled token bucket, per the DOMAIN STACK decision to
// maximize pack library reuse wherever the teacher's own mechanism is
// swappable without changing its behavior.
const (
	apiRatePerSec = 20.0
	apiBurst      = 40
)

type ipLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newIPLimiter() *ipLimiter {
	return &ipLimiter{limiters: make(map[string]*rate.Limiter)}
}

func (l *ipLimiter) allow(ip string) bool {
	l.mu.Lock()
	lim, ok := l.limiters[ip]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(apiRatePerSec), apiBurst)
		l.limiters[ip] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	limiter := newIPLimiter()
	return func(c *gin.Context) {
		if !limiter.allow(c.ClientIP()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apiError{Error: "rate limit exceeded"})
			return
		}
		c.Next()
	}
}

// corsMiddleware allows the configured dashboard origins (ALLOWED_ORIGINS)
// to read these endpoints from a browser; "*" permits any origin, used
// for local development, grounded on the teacher's internal/api CORS
// middleware.
func (s *Server) corsMiddleware() gin.HandlerFunc {
	_, allowAny := s.allowedOrigins["*"]
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case allowAny:
			c.Header("Access-Control-Allow-Origin", "*")
		case origin != "":
			if _, ok := s.allowedOrigins[origin]; ok {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Vary", "Origin")
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
