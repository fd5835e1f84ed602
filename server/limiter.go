package server

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// chatLimiter throttles chat submissions per agent, mirroring the
// teacher's per-user globalAILimiter.Allow(userKey) check (server/router/
// api/v1/ai_service.go) but built on golang.org/x/time/rate since the
// teacher's own limiter implementation isn't part of this module's
// dependency surface.
type chatLimiter struct {
	rps   rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newChatLimiter(rps float64, burst int) *chatLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &chatLimiter{rps: rate.Limit(rps), burst: burst, limiters: map[string]*rate.Limiter{}}
}

func (c *chatLimiter) allow(agentID string) bool {
	if c.rps <= 0 {
		return true
	}
	c.mu.Lock()
	l, ok := c.limiters[agentID]
	if !ok {
		l = rate.NewLimiter(c.rps, c.burst)
		c.limiters[agentID] = l
	}
	c.mu.Unlock()
	return l.Allow()
}

func (c *chatLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(ctx echo.Context) error {
			if !c.allow(ctx.Param("id")) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(ctx)
		}
	}
}
