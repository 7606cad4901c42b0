package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is an in-process token bucket per caller.
type RateLimiter struct {
	limiters map[uuid.UUID]*limiterEntry
	mu       sync.Mutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(rps int) *RateLimiter {
	return &RateLimiter{
		limiters: make(map[uuid.UUID]*limiterEntry),
		rate:     rate.Limit(rps),
		burst:    rps * 2,
	}
}

func (rl *RateLimiter) allow(userID uuid.UUID, now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, exists := rl.limiters[userID]
	if !exists {
		e = &limiterEntry{limiter: rate.NewLimiter(rl.rate, rl.burst)}
		rl.limiters[userID] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// Cleanup drops limiters idle for longer than idle until ctx is done.
func (rl *RateLimiter) Cleanup(ctx context.Context, idle time.Duration) {
	ticker := time.NewTicker(idle)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				rl.evict(now.Add(-idle))
			}
		}
	}()
}

func (rl *RateLimiter) evict(before time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for id, e := range rl.limiters {
		if e.lastSeen.Before(before) {
			delete(rl.limiters, id)
		}
	}
}

// RateLimitMiddleware limits requests per user
func RateLimitMiddleware(rl *RateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := UserID(c)
		if !ok {
			c.Next()
			return
		}

		if !rl.allow(uid, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}

		c.Next()
	}
}

// ActionLimiter is implemented by cache.RedisClient.
type ActionLimiter interface {
	AllowAction(ctx context.Context, subject uuid.UUID, action string, rate int, burst int) (bool, error)
}

// SharedRateLimitMiddleware applies a Redis token bucket shared by every
// instance. Redis errors let the request through.
func SharedRateLimitMiddleware(limiter ActionLimiter, action string, rps int, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		uid, ok := UserID(c)
		if !ok || limiter == nil {
			c.Next()
			return
		}

		allowed, err := limiter.AllowAction(c.Request.Context(), uid, action, rps, rps*2)
		if err != nil {
			logger.Warn("shared rate limiter unavailable", zap.String("action", action), zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "Rate limit exceeded"})
			return
		}
		c.Next()
	}
}
