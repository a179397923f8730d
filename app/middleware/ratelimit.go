package middleware

import (
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	maxTrackedClients = 10000
	minClientTTL      = 10 * time.Minute
)

type rateLimiter struct {
	// mu makes the lookup and insert of a client limiter one step
	mu           sync.Mutex
	limit        rate.Limit
	burst        int
	limiters     *expirable.LRU[string, *rate.Limiter]
	limitReached fiber.Handler
	logger       *zap.Logger
}

// RateLimit allows every client ip perSecond requests per second with the
// given burst. A non-positive rate disables the limiter. limitReached answers
// rejected requests; nil falls back to a plain 429.
func RateLimit(perSecond float64, burst int, limitReached fiber.Handler, logger *zap.Logger) fiber.Handler {
	return newRateLimiter(perSecond, burst, maxTrackedClients, limitReached, logger).handle
}

func newRateLimiter(perSecond float64, burst, maxClients int, limitReached fiber.Handler, logger *zap.Logger) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	if limitReached == nil {
		limitReached = func(*fiber.Ctx) error { return fiber.ErrTooManyRequests }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	// an idle client is forgotten only once its bucket would be full again
	ttl := minClientTTL
	if perSecond > 0 {
		if refill := time.Duration(float64(burst) / perSecond * float64(time.Second)); refill > ttl {
			ttl = refill
		}
	}
	return &rateLimiter{
		limit:        rate.Limit(perSecond),
		burst:        burst,
		limiters:     expirable.NewLRU[string, *rate.Limiter](maxClients, nil, ttl),
		limitReached: limitReached,
		logger:       logger,
	}
}

func (l *rateLimiter) handle(c *fiber.Ctx) error {
	if l.limit <= 0 {
		return c.Next()
	}
	ip := c.IP()
	if !l.get(ip).Allow() {
		l.logger.Warn("rate limit hit", zap.String("ip", ip), zap.String("path", c.Path()))
		return l.limitReached(c)
	}
	return c.Next()
}

func (l *rateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters.Get(key)
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters.Add(key, lim)
	}
	return lim
}
