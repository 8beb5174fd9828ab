package ratelimit

import (
	"net/http"
	"sync"
	"time"

	xhttp "CoinPulse/pkg/http"

	"github.com/labstack/echo/v4"
)

type bucket struct {
	tokens float64
	last   time.Time
}

// Limiter is a per-key token bucket. Buckets idle for longer than a full refill are
// dropped on the next sweep.
type Limiter struct {
	capacity   float64
	refillRate float64 // tokens per second

	mu      sync.Mutex
	m       map[string]*bucket
	now     func() time.Time
	swept   time.Time
	idleTTL time.Duration
}

func New(capacity, refillPerSec float64) *Limiter {
	idle := time.Minute
	if refillPerSec > 0 {
		idle = time.Duration(capacity/refillPerSec*float64(time.Second)) + time.Minute
	}
	return &Limiter{
		capacity:   capacity,
		refillRate: refillPerSec,
		m:          make(map[string]*bucket),
		now:        time.Now,
		idleTTL:    idle,
	}
}

// Allow reports whether one token can be taken for key.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	l.sweep(now)

	b, ok := l.m[key]
	if !ok {
		b = &bucket{tokens: l.capacity, last: now}
		l.m[key] = b
	}
	if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
		b.tokens += elapsed * l.refillRate
		if b.tokens > l.capacity {
			b.tokens = l.capacity
		}
		b.last = now
	}
	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.swept) < l.idleTTL {
		return
	}
	for k, b := range l.m {
		if now.Sub(b.last) > l.idleTTL {
			delete(l.m, k)
		}
	}
	l.swept = now
}

// Middleware limits requests per client IP and answers 429 when the bucket is empty.
func (l *Limiter) Middleware(scope string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !l.Allow(scope + ":" + c.RealIP()) {
				return xhttp.AppErrorResponse(c, xhttp.NewAppError("ERR_RATE_LIMITED", "", "rate limited", http.StatusTooManyRequests))
			}
			return next(c)
		}
	}
}
