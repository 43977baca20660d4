// ratelimit.go — ограничение частоты изменяющих запросов на клиента.
package middleware

import (
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	apierrors "github.com/bigkaa/gostorefront/access-module/internal/api/errors"
)

// RateLimiter — per-client token bucket. Ключ клиента: sub из JWT,
// для неаутентифицированных запросов — IP.
type RateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu      sync.Mutex
	clients map[string]*clientLimiter
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter создаёт limiter. При rps <= 0 возвращает nil (без ограничения).
func NewRateLimiter(rps float64, burst int) *RateLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limit:   rate.Limit(rps),
		burst:   burst,
		idleTTL: 5 * time.Minute,
		now:     time.Now,
		clients: make(map[string]*clientLimiter),
	}
}

// Middleware возвращает HTTP middleware. Для nil limiter — пропускает всё.
func (l *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if l == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.limiterFor(clientKey(r)).AllowN(l.now(), 1) {
				w.Header().Set("Retry-After", "1")
				apierrors.RateLimited(w, "Слишком много запросов, повторите позже")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (l *RateLimiter) limiterFor(key string) *rate.Limiter {
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()

	if entry, ok := l.clients[key]; ok {
		entry.lastSeen = now
		return entry.limiter
	}

	limiter := rate.NewLimiter(l.limit, l.burst)
	l.clients[key] = &clientLimiter{limiter: limiter, lastSeen: now}
	l.cleanupLocked(now)
	return limiter
}

func (l *RateLimiter) cleanupLocked(now time.Time) {
	for key, entry := range l.clients {
		if now.Sub(entry.lastSeen) > l.idleTTL {
			delete(l.clients, key)
		}
	}
}

// clientKey определяет ключ клиента для лимитов.
func clientKey(r *http.Request) string {
	if sub := SubjectFromContext(r.Context()); sub != "" {
		return "sub:" + sub
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}
