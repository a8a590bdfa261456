package httpx

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Limiter decides whether one more request for key is allowed right now.
// Implementations must be safe for concurrent use.
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// KeyFunc derives the limiter key for a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// RateLimit enforces limiter on every request. When the limiter itself fails
// (e.g. Redis unreachable) failOpen decides whether traffic passes.
func RateLimit(limiter Limiter, prefix string, key KeyFunc, logger *zap.Logger, failOpen bool) Middleware {
	if key == nil {
		key = ClientIP
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" {
				next.ServeHTTP(w, r)
				return
			}
			ok, err := limiter.Allow(r.Context(), prefix+":"+k)
			if err != nil {
				if logger != nil {
					logger.Warn("rate limiter error", zap.Error(err), zap.String("prefix", prefix))
				}
				if failOpen {
					next.ServeHTTP(w, r)
					return
				}
				http.Error(w, "rate limiter unavailable", http.StatusServiceUnavailable)
				return
			}
			if !ok {
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// LocalRateLimiter is a per-process token bucket limiter. State is not shared
// between instances; use RedisRateLimiter when running more than one.
type LocalRateLimiter struct {
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewLocalRateLimiter allows perWindow requests per window with an equal burst.
func NewLocalRateLimiter(perWindow int, window time.Duration) *LocalRateLimiter {
	if perWindow <= 0 {
		perWindow = 60
	}
	if window <= 0 {
		window = time.Minute
	}
	return &LocalRateLimiter{
		limit:    rate.Every(window / time.Duration(perWindow)),
		burst:    perWindow,
		idleTTL:  3 * window,
		now:      time.Now,
		visitors: map[string]*visitor{},
	}
}

func (l *LocalRateLimiter) Allow(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	v := l.visitors[key]
	if v == nil {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1), nil
}

// Sweep drops visitors idle for longer than the TTL. Call it periodically.
func (l *LocalRateLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	removed := 0
	for key, v := range l.visitors {
		if now.Sub(v.lastSeen) > l.idleTTL {
			delete(l.visitors, key)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is cancelled.
func (l *LocalRateLimiter) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Sweep()
		}
	}
}

func ClientIP(r *http.Request) string {
	if ip := r.Header.Get("X-Forwarded-For"); ip != "" {
		parts := strings.Split(ip, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil {
		return host
	}
	return r.RemoteAddr
}

// PrincipalKey keys by authenticated user, falling back to client IP.
func PrincipalKey(r *http.Request) string {
	if p, ok := PrincipalFromContext(r.Context()); ok && p.UserID != "" {
		return "user:" + p.UserID
	}
	return ClientIP(r)
}
