package middleware

import (
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/vexscan/api/pkg/apierror"
	"github.com/vexscan/api/pkg/logger"
)

// KeyFunc derives the rate limit bucket for a request. An empty key skips
// limiting.
type KeyFunc func(r *http.Request) string

// RateLimiter keeps one token bucket per key. Idle buckets are dropped by a
// background goroutine until Stop is called.
type RateLimiter struct {
	name    string
	mu      sync.Mutex
	buckets map[string]*bucket
	limit   rate.Limit
	burst   int
	keyOf   KeyFunc
	log     *logger.Logger

	done     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiterOptions configures a RateLimiter.
type RateLimiterOptions struct {
	// Name appears in logs.
	Name    string
	Limit   rate.Limit
	Burst   int
	Key     KeyFunc
	Cleanup time.Duration
}

// NewRateLimiter creates a limiter and starts its cleanup loop.
func NewRateLimiter(opts RateLimiterOptions, log *logger.Logger) *RateLimiter {
	if opts.Key == nil {
		opts.Key = ClientIP
	}
	if opts.Cleanup <= 0 {
		opts.Cleanup = time.Minute
	}
	if opts.Burst <= 0 {
		opts.Burst = 1
	}
	rl := &RateLimiter{
		name:    opts.Name,
		buckets: make(map[string]*bucket),
		limit:   opts.Limit,
		burst:   opts.Burst,
		keyOf:   opts.Key,
		log:     log,
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
	go rl.sweep(opts.Cleanup)
	return rl
}

// Stop ends the cleanup loop. It is safe to call more than once.
func (rl *RateLimiter) Stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
	<-rl.stopped
}

func (rl *RateLimiter) limiterFor(key string) *rate.Limiter {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = time.Now()
	return b.limiter
}

func (rl *RateLimiter) sweep(every time.Duration) {
	defer close(rl.stopped)
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * every)
			rl.mu.Lock()
			for k, b := range rl.buckets {
				if b.lastSeen.Before(cutoff) {
					delete(rl.buckets, k)
				}
			}
			rl.mu.Unlock()
		}
	}
}

// Middleware rejects requests over the limit with 429 and sets the
// X-RateLimit-* headers.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := rl.keyOf(r)
			if key == "" {
				next.ServeHTTP(w, r)
				return
			}

			limiter := rl.limiterFor(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rl.burst))

			if !limiter.Allow() {
				retry := 1
				if rl.limit > 0 {
					retry = int(math.Ceil(1 / float64(rl.limit)))
				}
				w.Header().Set("X-RateLimit-Remaining", "0")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				rl.log.Warn("rate limit exceeded",
					"limiter", rl.name,
					"key", key,
					"path", r.URL.Path,
					"request_id", GetRequestID(r.Context()),
				)
				apierror.RateLimited().WriteJSONWithRequestID(w, GetRequestID(r.Context()))
				return
			}

			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(int(limiter.Tokens())))
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP keys requests by remote address. chi's RealIP middleware has
// already rewritten RemoteAddr from trusted forwarding headers.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

// PrincipalKey keys requests by authenticated user, falling back to the
// client address.
func PrincipalKey(r *http.Request) string {
	if p, ok := GetPrincipal(r.Context()); ok {
		return "user:" + p.UserID.String()
	}
	return "ip:" + ClientIP(r)
}

// PerMinute converts a per-minute budget to a rate.Limit. Zero or less means
// unlimited.
func PerMinute(n float64) rate.Limit {
	if n <= 0 {
		return rate.Inf
	}
	return rate.Limit(n / 60)
}
