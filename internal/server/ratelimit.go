package server

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	jsonwriter "github.com/shortsai/backend/internal/json"
	"github.com/shortsai/backend/internal/log"
	"golang.org/x/time/rate"
)

// idleLimiterSweep is how often limiters with a full bucket are dropped
const idleLimiterSweep = 5 * time.Minute

// ClientIP returns the caller's address. trustedHops proxies sit in front of
// the server and each appends the address it saw to X-Forwarded-For, so the
// client is the entry trustedHops from the right; anything left of it was
// supplied by the client. With no trusted proxies the forwarding headers are
// ignored.
func ClientIP(r *http.Request, trustedHops int) string {
	if trustedHops > 0 {
		var hops []string
		for _, h := range r.Header.Values("X-Forwarded-For") {
			for hop := range strings.SplitSeq(h, ",") {
				if hop = strings.TrimSpace(hop); hop != "" {
					hops = append(hops, hop)
				}
			}
		}
		if len(hops) > 0 {
			return hops[max(len(hops)-trustedHops, 0)]
		}
		if xri := strings.TrimSpace(r.Header.Get("X-Real-IP")); xri != "" {
			return xri
		}
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// ipRateLimiter keeps one token bucket per client IP
type ipRateLimiter struct {
	limiters    sync.Map // map[string]*rate.Limiter
	limit       rate.Limit
	burst       int
	mu          sync.Mutex
	lastCleanup time.Time
}

func (rl *ipRateLimiter) get(key string) *rate.Limiter {
	if limiter, ok := rl.limiters.Load(key); ok {
		return limiter.(*rate.Limiter)
	}
	actual, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.limit, rl.burst))
	rl.maybeCleanup()
	return actual.(*rate.Limiter)
}

func (rl *ipRateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Since(rl.lastCleanup) < idleLimiterSweep {
		return
	}
	rl.lastCleanup = time.Now()

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// NewRateLimitMiddleware limits each client IP to perMinute requests, all
// available as a burst. A non-positive perMinute disables limiting.
// trustedHops is passed to ClientIP.
func NewRateLimitMiddleware(perMinute, trustedHops int) MiddlewareFunc {
	if perMinute <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}

	rl := &ipRateLimiter{
		limit:       rate.Every(time.Minute / time.Duration(perMinute)),
		burst:       perMinute,
		lastCleanup: time.Now(),
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			key := ClientIP(r, trustedHops)
			limiter := rl.get(key)
			if !limiter.Allow() {
				reservation := limiter.Reserve()
				delay := reservation.Delay()
				reservation.Cancel()

				retryAfter := max(int(delay.Seconds()), 1)
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(perMinute))

				log.LogWarnWithFields("ratelimit", "Rate limit exceeded", log.Fields(r.Context(), map[string]any{
					"ip":          key,
					"path":        r.URL.Path,
					"retry_after": retryAfter,
				}))
				jsonwriter.WriteTooManyRequests(w, "Too many requests. Please try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
