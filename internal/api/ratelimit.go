package api

import (
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RateLimiter is a fixed-window request limiter backed by redis, keyed by
// client IP per minute. If redis is unreachable the request is allowed:
// losing rate limiting is preferable to failing settlements.
type RateLimiter struct {
	client *redis.Client
	limit  int
}

// NewRateLimiter returns a limiter allowing perMin requests per client IP
// per minute. A nil client or non-positive limit disables limiting.
func NewRateLimiter(client *redis.Client, perMin int) *RateLimiter {
	return &RateLimiter{client: client, limit: perMin}
}

// Middleware enforces the limit around the next handler.
func (rl *RateLimiter) Middleware(next http.Handler) http.Handler {
	if rl == nil || rl.client == nil || rl.limit <= 0 {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		key := fmt.Sprintf("ratelimit:%s:%s", ip, time.Now().UTC().Format("200601021504"))

		count, err := rl.client.Incr(r.Context(), key).Result()
		if err != nil {
			next.ServeHTTP(w, r)
			return
		}
		if count == 1 {
			rl.client.Expire(r.Context(), key, time.Minute)
		}
		if count > int64(rl.limit) {
			respondWithError(w, r.Method, "ratelimited", http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func clientIP(r *http.Request) string {
	// X-Forwarded-For grows one hop per proxy; the first element is the
	// client.
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i >= 0 {
			fwd = fwd[:i]
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
