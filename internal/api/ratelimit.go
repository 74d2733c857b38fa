package api

import (
	"net"
	"net/http"
	"os"
	"strconv"
	"sync"

	"golang.org/x/time/rate"
)

// ipLimiter applies a per-client-IP token bucket in front of the mux. This
// protects the process as a whole; the per-tenant fixed-window limiter in
// the dispatcher is a separate, protocol-level gate.
type ipLimiter struct {
	mu    sync.Mutex
	rps   rate.Limit
	burst int
	per   map[string]*rate.Limiter
}

func newIPLimiterFromEnv() *ipLimiter {
	rps := 50.0
	if v := os.Getenv("RATE_RPS"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			rps = f
		}
	}
	burst := 100
	if v := os.Getenv("RATE_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			burst = n
		}
	}
	return &ipLimiter{rps: rate.Limit(rps), burst: burst, per: map[string]*rate.Limiter{}}
}

func (l *ipLimiter) get(ip string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim := l.per[ip]
	if lim == nil {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.per[ip] = lim
	}
	return lim
}

// RateLimitMiddleware rejects clients exceeding RATE_RPS/RATE_BURST with 429.
func RateLimitMiddleware(next http.Handler) http.Handler {
	l := newIPLimiterFromEnv()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			ip = r.RemoteAddr
		}
		if !l.get(ip).Allow() {
			writeProblem(w, http.StatusTooManyRequests, "Too Many Requests", "client rate limit exceeded", r.URL.Path)
			return
		}
		next.ServeHTTP(w, r)
	})
}
