// Package gateway is the outermost HTTP middleware: request logging,
// CORS, and per-client rate limiting.
package gateway

import (
	"net"
	"net/http"
	"strings"

	"chatrelay/pkg/logger"
	"chatrelay/pkg/logging"
	"chatrelay/pkg/utils"
)

// Config holds transport-level protections.
type Config struct {
	AllowedOrigins []string
	RPS            float64
	Burst          int
}

// Middleware wraps next with logging, CORS handling and rate limiting
// keyed by client IP.
func Middleware(cfg Config) func(http.Handler) http.Handler {
	limiters := &limiterPool{rps: cfg.RPS, burst: cfg.Burst}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logging.LogRequest(r)

			origin := r.Header.Get("Origin")
			if origin != "" && originAllowed(origin, cfg.AllowedOrigins) {
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
				w.Header().Set("Access-Control-Max-Age", "600")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization,Content-Type")
			}
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}

			// health probes bypass the limiter
			if (r.URL.Path == "/healthz" || r.URL.Path == "/readyz") && r.Method == http.MethodGet {
				next.ServeHTTP(w, r)
				return
			}

			if cfg.RPS > 0 && !limiters.Allow(clientIP(r)) {
				utils.JSONError(w, http.StatusTooManyRequests, "rate limit exceeded")
				logger.Warn("rate_limited", "path", r.URL.Path, "remote", r.RemoteAddr)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if a == "*" || strings.EqualFold(a, origin) {
			return true
		}
	}
	return false
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
