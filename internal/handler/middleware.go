package handler

import (
	"crypto/subtle"
	"net"
	"net/http"
	"strings"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-logr/logr"

	"github.com/Shivanand-hulikatti/vendor-directory/internal/logging"
	"github.com/Shivanand-hulikatti/vendor-directory/internal/ratelimit"
)

// Logger puts a request-scoped logger into the context and writes one
// access line per request.
func Logger(base logr.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger := base.WithValues(
				"requestID", chimiddleware.GetReqID(r.Context()),
				"method", r.Method,
				"path", r.URL.Path,
			)
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r.WithContext(logr.NewContext(r.Context(), logger)))

			logger.V(logging.VERBOSE).Info("request served",
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
			)
		})
	}
}

// CORS allows browser clients from any origin.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// BearerAuth rejects requests whose Authorization header does not carry
// token. An empty token locks the route entirely.
func BearerAuth(token string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
			if token == "" || len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") ||
				subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), []byte(token)) != 1 {
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, "missing or invalid bearer token")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RateLimit throttles requests per client IP.
func RateLimit(limiter ratelimit.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if limiter != nil && !limiter.Allow(r.Context(), ClientIP(r)) {
				writeError(w, http.StatusTooManyRequests, CodeRateLimited, "too many requests, try again later")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the remote host. chi's RealIP middleware has already
// folded X-Forwarded-For into RemoteAddr when it runs first.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
