package web

import (
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/haasonsaas/switchboard/internal/ratelimit"
)

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Flush passes through so SSE responses stay streamable behind the wrapper.
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("handler panic", "path", r.URL.Path, "panic", rec)
				jsonError(w, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.status,
			"duration", duration,
			"remote_addr", r.RemoteAddr,
		)
		if s.metrics != nil {
			pattern := r.Pattern
			if pattern == "" {
				pattern = r.URL.Path
			}
			code := strconv.Itoa(wrapped.status)
			s.metrics.HTTPRequests.WithLabelValues(r.Method, pattern, code).Inc()
			s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, pattern, code).Observe(duration.Seconds())
		}
	})
}

func (s *Server) maxBodyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Body != nil && r.Method != http.MethodGet {
			r.Body = http.MaxBytesReader(w, r.Body, s.config.MaxBodyBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// csrfMiddleware enforces X-CSRF-Token on state-changing methods. Tokens are
// bound to the client key, so one client's token fails for another.
func (s *Server) csrfMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !s.csrf.Enabled() || !writeMethod(r.Method) {
			next.ServeHTTP(w, r)
			return
		}
		token := r.Header.Get("X-CSRF-Token")
		if err := s.csrf.Verify(token, clientKey(r)); err != nil {
			jsonError(w, http.StatusForbidden, "auth", "missing or invalid CSRF token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// allowTurn guards the turn endpoints. The key combines client identity and
// session id so one noisy session cannot starve a client's other sessions.
// When the limit is hit it writes the 429 and reports false.
func (s *Server) allowTurn(w http.ResponseWriter, r *http.Request, sessionID string) bool {
	if s.limiter == nil {
		return true
	}
	key := ratelimit.CompositeKey(clientKey(r), sessionID)
	if s.limiter.Allow(key) {
		return true
	}
	seconds := int(s.limiter.WaitTime(key).Seconds())
	if seconds < 1 {
		seconds = 1
	}
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	jsonError(w, http.StatusTooManyRequests, "rate_limited",
		fmt.Sprintf("rate limit exceeded, retry in %ds", seconds))
	return false
}

func writeMethod(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPatch, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

// clientKey identifies the caller for rate limiting and CSRF binding: the
// user header when present, otherwise the remote address.
func clientKey(r *http.Request) string {
	if user := r.Header.Get("X-User-ID"); user != "" {
		return user
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
