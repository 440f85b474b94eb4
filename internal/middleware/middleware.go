// Package middleware wraps the admin listener with request logging and
// panic recovery. The simulated data path does not pass through here;
// only the inspection HTTP surface does.
package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/gowtham/lbsim/pkg/logger"
)

// RequestLogging assigns each request an id, echoes it in the
// X-Request-ID response header, and logs completion leveled by status
func RequestLogging(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			requestID := uuid.NewString()

			wrapped := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}
			wrapped.Header().Set("X-Request-ID", requestID)

			requestLog := log.RequestLogger(requestID, r.Method, r.URL.Path, r.RemoteAddr)
			requestLog.Debug("Request started")

			next.ServeHTTP(wrapped, r)

			entry := requestLog.WithFields(map[string]interface{}{
				"status_code":   wrapped.statusCode,
				"duration_ms":   time.Since(start).Milliseconds(),
				"response_size": wrapped.size,
			})
			switch {
			case wrapped.statusCode >= 500:
				entry.Error("Request completed with error")
			case wrapped.statusCode >= 400:
				entry.Warn("Request completed with warning")
			default:
				entry.Info("Request completed")
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture response details
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	size       int64
}

// WriteHeader captures the status code
func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Write captures the response size
func (rw *responseWriter) Write(b []byte) (int, error) {
	size, err := rw.ResponseWriter.Write(b)
	rw.size += int64(size)
	return size, err
}

// Recovery turns handler panics into 500 responses instead of taking
// the listener down
func Recovery(log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.WithFields(map[string]interface{}{
						"path":   r.URL.Path,
						"method": r.Method,
						"panic":  err,
					}).Error("Panic recovered in request handler")

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}

// Chain applies middlewares right to left, so the first listed wraps
// outermost
func Chain(h http.Handler, middlewares ...func(http.Handler) http.Handler) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}
