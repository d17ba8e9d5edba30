package logging

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.written {
		rw.statusCode = code
		rw.written = true
		rw.ResponseWriter.WriteHeader(code)
	}
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	if !rw.written {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

// Hijack lets WebSocket upgrades pass through the wrapper.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("logging: response writer does not support hijacking")
	}
	rw.written = true
	rw.statusCode = http.StatusSwitchingProtocols
	return h.Hijack()
}

// Unwrap returns the wrapped writer for http.ResponseController.
func (rw *responseWriter) Unwrap() http.ResponseWriter {
	return rw.ResponseWriter
}

// generateRequestID generates a random request ID.
func generateRequestID() string {
	return uuid.NewString()
}

// RequestIDMiddleware tags each request with an ID, taken from the
// X-Request-ID header when the client sent one.
func RequestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", requestID)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), requestID)))
	})
}

// LoggingMiddleware logs each request once it completes.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		HTTPRequestContext(r.Context(), r.Method, r.URL.Path, r.RemoteAddr, rw.statusCode, time.Since(start))
	})
}

// CombinedMiddleware combines RequestID and Logging middleware.
func CombinedMiddleware(next http.Handler) http.Handler {
	return RequestIDMiddleware(LoggingMiddleware(next))
}
