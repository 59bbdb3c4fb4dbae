package logging

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

var accessWriterPool = sync.Pool{
	New: func() any {
		return &accessWriter{}
	},
}

// RequestLogger writes one structured line per request. Probe and scrape
// endpoints are skipped. client maps RemoteAddr to the value logged; nil logs
// it unchanged.
func RequestLogger(logger *slog.Logger, client func(remoteAddr string) string) func(http.Handler) http.Handler {
	if client == nil {
		client = func(addr string) string { return addr }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()

			aw := accessWriterPool.Get().(*accessWriter)
			aw.ResponseWriter = w
			aw.statusCode = 0
			aw.bytesWritten = 0
			defer accessWriterPool.Put(aw)

			defer func() {
				status := aw.statusCode
				if status == 0 {
					status = http.StatusOK
				}

				requestID, ok := r.Context().Value(middleware.RequestIDKey).(string)
				if !ok || requestID == "" {
					requestID = "unknown"
				}

				attrs := []any{
					"request_id", requestID,
					"method", r.Method,
					"path", Sanitize(r.URL.Path, 256),
				}
				if r.URL.RawQuery != "" {
					attrs = append(attrs, "query", Sanitize(r.URL.RawQuery, 256))
				}
				attrs = append(attrs,
					"client", client(r.RemoteAddr),
					"status_code", status,
					"bytes_written", aw.bytesWritten,
					"duration_ms", time.Since(start).Milliseconds(),
				)

				level := slog.LevelInfo
				if status >= http.StatusInternalServerError {
					level = slog.LevelWarn
				}
				logger.Log(r.Context(), level, "HTTP request", attrs...)
			}()

			next.ServeHTTP(aw, r)
		})
	}
}

// accessWriter records the status code and body size of a response
type accessWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int
}

func (w *accessWriter) WriteHeader(statusCode int) {
	if w.statusCode == 0 {
		w.statusCode = statusCode
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func (w *accessWriter) Write(data []byte) (int, error) {
	if w.statusCode == 0 {
		w.statusCode = http.StatusOK
	}
	n, err := w.ResponseWriter.Write(data)
	w.bytesWritten += n
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer
func (w *accessWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}
