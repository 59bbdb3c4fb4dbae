package logging

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
)

func newCapturingLogger() (*slog.Logger, *strings.Builder) {
	var out strings.Builder
	return slog.New(slog.NewTextHandler(&out, &slog.HandlerOptions{Level: slog.LevelInfo})), &out
}

func TestRequestLoggerSkipsProbeEndpoints(t *testing.T) {
	logger, out := newCapturingLogger()
	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))

	for _, path := range []string{"/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			out.Reset()
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))

			assert.Equal(t, http.StatusOK, rr.Code)
			assert.Empty(t, out.String())
		})
	}
}

func TestRequestLoggerFields(t *testing.T) {
	logger, out := newCapturingLogger()
	handler := RequestLogger(logger, func(string) string { return "192.0.2.1" })(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusCreated)
			w.Write([]byte(`{"id":1}`))
		}))

	req := httptest.NewRequest(http.MethodPost, "/api/todos?x=1", nil)
	req = req.WithContext(context.WithValue(req.Context(), middleware.RequestIDKey, "req-123"))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)

	logs := out.String()
	assert.Contains(t, logs, "request_id=req-123")
	assert.Contains(t, logs, "method=POST")
	assert.Contains(t, logs, "path=/api/todos")
	assert.Contains(t, logs, `query="x=1"`)
	assert.Contains(t, logs, "client=192.0.2.1")
	assert.Contains(t, logs, "status_code=201")
	assert.Contains(t, logs, "bytes_written=8")
	assert.Contains(t, logs, "duration_ms=")
}

func TestRequestLoggerDefaultsStatusAndRequestID(t *testing.T) {
	logger, out := newCapturingLogger()
	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/todos", nil))

	logs := out.String()
	assert.Contains(t, logs, "request_id=unknown")
	assert.Contains(t, logs, "status_code=200")
}

func TestRequestLoggerServerErrorIsWarn(t *testing.T) {
	logger, out := newCapturingLogger()
	handler := RequestLogger(logger, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/todos", nil))

	assert.Contains(t, out.String(), "level=WARN")
}
