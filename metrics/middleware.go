package metrics

import (
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/giygas/todo-api/logging"
)

// Metric names owned by the HTTP layer
const (
	RequestsTotal     = "http_requests_total"
	RequestDuration   = "http_request_duration_seconds"
	ActiveConnections = "http_active_connections"
	ErrorsTotal       = "http_errors_total"
)

// UnmatchedRoute labels requests that no route pattern matched
const UnmatchedRoute = "unmatched"

// StatusClientClosed is recorded when the client went away before any response
const StatusClientClosed = 499

// Instrumentation counts, times and tracks every request passing through it
type Instrumentation struct {
	reg    *Registry
	active atomic.Int64
	// resolve supplies a route pattern when chi has not set one, e.g. for
	// requests answered before routing
	resolve func(*http.Request) string
}

// NewInstrumentation registers the HTTP metrics on reg
func NewInstrumentation(reg *Registry) (*Instrumentation, error) {
	defs := []struct {
		name   string
		kind   Kind
		help   string
		labels []string
	}{
		{RequestsTotal, Counter, "Total HTTP requests", []string{"method", "status_code", "route"}},
		{RequestDuration, Histogram, "HTTP request latency in seconds", []string{"method", "route", "status_code"}},
		{ActiveConnections, Gauge, "Requests currently being served", nil},
		{ErrorsTotal, Counter, "HTTP errors by classified kind", []string{"kind", "route"}},
	}
	for _, d := range defs {
		if err := reg.Register(d.name, d.kind, d.help, d.labels...); err != nil {
			return nil, err
		}
	}
	return &Instrumentation{reg: reg}, nil
}

// SetRouteResolver installs the fallback used by Route
func (in *Instrumentation) SetRouteResolver(resolve func(*http.Request) string) {
	in.resolve = resolve
}

// Active is the number of requests currently inside the middleware
func (in *Instrumentation) Active() int64 {
	return in.active.Load()
}

// Registry returns the registry the metrics live on
func (in *Instrumentation) Registry() *Registry {
	return in.reg
}

// Route returns the bounded route label for r
func (in *Instrumentation) Route(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if pattern := rctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	if in.resolve != nil {
		if pattern := in.resolve(r); pattern != "" {
			return pattern
		}
	}
	return UnmatchedRoute
}

// CountError records one classified error against a route
func (in *Instrumentation) CountError(kind, route string) {
	if err := in.reg.Inc(ErrorsTotal, kind, route); err != nil {
		logging.Warn("failed to record error metric", "error", err)
	}
}

// Middleware wraps next. The completion block is deferred so it runs exactly
// once whether next returns, panics or the client disconnects.
func (in *Instrumentation) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		in.active.Add(1)
		in.track(1)

		sw := &statusWriter{ResponseWriter: w}

		defer func() {
			rec := recover()

			status := sw.status
			switch {
			case rec != nil:
				status = http.StatusInternalServerError
			case status == 0 && r.Context().Err() != nil:
				status = StatusClientClosed
			case status == 0:
				status = http.StatusOK
			}

			route := in.Route(r)
			code := strconv.Itoa(status)

			if err := in.reg.Inc(RequestsTotal, r.Method, code, route); err != nil {
				logging.Warn("failed to record request metric", "error", err)
			}
			if err := in.reg.Observe(RequestDuration, time.Since(start).Seconds(), r.Method, route, code); err != nil {
				logging.Warn("failed to record duration metric", "error", err)
			}

			in.track(-1)
			in.active.Add(-1)

			if rec != nil {
				panic(rec)
			}
		}()

		next.ServeHTTP(sw, r)
	})
}

func (in *Instrumentation) track(delta float64) {
	if err := in.reg.Add(ActiveConnections, delta); err != nil {
		logging.Warn("failed to update active connections", "error", err)
	}
}

// statusWriter remembers the first status written; zero means nothing was written
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(code int) {
	if sw.status == 0 {
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Unwrap() http.ResponseWriter {
	return sw.ResponseWriter
}
