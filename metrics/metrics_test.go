package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterRejectsBadDefinitions(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.Register("todos_created_total", Counter, "created todos", "user"))

	tests := []struct {
		name    string
		metric  string
		labels  []string
		wantErr error
	}{
		{"duplicate name", "todos_created_total", nil, ErrDuplicateMetric},
		{"empty name", "", nil, ErrInvalidMetric},
		{"repeated label", "a_total", []string{"x", "x"}, ErrInvalidMetric},
		{"empty label", "b_total", []string{""}, ErrInvalidMetric},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := reg.Register(tt.metric, Counter, "", tt.labels...)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestMustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("x_total", Counter, "x")
	assert.Panics(t, func() { reg.MustRegister("x_total", Counter, "x") })
}

func TestUpdateErrors(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("hits_total", Counter, "hits", "route")
	reg.MustRegister("latency_seconds", Histogram, "latency")
	reg.MustRegister("queue_depth", Gauge, "depth")

	assert.ErrorIs(t, reg.Inc("missing_total"), ErrUnknownMetric)
	assert.ErrorIs(t, reg.Inc("hits_total"), ErrLabelArity)
	assert.ErrorIs(t, reg.Inc("hits_total", "/a", "/b"), ErrLabelArity)
	assert.ErrorIs(t, reg.Observe("hits_total", 1, "/a"), ErrKindMismatch)
	assert.ErrorIs(t, reg.Set("latency_seconds", 1), ErrKindMismatch)
	assert.ErrorIs(t, reg.Inc("latency_seconds"), ErrKindMismatch)
	assert.ErrorIs(t, reg.Add("hits_total", -1, "/a"), ErrKindMismatch)

	require.NoError(t, reg.Inc("hits_total", "/a"))
	require.NoError(t, reg.Add("hits_total", 2, "/a"))
	require.NoError(t, reg.Observe("latency_seconds", 0.2))
	require.NoError(t, reg.Set("queue_depth", 7))
	require.NoError(t, reg.Add("queue_depth", -2))

	v, err := reg.Value("hits_total", "/a")
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)

	v, err = reg.Value("latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1.0, v)

	v, err = reg.Value("queue_depth")
	require.NoError(t, err)
	assert.Equal(t, 5.0, v)

	v, err = reg.Value("hits_total", "/never")
	require.NoError(t, err)
	assert.Zero(t, v)
}

func TestConcurrentIncrements(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("hits_total", Counter, "hits", "route")

	const workers, perWorker = 20, 250
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = reg.Inc("hits_total", "/api/todos")
			}
		}()
	}
	wg.Wait()

	v, err := reg.Value("hits_total", "/api/todos")
	require.NoError(t, err)
	assert.Equal(t, float64(workers*perWorker), v)
}

func TestSnapshotIsDeterministic(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("zeta_total", Counter, "z", "route")
	reg.MustRegister("alpha_seconds", Histogram, "a")

	require.NoError(t, reg.Inc("zeta_total", "/b"))
	require.NoError(t, reg.Inc("zeta_total", "/a"))
	require.NoError(t, reg.Observe("alpha_seconds", 0.03))

	first, err := reg.Snapshot()
	require.NoError(t, err)
	second, err := reg.Snapshot()
	require.NoError(t, err)
	assert.Equal(t, first, second)

	assert.Less(t, strings.Index(first, "alpha_seconds"), strings.Index(first, "zeta_total"))
	assert.Less(t, strings.Index(first, `zeta_total{route="/a"}`), strings.Index(first, `zeta_total{route="/b"}`))
	assert.Contains(t, first, `alpha_seconds_bucket{le="0.05"} 1`)
	assert.Contains(t, first, `alpha_seconds_bucket{le="0.025"} 0`)
	assert.Contains(t, first, "# TYPE alpha_seconds histogram")
}

func TestHandlerServesExposition(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("hits_total", Counter, "hits")
	require.NoError(t, reg.Inc("hits_total"))

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/plain"))
	assert.Contains(t, rr.Body.String(), "hits_total 1")
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "counter", Counter.String())
	assert.Equal(t, "histogram", Histogram.String())
	assert.Equal(t, "gauge", Gauge.String())
	assert.Equal(t, "kind(9)", Kind(9).String())
	assert.True(t, errors.Is(NewRegistry().Register("x", Kind(9), ""), ErrInvalidMetric))
}

func TestRuntimeCollectors(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, reg.RegisterRuntimeCollectors())
	assert.Error(t, reg.RegisterRuntimeCollectors(), "second registration collides")

	out, err := reg.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, out, "go_goroutines")
}

func TestHandlerAndSnapshotAgree(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("todos_total", Counter, "todos", "user")
	reg.MustRegister("queue_depth", Gauge, "depth")
	require.NoError(t, reg.Add("todos_total", 3, "alice"))
	require.NoError(t, reg.Inc("todos_total", "bob"))
	require.NoError(t, reg.Set("queue_depth", 7))

	snap, err := reg.Snapshot()
	require.NoError(t, err)

	rr := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rr.Body.String()

	for _, line := range strings.Split(strings.TrimSpace(snap), "\n") {
		if strings.HasPrefix(line, "#") {
			continue
		}
		assert.Contains(t, body, line)
	}
}
