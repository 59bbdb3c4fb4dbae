package ratelimit

import (
	"math"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/juju/ratelimit"

	"github.com/giygas/todo-api/apperrors"
	"github.com/giygas/todo-api/logging"
	"github.com/giygas/todo-api/metrics"
	"github.com/giygas/todo-api/respond"
)

// Metric names owned by the limiter
const (
	RejectionsTotal = "rate_limit_rejections_total"
	BucketsGauge    = "rate_limiter_buckets"
)

// Rule applies a limiter to requests matching Method and Path. Empty fields match anything.
type Rule struct {
	Limiter *Limiter
	Method  string
	Path    string
}

func (ru Rule) matches(r *http.Request) bool {
	return (ru.Method == "" || ru.Method == r.Method) && (ru.Path == "" || ru.Path == r.URL.Path)
}

type rejectionBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Chain evaluates its rules in order; the first rejection answers the request
type Chain struct {
	rules []Rule
	inst  *metrics.Instrumentation

	// logBucket caps rejection warnings at a few per second
	logBucket  *ratelimit.Bucket
	suppressed atomic.Int64
}

// NewChain registers the limiter metrics on inst's registry
func NewChain(inst *metrics.Instrumentation, rules ...Rule) (*Chain, error) {
	reg := inst.Registry()
	if err := reg.Register(RejectionsTotal, metrics.Counter, "Requests rejected by rate limiting", "policy"); err != nil {
		return nil, err
	}
	if err := reg.Register(BucketsGauge, metrics.Gauge, "Client buckets tracked per policy", "policy"); err != nil {
		return nil, err
	}

	return &Chain{
		rules:     rules,
		inst:      inst,
		logBucket: ratelimit.NewBucketWithRate(5, 20),
	}, nil
}

// Default builds the general + login chain used by the API
func Default(inst *metrics.Instrumentation, opts ...Option) (*Chain, error) {
	return NewChain(inst,
		Rule{Limiter: NewLimiter(GeneralPolicy, opts...)},
		Rule{Limiter: NewLimiter(AuthPolicy, opts...), Method: http.MethodPost, Path: "/api/auth/login"},
	)
}

// Middleware rejects over-limit clients with 429 before next runs
func (c *Chain) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := metrics.ClientKey(r)

		for _, rule := range c.rules {
			if !rule.matches(r) {
				continue
			}

			d := rule.Limiter.Allow(key)
			setLimitHeaders(w, d)
			if !d.Allowed {
				c.reject(w, r, rule.Limiter, d, key)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func setLimitHeaders(w http.ResponseWriter, d Decision) {
	h := w.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
}

func (c *Chain) reject(w http.ResponseWriter, r *http.Request, l *Limiter, d Decision, key string) {
	policy := l.Policy()
	w.Header().Set("Retry-After", strconv.Itoa(retryAfter(d.ResetAt.Sub(l.Now()))))
	respond.JSON(w, r, http.StatusTooManyRequests, rejectionBody{
		Error:   http.StatusText(http.StatusTooManyRequests),
		Message: policy.Message,
	})

	c.inst.CountError(apperrors.KindRateLimited.String(), c.inst.Route(r))
	if err := c.inst.Registry().Inc(RejectionsTotal, policy.Name); err != nil {
		logging.Warn("failed to record rejection metric", "error", err)
	}

	if c.logBucket.TakeAvailable(1) == 0 {
		c.suppressed.Add(1)
		return
	}
	logging.Warn("Rate limit exceeded",
		"policy", policy.Name,
		"client", key,
		"method", r.Method,
		"path", logging.Sanitize(r.URL.Path, 256),
		"count", d.Count,
		"suppressed", c.suppressed.Swap(0),
	)
}

func retryAfter(until time.Duration) int {
	secs := int(math.Ceil(until.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// Sweep drops expired buckets from every limiter and publishes the bucket counts
func (c *Chain) Sweep() {
	for _, rule := range c.rules {
		l := rule.Limiter
		remaining := l.Sweep(l.Now())
		if err := c.inst.Registry().Set(BucketsGauge, float64(remaining), l.Policy().Name); err != nil {
			logging.Warn("failed to record bucket gauge", "error", err)
		}
	}
}

// Limiters returns the limiter of every rule, in evaluation order
func (c *Chain) Limiters() []*Limiter {
	out := make([]*Limiter, len(c.rules))
	for i, rule := range c.rules {
		out[i] = rule.Limiter
	}
	return out
}
