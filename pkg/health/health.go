// Package health serves liveness and readiness probes for the promotion API.
//
// Every registered check runs on its own ticker. A check flips to unhealthy
// after FailureThreshold consecutive failures and back to healthy after
// SuccessThreshold consecutive passes, so one slow database ping does not
// take the pod out of rotation.
package health

import (
	"context"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
	"go.uber.org/zap"
)

// CheckFunc reports the health of one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// Thresholds control how many consecutive results flip a check.
type Thresholds struct {
	Failure int `default:"3" usage:"consecutive failures before a check is unhealthy"`
	Success int `default:"1" usage:"consecutive passes before a check is healthy again"`
}

func (t Thresholds) normalize() Thresholds {
	if t.Failure < 1 {
		t.Failure = 3
	}
	if t.Success < 1 {
		t.Success = 1
	}
	return t
}

// Option configures Health.
type Option func(*Health)

// WithThresholds overrides the default 3/1 failure/success thresholds.
func WithThresholds(t Thresholds) Option {
	return func(h *Health) { h.thresholds = t.normalize() }
}

// WithLogger logs every healthy/unhealthy transition.
func WithLogger(lg *zap.Logger) Option {
	return func(h *Health) { h.lg = lg }
}

// check is the runtime state of one registered CheckFunc.
//
// run is only ever called from the check's own goroutine, so the counters
// need no locking. healthy and lastErr are read by HTTP handlers.
type check struct {
	name       string
	kind       string
	timeout    time.Duration
	fn         CheckFunc
	thresholds Thresholds
	lg         *zap.Logger

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	fails int
	oks   int
}

func (c *check) isHealthy() bool { return c.healthy.Load() }

func (c *check) lastError() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)

	if err != nil {
		c.oks = 0
		c.fails++
		if c.fails >= c.thresholds.Failure && c.healthy.Swap(false) {
			c.lg.Warn("Health check failing",
				zap.String("check", c.name),
				zap.String("kind", c.kind),
				zap.Int("failures", c.fails),
				zap.Error(err),
			)
		}
		return
	}

	c.fails = 0
	c.oks++
	if c.oks >= c.thresholds.Success && !c.healthy.Swap(true) {
		c.lg.Info("Health check recovered",
			zap.String("check", c.name),
			zap.String("kind", c.kind),
		)
	}
}

// Health tracks liveness and readiness of the service.
type Health struct {
	ready      atomic.Bool
	thresholds Thresholds
	lg         *zap.Logger

	// mu guards the check lists and cancel. Endpoints copy the lists under
	// RLock and read check state without holding it.
	mu        sync.RWMutex
	liveness  []*check
	readiness []*check
	cancel    context.CancelFunc
}

// New returns a Health that is not ready until SetReady(true) is called.
func New(opts ...Option) *Health {
	h := &Health{
		thresholds: Thresholds{}.normalize(),
		lg:         zap.NewNop(),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *Health) newCheck(kind, name string, timeout time.Duration, fn CheckFunc) *check {
	c := &check{
		name:       name,
		kind:       kind,
		timeout:    timeout,
		fn:         fn,
		thresholds: h.thresholds,
		lg:         h.lg,
	}
	// Healthy until proven otherwise.
	c.healthy.Store(true)
	return c
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, h.newCheck("liveness", name, timeout, fn))
}

// AddReadinessCheck registers a check that decides whether the service
// should receive traffic.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, h.newCheck("readiness", name, timeout, fn))
}

// Start runs every registered check every interval until Stop is called or
// ctx is cancelled. Checks registered after Start are not run.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	h.cancel = cancel
	checks := slices.Concat(h.liveness, h.readiness)
	h.mu.Unlock()

	for _, c := range checks {
		go loop(ctx, c, interval)
	}
}

func loop(ctx context.Context, c *check, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.run(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.run(ctx)
		}
	}
}

// SetReady marks the service ready (after startup) or draining (on
// shutdown).
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the service is marked ready and every readiness
// check passes.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	for _, c := range h.snapshot(&h.readiness) {
		if !c.isHealthy() {
			return false
		}
	}
	return true
}

// Stop cancels the check goroutines. It is idempotent.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

func (h *Health) snapshot(list *[]*check) []*check {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return slices.Clone(*list)
}

// LiveEndpoint serves /livez: 200 {"status":"ok"} or 503 with the failing
// checks.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, failures(h.snapshot(&h.liveness)))
}

// ReadyEndpoint serves /readyz. It also fails while the service is not
// marked ready.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := failures(h.snapshot(&h.readiness))
	if !h.ready.Load() {
		failed = append(failed, failure{name: "_readiness", msg: "service is not ready"})
	}
	writeStatus(w, failed)
}

type failure struct {
	name string
	msg  string
}

// failures reports unhealthy checks using their last stored error; checks
// are not re-run on request.
func failures(checks []*check) []failure {
	var out []failure
	for _, c := range checks {
		if c.isHealthy() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.lastError(); err != nil {
			msg = err.Error()
		}
		out = append(out, failure{name: c.name, msg: msg})
	}
	return out
}

func writeStatus(w http.ResponseWriter, failed []failure) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.Obj(func(e *jx.Encoder) {
		if len(failed) == 0 {
			e.Field("status", func(e *jx.Encoder) { e.Str("ok") })
			return
		}
		status = http.StatusServiceUnavailable
		e.Field("status", func(e *jx.Encoder) { e.Str("unhealthy") })
		e.Field("checks", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				for _, f := range failed {
					e.Field(f.name, func(e *jx.Encoder) { e.Str(f.msg) })
				}
			})
		})
	})

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	// The status is already sent; a failed write means the client is gone.
	_, _ = w.Write(e.Bytes())
}
