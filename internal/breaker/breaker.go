// Package breaker guards the shared Redis backing store. Every queue and
// cache call must check CanExecute first and report the outcome with
// RecordSuccess or RecordFailure; the check is owned by the calling layer,
// not by the breaker itself.
package breaker

import (
	"sync/atomic"
	"time"

	"github.com/classlab/gradeflow/internal/logger"
)

// Config holds circuit breaker tuning parameters.
type Config struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before the next call
	// is allowed through as a trial.
	ResetTimeout time.Duration
	// MonitoringPeriod is the sliding window for the request-volume cap.
	MonitoringPeriod time.Duration
	// MaxRequests caps calls per monitoring period regardless of circuit state.
	MaxRequests int64
}

// DefaultConfig returns the standard production tuning.
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		MonitoringPeriod: 10 * time.Second,
		MaxRequests:      100,
	}
}

// Breaker is a circuit breaker with lock-free state updates. State is
// per-process and resets on restart.
type Breaker struct {
	cfg *Config
	log *logger.Logger

	open            atomic.Bool
	failureCount    atomic.Int64
	lastFailureNano atomic.Int64
	requestCount    atomic.Int64
	windowStartNano atomic.Int64

	// onOpen, when set, is invoked on its own goroutine each time the
	// circuit transitions from closed to open.
	onOpen func(err error)

	// nowFunc is overridable in tests
	nowFunc func() time.Time
}

// State is a point-in-time snapshot for health reporting.
type State struct {
	IsOpen               bool      `json:"is_open"`
	FailureCount         int64     `json:"failure_count"`
	LastFailureTime      time.Time `json:"last_failure_time,omitempty"`
	RequestCountInWindow int64     `json:"request_count_in_window"`
}

// New creates a Breaker. A nil cfg uses DefaultConfig.
func New(cfg *Config, log *logger.Logger) *Breaker {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = logger.GetDefault()
	}
	b := &Breaker{
		cfg:     cfg,
		log:     log.WithField(logger.FieldComponent, "breaker"),
		nowFunc: time.Now,
	}
	b.windowStartNano.Store(b.nowFunc().UnixNano())
	return b
}

// SetOnOpen registers a callback fired when the circuit opens, carrying
// the failure that tripped it. Set it during wiring, before the breaker
// sees traffic.
func (b *Breaker) SetOnOpen(fn func(err error)) {
	b.onOpen = fn
}

// CanExecute reports whether a backing-store call may proceed. It also
// consumes one slot of the request-volume window, so callers must invoke it
// exactly once per attempted call.
func (b *Breaker) CanExecute() bool {
	now := b.nowFunc()

	// Sliding request-volume window, independent of circuit state.
	start := b.windowStartNano.Load()
	if now.Sub(time.Unix(0, start)) >= b.cfg.MonitoringPeriod {
		if b.windowStartNano.CompareAndSwap(start, now.UnixNano()) {
			b.requestCount.Store(0)
		}
	}
	if b.requestCount.Add(1) > b.cfg.MaxRequests {
		b.log.Warn("request volume cap reached, throttling backing-store call")
		return false
	}

	if !b.open.Load() {
		return true
	}

	// Open circuit: allow a single trial call once the reset timeout elapsed.
	last := time.Unix(0, b.lastFailureNano.Load())
	if now.Sub(last) >= b.cfg.ResetTimeout {
		b.log.Info("reset timeout elapsed, allowing trial call")
		return true
	}
	return false
}

// RecordSuccess closes the circuit and clears the failure count.
func (b *Breaker) RecordSuccess() {
	if b.open.Swap(false) {
		b.log.Info("circuit closed after successful trial call")
	}
	b.failureCount.Store(0)
}

// RecordFailure registers a backing-store failure and opens the circuit once
// the threshold is reached (or immediately re-opens it after a failed trial).
func (b *Breaker) RecordFailure(err error) {
	b.lastFailureNano.Store(b.nowFunc().UnixNano())
	count := b.failureCount.Add(1)

	if count >= int64(b.cfg.FailureThreshold) {
		if !b.open.Swap(true) {
			b.log.WithFields(logger.Fields{
				"failures": count,
			}).WithError(err).Error("circuit opened")
			if b.onOpen != nil {
				go b.onOpen(err)
			}
		}
	}
}

// IsOpen reports whether the circuit is currently open.
func (b *Breaker) IsOpen() bool {
	return b.open.Load()
}

// Snapshot returns the current breaker state for health endpoints.
func (b *Breaker) Snapshot() State {
	s := State{
		IsOpen:               b.open.Load(),
		FailureCount:         b.failureCount.Load(),
		RequestCountInWindow: b.requestCount.Load(),
	}
	if nano := b.lastFailureNano.Load(); nano > 0 {
		s.LastFailureTime = time.Unix(0, nano)
	}
	return s
}
