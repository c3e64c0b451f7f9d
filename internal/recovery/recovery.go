// Package recovery holds a registry of named recovery actions (reconnects,
// pool restarts, memory reclaim) plus the heuristics that pick one when an
// infrastructure error shows up. Everything here is best-effort: a recovery
// failure is logged and recorded, never propagated as a panic.
package recovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/classlab/gradeflow/internal/config"
	"github.com/classlab/gradeflow/internal/logger"
)

// Well-known action ids. Callers may register more.
const (
	ActionDatabaseReconnect = "database-reconnect"
	ActionCacheReconnect    = "cache-reconnect"
	ActionRestartWorkers    = "restart-worker-pool"
	ActionMemoryReclaim     = "force-memory-reclaim"
)

// ActionFunc performs one recovery attempt.
type ActionFunc func(ctx context.Context) error

// Action is a registered recovery action.
type Action struct {
	ID      string
	Run     ActionFunc
	Retries int
	Enabled bool

	mu          sync.Mutex
	lastAttempt time.Time
	lastSuccess time.Time
}

// ActionStatus is a point-in-time view of an action for health reporting.
type ActionStatus struct {
	ID          string    `json:"id"`
	Retries     int       `json:"retries"`
	Enabled     bool      `json:"enabled"`
	LastAttempt time.Time `json:"last_attempt,omitempty"`
	LastSuccess time.Time `json:"last_success,omitempty"`
}

// Result is the outcome of one ExecuteRecovery call.
type Result struct {
	ActionID   string    `json:"action_id"`
	Success    bool      `json:"success"`
	Attempts   int       `json:"attempts"`
	DurationMs int64     `json:"duration_ms"`
	Error      string    `json:"error,omitempty"`
	At         time.Time `json:"at"`
}

const historyLimit = 100

// Manager owns the action registry and recovery history.
type Manager struct {
	cfg config.RecoveryConfig
	log *logger.Logger

	mu      sync.Mutex
	actions map[string]*Action
	history []Result

	// sleepFunc is overridable in tests
	sleepFunc func(ctx context.Context, d time.Duration)
}

// NewManager creates a recovery Manager with an empty registry.
func NewManager(cfg config.RecoveryConfig, log *logger.Logger) *Manager {
	if log == nil {
		log = logger.GetDefault()
	}
	return &Manager{
		cfg:     cfg,
		log:     log.WithField(logger.FieldComponent, "recovery"),
		actions: make(map[string]*Action),
		sleepFunc: func(ctx context.Context, d time.Duration) {
			select {
			case <-ctx.Done():
			case <-time.After(d):
			}
		},
	}
}

// Register adds an action to the registry. Registering an existing id
// replaces it. Actions must be idempotent; a retried reconnect that finds
// the connection already healthy should succeed, not error.
func (m *Manager) Register(id string, fn ActionFunc) {
	retries := m.cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.actions[id] = &Action{
		ID:      id,
		Run:     fn,
		Retries: retries,
		Enabled: true,
	}
}

// SetEnabled toggles an action without removing it from the registry.
func (m *Manager) SetEnabled(id string, enabled bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	if !ok {
		return false
	}
	action.Enabled = enabled
	return true
}

func (m *Manager) action(id string) (*Action, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	action, ok := m.actions[id]
	return action, ok
}

// ExecuteRecovery runs the named action, retrying with exponential backoff
// (2^attempt seconds) up to the action's retry limit. Each call records one
// history entry. It never panics; a panicking action counts as a failed
// attempt.
func (m *Manager) ExecuteRecovery(ctx context.Context, id string) Result {
	start := time.Now()
	result := Result{ActionID: id, At: start}

	action, ok := m.action(id)
	if !ok {
		result.Error = fmt.Sprintf("unknown recovery action %q", id)
		m.record(result, start)
		return result
	}
	if !action.Enabled {
		result.Error = fmt.Sprintf("recovery action %q is disabled", id)
		m.record(result, start)
		return result
	}

	var lastErr error
	for attempt := 0; attempt < action.Retries; attempt++ {
		if attempt > 0 {
			m.sleepFunc(ctx, time.Duration(1<<attempt)*time.Second)
		}
		if ctx.Err() != nil {
			lastErr = ctx.Err()
			result.Attempts = attempt
			break
		}

		result.Attempts = attempt + 1
		action.mu.Lock()
		action.lastAttempt = time.Now()
		action.mu.Unlock()

		lastErr = m.safeRun(ctx, action)
		if lastErr == nil {
			action.mu.Lock()
			action.lastSuccess = time.Now()
			action.mu.Unlock()
			result.Success = true
			break
		}

		m.log.WithError(lastErr).WithFields(logger.Fields{
			"action":            id,
			logger.FieldAttempt: attempt + 1,
		}).Warn("recovery attempt failed")
	}

	if lastErr != nil && !result.Success {
		result.Error = lastErr.Error()
	}
	m.record(result, start)

	if result.Success {
		m.log.WithFields(logger.Fields{
			"action":   id,
			"attempts": result.Attempts,
		}).Info("recovery action succeeded")
	} else {
		m.log.WithFields(logger.Fields{
			"action":   id,
			"attempts": result.Attempts,
		}).Error("recovery action exhausted retries")
	}
	return result
}

func (m *Manager) safeRun(ctx context.Context, action *Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovery action panic: %v", r)
		}
	}()
	return action.Run(ctx)
}

func (m *Manager) record(result Result, start time.Time) {
	result.DurationMs = time.Since(start).Milliseconds()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, result)
	if len(m.history) > historyLimit {
		m.history = m.history[len(m.history)-historyLimit:]
	}
}

// History returns the recorded recovery results, oldest first.
func (m *Manager) History() []Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Result, len(m.history))
	copy(out, m.history)
	return out
}

// Actions returns the registry status for health reporting.
func (m *Manager) Actions() []ActionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ActionStatus, 0, len(m.actions))
	for _, a := range m.actions {
		a.mu.Lock()
		out = append(out, ActionStatus{
			ID:          a.ID,
			Retries:     a.Retries,
			Enabled:     a.Enabled,
			LastAttempt: a.lastAttempt,
			LastSuccess: a.lastSuccess,
		})
		a.mu.Unlock()
	}
	return out
}

// AttemptAutoRecovery matches err's message against known failure
// categories and runs the corresponding action. The match is heuristic and
// best-effort; unknown errors are left alone. Returns the result and
// whether any action ran.
func (m *Manager) AttemptAutoRecovery(ctx context.Context, err error) (Result, bool) {
	if err == nil {
		return Result{}, false
	}

	id := classify(err.Error())
	if id == "" {
		return Result{}, false
	}
	if _, ok := m.action(id); !ok {
		return Result{}, false
	}

	m.log.WithError(err).WithField("action", id).Warn("attempting automatic recovery")
	return m.ExecuteRecovery(ctx, id), true
}

// classify maps an error message to a recovery action id.
func classify(msg string) string {
	msg = strings.ToLower(msg)
	hasConnection := strings.Contains(msg, "connection") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "timeout")

	switch {
	case hasConnection && (strings.Contains(msg, "database") || strings.Contains(msg, "sql") || strings.Contains(msg, "postgres")):
		return ActionDatabaseReconnect
	case hasConnection && (strings.Contains(msg, "redis") || strings.Contains(msg, "cache")):
		return ActionCacheReconnect
	case strings.Contains(msg, "out of memory") || strings.Contains(msg, "heap"):
		return ActionMemoryReclaim
	case strings.Contains(msg, "queue") && (strings.Contains(msg, "job") || strings.Contains(msg, "worker")):
		return ActionRestartWorkers
	default:
		return ""
	}
}
