// Package monitor computes rolling queue performance metrics from job
// lifecycle events and logs threshold alerts. It only observes; fixing
// whatever an alert points at is the recovery system's job.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/classlab/gradeflow/internal/config"
	"github.com/classlab/gradeflow/internal/domain"
	"github.com/classlab/gradeflow/internal/logger"
	"github.com/classlab/gradeflow/internal/queue"
)

// Snapshot is a point-in-time metrics view for health reporting.
type Snapshot struct {
	AvgWaitMs        int64   `json:"avg_wait_ms"`
	AvgProcessingMs  int64   `json:"avg_processing_ms"`
	ThroughputPerMin float64 `json:"throughput_per_min"`
	FailureRate      float64 `json:"failure_rate"`
	Completed        int64   `json:"completed"`
	Failed           int64   `json:"failed"`
	Stalled          int64   `json:"stalled"`
	SampleCount      int     `json:"sample_count"`
}

// CountsFunc reports the current queue depth, used for backlog alerts.
type CountsFunc func(ctx context.Context) (domain.QueueCounts, error)

// Monitor subscribes to queue events and keeps rolling windows of wait and
// processing times plus a completion timeline for throughput.
type Monitor struct {
	cfg    config.MonitorConfig
	log    *logger.Logger
	counts CountsFunc

	mu          sync.Mutex
	waits       []int64
	processings []int64
	completions []time.Time
	completed   int64
	failed      int64
	stalled     int64

	nowFunc func() time.Time
}

// New creates a Monitor. counts may be nil, which disables backlog alerts.
func New(cfg config.MonitorConfig, counts CountsFunc, log *logger.Logger) *Monitor {
	if log == nil {
		log = logger.GetDefault()
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 100
	}
	return &Monitor{
		cfg:     cfg,
		log:     log.WithField(logger.FieldComponent, "monitor"),
		counts:  counts,
		nowFunc: time.Now,
	}
}

// Run consumes events and periodically checks alert thresholds until ctx is
// cancelled. Events the monitor cannot keep up with are dropped by the
// queue's event bus, never blocking job processing.
func (m *Monitor) Run(ctx context.Context, events <-chan queue.Event) {
	interval := m.cfg.CheckInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.observe(ev)
		case <-ticker.C:
			m.checkThresholds(ctx)
		}
	}
}

func (m *Monitor) observe(ev queue.Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch ev.Type {
	case queue.EventJobActive:
		m.waits = appendCapped(m.waits, ev.WaitMs, m.cfg.WindowSize)
	case queue.EventJobCompleted:
		m.completed++
		m.processings = appendCapped(m.processings, ev.ProcessingMs, m.cfg.WindowSize)
		m.completions = append(m.completions, m.nowFunc())
		m.trimCompletions()
	case queue.EventJobFailed:
		m.failed++
		if ev.ProcessingMs > 0 {
			m.processings = appendCapped(m.processings, ev.ProcessingMs, m.cfg.WindowSize)
		}
	case queue.EventJobStalled:
		m.stalled++
	}
}

func appendCapped(s []int64, v int64, cap int) []int64 {
	s = append(s, v)
	if len(s) > cap {
		s = s[len(s)-cap:]
	}
	return s
}

// trimCompletions drops completion timestamps older than a minute; the
// remainder is the per-minute throughput.
func (m *Monitor) trimCompletions() {
	cutoff := m.nowFunc().Add(-time.Minute)
	i := 0
	for i < len(m.completions) && m.completions[i].Before(cutoff) {
		i++
	}
	m.completions = m.completions[i:]
}

// Snapshot returns the current rolling metrics.
func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.trimCompletions()

	snap := Snapshot{
		AvgWaitMs:        avg(m.waits),
		AvgProcessingMs:  avg(m.processings),
		ThroughputPerMin: float64(len(m.completions)),
		Completed:        m.completed,
		Failed:           m.failed,
		Stalled:          m.stalled,
		SampleCount:      len(m.processings),
	}
	if total := m.completed + m.failed; total > 0 {
		snap.FailureRate = float64(m.failed) / float64(total)
	}
	return snap
}

func avg(s []int64) int64 {
	if len(s) == 0 {
		return 0
	}
	var sum int64
	for _, v := range s {
		sum += v
	}
	return sum / int64(len(s))
}

// checkThresholds logs an alert for every breached threshold. Alerts are
// informational only.
func (m *Monitor) checkThresholds(ctx context.Context) {
	snap := m.Snapshot()

	if m.cfg.MaxAvgWait > 0 && snap.AvgWaitMs > m.cfg.MaxAvgWait.Milliseconds() {
		m.log.WithField("avg_wait_ms", snap.AvgWaitMs).Warn("average job wait time above threshold")
	}
	if m.cfg.MaxAvgProcessing > 0 && snap.AvgProcessingMs > m.cfg.MaxAvgProcessing.Milliseconds() {
		m.log.WithField("avg_processing_ms", snap.AvgProcessingMs).Warn("average job processing time above threshold")
	}
	if m.cfg.MaxFailureRate > 0 && snap.FailureRate > m.cfg.MaxFailureRate {
		m.log.WithField("failure_rate", snap.FailureRate).Warn("job failure rate above threshold")
	}

	if m.counts == nil {
		return
	}
	counts, err := m.counts(ctx)
	if err != nil {
		m.log.WithError(err).Debug("queue depth unavailable for backlog check")
		return
	}
	backlog := counts.Waiting + counts.Delayed
	if m.cfg.MaxBacklog > 0 && backlog > m.cfg.MaxBacklog {
		m.log.WithField("backlog", backlog).Warn("queue backlog above threshold")
	}
	if m.cfg.MinThroughput > 0 && backlog > 0 && snap.ThroughputPerMin < m.cfg.MinThroughput {
		m.log.WithFields(logger.Fields{
			"throughput_per_min": snap.ThroughputPerMin,
			"backlog":            backlog,
		}).Warn("throughput below threshold with nonzero backlog")
	}
}
