package recovery

import (
	"context"
	"time"

	"github.com/classlab/gradeflow/internal/logger"
)

// ProbeFunc is a lightweight liveness check against one dependency.
type ProbeFunc func(ctx context.Context) error

// Probe pairs a liveness check with the recovery action to run when it
// fails.
type Probe struct {
	Name     string
	Check    ProbeFunc
	ActionID string
}

const probeTimeout = 5 * time.Second

// RunProbes runs the given probes on the configured interval until ctx is
// cancelled. A failing probe triggers its recovery action preemptively,
// independent of request-path errors.
func (m *Manager) RunProbes(ctx context.Context, probes []Probe) {
	interval := m.cfg.ProbeInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Infof("health probes started, interval %s", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, probe := range probes {
				m.runProbe(ctx, probe)
			}
		}
	}
}

func (m *Manager) runProbe(ctx context.Context, probe Probe) {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	err := probe.Check(probeCtx)
	if err == nil {
		return
	}

	m.log.WithError(err).WithField("probe", probe.Name).Warn("health probe failed")
	if probe.ActionID == "" {
		return
	}
	result := m.ExecuteRecovery(ctx, probe.ActionID)
	if !result.Success {
		m.log.WithFields(logger.Fields{
			"probe":  probe.Name,
			"action": probe.ActionID,
		}).Error("preemptive recovery failed")
	}
}
