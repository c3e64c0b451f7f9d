package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classlab/gradeflow/internal/breaker"
	"github.com/classlab/gradeflow/internal/monitor"
	"github.com/classlab/gradeflow/internal/queue"
	"github.com/classlab/gradeflow/internal/recovery"
)

// HealthHandler handles health check endpoints
type HealthHandler struct {
	queue    *queue.Queue
	brk      *breaker.Breaker
	recovery *recovery.Manager
	monitor  *monitor.Monitor
}

// NewHealthHandler creates a new health handler. Any dependency may be nil;
// its section is then omitted from the detailed report.
func NewHealthHandler(q *queue.Queue, brk *breaker.Breaker, rec *recovery.Manager, mon *monitor.Monitor) *HealthHandler {
	return &HealthHandler{
		queue:    q,
		brk:      brk,
		recovery: rec,
		monitor:  mon,
	}
}

// Health returns the health status of the service
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// Details handles GET /health/details: breaker state, queue depth, recovery
// history, and rolling performance metrics.
func (h *HealthHandler) Details(c *gin.Context) {
	resp := gin.H{"status": "ok"}

	if h.brk != nil {
		resp["circuit_breaker"] = h.brk.Snapshot()
		if h.brk.IsOpen() {
			resp["status"] = "degraded"
		}
	}

	if h.queue != nil {
		counts, err := h.queue.Counts(c.Request.Context())
		if err != nil {
			resp["status"] = "degraded"
			resp["queue_error"] = err.Error()
		} else {
			resp["queue"] = counts
		}
	}

	if h.recovery != nil {
		resp["recovery_actions"] = h.recovery.Actions()
		resp["recovery_history"] = h.recovery.History()
	}

	if h.monitor != nil {
		resp["metrics"] = h.monitor.Snapshot()
	}

	c.JSON(http.StatusOK, resp)
}
