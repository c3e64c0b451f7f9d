package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/classlab/gradeflow/internal/recovery"
)

// AdminHandler handles operator-only endpoints.
type AdminHandler struct {
	recovery *recovery.Manager
	apiKey   string
}

// NewAdminHandler creates a new admin handler. apiKey guards the routes;
// an empty key disables them.
func NewAdminHandler(rec *recovery.Manager, apiKey string) *AdminHandler {
	return &AdminHandler{
		recovery: rec,
		apiKey:   apiKey,
	}
}

// Authorize is a middleware checking the X-API-Key header.
func (h *AdminHandler) Authorize(c *gin.Context) {
	if h.apiKey == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "Admin endpoints are disabled",
		})
		return
	}
	if c.GetHeader("X-API-Key") != h.apiKey {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid API key",
		})
		return
	}
	c.Next()
}

// TriggerRecovery handles POST /api/v1/admin/recovery/:action. Runs the
// named recovery action and reports the outcome.
func (h *AdminHandler) TriggerRecovery(c *gin.Context) {
	action := c.Param("action")
	result := h.recovery.ExecuteRecovery(c.Request.Context(), action)

	status := http.StatusOK
	if !result.Success {
		status = http.StatusBadGateway
		if result.Attempts == 0 {
			// Unknown or disabled action; nothing was attempted.
			status = http.StatusNotFound
		}
	}
	c.JSON(status, result)
}

// ListRecoveryActions handles GET /api/v1/admin/recovery.
func (h *AdminHandler) ListRecoveryActions(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"actions": h.recovery.Actions(),
		"history": h.recovery.History(),
	})
}
