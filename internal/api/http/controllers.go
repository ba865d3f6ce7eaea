package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/controller"
)

var errActionFailed = errors.New("action failed on every controller")

type enabledRequest struct {
	Enabled *bool `json:"enabled" binding:"required"`
}

func (h *Handlers) requireControllers(c *gin.Context) bool {
	if h.controllers == nil {
		fail(c, errControlDisabled, nil)
		return false
	}
	return true
}

// ListControllers returns the controller table. ?refresh=true asks the
// control server first.
func (h *Handlers) ListControllers(c *gin.Context) {
	if !h.requireControllers(c) {
		return
	}
	if c.Query("refresh") == "true" {
		// a failed refresh still serves the last known table
		_ = h.controllers.Refresh(c.Request.Context())
	}
	snap := h.controllers.Snapshot()
	ok(c, http.StatusOK, gin.H{
		"controllers":             snap.Controllers,
		"connected":               h.controllers.Connected(),
		"connected_count":         snap.ConnectedCount,
		"global_movement_enabled": snap.MovementEnabled,
		"global_anti_afk_enabled": snap.AntiAFKEnabled,
		"last_refresh":            snap.LastRefresh,
		"last_error":              snap.LastError,
	})
}

// ToggleMovement flips movement on every connected controller
func (h *Handlers) ToggleMovement(c *gin.Context) {
	if !h.requireControllers(c) {
		return
	}
	sum, err := h.controllers.ToggleMovement(c.Request.Context())
	h.summary(c, sum, err)
}

// ToggleAntiAFK flips anti-AFK on every connected controller
func (h *Handlers) ToggleAntiAFK(c *gin.Context) {
	if !h.requireControllers(c) {
		return
	}
	sum, err := h.controllers.ToggleAntiAFK(c.Request.Context())
	h.summary(c, sum, err)
}

// SelectClass runs class selection on every connected controller
func (h *Handlers) SelectClass(c *gin.Context) {
	if !h.requireControllers(c) {
		return
	}
	sum, err := h.controllers.SelectClass(c.Request.Context())
	h.summary(c, sum, err)
}

func (h *Handlers) summary(c *gin.Context, sum controller.Summary, err error) {
	if err != nil {
		fail(c, err, nil)
		return
	}
	payload := gin.H{
		"message":       sum.Message(),
		"success_count": sum.Success,
		"total_count":   sum.Total,
	}
	if sum.Enabled != nil {
		payload["enabled"] = *sum.Enabled
	}
	if len(sum.Failures) > 0 {
		payload["failures"] = sum.Failures
	}
	if sum.Success == 0 {
		c.JSON(http.StatusBadGateway, gin.H{
			"success":  false,
			"error":    errActionFailed.Error(),
			"message":  sum.Message(),
			"failures": sum.Failures,
		})
		return
	}
	ok(c, http.StatusOK, payload)
}

// SetMovement sets movement on the controller of one lobby
func (h *Handlers) SetMovement(c *gin.Context) {
	h.setOne(c, "movement", h.controllers.SetMovement)
}

// SetAntiAFK sets anti-AFK on the controller of one lobby
func (h *Handlers) SetAntiAFK(c *gin.Context) {
	h.setOne(c, "anti-afk", h.controllers.SetAntiAFK)
}

func (h *Handlers) setOne(c *gin.Context, action string, set func(ctx context.Context, lobbyID string, enabled bool) error) {
	if !h.requireControllers(c) {
		return
	}
	var req enabledRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err), nil)
		return
	}
	lobbyID := c.Param("id")
	if err := set(c.Request.Context(), lobbyID, *req.Enabled); err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{
		"lobby_id": lobbyID,
		"action":   action,
		"enabled":  *req.Enabled,
	})
}
