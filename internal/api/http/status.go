package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// Health handles the liveness check
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{
		"status":         "healthy",
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.started).Seconds()),
	})
}

// Status reports instance counts, local metrics and the reachability of
// the control server. An unreachable control server is reported, not
// treated as a failure.
func (h *Handlers) Status(c *gin.Context) {
	payload := gin.H{
		"instances": gin.H{
			"count": h.coord.Count(),
			"max":   h.coord.Max(),
		},
		"metrics": h.metrics.Snapshot(),
	}

	controlView := gin.H{"enabled": h.control != nil}
	if h.control != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), h.statusTimeout)
		st, err := h.control.Status(ctx)
		cancel()

		controlView["breaker"] = h.control.BreakerState().String()
		controlView["reachable"] = err == nil
		if err != nil {
			controlView["error"] = err.Error()
		} else {
			controlView["status"] = st.Status
			controlView["games_count"] = st.GamesCount
		}
	}
	payload["control"] = controlView

	if h.controllers != nil {
		snap := h.controllers.Snapshot()
		payload["controllers"] = gin.H{
			"connected_count":         snap.ConnectedCount,
			"global_movement_enabled": snap.MovementEnabled,
			"global_anti_afk_enabled": snap.AntiAFKEnabled,
		}
	}

	ok(c, http.StatusOK, payload)
}
