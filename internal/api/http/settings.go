package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/control"
)

type saveConfigRequest struct {
	Config control.GamepadConfig `json:"config" binding:"required"`
}

type settingRequest struct {
	Section string `json:"section" binding:"required"`
	Key     string `json:"key" binding:"required"`
	Value   any    `json:"value"`
}

func (h *Handlers) requireControl(c *gin.Context) bool {
	if h.control == nil {
		fail(c, errControlDisabled, nil)
		return false
	}
	return true
}

// result forwards a control server action result.
func result(c *gin.Context, res *control.Result, err error) {
	if err != nil {
		fail(c, err, nil)
		return
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = res.Message
		}
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": msg})
		return
	}
	ok(c, http.StatusOK, gin.H{"message": res.Message})
}

// GetGamepadConfig returns the control server's gamepad mapping
func (h *Handlers) GetGamepadConfig(c *gin.Context) {
	if !h.requireControl(c) {
		return
	}
	cfg, err := h.control.GamepadConfig(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"config": cfg})
}

// SaveGamepadConfig stores a new gamepad mapping
func (h *Handlers) SaveGamepadConfig(c *gin.Context) {
	if !h.requireControl(c) {
		return
	}
	var req saveConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err), nil)
		return
	}
	if len(req.Config) == 0 {
		fail(c, fmt.Errorf("%w: empty config", errInvalidRequest), nil)
		return
	}
	res, err := h.control.SaveGamepadConfig(c.Request.Context(), req.Config)
	result(c, res, err)
}

// ResetGamepadConfig restores the default mapping
func (h *Handlers) ResetGamepadConfig(c *gin.Context) {
	if !h.requireControl(c) {
		return
	}
	res, err := h.control.ResetGamepadConfig(c.Request.Context())
	result(c, res, err)
}

// DefaultGamepadConfig returns the default mapping without applying it
func (h *Handlers) DefaultGamepadConfig(c *gin.Context) {
	if !h.requireControl(c) {
		return
	}
	cfg, err := h.control.DefaultGamepadConfig(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"config": cfg})
}

// GetControllerSettings returns the control server's controller settings
func (h *Handlers) GetControllerSettings(c *gin.Context) {
	if !h.requireControl(c) {
		return
	}
	settings, err := h.control.Settings(c.Request.Context())
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"settings": settings})
}

// UpdateControllerSetting changes one controller setting
func (h *Handlers) UpdateControllerSetting(c *gin.Context) {
	if !h.requireControl(c) {
		return
	}
	var req settingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err), nil)
		return
	}
	if req.Value == nil {
		fail(c, fmt.Errorf("%w: value is required", errInvalidRequest), nil)
		return
	}
	res, err := h.control.UpdateSetting(c.Request.Context(), req.Section, req.Key, req.Value)
	result(c, res, err)
}
