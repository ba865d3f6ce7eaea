package http

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/lobbyshell/internal/providers/gamepad"
)

type openRequest struct {
	Count int `json:"count"`
}

// ListInstances lists every hosted instance
func (h *Handlers) ListInstances(c *gin.Context) {
	list := h.coord.List()
	ok(c, http.StatusOK, gin.H{
		"instances": list,
		"count":     len(list),
		"max":       h.coord.Max(),
	})
}

// OpenInstances creates count instances. A partial batch answers with an
// error and the instances that were created.
func (h *Handlers) OpenInstances(c *gin.Context) {
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err), nil)
		return
	}

	infos, err := h.coord.Open(c.Request.Context(), req.Count)
	if err != nil {
		extra := gin.H{}
		if len(infos) > 0 {
			extra["instances"] = infos
		}
		fail(c, err, extra)
		return
	}

	h.logger.Info("Opened instances via API", zap.Int("count", len(infos)))
	ok(c, http.StatusCreated, gin.H{
		"instances": infos,
		"count":     len(infos),
		"total":     h.coord.Count(),
	})
}

// CloseAllInstances destroys every instance
func (h *Handlers) CloseAllInstances(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"closed": h.coord.CloseAll()})
}

// RefreshAllInstances reloads every instance in place
func (h *Handlers) RefreshAllInstances(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"refreshed": h.coord.RefreshAll(c.Request.Context())})
}

// GetInstance returns one instance
func (h *Handlers) GetInstance(c *gin.Context) {
	info, err := h.coord.Get(c.Param("id"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"instance": info})
}

// CloseInstance destroys one instance
func (h *Handlers) CloseInstance(c *gin.Context) {
	instanceID := c.Param("id")
	if err := h.coord.Close(instanceID); err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"instance_id": instanceID})
}

// RefreshInstance reloads one instance in place
func (h *Handlers) RefreshInstance(c *gin.Context) {
	instanceID := c.Param("id")
	if err := h.coord.Refresh(c.Request.Context(), instanceID); err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"instance_id": instanceID})
}

// TriggerAutoPlay runs one manual detection pass
func (h *Handlers) TriggerAutoPlay(c *gin.Context) {
	clicked, err := h.coord.TriggerAutoPlay(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"clicked": clicked})
}

// gamepadView is a pad the way navigator.getGamepads() reports it.
type gamepadView struct {
	Index     int                                `json:"index"`
	ID        string                             `json:"id"`
	Mapping   string                             `json:"mapping"`
	Connected bool                               `json:"connected"`
	Buttons   [gamepad.NumButtons]gamepad.Button `json:"buttons"`
	Axes      [gamepad.NumAxes]float64           `json:"axes"`
	Timestamp float64                            `json:"timestamp"`
}

func viewOf(s gamepad.State) gamepadView {
	return gamepadView{
		Index:     s.Index,
		ID:        s.ID,
		Mapping:   s.Mapping,
		Connected: s.Connected,
		Buttons:   s.Buttons,
		Axes:      s.Axes,
		Timestamp: s.TimestampMillis(),
	}
}

// GetGamepad returns the getGamepads() view of an instance
func (h *Handlers) GetGamepad(c *gin.Context) {
	slots, err := h.coord.Gamepads(c.Param("id"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	views := make([]*gamepadView, len(slots))
	for i, s := range slots {
		if s != nil {
			v := viewOf(*s)
			views[i] = &v
		}
	}
	ok(c, http.StatusOK, gin.H{"gamepads": views})
}

// UpdateGamepad applies a partial pad update. Only an unparsable body is
// rejected.
func (h *Handlers) UpdateGamepad(c *gin.Context) {
	var u gamepad.Update
	if err := c.ShouldBindJSON(&u); err != nil {
		fail(c, fmt.Errorf("%w: %v", errInvalidRequest, err), nil)
		return
	}
	// out-of-range buttons and extra axes are ignored by the device
	state, err := h.coord.UpdateGamepad(c.Request.Context(), c.Param("id"), u)
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"gamepad": viewOf(state)})
}

// ExerciseGamepad starts the scripted pad self-test
func (h *Handlers) ExerciseGamepad(c *gin.Context) {
	d, err := h.coord.ExerciseGamepad(c.Param("id"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusAccepted, gin.H{"duration_ms": d.Milliseconds()})
}

// GetStorage returns the storage namespace of an instance
func (h *Handlers) GetStorage(c *gin.Context) {
	view, err := h.coord.Storage(c.Param("id"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"storage": view})
}

// WipeStorage removes every persisted entry of an instance
func (h *Handlers) WipeStorage(c *gin.Context) {
	n, err := h.coord.WipeStorage(c.Param("id"))
	if err != nil {
		fail(c, err, nil)
		return
	}
	ok(c, http.StatusOK, gin.H{"removed": n})
}
