package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/GriffinCanCode/lobbyshell/internal/domain/controller"
	"github.com/GriffinCanCode/lobbyshell/internal/domain/instance"
	"github.com/GriffinCanCode/lobbyshell/internal/infrastructure/resilience"
	"github.com/GriffinCanCode/lobbyshell/internal/providers/control"
)

var (
	errInvalidRequest  = errors.New("invalid request")
	errControlDisabled = errors.New("control server integration disabled")
)

// ok writes a success envelope with the given payload fields.
func ok(c *gin.Context, status int, payload gin.H) {
	body := gin.H{"success": true}
	for k, v := range payload {
		body[k] = v
	}
	c.JSON(status, body)
}

// fail writes an error envelope with the status err maps to. extra
// fields are merged in.
func fail(c *gin.Context, err error, extra gin.H) {
	status := statusFor(err)
	body := gin.H{"success": false, "error": err.Error()}
	for k, v := range extra {
		body[k] = v
	}
	_ = c.Error(err)
	c.JSON(status, body)
}

func statusFor(err error) int {
	var (
		admission *instance.AdmissionError
		apiErr    *control.APIError
	)
	switch {
	case errors.Is(err, errInvalidRequest):
		return http.StatusBadRequest
	case errors.As(err, &admission):
		if errors.Is(err, instance.ErrCapacityExceeded) {
			return http.StatusConflict
		}
		return http.StatusBadRequest
	case errors.Is(err, instance.ErrNotFound), errors.Is(err, controller.ErrUnknownLobby):
		return http.StatusNotFound
	case errors.Is(err, instance.ErrNotReady), errors.Is(err, controller.ErrNoControllers):
		return http.StatusConflict
	case errors.Is(err, instance.ErrShutdown), errors.Is(err, errControlDisabled),
		errors.Is(err, resilience.ErrCircuitOpen), errors.Is(err, resilience.ErrTooManyRequests):
		return http.StatusServiceUnavailable
	case errors.As(err, &apiErr):
		if apiErr.Rejected() {
			return http.StatusBadRequest
		}
		return http.StatusBadGateway
	case errors.Is(err, control.ErrUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
