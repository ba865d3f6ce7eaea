// Package http serves the host shell API.
//
// Endpoints:
//   - Health: /health, /status
//   - Instances: /instances, /instances/refresh, /instances/:id,
//     /instances/:id/refresh, /instances/:id/autoplay
//   - Gamepad: /instances/:id/gamepad, /instances/:id/gamepad/test
//   - Storage: /instances/:id/storage
//   - Controllers: /controllers, /controllers/movement,
//     /controllers/anti-afk, /controllers/select-class,
//     /controllers/:id/movement, /controllers/:id/anti-afk
//   - Settings: /settings/gamepad, /settings/gamepad/reset,
//     /settings/gamepad/default, /settings/controller
//
// Every response is a JSON object carrying "success" and either the
// payload fields or "error". Controller and settings routes answer 503
// when the control server integration is disabled.
//
// Example Usage:
//
//	handlers := http.NewHandlers(http.Config{Coordinator: coord, Controllers: reg, Control: client})
//	handlers.Register(router)
package http
