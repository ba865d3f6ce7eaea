// Package ws streams coordinator events to the desktop shell over a
// WebSocket.
//
// Every connected client receives every instance event unless it
// subscribed to a subset of instances.
//
// Message Types (Client → Server):
//   - ping: keep-alive, answered with pong
//   - subscribe: {"type":"subscribe","instances":["lobby_..."]}, an empty
//     list restores the full stream
//
// Message Types (Server → Client):
//   - system: welcome message carrying the client id
//   - instance.opened, instance.state, instance.closed
//   - autoplay.outcome, controller.assigned
//   - pong, error
//
// Example Usage:
//
//	hub := ws.NewHub(metrics, logger)
//	coordinator := instance.NewCoordinator(instance.Config{Events: hub, ...})
//	router.GET("/stream", hub.HandleConnection)
package ws
