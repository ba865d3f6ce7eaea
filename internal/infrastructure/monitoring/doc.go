/*
Package monitoring provides Prometheus metrics for the lobby shell.

Every Metrics value owns a private registry, which keeps tests independent
and lets the server expose exactly its own collectors at /metrics.

Tracked series cover HTTP requests, hosted instance lifecycle, viewport
spoof strategies, auto-play clicks and episode outcomes, control server
calls and event stream connections.

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "controller.connect")
	// ... call control server ...
	timer.Stop("success")
*/
package monitoring
