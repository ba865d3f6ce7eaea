// Package middleware provides the HTTP middleware of the host shell API.
//
// Middleware stack:
//   - CORS: cross-origin access for the desktop shell
//   - RateLimit: per-IP token bucket, idle clients are swept
//   - GlobalRateLimit: one bucket for every caller
//   - RequestLogger: one structured log line per request
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
//	router.Use(middleware.RequestLogger(logger))
package middleware
