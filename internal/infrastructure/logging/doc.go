// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Components receive a named *zap.Logger from Logger.Component and derive
// per-instance loggers with Instance, so every entry about a hosted page
// carries its instance_id field.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	coord := logger.Component("coordinator")
//	logging.Instance(coord, "lobby_01H...").Info("Spoof applied", zap.String("strategy", "engine"))
package logging
