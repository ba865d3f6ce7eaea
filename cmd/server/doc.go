// Package main is the entry point for the lobby shell host.
//
// The host keeps up to twenty cloud-gaming pages alive in one shared Chrome
// process, each in its own persistent partition, and drives them through a
// local HTTP API:
//
//	Shell UI → HTTP/WebSocket API → Instance coordinator → Chrome (CDP)
//	                              → Control server (virtual controllers)
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//   - Optional YAML automation profile
//
// Usage:
//
//	./server -port 8000 -control http://127.0.0.1:5000
//	./server -dev -no-control -profile profiles/xbox.yaml
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
