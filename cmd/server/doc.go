// Package main is the entry point for the webterm server.
//
// webterm serves browser terminals over WebSocket: each session has a
// virtual filesystem, a working directory and command history, and runs
// built-in commands, Python and JavaScript against that filesystem.
//
// Configuration:
//   - Environment variables (12-factor)
//   - Optional YAML/TOML file (CONFIG_FILE or --config)
//   - CLI flags (override both)
//
// Usage:
//
//	# Production mode
//	./server --port 8000 --config webterm.yaml
//
//	# Development mode (colored logs, debug level)
//	./server --dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
