// Package config provides 12-factor configuration management for the terminal server.
//
// Configuration is loaded from environment variables with sensible defaults.
// A YAML or TOML file named by CONFIG_FILE is applied on top, and CLI flags
// in cmd/server override both.
//
// Configuration Sections:
//   - Server: HTTP listener and shutdown grace period
//   - Logging: Log level and output format
//   - RateLimit: Per-IP HTTP limits and per-connection command limits
//   - Store: Virtual filesystem driver (memory, sqlite, postgres) and checksum
//   - Redis: Optional session snapshot repository
//   - Terminal: Command timeout, history bound, python binary, sync-back
//   - Session: Idle timeout and sweep schedule
//   - Connection: Pending queue bound and frame size limit
//   - Auth: JWT verification
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
//
// Example file (webterm.yaml):
//
//	terminal:
//	  command_timeout: 45s
//	  python_bin: /usr/bin/python3
//	store:
//	  driver: postgres
//	  postgres_url: postgres://localhost/webterm?sslmode=disable
package config
