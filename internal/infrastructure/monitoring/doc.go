/*
Package monitoring provides Prometheus metrics for the terminal server.

# Overview

Each Metrics value owns a private registry, so tests can build as many as
they like. The server exposes it at /metrics through Handler.

# Metrics

- HTTP request count and latency (route template labels)
- Commands by verb and status, command latency, timeouts, validation rejections
- Live subprocesses
- Virtual filesystem operation latency and errors, workspace sync-back count
- Sessions active, expired and restored
- WebSocket connections by kind, messages by direction and type, pending queue size

# Usage

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	timer := monitoring.NewTimer(metrics, "grep")
	// ... run the command ...
	timer.Stop("ok")

All recording methods accept a nil *Metrics.
*/
package monitoring
