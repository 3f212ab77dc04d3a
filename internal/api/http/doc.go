// Package http provides the REST endpoints: health and service info,
// session inspection and termination, file listing, command history,
// one-shot command execution and client log ingestion.
//
// Handlers share the terminal router, workspace service and connection hub
// with the WebSocket layer, so a command run over REST updates the same
// session state and notifies the same editor sockets.
package http
