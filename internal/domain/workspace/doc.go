// Package workspace bridges the virtual filesystem and the host.
//
// Manager materializes a session's virtual files into a temporary host
// directory the first time a subprocess needs them, keeps that directory
// for later commands, and copies files a subprocess created or changed back
// into the store. Service is the file-operation facade the WebSocket and
// HTTP layers use.
package workspace
