// Package connection keeps the registry of live sockets.
//
// Every connection belongs to a session group and, when authenticated, a
// user group. Outbound messages are encoded once and handed to each
// recipient's buffered queue; a per-connection writer goroutine drains it,
// so a slow client never stalls a broadcast. Messages for a connection that
// is gone wait in a pending queue and are flushed, in order, when a socket
// of the same session and user reconnects with that connection id. A
// closed session takes its pending queues with it.
//
// The Hub also implements terminal.Notifier so file changes made by
// commands reach every tab of the session.
package connection
