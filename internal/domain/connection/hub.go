package connection

import (
	"errors"
	"fmt"
	"sync"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/shared/id"
	"go.uber.org/zap"
)

const defaultQueueSize = 256

// ErrUnknownConnection is returned by Send for an id that never registered
// or whose session was closed.
var ErrUnknownConnection = errors.New("unknown connection")

// SessionRegistry tracks how many terminal connections a session has
type SessionRegistry interface {
	Attach(sessionID string)
	Detach(sessionID string)
}

// Options configures a Hub
type Options struct {
	Sessions SessionRegistry
	// PendingLimit bounds each connection's offline queue; the oldest
	// messages are dropped beyond it. Zero keeps everything.
	PendingLimit int
	QueueSize    int
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics
}

// Hub owns the connection registry and its session and user groups
type Hub struct {
	mu       sync.RWMutex
	conns    map[string]*Connection
	sessions map[string]map[string]*Connection
	users    map[string]map[string]*Connection
	pending  map[string]*backlog

	registry     SessionRegistry
	pendingLimit int
	queueSize    int
	logger       *logging.Logger
	metrics      *monitoring.Metrics
}

// NewHub creates an empty hub
func NewHub(opts Options) *Hub {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Hub{
		conns:        make(map[string]*Connection),
		sessions:     make(map[string]map[string]*Connection),
		users:        make(map[string]map[string]*Connection),
		pending:      make(map[string]*backlog),
		registry:     opts.Sessions,
		pendingLimit: opts.PendingLimit,
		queueSize:    opts.QueueSize,
		logger:       logger.Named("hub"),
		metrics:      opts.Metrics,
	}
}

// backlog holds what a departed connection has not received yet, along
// with the session and user that may resume it.
type backlog struct {
	sessionID string
	userID    string
	messages  [][]byte
}

// Connect registers a socket and starts its writer. An empty connectionID
// gets a fresh one; a known one replaces the previous socket and receives
// whatever was queued while it was away. A known id registered to another
// session or user is not resumed: the socket gets a fresh id instead.
func (h *Hub) Connect(t Transport, connectionID, sessionID, userID string, kind Kind) *Connection {
	requested := connectionID

	h.mu.Lock()
	if connectionID != "" && !h.resumableLocked(connectionID, sessionID, userID) {
		connectionID = ""
	}
	if connectionID == "" {
		connectionID = id.NewConnectionID().String()
	}

	var queued [][]byte
	previous := h.conns[connectionID]
	if previous != nil {
		h.removeLocked(previous)
		previous.close()
		queued = previous.drain()
	}
	flushed := 0
	if b := h.pending[connectionID]; b != nil {
		flushed = len(b.messages)
		queued = append(queued, b.messages...)
		delete(h.pending, connectionID)
	}

	c := newConnection(t, connectionID, sessionID, userID, kind, h.queueSize, queued)
	h.conns[connectionID] = c
	join(h.sessions, sessionID, c)
	if userID != "" {
		join(h.users, userID, c)
	}
	h.mu.Unlock()

	if requested != "" && requested != connectionID {
		h.logger.Warn("Connection id belongs to another session, issued a new one",
			zap.String("requested", requested),
			zap.String("connection_id", connectionID),
			zap.String("session_id", sessionID))
	}
	if previous != nil {
		h.detach(previous)
		h.logger.Info("Connection replaced", zap.String("connection_id", connectionID))
	}
	if kind == KindTerminal && h.registry != nil {
		h.registry.Attach(sessionID)
	}
	h.metrics.IncWSConnections(string(kind))
	if flushed > 0 {
		h.metrics.AddPending(-flushed)
	}

	go c.writeLoop(func(err error) {
		h.logger.Debug("Write failed, closing connection",
			zap.String("connection_id", c.ID), zap.Error(err))
		h.Release(c)
	})

	h.logger.Info("Connection registered",
		zap.String("connection_id", c.ID),
		zap.String("session_id", sessionID),
		zap.String("kind", string(kind)),
		zap.Int("flushed", len(queued)))
	return c
}

// resumableLocked reports whether connectionID may be taken over by a
// socket of sessionID and userID
func (h *Hub) resumableLocked(connectionID, sessionID, userID string) bool {
	if c, ok := h.conns[connectionID]; ok {
		return c.SessionID == sessionID && c.UserID == userID
	}
	if b, ok := h.pending[connectionID]; ok {
		return b.sessionID == sessionID && b.userID == userID
	}
	return true
}

// Disconnect unregisters the connection with the given id
func (h *Hub) Disconnect(connectionID string) bool {
	h.mu.RLock()
	c, ok := h.conns[connectionID]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	return h.Release(c)
}

// Release unregisters c if it is still the registered socket for its id.
// A terminal session losing its last connection keeps its running process.
func (h *Hub) Release(c *Connection) bool {
	h.mu.Lock()
	current, ok := h.conns[c.ID]
	if !ok || current != c {
		h.mu.Unlock()
		c.close()
		return false
	}
	h.removeLocked(c)
	c.close()
	// undelivered messages, and replies still to come, wait for the client
	// to reconnect
	b := h.backlogLocked(c)
	dropped := 0
	for _, data := range c.drain() {
		dropped += h.appendPendingLocked(b, data)
	}
	h.mu.Unlock()

	h.detach(c)
	h.logger.Info("Connection closed",
		zap.String("connection_id", c.ID),
		zap.String("session_id", c.SessionID),
		zap.Int("pending_dropped", dropped))
	return true
}

func (h *Hub) detach(c *Connection) {
	if c.Kind == KindTerminal && h.registry != nil {
		h.registry.Detach(c.SessionID)
	}
}

func (h *Hub) removeLocked(c *Connection) {
	delete(h.conns, c.ID)
	leave(h.sessions, c.SessionID, c)
	if c.UserID != "" {
		leave(h.users, c.UserID, c)
	}
	h.metrics.DecWSConnections(string(c.Kind))
}

// Send delivers msg to one connection, or queues it until the connection
// returns.
func (h *Hub) Send(connectionID string, msg Message) error {
	data, err := msg.Encode()
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Type(), err)
	}

	h.mu.Lock()
	c, ok := h.conns[connectionID]
	if !ok {
		b := h.pending[connectionID]
		if b == nil {
			h.mu.Unlock()
			return fmt.Errorf("send %s to %s: %w", msg.Type(), connectionID, ErrUnknownConnection)
		}
		dropped := h.appendPendingLocked(b, data)
		h.mu.Unlock()
		h.metrics.RecordWSMessage("out", msg.Type())
		h.logDropped(connectionID, dropped)
		return nil
	}
	h.mu.Unlock()

	h.metrics.RecordWSMessage("out", msg.Type())
	h.deliver(c, data)
	return nil
}

// deliver enqueues without blocking. A full queue marks a stalled client:
// the message is kept for its reconnect and the socket is dropped.
func (h *Hub) deliver(c *Connection, data []byte) {
	if c.enqueue(data) {
		return
	}
	if c.Closed() {
		// the socket may have been replaced since the caller looked it up
		if current, ok := h.Get(c.ID); ok && current != c && current.enqueue(data) {
			return
		}
		h.appendPending(c, data)
		return
	}
	h.logger.Warn("Outbound queue full, dropping slow connection",
		zap.String("connection_id", c.ID))
	h.Release(c)
	h.appendPending(c, data)
}

func (h *Hub) appendPending(c *Connection, data []byte) {
	h.mu.Lock()
	if current, ok := h.conns[c.ID]; ok && current != c {
		// a resumed socket took the id over, never queue behind it
		h.mu.Unlock()
		h.deliver(current, data)
		return
	}
	b := h.pending[c.ID]
	if b == nil {
		// released by CloseSession, nobody will resume it
		h.mu.Unlock()
		return
	}
	dropped := h.appendPendingLocked(b, data)
	h.mu.Unlock()
	h.logDropped(c.ID, dropped)
}

// backlogLocked returns c's offline queue, creating it on first use
func (h *Hub) backlogLocked(c *Connection) *backlog {
	b, ok := h.pending[c.ID]
	if !ok {
		b = &backlog{sessionID: c.SessionID, userID: c.UserID}
		h.pending[c.ID] = b
	}
	return b
}

// appendPendingLocked queues data and returns how many old messages fell off
func (h *Hub) appendPendingLocked(b *backlog, data []byte) int {
	b.messages = append(b.messages, data)
	dropped := 0
	if over := len(b.messages) - h.pendingLimit; h.pendingLimit > 0 && over > 0 {
		b.messages = append([][]byte(nil), b.messages[over:]...)
		dropped = over
	}
	h.metrics.AddPending(1 - dropped)
	return dropped
}

func (h *Hub) logDropped(connectionID string, dropped int) {
	if dropped > 0 {
		h.logger.Debug("Pending queue full, dropped oldest",
			zap.String("connection_id", connectionID), zap.Int("dropped", dropped))
	}
}

// Pending returns how many messages are waiting for a connection
func (h *Hub) Pending(connectionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if b := h.pending[connectionID]; b != nil {
		return len(b.messages)
	}
	return 0
}

// PendingConnections returns how many departed connections still hold an
// offline queue
func (h *Hub) PendingConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.pending)
}

// ForgetPending discards a connection's offline queue
func (h *Hub) ForgetPending(connectionID string) {
	h.mu.Lock()
	n := 0
	if b := h.pending[connectionID]; b != nil {
		n = len(b.messages)
		delete(h.pending, connectionID)
	}
	h.mu.Unlock()
	h.metrics.AddPending(-n)
}

// BroadcastToSession sends msg to every connection of the session. It
// returns the number of recipients.
func (h *Hub) BroadcastToSession(sessionID string, msg Message) int {
	return h.broadcast(h.sessions, sessionID, msg)
}

// BroadcastToUser sends msg to every connection of the user
func (h *Hub) BroadcastToUser(userID string, msg Message) int {
	return h.broadcast(h.users, userID, msg)
}

func (h *Hub) broadcast(groups map[string]map[string]*Connection, key string, msg Message) int {
	data, err := msg.Encode()
	if err != nil {
		h.logger.Error("Failed to encode broadcast", zap.String("type", msg.Type()), zap.Error(err))
		return 0
	}

	h.mu.RLock()
	recipients := make([]*Connection, 0, len(groups[key]))
	for _, c := range groups[key] {
		recipients = append(recipients, c)
	}
	h.mu.RUnlock()

	for _, c := range recipients {
		h.deliver(c, data)
		h.metrics.RecordWSMessage("out", msg.Type())
	}
	return len(recipients)
}

// Get returns a registered connection
func (h *Hub) Get(connectionID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c, ok := h.conns[connectionID]
	return c, ok
}

// SessionConnections returns the ids of the session's connections
func (h *Hub) SessionConnections(sessionID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	ids := make([]string, 0, len(h.sessions[sessionID]))
	for connID := range h.sessions[sessionID] {
		ids = append(ids, connID)
	}
	return ids
}

// Count returns the number of live connections
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseSession drops every connection of a terminated session together
// with the offline queues of connections that already left it
func (h *Hub) CloseSession(sessionID string) int {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.sessions[sessionID]))
	for _, c := range h.sessions[sessionID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.Release(c)
	}

	h.mu.Lock()
	purged := 0
	for connID, b := range h.pending {
		if b.sessionID == sessionID {
			purged += len(b.messages)
			delete(h.pending, connID)
		}
	}
	h.mu.Unlock()
	h.metrics.AddPending(-purged)
	return len(targets)
}

// Close drops every connection
func (h *Hub) Close() {
	h.mu.RLock()
	all := make([]*Connection, 0, len(h.conns))
	for _, c := range h.conns {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Release(c)
	}
}

func join(groups map[string]map[string]*Connection, key string, c *Connection) {
	group, ok := groups[key]
	if !ok {
		group = make(map[string]*Connection)
		groups[key] = group
	}
	group[c.ID] = c
}

func leave(groups map[string]map[string]*Connection, key string, c *Connection) {
	group, ok := groups[key]
	if !ok {
		return
	}
	if group[c.ID] == c {
		delete(group, c.ID)
	}
	if len(group) == 0 {
		delete(groups, key)
	}
}
