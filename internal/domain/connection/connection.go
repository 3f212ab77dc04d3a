package connection

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Kind distinguishes terminal sockets from file-sync sockets
type Kind string

const (
	KindTerminal Kind = "terminal"
	KindFiles    Kind = "files"
)

// Transport is the write side of a socket. *websocket.Conn satisfies it.
type Transport interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Connection is one registered socket. Writes go through a buffered queue
// drained by a dedicated writer goroutine so senders never block.
type Connection struct {
	ID          string
	SessionID   string
	UserID      string
	Kind        Kind
	ConnectedAt time.Time

	transport Transport
	queue     chan []byte
	backlog   [][]byte
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(t Transport, id, sessionID, userID string, kind Kind, queueSize int, backlog [][]byte) *Connection {
	return &Connection{
		ID:          id,
		SessionID:   sessionID,
		UserID:      userID,
		Kind:        kind,
		ConnectedAt: time.Now(),
		transport:   t,
		queue:       make(chan []byte, queueSize),
		backlog:     backlog,
		done:        make(chan struct{}),
	}
}

// enqueue hands data to the writer. It reports false when the queue is full
// or the connection is closed.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.queue <- data:
		return true
	default:
		return false
	}
}

// writeLoop delivers the reconnect backlog, then queued messages, until the
// connection closes or a write fails.
func (c *Connection) writeLoop(onError func(error)) {
	for _, data := range c.backlog {
		if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
			onError(err)
			return
		}
	}
	c.backlog = nil

	for {
		select {
		case <-c.done:
			return
		case data := <-c.queue:
			if err := c.transport.WriteMessage(websocket.TextMessage, data); err != nil {
				onError(err)
				return
			}
		}
	}
}

// Done is closed once the connection is closed
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// Closed reports whether the connection was closed
func (c *Connection) Closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// drain empties the outbound queue, returning what the writer never sent
func (c *Connection) drain() [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-c.queue:
			out = append(out, data)
		default:
			return out
		}
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.transport.Close()
	})
}
