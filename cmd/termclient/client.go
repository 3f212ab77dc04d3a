package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
)

const clearScreen = "\033[H\033[2J"

type message map[string]any

func (m message) str(key string) string {
	s, _ := m[key].(string)
	return s
}

func (m message) code() int {
	switch v := m["return_code"].(type) {
	case float64:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// client is one terminal socket. A reader goroutine feeds incoming; writes
// are serialized by mu.
type client struct {
	conn     *websocket.Conn
	mu       sync.Mutex
	incoming chan message
	err      error
	// notices receives file notifications and stray errors
	notices io.Writer
}

func dial(ctx context.Context, baseURL, path, token, connectionID string) (*client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/") + path)
	if err != nil {
		return nil, fmt.Errorf("invalid url: %w", err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	q := u.Query()
	if connectionID != "" {
		q.Set("connection_id", connectionID)
	}
	u.RawQuery = q.Encode()

	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("connect %s: %s", u.Redacted(), resp.Status)
		}
		return nil, fmt.Errorf("connect %s: %w", u.Redacted(), err)
	}

	c := &client{
		conn:     conn,
		incoming: make(chan message, 64),
		notices:  os.Stderr,
	}
	go c.readLoop()
	return c, nil
}

func (c *client) readLoop() {
	defer close(c.incoming)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				c.err = err
			}
			return
		}
		var msg message
		if err := sonic.Unmarshal(data, &msg); err != nil {
			continue
		}
		c.incoming <- msg
	}
}

func (c *client) send(msg message) error {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *client) close() error {
	c.mu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.mu.Unlock()
	return c.conn.Close()
}

// welcome waits for connection_established
func (c *client) welcome(ctx context.Context) (message, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case msg, ok := <-c.incoming:
			if !ok {
				return nil, c.closedErr()
			}
			switch msg.str("type") {
			case "connection_established":
				return msg, nil
			case "error":
				return nil, fmt.Errorf("%s: %s", msg.str("error_code"), msg.str("message"))
			}
		}
	}
}

// run sends one command and waits for its response. Ctrl+C while waiting
// interrupts the remote command instead of the client.
func (c *client) run(ctx context.Context, command string) (message, error) {
	if err := c.send(message{"type": "command", "command": command}); err != nil {
		return nil, err
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-sigs:
			if err := c.send(message{"type": "interrupt"}); err != nil {
				return nil, err
			}
		case msg, ok := <-c.incoming:
			if !ok {
				return nil, c.closedErr()
			}
			switch msg.str("type") {
			case "command_response":
				return msg, nil
			case "error":
				// an interrupt racing the command's exit is harmless
				if msg.str("error_code") == "NO_RUNNING_PROCESS" {
					continue
				}
				return nil, fmt.Errorf("%s: %s", msg.str("error_code"), msg.str("message"))
			default:
				c.notice(msg)
			}
		}
	}
}

// drain prints notifications that arrived while the prompt was idle
func (c *client) drain() {
	for {
		select {
		case msg, ok := <-c.incoming:
			if !ok {
				return
			}
			c.notice(msg)
		default:
			return
		}
	}
}

func (c *client) notice(msg message) {
	var line string
	switch msg.str("type") {
	case "file_updated":
		line = fmt.Sprintf("[%s updated %s]", msg.str("updated_by"), msg.str("filename"))
	case "file_deleted":
		line = fmt.Sprintf("[%s deleted %s]", msg.str("deleted_by"), msg.str("filename"))
	case "file_renamed":
		line = fmt.Sprintf("[%s renamed %s -> %s]", msg.str("renamed_by"), msg.str("old_filename"), msg.str("new_filename"))
	case "folder_created":
		line = fmt.Sprintf("[folder %s created]", msg.str("folderpath"))
	case "error":
		line = fmt.Sprintf("[error %s: %s]", msg.str("error_code"), msg.str("message"))
	default:
		return
	}
	fmt.Fprintln(c.notices, line)
}

var errClosed = errors.New("connection closed")

func (c *client) closedErr() error {
	if c.err != nil {
		return fmt.Errorf("%w: %v", errClosed, c.err)
	}
	return errClosed
}

// render writes a command response the way a terminal would show it
func render(msg message, stdout, stderr io.Writer) {
	out := msg.str("stdout")
	if out == "__CLEAR__" {
		fmt.Fprint(stdout, clearScreen)
	} else if out != "" {
		fmt.Fprint(stdout, out)
		if !strings.HasSuffix(out, "\n") {
			fmt.Fprintln(stdout)
		}
	}
	if errText := msg.str("stderr"); errText != "" {
		fmt.Fprint(stderr, errText)
		if !strings.HasSuffix(errText, "\n") {
			fmt.Fprintln(stderr)
		}
	}
}
