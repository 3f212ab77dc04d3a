package main

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeServer answers every command with a file notification followed by
// the response produced by respond.
func fakeServer(t *testing.T, respond func(command string) map[string]any) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "Bearer bad" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		_ = conn.WriteJSON(map[string]any{
			"type":              "connection_established",
			"session_id":        "demo",
			"working_directory": "/",
			"message":           "Connected to terminal",
			"connection_id":     r.URL.Query().Get("connection_id"),
		})
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg["type"] != "command" {
				continue
			}
			_ = conn.WriteJSON(map[string]any{"type": "file_updated", "filename": "/a.txt", "updated_by": "bob"})
			_ = conn.WriteJSON(respond(msg["command"].(string)))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestExecOnce(t *testing.T) {
	srv := fakeServer(t, func(command string) map[string]any {
		if command == "fail" {
			return map[string]any{"type": "command_response", "stdout": "", "stderr": "boom", "return_code": 2}
		}
		return map[string]any{"type": "command_response", "stdout": command + "\n", "stderr": "", "return_code": 0}
	})
	opts := &options{url: srv.URL, session: "demo", timeout: 5 * time.Second}

	var stdout, stderr bytes.Buffer
	require.NoError(t, execOnce(context.Background(), opts, "echo", &stdout, &stderr))
	assert.Equal(t, "echo\n", stdout.String())
	assert.Empty(t, stderr.String())

	stdout.Reset()
	err := execOnce(context.Background(), opts, "fail", &stdout, &stderr)
	var exit *exitCodeError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 2, exit.code)
	assert.Equal(t, "boom\n", stderr.String())
}

func TestExecRejectedConnection(t *testing.T) {
	srv := fakeServer(t, nil)
	opts := &options{url: srv.URL, token: "bad", timeout: 5 * time.Second}

	err := execOnce(context.Background(), opts, "ls", &bytes.Buffer{}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}

func TestRunPrintsNotices(t *testing.T) {
	srv := fakeServer(t, func(string) map[string]any {
		return map[string]any{"type": "command_response", "stdout": "ok", "return_code": 0}
	})
	c, err := dial(context.Background(), srv.URL, "/ws/terminal/demo", "", "conn_1")
	require.NoError(t, err)
	defer c.close()

	var notices bytes.Buffer
	c.notices = &notices

	welcome, err := c.welcome(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "conn_1", welcome.str("connection_id"))

	res, err := c.run(context.Background(), "ls")
	require.NoError(t, err)
	assert.Equal(t, "ok", res.str("stdout"))
	assert.Equal(t, "[bob updated /a.txt]\n", notices.String())
}

func TestRender(t *testing.T) {
	tests := []struct {
		name   string
		msg    message
		stdout string
		stderr string
	}{
		{"plain", message{"stdout": "a\n"}, "a\n", ""},
		{"adds newline", message{"stdout": "a"}, "a\n", ""},
		{"clear", message{"stdout": "__CLEAR__"}, clearScreen, ""},
		{"stderr", message{"stderr": "bad"}, "", "bad\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			render(tt.msg, &stdout, &stderr)
			assert.Equal(t, tt.stdout, stdout.String())
			assert.Equal(t, tt.stderr, stderr.String())
		})
	}
}

func TestTerminalPathAndPrompt(t *testing.T) {
	assert.Equal(t, "/ws/terminal", terminalPath(""))
	assert.Equal(t, "/ws/terminal/demo", terminalPath("demo"))
	assert.Equal(t, "/ $ ", prompt(""))
	assert.Equal(t, "/src $ ", prompt("/src"))
}
