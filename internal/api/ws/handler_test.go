package ws

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/domain/connection"
	"github.com/GriffinCanCode/webterm/internal/domain/session"
	"github.com/GriffinCanCode/webterm/internal/domain/workspace"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/providers/process"
	"github.com/GriffinCanCode/webterm/internal/terminal"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "s3cret"

type fixture struct {
	server *httptest.Server
	runner *process.Runner
	auth   *middleware.Authenticator
	hub    *connection.Hub
}

func newFixture(t *testing.T, rl config.RateLimitConfig) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := vfs.NewStore(vfs.NewMemoryBackend(), nil, nil, nil)
	sessions := session.NewManager(session.Options{})
	wsm := workspace.NewManager(store, workspace.Options{Root: t.TempDir()})
	t.Cleanup(wsm.CleanupAll)
	hub := connection.NewHub(connection.Options{Sessions: sessions})
	runner := process.NewRunner(process.Options{BaseEnv: []string{"PATH=" + os.Getenv("PATH")}})

	router := terminal.NewRouter(terminal.Options{
		Sessions:  sessions,
		Store:     store,
		Workspace: wsm,
		Runner:    runner,
		Notifier:  hub,
		PythonBin: "/bin/sh",
	})
	handler := NewHandler(router, workspace.NewService(store, wsm), hub, Config{RateLimit: rl}, nil, nil)
	auth := middleware.NewAuthenticator(config.AuthConfig{Secret: secret, Issuer: "webterm"})

	engine := gin.New()
	engine.Use(middleware.Auth(auth))
	engine.GET("/ws/terminal", handler.Terminal)
	engine.GET("/ws/terminal/:session_id", handler.Terminal)
	engine.GET("/ws/files/:session_id", handler.Files)

	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)
	t.Cleanup(hub.Close)
	return &fixture{server: server, runner: runner, auth: auth, hub: hub}
}

func (f *fixture) dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	conn, resp, err := f.tryDial(path)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func (f *fixture) tryDial(path string) (*websocket.Conn, *http.Response, error) {
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + path
	return websocket.DefaultDialer.Dial(url, nil)
}

func send(t *testing.T, conn *websocket.Conn, msg map[string]any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(msg))
}

// expect reads until a message of the given type arrives
func expect(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var msg map[string]any
		require.NoError(t, conn.ReadJSON(&msg))
		if msg["type"] == typ {
			return msg
		}
	}
}

func run(t *testing.T, conn *websocket.Conn, command string) map[string]any {
	t.Helper()
	send(t, conn, map[string]any{"type": TypeCommand, "command": command})
	return expect(t, conn, connection.TypeCommandResponse)
}

func TestConnectionEstablishedAndPing(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	conn := f.dial(t, "/ws/terminal/sess_a")

	welcome := expect(t, conn, connection.TypeConnectionEstablished)
	assert.Equal(t, "sess_a", welcome["session_id"])
	assert.Equal(t, "/", welcome["working_directory"])
	assert.NotEmpty(t, welcome["connection_id"])
	assert.NotEmpty(t, welcome["message_id"])
	assert.NotNil(t, welcome["timestamp"])

	send(t, conn, map[string]any{"type": TypePing})
	pong := expect(t, conn, connection.TypePong)
	assert.NotEmpty(t, pong["message_id"])
}

func TestNewSessionWithoutID(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	conn := f.dial(t, "/ws/terminal")

	welcome := expect(t, conn, connection.TypeConnectionEstablished)
	assert.NotEmpty(t, welcome["session_id"])
}

func TestCommandRoundTripAndBroadcast(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	term := f.dial(t, "/ws/terminal/sess_b")
	expect(t, term, connection.TypeConnectionEstablished)
	files := f.dial(t, "/ws/files/sess_b")

	res := run(t, term, `echo "hi" > f.txt`)
	assert.EqualValues(t, 0, res["return_code"])

	updated := expect(t, files, connection.TypeFileUpdated)
	assert.Equal(t, "/f.txt", updated["filename"])
	assert.Equal(t, "hi\n", updated["content"])

	res = run(t, term, "cat f.txt")
	assert.Equal(t, "hi\n", res["stdout"])
	assert.Equal(t, "cat f.txt", res["command"])
	assert.Equal(t, "/", res["working_directory"])
	assert.Contains(t, res, "execution_time")

	res = run(t, term, "sudo ls")
	assert.EqualValues(t, 1, res["return_code"])
	assert.Contains(t, res["stderr"], "Security validation failed")
}

func TestProtocolErrorsKeepConnection(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	conn := f.dial(t, "/ws/terminal/sess_c")
	expect(t, conn, connection.TypeConnectionEstablished)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	errMsg := expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeInvalidMessage, errMsg["error_code"])

	send(t, conn, map[string]any{"type": "teleport"})
	errMsg = expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeUnknownMessageType, errMsg["error_code"])
	assert.Contains(t, errMsg["message"], "teleport")

	send(t, conn, map[string]any{"type": TypeTerminalResize, "cols": 0, "rows": 10})
	errMsg = expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeInvalidMessage, errMsg["error_code"])

	send(t, conn, map[string]any{"type": TypeInterrupt})
	errMsg = expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeNoRunningProcess, errMsg["error_code"])

	send(t, conn, map[string]any{"type": TypeInputResponse, "input": "x"})
	errMsg = expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeNoRunningProcess, errMsg["error_code"])

	send(t, conn, map[string]any{"type": TypePing})
	expect(t, conn, connection.TypePong)
}

func TestFileMessages(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	conn := f.dial(t, "/ws/files/sess_d")

	send(t, conn, map[string]any{"type": TypeFolderCreate, "foldername": "src"})
	folder := expect(t, conn, connection.TypeFolderCreated)
	assert.Equal(t, "/src", folder["folderpath"])
	assert.Equal(t, "/", folder["parent_path"])

	send(t, conn, map[string]any{"type": TypeFileUpdate, "filename": "/src/main.py", "content": "print('Hello')\n"})
	updated := expect(t, conn, connection.TypeFileUpdated)
	assert.Equal(t, "/src/main.py", updated["filename"])
	assert.Equal(t, "python", updated["language"])

	send(t, conn, map[string]any{"type": TypeFileRequest, "filename": "src/main.py"})
	content := expect(t, conn, connection.TypeFileContent)
	assert.Equal(t, "print('Hello')\n", content["content"])
	assert.NotEmpty(t, content["checksum"])

	send(t, conn, map[string]any{"type": TypeFileList, "directory": "/src"})
	list := expect(t, conn, connection.TypeFileListResponse)
	assert.Equal(t, "/src", list["directory"])
	entries := list["files"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "main.py", entries[0].(map[string]any)["name"])

	send(t, conn, map[string]any{"type": TypeFileRename, "old_filename": "/src/main.py", "new_filename": "/src/app.py"})
	renamed := expect(t, conn, connection.TypeFileRenamed)
	assert.Equal(t, "/src/app.py", renamed["new_filename"])

	send(t, conn, map[string]any{"type": TypeFileDelete, "filename": "/src"})
	deleted := expect(t, conn, connection.TypeFileDeleted)
	assert.Equal(t, "/src", deleted["filename"])

	send(t, conn, map[string]any{"type": TypeFileRequest, "filename": "/src/app.py"})
	errMsg := expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeFileNotFound, errMsg["error_code"])

	send(t, conn, map[string]any{"type": TypeFileRequest, "filename": "../etc/passwd"})
	errMsg = expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeInvalidPath, errMsg["error_code"])

	send(t, conn, map[string]any{"type": TypeCommand, "command": "ls"})
	errMsg = expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeUnsupported, errMsg["error_code"])
}

func TestInterruptRunningCommand(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	conn := f.dial(t, "/ws/terminal/sess_e")
	expect(t, conn, connection.TypeConnectionEstablished)

	send(t, conn, map[string]any{"type": TypeCommand, "command": "python -c 'sleep 10'"})
	require.Eventually(t, func() bool { return f.runner.Running("sess_e") }, 5*time.Second, 10*time.Millisecond)

	send(t, conn, map[string]any{"type": TypeInterrupt})
	res := expect(t, conn, connection.TypeCommandResponse)
	assert.EqualValues(t, process.InterruptExitCode, res["return_code"])
}

func TestInputResponseReachesProcess(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	conn := f.dial(t, "/ws/terminal/sess_f")
	expect(t, conn, connection.TypeConnectionEstablished)

	send(t, conn, map[string]any{"type": TypeCommand, "command": `python -c 'read name; echo "hi $name"'`})
	require.Eventually(t, func() bool { return f.runner.Running("sess_f") }, 5*time.Second, 10*time.Millisecond)

	send(t, conn, map[string]any{"type": TypeInputResponse, "input": "ada"})
	res := expect(t, conn, connection.TypeCommandResponse)
	assert.Equal(t, "hi ada\n", res["stdout"])
}

func TestCommandRateLimit(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{Enabled: true, CommandsPerSecond: 1, CommandBurst: 1})
	conn := f.dial(t, "/ws/terminal/sess_g")
	expect(t, conn, connection.TypeConnectionEstablished)

	send(t, conn, map[string]any{"type": TypeCommand, "command": "pwd"})
	send(t, conn, map[string]any{"type": TypeCommand, "command": "pwd"})

	errMsg := expect(t, conn, connection.TypeError)
	assert.Equal(t, CodeRateLimited, errMsg["error_code"])
}

func TestReplyReachesReconnectedSocket(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	first := f.dial(t, "/ws/terminal/sess_h?connection_id=conn_1")
	expect(t, first, connection.TypeConnectionEstablished)

	send(t, first, map[string]any{"type": TypeCommand, "command": "python -c 'sleep 0.5; echo done'"})
	require.Eventually(t, func() bool { return f.runner.Running("sess_h") }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close())

	second := f.dial(t, "/ws/terminal/sess_h?connection_id=conn_1")
	res := expect(t, second, connection.TypeCommandResponse)
	assert.Equal(t, "done\n", res["stdout"])
}

func TestConnectionIDNotResumedAcrossSessions(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	first := f.dial(t, "/ws/terminal/sess_k?connection_id=conn_k")
	welcome := expect(t, first, connection.TypeConnectionEstablished)
	require.Equal(t, "conn_k", welcome["connection_id"])

	send(t, first, map[string]any{"type": TypeCommand, "command": "python -c 'sleep 0.5; echo secret'"})
	require.Eventually(t, func() bool { return f.runner.Running("sess_k") }, 5*time.Second, 10*time.Millisecond)
	require.NoError(t, first.Close())

	other := f.dial(t, "/ws/terminal/sess_l?connection_id=conn_k")
	welcome = expect(t, other, connection.TypeConnectionEstablished)
	assert.NotEqual(t, "conn_k", welcome["connection_id"])
	assert.Equal(t, "sess_l", welcome["session_id"])

	resumed := f.dial(t, "/ws/terminal/sess_k?connection_id=conn_k")
	res := expect(t, resumed, connection.TypeCommandResponse)
	assert.Equal(t, "secret\n", res["stdout"])
}

func TestOwnershipAndPinnedTokens(t *testing.T) {
	f := newFixture(t, config.RateLimitConfig{})
	alice, err := f.auth.Issue("alice", "", time.Hour)
	require.NoError(t, err)
	bob, err := f.auth.Issue("bob", "", time.Hour)
	require.NoError(t, err)
	pinned, err := f.auth.Issue("carol", "sess_other", time.Hour)
	require.NoError(t, err)

	conn := f.dial(t, "/ws/terminal/sess_i?token="+alice)
	welcome := expect(t, conn, connection.TypeConnectionEstablished)
	assert.Equal(t, "alice", welcome["user_id"])

	_, resp, err := f.tryDial("/ws/terminal/sess_i?token=" + bob)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = f.tryDial("/ws/terminal/sess_i?token=" + pinned)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	_, resp, err = f.tryDial("/ws/terminal/sess_i?token=garbage")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
