package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
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
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	engine   *gin.Engine
	sessions *session.Manager
	store    *vfs.Store
	auth     *middleware.Authenticator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := vfs.NewStore(vfs.NewMemoryBackend(), nil, nil, nil)
	sessions := session.NewManager(session.Options{})
	wsm := workspace.NewManager(store, workspace.Options{Root: t.TempDir()})
	t.Cleanup(wsm.CleanupAll)
	hub := connection.NewHub(connection.Options{Sessions: sessions})
	t.Cleanup(hub.Close)

	router := terminal.NewRouter(terminal.Options{
		Sessions:  sessions,
		Store:     store,
		Workspace: wsm,
		Runner:    process.NewRunner(process.Options{BaseEnv: []string{"PATH=" + os.Getenv("PATH")}}),
		Notifier:  hub,
		PythonBin: "/bin/sh",
	})
	h := NewHandlers(router, workspace.NewService(store, wsm), hub, nil)
	auth := middleware.NewAuthenticator(config.AuthConfig{Secret: "s3cret"})

	engine := gin.New()
	engine.Use(middleware.Auth(auth))
	engine.GET("/", h.Root)
	engine.GET("/health", h.Health)
	api := engine.Group("/api")
	api.POST("/logs", h.StreamLogs)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:session_id", h.GetSession)
	api.DELETE("/sessions/:session_id", h.DeleteSession)
	api.GET("/sessions/:session_id/files", h.ListFiles)
	api.GET("/sessions/:session_id/history", h.History)
	api.POST("/sessions/:session_id/execute", h.Execute)

	return &fixture{engine: engine, sessions: sessions, store: store, auth: auth}
}

func (f *fixture) do(t *testing.T, method, path string, body any, token string) (int, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	f.engine.ServeHTTP(w, req)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w.Code, out
}

func (f *fixture) token(t *testing.T, user, sid string) string {
	t.Helper()
	tok, err := f.auth.Issue(user, sid, time.Hour)
	require.NoError(t, err)
	return tok
}

func TestRootAndHealth(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodGet, "/", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "online", body["status"])
	assert.Equal(t, Version, body["version"])

	code, body = f.do(t, http.MethodGet, "/health", nil, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "healthy", body["status"])
	assert.EqualValues(t, 0, body["sessions"])
	assert.EqualValues(t, 0, body["connections"])
}

func TestExecuteAndInspect(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/sessions/s1/execute", gin.H{"command": "mkdir src"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["success"])

	code, body = f.do(t, http.MethodPost, "/api/sessions/s1/execute",
		gin.H{"command": `echo "hi" > main.py`, "working_directory": "/src"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/src", body["working_directory"])

	code, body = f.do(t, http.MethodPost, "/api/sessions/s1/execute", gin.H{"command": "cat nope.txt"}, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["success"])
	assert.EqualValues(t, 1, body["return_code"])

	code, body = f.do(t, http.MethodGet, "/api/sessions/s1", nil, "")
	require.Equal(t, http.StatusOK, code)
	snap := body["session"].(map[string]any)
	assert.Equal(t, "/src", snap["working_directory"])
	assert.Equal(t, false, body["running"])

	code, body = f.do(t, http.MethodGet, "/api/sessions/s1/history", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Len(t, body["history"], 3)

	code, body = f.do(t, http.MethodGet, "/api/sessions/s1/files?directory=/src", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "/src", body["directory"])
	files := body["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "/src/main.py", files[0].(map[string]any)["path"])

	code, body = f.do(t, http.MethodGet, "/api/sessions", nil, "")
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])
}

func TestExecuteValidation(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/sessions/s1/execute", gin.H{}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodPost, "/api/sessions/bad%20id/execute", gin.H{"command": "pwd"}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/sessions/s1/execute", gin.H{"command": "sudo ls"}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, string(terminal.KindValidation), body["kind"])
}

func TestSessionErrors(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodGet, "/api/sessions/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	code, _ = f.do(t, http.MethodDelete, "/api/sessions/missing", nil, "")
	assert.Equal(t, http.StatusNotFound, code)

	_, _, err := f.sessions.GetOrCreate(context.Background(), "s1", "")
	require.NoError(t, err)
	code, _ = f.do(t, http.MethodGet, "/api/sessions/s1/files?directory=/nowhere", nil, "")
	assert.Equal(t, http.StatusNotFound, code)
}

func TestOwnership(t *testing.T) {
	f := newFixture(t)
	alice := f.token(t, "alice", "")
	bob := f.token(t, "bob", "")
	pinned := f.token(t, "alice", "other")

	code, _ := f.do(t, http.MethodPost, "/api/sessions/s1/execute", gin.H{"command": "pwd"}, alice)
	require.Equal(t, http.StatusOK, code)

	code, _ = f.do(t, http.MethodGet, "/api/sessions/s1", nil, bob)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodPost, "/api/sessions/s1/execute", gin.H{"command": "pwd"}, bob)
	assert.Equal(t, http.StatusForbidden, code)

	code, _ = f.do(t, http.MethodGet, "/api/sessions/s1", nil, pinned)
	assert.Equal(t, http.StatusForbidden, code)

	code, body := f.do(t, http.MethodGet, "/api/sessions", nil, bob)
	require.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 0, body["count"])

	code, _ = f.do(t, http.MethodDelete, "/api/sessions/s1", nil, alice)
	assert.Equal(t, http.StatusOK, code)
	_, ok := f.sessions.Get("s1")
	assert.False(t, ok)
}

func TestStreamLogs(t *testing.T) {
	f := newFixture(t)

	code, _ := f.do(t, http.MethodPost, "/api/logs", gin.H{"entries": []any{}}, "")
	assert.Equal(t, http.StatusBadRequest, code)

	code, body := f.do(t, http.MethodPost, "/api/logs", gin.H{
		"session_id": "s1",
		"entries": []gin.H{
			{"id": "1", "level": "error", "message": "socket dropped", "context": gin.H{"attempt": 2}},
			{"id": "2", "level": "info", "message": "reconnected"},
		},
	}, "")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 2, body["entries_received"])
}
