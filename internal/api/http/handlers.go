package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/domain/connection"
	"github.com/GriffinCanCode/webterm/internal/domain/session"
	"github.com/GriffinCanCode/webterm/internal/domain/workspace"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"github.com/GriffinCanCode/webterm/internal/terminal"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Version is reported by the root endpoint
const Version = "0.3.0"

// Handlers contains all HTTP handlers
type Handlers struct {
	router   *terminal.Router
	sessions *session.Manager
	files    *workspace.Service
	hub      *connection.Hub
	logger   *logging.Logger
	started  time.Time
}

// NewHandlers creates a new handler set
func NewHandlers(
	router *terminal.Router,
	files *workspace.Service,
	hub *connection.Hub,
	logger *logging.Logger,
) *Handlers {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handlers{
		router:   router,
		sessions: router.Sessions(),
		files:    files,
		hub:      hub,
		logger:   logger.Named("http"),
		started:  time.Now(),
	}
}

// Root handles GET /
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "online",
		"service": "webterm",
		"version": Version,
	})
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	status := "healthy"
	code := http.StatusOK
	if h.sessions == nil || h.files == nil {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":         status,
		"sessions":       h.sessionCount(),
		"connections":    h.hub.Count(),
		"uptime_seconds": time.Since(h.started).Seconds(),
		"file_store":     gin.H{"available": h.files != nil},
	})
}

func (h *Handlers) sessionCount() int {
	if h.sessions == nil {
		return 0
	}
	return h.sessions.Count()
}

// ListSessions handles GET /api/sessions. Authenticated callers see only
// their own sessions.
func (h *Handlers) ListSessions(c *gin.Context) {
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session service not available"})
		return
	}

	user := middleware.UserID(c)
	out := make([]*session.Snapshot, 0)
	for _, snap := range h.sessions.List() {
		if user != "" && snap.OwnerID != "" && snap.OwnerID != user {
			continue
		}
		out = append(out, snap)
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": out,
		"count":    len(out),
	})
}

// GetSession handles GET /api/sessions/:session_id
func (h *Handlers) GetSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session":     sess.Snapshot(),
		"connections": len(h.hub.SessionConnections(sess.ID)),
		"running":     sess.Running(),
	})
}

// DeleteSession handles DELETE /api/sessions/:session_id. Open sockets are
// closed and the session's workspace is discarded.
func (h *Handlers) DeleteSession(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	if !h.sessions.Terminate(c.Request.Context(), sess.ID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return
	}
	h.logger.Info("Session terminated via API",
		zap.String("session_id", sess.ID),
		zap.String("user_id", middleware.UserID(c)))

	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"session_id": sess.ID,
	})
}

// ListFiles handles GET /api/sessions/:session_id/files?directory=
func (h *Handlers) ListFiles(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}
	if h.files == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "file service not available"})
		return
	}

	dir := c.DefaultQuery("directory", paths.Root)
	if err := utils.ValidatePath(dir, "directory"); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	dir = paths.Normalize(dir)

	files, err := h.files.GetFiles(c.Request.Context(), sess.ID, dir)
	if err != nil {
		h.storeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"files":     files,
		"directory": dir,
	})
}

// History handles GET /api/sessions/:session_id/history
func (h *Handlers) History(c *gin.Context) {
	sess, ok := h.lookup(c)
	if !ok {
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"session_id": sess.ID,
		"history":    sess.History(),
	})
}

// ExecuteRequest is the body of POST /api/sessions/:session_id/execute
type ExecuteRequest struct {
	Command          string `json:"command" binding:"required"`
	WorkingDirectory string `json:"working_directory"`
}

// Execute handles POST /api/sessions/:session_id/execute. The session is
// created when it does not exist yet.
func (h *Handlers) Execute(c *gin.Context) {
	sessionID := c.Param("session_id")
	if err := utils.ValidateID(sessionID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !middleware.SessionAllowed(c, sessionID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token is not valid for this session"})
		return
	}

	var req ExecuteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
		return
	}

	user := middleware.UserID(c)
	actor := user
	if actor == "" {
		actor = "api"
	}
	res := h.router.Execute(c.Request.Context(), terminal.Request{
		SessionID:        sessionID,
		UserID:           user,
		Actor:            actor,
		Command:          req.Command,
		WorkingDirectory: req.WorkingDirectory,
	})

	code := http.StatusOK
	switch res.Kind {
	case terminal.KindPermission:
		code = http.StatusForbidden
	case terminal.KindUnavailable:
		code = http.StatusServiceUnavailable
	}

	body := gin.H{
		"session_id":     sessionID,
		"command":        req.Command,
		"stdout":         res.Stdout,
		"stderr":         res.Stderr,
		"return_code":    res.ExitCode,
		"execution_time": res.ExecutionTime.Seconds(),
		"success":        res.OK(),
	}
	if res.WorkingDirectory != "" {
		body["working_directory"] = res.WorkingDirectory
	}
	if res.Kind != terminal.KindNone {
		body["kind"] = res.Kind
	}
	c.JSON(code, body)
}

// lookup resolves the :session_id parameter and checks the caller may see it
func (h *Handlers) lookup(c *gin.Context) (*session.Session, bool) {
	sessionID := c.Param("session_id")
	if err := utils.ValidateID(sessionID, "session_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	if h.sessions == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "session service not available"})
		return nil, false
	}
	if !middleware.SessionAllowed(c, sessionID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token is not valid for this session"})
		return nil, false
	}

	sess, ok := h.sessions.Get(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	if user := middleware.UserID(c); user != "" && sess.OwnerID != "" && sess.OwnerID != user {
		c.JSON(http.StatusForbidden, gin.H{"error": session.ErrForbidden.Error()})
		return nil, false
	}
	return sess, true
}

func (h *Handlers) storeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, vfs.ErrInvalidPath):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("File store request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "file store error"})
	}
}
