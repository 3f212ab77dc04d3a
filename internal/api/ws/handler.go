package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/domain/connection"
	"github.com/GriffinCanCode/webterm/internal/domain/session"
	"github.com/GriffinCanCode/webterm/internal/domain/workspace"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/config"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/tracing"
	"github.com/GriffinCanCode/webterm/internal/terminal"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultPingInterval = 30 * time.Second
	defaultWorkerQueue  = 64
	defaultMaxMessage   = 4 << 20
	writeWait           = 10 * time.Second
)

// Config tunes socket handling
type Config struct {
	MaxMessageBytes int64
	RateLimit       config.RateLimitConfig
	// PingInterval is how often the server pings; a client silent for two
	// intervals is dropped.
	PingInterval time.Duration
	// WorkerQueue bounds the messages waiting behind a running command
	WorkerQueue int
	// Tracer records a span per command; nil disables it
	Tracer *tracing.Tracer
}

// Handler upgrades terminal and file-sync sockets
type Handler struct {
	router   *terminal.Router
	sessions *session.Manager
	files    *workspace.Service
	hub      *connection.Hub
	cfg      Config
	upgrader websocket.Upgrader
	logger   *logging.Logger
	metrics  *monitoring.Metrics
}

// NewHandler creates a WebSocket handler
func NewHandler(router *terminal.Router, files *workspace.Service, hub *connection.Hub, cfg Config, logger *logging.Logger, metrics *monitoring.Metrics) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.WorkerQueue <= 0 {
		cfg.WorkerQueue = defaultWorkerQueue
	}
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = defaultMaxMessage
	}
	return &Handler{
		router:   router,
		sessions: router.Sessions(),
		files:    files,
		hub:      hub,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Origins are enforced by the CORS middleware and tokens
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger.Named("ws"),
		metrics: metrics,
	}
}

// Terminal handles GET /ws/terminal and /ws/terminal/:session_id
func (h *Handler) Terminal(c *gin.Context) {
	h.serve(c, connection.KindTerminal)
}

// Files handles GET /ws/files/:session_id
func (h *Handler) Files(c *gin.Context) {
	h.serve(c, connection.KindFiles)
}

func (h *Handler) serve(c *gin.Context, kind connection.Kind) {
	sessionID := c.Param("session_id")
	userID := middleware.UserID(c)

	if !middleware.SessionAllowed(c, sessionID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "token is not valid for this session"})
		return
	}
	if sessionID == "" {
		sessionID = middleware.TokenSessionID(c)
	}
	if sessionID == "" && kind == connection.KindFiles {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id is required"})
		return
	}

	sess, created, err := h.sessions.GetOrCreate(c.Request.Context(), sessionID, userID)
	if err != nil {
		status := http.StatusServiceUnavailable
		if errors.Is(err, session.ErrForbidden) {
			status = http.StatusForbidden
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	socket, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}
	socket.SetReadLimit(h.cfg.MaxMessageBytes)

	conn := h.hub.Connect(socket, c.Query("connection_id"), sess.ID, userID, kind)
	cl := newClient(h, socket, conn)

	if kind == connection.KindTerminal {
		welcome := connection.NewMessage(connection.TypeConnectionEstablished).
			With("connection_id", conn.ID).
			With("session_id", sess.ID).
			With("message", "Connected to terminal").
			With("working_directory", sess.WorkingDirectory())
		if userID != "" {
			welcome["user_id"] = userID
		}
		if !created {
			welcome["message"] = "Reconnected to terminal"
		}
		cl.reply(welcome)
	}

	cl.run(c.Request.Context())
}
