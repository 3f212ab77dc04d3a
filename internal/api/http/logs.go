package http

import (
	"net/http"
	"time"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxClientLogEntries = 100

// ClientLogEntry is one log line forwarded by the browser terminal
type ClientLogEntry struct {
	ID        string         `json:"id"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Context   map[string]any `json:"context"`
	Timestamp string         `json:"timestamp"`
}

// ClientLogRequest is a batch of client log entries
type ClientLogRequest struct {
	SessionID string           `json:"session_id"`
	Entries   []ClientLogEntry `json:"entries"`
}

// StreamLogs handles POST /api/logs: frontend errors land in the server log
// tagged with source=client.
func (h *Handlers) StreamLogs(c *gin.Context) {
	var req ClientLogRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid log request format"})
		return
	}
	if len(req.Entries) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No log entries provided"})
		return
	}
	if len(req.Entries) > maxClientLogEntries {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Too many log entries"})
		return
	}

	logger := h.logger.With(
		zap.String("source", "client"),
		zap.String("session_id", req.SessionID),
		zap.String("user_id", middleware.UserID(c)),
	)
	for _, entry := range req.Entries {
		logClientEntry(logger.Logger, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"success":          true,
		"entries_received": len(req.Entries),
		"timestamp":        time.Now().Unix(),
	})
}

func logClientEntry(logger *zap.Logger, entry ClientLogEntry) {
	fields := make([]zap.Field, 0, len(entry.Context)+2)
	fields = append(fields,
		zap.String("client_log_id", entry.ID),
		zap.String("client_timestamp", entry.Timestamp),
	)
	for key, value := range entry.Context {
		switch v := value.(type) {
		case string:
			fields = append(fields, zap.String(key, v))
		case float64:
			fields = append(fields, zap.Float64(key, v))
		case bool:
			fields = append(fields, zap.Bool(key, v))
		default:
			fields = append(fields, zap.Any(key, v))
		}
	}

	switch entry.Level {
	case "error":
		logger.Error(entry.Message, fields...)
	case "warn":
		logger.Warn(entry.Message, fields...)
	case "debug", "verbose":
		logger.Debug(entry.Message, fields...)
	default:
		logger.Info(entry.Message, fields...)
	}
}
