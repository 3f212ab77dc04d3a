package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		method := c.Request.Method

		c.Next()

		// Route template keeps label cardinality bounded across session IDs
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		metrics.RecordHTTPRequest(method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures a command's duration
type Timer struct {
	start   time.Time
	metrics *Metrics
	verb    string
}

// NewTimer creates a new timer
func NewTimer(metrics *Metrics, verb string) *Timer {
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		verb:    verb,
	}
}

// Elapsed returns the time since the timer started
func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// Stop stops the timer and records the command outcome
func (t *Timer) Stop(status string) time.Duration {
	duration := time.Since(t.start)
	t.metrics.RecordCommand(t.verb, status, duration)
	return duration
}
