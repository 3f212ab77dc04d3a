package monitoring

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordCommand("ls", "ok", time.Millisecond)
		m.RecordRejection("blocked")
		m.RecordVFSOperation("read", time.Millisecond, nil)
		m.IncWSConnections("terminal")
		m.AddPending(3)
		NewTimer(m, "cat").Stop("ok")
	})
}

func TestIndependentRegistries(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.RecordCommand("ls", "ok", time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(a.CommandsTotal.WithLabelValues("ls", "ok")))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.CommandsTotal.WithLabelValues("ls", "ok")))
}

func TestRecorders(t *testing.T) {
	m := NewMetrics()

	m.RecordRejection("blocked")
	m.RecordRejection("blocked")
	m.RecordTimeout()
	m.ProcessStarted()
	m.ProcessStarted()
	m.ProcessExited()
	m.RecordVFSOperation("write", time.Millisecond, errors.New("disk"))
	m.AddSyncedFiles(2)
	m.IncWSConnections("files")
	m.RecordWSMessage("in", "command")
	m.AddPending(4)
	m.AddPending(-1)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ValidationRejected.WithLabelValues("blocked")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandTimeouts))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProcessesRunning))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.VFSErrors.WithLabelValues("write")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.WorkspaceSyncedFiles))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSConnections.WithLabelValues("files")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WSMessages.WithLabelValues("in", "command")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.PendingMessages))
}

func TestMiddlewareUsesRouteTemplate(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := NewMetrics()

	router := gin.New()
	router.Use(Middleware(m))
	router.GET("/api/sessions/:session_id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, id := range []string{"a", "b"} {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/sessions/"+id, nil))
		require.Equal(t, http.StatusOK, w.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(
		m.RequestsTotal.WithLabelValues("GET", "/api/sessions/:session_id", "200")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := NewMetrics()
	m.RecordCommand("grep", "error", time.Millisecond)

	w := httptest.NewRecorder()
	m.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `webterm_commands_total{status="error",verb="grep"} 1`)
	assert.Contains(t, w.Body.String(), "webterm_uptime_seconds")
}

func TestTimerStop(t *testing.T) {
	m := NewMetrics()
	d := NewTimer(m, "wc").Stop("ok")

	assert.GreaterOrEqual(t, d, time.Duration(0))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CommandsTotal.WithLabelValues("wc", "ok")))
}
