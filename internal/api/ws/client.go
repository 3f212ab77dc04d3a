package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/GriffinCanCode/webterm/internal/api/middleware"
	"github.com/GriffinCanCode/webterm/internal/domain/connection"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/providers/process"
	"github.com/GriffinCanCode/webterm/internal/terminal"
	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// client is the per-socket state: one reader (the caller of run) and one
// worker that executes commands and file operations in arrival order.
type client struct {
	h       *Handler
	socket  *websocket.Conn
	conn    *connection.Connection
	limiter *rate.Limiter
	jobs    chan Inbound
	logger  *logging.Logger
}

func newClient(h *Handler, socket *websocket.Conn, conn *connection.Connection) *client {
	return &client{
		h:       h,
		socket:  socket,
		conn:    conn,
		limiter: middleware.CommandLimiter(h.cfg.RateLimit),
		jobs:    make(chan Inbound, h.cfg.WorkerQueue),
		logger:  h.logger.ForConnection(conn.ID, conn.SessionID),
	}
}

// run blocks until the socket closes. Commands already queued keep running
// and their replies wait in the hub for a reconnect.
func (cl *client) run(ctx context.Context) {
	// the socket closing must not cancel a running command
	ctx = context.WithoutCancel(ctx)
	go cl.work(ctx)

	stop := cl.keepalive()
	cl.readLoop()
	stop()

	close(cl.jobs)
	cl.h.hub.Release(cl.conn)
}

func (cl *client) keepalive() func() {
	ticker := time.NewTicker(cl.h.cfg.PingInterval)
	done := make(chan struct{})
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-cl.conn.Done():
				return
			case <-ticker.C:
				if err := cl.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					cl.logger.Debug("Ping failed", zap.Error(err))
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

func (cl *client) readLoop() {
	wait := 2 * cl.h.cfg.PingInterval
	extend := func() { _ = cl.socket.SetReadDeadline(time.Now().Add(wait)) }
	extend()
	cl.socket.SetPongHandler(func(string) error {
		extend()
		return nil
	})

	for {
		_, data, err := cl.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				cl.logger.Debug("WebSocket read error", zap.Error(err))
			}
			return
		}
		extend()
		cl.handle(data)
	}
}

// handle routes one inbound frame. Control messages are answered here;
// everything else is queued for the worker.
func (cl *client) handle(data []byte) {
	defer cl.recoverPanic("read")

	var msg Inbound
	if err := sonic.Unmarshal(data, &msg); err != nil || msg.Type == "" {
		cl.reply(connection.ErrorMessage(CodeInvalidMessage, "Invalid message format"))
		return
	}
	cl.h.metrics.RecordWSMessage("in", metricType(msg.Type))

	switch {
	case isControl(msg.Type):
		cl.control(msg)
	case msg.Type == TypeCommand || isFileMessage(msg.Type):
		if msg.Type == TypeCommand {
			if cl.conn.Kind != connection.KindTerminal {
				cl.reply(connection.ErrorMessage(CodeUnsupported, "Commands are only accepted on terminal connections"))
				return
			}
			if !cl.limiter.Allow() {
				cl.reply(connection.ErrorMessage(CodeRateLimited, "Too many commands, slow down"))
				return
			}
		}
		select {
		case cl.jobs <- msg:
		default:
			cl.reply(connection.ErrorMessage(CodeRateLimited, "Too many queued messages"))
		}
	default:
		cl.reply(connection.ErrorMessage(CodeUnknownMessageType, fmt.Sprintf("Unknown message type: %s", msg.Type)))
	}
}

func (cl *client) control(msg Inbound) {
	if msg.Type == TypePing {
		cl.reply(connection.NewMessage(connection.TypePong))
		return
	}
	if cl.conn.Kind != connection.KindTerminal {
		cl.reply(connection.ErrorMessage(CodeUnsupported, fmt.Sprintf("%s is only accepted on terminal connections", msg.Type)))
		return
	}

	sid := cl.conn.SessionID
	switch msg.Type {
	case TypeInterrupt:
		if !cl.h.router.Interrupt(sid) {
			cl.reply(connection.ErrorMessage(CodeNoRunningProcess, "No running command to interrupt"))
		}
	case TypeInputResponse:
		err := cl.h.router.WriteInput(sid, msg.Input)
		switch {
		case err == nil:
		case errors.Is(err, process.ErrNoProcess):
			cl.reply(connection.ErrorMessage(CodeNoRunningProcess, "No running process is waiting for input"))
		case errors.Is(err, process.ErrNoStdin):
			cl.reply(connection.ErrorMessage(CodeNoRunningProcess, "The running process does not accept input"))
		default:
			cl.logger.Warn("Input forwarding failed", zap.Error(err))
			cl.reply(connection.ErrorMessage(CodeInternal, "Failed to forward input"))
		}
	case TypeTerminalResize:
		if msg.Cols <= 0 || msg.Rows <= 0 {
			cl.reply(connection.ErrorMessage(CodeInvalidMessage, "cols and rows must be positive"))
			return
		}
		cl.h.router.Resize(sid, msg.Cols, msg.Rows)
	}
}

func (cl *client) work(ctx context.Context) {
	for msg := range cl.jobs {
		cl.process(ctx, msg)
	}
}

func (cl *client) process(ctx context.Context, msg Inbound) {
	defer cl.recoverPanic(msg.Type)

	if msg.Type == TypeCommand {
		cl.command(ctx, msg)
		return
	}
	cl.fileOp(ctx, msg)
}

func (cl *client) command(ctx context.Context, msg Inbound) {
	if msg.Command == "" {
		cl.reply(connection.ErrorMessage(CodeInvalidMessage, "command is required"))
		return
	}

	span, ctx := cl.h.cfg.Tracer.StartSpan(ctx, "ws.command")
	span.SetTag("session_id", cl.conn.SessionID)
	span.SetTag("connection_id", cl.conn.ID)

	res := cl.h.router.Execute(ctx, terminal.Request{
		SessionID:        cl.conn.SessionID,
		UserID:           cl.conn.UserID,
		Actor:            cl.actor(),
		Command:          msg.Command,
		WorkingDirectory: msg.WorkingDirectory,
	})

	span.SetStatus(res.ExitCode)
	if res.Kind != terminal.KindNone {
		span.SetTag("kind", string(res.Kind))
	}
	span.Finish()
	cl.h.cfg.Tracer.Submit(span)

	reply := connection.NewMessage(connection.TypeCommandResponse).
		With("command", msg.Command).
		With("stdout", res.Stdout).
		With("stderr", res.Stderr).
		With("return_code", res.ExitCode).
		With("execution_time", res.ExecutionTime.Seconds())
	if res.WorkingDirectory != "" {
		reply["working_directory"] = res.WorkingDirectory
	}
	cl.reply(reply)
}

// actor names who made a change in notifications
func (cl *client) actor() string {
	if cl.conn.UserID != "" {
		return cl.conn.UserID
	}
	return cl.conn.ID
}

func (cl *client) reply(msg connection.Message) {
	err := cl.h.hub.Send(cl.conn.ID, msg)
	switch {
	case err == nil:
	case errors.Is(err, connection.ErrUnknownConnection):
		// the session was closed while the command ran
		cl.logger.Debug("Reply dropped", zap.String("type", msg.Type()))
	default:
		cl.logger.Error("Failed to send message", zap.String("type", msg.Type()), zap.Error(err))
	}
}

// recoverPanic turns a panic into an INTERNAL_ERROR reply; the connection stays up
func (cl *client) recoverPanic(stage string) {
	if p := recover(); p != nil {
		cl.logger.Error("Message handler panic",
			zap.String("stage", stage),
			zap.Any("panic", p),
			zap.Stack("stack"))
		cl.reply(connection.ErrorMessage(CodeInternal, "Internal server error"))
	}
}

// metricType keeps the label set bounded
func metricType(typ string) string {
	if isControl(typ) || isFileMessage(typ) || typ == TypeCommand {
		return typ
	}
	return "unknown"
}
