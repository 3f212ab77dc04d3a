package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/GriffinCanCode/webterm/internal/shared/paths"
)

// Status is the lifecycle state of a session
type Status string

const (
	StatusActive     Status = "active"
	StatusTerminated Status = "terminated"
)

const (
	DefaultCols = 80
	DefaultRows = 24
)

// ErrInterrupted is the cancellation cause recorded when a client interrupts
// the running command.
var ErrInterrupted = errors.New("command interrupted")

// Session is the per-session actor: working directory, history, terminal
// size and the handle of the command currently executing.
type Session struct {
	ID        string
	OwnerID   string
	CreatedAt time.Time

	mu           sync.RWMutex
	status       Status
	cwd          string
	history      []string
	historyLimit int
	cols, rows   int
	idleTimeout  time.Duration
	lastActive   time.Time
	expiresAt    time.Time
	attached     int

	// cmdMu serializes commands; cancel belongs to the command holding it
	cmdMu  sync.Mutex
	runMu  sync.Mutex
	cancel context.CancelCauseFunc
}

func newSession(id, owner string, historyLimit int, idleTimeout time.Duration, now time.Time) *Session {
	return &Session{
		ID:           id,
		OwnerID:      owner,
		CreatedAt:    now,
		status:       StatusActive,
		cwd:          paths.Root,
		historyLimit: historyLimit,
		cols:         DefaultCols,
		rows:         DefaultRows,
		idleTimeout:  idleTimeout,
		lastActive:   now,
		expiresAt:    now.Add(idleTimeout),
	}
}

func fromSnapshot(snap *Snapshot, historyLimit int, idleTimeout time.Duration, now time.Time) *Session {
	s := newSession(snap.ID, snap.OwnerID, historyLimit, idleTimeout, now)
	if !snap.CreatedAt.IsZero() {
		s.CreatedAt = snap.CreatedAt
	}
	if snap.WorkingDirectory != "" {
		s.cwd = snap.WorkingDirectory
	}
	if snap.Cols > 0 && snap.Rows > 0 {
		s.cols, s.rows = snap.Cols, snap.Rows
	}
	for _, cmd := range snap.History {
		s.appendHistory(cmd)
	}
	return s
}

// WorkingDirectory returns the current virtual working directory
func (s *Session) WorkingDirectory() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cwd
}

// SetWorkingDirectory stores a resolved directory. Callers confirm that the
// directory exists before storing it.
func (s *Session) SetWorkingDirectory(dir string) {
	s.mu.Lock()
	s.cwd = paths.Normalize(dir)
	s.mu.Unlock()
}

// AppendHistory records a command, evicting the oldest beyond the limit
func (s *Session) AppendHistory(command string) {
	s.mu.Lock()
	s.appendHistory(command)
	s.mu.Unlock()
}

func (s *Session) appendHistory(command string) {
	s.history = append(s.history, command)
	if over := len(s.history) - s.historyLimit; s.historyLimit > 0 && over > 0 {
		s.history = append(s.history[:0:0], s.history[over:]...)
	}
}

// History returns a copy of the command history, newest last
func (s *Session) History() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.history))
	copy(out, s.history)
	return out
}

// Resize records the client's terminal size; non-positive values are ignored
func (s *Session) Resize(cols, rows int) bool {
	if cols <= 0 || rows <= 0 {
		return false
	}
	s.mu.Lock()
	s.cols, s.rows = cols, rows
	s.mu.Unlock()
	return true
}

// Size returns the last reported terminal size
func (s *Session) Size() (cols, rows int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cols, s.rows
}

// Touch marks the session active and pushes its expiry forward
func (s *Session) Touch(now time.Time) {
	s.mu.Lock()
	s.lastActive = now
	s.expiresAt = now.Add(s.idleTimeout)
	s.mu.Unlock()
}

// ExpiresAt returns when the session becomes eligible for idle cleanup
func (s *Session) ExpiresAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.expiresAt
}

// Status returns the lifecycle state
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Attached returns the number of terminal connections bound to the session
func (s *Session) Attached() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attached
}

func (s *Session) attach(now time.Time) {
	s.mu.Lock()
	s.attached++
	s.lastActive = now
	s.expiresAt = now.Add(s.idleTimeout)
	s.mu.Unlock()
}

func (s *Session) detach(now time.Time) {
	s.mu.Lock()
	if s.attached > 0 {
		s.attached--
	}
	s.lastActive = now
	s.expiresAt = now.Add(s.idleTimeout)
	s.mu.Unlock()
}

func (s *Session) markTerminated() {
	s.mu.Lock()
	s.status = StatusTerminated
	s.mu.Unlock()
}

// LockCommands acquires the per-session command lock. The returned function
// releases it.
func (s *Session) LockCommands() func() {
	s.cmdMu.Lock()
	return s.cmdMu.Unlock
}

// BeginCommand derives the context a command runs under so CancelCommand
// can reach it. done must be called when the command finishes.
func (s *Session) BeginCommand(ctx context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancelCause(ctx)
	s.runMu.Lock()
	s.cancel = cancel
	s.runMu.Unlock()

	return ctx, func() {
		s.runMu.Lock()
		s.cancel = nil
		s.runMu.Unlock()
		cancel(nil)
	}
}

// CancelCommand cancels the running command with cause. It reports whether
// a command was running.
func (s *Session) CancelCommand(cause error) bool {
	s.runMu.Lock()
	cancel := s.cancel
	s.runMu.Unlock()
	if cancel == nil {
		return false
	}
	cancel(cause)
	return true
}

// Running reports whether a command currently holds a cancellable context
func (s *Session) Running() bool {
	s.runMu.Lock()
	defer s.runMu.Unlock()
	return s.cancel != nil
}

func (s *Session) idle(now time.Time) bool {
	if s.Running() {
		return false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.attached == 0 && !now.Before(s.expiresAt)
}

// Snapshot is the persisted form of a session
type Snapshot struct {
	ID               string    `json:"id"`
	OwnerID          string    `json:"owner_id,omitempty"`
	Status           Status    `json:"status"`
	WorkingDirectory string    `json:"working_directory"`
	History          []string  `json:"history"`
	Cols             int       `json:"cols"`
	Rows             int       `json:"rows"`
	CreatedAt        time.Time `json:"created_at"`
	LastActive       time.Time `json:"last_active"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// Snapshot captures the session's persistent state
func (s *Session) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := make([]string, len(s.history))
	copy(history, s.history)
	return &Snapshot{
		ID:               s.ID,
		OwnerID:          s.OwnerID,
		Status:           s.status,
		WorkingDirectory: s.cwd,
		History:          history,
		Cols:             s.cols,
		Rows:             s.rows,
		CreatedAt:        s.CreatedAt,
		LastActive:       s.lastActive,
		ExpiresAt:        s.expiresAt,
	}
}
