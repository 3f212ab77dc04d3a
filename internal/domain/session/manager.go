package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/shared/id"
	"go.uber.org/zap"
)

// ErrForbidden is returned when a user tries to join another user's session
var ErrForbidden = errors.New("session belongs to another user")

const (
	defaultHistorySize = 100
	defaultIdleTimeout = 30 * time.Minute
)

// TerminateHook runs when a session is terminated, before its state is
// dropped. Hooks release per-session resources such as temp workspaces.
type TerminateHook func(ctx context.Context, sessionID string)

// Options configures a Manager
type Options struct {
	Repository  Repository
	HistorySize int
	IdleTimeout time.Duration
	Logger      *logging.Logger
	Metrics     *monitoring.Metrics
}

// Manager owns live sessions and their snapshots
type Manager struct {
	sessions    sync.Map // map[string]*Session
	count       atomic.Int64
	repo        Repository
	historySize int
	idleTimeout time.Duration
	logger      *logging.Logger
	metrics     *monitoring.Metrics

	hooksMu sync.RWMutex
	hooks   []TerminateHook
}

// NewManager creates a session manager. A nil repository keeps snapshots in
// memory only.
func NewManager(opts Options) *Manager {
	if opts.Repository == nil {
		opts.Repository = NewMemoryRepository()
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = defaultHistorySize
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaultIdleTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		repo:        opts.Repository,
		historySize: opts.HistorySize,
		idleTimeout: opts.IdleTimeout,
		logger:      logger.Named("sessions"),
		metrics:     opts.Metrics,
	}
}

// OnTerminate registers a hook run for every terminated session
func (m *Manager) OnTerminate(hook TerminateHook) {
	m.hooksMu.Lock()
	m.hooks = append(m.hooks, hook)
	m.hooksMu.Unlock()
}

// GetOrCreate returns the live session for id, restoring it from the
// repository or creating it when needed. An empty id allocates a new one.
func (m *Manager) GetOrCreate(ctx context.Context, sessionID, owner string) (*Session, bool, error) {
	if sessionID == "" {
		sessionID = id.NewSessionID().String()
	}
	if s, ok := m.Get(sessionID); ok {
		if err := checkOwner(s, owner); err != nil {
			return nil, false, err
		}
		return s, false, nil
	}

	now := time.Now()
	candidate := m.restore(ctx, sessionID, now)
	restored := candidate != nil
	if candidate == nil {
		candidate = newSession(sessionID, owner, m.historySize, m.idleTimeout, now)
	}

	actual, loaded := m.sessions.LoadOrStore(sessionID, candidate)
	s := actual.(*Session)
	if loaded {
		if err := checkOwner(s, owner); err != nil {
			return nil, false, err
		}
		return s, false, nil
	}

	m.metrics.SetSessionsActive(int(m.count.Add(1)))
	if restored {
		m.metrics.IncSessionsRestored()
		m.logger.Info("Session restored",
			zap.String("session_id", sessionID),
			zap.String("working_directory", s.WorkingDirectory()))
	} else {
		m.logger.Debug("Session created", zap.String("session_id", sessionID))
	}
	if err := checkOwner(s, owner); err != nil {
		return nil, false, err
	}
	return s, true, nil
}

func checkOwner(s *Session, owner string) error {
	if s.OwnerID != "" && owner != "" && s.OwnerID != owner {
		return ErrForbidden
	}
	return nil
}

// restore loads a persisted active snapshot. Repository failures degrade to
// a fresh session.
func (m *Manager) restore(ctx context.Context, sessionID string, now time.Time) *Session {
	snap, err := m.repo.Load(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			m.logger.Warn("Failed to load session snapshot",
				zap.String("session_id", sessionID), zap.Error(err))
		}
		return nil
	}
	if snap.Status == StatusTerminated {
		return nil
	}
	return fromSnapshot(snap, m.historySize, m.idleTimeout, now)
}

// Get returns a live session
func (m *Manager) Get(sessionID string) (*Session, bool) {
	value, ok := m.sessions.Load(sessionID)
	if !ok {
		return nil, false
	}
	return value.(*Session), true
}

// Attach records a terminal connection joining the session
func (m *Manager) Attach(sessionID string) {
	if s, ok := m.Get(sessionID); ok {
		s.attach(time.Now())
	}
}

// Detach records a terminal connection leaving the session. The running
// command keeps going; the session only becomes eligible for idle cleanup.
func (m *Manager) Detach(sessionID string) {
	if s, ok := m.Get(sessionID); ok {
		s.detach(time.Now())
	}
}

// Persist saves the session's snapshot
func (m *Manager) Persist(ctx context.Context, s *Session) error {
	if err := m.repo.Save(ctx, s.Snapshot()); err != nil {
		m.logger.Warn("Failed to persist session",
			zap.String("session_id", s.ID), zap.Error(err))
		return fmt.Errorf("persist session %s: %w", s.ID, err)
	}
	return nil
}

// Terminate cancels the session's command, runs the terminate hooks,
// persists a terminated snapshot and drops the live state.
func (m *Manager) Terminate(ctx context.Context, sessionID string) bool {
	value, ok := m.sessions.LoadAndDelete(sessionID)
	if !ok {
		return false
	}
	s := value.(*Session)
	m.metrics.SetSessionsActive(int(m.count.Add(-1)))

	s.CancelCommand(context.Canceled)
	s.markTerminated()

	m.hooksMu.RLock()
	hooks := append([]TerminateHook(nil), m.hooks...)
	m.hooksMu.RUnlock()
	for _, hook := range hooks {
		hook(ctx, sessionID)
	}

	_ = m.Persist(ctx, s)
	m.logger.Info("Session terminated", zap.String("session_id", sessionID))
	return true
}

// Sweep terminates sessions with no terminal connection and no running
// command whose expiry has passed. It returns how many were terminated.
func (m *Manager) Sweep(ctx context.Context, now time.Time) int {
	var expired []string
	m.sessions.Range(func(key, value any) bool {
		if value.(*Session).idle(now) {
			expired = append(expired, key.(string))
		}
		return true
	})

	n := 0
	for _, sessionID := range expired {
		if m.Terminate(ctx, sessionID) {
			m.metrics.IncSessionsExpired()
			n++
		}
	}
	return n
}

// List returns snapshots of every live session ordered by ID
func (m *Manager) List() []*Snapshot {
	var out []*Snapshot
	m.sessions.Range(func(_, value any) bool {
		out = append(out, value.(*Session).Snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of live sessions
func (m *Manager) Count() int {
	return int(m.count.Load())
}

// Close terminates every live session and closes the repository
func (m *Manager) Close(ctx context.Context) error {
	m.sessions.Range(func(key, _ any) bool {
		m.Terminate(ctx, key.(string))
		return true
	})
	return m.repo.Close()
}
