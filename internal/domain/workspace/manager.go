package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/vfs"
	"github.com/charlievieth/fastwalk"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// InlinePrefix names throwaway files written for inline code; sync-back
// ignores them.
const InlinePrefix = ".webterm_inline_"

const (
	defaultMaxSyncBytes = 1 << 20
	// mtime granularity on some filesystems is a full second
	mtimeSlack = time.Second
)

var skipDirs = map[string]bool{
	"__pycache__":  true,
	"node_modules": true,
	".venv":        true,
}

// Options configures a Manager
type Options struct {
	// Root is the parent of every temp workspace; empty means os.TempDir
	Root         string
	MaxSyncBytes int64
	Logger       *logging.Logger
	Metrics      *monitoring.Metrics
}

// Manager owns the host directories backing sessions
type Manager struct {
	store        *vfs.Store
	root         string
	maxSyncBytes int64
	logger       *logging.Logger
	metrics      *monitoring.Metrics

	group singleflight.Group
	dirs  sync.Map // map[string]string
}

// NewManager creates a manager over store
func NewManager(store *vfs.Store, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	if opts.MaxSyncBytes <= 0 {
		opts.MaxSyncBytes = defaultMaxSyncBytes
	}
	return &Manager{
		store:        store,
		root:         opts.Root,
		maxSyncBytes: opts.MaxSyncBytes,
		logger:       logger.Named("workspace"),
		metrics:      opts.Metrics,
	}
}

// Dir returns the session's workspace directory if it was materialized
func (m *Manager) Dir(sessionID string) (string, bool) {
	value, ok := m.dirs.Load(sessionID)
	if !ok {
		return "", false
	}
	return value.(string), true
}

// Ensure returns the session's workspace, materializing it on first use.
// Concurrent callers for one session share a single materialization.
func (m *Manager) Ensure(ctx context.Context, sessionID string) (string, error) {
	if dir, ok := m.Dir(sessionID); ok {
		return dir, nil
	}

	value, err, _ := m.group.Do(sessionID, func() (any, error) {
		if dir, ok := m.Dir(sessionID); ok {
			return dir, nil
		}
		dir, err := m.materialize(ctx, sessionID)
		if err != nil {
			return "", err
		}
		m.dirs.Store(sessionID, dir)
		return dir, nil
	})
	if err != nil {
		return "", err
	}
	return value.(string), nil
}

func (m *Manager) materialize(ctx context.Context, sessionID string) (string, error) {
	if m.root != "" {
		if err := os.MkdirAll(m.root, 0o755); err != nil {
			return "", fmt.Errorf("create workspace root: %w", err)
		}
	}
	dir, err := os.MkdirTemp(m.root, "webterm-")
	if err != nil {
		return "", fmt.Errorf("create workspace: %w", err)
	}

	files, err := m.store.Walk(ctx, sessionID, paths.Root)
	if err != nil {
		os.RemoveAll(dir)
		return "", fmt.Errorf("load files: %w", err)
	}

	written := 0
	for _, f := range files {
		rel := paths.Relative(f.Path)
		if rel == "" {
			continue
		}
		host := filepath.Join(dir, filepath.FromSlash(rel))
		if paths.IsMarker(f.Path) {
			if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
				os.RemoveAll(dir)
				return "", fmt.Errorf("create directory: %w", err)
			}
			continue
		}
		if err := writeHostFile(host, f.Content); err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		written++
	}

	m.logger.Info("workspace materialized",
		zap.String("session_id", sessionID),
		zap.String("dir", dir),
		zap.Int("files", written))
	return dir, nil
}

func writeHostFile(host, content string) error {
	if err := os.MkdirAll(filepath.Dir(host), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}
	if err := os.WriteFile(host, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(host), err)
	}
	return nil
}

// HostPath maps a virtual path into the workspace directory
func HostPath(dir, virtualPath string) string {
	return filepath.Join(dir, filepath.FromSlash(paths.Relative(virtualPath)))
}

// HostDir maps a virtual directory into the workspace, creating it so a
// subprocess can start there.
func (m *Manager) HostDir(dir, virtualDir string) (string, error) {
	host := HostPath(dir, virtualDir)
	if err := os.MkdirAll(host, 0o755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	return host, nil
}

// SyncFile writes the current content of one virtual file into the
// session's workspace and returns its host path.
func (m *Manager) SyncFile(ctx context.Context, sessionID, virtualPath string) (string, error) {
	dir, err := m.Ensure(ctx, sessionID)
	if err != nil {
		return "", err
	}
	f, err := m.store.Read(ctx, sessionID, virtualPath)
	if err != nil {
		return "", err
	}
	host := HostPath(dir, f.Path)
	if err := writeHostFile(host, f.Content); err != nil {
		return "", err
	}
	return host, nil
}

// WriteInline writes throwaway source into the workspace and returns its
// host path and a cleanup func.
func (m *Manager) WriteInline(ctx context.Context, sessionID, name, content string) (string, func(), error) {
	dir, err := m.Ensure(ctx, sessionID)
	if err != nil {
		return "", nil, err
	}
	host := filepath.Join(dir, InlinePrefix+name)
	if err := os.WriteFile(host, []byte(content), 0o600); err != nil {
		return "", nil, fmt.Errorf("write inline source: %w", err)
	}
	return host, func() { os.Remove(host) }, nil
}

type hostFile struct {
	virtualPath string
	content     []byte
}

// SyncBack copies files created or modified in the workspace since the
// given time into the store and returns the rows it wrote. Deletions on the
// host are not propagated.
func (m *Manager) SyncBack(ctx context.Context, sessionID string, since time.Time) ([]*vfs.File, error) {
	dir, ok := m.Dir(sessionID)
	if !ok {
		return nil, nil
	}

	cutoff := since.Add(-mtimeSlack)
	var (
		mu      sync.Mutex
		changed []hostFile
	)

	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		name := d.Name()
		if d.IsDir() {
			if p != dir && (skipDirs[name] || paths.IsHidden(name)) {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() || paths.IsHidden(name) {
			return nil
		}

		info, err := d.Info()
		if err != nil || info.Size() > m.maxSyncBytes || info.ModTime().Before(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil || strings.HasPrefix(rel, "..") {
			return nil
		}
		content, err := os.ReadFile(p)
		if err != nil {
			return nil
		}

		mu.Lock()
		changed = append(changed, hostFile{virtualPath: paths.Normalize(filepath.ToSlash(rel)), content: content})
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan workspace: %w", err)
	}

	var written []*vfs.File
	for _, hf := range changed {
		existing, err := m.store.Read(ctx, sessionID, hf.virtualPath)
		if err == nil && existing.Content == string(hf.content) {
			continue
		}
		if err != nil && !errors.Is(err, vfs.ErrNotFound) {
			return written, err
		}
		f, err := m.store.Write(ctx, sessionID, hf.virtualPath, string(hf.content), "")
		if err != nil {
			m.logger.Warn("sync back failed",
				zap.String("session_id", sessionID),
				zap.String("path", hf.virtualPath),
				zap.Error(err))
			continue
		}
		written = append(written, f)
	}

	if len(written) > 0 {
		m.metrics.AddSyncedFiles(len(written))
		m.logger.Debug("workspace synced back",
			zap.String("session_id", sessionID),
			zap.Int("files", len(written)))
	}
	return written, nil
}

// Cleanup removes the session's workspace directory
func (m *Manager) Cleanup(sessionID string) error {
	value, ok := m.dirs.LoadAndDelete(sessionID)
	if !ok {
		return nil
	}
	dir := value.(string)
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("remove workspace: %w", err)
	}
	m.logger.Info("workspace removed", zap.String("session_id", sessionID), zap.String("dir", dir))
	return nil
}

// CleanupAll removes every workspace. Used on shutdown.
func (m *Manager) CleanupAll() {
	m.dirs.Range(func(key, _ any) bool {
		if err := m.Cleanup(key.(string)); err != nil {
			m.logger.Warn("workspace cleanup failed", zap.String("session_id", key.(string)), zap.Error(err))
		}
		return true
	})
}
