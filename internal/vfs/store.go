package vfs

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/GriffinCanCode/webterm/internal/infrastructure/logging"
	"github.com/GriffinCanCode/webterm/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/shared/utils"
	"go.uber.org/zap"
)

// Store exposes filesystem semantics over a Backend
type Store struct {
	backend Backend
	hasher  *utils.Hasher
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewStore wraps a backend. hasher, logger and metrics may be nil.
func NewStore(backend Backend, hasher *utils.Hasher, logger *logging.Logger, metrics *monitoring.Metrics) *Store {
	if hasher == nil {
		hasher = utils.DefaultHasher()
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		backend: backend,
		hasher:  hasher,
		logger:  logger.Named("vfs"),
		metrics: metrics,
	}
}

// Close releases the backend
func (s *Store) Close() error {
	return s.backend.Close()
}

func (s *Store) observe(op string, start time.Time, errp *error) {
	s.metrics.RecordVFSOperation(op, time.Since(start), *errp)
}

func clean(p string) (string, error) {
	if err := utils.ValidatePath(p, "path"); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	return paths.Normalize(p), nil
}

// Stat reports whether p is a file, a directory or absent
func (s *Store) Stat(ctx context.Context, sessionID, p string) (kind Kind, err error) {
	defer s.observe("stat", time.Now(), &err)

	p, err = clean(p)
	if err != nil {
		return KindNone, err
	}
	if paths.IsRoot(p) {
		return KindDirectory, nil
	}
	return s.stat(ctx, sessionID, p)
}

func (s *Store) stat(ctx context.Context, sessionID, p string) (Kind, error) {
	if _, err := s.backend.Get(ctx, sessionID, p); err == nil {
		return KindFile, nil
	} else if !errors.Is(err, ErrNotFound) {
		return KindNone, err
	}

	ok, err := s.backend.HasPrefix(ctx, sessionID, paths.Prefix(p))
	if err != nil {
		return KindNone, err
	}
	if ok {
		return KindDirectory, nil
	}
	return KindNone, nil
}

// checkAncestors fails when any directory above p is stored as a file
func (s *Store) checkAncestors(ctx context.Context, sessionID, p string) error {
	for dir := paths.Parent(p); !paths.IsRoot(dir); dir = paths.Parent(dir) {
		_, err := s.backend.Get(ctx, sessionID, dir)
		if err == nil {
			return fmt.Errorf("%w: %s is not a directory", ErrInvalidPath, dir)
		}
		if !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// List returns the direct children of dir
func (s *Store) List(ctx context.Context, sessionID, dir string, opts ListOptions) (_ []FileInfo, err error) {
	defer s.observe("list", time.Now(), &err)

	dir, err = clean(dir)
	if err != nil {
		return nil, err
	}
	prefix := paths.Prefix(dir)

	rows, err := s.backend.Scan(ctx, sessionID, prefix, false)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}

	entries := make([]FileInfo, 0, len(rows))
	dirs := make(map[string]int)
	for _, row := range rows {
		rest := strings.TrimPrefix(row.Path, prefix)
		name, _, nested := strings.Cut(rest, "/")
		if name == "" {
			continue
		}
		if !opts.IncludeHidden && paths.IsHidden(name) {
			continue
		}

		if !nested {
			if name == paths.Marker {
				continue
			}
			entries = append(entries, FileInfo{
				Name:     name,
				Path:     row.Path,
				Type:     KindFile.String(),
				Size:     row.Size,
				Language: row.Language,
				Modified: row.UpdatedAt,
			})
			continue
		}

		// A row further down proves the directory; keep the newest timestamp
		if i, ok := dirs[name]; ok {
			if row.UpdatedAt.After(entries[i].Modified) {
				entries[i].Modified = row.UpdatedAt
			}
			continue
		}
		dirs[name] = len(entries)
		entries = append(entries, FileInfo{
			Name:     name,
			Path:     paths.Join(dir, name),
			Type:     KindDirectory.String(),
			Modified: row.UpdatedAt,
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].IsDir() != entries[j].IsDir() {
			return entries[i].IsDir()
		}
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

// Read returns the file at p
func (s *Store) Read(ctx context.Context, sessionID, p string) (_ *File, err error) {
	defer s.observe("read", time.Now(), &err)

	p, err = clean(p)
	if err != nil {
		return nil, err
	}
	return s.backend.Get(ctx, sessionID, p)
}

// Write creates or replaces the file at p. An empty language keeps the
// existing one, or is derived from the path and content for a new file.
func (s *Store) Write(ctx context.Context, sessionID, p, content, language string) (_ *File, err error) {
	defer s.observe("write", time.Now(), &err)

	p, err = clean(p)
	if err != nil {
		return nil, err
	}
	if paths.IsRoot(p) {
		return nil, fmt.Errorf("%w: cannot write to %s", ErrInvalidPath, p)
	}

	dir, err := s.backend.HasPrefix(ctx, sessionID, paths.Prefix(p))
	if err != nil {
		return nil, err
	}
	if dir {
		return nil, ErrIsDirectory
	}
	if err = s.checkAncestors(ctx, sessionID, p); err != nil {
		return nil, err
	}

	keep := language == ""
	if keep {
		language = DetectLanguage(p, content)
	}

	f, err := s.backend.Upsert(ctx, &File{
		SessionID: sessionID,
		Path:      p,
		Name:      paths.Base(p),
		Content:   content,
		Language:  language,
		Size:      int64(len(content)),
		Checksum:  s.hasher.HashString(content),
	}, keep)
	if err != nil {
		return nil, fmt.Errorf("write %s: %w", p, err)
	}

	s.logger.Debug("file written",
		zap.String("session_id", sessionID),
		zap.String("path", p),
		zap.Int64("size", f.Size))
	return f, nil
}

// Delete removes the file at p, or the directory at p with everything
// beneath it. It reports false when nothing matched.
func (s *Store) Delete(ctx context.Context, sessionID, p string) (_ bool, err error) {
	defer s.observe("delete", time.Now(), &err)

	p, err = clean(p)
	if err != nil {
		return false, err
	}
	if paths.IsRoot(p) {
		return false, fmt.Errorf("%w: cannot delete %s", ErrInvalidPath, p)
	}

	removed, err := s.backend.Remove(ctx, sessionID, p)
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", p, err)
	}
	if removed {
		return true, nil
	}

	n, err := s.backend.RemovePrefix(ctx, sessionID, paths.Prefix(p))
	if err != nil {
		return false, fmt.Errorf("delete %s: %w", p, err)
	}
	if n > 0 {
		s.logger.Debug("directory deleted",
			zap.String("session_id", sessionID),
			zap.String("path", p),
			zap.Int64("rows", n))
	}
	return n > 0, nil
}

// Rename moves a file or directory in place. The destination must not exist.
func (s *Store) Rename(ctx context.Context, sessionID, from, to string) (_ bool, err error) {
	defer s.observe("rename", time.Now(), &err)

	if from, err = clean(from); err != nil {
		return false, err
	}
	if to, err = clean(to); err != nil {
		return false, err
	}
	if paths.IsRoot(from) || paths.IsRoot(to) || paths.Within(to, from) {
		return false, fmt.Errorf("%w: cannot move %s to %s", ErrInvalidPath, from, to)
	}

	kind, err := s.stat(ctx, sessionID, from)
	if err != nil {
		return false, err
	}
	if kind == KindNone {
		return false, nil
	}
	dest, err := s.stat(ctx, sessionID, to)
	if err != nil {
		return false, err
	}
	if dest != KindNone {
		return false, ErrExists
	}
	if err = s.checkAncestors(ctx, sessionID, to); err != nil {
		return false, err
	}

	n, err := s.backend.Move(ctx, sessionID, from, to)
	if err != nil {
		return false, fmt.Errorf("rename %s: %w", from, err)
	}
	return n > 0, nil
}

// CreateFolder creates parent/name by writing its marker and returns the
// folder's full path.
func (s *Store) CreateFolder(ctx context.Context, sessionID, name, parent string) (_ string, err error) {
	defer s.observe("create_folder", time.Now(), &err)

	if err = paths.ValidateName(name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidPath, err)
	}
	if parent == "" {
		parent = paths.Root
	}
	if parent, err = clean(parent); err != nil {
		return "", err
	}

	full := paths.Join(parent, name)
	kind, err := s.stat(ctx, sessionID, full)
	if err != nil {
		return "", err
	}
	if kind != KindNone {
		return "", ErrExists
	}
	if err = s.checkAncestors(ctx, sessionID, full); err != nil {
		return "", err
	}

	_, err = s.backend.Upsert(ctx, &File{
		SessionID: sessionID,
		Path:      paths.MarkerPath(full),
		Name:      paths.Marker,
		Checksum:  s.hasher.HashString(""),
	}, false)
	if err != nil {
		return "", fmt.Errorf("create folder %s: %w", full, err)
	}
	return full, nil
}

// Walk returns every row beneath dir with content, markers included
func (s *Store) Walk(ctx context.Context, sessionID, dir string) (_ []*File, err error) {
	defer s.observe("walk", time.Now(), &err)

	if dir, err = clean(dir); err != nil {
		return nil, err
	}
	return s.backend.Scan(ctx, sessionID, paths.Prefix(dir), true)
}

// Purge drops every row of a session
func (s *Store) Purge(ctx context.Context, sessionID string) (_ int64, err error) {
	defer s.observe("purge", time.Now(), &err)
	return s.backend.Purge(ctx, sessionID)
}
