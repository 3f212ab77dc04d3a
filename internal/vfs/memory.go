package vfs

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/webterm/internal/shared/paths"
)

// MemoryBackend keeps rows in process memory
type MemoryBackend struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*File
	now      func() time.Time
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		sessions: make(map[string]map[string]*File),
		now:      time.Now,
	}
}

func copyFile(f *File, withContent bool) *File {
	c := *f
	if !withContent {
		c.Content = ""
	}
	return &c
}

func (m *MemoryBackend) Get(_ context.Context, sessionID, path string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	f, ok := m.sessions[sessionID][path]
	if !ok {
		return nil, ErrNotFound
	}
	return copyFile(f, true), nil
}

func (m *MemoryBackend) Upsert(_ context.Context, f *File, keepLanguage bool) (*File, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files, ok := m.sessions[f.SessionID]
	if !ok {
		files = make(map[string]*File)
		m.sessions[f.SessionID] = files
	}

	now := m.now()
	row := copyFile(f, true)
	row.UpdatedAt = now
	if existing, ok := files[f.Path]; ok {
		row.CreatedAt = existing.CreatedAt
		if keepLanguage {
			row.Language = existing.Language
		}
	} else {
		row.CreatedAt = now
	}
	files[f.Path] = row
	return copyFile(row, true), nil
}

func (m *MemoryBackend) Remove(_ context.Context, sessionID, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID][path]; !ok {
		return false, nil
	}
	delete(m.sessions[sessionID], path)
	return true, nil
}

func (m *MemoryBackend) RemovePrefix(_ context.Context, sessionID, prefix string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for p := range m.sessions[sessionID] {
		if strings.HasPrefix(p, prefix) {
			delete(m.sessions[sessionID], p)
			n++
		}
	}
	return n, nil
}

func (m *MemoryBackend) Scan(_ context.Context, sessionID, prefix string, withContent bool) ([]*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*File
	for p, f := range m.sessions[sessionID] {
		if strings.HasPrefix(p, prefix) {
			out = append(out, copyFile(f, withContent))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out, nil
}

func (m *MemoryBackend) HasPrefix(_ context.Context, sessionID, prefix string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for p := range m.sessions[sessionID] {
		if strings.HasPrefix(p, prefix) {
			return true, nil
		}
	}
	return false, nil
}

func (m *MemoryBackend) Move(_ context.Context, sessionID, from, to string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	files := m.sessions[sessionID]
	renames := make(map[string]string)
	for p := range files {
		switch {
		case p == from:
			renames[p] = to
		case strings.HasPrefix(p, from+"/"):
			renames[p] = to + strings.TrimPrefix(p, from)
		}
	}
	for _, dest := range renames {
		if _, taken := files[dest]; taken {
			return 0, ErrExists
		}
	}

	now := m.now()
	for src, dest := range renames {
		moved := files[src]
		delete(files, src)
		moved.Path = dest
		if src == from {
			moved.Name = paths.Base(dest)
		}
		moved.UpdatedAt = now
		files[dest] = moved
	}
	return int64(len(renames)), nil
}

func (m *MemoryBackend) Purge(_ context.Context, sessionID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.sessions[sessionID]))
	delete(m.sessions, sessionID)
	return n, nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
