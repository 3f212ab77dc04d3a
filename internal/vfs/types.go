package vfs

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound    = errors.New("no such file or directory")
	ErrExists      = errors.New("file exists")
	ErrIsDirectory = errors.New("is a directory")
	ErrInvalidPath = errors.New("invalid path")
)

// File is one stored row
type File struct {
	SessionID string    `json:"session_id"`
	Path      string    `json:"path"`
	Name      string    `json:"name"`
	Content   string    `json:"content"`
	Language  string    `json:"language"`
	Size      int64     `json:"size"`
	Checksum  string    `json:"checksum"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Kind classifies a path
type Kind int

const (
	KindNone Kind = iota
	KindFile
	KindDirectory
)

// String returns the listing type name
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDirectory:
		return "directory"
	default:
		return "none"
	}
}

// FileInfo is a directory listing entry. Directory entries are synthesized
// from the rows beneath them.
type FileInfo struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Type     string    `json:"type"`
	Size     int64     `json:"size"`
	Language string    `json:"language,omitempty"`
	Modified time.Time `json:"modified"`
}

// IsDir reports whether the entry is a directory
func (fi FileInfo) IsDir() bool {
	return fi.Type == KindDirectory.String()
}

// ListOptions tunes List
type ListOptions struct {
	// IncludeHidden lists dot entries. Markers are never listed.
	IncludeHidden bool
}

// Backend is the storage primitive set a Store is built on. Paths are
// normalized by the Store before they reach a backend; prefixes always end
// in "/".
type Backend interface {
	// Get returns ErrNotFound when no row exists
	Get(ctx context.Context, sessionID, path string) (*File, error)
	// Upsert inserts or replaces a row atomically. With keepLanguage an
	// existing row keeps its language.
	Upsert(ctx context.Context, f *File, keepLanguage bool) (*File, error)
	Remove(ctx context.Context, sessionID, path string) (bool, error)
	RemovePrefix(ctx context.Context, sessionID, prefix string) (int64, error)
	// Scan returns rows whose path starts with prefix, ordered by path
	Scan(ctx context.Context, sessionID, prefix string, withContent bool) ([]*File, error)
	HasPrefix(ctx context.Context, sessionID, prefix string) (bool, error)
	// Move renames from and every row beneath it in one transaction
	Move(ctx context.Context, sessionID, from, to string) (int64, error)
	Purge(ctx context.Context, sessionID string) (int64, error)
	Close() error
}
