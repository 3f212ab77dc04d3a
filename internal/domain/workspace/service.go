package workspace

import (
	"context"

	"github.com/GriffinCanCode/webterm/internal/shared/paths"
	"github.com/GriffinCanCode/webterm/internal/vfs"
)

// Service is the workspace persistence facade, keyed by session ID
type Service struct {
	store   *vfs.Store
	manager *Manager
}

// NewService creates the facade
func NewService(store *vfs.Store, manager *Manager) *Service {
	return &Service{store: store, manager: manager}
}

// Store returns the backing virtual filesystem
func (s *Service) Store() *vfs.Store {
	return s.store
}

// Manager returns the temp workspace manager
func (s *Service) Manager() *Manager {
	return s.manager
}

// GetFiles lists a directory; empty means the root
func (s *Service) GetFiles(ctx context.Context, sessionID, directory string) ([]vfs.FileInfo, error) {
	if directory == "" {
		directory = paths.Root
	}
	kind, err := s.store.Stat(ctx, sessionID, directory)
	if err != nil {
		return nil, err
	}
	if kind != vfs.KindDirectory {
		return nil, vfs.ErrNotFound
	}
	return s.store.List(ctx, sessionID, directory, vfs.ListOptions{})
}

// GetFileContent reads one file
func (s *Service) GetFileContent(ctx context.Context, sessionID, filename string) (*vfs.File, error) {
	return s.store.Read(ctx, sessionID, filename)
}

// SaveFile writes an editor save
func (s *Service) SaveFile(ctx context.Context, sessionID, filename, content, language string) (*vfs.File, error) {
	return s.store.Write(ctx, sessionID, filename, content, language)
}

// DeleteFile removes a file or directory tree
func (s *Service) DeleteFile(ctx context.Context, sessionID, filename string) error {
	ok, err := s.store.Delete(ctx, sessionID, filename)
	if err != nil {
		return err
	}
	if !ok {
		return vfs.ErrNotFound
	}
	return nil
}

// RenameFile moves a file or directory in place
func (s *Service) RenameFile(ctx context.Context, sessionID, oldName, newName string) error {
	ok, err := s.store.Rename(ctx, sessionID, oldName, newName)
	if err != nil {
		return err
	}
	if !ok {
		return vfs.ErrNotFound
	}
	return nil
}

// CreateFolder creates parent/name and returns its full path
func (s *Service) CreateFolder(ctx context.Context, sessionID, name, parent string) (string, error) {
	return s.store.CreateFolder(ctx, sessionID, name, parent)
}

// CreateTempWorkspace materializes the session on the host
func (s *Service) CreateTempWorkspace(ctx context.Context, sessionID string) (string, error) {
	return s.manager.Ensure(ctx, sessionID)
}
