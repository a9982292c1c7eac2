package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/renameio/v2"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// document is the on-disk layout of the state file.
type document struct {
	Token        string               `json:"token,omitempty"`
	CameraConfig *domain.CameraConfig `json:"camera_config,omitempty"`
}

// FileStateStore keeps the agent state in one JSON file. Every write replaces
// the file atomically, so a crash never leaves a torn document behind.
type FileStateStore struct {
	path string

	mu  sync.RWMutex
	doc document
}

// NewFileStateStore loads path if it exists. A missing file is an empty state.
func NewFileStateStore(path string) (*FileStateStore, error) {
	s := &FileStateStore{path: path}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("read state file: %w", err)
	}

	if len(data) > 0 {
		if err := json.Unmarshal(data, &s.doc); err != nil {
			return nil, fmt.Errorf("parse state file %s: %w", path, err)
		}
	}
	return s, nil
}

var _ ports.StateStore = (*FileStateStore)(nil)

func (s *FileStateStore) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc.Token == "" {
		return "", domain.ErrNoToken
	}
	return s.doc.Token, nil
}

func (s *FileStateStore) SetToken(ctx context.Context, token string) error {
	return s.update(func(d *document) { d.Token = token })
}

func (s *FileStateStore) ClearToken(ctx context.Context) error {
	return s.update(func(d *document) { d.Token = "" })
}

func (s *FileStateStore) CameraConfig(ctx context.Context) (domain.CameraConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.doc.CameraConfig == nil {
		return domain.CameraConfig{}, domain.ErrConfigNotFound
	}
	return *s.doc.CameraConfig, nil
}

func (s *FileStateStore) SetCameraConfig(ctx context.Context, cfg domain.CameraConfig) error {
	return s.update(func(d *document) { d.CameraConfig = &cfg })
}

// update applies fn to a copy of the document and persists it. The in-memory
// state only changes once the file was replaced.
func (s *FileStateStore) update(fn func(*document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.doc
	fn(&next)

	if err := s.write(next); err != nil {
		return err
	}
	s.doc = next
	return nil
}

func (s *FileStateStore) write(doc document) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state dir: %w", err)
		}
	}

	pending, err := renameio.NewPendingFile(s.path, renameio.WithPermissions(0o600))
	if err != nil {
		return fmt.Errorf("create pending state file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := pending.Write(data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := pending.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
