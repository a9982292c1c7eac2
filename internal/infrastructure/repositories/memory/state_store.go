package memory

import (
	"context"
	"sync"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

type MemoryStateStore struct {
	mu     sync.RWMutex
	token  string
	config *domain.CameraConfig
}

func NewMemoryStateStore() ports.StateStore {
	return &MemoryStateStore{}
}

func (s *MemoryStateStore) Token(ctx context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.token == "" {
		return "", domain.ErrNoToken
	}
	return s.token, nil
}

func (s *MemoryStateStore) SetToken(ctx context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

func (s *MemoryStateStore) ClearToken(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}

func (s *MemoryStateStore) CameraConfig(ctx context.Context) (domain.CameraConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.config == nil {
		return domain.CameraConfig{}, domain.ErrConfigNotFound
	}
	return *s.config, nil
}

func (s *MemoryStateStore) SetCameraConfig(ctx context.Context, cfg domain.CameraConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.config = &cfg
	return nil
}
