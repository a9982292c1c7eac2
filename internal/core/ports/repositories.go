package ports

import (
	"context"

	"camstream/internal/core/domain"
)

// StateStore is the small key-value state kept across restarts: the auth
// token and the last known camera configuration.
type StateStore interface {
	Token(ctx context.Context) (string, error)
	SetToken(ctx context.Context, token string) error
	ClearToken(ctx context.Context) error
	CameraConfig(ctx context.Context) (domain.CameraConfig, error)
	SetCameraConfig(ctx context.Context, cfg domain.CameraConfig) error
}
