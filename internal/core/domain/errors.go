package domain

import "errors"

var (
	ErrNoStreamKey             = errors.New("no stream key available")
	ErrNoToken                 = errors.New("no auth token stored")
	ErrConfigNotFound          = errors.New("camera config not found")
	ErrSessionStopped          = errors.New("session stopped")
	ErrServerRequestedShutdown = errors.New("server requested shutdown")
	ErrUnsupportedRange        = errors.New("unsupported hardware range")
)
