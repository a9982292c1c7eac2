package utils

import (
	"github.com/google/uuid"
)

// NewSessionID returns a random id for one agent run.
func NewSessionID() string {
	return "session_" + uuid.NewString()
}

// NewRequestID returns a random id attached to outbound API calls.
func NewRequestID() string {
	return uuid.NewString()
}
