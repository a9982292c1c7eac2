package services

import (
	"sync"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// SessionContext is the state shared between the orchestrator and the
// surfaces that observe it (status API, settings watcher). One instance per
// running agent.
type SessionContext struct {
	mu         sync.RWMutex
	sessionID  string
	uiActive   bool
	uiListener ports.UIListener
	url        string
	phase      domain.SessionPhase
}

func NewSessionContext(sessionID string) *SessionContext {
	return &SessionContext{
		sessionID: sessionID,
		phase:     domain.PhaseIdle,
	}
}

func (c *SessionContext) SessionID() string {
	return c.sessionID
}

// SetUIActive records whether the user-facing surface is in the foreground.
func (c *SessionContext) SetUIActive(active bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uiActive = active
}

func (c *SessionContext) UIActive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uiActive
}

// SetUIListener replaces the listener told when the camera opens. nil clears it.
func (c *SessionContext) SetUIListener(l ports.UIListener) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uiListener = l
}

func (c *SessionContext) UIListener() ports.UIListener {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uiListener
}

func (c *SessionContext) SetURL(url string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.url = url
}

func (c *SessionContext) URL() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.url
}

// setPhase moves to next and returns the previous phase. Stopped is terminal.
func (c *SessionContext) setPhase(next domain.SessionPhase) domain.SessionPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	prev := c.phase
	if prev == domain.PhaseStopped {
		return prev
	}
	c.phase = next
	return prev
}

func (c *SessionContext) Phase() domain.SessionPhase {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.phase
}
