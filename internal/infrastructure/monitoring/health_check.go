package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"camstream/internal/core/domain"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

type HealthChecker struct {
	checks []HealthCheck
	mu     sync.RWMutex
	last   HealthStatus
	logger *zap.SugaredLogger
}

type HealthCheck struct {
	Name    string
	Check   func(ctx context.Context) error
	Timeout time.Duration
}

type HealthStatus struct {
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks"`
}

func NewHealthChecker(logger *zap.SugaredLogger) *HealthChecker {
	return &HealthChecker{
		checks: make([]HealthCheck, 0),
		logger: logger,
	}
}

func (h *HealthChecker) AddCheck(name string, check func(ctx context.Context) error, timeout time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.checks = append(h.checks, HealthCheck{
		Name:    name,
		Check:   check,
		Timeout: timeout,
	})
}

// AddStoreCheck checks that the state store backend answers.
func (h *HealthChecker) AddStoreCheck(ping func(ctx context.Context) error, timeout time.Duration) {
	h.AddCheck("store", ping, timeout)
}

// AddControlCheck fails while the control channel is not connected.
func (h *HealthChecker) AddControlCheck(control interface{ State() domain.ControlState }) {
	h.AddCheck("control", func(context.Context) error {
		if state := control.State(); state != domain.ControlConnected {
			return fmt.Errorf("control channel %s", state)
		}
		return nil
	}, time.Second)
}

// AddPublishCheck fails while the session is not publishing.
func (h *HealthChecker) AddPublishCheck(publishing func() bool) {
	h.AddCheck("publish", func(context.Context) error {
		if !publishing() {
			return errors.New("not publishing")
		}
		return nil
	}, time.Second)
}

func (h *HealthChecker) CheckAll(ctx context.Context) HealthStatus {
	h.mu.RLock()
	checks := append([]HealthCheck(nil), h.checks...)
	h.mu.RUnlock()

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now(),
		Checks:    make(map[string]string, len(checks)),
	}

	for _, check := range checks {
		checkCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		err := check.Check(checkCtx)
		cancel()

		if err != nil {
			status.Status = StatusUnhealthy
			status.Checks[check.Name] = err.Error()
		} else {
			status.Checks[check.Name] = StatusHealthy
		}
	}

	h.mu.Lock()
	h.last = status
	h.mu.Unlock()
	return status
}

// Last returns the result of the most recent CheckAll.
func (h *HealthChecker) Last() HealthStatus {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.last
}

// Run checks every interval and logs status changes until ctx is done.
func (h *HealthChecker) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := ""
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			status := h.CheckAll(ctx)
			if status.Status != prev {
				if status.Status == StatusHealthy {
					h.logger.Infow("Agent healthy")
				} else {
					h.logger.Warnw("Agent unhealthy", "checks", status.Checks)
				}
				prev = status.Status
			}
		}
	}
}
