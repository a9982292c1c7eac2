package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"camstream/internal/core/domain"
	"camstream/internal/core/services"
	"camstream/internal/infrastructure/monitoring"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/utils"
	"camstream/pkg/validation"
)

type SessionController interface {
	Phase() domain.SessionPhase
	RestartConnection()
	ApplyLocal(ctx context.Context, cfg domain.CameraConfig) error
}

type SessionObserver interface {
	Snapshot() domain.SessionState
}

type MetricsSource interface {
	Snapshot() services.MetricsSnapshot
}

type ControlObserver interface {
	State() domain.ControlState
}

type HealthReporter interface {
	CheckAll(ctx context.Context) monitoring.HealthStatus
}

// StatusHandler serves the local status API of the agent.
type StatusHandler struct {
	sessionID  string
	controller SessionController
	session    SessionObserver
	control    ControlObserver
	metrics    MetricsSource
	health     HealthReporter
}

func NewStatusHandler(
	sessionID string,
	controller SessionController,
	session SessionObserver,
	control ControlObserver,
	metrics MetricsSource,
	health HealthReporter,
) *StatusHandler {
	return &StatusHandler{
		sessionID:  sessionID,
		controller: controller,
		session:    session,
		control:    control,
		metrics:    metrics,
		health:     health,
	}
}

// SetupRoutes registers the read-only routes on router and the mutating ones
// on guarded.
func (h *StatusHandler) SetupRoutes(router gin.IRoutes, guarded gin.IRoutes) {
	router.GET("/health", h.Health)
	router.GET("/status", h.Status)

	guarded.POST("/session/restart", h.Restart)
	guarded.PUT("/config", h.UpdateConfig)
}

func (h *StatusHandler) Health(c *gin.Context) {
	status := h.health.CheckAll(c.Request.Context())
	code := http.StatusOK
	if status.Status != monitoring.StatusHealthy {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, status)
}

func (h *StatusHandler) Status(c *gin.Context) {
	state := maskState(h.session.Snapshot())
	c.JSON(http.StatusOK, gin.H{
		"session_id":    h.sessionID,
		"phase":         h.controller.Phase(),
		"control_state": h.control.State(),
		"session":       state,
		"metrics":       h.metrics.Snapshot(),
	})
}

func (h *StatusHandler) Restart(c *gin.Context) {
	if h.controller.Phase() == domain.PhaseStopped {
		_ = c.Error(apperrors.NewServiceUnavailableError("session stopped"))
		return
	}
	h.controller.RestartConnection()
	c.JSON(http.StatusAccepted, gin.H{"status": "restarting"})
}

// UpdateConfig applies a camera configuration sent by the operator. Fields
// missing from the body keep their default values.
func (h *StatusHandler) UpdateConfig(c *gin.Context) {
	cfg := domain.DefaultCameraConfig()
	if err := c.ShouldBindJSON(&cfg); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}
	if err := validateCameraConfig(cfg); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError(err.Error()))
		return
	}

	if err := h.controller.ApplyLocal(c.Request.Context(), cfg); err != nil {
		switch {
		case errors.Is(err, domain.ErrSessionStopped), errors.Is(err, domain.ErrNoStreamKey):
			_ = c.Error(apperrors.NewServiceUnavailableError(err.Error()))
		default:
			_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeInternal, "apply config", http.StatusInternalServerError))
		}
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"config": cfg.Clamp()})
}

// validateCameraConfig rejects encoder parameters no pipeline can be built
// with. Camera parameters are clamped later instead.
func validateCameraConfig(cfg domain.CameraConfig) error {
	if err := validation.ValidateResolution(cfg.Resolution.Width, cfg.Resolution.Height); err != nil {
		return err
	}
	if err := validation.ValidateFPS(cfg.FPS); err != nil {
		return err
	}
	if err := validation.ValidateBitrate(cfg.BitrateBps); err != nil {
		return err
	}
	if cfg.ShutterSpeed != "" && !cfg.ShutterSpeed.Valid() {
		return fmt.Errorf("unknown shutter speed %q", cfg.ShutterSpeed)
	}
	return nil
}

// maskState hides the stream key, which grants publish access.
func maskState(s domain.SessionState) domain.SessionState {
	if s.StreamKey == "" {
		return s
	}
	masked := utils.MaskSensitive(s.StreamKey, 4)
	s.DestinationURL = strings.Replace(s.DestinationURL, s.StreamKey, masked, 1)
	s.StreamKey = masked
	return s
}
