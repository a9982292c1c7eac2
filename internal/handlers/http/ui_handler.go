package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"camstream/internal/core/ports"
	apperrors "camstream/pkg/errors"
)

// UIState is the foreground flag and camera-open listener slot of a session.
type UIState interface {
	SetUIActive(active bool)
	UIActive() bool
	SetUIListener(l ports.UIListener)
}

// UIHandler is the operator prompt surface of a headless agent. The
// orchestrator raises a prompt when the camera does not open; the operator
// marks the surface active while attending to the device, and the prompt is
// dismissed once the camera opens.
type UIHandler struct {
	state  UIState
	logger *zap.SugaredLogger

	mu          sync.Mutex
	pending     bool
	promptedAt  time.Time
	dismissedAt time.Time
}

// NewUIHandler registers the handler as the session's camera-open listener.
func NewUIHandler(state UIState, logger *zap.SugaredLogger) *UIHandler {
	h := &UIHandler{state: state, logger: logger}
	state.SetUIListener(h)
	return h
}

var (
	_ ports.ForegroundLauncher = (*UIHandler)(nil)
	_ ports.UIListener         = (*UIHandler)(nil)
)

// BringToForeground raises the operator prompt.
func (h *UIHandler) BringToForeground(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.pending {
		h.pending = true
		h.promptedAt = time.Now()
		h.logger.Warnw("Camera unavailable, operator attention required")
	}
	return nil
}

// CameraOpened dismisses the prompt and leaves the foreground.
func (h *UIHandler) CameraOpened() {
	h.mu.Lock()
	wasPending := h.pending
	h.pending = false
	if wasPending {
		h.dismissedAt = time.Now()
	}
	h.mu.Unlock()

	h.state.SetUIActive(false)
	if wasPending {
		h.logger.Infow("Camera opened, prompt dismissed")
	}
}

func (h *UIHandler) SetupRoutes(router gin.IRoutes, guarded gin.IRoutes) {
	router.GET("/ui", h.Status)
	guarded.POST("/ui", h.SetActive)
}

func (h *UIHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.snapshot())
}

type uiRequest struct {
	Active *bool `json:"active" binding:"required"`
}

// SetActive records whether the operator is at the device.
func (h *UIHandler) SetActive(c *gin.Context) {
	var req uiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.NewInvalidInputError("body must be {\"active\": bool}"))
		return
	}
	h.state.SetUIActive(*req.Active)
	h.logger.Infow("Operator surface changed", "active", *req.Active)
	c.JSON(http.StatusOK, h.snapshot())
}

func (h *UIHandler) snapshot() gin.H {
	h.mu.Lock()
	defer h.mu.Unlock()

	resp := gin.H{
		"active":         h.state.UIActive(),
		"prompt_pending": h.pending,
	}
	if !h.promptedAt.IsZero() {
		resp["prompted_at"] = h.promptedAt.UTC().Format(time.RFC3339)
	}
	if !h.dismissedAt.IsZero() {
		resp["dismissed_at"] = h.dismissedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
