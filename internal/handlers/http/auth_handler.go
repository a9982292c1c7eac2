package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"camstream/internal/core/services"
	apperrors "camstream/pkg/errors"
)

// AuthHandler lets the operator check and renew the agent's backend login.
type AuthHandler struct {
	auth *services.AuthService
}

func NewAuthHandler(auth *services.AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

func (h *AuthHandler) SetupRoutes(router gin.IRoutes, guarded gin.IRoutes) {
	router.GET("/auth", h.Status)
	guarded.POST("/auth/login", h.Login)
}

func (h *AuthHandler) Status(c *gin.Context) {
	resp := gin.H{"signed_out": h.auth.IsSignedOut()}
	if exp, ok := h.auth.Expiry(c.Request.Context()); ok {
		resp["expires_at"] = exp.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// Login forces a fresh login with the configured credentials.
func (h *AuthHandler) Login(c *gin.Context) {
	token, err := h.auth.Login(c.Request.Context())
	if err != nil {
		_ = c.Error(apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "login failed", http.StatusUnauthorized))
		return
	}

	resp := gin.H{"status": "logged_in"}
	if exp, ok := services.TokenExpiry(token); ok {
		resp["expires_at"] = exp.UTC().Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}
