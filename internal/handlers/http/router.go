package http

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"camstream/internal/infrastructure/middleware"
	"camstream/pkg/logger"
)

type RouterOptions struct {
	APIToken          string
	RequestsPerSecond float64
	Burst             int
	// Gatherer backs /metrics. nil leaves the route out.
	Gatherer prometheus.Gatherer
	// RequestLogger logs every request. nil disables request logging.
	RequestLogger *logger.ContextLogger
}

// NewRouter builds the status API. auth and ui may be nil.
func NewRouter(status *StatusHandler, auth *AuthHandler, ui *UIHandler, opts RouterOptions, log *zap.SugaredLogger) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.RequestIDMiddleware(),
		middleware.TracingMiddleware(),
	)
	if opts.RequestLogger != nil {
		router.Use(middleware.RequestLoggingMiddleware(opts.RequestLogger, status.sessionID))
	}
	router.Use(middleware.ErrorHandlerMiddleware(log))

	guarded := router.Group("/")
	guarded.Use(
		middleware.APITokenMiddleware(opts.APIToken),
		middleware.NewRateLimitMiddleware(opts.RequestsPerSecond, opts.Burst),
	)

	status.SetupRoutes(router, guarded)
	if auth != nil {
		auth.SetupRoutes(router, guarded)
	}
	if ui != nil {
		ui.SetupRoutes(router, guarded)
	}
	if opts.Gatherer != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})))
	}
	return router
}
