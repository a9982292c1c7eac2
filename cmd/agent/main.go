package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"camstream/internal/core/domain"
	"camstream/internal/core/services"
	httphandlers "camstream/internal/handlers/http"
	"camstream/internal/infrastructure/api"
	"camstream/internal/infrastructure/camera"
	"camstream/internal/infrastructure/capture"
	"camstream/internal/infrastructure/control"
	"camstream/internal/infrastructure/monitoring"
	"camstream/internal/infrastructure/repositories"
	"camstream/internal/infrastructure/rtmp"
	"camstream/internal/infrastructure/settings"
	"camstream/pkg/config"
	"camstream/pkg/logger"
	"camstream/pkg/tracing"
	"camstream/pkg/utils"
)

const storeCheckTimeout = 2 * time.Second

var version = "dev"

type program struct {
	cfg    *config.Config
	log    *zap.SugaredLogger
	cancel context.CancelFunc
	done   chan struct{}
}

func (p *program) Start(s service.Service) error {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		err := p.run(ctx)
		if ctx.Err() != nil {
			return
		}
		// The session ended on its own: shutdown request, sign-out or a
		// fatal startup error.
		code := 0
		switch {
		case err == nil, errors.Is(err, domain.ErrServerRequestedShutdown):
			p.log.Infow("Agent finished", "reason", err)
		default:
			p.log.Errorw("Agent stopped", "error", err)
			code = 1
		}
		_ = p.log.Sync()
		os.Exit(code)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	p.log.Infow("Stopping agent")
	p.cancel()

	select {
	case <-p.done:
	case <-time.After(p.cfg.Server.ShutdownTimeout + time.Second):
		p.log.Warnw("Agent did not stop in time")
	}
	_ = p.log.Sync()
	return nil
}

func (p *program) run(ctx context.Context) error {
	cfg, log := p.cfg, p.log

	tp, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: cfg.Tracing.ServiceName,
		JaegerURL:   cfg.Tracing.JaegerURL,
		Environment: cfg.Tracing.Environment,
		SampleRate:  cfg.Tracing.SampleRate,
		Version:     version,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warnw("Tracer shutdown failed", "error", err)
		}
	}()

	storeFactory := repositories.NewStoreFactory(cfg, log.Named("store"))
	defer storeFactory.Close()
	store := storeFactory.StateStore()

	if cfg.Auth.Token != "" {
		if err := store.SetToken(ctx, cfg.Auth.Token); err != nil {
			return fmt.Errorf("seed token: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := services.NewMetricsService(monitoring.NewPrometheusCollector(registry))

	// The API client and the auth service need each other: the client asks
	// for a token on every call and the service logs in through the client.
	var auth *services.AuthService
	apiClient, err := api.NewClient(api.Config{
		BaseURL:        cfg.API.BaseURL,
		Timeout:        cfg.API.Timeout,
		Retry:          cfg.API.Retry,
		CircuitBreaker: cfg.API.CircuitBreaker,
	}, func(ctx context.Context) (string, error) {
		return auth.Token(ctx)
	}, log.Named("api"))
	if err != nil {
		return fmt.Errorf("create api client: %w", err)
	}
	auth = services.NewAuthService(apiClient, store, cfg.Auth.Username, cfg.Auth.Password, log.Named("auth"))

	controlClient := control.NewWebSocketClient(control.Config{
		URL:              cfg.Control.URL,
		ReconnectDelay:   cfg.Control.ReconnectDelay,
		RetryOnError:     cfg.Control.RetryOnError,
		HandshakeTimeout: cfg.Control.HandshakeTimeout,
		PongTimeout:      cfg.Control.PongTimeout,
	}, auth.Token, metrics, log.Named("control"))

	source := capture.NewFileSource(capture.Config{
		Path:            cfg.Capture.Source,
		Loop:            cfg.Capture.Loop,
		Characteristics: cameraCharacteristics(cfg),
	}, log.Named("capture"))
	pipelines := rtmp.NewPipelineFactory(rtmp.Config{
		DialTimeout:  cfg.RTMP.DialTimeout,
		WriteTimeout: cfg.RTMP.WriteTimeout,
	}, source, log.Named("rtmp"))

	session := services.NewPublishSession(services.PublishSessionConfig{
		RTMPBaseURL:        cfg.RTMP.BaseURL,
		SettleDelay:        cfg.Session.SettleDelay,
		CameraObserveDelay: cfg.Session.CameraObserveDelay,
		RecoveryDelay:      cfg.Session.RecoveryDelay,
	}, pipelines, camera.Factory(log.Named("camera")), metrics, log.Named("session"))

	sessionCtx := services.NewSessionContext(utils.NewSessionID())
	log = log.With("session_id", sessionCtx.SessionID())
	ui := httphandlers.NewUIHandler(sessionCtx, log.Named("ui"))

	orchestrator := services.NewOrchestrator(services.OrchestratorConfig{
		RTMPBaseURL:       cfg.RTMP.BaseURL,
		FallbackDelay:     cfg.Session.FallbackDelay,
		CameraRetryDelay:  cfg.Session.CameraRetryDelay,
		LivenessInterval:  cfg.Session.LivenessInterval,
		RestartMessage:    cfg.Control.RestartMessage,
		MessagesPerSecond: cfg.Control.MessagesPerSecond,
		Burst:             cfg.Control.Burst,
	}, apiClient, store, controlClient, session, sessionCtx, ui, auth, metrics, log.Named("orchestrator"))

	health := monitoring.NewHealthChecker(log.Named("health"))
	health.AddStoreCheck(storeFactory.HealthCheck, storeCheckTimeout)
	health.AddControlCheck(controlClient)
	health.AddPublishCheck(func() bool {
		return session.Snapshot().IsPublishing
	})

	var watcher *settings.Watcher
	if cfg.Settings.File != "" {
		watcher, err = settings.NewWatcher(cfg.Settings.File, cfg.Settings.Debounce, orchestrator, log.Named("settings"))
		if err != nil {
			return fmt.Errorf("watch settings: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return orchestrator.Run(gctx)
	})
	g.Go(func() error {
		return health.Run(gctx, cfg.Monitoring.HealthCheckInterval)
	})
	if watcher != nil {
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	if cfg.Server.Address != "" {
		opts := httphandlers.RouterOptions{
			APIToken:          cfg.Server.APIToken,
			RequestsPerSecond: cfg.Server.RequestsPerSecond,
			Burst:             cfg.Server.Burst,
			RequestLogger:     logger.NewContextLogger(log.Named("http").Desugar()),
		}
		if cfg.Monitoring.PrometheusEnabled {
			opts.Gatherer = registry
		}

		if cfg.Logging.Level != "debug" {
			gin.SetMode(gin.ReleaseMode)
		}
		status := httphandlers.NewStatusHandler(sessionCtx.SessionID(), orchestrator, session, controlClient, metrics, health)
		router := httphandlers.NewRouter(status, httphandlers.NewAuthHandler(auth), ui, opts, log.Named("http"))

		srv := &http.Server{
			Addr:         cfg.Server.Address,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		}

		g.Go(func() error {
			log.Infow("Status API listening", "address", cfg.Server.Address)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("status api: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Warnw("Status API shutdown failed", "error", err)
				return srv.Close()
			}
			return nil
		})
	}

	log.Infow("Agent started",
		"version", version,
		"store", storeFactory.Backend(),
		"control_url", cfg.Control.URL,
		"rtmp_base_url", cfg.RTMP.BaseURL,
	)

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func cameraCharacteristics(cfg *config.Config) domain.CameraCharacteristics {
	c := cfg.Camera
	return domain.CameraCharacteristics{
		ActiveArray:         domain.Rect{Right: c.ActiveWidth, Bottom: c.ActiveHeight},
		MaxDigitalZoom:      c.MaxDigitalZoom,
		SensitivityRange:    domain.IntRange{Lower: c.ISOMin, Upper: c.ISOMax},
		ExposureTimeRange:   domain.Int64Range{Lower: c.ExposureMinNs, Upper: c.ExposureMaxNs},
		AECompensationRange: domain.IntRange{Lower: c.AECompensationMin, Upper: c.AECompensationMax},
		MinFocusDistance:    c.MinFocusDistance,
		ColorGainMin:        c.ColorGainMin,
		ColorGainMax:        c.ColorGainMax,
		FlashAvailable:      c.FlashAvailable,
		ToneCurveMaxPoints:  c.ToneCurveMaxPoints,
	}
}

func main() {
	configPath := flag.String("config", "configs/config.yaml", "path to the agent configuration")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "usage: %s [-config path] [install|uninstall|start|stop|restart]\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(logger.Options{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
		Compress:   cfg.Logging.Compress,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	absConfig, err := filepath.Abs(*configPath)
	if err != nil {
		absConfig = *configPath
	}
	svcConfig := &service.Config{
		Name:        cfg.Service.Name,
		DisplayName: cfg.Service.DisplayName,
		Description: cfg.Service.Description,
		Arguments:   []string{"-config", absConfig},
	}

	p := &program{cfg: cfg, log: log}
	s, err := service.New(p, svcConfig)
	if err != nil {
		log.Fatalw("Failed to create service", "error", err)
	}

	if cmd := flag.Arg(0); cmd != "" {
		if err := service.Control(s, cmd); err != nil {
			log.Fatalw("Service command failed", "command", cmd, "error", err)
		}
		log.Infow("Service command done", "command", cmd)
		return
	}

	if err := s.Run(); err != nil {
		log.Fatalw("Agent exited", "error", err)
	}
}
