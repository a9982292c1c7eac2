package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"camstream/pkg/circuitbreaker"
	"camstream/pkg/retry"
	"camstream/pkg/validation"
)

type Config struct {
	// Server is the local status API. An empty address disables it.
	Server struct {
		Address         string        `yaml:"address"`
		ReadTimeout     time.Duration `yaml:"read_timeout"`
		WriteTimeout    time.Duration `yaml:"write_timeout"`
		ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
		// APIToken guards the mutating endpoints. Empty leaves them open.
		APIToken          string  `yaml:"api_token"`
		RequestsPerSecond float64 `yaml:"requests_per_second"`
		Burst             int     `yaml:"burst"`
	} `yaml:"server"`

	API struct {
		BaseURL        string                `yaml:"base_url"`
		Timeout        time.Duration         `yaml:"timeout"`
		Retry          retry.Config          `yaml:"retry"`
		CircuitBreaker circuitbreaker.Config `yaml:"circuit_breaker"`
	} `yaml:"api"`

	Control struct {
		URL               string        `yaml:"url"`
		ReconnectDelay    time.Duration `yaml:"reconnect_delay"`
		RetryOnError      bool          `yaml:"retry_on_error"`
		HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
		PongTimeout       time.Duration `yaml:"pong_timeout"`
		RestartMessage    string        `yaml:"restart_message"`
		MessagesPerSecond float64       `yaml:"messages_per_second"`
		Burst             int           `yaml:"burst"`
	} `yaml:"control"`

	RTMP struct {
		BaseURL     string        `yaml:"base_url"`
		DialTimeout  time.Duration `yaml:"dial_timeout"`
		WriteTimeout time.Duration `yaml:"write_timeout"`
	} `yaml:"rtmp"`

	Session struct {
		SettleDelay        time.Duration `yaml:"settle_delay"`
		CameraObserveDelay time.Duration `yaml:"camera_observe_delay"`
		RecoveryDelay      time.Duration `yaml:"recovery_delay"`
		FallbackDelay      time.Duration `yaml:"fallback_delay"`
		CameraRetryDelay   time.Duration `yaml:"camera_retry_delay"`
		LivenessInterval   time.Duration `yaml:"liveness_interval"`
	} `yaml:"session"`

	// Capture is the video source feeding the encoder.
	Capture struct {
		Source string `yaml:"source"` // Annex-B .h264 file
		Loop   bool   `yaml:"loop"`
	} `yaml:"capture"`

	// Camera describes the hardware ranges reported by the capture device.
	Camera struct {
		ActiveWidth        int     `yaml:"active_width"`
		ActiveHeight       int     `yaml:"active_height"`
		MaxDigitalZoom     float64 `yaml:"max_digital_zoom"`
		ISOMin             int     `yaml:"iso_min"`
		ISOMax             int     `yaml:"iso_max"`
		ExposureMinNs      int64   `yaml:"exposure_min_ns"`
		ExposureMaxNs      int64   `yaml:"exposure_max_ns"`
		AECompensationMin  int     `yaml:"ae_compensation_min"`
		AECompensationMax  int     `yaml:"ae_compensation_max"`
		MinFocusDistance   float64 `yaml:"min_focus_distance"`
		ColorGainMin       float64 `yaml:"color_gain_min"`
		ColorGainMax       float64 `yaml:"color_gain_max"`
		FlashAvailable     bool    `yaml:"flash_available"`
		ToneCurveMaxPoints int     `yaml:"tone_curve_max_points"`
	} `yaml:"camera"`

	Storage struct {
		Type string `yaml:"type"` // memory, file or redis
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Redis struct {
		Address   string `yaml:"address"`
		Password  string `yaml:"password"`
		DB        int    `yaml:"db"`
		PoolSize  int    `yaml:"pool_size"`
		KeyPrefix string `yaml:"key_prefix"`
	} `yaml:"redis"`

	Auth struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Token    string `yaml:"token"`
	} `yaml:"auth"`

	// Settings is a local YAML camera config that overrides the server's
	// until the next push. An empty file disables the watcher.
	Settings struct {
		File     string        `yaml:"file"`
		Debounce time.Duration `yaml:"debounce"`
	} `yaml:"settings"`

	Monitoring struct {
		PrometheusEnabled   bool          `yaml:"prometheus_enabled"`
		HealthCheckInterval time.Duration `yaml:"health_check_interval"`
	} `yaml:"monitoring"`

	Tracing struct {
		Enabled     bool    `yaml:"enabled"`
		ServiceName string  `yaml:"service_name"`
		JaegerURL   string  `yaml:"jaeger_url"`
		Environment string  `yaml:"environment"`
		SampleRate  float64 `yaml:"sample_rate"`
	} `yaml:"tracing"`

	Logging struct {
		Level      string `yaml:"level"`
		Format     string `yaml:"format"`
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Service struct {
		Name        string `yaml:"name"`
		DisplayName string `yaml:"display_name"`
		Description string `yaml:"description"`
	} `yaml:"service"`
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.Server.Address != "" {
		if c.Server.ReadTimeout <= 0 {
			return fmt.Errorf("server.read_timeout must be > 0")
		}
		if c.Server.WriteTimeout <= 0 {
			return fmt.Errorf("server.write_timeout must be > 0")
		}
		if c.Server.ShutdownTimeout <= 0 {
			return fmt.Errorf("server.shutdown_timeout must be > 0")
		}
		if c.Server.RequestsPerSecond > 0 && c.Server.Burst <= 0 {
			return fmt.Errorf("server.burst must be > 0 when rate limiting is enabled")
		}
	}

	// API
	if err := validation.ValidateURL(c.API.BaseURL, "http", "https"); err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}
	if c.API.Timeout <= 0 {
		return fmt.Errorf("api.timeout must be > 0")
	}
	if c.API.Retry.Enabled && c.API.Retry.MaxAttempts < 0 {
		return fmt.Errorf("api.retry.max_attempts must be >= 0")
	}
	if c.API.CircuitBreaker.FailureThreshold <= 0 {
		return fmt.Errorf("api.circuit_breaker.failure_threshold must be > 0")
	}

	// Control channel
	if err := validation.ValidateURL(c.Control.URL, "ws", "wss"); err != nil {
		return fmt.Errorf("control.url: %w", err)
	}
	if c.Control.ReconnectDelay <= 0 {
		return fmt.Errorf("control.reconnect_delay must be > 0")
	}
	if c.Control.MessagesPerSecond <= 0 {
		return fmt.Errorf("control.messages_per_second must be > 0")
	}
	if c.Control.Burst <= 0 {
		return fmt.Errorf("control.burst must be > 0")
	}

	// RTMP
	if err := validation.ValidateURL(c.RTMP.BaseURL, "rtmp"); err != nil {
		return fmt.Errorf("rtmp.base_url: %w", err)
	}

	// Session
	if c.Session.SettleDelay < 0 || c.Session.CameraObserveDelay < 0 ||
		c.Session.RecoveryDelay < 0 || c.Session.FallbackDelay < 0 || c.Session.CameraRetryDelay < 0 {
		return fmt.Errorf("session delays must be >= 0")
	}
	if c.Session.LivenessInterval <= 0 {
		return fmt.Errorf("session.liveness_interval must be > 0")
	}

	// Storage
	switch c.Storage.Type {
	case "memory":
	case "file":
		if c.Storage.Path == "" {
			return fmt.Errorf("storage.path must not be empty when storage.type=file")
		}
	case "redis":
		if c.Redis.Address == "" {
			return fmt.Errorf("redis.address must not be empty when storage.type=redis")
		}
		if c.Redis.PoolSize <= 0 {
			return fmt.Errorf("redis.pool_size must be > 0 when storage.type=redis")
		}
	default:
		return fmt.Errorf("storage.type must be one of memory, file, redis (got %q)", c.Storage.Type)
	}

	if c.Settings.File != "" && c.Settings.Debounce <= 0 {
		return fmt.Errorf("settings.debounce must be > 0 when settings.file is set")
	}

	if c.Tracing.Enabled && (c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be within [0, 1]")
	}

	// Logging
	if c.Logging.Level == "" {
		return fmt.Errorf("logging.level must not be empty")
	}

	return nil
}

// Load reads configuration from YAML file, applies defaults and env overrides.
func Load(configPath string) (*Config, error) {
	// If file does not exist, fall back to defaults
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", configPath, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config yaml: %w", err)
	}

	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// DefaultConfig returns configuration with sane defaults.
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Server.Address = ":8090"
	cfg.Server.ReadTimeout = 10 * time.Second
	cfg.Server.WriteTimeout = 10 * time.Second
	cfg.Server.ShutdownTimeout = 10 * time.Second
	cfg.Server.RequestsPerSecond = 1
	cfg.Server.Burst = 5

	cfg.API.BaseURL = "http://localhost:3000/api/"
	cfg.API.Timeout = 10 * time.Second
	cfg.API.Retry = retry.DefaultConfig()
	cfg.API.CircuitBreaker = circuitbreaker.DefaultConfig()

	cfg.Control.URL = "ws://localhost:3001"
	cfg.Control.ReconnectDelay = 5 * time.Second
	cfg.Control.RetryOnError = true
	cfg.Control.HandshakeTimeout = 10 * time.Second
	cfg.Control.PongTimeout = 60 * time.Second
	cfg.Control.RestartMessage = "restart"
	cfg.Control.MessagesPerSecond = 2
	cfg.Control.Burst = 4

	cfg.RTMP.BaseURL = "rtmp://localhost/live"
	cfg.RTMP.DialTimeout = 10 * time.Second
	cfg.RTMP.WriteTimeout = 5 * time.Second

	cfg.Session.SettleDelay = time.Second
	cfg.Session.CameraObserveDelay = 2 * time.Second
	cfg.Session.RecoveryDelay = 3 * time.Second
	cfg.Session.FallbackDelay = time.Second
	cfg.Session.CameraRetryDelay = 2 * time.Second
	cfg.Session.LivenessInterval = 10 * time.Second

	cfg.Capture.Source = "testdata/camera.h264"
	cfg.Capture.Loop = true

	cfg.Camera.ActiveWidth = 4000
	cfg.Camera.ActiveHeight = 3000
	cfg.Camera.MaxDigitalZoom = 8
	cfg.Camera.ISOMin = 100
	cfg.Camera.ISOMax = 3200
	cfg.Camera.ExposureMinNs = 100_000
	cfg.Camera.ExposureMaxNs = 32_000_000_000
	cfg.Camera.AECompensationMin = -12
	cfg.Camera.AECompensationMax = 12
	cfg.Camera.MinFocusDistance = 10
	cfg.Camera.ColorGainMin = 1
	cfg.Camera.ColorGainMax = 8
	cfg.Camera.FlashAvailable = true
	cfg.Camera.ToneCurveMaxPoints = 64

	cfg.Storage.Type = "file"
	cfg.Storage.Path = "camstream-state.json"

	cfg.Redis.Address = "localhost:6379"
	cfg.Redis.PoolSize = 10
	cfg.Redis.KeyPrefix = "camstream:"

	cfg.Settings.Debounce = 500 * time.Millisecond

	cfg.Monitoring.PrometheusEnabled = true
	cfg.Monitoring.HealthCheckInterval = 15 * time.Second

	cfg.Tracing.ServiceName = "camstream"
	cfg.Tracing.JaegerURL = "http://localhost:14268/api/traces"
	cfg.Tracing.Environment = "development"
	cfg.Tracing.SampleRate = 1.0

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "json"
	cfg.Logging.MaxSizeMB = 50
	cfg.Logging.MaxBackups = 5
	cfg.Logging.MaxAgeDays = 14

	cfg.Service.Name = "camstream"
	cfg.Service.DisplayName = "Camstream Agent"
	cfg.Service.Description = "Publishes the camera feed over RTMP and follows remote configuration."

	return cfg
}

func (c *Config) applyEnvOverrides() {
	if addr, ok := os.LookupEnv("CAMSTREAM_SERVER_ADDRESS"); ok {
		c.Server.Address = addr
	}
	if token := os.Getenv("CAMSTREAM_SERVER_API_TOKEN"); token != "" {
		c.Server.APIToken = token
	}
	if url := os.Getenv("CAMSTREAM_API_BASE_URL"); url != "" {
		c.API.BaseURL = url
	}
	if url := os.Getenv("CAMSTREAM_CONTROL_URL"); url != "" {
		c.Control.URL = url
	}
	if url := os.Getenv("CAMSTREAM_RTMP_BASE_URL"); url != "" {
		c.RTMP.BaseURL = url
	}
	if src := os.Getenv("CAMSTREAM_CAPTURE_SOURCE"); src != "" {
		c.Capture.Source = src
	}
	if typ := os.Getenv("CAMSTREAM_STORAGE_TYPE"); typ != "" {
		c.Storage.Type = typ
	}
	if addr := os.Getenv("CAMSTREAM_REDIS_ADDRESS"); addr != "" {
		c.Redis.Address = addr
	}
	if user := os.Getenv("CAMSTREAM_AUTH_USERNAME"); user != "" {
		c.Auth.Username = user
	}
	if pass := os.Getenv("CAMSTREAM_AUTH_PASSWORD"); pass != "" {
		c.Auth.Password = pass
	}
	if token := os.Getenv("CAMSTREAM_AUTH_TOKEN"); token != "" {
		c.Auth.Token = token
	}
	if level := os.Getenv("CAMSTREAM_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}
