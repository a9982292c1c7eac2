package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
	"camstream/pkg/circuitbreaker"
	apperrors "camstream/pkg/errors"
	"camstream/pkg/retry"
)

const maxErrorBody = 512

// TokenSource returns the bearer token sent with authenticated requests.
type TokenSource func(ctx context.Context) (string, error)

type Config struct {
	BaseURL        string
	Timeout        time.Duration
	Retry          retry.Config
	CircuitBreaker circuitbreaker.Config
}

// Client talks to the backend REST API. Calls pass through a circuit breaker
// and are retried on transient failures.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	tokens  TokenSource
	retry   retry.Config
	breaker *circuitbreaker.CircuitBreaker
	logger  *zap.SugaredLogger
}

func NewClient(cfg Config, tokens TokenSource, logger *zap.SugaredLogger) (*Client, error) {
	base, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil {
		return nil, fmt.Errorf("parse api base url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("api base url %q must be http or https", cfg.BaseURL)
	}

	retryCfg := cfg.Retry
	retryCfg.Retryable = func(err error) bool {
		return !errors.Is(err, circuitbreaker.ErrOpen) && apperrors.IsTemporary(err)
	}
	breakerCfg := cfg.CircuitBreaker
	breakerCfg.IsFailure = apperrors.IsTemporary

	breaker := circuitbreaker.New(breakerCfg)
	breaker.OnStateChange(func(from, to circuitbreaker.State) {
		logger.Warnw("API circuit breaker state changed", "from", from.String(), "to", to.String())
	})

	return &Client{
		baseURL: base,
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport.(*http.Transport).Clone()),
		},
		tokens:  tokens,
		retry:   retryCfg,
		breaker: breaker,
		logger:  logger,
	}, nil
}

var _ ports.CameraAPI = (*Client)(nil)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token string `json:"token"`
}

func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var resp loginResponse
	body := loginRequest{Username: username, Password: password}
	if _, err := c.call(ctx, http.MethodPost, "driver/login", body, false, &resp); err != nil {
		return "", err
	}
	if resp.Token == "" {
		return "", apperrors.NewUnauthorizedError("login returned no token")
	}
	return resp.Token, nil
}

func (c *Client) StreamKey(ctx context.Context) (*domain.StreamKeyInfo, error) {
	var info domain.StreamKeyInfo
	if _, err := c.call(ctx, http.MethodGet, "stream-key", nil, true, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// CameraConfig fetches the configuration the backend wants applied. Fields
// the server leaves out keep their defaults.
func (c *Client) CameraConfig(ctx context.Context) (domain.CameraConfig, error) {
	payload := payloadFromConfig(domain.DefaultCameraConfig())
	if _, err := c.call(ctx, http.MethodGet, "driver/camera-config", nil, true, &payload); err != nil {
		return domain.CameraConfig{}, err
	}
	return payload.toConfig(), nil
}

// Status is the liveness check. It returns the 2xx status code the server
// answered with.
func (c *Client) Status(ctx context.Context) (int, error) {
	return c.call(ctx, http.MethodGet, "status", nil, true, nil)
}

// BreakerState exposes the circuit breaker for health reporting.
func (c *Client) BreakerState() circuitbreaker.State {
	return c.breaker.State()
}

func (c *Client) call(ctx context.Context, method, path string, body interface{}, auth bool, out interface{}) (int, error) {
	return retry.RetryWithResult(ctx, c.retry, func() (int, error) {
		return circuitbreaker.Do(ctx, c.breaker, func() (int, error) {
			return c.do(ctx, method, path, body, auth, out)
		})
	})
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, auth bool, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL.JoinPath(path).String(), reader)
	if err != nil {
		return 0, fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth {
		token, err := c.tokens(ctx)
		if err != nil {
			return 0, apperrors.WrapError(err, apperrors.ErrCodeUnauthorized, "no auth token", http.StatusUnauthorized)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, apperrors.WrapError(err, apperrors.ErrCodeServiceUnavailable,
			fmt.Sprintf("%s %s", method, path), http.StatusServiceUnavailable)
	}
	defer resp.Body.Close()

	c.logger.Debugw("API request",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, apperrors.FromHTTPStatus(resp.StatusCode,
			fmt.Sprintf("%s %s: %s %s", method, path, resp.Status, strings.TrimSpace(string(msg))))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, apperrors.WrapError(err, apperrors.ErrCodeBadGateway,
				fmt.Sprintf("decode %s response", path), http.StatusBadGateway)
		}
	}
	return resp.StatusCode, nil
}
