package control

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// TokenSource returns the bearer token sent with every dial.
type TokenSource func(ctx context.Context) (string, error)

type Config struct {
	URL              string
	ReconnectDelay   time.Duration
	RetryOnError     bool
	HandshakeTimeout time.Duration
	PongTimeout      time.Duration // 0 disables the read deadline
}

// WebSocketClient is the server push channel. It keeps one connection open,
// reconnecting after ReconnectDelay when the server closes it, and hands
// every text message to the registered listener.
//
// Listener callbacks run on the client's goroutines. Close must not be called
// from inside a callback.
type WebSocketClient struct {
	cfg     Config
	tokens  TokenSource
	metrics ports.MetricsRecorder
	logger  *zap.SugaredLogger

	mu         sync.Mutex
	listener   ports.ControlListener
	state      domain.ControlState
	conn       *websocket.Conn
	cancelDial context.CancelFunc
	reconnect  *time.Timer
	active     bool
	closed     bool
	wg         sync.WaitGroup
}

func NewWebSocketClient(cfg Config, tokens TokenSource, metrics ports.MetricsRecorder, logger *zap.SugaredLogger) *WebSocketClient {
	return &WebSocketClient{
		cfg:     cfg,
		tokens:  tokens,
		metrics: metrics,
		logger:  logger,
		state:   domain.ControlConnecting,
	}
}

var _ ports.ControlChannel = (*WebSocketClient)(nil)

// Initialize registers listener and starts connecting in the background. A
// connection that is already up or being retried is kept.
func (c *WebSocketClient) Initialize(listener ports.ControlListener) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.listener = listener
	if c.closed || c.active {
		return
	}
	c.active = true
	c.wg.Add(1)
	go c.connect()
}

func (c *WebSocketClient) State() domain.ControlState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Unregister detaches the listener. The connection stays up and its events
// are dropped until the next Initialize.
func (c *WebSocketClient) Unregister() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listener = nil
}

// Close stops reconnecting and closes the socket. Later calls return nil.
func (c *WebSocketClient) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.state = domain.ControlConnecting
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	conn, cancel := c.conn, c.cancelDial
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	var err error
	if conn != nil {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		if cerr := conn.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	c.wg.Wait()

	c.logger.Infow("Control channel closed")
	return err
}

func (c *WebSocketClient) connect() {
	defer c.wg.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.cancelDial = cancel
	c.mu.Unlock()

	target, err := c.dialURL(ctx)
	if err != nil {
		c.handleError(err)
		return
	}

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.cfg.HandshakeTimeout,
	}
	conn, resp, err := dialer.DialContext(ctx, target, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.handleError(fmt.Errorf("dial control channel: %w", err))
		return
	}

	c.mu.Lock()
	c.cancelDial = nil
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.state = domain.ControlConnected
	listener := c.listener
	c.mu.Unlock()

	c.logger.Infow("Control channel connected", "url", c.cfg.URL)
	if listener != nil {
		listener.OnConnectionStateChanged(domain.ControlConnected)
	}

	c.readLoop(conn)
}

func (c *WebSocketClient) readLoop(conn *websocket.Conn) {
	c.extendDeadline(conn)
	conn.SetPingHandler(func(data string) error {
		c.extendDeadline(conn)
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		c.extendDeadline(conn)
		return nil
	})

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			conn.Close()
			c.handleDisconnect(err)
			return
		}
		c.extendDeadline(conn)

		if kind != websocket.TextMessage {
			continue
		}
		c.mu.Lock()
		listener := c.listener
		c.mu.Unlock()
		if listener != nil {
			listener.OnMessage(string(data))
		}
	}
}

func (c *WebSocketClient) extendDeadline(conn *websocket.Conn) {
	if c.cfg.PongTimeout > 0 {
		conn.SetReadDeadline(time.Now().Add(c.cfg.PongTimeout))
	}
}

// handleDisconnect runs when an established connection ends. A close frame
// from the server always reconnects; anything else is an error.
func (c *WebSocketClient) handleDisconnect(err error) {
	var closeErr *websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code != websocket.CloseAbnormalClosure {
		c.logger.Infow("Control channel closed by server", "code", closeErr.Code, "reason", closeErr.Text)
		c.transition(true)
		return
	}
	c.logger.Warnw("Control channel read failed", "error", err)
	c.transition(c.cfg.RetryOnError)
}

func (c *WebSocketClient) handleError(err error) {
	c.logger.Warnw("Control channel error", "error", err)
	c.transition(c.cfg.RetryOnError)
}

// transition moves back to Connecting and, when retry is set, schedules the
// single pending reconnect.
func (c *WebSocketClient) transition(retry bool) {
	c.mu.Lock()
	c.conn = nil
	c.cancelDial = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.state = domain.ControlConnecting
	listener := c.listener

	if !retry {
		c.active = false
	} else if c.reconnect == nil {
		c.reconnect = time.AfterFunc(c.cfg.ReconnectDelay, c.reconnectNow)
	}
	c.mu.Unlock()

	if listener != nil {
		listener.OnConnectionStateChanged(domain.ControlConnecting)
	}
}

func (c *WebSocketClient) reconnectNow() {
	c.mu.Lock()
	c.reconnect = nil
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.wg.Add(1)
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.RecordControlReconnect()
	}
	c.logger.Debugw("Reconnecting control channel")
	c.connect()
}

func (c *WebSocketClient) dialURL(ctx context.Context) (string, error) {
	u, err := url.Parse(c.cfg.URL)
	if err != nil {
		return "", fmt.Errorf("parse control url: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", fmt.Errorf("control url must use ws or wss, got %q", u.Scheme)
	}

	if c.tokens != nil {
		token, err := c.tokens(ctx)
		if err != nil {
			return "", fmt.Errorf("control channel token: %w", err)
		}
		q := u.Query()
		q.Set("token", token)
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
