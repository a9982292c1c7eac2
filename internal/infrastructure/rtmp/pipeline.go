package rtmp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"sync"
	"time"

	"github.com/yapingcat/gomedia/go-codec"
	"github.com/yapingcat/gomedia/go-rtmp"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

const defaultPort = "1935"

type Config struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// PipelineFactory builds RTMP publish pipelines fed by one video source.
type PipelineFactory struct {
	cfg    Config
	source ports.VideoSource
	logger *zap.SugaredLogger
}

func NewPipelineFactory(cfg Config, source ports.VideoSource, logger *zap.SugaredLogger) *PipelineFactory {
	return &PipelineFactory{cfg: cfg, source: source, logger: logger}
}

var _ ports.PipelineFactory = (*PipelineFactory)(nil)

func (f *PipelineFactory) NewPipeline(settings domain.EncoderSettings, events ports.PipelineEvents) (ports.Pipeline, error) {
	if events == nil {
		return nil, errors.New("pipeline events are required")
	}
	return &Pipeline{
		cfg:      f.cfg,
		settings: settings,
		source:   f.source,
		events:   events,
		logger:   f.logger,
		done:     make(chan struct{}),
	}, nil
}

// Pipeline is one RTMP publish connection. All events are delivered from its
// own goroutines; after Close no further events are sent.
type Pipeline struct {
	cfg      Config
	settings domain.EncoderSettings
	source   ports.VideoSource
	events   ports.PipelineEvents
	logger   *zap.SugaredLogger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	conn    net.Conn
	started bool
	closed  bool
	done    chan struct{}

	// cliMu serializes every call into the RTMP client, which is not safe
	// for concurrent use.
	cliMu sync.Mutex
}

// Start validates url and connects in the background. Connection failures
// arrive as status events.
func (p *Pipeline) Start(rawURL string) error {
	addr, err := dialAddress(rawURL)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("pipeline closed")
	}
	if p.started {
		return errors.New("pipeline already started")
	}
	p.started = true
	p.ctx, p.cancel = context.WithCancel(context.Background())

	go p.run(p.ctx, rawURL, addr)
	return nil
}

// Close stops the pipeline without waiting for its goroutines.
func (p *Pipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return errors.New("pipeline already closed")
	}
	p.closed = true
	if p.cancel != nil {
		p.cancel()
	}
	if !p.started {
		close(p.done)
	}
	if p.conn != nil {
		if err := p.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			return err
		}
	}
	return nil
}

// Done is closed once every goroutine of the pipeline has returned.
func (p *Pipeline) Done() <-chan struct{} {
	return p.done
}

func (p *Pipeline) run(ctx context.Context, rawURL, addr string) {
	defer close(p.done)

	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		p.logger.Warnw("RTMP dial failed", "addr", addr, "error", err)
		p.status(ctx, domain.StatusConnectFailed)
		return
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		conn.Close()
		return
	}
	p.conn = conn
	p.mu.Unlock()

	// published is closed only once the server accepted the publish. A
	// connection that ends before that never opens the camera.
	published := make(chan struct{})
	var publishedOnce sync.Once
	pumpCtx, stopPump := context.WithCancel(ctx)
	defer stopPump()

	cli := rtmp.NewRtmpClient(
		rtmp.WithComplexHandshake(),
		rtmp.WithComplexHandshakeSchema(rtmp.HANDSHAKE_COMPLEX_SCHEMA1),
		rtmp.WithEnablePublish(),
	)
	cli.OnStateChange(func(state rtmp.RtmpState) {
		if state == rtmp.STATE_RTMP_PUBLISH_START {
			publishedOnce.Do(func() { close(published) })
			p.status(ctx, domain.StatusConnectSuccess)
		}
	})
	cli.OnStatus(func(code, level, describe string) {
		p.logger.Debugw("RTMP status", "code", code, "level", level, "describe", describe)
		if level == "error" {
			p.status(ctx, domain.StatusConnectRejected)
			conn.Close()
			return
		}
		p.status(ctx, code)
	})
	cli.SetOutput(func(b []byte) error {
		if p.cfg.WriteTimeout > 0 {
			conn.SetWriteDeadline(time.Now().Add(p.cfg.WriteTimeout))
		}
		_, err := conn.Write(b)
		return err
	})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-pumpCtx.Done():
			return
		case <-published:
		}
		p.pump(pumpCtx, cli, conn)
	}()

	p.cliMu.Lock()
	cli.Start(rawURL)
	p.cliMu.Unlock()

	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		p.cliMu.Lock()
		err = cli.Input(buf[:n])
		p.cliMu.Unlock()
		if err != nil {
			p.logger.Warnw("RTMP input failed", "error", err)
			break
		}
	}
	conn.Close()
	stopPump()
	wg.Wait()

	p.status(ctx, domain.StatusConnectClosed)
}

// pump opens the camera and writes its frames until the connection or the
// camera ends. ctx is cancelled as soon as the read loop stops.
func (p *Pipeline) pump(ctx context.Context, cli *rtmp.RtmpClient, conn net.Conn) {
	if ctx.Err() != nil {
		return
	}

	camera, err := p.source.Open(p.settings)
	if err != nil {
		if ctx.Err() == nil {
			p.events.OnCameraError(err)
		}
		return
	}
	if ctx.Err() != nil {
		return
	}
	p.events.OnCaptureSessionReady(camera)

	err = camera.Run(ctx, func(frame []byte, pts time.Duration) error {
		ms := uint32(pts.Milliseconds())
		p.cliMu.Lock()
		defer p.cliMu.Unlock()
		return cli.WriteVideo(codec.CODECID_VIDEO_H264, frame, ms, ms)
	})
	switch {
	case err == nil:
		p.logger.Infow("Capture source ended")
		if ctx.Err() == nil {
			p.events.OnCameraError(errors.New("capture source ended"))
		}
	case ctx.Err() != nil:
	default:
		p.logger.Warnw("Publishing frames failed", "error", err)
		conn.Close()
	}
}

// status forwards code unless the pipeline was closed.
func (p *Pipeline) status(ctx context.Context, code string) {
	if ctx.Err() != nil {
		return
	}
	p.events.OnStatus(code)
}

// dialAddress returns host:port of an rtmp:// URL.
func dialAddress(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse rtmp url: %w", err)
	}
	if u.Scheme != "rtmp" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return "", fmt.Errorf("rtmp url %q has no host", rawURL)
	}

	port := u.Port()
	if port == "" {
		port = defaultPort
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
