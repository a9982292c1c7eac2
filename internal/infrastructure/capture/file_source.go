package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/yapingcat/gomedia/go-codec"
	"go.uber.org/zap"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

var ErrNoFrames = errors.New("capture source has no video frames")

var startCode = []byte{0x00, 0x00, 0x00, 0x01}

type Config struct {
	Path            string
	Loop            bool
	Characteristics domain.CameraCharacteristics
}

// FileSource plays an Annex-B H.264 file as a camera. Every Open re-reads the
// file, so replacing it takes effect on the next pipeline.
type FileSource struct {
	cfg    Config
	logger *zap.SugaredLogger
}

func NewFileSource(cfg Config, logger *zap.SugaredLogger) *FileSource {
	return &FileSource{cfg: cfg, logger: logger}
}

var _ ports.VideoSource = (*FileSource)(nil)

func (s *FileSource) Open(settings domain.EncoderSettings) (ports.VideoCamera, error) {
	data, err := os.ReadFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open capture source: %w", err)
	}

	frames := SplitAccessUnits(data)
	if len(frames) == 0 {
		return nil, ErrNoFrames
	}

	s.logger.Debugw("Capture source opened",
		"path", s.cfg.Path,
		"frames", len(frames),
		"fps", settings.FPS,
	)
	return NewVirtualCamera(frames, settings.FPS, s.cfg.Loop, s.cfg.Characteristics), nil
}

// SplitAccessUnits groups the NAL units of an Annex-B stream into access
// units, each closed by a coded slice. Every NAL unit is re-emitted with a
// four byte start code. Trailing non-slice units are dropped.
func SplitAccessUnits(data []byte) [][]byte {
	var (
		frames  [][]byte
		current bytes.Buffer
	)

	codec.SplitFrameWithStartCode(data, func(nalu []byte) bool {
		payload := trimStartCode(nalu)
		if len(payload) == 0 {
			return true
		}
		start := current.Len()
		current.Write(startCode)
		current.Write(payload)

		switch codec.H264NaluType(current.Bytes()[start:]) {
		case codec.H264_NAL_P_SLICE, codec.H264_NAL_I_SLICE:
			frames = append(frames, bytes.Clone(current.Bytes()))
			current.Reset()
		}
		return true
	})
	return frames
}

func trimStartCode(nalu []byte) []byte {
	switch {
	case bytes.HasPrefix(nalu, startCode):
		return nalu[4:]
	case bytes.HasPrefix(nalu, startCode[1:]):
		return nalu[3:]
	}
	return nalu
}

// VirtualCamera replays a fixed list of access units at a constant rate and
// records every capture request submitted to it.
type VirtualCamera struct {
	frames          [][]byte
	fps             int
	loop            bool
	characteristics domain.CameraCharacteristics

	mu       sync.Mutex
	requests []domain.CaptureRequest
}

func NewVirtualCamera(frames [][]byte, fps int, loop bool, ch domain.CameraCharacteristics) *VirtualCamera {
	if fps <= 0 {
		fps = domain.MinEncoderFPS
	}
	return &VirtualCamera{
		frames:          frames,
		fps:             fps,
		loop:            loop,
		characteristics: ch,
	}
}

func (c *VirtualCamera) Characteristics() domain.CameraCharacteristics {
	return c.characteristics
}

func (c *VirtualCamera) Submit(req domain.CaptureRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	return nil
}

// Requests returns every submitted request in order.
func (c *VirtualCamera) Requests() []domain.CaptureRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.CaptureRequest(nil), c.requests...)
}

func (c *VirtualCamera) Run(ctx context.Context, emit func(frame []byte, pts time.Duration) error) error {
	interval := time.Second / time.Duration(c.fps)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for n := 0; ; n++ {
		i := n % len(c.frames)
		if n > 0 && i == 0 && !c.loop {
			return nil
		}
		if err := emit(c.frames[i], time.Duration(n)*interval); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
