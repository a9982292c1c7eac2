package services

import (
	"errors"
	"sync"

	"camstream/internal/core/domain"
	"camstream/internal/core/ports"
)

// fakeCapture is a capture session that accepts every request.
type fakeCapture struct{}

func (fakeCapture) Characteristics() domain.CameraCharacteristics { return domain.CameraCharacteristics{} }
func (fakeCapture) Submit(domain.CaptureRequest) error           { return nil }

type applyCall struct {
	cfg             domain.CameraConfig
	exposureChanged bool
}

// recordingControl remembers every Apply made through any controller it
// built, and which capture session each controller belongs to.
type recordingControl struct {
	mu    sync.Mutex
	calls []applyCall
	built int
}

func (r *recordingControl) factory() ports.CameraControlFactory {
	return func(ports.CaptureSession) ports.CameraControl {
		r.mu.Lock()
		r.built++
		r.mu.Unlock()
		return r
	}
}

func (r *recordingControl) Apply(cfg domain.CameraConfig, exposureChanged bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, applyCall{cfg: cfg, exposureChanged: exposureChanged})
	return nil
}

func (r *recordingControl) Calls() []applyCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]applyCall(nil), r.calls...)
}

func (r *recordingControl) Built() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.built
}

type fakePipeline struct {
	factory  *fakeFactory
	settings domain.EncoderSettings
	events   ports.PipelineEvents

	mu     sync.Mutex
	url    string
	closed bool
	wg     sync.WaitGroup
}

func (p *fakePipeline) Start(url string) error {
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()

	if p.factory.startErr != nil {
		return p.factory.startErr
	}
	if p.factory.autoConnect {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.events.OnCaptureSessionReady(fakeCapture{})
			p.events.OnStatus(domain.StatusConnectSuccess)
		}()
	}
	return nil
}

func (p *fakePipeline) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return errors.New("already closed")
	}
	p.closed = true
	return nil
}

func (p *fakePipeline) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePipeline) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// fakeFactory records every pipeline it builds. With autoConnect set, each
// pipeline reports an open camera and a successful connect right after Start.
type fakeFactory struct {
	autoConnect bool
	startErr    error

	mu        sync.Mutex
	pipelines []*fakePipeline
}

func (f *fakeFactory) NewPipeline(settings domain.EncoderSettings, events ports.PipelineEvents) (ports.Pipeline, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &fakePipeline{factory: f, settings: settings, events: events}
	f.pipelines = append(f.pipelines, p)
	return p, nil
}

func (f *fakeFactory) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pipelines)
}

func (f *fakeFactory) Pipeline(i int) *fakePipeline {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pipelines[i]
}

// Wait blocks until the event goroutines of every pipeline have returned.
func (f *fakeFactory) Wait() {
	f.mu.Lock()
	pipelines := append([]*fakePipeline(nil), f.pipelines...)
	f.mu.Unlock()
	for _, p := range pipelines {
		p.wg.Wait()
	}
}

type publishingListener struct {
	mu     sync.Mutex
	events []bool
}

func (l *publishingListener) OnPublishingChanged(publishing bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, publishing)
}

func (l *publishingListener) Events() []bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]bool(nil), l.events...)
}
