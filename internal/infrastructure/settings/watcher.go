package settings

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"

	"camstream/internal/core/domain"
)

const defaultDebounce = 500 * time.Millisecond

// Applier takes a locally edited camera configuration.
type Applier interface {
	ApplyLocal(ctx context.Context, cfg domain.CameraConfig) error
}

// Load reads a YAML camera configuration. Keys missing from the file keep
// their default values.
func Load(path string) (domain.CameraConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.CameraConfig{}, fmt.Errorf("read settings: %w", err)
	}
	cfg := domain.DefaultCameraConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.CameraConfig{}, fmt.Errorf("parse settings: %w", err)
	}
	return cfg, nil
}

// Watcher applies a local settings file each time it is written. The parent
// directory is watched so editors that replace the file are noticed.
type Watcher struct {
	path     string
	debounce time.Duration
	applier  Applier
	logger   *zap.SugaredLogger
	fsw      *fsnotify.Watcher

	closeOnce sync.Once
	last      *domain.CameraConfig
}

func NewWatcher(path string, debounce time.Duration, applier Applier, logger *zap.SugaredLogger) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve settings path: %w", err)
	}
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("watch settings dir: %w", err)
	}

	return &Watcher{
		path:     abs,
		debounce: debounce,
		applier:  applier,
		logger:   logger,
		fsw:      fsw,
	}, nil
}

// Run handles file events until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close()
	w.logger.Infow("Watching settings file", "path", w.path, "debounce", w.debounce)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			w.logger.Infow("Settings watcher stopped")
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			w.logger.Debugw("Settings file changed", "op", event.Op.String())

			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case <-fire:
			fire = nil
			w.reload(ctx)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warnw("Settings watcher error", "error", err)
		}
	}
}

func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
	})
	return err
}

func (w *Watcher) reload(ctx context.Context) {
	cfg, err := Load(w.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return
		}
		w.logger.Warnw("Ignoring invalid settings file", "path", w.path, "error", err)
		return
	}
	if w.last != nil && *w.last == cfg {
		w.logger.Debugw("Settings unchanged")
		return
	}
	if w.last != nil {
		w.logger.Debugw("Settings diff", "diff", cmp.Diff(*w.last, cfg))
	}

	if err := w.applier.ApplyLocal(ctx, cfg); err != nil {
		w.logger.Warnw("Failed to apply local settings", "error", err)
		return
	}
	w.last = &cfg
	w.logger.Infow("Applied local settings", "config", cfg.String())
}
