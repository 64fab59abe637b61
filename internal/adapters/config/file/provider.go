// Package file provides file-based configuration with hot-reload.
package file

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

const defaultDebounce = 100 * time.Millisecond

// Provider implements ports.ConfigProvider using file-based configuration.
// It watches the config file's directory so that editors which replace the
// file on save still trigger a reload.
type Provider struct {
	path     string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.RWMutex
	watcher *fsnotify.Watcher
	current *config.Config
}

var _ ports.ConfigProvider = (*Provider)(nil)

// Option configures a Provider.
type Option func(*Provider)

// WithLogger sets the provider's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Provider) {
		p.logger = logger
	}
}

// WithDebounce coalesces bursts of file events into one reload.
func WithDebounce(d time.Duration) Option {
	return func(p *Provider) {
		p.debounce = d
	}
}

// NewProvider creates a new file-based config provider.
func NewProvider(path string, opts ...Option) (*Provider, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}

	p := &Provider{
		path:     filepath.Clean(path),
		debounce: defaultDebounce,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Load loads the configuration from the file. A missing file yields the
// defaults plus environment overrides.
func (p *Provider) Load(ctx context.Context) (*config.Config, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cfg, err := config.Load(p.path)
	if err != nil {
		return nil, fmt.Errorf("load config from %s: %w", p.path, err)
	}

	p.current = cfg
	p.logger.Info("config loaded", slog.String("path", p.path), slog.Int("pipelines", len(cfg.Pipelines)))

	return cfg, nil
}

// Current returns the last successfully loaded configuration.
func (p *Provider) Current() *config.Config {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.current
}

// Watch calls onChange with each successfully reloaded configuration until
// ctx is done. Invalid configurations are logged and skipped.
func (p *Provider) Watch(ctx context.Context, onChange func(*config.Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}

	dir := filepath.Dir(p.path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	p.mu.Lock()
	p.watcher = watcher
	p.mu.Unlock()

	p.logger.Info("watching config file for changes", slog.String("path", p.path))

	go p.loop(ctx, watcher, onChange)
	return nil
}

func (p *Provider) loop(ctx context.Context, watcher *fsnotify.Watcher, onChange func(*config.Config)) {
	defer watcher.Close()

	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("config watch stopped")
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != p.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(p.debounce)
			} else {
				timer.Reset(p.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			p.logger.Info("config file changed, reloading", slog.String("path", p.path))

			cfg, err := config.Load(p.path)
			if err != nil {
				p.logger.Error("failed to reload config",
					slog.String("error", err.Error()),
					slog.String("path", p.path))
				continue
			}

			p.mu.Lock()
			p.current = cfg
			p.mu.Unlock()

			onChange(cfg)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			p.logger.Error("config watch error", slog.String("error", err.Error()))
		}
	}
}

// Close stops watching the config file.
func (p *Provider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.watcher != nil {
		err := p.watcher.Close()
		p.watcher = nil
		return err
	}

	return nil
}

// Static serves a fixed configuration and never reloads.
type Static struct {
	cfg *config.Config
}

var _ ports.ConfigProvider = (*Static)(nil)

// NewStatic wraps cfg as a ConfigProvider.
func NewStatic(cfg *config.Config) *Static {
	return &Static{cfg: cfg}
}

func (s *Static) Load(context.Context) (*config.Config, error) {
	if s.cfg == nil {
		return nil, fmt.Errorf("no configuration provided")
	}
	return s.cfg, nil
}

func (s *Static) Watch(context.Context, func(*config.Config)) error { return nil }

func (s *Static) Close() error { return nil }
