package file

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tjfontaine/polyglot-relay/internal/config"
)

const pipelineYAML = `
providers:
  - name: up
    type: builtin
    op: upper
pipelines:
  - name: %s
    stages:
      - id: upper
        providers: [up]
`

func writeConfig(t *testing.T, path, pipeline string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(fmt.Sprintf(pipelineYAML, pipeline)), 0o600); err != nil {
		t.Fatal(err)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewProvider_RequiresPath(t *testing.T) {
	if _, err := NewProvider(""); err == nil {
		t.Error("expected an error for an empty path")
	}
}

func TestProvider_Load(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "first")

	p, err := NewProvider(path, WithLogger(quietLogger()))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := p.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if _, ok := cfg.Pipeline("first"); !ok {
		t.Errorf("pipelines = %+v", cfg.Pipelines)
	}
	if p.Current() != cfg {
		t.Error("Current() should return the loaded config")
	}
}

func TestProvider_Watch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "first")

	p, err := NewProvider(path, WithLogger(quietLogger()), WithDebounce(10*time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer p.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(cfg *config.Config) { changes <- cfg }); err != nil {
		t.Fatalf("Watch() error = %v", err)
	}

	writeConfig(t, path, "second")

	select {
	case cfg := <-changes:
		if _, ok := cfg.Pipeline("second"); !ok {
			t.Errorf("reloaded pipelines = %+v", cfg.Pipelines)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no reload after the file changed")
	}
}

func TestProvider_WatchSkipsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	writeConfig(t, path, "first")

	p, _ := NewProvider(path, WithLogger(quietLogger()), WithDebounce(10*time.Millisecond))
	defer p.Close()
	if _, err := p.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *config.Config, 4)
	if err := p.Watch(ctx, func(cfg *config.Config) { changes <- cfg }); err != nil {
		t.Fatal(err)
	}

	bad := "pipelines:\n  - name: broken\n    stages:\n      - id: x\n        providers: [missing]\n"
	if err := os.WriteFile(path, []byte(bad), 0o600); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-changes:
		t.Fatalf("invalid config should not be applied: %+v", cfg.Pipelines)
	case <-time.After(300 * time.Millisecond):
	}
	if _, ok := p.Current().Pipeline("first"); !ok {
		t.Error("Current() should keep the last good config")
	}
}

func TestStatic(t *testing.T) {
	cfg := config.Demo()
	s := NewStatic(cfg)

	got, err := s.Load(context.Background())
	if err != nil || got != cfg {
		t.Fatalf("Load() = %v, %v", got, err)
	}
	if _, err := NewStatic(nil).Load(context.Background()); err == nil {
		t.Error("nil config should fail to load")
	}
}
