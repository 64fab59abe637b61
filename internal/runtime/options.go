package runtime

import (
	"fmt"
	"io"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-relay/internal/adapters/config/file"
	"github.com/tjfontaine/polyglot-relay/internal/capability"
	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// Option is a functional option for configuring a Relay.
type Option func(*Relay) error

// WithFileConfig uses file-based configuration with hot-reload (default).
// The path should point to a config.yaml file that will be watched for changes.
func WithFileConfig(path string) Option {
	return func(r *Relay) error {
		provider, err := file.NewProvider(path, file.WithLogger(r.logger))
		if err != nil {
			return fmt.Errorf("create file config provider: %w", err)
		}
		r.config = provider
		return nil
	}
}

// WithConfig uses a fixed configuration that is never reloaded.
func WithConfig(cfg *config.Config) Option {
	return func(r *Relay) error {
		if cfg == nil {
			return fmt.Errorf("config cannot be nil")
		}
		r.config = file.NewStatic(cfg)
		return nil
	}
}

// WithConfigProvider uses a custom config provider.
func WithConfigProvider(provider ports.ConfigProvider) Option {
	return func(r *Relay) error {
		r.config = provider
		return nil
	}
}

// WithJournal overrides the journal configured under journal.type. The
// caller keeps ownership and closes it.
func WithJournal(journal ports.RunJournal) Option {
	return func(r *Relay) error {
		r.journal = journal
		return nil
	}
}

// WithCapabilityRegistry sets the registry used to build providers, e.g.
// one with extra factories registered.
func WithCapabilityRegistry(reg *capability.Registry) Option {
	return func(r *Relay) error {
		r.capabilities = reg
		return nil
	}
}

// WithTracerProvider records run spans on tp instead of the one enabled by
// telemetry.tracing.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Relay) error {
		r.tracer = tp
		return nil
	}
}

// WithTraceWriter sets where spans are exported when telemetry.tracing is
// enabled. The default is stderr.
func WithTraceWriter(w io.Writer) Option {
	return func(r *Relay) error {
		r.traceOut = w
		return nil
	}
}

// WithLogger sets the logger for the relay. Place it before WithFileConfig
// so the config provider shares it.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) error {
		r.logger = logger
		return nil
	}
}
