// Package runtime wires configuration, capabilities, pipelines, the run
// journal and the HTTP server into a Relay and manages its lifecycle.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-relay/internal/capability"
	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
	"github.com/tjfontaine/polyglot-relay/internal/frontdoor"
	"github.com/tjfontaine/polyglot-relay/internal/frontdoor/workflow"
	"github.com/tjfontaine/polyglot-relay/internal/pipeline"
	"github.com/tjfontaine/polyglot-relay/internal/server"
	"github.com/tjfontaine/polyglot-relay/internal/storage"
	"github.com/tjfontaine/polyglot-relay/internal/stream"
	"github.com/tjfontaine/polyglot-relay/internal/telemetry"
	"github.com/tjfontaine/polyglot-relay/internal/tokens"
)

const serviceName = "polyglot-relay"

// ErrPipelineNotFound is returned by Stream for unknown pipeline names.
var ErrPipelineNotFound = errors.New("pipeline not found")

// Relay is the main entry point for running pipelines. It can serve them
// over HTTP or drive them directly through Stream.
type Relay struct {
	// Dependencies (injected via options)
	config       ports.ConfigProvider
	journal      ports.RunJournal
	capabilities *capability.Registry
	tracer       trace.TracerProvider
	traceOut     io.Writer
	logger       *slog.Logger

	// Built by Load
	cfg            *config.Config
	catalog        atomic.Pointer[pipeline.Catalog]
	counter        *tokens.Registry
	metrics        *telemetry.Metrics
	executor       *pipeline.Executor
	recorder       *storage.Recorder
	ownsJournal    bool
	tracerShutdown telemetry.ShutdownFunc

	server *server.Server
	served chan error

	ctx    context.Context
	cancel context.CancelFunc
	mu     sync.Mutex
}

// New creates a Relay. A config provider is required.
func New(opts ...Option) (*Relay, error) {
	r := &Relay{
		logger:  slog.Default(),
		counter: tokens.NewRegistry(),
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	if r.config == nil {
		return nil, fmt.Errorf("config provider required (use WithFileConfig or WithConfig)")
	}
	if r.capabilities == nil {
		r.capabilities = capability.NewRegistry()
	}

	return r, nil
}

// Load reads the configuration and builds the catalog, journal, metrics and
// executor. Start calls it when needed.
func (r *Relay) Load(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.loadLocked(ctx)
}

func (r *Relay) loadLocked(ctx context.Context) error {
	if r.cfg != nil {
		return nil
	}

	cfg, err := r.config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	catalog, err := r.buildCatalog(cfg)
	if err != nil {
		return fmt.Errorf("build pipelines: %w", err)
	}

	if r.journal == nil {
		journal, err := storage.Open(cfg.Journal)
		if err != nil {
			return fmt.Errorf("open run journal: %w", err)
		}
		r.journal = journal
		r.ownsJournal = true
	}

	if r.tracer == nil && cfg.Telemetry.Tracing {
		tp, shutdown, err := telemetry.InitTracer(serviceName, r.traceOut, r.logger)
		if err != nil {
			return fmt.Errorf("init tracing: %w", err)
		}
		r.tracer = tp
		r.tracerShutdown = shutdown
	}

	execOpts := []pipeline.ExecutorOption{pipeline.WithLogger(r.logger)}
	if r.tracer != nil {
		execOpts = append(execOpts, pipeline.WithTracerProvider(r.tracer))
	}
	if cfg.Telemetry.Metrics {
		r.metrics = telemetry.NewMetrics(r.counter)
		execOpts = append(execOpts, pipeline.WithObserver(r.metrics))
	}

	r.executor = pipeline.NewExecutor(execOpts...)
	r.recorder = storage.NewRecorder(r.journal, r.counter, r.logger)
	r.catalog.Store(catalog)
	r.cfg = cfg

	r.logger.Info("relay loaded",
		slog.Int("providers", len(cfg.Providers)),
		slog.Any("pipelines", catalog.Names()),
		slog.String("journal", cfg.Journal.Type))

	return nil
}

func (r *Relay) buildCatalog(cfg *config.Config) (*pipeline.Catalog, error) {
	set, err := r.capabilities.CreateAll(cfg.Providers)
	if err != nil {
		return nil, err
	}
	return pipeline.CatalogFromConfig(cfg, set.Resolver)
}

// Start loads the configuration, starts serving HTTP in the background and
// watches for configuration changes.
func (r *Relay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.loadLocked(r.ctx); err != nil {
		return err
	}

	r.server = r.newServer()
	r.served = make(chan error, 1)
	go func() {
		r.served <- r.server.Start()
	}()

	go r.watchConfig()

	r.logger.Info("relay started", slog.Int("port", r.cfg.Server.Port))
	return nil
}

// Done reports the server's exit. It yields nil after a clean shutdown.
func (r *Relay) Done() <-chan error {
	return r.served
}

// Shutdown gracefully stops the relay.
func (r *Relay) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.logger.Info("shutting down relay")

	if r.cancel != nil {
		r.cancel()
	}

	var errs []error
	if r.server != nil {
		if err := r.server.Shutdown(ctx); err != nil {
			r.logger.Error("failed to shutdown server", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if r.journal != nil && r.ownsJournal {
		if err := r.journal.Close(); err != nil {
			r.logger.Error("failed to close run journal", slog.String("error", err.Error()))
		}
	}

	if r.tracerShutdown != nil {
		if err := r.tracerShutdown(ctx); err != nil {
			r.logger.Error("failed to flush traces", slog.String("error", err.Error()))
		}
	}

	if err := r.config.Close(); err != nil {
		r.logger.Error("failed to close config", slog.String("error", err.Error()))
	}

	r.logger.Info("relay shutdown complete")
	return errors.Join(errs...)
}

func (r *Relay) watchConfig() {
	onChange := func(cfg *config.Config) {
		r.logger.Info("config changed, reloading")
		if err := r.Reload(cfg); err != nil {
			r.logger.Error("failed to reload", slog.String("error", err.Error()))
		}
	}

	if err := r.config.Watch(r.ctx, onChange); err != nil && !errors.Is(err, context.Canceled) {
		r.logger.Error("config watch failed", slog.String("error", err.Error()))
	}
}

// Reload swaps in the pipelines described by cfg. Runs already in progress
// finish on the pipeline they started with. Server, stream and journal
// settings only take effect on restart.
func (r *Relay) Reload(cfg *config.Config) error {
	catalog, err := r.buildCatalog(cfg)
	if err != nil {
		return fmt.Errorf("rebuild pipelines: %w", err)
	}
	r.catalog.Store(catalog)

	r.logger.Info("reload complete", slog.Any("pipelines", catalog.Names()))
	return nil
}

// Catalog returns the current pipeline catalog, or nil before Load.
func (r *Relay) Catalog() *pipeline.Catalog {
	return r.catalog.Load()
}

// Journal returns the run journal, or nil when journaling is disabled.
func (r *Relay) Journal() ports.RunJournal {
	return r.journal
}

// Metrics returns the relay's metrics, or nil when disabled.
func (r *Relay) Metrics() *telemetry.Metrics {
	return r.metrics
}

// Handler returns the relay's HTTP routes. Load must have succeeded.
func (r *Relay) Handler() http.Handler {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.newServer().Router
}

func (r *Relay) newServer() *server.Server {
	srv := server.New(server.Options{
		Port:           r.cfg.Server.Port,
		RequestTimeout: r.cfg.Server.RequestTimeout,
		ServiceName:    serviceName,
	}, r.logger)

	opts := []workflow.Option{
		workflow.WithStreamConfig(r.cfg.Stream),
		workflow.WithLogger(r.logger),
	}
	if r.metrics != nil {
		opts = append(opts, workflow.WithStreamObserver(r.metrics))
		srv.Router.Method(http.MethodGet, "/metrics", r.metrics.Handler())
	}

	h := workflow.NewHandler(workflow.CatalogFunc(r.Catalog), r.executor, r.recorder, opts...)
	frontdoor.Mount(srv.Router, h.Registrations())

	return srv
}

// Stream runs the named pipeline on input and writes its NDJSON progress
// stream to w. The snapshot is returned whenever the run started.
func (r *Relay) Stream(ctx context.Context, name, input string, w io.Writer) (*domain.RunSnapshot, error) {
	catalog := r.Catalog()
	if catalog == nil {
		return nil, fmt.Errorf("relay not loaded")
	}
	p, ok := catalog.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPipelineNotFound, name)
	}

	x := r.executor.Execute(ctx, p, input)
	emitter := stream.NewEmitter(stream.NewLineWriter(w),
		stream.WithChunkSize(r.cfg.Stream.ChunkSize),
		stream.WithChunkInterval(r.cfg.Stream.ChunkInterval),
		stream.WithLogger(r.logger.With(slog.String("run_id", x.ID))),
	)

	driveErr := emitter.Drive(ctx, x.Progress)
	for range x.Progress {
	}

	snap, runErr := x.Wait()
	r.recorder.Record(ctx, snap, "")

	outcome := telemetry.StreamAnswered
	switch {
	case emitter.Err() != nil:
		outcome = telemetry.StreamTransportFault
		runErr = errors.Join(runErr, emitter.Err())
	case !emitter.Answered():
		outcome = telemetry.StreamFailed
	case driveErr != nil:
		runErr = driveErr
	}
	if r.metrics != nil {
		r.metrics.StreamFinished(p.Name(), outcome)
	}

	return snap, runErr
}
