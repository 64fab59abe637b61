package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

const tracerName = "github.com/tjfontaine/polyglot-relay/internal/pipeline"

// ProgressKind classifies a Progress value.
type ProgressKind int

const (
	ProgressThinking ProgressKind = iota
	ProgressSucceeded
	ProgressFailed
	ProgressAborted
)

func (k ProgressKind) String() string {
	switch k {
	case ProgressThinking:
		return "thinking"
	case ProgressSucceeded:
		return "succeeded"
	case ProgressFailed:
		return "failed"
	case ProgressAborted:
		return "aborted"
	default:
		return fmt.Sprintf("ProgressKind(%d)", int(k))
	}
}

// Progress is one notification from a running pipeline. Trace is always a
// copy the receiver may keep.
type Progress struct {
	Kind   ProgressKind
	Trace  []domain.StageRecord
	Result string
	Err    error
}

// Terminal reports whether p ends the run.
func (p Progress) Terminal() bool { return p.Kind != ProgressThinking }

// Observer receives timing and outcome callbacks. Implementations must be
// safe for concurrent use.
type Observer interface {
	StageFinished(pipeline, stage string, d time.Duration, err error)
	RunFinished(snap *domain.RunSnapshot)
}

// Executor runs pipelines. One Executor serves any number of concurrent runs.
type Executor struct {
	logger   *slog.Logger
	tracer   trace.Tracer
	observer Observer
	newID    func() string
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) {
		e.logger = logger
	}
}

// WithTracerProvider sets where run and stage spans are recorded.
func WithTracerProvider(tp trace.TracerProvider) ExecutorOption {
	return func(e *Executor) {
		e.tracer = tp.Tracer(tracerName)
	}
}

// WithObserver registers an Observer.
func WithObserver(o Observer) ExecutorOption {
	return func(e *Executor) {
		e.observer = o
	}
}

// WithIDGenerator overrides run ID generation.
func WithIDGenerator(fn func() string) ExecutorOption {
	return func(e *Executor) {
		e.newID = fn
	}
}

// NewExecutor creates an Executor.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{
		logger: slog.Default(),
		tracer: otel.Tracer(tracerName),
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execution is a handle on one run started by Execute.
type Execution struct {
	// ID is the run identifier.
	ID string
	// Progress delivers every notification for the run and is closed after
	// the terminal one. It is buffered for the whole run, so the executor
	// never blocks on a slow or departed receiver.
	Progress <-chan Progress

	done  chan struct{}
	final *domain.RunSnapshot
	err   error
}

// Wait blocks until the run finishes and returns its final snapshot and the
// failure cause, if any.
func (x *Execution) Wait() (*domain.RunSnapshot, error) {
	<-x.done
	return x.final, x.err
}

// Execute starts p on input and returns immediately. Cancelling ctx aborts
// the run before the next stage starts and is passed to in-flight calls.
func (e *Executor) Execute(ctx context.Context, p *Pipeline, input string) *Execution {
	// One slot per stage plus the terminal progress: sends never block, so
	// nothing is lost when ctx ends while the receiver is still reading.
	out := make(chan Progress, p.Len()+1)
	x := &Execution{
		ID:       e.newID(),
		Progress: out,
		done:     make(chan struct{}),
	}
	run := domain.NewRun(x.ID, p.Name(), input)

	go e.drive(ctx, p, run, x, out)

	return x
}

// Run executes p synchronously. The snapshot is always returned; err is the
// failure or abort cause.
func (e *Executor) Run(ctx context.Context, p *Pipeline, input string) (*domain.RunSnapshot, error) {
	x := e.Execute(ctx, p, input)
	for range x.Progress {
	}
	return x.Wait()
}

func (e *Executor) drive(ctx context.Context, p *Pipeline, run *domain.Run, x *Execution, out chan<- Progress) {
	defer close(x.done)
	defer close(out)

	ctx, span := e.tracer.Start(ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("pipeline.name", p.Name()),
		attribute.String("run.id", run.ID()),
		attribute.Int("pipeline.stages", p.Len()),
	))
	defer span.End()

	logger := e.logger.With(
		slog.String("run_id", run.ID()),
		slog.String("pipeline", p.Name()),
	)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("pipeline run panicked", slog.Any("panic", r))
			if run.Fail(fmt.Errorf("%w: %v", domain.ErrUnknownFault, r)) == nil {
				e.finish(run, x, out, logger, span)
			}
		}
	}()

	current := run.Input()
	for _, stage := range p.stages {
		if err := ctx.Err(); err != nil {
			_ = run.Abort(err)
			e.finish(run, x, out, logger, span)
			return
		}

		rec, err := e.runStage(ctx, p, stage, current)
		if err != nil {
			if ctx.Err() != nil {
				_ = run.Abort(ctx.Err())
			} else {
				_ = run.Fail(err)
			}
			e.finish(run, x, out, logger, span)
			return
		}

		_ = run.Append(rec)
		logger.Debug("stage completed",
			slog.String("stage", stage.ID),
			slog.Int("completed", run.Len()),
		)

		out <- Progress{Kind: ProgressThinking, Trace: run.Trace()}
		current = rec.Output
	}

	_ = run.Succeed(current)
	e.finish(run, x, out, logger, span)
}

func (e *Executor) runStage(ctx context.Context, p *Pipeline, stage Stage, input string) (rec domain.StageRecord, err error) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("stage.id", stage.ID),
	))

	defer func() {
		if r := recover(); r != nil {
			err = &domain.StageError{StageID: stage.ID, Err: fmt.Errorf("%w: %v", domain.ErrUnknownFault, r)}
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		if e.observer != nil {
			e.observer.StageFinished(p.Name(), stage.ID, time.Since(start), err)
		}
	}()

	text, err := stage.render(input)
	if err != nil {
		return rec, &domain.StageError{StageID: stage.ID, Err: err}
	}

	capability := stage.Resolve()
	if capability == nil {
		return rec, &domain.StageError{StageID: stage.ID, Err: errors.New("no capability available")}
	}
	span.SetAttributes(attribute.String("capability.name", capability.Name()))

	gen, err := capability.Generate(ctx, text)
	if err != nil {
		return rec, &domain.StageError{StageID: stage.ID, Err: err}
	}
	if gen == nil {
		return rec, &domain.StageError{StageID: stage.ID, Err: errors.New("capability returned no output")}
	}
	if gen.Suspended {
		return rec, &domain.SuspendedError{StageID: stage.ID, Reason: gen.SuspendReason}
	}

	return domain.StageRecord{
		StageID: stage.ID,
		Label:   stage.Label,
		Input:   input,
		Output:  gen.Text,
		Model:   provenance(gen, capability),
	}, nil
}

// finish publishes the terminal progress for a run that has already moved
// to its final state.
func (e *Executor) finish(run *domain.Run, x *Execution, out chan<- Progress, logger *slog.Logger, span trace.Span) {
	snap := run.Snapshot()
	x.final = snap
	x.err = run.Err()

	span.SetAttributes(
		attribute.String("run.status", string(snap.Status)),
		attribute.Int("run.completed_stages", len(snap.Trace)),
	)

	p := Progress{Trace: snap.Trace, Err: run.Err()}
	switch snap.Status {
	case domain.RunSucceeded:
		p.Kind = ProgressSucceeded
		p.Result = snap.Result
		logger.Info("pipeline run succeeded",
			slog.Int("stages", len(snap.Trace)),
			slog.Duration("duration", snap.Duration()),
		)
	case domain.RunAborted:
		p.Kind = ProgressAborted
		logger.Info("pipeline run aborted",
			slog.Int("completed", len(snap.Trace)),
			slog.String("reason", snap.FailureReason),
		)
	default:
		p.Kind = ProgressFailed
		span.RecordError(run.Err())
		span.SetStatus(codes.Error, snap.FailureReason)
		logger.Warn("pipeline run failed",
			slog.Int("completed", len(snap.Trace)),
			slog.String("error", snap.FailureReason),
		)
	}

	if e.observer != nil {
		e.observer.RunFinished(snap)
	}

	out <- p
}

// provenance names what produced a stage's output: the model the backend
// reported, or the capability itself.
func provenance(gen *ports.Generation, c ports.Capability) string {
	if gen.Model != "" {
		return gen.Model
	}
	return c.Name()
}
