package stream

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/pipeline"
)

// ErrIncompleteRun is reported when the progress channel closes without a
// terminal notification.
var ErrIncompleteRun = errors.New("pipeline progress ended without a result")

// ErrAnswerInterrupted is streamed when the context ends while answer chunks
// are still being paced.
var ErrAnswerInterrupted = errors.New("answer delivery interrupted")

// Emitter phases. A stream only moves forward:
//
//	phaseStreaming -> phaseConcluded -> phaseDone
//	phaseStreaming -> phaseDone
//
// thinking events are written only while streaming, answer chunks only while
// concluded by Answer, and nothing after done. An interrupted answer is
// closed with an error event before done. The outcome (answer or error)
// belongs to whoever moves the stream into phaseConcluded, the done event to
// whoever moves it into phaseDone.
type phase uint8

const (
	phaseStreaming phase = iota
	phaseConcluded
	phaseDone
)

// Emitter writes one run's events to a Sink. Drive is meant to be called
// once; Finish may be called from any goroutine.
type Emitter struct {
	sink      Sink
	chunkSize int
	interval  time.Duration
	logger    *slog.Logger

	mu       sync.Mutex
	phase    phase
	answered bool
	thinking bool
	writeErr error
}

// EmitterOption configures an Emitter.
type EmitterOption func(*Emitter)

// WithChunkSize sets the answer slice length in characters.
func WithChunkSize(n int) EmitterOption {
	return func(e *Emitter) {
		if n > 0 {
			e.chunkSize = n
		}
	}
}

// WithChunkInterval sets the pause between answer events.
func WithChunkInterval(d time.Duration) EmitterOption {
	return func(e *Emitter) {
		if d >= 0 {
			e.interval = d
		}
	}
}

// WithLogger sets the logger used for transport faults.
func WithLogger(logger *slog.Logger) EmitterOption {
	return func(e *Emitter) {
		e.logger = logger
	}
}

// NewEmitter creates an Emitter writing to sink.
func NewEmitter(sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sink:      sink,
		chunkSize: DefaultChunkSize,
		interval:  DefaultChunkInterval,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Drive consumes progress until the run ends and always emits exactly one
// done event before returning. It returns the first transport fault, or the
// context error if answer pacing was interrupted.
func (e *Emitter) Drive(ctx context.Context, progress <-chan pipeline.Progress) error {
	defer e.Finish()
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("stream emitter panicked", slog.Any("panic", r))
			e.Fail(domain.ErrUnknownFault)
		}
	}()

	for p := range progress {
		switch p.Kind {
		case pipeline.ProgressThinking:
			e.Thinking(p.Trace)
		case pipeline.ProgressSucceeded:
			if !e.sentThinking() && len(p.Trace) > 0 {
				e.Thinking(p.Trace)
			}
			if err := e.Answer(ctx, p.Result); err != nil {
				return err
			}
			return e.Err()
		default:
			e.Fail(p.Err)
			return e.Err()
		}
	}

	e.Fail(domain.ErrUnknownFault)
	if err := e.Err(); err != nil {
		return err
	}
	return ErrIncompleteRun
}

// Thinking emits the trace so far. It is ignored once the outcome is sent.
func (e *Emitter) Thinking(trace []domain.StageRecord) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != phaseStreaming {
		return
	}
	e.thinking = true
	e.writeLocked(domain.ThinkingEvent(trace))
}

// Answer emits result as paced chunks. Only the first call to Answer or Fail
// has any effect, and chunking stops early if Finish runs concurrently. If
// ctx ends before the last chunk, an error event follows the partial answer
// and ctx.Err() is returned.
func (e *Emitter) Answer(ctx context.Context, result string) error {
	e.mu.Lock()
	if e.phase != phaseStreaming {
		e.mu.Unlock()
		return nil
	}
	e.phase = phaseConcluded
	e.answered = true
	e.mu.Unlock()

	for i, chunk := range Chunk(result, e.chunkSize) {
		if i > 0 && e.interval > 0 {
			t := time.NewTimer(e.interval)
			select {
			case <-ctx.Done():
				t.Stop()
				e.interrupt()
				return ctx.Err()
			case <-t.C:
			}
		}
		if !e.writeChunk(chunk) {
			return nil
		}
	}
	return nil
}

func (e *Emitter) writeChunk(chunk string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != phaseConcluded {
		return false
	}
	e.writeLocked(domain.AnswerEvent(chunk))
	return true
}

// interrupt closes a partially sent answer with an error event.
func (e *Emitter) interrupt() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != phaseConcluded || !e.answered {
		return
	}
	e.answered = false
	e.writeLocked(domain.ErrorEvent(ErrAnswerInterrupted.Error()))
}

// Fail emits a single error event. Only the first call to Answer or Fail has
// any effect.
func (e *Emitter) Fail(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase != phaseStreaming {
		return
	}
	e.phase = phaseConcluded
	e.writeLocked(domain.ErrorEvent(domain.FailureMessage(err)))
}

// Finish emits the done event. It reports whether this call emitted it; at
// most one call ever does.
func (e *Emitter) Finish() bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.phase == phaseDone {
		return false
	}
	e.phase = phaseDone
	e.writeLocked(domain.DoneEvent())
	return true
}

// Answered reports whether the stream carried an answer rather than an error.
func (e *Emitter) Answered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.answered
}

// Err returns the first transport fault.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeErr
}

func (e *Emitter) sentThinking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thinking
}

func (e *Emitter) writeLocked(ev domain.StreamEvent) {
	err := e.sink.Write(ev)
	if err == nil || e.writeErr != nil {
		return
	}
	e.writeErr = err
	e.logger.Warn("stream write failed",
		slog.String("event", string(ev.Type)),
		slog.String("error", err.Error()),
	)
}
