package storage

import (
	"context"
	"log/slog"
	"time"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
	"github.com/tjfontaine/polyglot-relay/internal/tokens"
)

const defaultSaveTimeout = 5 * time.Second

// Recorder saves finished runs to a journal. Saving is best effort: failures
// are logged and never reach the client.
type Recorder struct {
	journal ports.RunJournal
	counter *tokens.Registry
	logger  *slog.Logger
	timeout time.Duration
}

// NewRecorder returns a recorder for journal. A nil journal records nothing.
func NewRecorder(journal ports.RunJournal, counter *tokens.Registry, logger *slog.Logger) *Recorder {
	if counter == nil {
		counter = tokens.NewRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		journal: journal,
		counter: counter,
		logger:  logger,
		timeout: defaultSaveTimeout,
	}
}

// Journal returns the underlying journal, which may be nil.
func (r *Recorder) Journal() ports.RunJournal {
	return r.journal
}

// Record builds the record for snap and saves it. The save runs on a context
// detached from ctx so a disconnected client does not lose its run.
func (r *Recorder) Record(ctx context.Context, snap *domain.RunSnapshot, requestID string) *ports.RunRecord {
	if snap == nil {
		return nil
	}
	rec := r.Build(snap, requestID)
	if r.journal == nil {
		return rec
	}

	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.journal.SaveRun(saveCtx, rec); err != nil {
		r.logger.Warn("failed to record run",
			slog.String("run_id", snap.ID),
			slog.String("pipeline", snap.Pipeline),
			slog.String("error", err.Error()),
		)
	}
	return rec
}

// Build converts a snapshot into a record without saving it.
func (r *Recorder) Build(snap *domain.RunSnapshot, requestID string) *ports.RunRecord {
	counts := make([]int, len(snap.Trace))
	for i, st := range snap.Trace {
		counts[i] = r.counter.Count(st.Model, st.Output).Tokens
	}

	return &ports.RunRecord{
		RunSnapshot: *snap,
		RequestID:   requestID,
		StageTokens: counts,
		CreatedAt:   time.Now(),
	}
}
