package ports

import (
	"context"
	"errors"
	"time"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
)

// ErrRunNotFound is returned by GetRun for unknown IDs.
var ErrRunNotFound = errors.New("run not found")

// RunJournal stores finished run snapshots for later inspection.
// Implementations: memory, SQLite (default), Redis.
type RunJournal interface {
	// SaveRun stores or replaces a run record.
	SaveRun(ctx context.Context, rec *RunRecord) error

	// GetRun retrieves a run record by ID.
	GetRun(ctx context.Context, id string) (*RunRecord, error)

	// ListRuns lists run records, newest first.
	ListRuns(ctx context.Context, opts ListOptions) ([]*RunRecord, error)

	// Close closes the storage connection.
	Close() error
}

// RunRecord is the persisted form of a finished run.
type RunRecord struct {
	domain.RunSnapshot

	// RequestID links the run to the HTTP request that started it.
	RequestID string `json:"request_id,omitempty"`

	// StageTokens holds the output token count per stage, in trace order.
	StageTokens []int `json:"stage_tokens,omitempty"`

	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Pipeline string
	Status   domain.RunStatus
	Limit    int
	Offset   int
}
