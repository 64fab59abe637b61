package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// Store is an in-memory implementation of RunJournal
type Store struct {
	mu   sync.RWMutex
	runs map[string]*ports.RunRecord
}

var _ ports.RunJournal = (*Store)(nil)

// New creates a new in-memory store
func New() *Store {
	return &Store{
		runs: make(map[string]*ports.RunRecord),
	}
}

func (s *Store) SaveRun(ctx context.Context, rec *ports.RunRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("run record has no id")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.runs[rec.ID] = clone(rec)
	return nil
}

func (s *Store) GetRun(ctx context.Context, id string) (*ports.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, exists := s.runs[id]
	if !exists {
		return nil, fmt.Errorf("run %s: %w", id, ports.ErrRunNotFound)
	}

	return clone(rec), nil
}

func (s *Store) ListRuns(ctx context.Context, opts ports.ListOptions) ([]*ports.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*ports.RunRecord
	for _, rec := range s.runs {
		if opts.Pipeline != "" && rec.Pipeline != opts.Pipeline {
			continue
		}
		if opts.Status != "" && rec.Status != opts.Status {
			continue
		}
		result = append(result, clone(rec))
	}

	sort.Slice(result, func(i, j int) bool {
		if !result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].CreatedAt.After(result[j].CreatedAt)
		}
		return result[i].ID > result[j].ID
	})

	// Simple pagination
	start := opts.Offset
	if start >= len(result) {
		return []*ports.RunRecord{}, nil
	}

	end := start + opts.Limit
	if opts.Limit <= 0 || end > len(result) {
		end = len(result)
	}

	return result[start:end], nil
}

func (s *Store) Close() error {
	return nil
}

func clone(rec *ports.RunRecord) *ports.RunRecord {
	c := *rec
	c.Trace = append(c.Trace[:0:0], rec.Trace...)
	c.StageTokens = append(c.StageTokens[:0:0], rec.StageTokens...)
	if rec.Metadata != nil {
		c.Metadata = make(map[string]string, len(rec.Metadata))
		for k, v := range rec.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}
