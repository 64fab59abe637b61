// Package storagetest holds the behaviour every RunJournal implementation
// must share.
package storagetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tjfontaine/polyglot-relay/internal/core/domain"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// RunJournalContract runs the shared journal checks. newJournal must return
// an empty journal; it is called once per subtest.
func RunJournalContract(t *testing.T, newJournal func(t *testing.T) ports.RunJournal) {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	t.Run("save and get", func(t *testing.T) {
		j := open(t, newJournal)
		ctx := context.Background()

		want := Record("run-1", "demo", domain.RunSucceeded, base)
		require.NoError(t, j.SaveRun(ctx, want))

		got, err := j.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, want.ID, got.ID)
		assert.Equal(t, "demo", got.Pipeline)
		assert.Equal(t, "hi", got.Input)
		assert.Equal(t, domain.RunSucceeded, got.Status)
		assert.Equal(t, "IH!", got.Result)
		assert.Equal(t, want.Trace, got.Trace)
		assert.Equal(t, []int{1, 1, 2}, got.StageTokens)
		assert.Equal(t, "req-run-1", got.RequestID)
		assert.Equal(t, map[string]string{"source": "test"}, got.Metadata)
		assert.True(t, want.StartedAt.Equal(got.StartedAt), "StartedAt = %v", got.StartedAt)
		assert.True(t, want.FinishedAt.Equal(got.FinishedAt), "FinishedAt = %v", got.FinishedAt)
		assert.True(t, base.Equal(got.CreatedAt), "CreatedAt = %v", got.CreatedAt)
	})

	t.Run("missing run", func(t *testing.T) {
		j := open(t, newJournal)

		_, err := j.GetRun(context.Background(), "nope")
		assert.ErrorIs(t, err, ports.ErrRunNotFound)
	})

	t.Run("save replaces", func(t *testing.T) {
		j := open(t, newJournal)
		ctx := context.Background()

		rec := Record("run-1", "demo", domain.RunSucceeded, base)
		require.NoError(t, j.SaveRun(ctx, rec))

		failed := Record("run-1", "demo", domain.RunFailed, base)
		require.NoError(t, j.SaveRun(ctx, failed))

		got, err := j.GetRun(ctx, "run-1")
		require.NoError(t, err)
		assert.Equal(t, domain.RunFailed, got.Status)
		assert.Equal(t, "stage reverse failed: boom", got.FailureReason)
		assert.Empty(t, got.Result)

		all, err := j.ListRuns(ctx, ports.ListOptions{})
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("list newest first with filters", func(t *testing.T) {
		j := open(t, newJournal)
		ctx := context.Background()

		statuses := []domain.RunStatus{domain.RunSucceeded, domain.RunFailed, domain.RunSucceeded, domain.RunAborted}
		for i, st := range statuses {
			pipeline := "demo"
			if i%2 == 1 {
				pipeline = "translate"
			}
			rec := Record(fmt.Sprintf("run-%d", i), pipeline, st, base.Add(time.Duration(i)*time.Second))
			require.NoError(t, j.SaveRun(ctx, rec))
		}

		all, err := j.ListRuns(ctx, ports.ListOptions{})
		require.NoError(t, err)
		assert.Equal(t, []string{"run-3", "run-2", "run-1", "run-0"}, ids(all))

		demo, err := j.ListRuns(ctx, ports.ListOptions{Pipeline: "demo"})
		require.NoError(t, err)
		assert.Equal(t, []string{"run-2", "run-0"}, ids(demo))

		ok, err := j.ListRuns(ctx, ports.ListOptions{Status: domain.RunSucceeded})
		require.NoError(t, err)
		assert.Equal(t, []string{"run-2", "run-0"}, ids(ok))

		page, err := j.ListRuns(ctx, ports.ListOptions{Limit: 2, Offset: 1})
		require.NoError(t, err)
		assert.Equal(t, []string{"run-2", "run-1"}, ids(page))

		past, err := j.ListRuns(ctx, ports.ListOptions{Offset: 10})
		require.NoError(t, err)
		assert.Empty(t, past)
	})
}

// Record builds a finished run record for tests.
func Record(id, pipeline string, status domain.RunStatus, created time.Time) *ports.RunRecord {
	snap := domain.RunSnapshot{
		ID:       id,
		Pipeline: pipeline,
		Input:    "hi",
		Status:   status,
		Trace: []domain.StageRecord{
			{StageID: "upper", Label: "Upper", Input: "hi", Output: "HI", Model: "builtin-upper"},
			{StageID: "reverse", Label: "Reverse", Input: "HI", Output: "IH", Model: "builtin-reverse"},
			{StageID: "exclaim", Label: "Exclaim", Input: "IH", Output: "IH!", Model: "builtin-exclaim"},
		},
		StartedAt:  created.Add(-time.Second),
		FinishedAt: created,
	}
	switch status {
	case domain.RunSucceeded:
		snap.Result = "IH!"
	default:
		snap.Trace = snap.Trace[:1]
		snap.FailureReason = "stage reverse failed: boom"
	}

	return &ports.RunRecord{
		RunSnapshot: snap,
		RequestID:   "req-" + id,
		StageTokens: []int{1, 1, 2}[:len(snap.Trace)],
		Metadata:    map[string]string{"source": "test"},
		CreatedAt:   created,
	}
}

func open(t *testing.T, newJournal func(t *testing.T) ports.RunJournal) ports.RunJournal {
	t.Helper()
	j := newJournal(t)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func ids(recs []*ports.RunRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}
