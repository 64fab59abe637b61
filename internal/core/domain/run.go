package domain

import (
	"time"
)

// RunStatus is the lifecycle state of a Run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	// RunAborted marks a run stopped because its caller went away.
	RunAborted RunStatus = "aborted"
)

// Terminal reports whether s is a final state.
func (s RunStatus) Terminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunAborted
}

// Run is one execution of a pipeline against one input.
//
// A Run has a single owner (the executor goroutine driving it) and is not
// safe for concurrent use. Other components observe it only through
// snapshots. The status moves from RunRunning to exactly one terminal state.
type Run struct {
	id       string
	pipeline string
	input    string

	trace   []StageRecord
	status  RunStatus
	result  string
	failure string
	err     error

	startedAt  time.Time
	finishedAt time.Time
}

// NewRun creates a running Run.
func NewRun(id, pipeline, input string) *Run {
	return &Run{
		id:        id,
		pipeline:  pipeline,
		input:     input,
		status:    RunRunning,
		startedAt: time.Now(),
	}
}

func (r *Run) ID() string        { return r.id }
func (r *Run) Pipeline() string  { return r.pipeline }
func (r *Run) Input() string     { return r.input }
func (r *Run) Status() RunStatus { return r.status }

// Err returns the cause of a failed or aborted run.
func (r *Run) Err() error { return r.err }

// FailureReason is set only for failed or aborted runs.
func (r *Run) FailureReason() string { return r.failure }

// Result returns the final text; ok is false unless the run succeeded.
func (r *Run) Result() (string, bool) {
	if r.status != RunSucceeded {
		return "", false
	}
	return r.result, true
}

// Trace returns a copy of the records appended so far.
func (r *Run) Trace() []StageRecord {
	return CopyTrace(r.trace)
}

// Len returns the number of completed stages.
func (r *Run) Len() int { return len(r.trace) }

// Append records a completed stage.
func (r *Run) Append(rec StageRecord) error {
	if r.status.Terminal() {
		return ErrRunFinished
	}
	r.trace = append(r.trace, rec)
	return nil
}

// Succeed moves the run to RunSucceeded with the given result.
func (r *Run) Succeed(result string) error {
	if r.status.Terminal() {
		return ErrRunFinished
	}
	r.status = RunSucceeded
	r.result = result
	r.finishedAt = time.Now()
	return nil
}

// Fail moves the run to RunFailed.
func (r *Run) Fail(err error) error {
	return r.finish(RunFailed, err)
}

// Abort moves the run to RunAborted.
func (r *Run) Abort(err error) error {
	return r.finish(RunAborted, err)
}

func (r *Run) finish(status RunStatus, err error) error {
	if r.status.Terminal() {
		return ErrRunFinished
	}
	r.status = status
	r.err = err
	r.failure = FailureMessage(err)
	r.finishedAt = time.Now()
	return nil
}

// Snapshot returns an immutable view of the run.
func (r *Run) Snapshot() *RunSnapshot {
	return &RunSnapshot{
		ID:            r.id,
		Pipeline:      r.pipeline,
		Input:         r.input,
		Status:        r.status,
		Result:        r.result,
		FailureReason: r.failure,
		Trace:         r.Trace(),
		StartedAt:     r.startedAt,
		FinishedAt:    r.finishedAt,
	}
}

// RunSnapshot is a point-in-time copy of a Run.
type RunSnapshot struct {
	ID            string        `json:"id"`
	Pipeline      string        `json:"pipeline"`
	Input         string        `json:"input"`
	Status        RunStatus     `json:"status"`
	Result        string        `json:"result,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	Trace         []StageRecord `json:"trace"`
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at,omitempty"`
}

// Duration is the wall time of a finished run, or zero while running.
func (s *RunSnapshot) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
