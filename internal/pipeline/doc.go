// Package pipeline provides the sequential stage executor.
//
// A Pipeline is an immutable, ordered chain of Stages built once at startup
// and shared read-only by every run. Each Stage wraps one text-generation
// capability; the output of stage i becomes the input of stage i+1 and the
// output of the last stage is the run's result.
//
// # Execution
//
// Executor.Execute starts a run on its own goroutine and reports progress on
// a channel:
//
//	ProgressThinking   after every successful stage, with the trace so far
//	ProgressSucceeded  once, with the final result and trace
//	ProgressFailed     once, when a stage errors, suspends or panics
//	ProgressAborted    once, when the caller's context is cancelled
//
// The channel is always closed after the terminal progress. Stages never run
// concurrently within a run, and no capability is called after the first
// failure or after the context is cancelled.
//
// # Shapes
//
// Every stage declares the field name it consumes and produces (for example
// message -> arabicText -> hieroglyphText). New rejects pipelines where a
// stage's input cannot be satisfied by the previous stage's output, so a
// misconfigured chain fails at startup rather than mid-request.
package pipeline
