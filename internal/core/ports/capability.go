// Package ports defines the interfaces the pipeline core depends on.
package ports

import (
	"context"
)

// Generation is the result of one capability call.
type Generation struct {
	// Text is the generated output.
	Text string
	// Model identifies the concrete backend that produced Text.
	Model string
	// Suspended is set when the capability could not finish without further
	// input from a user. Text is not meaningful in that case.
	Suspended bool
	// SuspendReason optionally explains the suspension.
	SuspendReason string
}

// Capability is an external text-generation function a stage delegates to.
// Implementations own their timeouts and retries.
type Capability interface {
	// Name identifies the capability for logs and provenance.
	Name() string
	// Generate produces output text for the given input text.
	Generate(ctx context.Context, text string) (*Generation, error)
}

// Resolver picks the capability for one stage execution. It is called once
// per execution, so implementations may choose a backend per call.
type Resolver func() Capability
