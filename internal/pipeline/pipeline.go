package pipeline

import (
	"errors"
	"fmt"
)

// ErrEmptyPipeline is returned by New when no stages are given.
var ErrEmptyPipeline = errors.New("pipeline has no stages")

// ShapeError reports a stage whose input cannot be fed by its predecessor.
type ShapeError struct {
	StageID string
	Want    Shape
	Got     Shape
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("stage %s expects input %s but receives %s", e.StageID, e.Want, e.Got)
}

// Pipeline is an immutable ordered chain of stages.
type Pipeline struct {
	name        string
	description string
	input       Shape
	stages      []Stage
}

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithDescription sets a human-readable description.
func WithDescription(d string) Option {
	return func(p *Pipeline) {
		p.description = d
	}
}

// New validates and builds a pipeline. The first stage must accept input;
// every following stage must accept its predecessor's output.
func New(name string, input Shape, stages []Stage, opts ...Option) (*Pipeline, error) {
	if name == "" {
		return nil, errors.New("pipeline name is required")
	}
	if len(stages) == 0 {
		return nil, fmt.Errorf("pipeline %s: %w", name, ErrEmptyPipeline)
	}

	seen := make(map[string]struct{}, len(stages))
	prev := input
	for i, s := range stages {
		if s.ID == "" {
			return nil, fmt.Errorf("pipeline %s: stage %d has no id", name, i)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("pipeline %s: duplicate stage id %q", name, s.ID)
		}
		seen[s.ID] = struct{}{}

		if s.Resolve == nil {
			return nil, fmt.Errorf("pipeline %s: stage %s has no capability", name, s.ID)
		}
		if !s.Input.Accepts(prev) {
			return nil, fmt.Errorf("pipeline %s: %w", name, &ShapeError{StageID: s.ID, Want: s.Input, Got: prev})
		}
		prev = s.Output
	}

	p := &Pipeline{
		name:   name,
		input:  input,
		stages: make([]Stage, len(stages)),
	}
	copy(p.stages, stages)
	for i := range p.stages {
		if p.stages[i].Label == "" {
			p.stages[i].Label = p.stages[i].ID
		}
	}

	for _, opt := range opts {
		opt(p)
	}

	return p, nil
}

func (p *Pipeline) Name() string        { return p.name }
func (p *Pipeline) Description() string { return p.description }
func (p *Pipeline) Input() Shape        { return p.input }
func (p *Pipeline) Len() int            { return len(p.stages) }

// Output is the shape of the last stage's output.
func (p *Pipeline) Output() Shape { return p.stages[len(p.stages)-1].Output }

// Stages returns a copy of the stage list.
func (p *Pipeline) Stages() []Stage {
	out := make([]Stage, len(p.stages))
	copy(out, p.stages)
	return out
}

// StageIDs returns the stage IDs in execution order.
func (p *Pipeline) StageIDs() []string {
	ids := make([]string, len(p.stages))
	for i, s := range p.stages {
		ids[i] = s.ID
	}
	return ids
}
