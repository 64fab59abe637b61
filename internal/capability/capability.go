// Package capability provides the text-generation backends stages delegate
// to: deterministic builtin transforms, OpenAI-compatible chat completions
// (OpenAI, xAI), the Anthropic Messages API and AWS Bedrock Converse.
//
// Backends are built from configuration by a Registry, wrapped with
// per-provider middleware (timeouts, rate limits), and bound to stages through
// Resolvers that pick one backend per stage execution.
package capability

import (
	"context"
	"math/rand/v2"

	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// Func adapts a plain function to ports.Capability.
type Func struct {
	ID string
	Fn func(ctx context.Context, text string) (*ports.Generation, error)
}

func (f Func) Name() string { return f.ID }

func (f Func) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	return f.Fn(ctx, text)
}

// Fixed always resolves to c.
func Fixed(c ports.Capability) ports.Resolver {
	return func() ports.Capability { return c }
}

// Random resolves to one of caps chosen uniformly per call. A single
// candidate behaves like Fixed.
func Random(caps ...ports.Capability) ports.Resolver {
	return RandomWith(rand.IntN, caps...)
}

// RandomWith is Random with an explicit pick function returning a value in
// [0, n).
func RandomWith(pick func(n int) int, caps ...ports.Capability) ports.Resolver {
	switch len(caps) {
	case 0:
		return func() ports.Capability { return nil }
	case 1:
		return Fixed(caps[0])
	}
	pool := make([]ports.Capability, len(caps))
	copy(pool, caps)
	return func() ports.Capability {
		return pool[pick(len(pool))]
	}
}
