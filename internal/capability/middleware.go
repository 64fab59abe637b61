package capability

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// Middleware wraps a capability with extra behaviour.
type Middleware func(ports.Capability) ports.Capability

// Chain applies middleware so the first one listed is outermost.
func Chain(c ports.Capability, mws ...Middleware) ports.Capability {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// WithTimeout bounds every call to d. A zero d leaves calls unbounded.
func WithTimeout(d time.Duration) Middleware {
	return func(next ports.Capability) ports.Capability {
		if d <= 0 {
			return next
		}
		return &timeoutCapability{next: next, timeout: d}
	}
}

type timeoutCapability struct {
	next    ports.Capability
	timeout time.Duration
}

func (t *timeoutCapability) Name() string { return t.next.Name() }

func (t *timeoutCapability) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	gen, err := t.next.Generate(ctx, text)
	if err != nil && ctx.Err() == context.DeadlineExceeded {
		return nil, fmt.Errorf("%s timed out after %s: %w", t.next.Name(), t.timeout, err)
	}
	return gen, err
}

// WithRateLimit allows at most perSecond calls per second with the given
// burst. Callers wait for a token; a cancelled context ends the wait.
func WithRateLimit(perSecond float64, burst int) Middleware {
	return func(next ports.Capability) ports.Capability {
		if perSecond <= 0 {
			return next
		}
		if burst < 1 {
			burst = 1
		}
		return &rateLimitedCapability{next: next, limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
	}
}

type rateLimitedCapability struct {
	next    ports.Capability
	limiter *rate.Limiter
}

func (r *rateLimitedCapability) Name() string { return r.next.Name() }

func (r *rateLimitedCapability) Generate(ctx context.Context, text string) (*ports.Generation, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", r.next.Name(), err)
	}
	return r.next.Generate(ctx, text)
}
