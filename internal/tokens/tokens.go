// Package tokens counts tokens in stage inputs and outputs for the run
// journal and metrics. OpenAI-family models are counted exactly with tiktoken;
// every other model gets a character-based estimate.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// Counter counts tokens in text for the models it supports.
type Counter interface {
	SupportsModel(model string) bool
	CountText(model, text string) (int, error)
}

// Count is the result of counting one text.
type Count struct {
	Tokens    int
	Estimated bool
}

// Registry picks the first counter that supports a model and falls back to an
// Estimator.
type Registry struct {
	counters []Counter
	fallback *Estimator
}

// NewRegistry creates a registry with the tiktoken counter registered.
func NewRegistry() *Registry {
	r := &Registry{fallback: NewEstimator()}
	r.Register(NewTiktokenCounter())
	return r
}

// Register adds a counter. Earlier registrations win.
func (r *Registry) Register(c Counter) {
	r.counters = append(r.counters, c)
}

// Count counts text for model. It never fails: counter errors fall back to
// the estimate.
func (r *Registry) Count(model, text string) Count {
	for _, c := range r.counters {
		if !c.SupportsModel(model) {
			continue
		}
		if n, err := c.CountText(model, text); err == nil {
			return Count{Tokens: n}
		}
		break
	}
	return Count{Tokens: r.fallback.Estimate(text), Estimated: true}
}

// Estimator approximates token counts from character length.
type Estimator struct {
	// CharsPerToken is the average characters per token (default: 4)
	CharsPerToken float64
}

// NewEstimator creates a new token estimator.
func NewEstimator() *Estimator {
	return &Estimator{CharsPerToken: 4.0}
}

// Estimate returns at least one token for non-empty text.
func (e *Estimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	n := int(float64(utf8.RuneCountInString(text)) / e.CharsPerToken)
	return max(n, 1)
}

// ModelMatcher helps match model names to provider patterns.
type ModelMatcher struct {
	prefixes []string
	exact    []string
}

// NewModelMatcher creates a new model matcher.
func NewModelMatcher(prefixes, exact []string) *ModelMatcher {
	return &ModelMatcher{
		prefixes: prefixes,
		exact:    exact,
	}
}

// Matches returns true if the model matches any pattern.
func (m *ModelMatcher) Matches(model string) bool {
	model = strings.ToLower(model)
	for _, e := range m.exact {
		if model == e {
			return true
		}
	}
	for _, p := range m.prefixes {
		if strings.HasPrefix(model, p) {
			return true
		}
	}
	return false
}
