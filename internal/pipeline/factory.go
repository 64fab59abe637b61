package pipeline

import (
	"fmt"
	"sort"

	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// ResolverFactory builds the resolver for a stage's candidate providers.
type ResolverFactory func(providers []string) (ports.Resolver, error)

// NewFromConfig builds a pipeline from its configuration.
func NewFromConfig(cfg config.PipelineConfig, resolvers ResolverFactory) (*Pipeline, error) {
	stages := make([]Stage, 0, len(cfg.Stages))

	for _, sc := range cfg.Stages {
		resolve, err := resolvers(sc.Providers)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: stage %s: %w", cfg.Name, sc.ID, err)
		}

		var prompt *Prompt
		if sc.Prompt != "" {
			prompt, err = ParsePrompt(cfg.Name+"."+sc.ID, sc.Prompt)
			if err != nil {
				return nil, fmt.Errorf("pipeline %s: stage %s: %w", cfg.Name, sc.ID, err)
			}
		}

		stages = append(stages, Stage{
			ID:      sc.ID,
			Label:   sc.Label,
			Input:   Shape{Field: sc.Input},
			Output:  Shape{Field: sc.Output},
			Prompt:  prompt,
			Resolve: resolve,
		})
	}

	return New(cfg.Name, Shape{Field: cfg.Input}, stages, WithDescription(cfg.Description))
}

// Catalog is an immutable set of pipelines addressed by name.
type Catalog struct {
	byName map[string]*Pipeline
	names  []string
}

// NewCatalog indexes pipelines by name. Duplicate names are an error.
func NewCatalog(pipelines ...*Pipeline) (*Catalog, error) {
	c := &Catalog{byName: make(map[string]*Pipeline, len(pipelines))}
	for _, p := range pipelines {
		if _, dup := c.byName[p.Name()]; dup {
			return nil, fmt.Errorf("duplicate pipeline %q", p.Name())
		}
		c.byName[p.Name()] = p
		c.names = append(c.names, p.Name())
	}
	sort.Strings(c.names)
	return c, nil
}

// CatalogFromConfig builds every configured pipeline.
func CatalogFromConfig(cfg *config.Config, resolvers ResolverFactory) (*Catalog, error) {
	pipelines := make([]*Pipeline, 0, len(cfg.Pipelines))
	for _, pc := range cfg.Pipelines {
		p, err := NewFromConfig(pc, resolvers)
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}
	return NewCatalog(pipelines...)
}

// Get returns the named pipeline.
func (c *Catalog) Get(name string) (*Pipeline, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// Names returns the pipeline names in sorted order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.names))
	copy(out, c.names)
	return out
}

// All returns the pipelines sorted by name.
func (c *Catalog) All() []*Pipeline {
	out := make([]*Pipeline, 0, len(c.names))
	for _, n := range c.names {
		out = append(out, c.byName[n])
	}
	return out
}
