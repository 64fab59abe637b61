package capability

import (
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/tjfontaine/polyglot-relay/internal/api/openai"
	"github.com/tjfontaine/polyglot-relay/internal/config"
	"github.com/tjfontaine/polyglot-relay/internal/core/ports"
)

// Provider types understood by the default registry.
const (
	TypeBuiltin   = "builtin"
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeBedrock   = "bedrock"
)

// Factory creates capabilities of one provider type.
type Factory struct {
	Type        string
	Description string
	Create      func(cfg config.ProviderConfig, deps Deps) (ports.Capability, error)
	// ValidateConfig checks a configuration without creating anything.
	ValidateConfig func(cfg config.ProviderConfig) error
}

// Deps are shared dependencies handed to every factory.
type Deps struct {
	HTTPClient *http.Client
}

// Registry maps provider types to factories. It is built explicitly and
// passed where needed; there is no package-level registry.
type Registry struct {
	factories map[string]Factory
	deps      Deps
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithHTTPClient sets the HTTP client used by network-backed providers.
func WithHTTPClient(c *http.Client) RegistryOption {
	return func(r *Registry) {
		r.deps.HTTPClient = c
	}
}

// NewRegistry returns a registry with the builtin, openai, anthropic and
// bedrock factories registered.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		deps: Deps{
			HTTPClient: http.DefaultClient,
		},
	}
	for _, opt := range opts {
		opt(r)
	}

	r.Register(Factory{
		Type:        TypeBuiltin,
		Description: "Deterministic local text transforms",
		Create: func(cfg config.ProviderConfig, _ Deps) (ports.Capability, error) {
			return NewBuiltin(cfg.Name, cfg.Op)
		},
		ValidateConfig: func(cfg config.ProviderConfig) error {
			if _, ok := builtinOps[cfg.Op]; !ok {
				return fmt.Errorf("unknown builtin op %q", cfg.Op)
			}
			return nil
		},
	})
	r.Register(Factory{
		Type:        TypeOpenAI,
		Description: "OpenAI-compatible chat completions (OpenAI, xAI)",
		Create: func(cfg config.ProviderConfig, deps Deps) (ports.Capability, error) {
			clientOpts := []openai.ClientOption{openai.WithHTTPClient(deps.HTTPClient)}
			if cfg.BaseURL != "" {
				clientOpts = append(clientOpts, openai.WithBaseURL(cfg.BaseURL))
			}
			return NewOpenAI(openai.NewClient(cfg.APIKey, clientOpts...), OpenAIOptions{
				Name:        cfg.Name,
				Model:       cfg.Model,
				System:      cfg.System,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			})
		},
		ValidateConfig: requireModel,
	})
	r.Register(Factory{
		Type:        TypeAnthropic,
		Description: "Anthropic Messages API",
		Create: func(cfg config.ProviderConfig, _ Deps) (ports.Capability, error) {
			return NewAnthropicFromAPIKey(cfg.APIKey, cfg.BaseURL, AnthropicOptions{
				Name:        cfg.Name,
				Model:       cfg.Model,
				System:      cfg.System,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			})
		},
		ValidateConfig: requireModel,
	})
	r.Register(Factory{
		Type:        TypeBedrock,
		Description: "AWS Bedrock Converse API",
		Create: func(cfg config.ProviderConfig, _ Deps) (ports.Capability, error) {
			runtime := NewBedrockRuntime(cfg.Region, cfg.AccessKeyID, cfg.SecretKey, cfg.BaseURL)
			return NewBedrock(runtime, BedrockOptions{
				Name:        cfg.Name,
				Model:       cfg.Model,
				System:      cfg.System,
				MaxTokens:   cfg.MaxTokens,
				Temperature: cfg.Temperature,
			})
		},
		ValidateConfig: func(cfg config.ProviderConfig) error {
			if err := requireModel(cfg); err != nil {
				return err
			}
			if cfg.Region == "" {
				return errors.New("region is required")
			}
			return nil
		},
	})

	return r
}

func requireModel(cfg config.ProviderConfig) error {
	if cfg.Model == "" {
		return errors.New("model is required")
	}
	return nil
}

// Register adds or replaces the factory for f.Type.
func (r *Registry) Register(f Factory) {
	r.factories[f.Type] = f
}

// Factories returns the registered factories sorted by type.
func (r *Registry) Factories() []Factory {
	out := make([]Factory, 0, len(r.factories))
	for _, f := range r.factories {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out
}

// Validate checks cfg against its factory.
func (r *Registry) Validate(cfg config.ProviderConfig) error {
	f, ok := r.factories[cfg.Type]
	if !ok {
		return fmt.Errorf("provider %s: unknown type %q", cfg.Name, cfg.Type)
	}
	if f.ValidateConfig != nil {
		if err := f.ValidateConfig(cfg); err != nil {
			return fmt.Errorf("provider %s: %w", cfg.Name, err)
		}
	}
	return nil
}

// Create builds one capability, wrapped with its configured rate limit and
// timeout.
func (r *Registry) Create(cfg config.ProviderConfig) (ports.Capability, error) {
	if err := r.Validate(cfg); err != nil {
		return nil, err
	}
	c, err := r.factories[cfg.Type].Create(cfg, r.deps)
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", cfg.Name, err)
	}
	return Chain(c, WithRateLimit(cfg.RateLimit, cfg.Burst), WithTimeout(cfg.Timeout)), nil
}

// Set is the collection of capabilities built from configuration.
type Set struct {
	byName map[string]ports.Capability
	pick   func(int) int
}

// CreateAll builds every configured provider.
func (r *Registry) CreateAll(cfgs []config.ProviderConfig) (*Set, error) {
	s := &Set{byName: make(map[string]ports.Capability, len(cfgs))}
	for _, cfg := range cfgs {
		c, err := r.Create(cfg)
		if err != nil {
			return nil, err
		}
		s.byName[cfg.Name] = c
	}
	return s, nil
}

// NewSet wraps already-built capabilities keyed by name.
func NewSet(caps map[string]ports.Capability) *Set {
	s := &Set{byName: make(map[string]ports.Capability, len(caps))}
	for k, v := range caps {
		s.byName[k] = v
	}
	return s
}

// WithPick overrides the random choice used for multi-provider stages.
func (s *Set) WithPick(pick func(int) int) *Set {
	s.pick = pick
	return s
}

// Get returns the named capability.
func (s *Set) Get(name string) (ports.Capability, bool) {
	c, ok := s.byName[name]
	return c, ok
}

// Resolver builds the resolver for a stage listing the given providers. It
// matches pipeline.ResolverFactory.
func (s *Set) Resolver(names []string) (ports.Resolver, error) {
	if len(names) == 0 {
		return nil, errors.New("no providers listed")
	}
	caps := make([]ports.Capability, 0, len(names))
	for _, n := range names {
		c, ok := s.byName[n]
		if !ok {
			return nil, fmt.Errorf("unknown provider %q", n)
		}
		caps = append(caps, c)
	}
	if s.pick != nil {
		return RandomWith(s.pick, caps...), nil
	}
	return Random(caps...), nil
}
