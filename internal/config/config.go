package config

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server    ServerConfig     `koanf:"server"`
	Stream    StreamConfig     `koanf:"stream"`
	Journal   JournalConfig    `koanf:"journal"`
	Telemetry TelemetryConfig  `koanf:"telemetry"`
	Providers []ProviderConfig `koanf:"providers"`
	Pipelines []PipelineConfig `koanf:"pipelines"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

// StreamConfig controls how the final answer is paced to the client.
type StreamConfig struct {
	ChunkSize     int           `koanf:"chunk_size"`     // characters per answer event
	ChunkInterval time.Duration `koanf:"chunk_interval"` // pause between answer events
}

type JournalConfig struct {
	Type   string       `koanf:"type"` // sqlite, redis, memory, none
	SQLite SQLiteConfig `koanf:"sqlite"`
	Redis  RedisConfig  `koanf:"redis"`
}

type SQLiteConfig struct {
	Path string `koanf:"path"`
}

type RedisConfig struct {
	Addr     string        `koanf:"addr"`
	Password string        `koanf:"password"`
	DB       int           `koanf:"db"`
	Prefix   string        `koanf:"prefix"`
	TTL      time.Duration `koanf:"ttl"`
}

type TelemetryConfig struct {
	Tracing bool `koanf:"tracing"`
	Metrics bool `koanf:"metrics"`
}

// ProviderConfig describes one capability backend.
type ProviderConfig struct {
	Name        string        `koanf:"name"`
	Type        string        `koanf:"type"` // builtin, openai, anthropic, bedrock
	APIKey      string        `koanf:"api_key"`
	BaseURL     string        `koanf:"base_url"` // OpenAI-compatible endpoint, e.g. https://api.x.ai/v1
	Model       string        `koanf:"model"`
	Region      string        `koanf:"region"`        // bedrock only
	AccessKeyID string        `koanf:"access_key_id"` // bedrock only
	SecretKey   string        `koanf:"secret_key"`    // bedrock only
	Op          string        `koanf:"op"`            // builtin only: upper, lower, reverse, exclaim, echo, trim
	System      string        `koanf:"system"`        // instructions sent with every call
	MaxTokens   int           `koanf:"max_tokens"`    // 0 uses the backend default
	Temperature *float64      `koanf:"temperature"`   // nil uses the backend default
	Timeout     time.Duration `koanf:"timeout"`       // per-call deadline, 0 disables
	RateLimit   float64       `koanf:"rate_limit"`    // calls per second, 0 disables
	Burst       int           `koanf:"burst"`         // rate limiter burst
}

type PipelineConfig struct {
	Name        string        `koanf:"name"`
	Description string        `koanf:"description"`
	Input       string        `koanf:"input"` // field name of the pipeline input, default "message"
	Stages      []StageConfig `koanf:"stages"`
}

type StageConfig struct {
	ID     string `koanf:"id"`
	Label  string `koanf:"label"`
	Input  string `koanf:"input"`
	Output string `koanf:"output"`
	// Prompt is a text/template rendered with {{.Input}} before the call.
	Prompt string `koanf:"prompt"`
	// Providers lists candidate providers; one is chosen at random per call.
	Providers []string `koanf:"providers"`
}

const (
	DefaultPort           = 8080
	DefaultRequestTimeout = 5 * time.Minute
	DefaultChunkSize      = 40
	DefaultChunkInterval  = 80 * time.Millisecond
	DefaultJournalType    = "sqlite"
	DefaultSQLitePath     = "./data/relay.db"
	DefaultInputField     = "message"
)

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// Load reads configuration from path (optional) and RELAY_ environment
// variables. Nested keys use a double underscore: RELAY_SERVER__PORT.
// When no pipelines are configured the built-in demo pipelines are used.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			// File not found is OK, we'll use env vars and defaults
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("load %s: %w", path, err)
			}
		}
	}

	// Load environment variables (can override file config)
	if err := k.Load(env.Provider("RELAY_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "RELAY_")), "__", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	setDefault(k, "server.port", DefaultPort)
	setDefault(k, "server.request_timeout", DefaultRequestTimeout.String())
	setDefault(k, "stream.chunk_size", DefaultChunkSize)
	setDefault(k, "stream.chunk_interval", DefaultChunkInterval.String())
	setDefault(k, "journal.type", DefaultJournalType)
	setDefault(k, "journal.sqlite.path", DefaultSQLitePath)
	setDefault(k, "journal.redis.prefix", "relay:run:")
	setDefault(k, "telemetry.metrics", true)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	if len(cfg.Pipelines) == 0 {
		demo := Demo()
		cfg.Providers = append(cfg.Providers, demo.Providers...)
		cfg.Pipelines = demo.Pipelines
	}

	// Substitute environment variables in provider secrets
	for i := range cfg.Providers {
		cfg.Providers[i].APIKey = substituteEnvVars(cfg.Providers[i].APIKey)
		cfg.Providers[i].BaseURL = substituteEnvVars(cfg.Providers[i].BaseURL)
		cfg.Providers[i].AccessKeyID = substituteEnvVars(cfg.Providers[i].AccessKeyID)
		cfg.Providers[i].SecretKey = substituteEnvVars(cfg.Providers[i].SecretKey)
	}
	cfg.Journal.Redis.Password = substituteEnvVars(cfg.Journal.Redis.Password)

	for i := range cfg.Pipelines {
		if cfg.Pipelines[i].Input == "" {
			cfg.Pipelines[i].Input = DefaultInputField
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks cross references that the pipeline builder relies on.
func (c *Config) Validate() error {
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("stream.chunk_size must be positive, got %d", c.Stream.ChunkSize)
	}
	if c.Stream.ChunkInterval < 0 {
		return fmt.Errorf("stream.chunk_interval must not be negative")
	}

	providers := make(map[string]struct{}, len(c.Providers))
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider with type %q has no name", p.Type)
		}
		if _, dup := providers[p.Name]; dup {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		providers[p.Name] = struct{}{}
	}

	pipelines := make(map[string]struct{}, len(c.Pipelines))
	for _, p := range c.Pipelines {
		if p.Name == "" {
			return fmt.Errorf("pipeline without a name")
		}
		if _, dup := pipelines[p.Name]; dup {
			return fmt.Errorf("duplicate pipeline %q", p.Name)
		}
		pipelines[p.Name] = struct{}{}

		for _, s := range p.Stages {
			if len(s.Providers) == 0 {
				return fmt.Errorf("pipeline %s: stage %s has no providers", p.Name, s.ID)
			}
			for _, name := range s.Providers {
				if _, ok := providers[name]; !ok {
					return fmt.Errorf("pipeline %s: stage %s references unknown provider %q", p.Name, s.ID, name)
				}
			}
		}
	}

	return nil
}

// Pipeline returns the named pipeline configuration.
func (c *Config) Pipeline(name string) (PipelineConfig, bool) {
	for _, p := range c.Pipelines {
		if p.Name == name {
			return p, true
		}
	}
	return PipelineConfig{}, false
}

// Provider returns the named provider configuration.
func (c *Config) Provider(name string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.Name == name {
			return p, true
		}
	}
	return ProviderConfig{}, false
}

func setDefault(k *koanf.Koanf, key string, value any) {
	if !k.Exists(key) {
		k.Set(key, value)
	}
}

func substituteEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		// Extract variable name from ${VAR_NAME}
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}
