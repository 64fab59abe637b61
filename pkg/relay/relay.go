// Package relay provides the public API for embedding the pipeline relay.
// This is the stable API for external consumers.
package relay

import (
	"github.com/tjfontaine/polyglot-relay/internal/runtime"
)

// Relay is the main entry point for running pipelines.
// See internal/runtime.Relay for full documentation.
type Relay = runtime.Relay

// Option is a functional option for configuring a Relay.
type Option = runtime.Option

// New creates a new Relay with the given options.
// Example:
//
//	r, err := relay.New(
//	    relay.WithFileConfig("config.yaml"),
//	)
var New = runtime.New

// ErrPipelineNotFound is returned by Relay.Stream for unknown pipelines.
var ErrPipelineNotFound = runtime.ErrPipelineNotFound

// Configuration options
var (
	// Config sources
	WithFileConfig     = runtime.WithFileConfig
	WithConfig         = runtime.WithConfig
	WithConfigProvider = runtime.WithConfigProvider

	// Storage
	WithJournal = runtime.WithJournal

	// Advanced options
	WithLogger             = runtime.WithLogger
	WithTracerProvider     = runtime.WithTracerProvider
	WithTraceWriter        = runtime.WithTraceWriter
	WithCapabilityRegistry = runtime.WithCapabilityRegistry
)
