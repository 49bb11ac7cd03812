// Package gateway provides the public API for embedding the campaign gateway.
// This is the stable API for external consumers.
package gateway

import (
	"github.com/tjfontaine/campaign-gateway/internal/runtime"
)

// Gateway is the main entry point for running the campaign gateway.
// See internal/runtime.Gateway for full documentation.
type Gateway = runtime.Gateway

// Option is a functional option for configuring a Gateway.
type Option = runtime.Option

// New creates a new Gateway with the given options.
// Example:
//
//	gw, err := gateway.New(
//	    gateway.WithFileConfig("config.yaml"),
//	    gateway.WithSQLite("./data/campaigns.db"),
//	)
var New = runtime.New

// Configuration options
var (
	// Config sources
	WithFileConfig = runtime.WithFileConfig
	WithConfig     = runtime.WithConfig

	// Storage
	WithMemoryStore = runtime.WithMemoryStore
	WithSQLite      = runtime.WithSQLite
	WithStore       = runtime.WithStore

	// Advanced options
	WithLogger         = runtime.WithLogger
	WithCompleter      = runtime.WithCompleter
	WithLimiter        = runtime.WithLimiter
	WithCallbackClient = runtime.WithCallbackClient
)
