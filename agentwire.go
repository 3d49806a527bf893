// Package agentwire provides a top-level convenience entry point for
// assembling the protocol runtime with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentwire"
//
//	p, err := agentwire.New(agentwire.WithLogger(logger))
//	p.Start(ctx)
//	defer p.Close()
//
// This is a thin wrapper around [protocol.New]; both produce identical
// results. Use this package when you prefer the shorter import path.
package agentwire

import (
	"github.com/BaSui01/agentwire/config"
	"github.com/BaSui01/agentwire/protocol"
)

// Option configures the runtime created by [New].
type Option = protocol.Option

// New assembles a [protocol.Protocol] with the default configuration.
func New(opts ...Option) (*protocol.Protocol, error) {
	return protocol.New(config.DefaultConfig(), opts...)
}

// NewWithConfig assembles a [protocol.Protocol] from an explicit config.
func NewWithConfig(cfg *config.Config, opts ...Option) (*protocol.Protocol, error) {
	return protocol.New(cfg, opts...)
}

// Re-export options so callers never need to import protocol/.

// WithLogger sets the logger shared by all components.
var WithLogger = protocol.WithLogger

// WithMetrics attaches a metrics collector.
var WithMetrics = protocol.WithMetrics
