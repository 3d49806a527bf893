package protocol

import (
	"go.uber.org/zap"

	"github.com/BaSui01/agentwire/internal/metrics"
)

// Option configures the Protocol.
type Option func(*Protocol)

// WithLogger sets the logger shared by all components.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Protocol) {
		p.logger = logger
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Collector) Option {
	return func(p *Protocol) {
		p.metrics = collector
	}
}
