// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector records runtime metrics for the protocol components.
type Collector struct {
	// HTTP metrics
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Directory metrics
	agentsRegistered prometheus.Gauge
	agentsActive     prometheus.Gauge

	// Task metrics
	taskTransitionsTotal *prometheus.CounterVec
	taskDuration         *prometheus.HistogramVec

	// Exchange metrics
	messagesRoutedTotal    *prometheus.CounterVec
	messageRoutingDuration prometheus.Histogram

	// Broadcast metrics
	eventsPublishedTotal *prometheus.CounterVec
	subscriberDropsTotal prometheus.Counter
	subscribersConnected prometheus.Gauge

	logger *zap.Logger
}

// NewCollector creates a collector registered under the given namespace.
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	c.httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	c.agentsRegistered = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_registered",
			Help:      "Number of agent cards in the directory",
		},
	)

	c.agentsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_active",
			Help:      "Number of active agent cards in the directory",
		},
	)

	c.taskTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_transitions_total",
			Help:      "Total number of accepted task state transitions",
		},
		[]string{"from_state", "to_state"},
	)

	c.taskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Time from task creation to a terminal state",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300},
		},
		[]string{"final_state"},
	)

	c.messagesRoutedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_routed_total",
			Help:      "Total number of message routing attempts",
		},
		[]string{"outcome"}, // outcome: delivered, duplicate, rejected, failed
	)

	c.messageRoutingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_routing_duration_seconds",
			Help:      "Message routing duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	c.eventsPublishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Total number of published events",
		},
		[]string{"event_type"},
	)

	c.subscriberDropsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "subscriber_drops_total",
			Help:      "Total number of subscribers dropped for overflow",
		},
	)

	c.subscribersConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscribers_connected",
			Help:      "Number of attached event subscribers",
		},
	)

	logger.Info("metrics collector initialized", zap.String("namespace", namespace))

	return c
}

// RecordHTTPRequest records one HTTP request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, statusCode(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// SetAgentCounts records the directory size.
func (c *Collector) SetAgentCounts(registered, active int) {
	c.agentsRegistered.Set(float64(registered))
	c.agentsActive.Set(float64(active))
}

// RecordTaskTransition records one accepted task transition.
func (c *Collector) RecordTaskTransition(fromState, toState string) {
	c.taskTransitionsTotal.WithLabelValues(fromState, toState).Inc()
}

// RecordTaskDuration records the lifetime of a task that reached a
// terminal state.
func (c *Collector) RecordTaskDuration(finalState string, lifetime time.Duration) {
	c.taskDuration.WithLabelValues(finalState).Observe(lifetime.Seconds())
}

// RecordMessageRouted records one routing attempt with its outcome.
func (c *Collector) RecordMessageRouted(outcome string, duration time.Duration) {
	c.messagesRoutedTotal.WithLabelValues(outcome).Inc()
	c.messageRoutingDuration.Observe(duration.Seconds())
}

// RecordEventPublished records one published event.
func (c *Collector) RecordEventPublished(eventType string) {
	c.eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

// RecordSubscriberDrop records a subscriber dropped for overflow.
func (c *Collector) RecordSubscriberDrop() {
	c.subscriberDropsTotal.Inc()
}

// SetSubscribersConnected records the current subscriber count.
func (c *Collector) SetSubscribersConnected(n int) {
	c.subscribersConnected.Set(float64(n))
}

// statusCode buckets an HTTP status code as a label value.
func statusCode(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500:
		return "5xx"
	default:
		return "unknown"
	}
}
