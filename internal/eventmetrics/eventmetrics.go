// SPDX-License-Identifier: GPL-3.0-or-later

// Package eventmetrics counts structured log events with Prometheus.
//
// The [*Handler] wraps a [slog.Handler] and increments a counter for each
// record, labeled by message (e.g., "frameRetransmit"). Records carrying a
// non-empty errClass attribute also increment an error counter labeled by
// message and class. All records are counted, including those the wrapped
// handler is not enabled for.
package eventmetrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the metrics.
type Config struct {
	// Namespace is the metrics namespace (default: "ipkchat").
	Namespace string

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures the metrics.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

func defaultConfig() Config {
	return Config{
		Namespace: "ipkchat",
		Registry:  prometheus.DefaultRegisterer,
	}
}

// Handler is a [slog.Handler] counting records.
type Handler struct {
	errors *prometheus.CounterVec
	events *prometheus.CounterVec
	next   slog.Handler
}

var _ slog.Handler = &Handler{}

// New registers the counters and returns a [*Handler] forwarding to next.
//
// It panics if the counters are already registered with the registry.
func New(next slog.Handler, opts ...Option) *Handler {
	config := defaultConfig()
	for _, opt := range opts {
		opt(&config)
	}
	factory := promauto.With(config.Registry)

	return &Handler{
		events: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "events_total",
			Help:      "Total number of structured log events by message",
		}, []string{"event"}),

		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "event_errors_total",
			Help:      "Total number of structured log events reporting an error",
		}, []string{"event", "error_class"}),

		next: next,
	}
}

// Enabled implements [slog.Handler].
//
// It always returns true so that every event is counted.
func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return true
}

// Handle implements [slog.Handler].
func (h *Handler) Handle(ctx context.Context, record slog.Record) error {
	h.events.WithLabelValues(record.Message).Inc()
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key != "errClass" {
			return true
		}
		if class := attr.Value.String(); class != "" {
			h.errors.WithLabelValues(record.Message, class).Inc()
		}
		return false
	})

	if !h.next.Enabled(ctx, record.Level) {
		return nil
	}
	return h.next.Handle(ctx, record)
}

// WithAttrs implements [slog.Handler].
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &Handler{errors: h.errors, events: h.events, next: h.next.WithAttrs(attrs)}
}

// WithGroup implements [slog.Handler].
func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{errors: h.errors, events: h.events, next: h.next.WithGroup(name)}
}
