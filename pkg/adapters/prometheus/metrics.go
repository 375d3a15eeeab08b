// Package prometheus exports session activity as Prometheus metrics.
//
// Metrics implements ports.Publisher for values published by device modules and
// offers lifecycle hooks that count transitions, commands and reconnects.
package prometheus

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "promptgraph"

var _ ports.Publisher = (*Metrics)(nil)

// Metrics owns the collectors registered for a process.
type Metrics struct {
	registry prometheus.Registerer
	gatherer prometheus.Gatherer

	transitions       *prometheus.CounterVec
	transitionSeconds *prometheus.HistogramVec
	commands          *prometheus.CounterVec
	commandSeconds    *prometheus.HistogramVec
	reconnects        *prometheus.CounterVec
	published         *prometheus.GaugeVec
}

// Option configures Metrics.
type Option func(*options)

type options struct {
	namespace string
	registry  *prometheus.Registry
	buckets   []float64
}

// WithNamespace replaces DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(o *options) {
		o.namespace = ns
	}
}

// WithRegistry registers the collectors on reg instead of the default registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = reg
	}
}

// WithBuckets sets the histogram buckets, in seconds.
func WithBuckets(buckets ...float64) Option {
	return func(o *options) {
		o.buckets = buckets
	}
}

// New creates and registers the collectors.
func New(opts ...Option) (*Metrics, error) {
	o := options{namespace: DefaultNamespace, buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(&o)
	}

	m := &Metrics{
		registry: prometheus.DefaultRegisterer,
		gatherer: prometheus.DefaultGatherer,
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "transitions_total",
			Help:      "State transitions attempted, by source, destination and result.",
		}, []string{"session", "from", "to", "result"}),
		transitionSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "transition_duration_seconds",
			Help:      "Time spent on a single hop.",
			Buckets:   o.buckets,
		}, []string{"from", "to"}),
		commands: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "commands_total",
			Help:      "Commands executed, by state and result.",
		}, []string{"session", "state", "result"}),
		commandSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: o.namespace,
			Name:      "command_duration_seconds",
			Help:      "Time from sending a command to its prompt returning.",
			Buckets:   o.buckets,
		}, []string{"state"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: o.namespace,
			Name:      "reconnects_total",
			Help:      "Recovery attempts after a lost connection.",
		}, []string{"session", "result"}),
		published: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: o.namespace,
			Name:      "published_value",
			Help:      "Last value published by a device module under a name.",
		}, []string{"name"}),
	}
	if o.registry != nil {
		m.registry = o.registry
		m.gatherer = o.registry
	}

	for _, c := range m.collectors() {
		if err := m.registry.Register(c); err != nil {
			return nil, fmt.Errorf("register metrics: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.transitions, m.transitionSeconds,
		m.commands, m.commandSeconds,
		m.reconnects, m.published,
	}
}

var invalidName = regexp.MustCompile(`[^a-zA-Z0-9_:]+`)

// Publish records value under name. Names are normalized to a valid label value,
// "cpu.load" and "cpu_load" share a series.
func (m *Metrics) Publish(name string, value float64) error {
	name = strings.Trim(invalidName.ReplaceAllString(name, "_"), "_")
	if name == "" {
		return fmt.Errorf("publish: empty metric name")
	}
	m.published.WithLabelValues(name).Set(value)
	return nil
}

// Hooks returns lifecycle hooks that feed the counters.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			m.transitions.WithLabelValues(e.SessionID, e.From, e.To, result(e.Err)).Inc()
			m.transitionSeconds.WithLabelValues(e.From, e.To).Observe(e.Duration.Seconds())
		},
		OnCommand: func(_ context.Context, e *domain.CommandEvent) {
			m.commands.WithLabelValues(e.SessionID, e.State, result(e.Err)).Inc()
			m.commandSeconds.WithLabelValues(e.State).Observe(e.Duration.Seconds())
		},
		OnReconnect: func(_ context.Context, e *domain.ReconnectEvent) {
			m.reconnects.WithLabelValues(e.SessionID, result(e.Err)).Inc()
		},
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// Unregister removes the collectors, for tests and short-lived tools.
func (m *Metrics) Unregister() {
	for _, c := range m.collectors() {
		m.registry.Unregister(c)
	}
}

func result(err error) string {
	if err == nil {
		return "ok"
	}
	var bad *domain.BadCommandError
	var timeout *domain.TimeoutError
	var dialogTimeout *domain.DialogTimeoutError
	var ioErr *domain.TransportIOError
	switch {
	case errors.As(err, &bad):
		return "rejected"
	case errors.As(err, &timeout), errors.As(err, &dialogTimeout):
		return "timeout"
	case errors.As(err, &ioErr):
		return "io"
	}
	return "error"
}
