package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/retry"
)

const (
	// DefaultHopTimeout bounds a single hop (command + dialog + prompt).
	DefaultHopTimeout = 30 * time.Second
	// DefaultProbeWait is how long a probe waits for the device to answer a blank line.
	DefaultProbeWait = 500 * time.Millisecond
)

// Engine executes transitions over a state graph.
// It is stateless between calls: the caller owns the confirmed state.
type Engine struct {
	graph      *graph.Graph
	logger     *slog.Logger
	hooks      domain.LifecycleHooks
	hopTimeout time.Duration
	probeWait  time.Duration
	clock      retry.Clock
}

// Option configures the Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLifecycleHooks registers transition callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(e *Engine) {
		e.hooks = hooks
	}
}

// WithHopTimeout sets the default budget of a hop.
func WithHopTimeout(d time.Duration) Option {
	return func(e *Engine) {
		e.hopTimeout = d
	}
}

// WithProbeWait sets the pause between the probe's blank line and reading the answer.
func WithProbeWait(d time.Duration) Option {
	return func(e *Engine) {
		e.probeWait = d
	}
}

// WithClock replaces the wall clock used for probe pauses.
func WithClock(clock retry.Clock) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// NewEngine creates an engine for g.
func NewEngine(g *graph.Graph, opts ...Option) *Engine {
	e := &Engine{
		graph:      g,
		logger:     logging.NewNop(),
		hopTimeout: DefaultHopTimeout,
		probeWait:  DefaultProbeWait,
		clock:      retry.SystemClock,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Graph returns the graph the engine routes over.
func (e *Engine) Graph() *graph.Graph {
	return e.graph
}

// Request describes a transition.
type Request struct {
	// Target is a state of the graph, or domain.Any.
	Target *domain.State
	// Acceptable restricts domain.Any to a set of states. Empty accepts any known state.
	Acceptable []*domain.State
	// HopWise allows multi-hop routes found by breadth-first search.
	HopWise bool
	// Timeout overrides the per-hop budget.
	Timeout time.Duration
	// Dialog adds rules to every hop, after the path's own rules.
	Dialog *dialog.Dialog
	// Context is shared by dialog actions and command templates.
	Context *domain.Context
	// SessionID labels events and logs.
	SessionID string
}

// GoTo moves the device from current to req.Target and returns the last
// positively confirmed state. On error the returned state is still the last
// confirmed one: it never advances past a hop whose prompt was not observed.
func (e *Engine) GoTo(ctx context.Context, t ports.Transport, current *domain.State, req Request) (*domain.State, error) {
	target := req.Target
	if target == nil {
		return current, fmt.Errorf("goto: nil target")
	}
	if target == domain.Unknown {
		return current, fmt.Errorf("goto: %q is not a valid target", target.Name)
	}
	if target != domain.Any && !e.graph.Has(target) {
		return current, fmt.Errorf("goto %q: %w", target.Name, domain.ErrStateNotFound)
	}
	for _, s := range req.Acceptable {
		if !e.graph.Has(s) {
			return current, fmt.Errorf("acceptable state %q: %w", s.Name, domain.ErrStateNotFound)
		}
	}
	if current == nil {
		current = domain.Unknown
	}
	if req.Context == nil {
		req.Context = domain.NewContext()
	}

	if target == current {
		return current, nil
	}

	if current == domain.Unknown {
		found, err := e.Probe(ctx, t)
		if err != nil {
			return domain.Unknown, err
		}
		current = found
	}

	if target == domain.Any {
		if len(req.Acceptable) == 0 || contains(req.Acceptable, current) {
			return current, nil
		}
		return e.route(ctx, t, current, req.Acceptable, req)
	}
	return e.route(ctx, t, current, []*domain.State{target}, req)
}

// Probe sends a blank line and classifies whatever the device prints.
// A probe that matches no state fails with *domain.UnresolvedStateError and is not retried.
func (e *Engine) Probe(ctx context.Context, t ports.Transport) (*domain.State, error) {
	if err := t.SendLine(""); err != nil {
		return domain.Unknown, err
	}
	if err := e.clock.Sleep(ctx, e.probeWait); err != nil {
		return domain.Unknown, err
	}
	out, _ := t.Read()

	s, ok := e.graph.StateFor(out)
	if !ok {
		e.logger.Warn("probe could not resolve state", "output", out)
		return domain.Unknown, &domain.UnresolvedStateError{Buffer: out}
	}
	e.logger.Debug("probe resolved state", "state", s.Name)
	return s, nil
}

func contains(states []*domain.State, s *domain.State) bool {
	for _, c := range states {
		if c == s {
			return true
		}
	}
	return false
}
