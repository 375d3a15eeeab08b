package promptgraph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/promptgraph/internal/compiler"
	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/internal/presentation/graph"
	"github.com/aretw0/promptgraph/internal/validator"
	"github.com/aretw0/promptgraph/pkg/connect"
	"github.com/aretw0/promptgraph/pkg/domain"
	pgraph "github.com/aretw0/promptgraph/pkg/graph"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/aretw0/promptgraph/pkg/transport"
)

// Version is the release version, overridden at build time with -ldflags.
var Version = "0.1.0-dev"

// Device is a compiled device definition, ready to open sessions.
type Device struct {
	def           *compiler.Definition
	logger        *slog.Logger
	hooks         domain.LifecycleHooks
	transportOpts []transport.Option
}

// Option configures a Device.
type Option func(*Device)

// WithLogger sets the logger handed to sessions and transports.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) {
		d.logger = logger
	}
}

// WithLifecycleHooks registers observability hooks on every session.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(d *Device) {
		d.hooks = d.hooks.Merge(hooks)
	}
}

// WithTransportOptions applies opts to transports opened by Dial.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(d *Device) {
		d.transportOpts = append(d.transportOpts, opts...)
	}
}

// Load compiles the device definition at path.
func Load(path string, opts ...Option) (*Device, error) {
	def, err := compiler.Load(path)
	if err != nil {
		return nil, err
	}
	return newDevice(def, opts), nil
}

// Parse compiles a device definition held in memory.
func Parse(data []byte, opts ...Option) (*Device, error) {
	df, err := compiler.Parse(data)
	if err != nil {
		return nil, err
	}
	def, err := compiler.Compile(df)
	if err != nil {
		return nil, err
	}
	return newDevice(def, opts), nil
}

func newDevice(def *compiler.Definition, opts []Option) *Device {
	d := &Device{def: def, logger: logging.NewNop()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Graph returns the state graph of the device.
func (d *Device) Graph() *pgraph.Graph { return d.def.Graph }

// Entry returns the declared entry state, or the first state.
func (d *Device) Entry() *domain.State {
	if d.def.Entry != nil {
		return d.def.Entry
	}
	if states := d.def.Graph.States(); len(states) > 0 {
		return states[0]
	}
	return nil
}

// Validate reports states unreachable from the entry state and states with no way out.
func (d *Device) Validate() error {
	entry := ""
	if e := d.Entry(); e != nil {
		entry = e.Name
	}
	return validator.ValidateGraph(d.def.Graph, entry)
}

// Mermaid renders the graph as a Mermaid flowchart.
func (d *Device) Mermaid() string {
	entry := ""
	if e := d.Entry(); e != nil {
		entry = e.Name
	}
	return graph.GenerateMermaid(d.def.Graph, entry, nil)
}

// NewSession creates an unconnected session on spawner. opts are applied
// after the ones implied by the definition.
func (d *Device) NewSession(spawner ports.Spawner, opts ...session.Option) *session.Session {
	base := []session.Option{
		session.WithLogger(d.logger),
		session.WithLifecycleHooks(d.hooks),
	}
	base = append(base, d.def.SessionOptions()...)
	return session.New(d.def.Graph, spawner, append(base, opts...)...)
}

// Open creates a session on spawner and connects it.
func (d *Device) Open(ctx context.Context, spawner ports.Spawner, opts ...session.Option) (*session.Session, error) {
	s := d.NewSession(spawner, opts...)
	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Dial opens a session over a connection kind known to connect.Factory,
// e.g. "ssh" with host, user and password parameters.
func (d *Device) Dial(ctx context.Context, kind string, params map[string]any, opts ...session.Option) (*session.Session, error) {
	f := connect.New(connect.WithLogger(d.logger), connect.WithTransportOptions(d.transportOpts...))
	sp, err := f.Spawner(kind, params)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return d.Open(ctx, sp, opts...)
}

// ReconnectPolicy completes p with the disconnect markers of the definition.
func (d *Device) ReconnectPolicy(p session.ReconnectPolicy) session.ReconnectPolicy {
	return d.def.ReconnectPolicy(p)
}
