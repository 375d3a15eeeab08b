// Package cli wires the inventory to sessions for the command-line tool.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/aretw0/promptgraph/internal/compiler"
	"github.com/aretw0/promptgraph/internal/config"
	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/internal/redact"
	"github.com/aretw0/promptgraph/pkg/adapters/redis"
	"github.com/aretw0/promptgraph/pkg/connect"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/aretw0/promptgraph/pkg/transport"
)

// Env opens sessions for the devices of an inventory.
type Env struct {
	cfg      *config.Config
	logger   *slog.Logger
	hooks    domain.LifecycleHooks
	builders map[string]connect.Builder

	mu      sync.Mutex
	defs    map[string]*compiler.Definition
	closers []io.Closer
}

// EnvOption configures an Env.
type EnvOption func(*Env)

// WithLogger sets the logger handed to sessions and transports.
func WithLogger(logger *slog.Logger) EnvOption {
	return func(e *Env) {
		e.logger = logger
	}
}

// WithHooks adds lifecycle hooks to every session opened.
func WithHooks(hooks domain.LifecycleHooks) EnvOption {
	return func(e *Env) {
		e.hooks = e.hooks.Merge(hooks)
	}
}

// WithBuilder registers an extra connection kind.
func WithBuilder(kind string, b connect.Builder) EnvOption {
	return func(e *Env) {
		e.builders[kind] = b
	}
}

// NewEnv creates an Env for cfg.
func NewEnv(cfg *config.Config, opts ...EnvOption) *Env {
	e := &Env{
		cfg:      cfg,
		logger:   logging.NewNop(),
		builders: make(map[string]connect.Builder),
		defs:     make(map[string]*compiler.Definition),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Observe adds hooks to the sessions opened from now on.
func (e *Env) Observe(hooks domain.LifecycleHooks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.hooks = e.hooks.Merge(hooks)
}

// Config returns the inventory.
func (e *Env) Config() *config.Config { return e.cfg }

// Definition loads and caches the definition of a device.
func (e *Env) Definition(device string) (*compiler.Definition, error) {
	dev, err := e.cfg.Device(device)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if def, ok := e.defs[dev.Definition]; ok {
		return def, nil
	}
	def, err := compiler.Load(dev.Definition)
	if err != nil {
		return nil, err
	}
	e.defs[dev.Definition] = def
	return def, nil
}

// SessionOptions derives the session options of a device from its inventory
// entry and definition.
func (e *Env) SessionOptions(device string, def *compiler.Definition) ([]session.Option, error) {
	dev, err := e.cfg.Device(device)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	hooks := e.hooks
	e.mu.Unlock()
	opts := []session.Option{
		session.WithID(device),
		session.WithLogger(e.logger),
		session.WithLifecycleHooks(hooks),
		session.WithCredentials(dev.Credentials),
	}
	opts = append(opts, def.SessionOptions()...)
	if p := dev.Reconnect.Policy(); p.Enabled {
		opts = append(opts, session.WithReconnect(def.ReconnectPolicy(p)))
	}
	if dev.HopWise != nil {
		opts = append(opts, session.WithHopWise(*dev.HopWise))
	}
	if dev.CommandTimeout > 0 {
		opts = append(opts, session.WithCommandTimeout(dev.CommandTimeout))
	}
	if dev.HopTimeout > 0 {
		opts = append(opts, session.WithHopTimeout(dev.HopTimeout))
	}
	if dev.ProbeWait > 0 {
		opts = append(opts, session.WithProbeWait(dev.ProbeWait))
	}
	return opts, nil
}

func (e *Env) factory(dev config.Device) (*connect.Factory, error) {
	var topts []transport.Option
	if dev.Transcript != "" {
		f, err := os.OpenFile(dev.Transcript, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open transcript: %w", err)
		}
		e.mu.Lock()
		e.closers = append(e.closers, f)
		e.mu.Unlock()
		secrets := redact.NewWriter(f, dev.Credentials.Password, dev.Credentials.EnablePassword)
		topts = append(topts, transport.WithTranscript(secrets))
	}
	opts := []connect.Option{
		connect.WithLogger(e.logger),
		connect.WithTransportOptions(topts...),
	}
	for kind, b := range e.builders {
		opts = append(opts, connect.WithBuilder(kind, b))
	}
	return connect.New(opts...), nil
}

// New creates an unconnected session for device.
func (e *Env) New(device string, extra ...session.Option) (*session.Session, error) {
	dev, err := e.cfg.Device(device)
	if err != nil {
		return nil, err
	}
	def, err := e.Definition(device)
	if err != nil {
		return nil, err
	}
	f, err := e.factory(dev)
	if err != nil {
		return nil, err
	}
	e.logger.Debug("building spawner", "device", device, "kind", dev.Transport.Kind,
		"params", redact.Params(dev.Transport.Params))
	sp, err := f.Spawner(dev.Transport.Kind, dev.Transport.Params)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", device, err)
	}
	opts, err := e.SessionOptions(device, def)
	if err != nil {
		return nil, err
	}
	return session.New(def.Graph, sp, append(opts, extra...)...), nil
}

// Open creates and connects a session for device.
func (e *Env) Open(ctx context.Context, device string, extra ...session.Option) (*session.Session, error) {
	s, err := e.New(device, extra...)
	if err != nil {
		return nil, err
	}
	if err := s.Connect(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// NewManager returns a session manager, leasing consoles through Redis when
// the inventory configures it.
func (e *Env) NewManager() *session.Manager {
	opts := []session.ManagerOption{session.WithManagerLogger(e.logger)}
	if r := e.cfg.Redis; r != nil {
		var lopts []redis.Option
		if r.Prefix != "" {
			lopts = append(lopts, redis.WithPrefix(r.Prefix))
		}
		opts = append(opts, session.WithLocker(redis.Dial(r.Addr, r.Password, r.DB, lopts...)))
		if r.LockTTL > 0 {
			opts = append(opts, session.WithLockTTL(r.LockTTL))
		}
	}
	return session.NewManager(opts...)
}

// OpenAll opens every device of the inventory into m. Devices failing to open
// are logged and reported, joined; the others stay open.
func (e *Env) OpenAll(ctx context.Context, m *session.Manager) error {
	var errs []error
	for _, name := range e.cfg.DeviceNames() {
		_, err := m.Open(ctx, name, func(ctx context.Context) (*session.Session, error) {
			return e.Open(ctx, name)
		})
		if err != nil {
			e.logger.Error("device failed to open", "device", name, "err", err)
			errs = append(errs, fmt.Errorf("device %q: %w", name, err))
		}
	}
	return errors.Join(errs...)
}

// Close releases the transcript files.
func (e *Env) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	var errs []error
	for _, c := range e.closers {
		errs = append(errs, c.Close())
	}
	e.closers = nil
	return errors.Join(errs...)
}
