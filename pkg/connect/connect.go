// Package connect builds transport spawners from a connection kind and loosely typed
// endpoint parameters, as found in inventory files and API requests.
//
//	f := connect.New(connect.WithLogger(logger))
//	sp, err := f.Spawner("ssh", map[string]any{"host": "10.0.0.1", "user": "admin", "password": "secret"})
package connect

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/adapters/memory"
	"github.com/aretw0/promptgraph/pkg/adapters/process"
	"github.com/aretw0/promptgraph/pkg/adapters/serial"
	"github.com/aretw0/promptgraph/pkg/adapters/ssh"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/transport"
	"github.com/mitchellh/mapstructure"
	"golang.org/x/crypto/ssh/knownhosts"
)

// Built-in connection kinds.
const (
	KindSSH     = "ssh"
	KindTelnet  = "telnet"
	KindProcess = "process"
	KindSerial  = "serial"
	KindMemory  = "memory"
)

// Builder turns decoded parameters into a Spawner.
type Builder func(f *Factory, params map[string]any) (ports.Spawner, error)

// Factory maps connection kinds to spawner builders.
type Factory struct {
	logger        *slog.Logger
	transportOpts []transport.Option

	mu       sync.RWMutex
	builders map[string]Builder
}

// Option configures the Factory.
type Option func(*Factory)

// WithLogger sets the logger handed to every adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Factory) {
		f.logger = logger
	}
}

// WithTransportOptions applies opts to every transport the spawners create,
// e.g. transport.WithTranscript.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(f *Factory) {
		f.transportOpts = append(f.transportOpts, opts...)
	}
}

// WithBuilder registers or replaces the builder of kind.
func WithBuilder(kind string, b Builder) Option {
	return func(f *Factory) {
		f.builders[kind] = b
	}
}

// New creates a Factory knowing the built-in kinds.
func New(opts ...Option) *Factory {
	f := &Factory{
		logger: logging.NewNop(),
		builders: map[string]Builder{
			KindSSH:     buildSSH,
			KindTelnet:  buildTelnet,
			KindProcess: buildProcess,
			KindSerial:  buildSerial,
			KindMemory:  buildMemory,
		},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Register adds a builder for kind, replacing any previous one.
func (f *Factory) Register(kind string, b Builder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.builders[kind] = b
}

// Kinds lists the registered kinds in order.
func (f *Factory) Kinds() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	kinds := make([]string, 0, len(f.builders))
	for k := range f.builders {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Spawner builds a Spawner for kind from params.
func (f *Factory) Spawner(kind string, params map[string]any) (ports.Spawner, error) {
	f.mu.RLock()
	b, ok := f.builders[kind]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown connection kind %q (known: %v)", kind, f.Kinds())
	}
	sp, err := b(f, params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	f.logger.Debug("spawner built", "kind", kind, "endpoint", sp.String())
	return sp, nil
}

// Dial builds a Spawner and opens a live Transport with it.
func (f *Factory) Dial(ctx context.Context, kind string, params map[string]any) (ports.Transport, error) {
	sp, err := f.Spawner(kind, params)
	if err != nil {
		return nil, err
	}
	return sp.Spawn(ctx)
}

// Decode fills out from params, accepting "10s" style durations and
// comma-separated lists. Unknown keys are rejected.
func Decode(params map[string]any, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("invalid parameters: %w", err)
	}
	return nil
}

type sshParams struct {
	ssh.Config `mapstructure:",squash"`
	KeyFile    string `mapstructure:"key_file"`
	KnownHosts string `mapstructure:"known_hosts"`
}

func buildSSH(f *Factory, params map[string]any) (ports.Spawner, error) {
	var p sshParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	if p.KeyFile != "" {
		key, err := os.ReadFile(p.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file: %w", err)
		}
		p.PrivateKey = key
	}
	if p.KnownHosts != "" {
		cb, err := knownhosts.New(p.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("known hosts: %w", err)
		}
		p.HostKeyCallback = cb
	}
	return ssh.NewSpawner(&p.Config, ssh.WithLogger(f.logger), ssh.WithTransportOptions(f.transportOpts...))
}

type telnetParams struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

func buildTelnet(f *Factory, params map[string]any) (ports.Spawner, error) {
	var p telnetParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	if p.Host == "" {
		return nil, fmt.Errorf("host is required")
	}
	return process.NewSpawner(process.Telnet(p.Host, p.Port),
		process.WithLogger(f.logger), process.WithTransportOptions(f.transportOpts...)), nil
}

func buildProcess(f *Factory, params map[string]any) (ports.Spawner, error) {
	var cfg process.Config
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Command == "" {
		return nil, fmt.Errorf("command is required")
	}
	return process.NewSpawner(cfg,
		process.WithLogger(f.logger), process.WithTransportOptions(f.transportOpts...)), nil
}

func buildSerial(f *Factory, params map[string]any) (ports.Spawner, error) {
	var cfg serial.Config
	if err := Decode(params, &cfg); err != nil {
		return nil, err
	}
	if cfg.Device == "" {
		return nil, fmt.Errorf("device is required")
	}
	if _, err := cfg.Mode(); err != nil {
		return nil, err
	}
	return serial.NewSpawner(cfg,
		serial.WithLogger(f.logger), serial.WithTransportOptions(f.transportOpts...)), nil
}

type memoryParams struct {
	Username       string            `mapstructure:"username"`
	Password       string            `mapstructure:"password"`
	EnablePassword string            `mapstructure:"enable_password"`
	Hostname       string            `mapstructure:"hostname"`
	Responses      map[string]string `mapstructure:"responses"`
}

// buildMemory simulates a router console, for demos and dry runs.
func buildMemory(f *Factory, params map[string]any) (ports.Spawner, error) {
	var p memoryParams
	if err := Decode(params, &p); err != nil {
		return nil, err
	}
	if p.Username == "" {
		p.Username = "admin"
	}
	var opts []memory.RouterOption
	if p.Hostname != "" {
		opts = append(opts, memory.WithHostname(p.Hostname))
	}
	if p.EnablePassword != "" {
		opts = append(opts, memory.WithEnablePassword(p.EnablePassword))
	}
	for cmd, out := range p.Responses {
		opts = append(opts, memory.WithResponse(cmd, out))
	}
	router := memory.NewRouter(p.Username, p.Password, opts...)
	return memory.RouterSpawner(router, f.transportOpts...), nil
}
