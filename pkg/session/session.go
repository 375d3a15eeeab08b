package session

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/internal/runtime"
	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/retry"
)

// DefaultCommandTimeout bounds a single command when no Timeout option is given.
const DefaultCommandTimeout = 60 * time.Second

var (
	// DefaultBadCommandMarkers match the usual CLI rejection messages.
	DefaultBadCommandMarkers = []string{
		`% ?Invalid input`,
		`% ?Unknown command`,
		`% ?Incomplete command`,
		`% ?Ambiguous command`,
	}
	// DefaultBadConfigMarkers match configuration-mode rejections.
	DefaultBadConfigMarkers = []string{
		`% ?Invalid command`,
		`% ?Configuration (failed|error)`,
	}
)

// Session drives one physical connection to a device through its state graph.
// A Session is not safe for concurrent use, except for Close and the read-only
// accessors, which may be called from any goroutine.
type Session struct {
	id      string
	graph   *graph.Graph
	engine  *runtime.Engine
	spawner ports.Spawner
	logger  *slog.Logger
	hooks   domain.LifecycleHooks
	clock   retry.Clock
	dctx    *domain.Context

	hopWise        bool
	commandTimeout time.Duration
	hopTimeout     time.Duration
	probeWait      time.Duration
	badCommand     []*regexp.Regexp
	badConfig      []*regexp.Regexp
	configState    *domain.State
	connectDialog  *dialog.Dialog
	reconnect      ReconnectPolicy
	recovery       RecoveryHandler

	mu        sync.Mutex
	transport ports.Transport
	current   *domain.State
	closed    bool
}

// Option configures a Session.
type Option func(*Session)

// WithID names the session in logs and events (default: the spawner description).
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) { s.logger = logger }
}

// WithLifecycleHooks registers observability callbacks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(s *Session) { s.hooks = s.hooks.Merge(hooks) }
}

// WithClock replaces the wall clock used by verified retries and polling.
func WithClock(clock retry.Clock) Option {
	return func(s *Session) { s.clock = clock }
}

// WithHopWise makes multi-hop routing the default for GoTo.
func WithHopWise(enabled bool) Option {
	return func(s *Session) { s.hopWise = enabled }
}

// WithCredentials stores login secrets in the dialog context.
func WithCredentials(c domain.Credentials) Option {
	return func(s *Session) { c.Apply(s.dctx) }
}

// WithContext replaces the dialog context shared by every dialog of the session.
func WithContext(dc *domain.Context) Option {
	return func(s *Session) { s.dctx = dc }
}

// WithCommandTimeout sets the default budget of Execute.
func WithCommandTimeout(d time.Duration) Option {
	return func(s *Session) { s.commandTimeout = d }
}

// WithHopTimeout sets the default budget of one transition hop.
func WithHopTimeout(d time.Duration) Option {
	return func(s *Session) { s.hopTimeout = d }
}

// WithProbeWait sets how long probing waits for the device to answer.
func WithProbeWait(d time.Duration) Option {
	return func(s *Session) { s.probeWait = d }
}

// WithBadCommandMarkers replaces the patterns that flag a rejected command.
func WithBadCommandMarkers(patterns ...*regexp.Regexp) Option {
	return func(s *Session) { s.badCommand = patterns }
}

// WithBadConfigMarkers replaces the patterns that flag a rejected configuration line.
func WithBadConfigMarkers(patterns ...*regexp.Regexp) Option {
	return func(s *Session) { s.badConfig = patterns }
}

// WithConfigState makes Configure enter state before sending configuration lines.
func WithConfigState(state *domain.State) Option {
	return func(s *Session) { s.configState = state }
}

// WithConnectDialog runs d right after every (re)connect, before the state is probed.
// Console servers that want a key press or show a banner need one.
func WithConnectDialog(d *dialog.Dialog) Option {
	return func(s *Session) { s.connectDialog = d }
}

// WithReconnect enables automatic recovery from disconnects.
func WithReconnect(p ReconnectPolicy) Option {
	return func(s *Session) { s.reconnect = p }
}

// WithRecoveryHandler replaces the default respawn-and-walk-back recovery.
func WithRecoveryHandler(h RecoveryHandler) Option {
	return func(s *Session) { s.recovery = h }
}

// WithInitialState declares the state of an already positioned device, skipping the first probe.
func WithInitialState(state *domain.State) Option {
	return func(s *Session) { s.current = state }
}

// MustMarkers compiles marker patterns, panicking on invalid ones.
func MustMarkers(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		out[i] = regexp.MustCompile(p)
	}
	return out
}

// New creates a session for g that connects through spawner. Call Connect before use.
func New(g *graph.Graph, spawner ports.Spawner, opts ...Option) *Session {
	s := &Session{
		graph:          g,
		spawner:        spawner,
		logger:         logging.NewNop(),
		clock:          retry.SystemClock,
		dctx:           domain.NewContext(),
		commandTimeout: DefaultCommandTimeout,
		hopTimeout:     runtime.DefaultHopTimeout,
		probeWait:      runtime.DefaultProbeWait,
		badCommand:     MustMarkers(DefaultBadCommandMarkers...),
		badConfig:      MustMarkers(DefaultBadConfigMarkers...),
		current:        domain.Unknown,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" && spawner != nil {
		s.id = spawner.String()
	}
	s.logger = s.logger.With("session", s.id)
	s.engine = runtime.NewEngine(g,
		runtime.WithLogger(s.logger),
		runtime.WithLifecycleHooks(s.hooks),
		runtime.WithHopTimeout(s.hopTimeout),
		runtime.WithProbeWait(s.probeWait),
	)
	return s
}

// Open creates a session and connects it.
func Open(ctx context.Context, g *graph.Graph, spawner ports.Spawner, opts ...Option) (*Session, error) {
	s := New(g, spawner, opts...)
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// Connect spawns the transport and runs the connect dialog.
// The state stays as declared by WithInitialState, or Unknown.
func (s *Session) Connect(ctx context.Context) error {
	if s.spawner == nil {
		return fmt.Errorf("session %s: no spawner configured", s.id)
	}
	t, err := s.spawner.Spawn(ctx)
	if err != nil {
		return fmt.Errorf("session %s: connect %s: %w", s.id, s.spawner, err)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		_ = t.Close()
		return domain.ErrSessionClosed
	}
	s.transport = t
	s.mu.Unlock()

	if _, err := s.connectDialog.Process(ctx, t, s.hopTimeout, s.dctx); err != nil {
		return fmt.Errorf("session %s: connect dialog: %w", s.id, err)
	}
	s.logger.Info("connected", "endpoint", s.spawner.String())
	return nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// Graph returns the device graph.
func (s *Session) Graph() *graph.Graph { return s.graph }

// Context returns the dialog context shared by the session's dialogs.
func (s *Session) Context() *domain.Context { return s.dctx }

// Current returns the last confirmed state.
func (s *Session) Current() *domain.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Session) setCurrent(state *domain.State) {
	if state == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = state
}

// Transport returns the live transport, for callers that need raw access.
func (s *Session) Transport() (ports.Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrSessionClosed
	}
	if s.transport == nil {
		return nil, fmt.Errorf("session %s: not connected", s.id)
	}
	return s.transport, nil
}

// Close closes the transport. It may be called from any goroutine to cancel
// a pending operation, which then fails promptly with a transport error.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	t := s.transport
	s.mu.Unlock()

	if t == nil {
		return nil
	}
	s.logger.Info("closing session")
	return t.Close()
}

// Closed reports whether Close was called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
