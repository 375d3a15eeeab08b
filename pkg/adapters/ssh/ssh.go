// Package ssh reaches device CLIs through an interactive SSH shell.
//
// Host key verification is disabled unless Config.HostKeyCallback is set.
package ssh

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/retry"
	"github.com/aretw0/promptgraph/pkg/transport"
)

const (
	defaultPort        = 22
	defaultDialTimeout = 10 * time.Second
	defaultMaxRetries  = 3
	defaultRetryDelay  = time.Second
	defaultMaxDelay    = 10 * time.Second
	defaultTerm        = "vt100"
	defaultWidth       = 511
	defaultHeight      = 24
)

// Config holds SSH connection settings.
type Config struct {
	Host       string `yaml:"host" mapstructure:"host"`
	Port       int    `yaml:"port" mapstructure:"port"`
	User       string `yaml:"user" mapstructure:"user"`
	Password   string `yaml:"password" mapstructure:"password"`
	PrivateKey []byte `yaml:"-" mapstructure:"-"`

	// DialTimeout is the timeout for establishing the TCP connection.
	DialTimeout time.Duration `yaml:"dial_timeout" mapstructure:"dial_timeout"`
	// MaxRetries is the maximum number of dial retry attempts.
	MaxRetries int `yaml:"max_retries" mapstructure:"max_retries"`
	// RetryDelay is the initial delay between dial attempts.
	RetryDelay time.Duration `yaml:"retry_delay" mapstructure:"retry_delay"`

	// Term, Width and Height describe the pseudo-terminal requested for the shell.
	Term   string `yaml:"term" mapstructure:"term"`
	Width  int    `yaml:"width" mapstructure:"width"`
	Height int    `yaml:"height" mapstructure:"height"`

	// HostKeyCallback handles host key verification.
	// If nil, ssh.InsecureIgnoreHostKey() is used.
	HostKeyCallback ssh.HostKeyCallback `yaml:"-" mapstructure:"-"`
}

// Spawner opens an SSH shell per connection.
type Spawner struct {
	config *Config
	auth   []ssh.AuthMethod
	logger *slog.Logger
	opts   []transport.Option
}

// Option configures the Spawner.
type Option func(*Spawner)

// WithLogger sets the spawner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spawner) {
		s.logger = logger
	}
}

// WithTransportOptions passes options to every transport created.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Spawner) {
		s.opts = append(s.opts, opts...)
	}
}

// NewSpawner validates cfg and prepares authentication.
// Password authentication also answers keyboard-interactive challenges.
func NewSpawner(cfg *Config, opts ...Option) (*Spawner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("config host cannot be empty")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("config user cannot be empty")
	}
	if cfg.Password == "" && len(cfg.PrivateKey) == 0 {
		return nil, fmt.Errorf("config needs a password or a private key")
	}

	c := *cfg
	if c.Port == 0 {
		c.Port = defaultPort
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay == 0 {
		c.RetryDelay = defaultRetryDelay
	}
	if c.Term == "" {
		c.Term = defaultTerm
	}
	if c.Width == 0 {
		c.Width = defaultWidth
	}
	if c.Height == 0 {
		c.Height = defaultHeight
	}
	if c.HostKeyCallback == nil {
		c.HostKeyCallback = ssh.InsecureIgnoreHostKey() //nolint:gosec // lab appliances rarely have stable host keys
	}

	s := &Spawner{config: &c, logger: logging.NewNop()}
	if len(c.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(c.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		s.auth = append(s.auth, ssh.PublicKeys(signer))
	}
	if c.Password != "" {
		password := c.Password
		s.auth = append(s.auth,
			ssh.Password(password),
			ssh.KeyboardInteractive(func(_, _ string, questions []string, _ []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = password
				}
				return answers, nil
			}),
		)
	}

	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

var _ ports.Spawner = (*Spawner)(nil)

func (s *Spawner) addr() string {
	return net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
}

func (s *Spawner) String() string {
	return "ssh://" + s.config.User + "@" + s.addr()
}

// Spawn dials with retries and starts an interactive shell on a pseudo-terminal.
// Authentication failures are not retried.
func (s *Spawner) Spawn(ctx context.Context) (ports.Transport, error) {
	client, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}

	session, err := client.NewSession()
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to create SSH session on %s: %w", s.config.Host, err)
	}

	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: 38400,
		ssh.TTY_OP_OSPEED: 38400,
	}
	if err := session.RequestPty(s.config.Term, s.config.Height, s.config.Width, modes); err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to request pty on %s: %w", s.config.Host, err)
	}

	stdin, err := session.StdinPipe()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := session.Shell(); err != nil {
		_ = session.Close()
		_ = client.Close()
		return nil, fmt.Errorf("failed to start shell on %s: %w", s.config.Host, err)
	}
	s.logger.Info("ssh shell opened", "endpoint", s.String())

	c := &conn{client: client, session: session, stdin: stdin, stdout: stdout}
	opts := append([]transport.Option{
		transport.WithName(s.String()),
		transport.WithLogger(s.logger),
		transport.WithNewline("\r"),
		transport.WithSanitizer(true),
	}, s.opts...)
	return transport.New(c, opts...), nil
}

func (s *Spawner) dial(ctx context.Context) (*ssh.Client, error) {
	config := &ssh.ClientConfig{
		User:            s.config.User,
		Auth:            s.auth,
		HostKeyCallback: s.config.HostKeyCallback,
		Timeout:         s.config.DialTimeout,
	}
	addr := s.addr()

	var client *ssh.Client
	err := retry.WithBackoff(ctx, func() error {
		d := net.Dialer{Timeout: s.config.DialTimeout}
		nc, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return err
		}
		cc, chans, reqs, err := ssh.NewClientConn(nc, addr, config)
		if err != nil {
			_ = nc.Close()
			if strings.Contains(err.Error(), "unable to authenticate") {
				return retry.Fatal(err)
			}
			return err
		}
		client = ssh.NewClient(cc, chans, reqs)
		return nil
	},
		retry.WithMaxRetries(s.config.MaxRetries),
		retry.WithInitialDelay(s.config.RetryDelay),
		retry.WithMaxDelay(defaultMaxDelay),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}
	return client, nil
}

// conn is the shell's standard streams.
type conn struct {
	client  *ssh.Client
	session *ssh.Session
	stdin   io.WriteCloser
	stdout  io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (c *conn) Read(p []byte) (int, error) {
	return c.stdout.Read(p)
}

func (c *conn) Write(p []byte) (int, error) {
	return c.stdin.Write(p)
}

func (c *conn) Close() error {
	c.closeOnce.Do(func() {
		_ = c.session.Close()
		c.closeErr = c.client.Close()
	})
	return c.closeErr
}
