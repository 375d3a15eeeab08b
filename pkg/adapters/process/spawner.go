package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/transport"
)

// DefaultKillGrace is how long Close waits for the program to exit after its
// input is closed before killing it.
const DefaultKillGrace = 2 * time.Second

// Spawner starts a program per connection and talks to it over its standard
// streams. Standard error is merged into the output.
type Spawner struct {
	cfg       Config
	logger    *slog.Logger
	killGrace time.Duration
	opts      []transport.Option
}

// Option configures the Spawner.
type Option func(*Spawner)

// WithLogger sets the spawner logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Spawner) {
		s.logger = logger
	}
}

// WithKillGrace sets the pause between closing input and killing the program.
func WithKillGrace(d time.Duration) Option {
	return func(s *Spawner) {
		s.killGrace = d
	}
}

// WithTransportOptions passes options to every transport created.
func WithTransportOptions(opts ...transport.Option) Option {
	return func(s *Spawner) {
		s.opts = append(s.opts, opts...)
	}
}

// NewSpawner creates a Spawner for cfg.
func NewSpawner(cfg Config, opts ...Option) *Spawner {
	s := &Spawner{
		cfg:       cfg,
		logger:    logging.NewNop(),
		killGrace: DefaultKillGrace,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.Spawner = (*Spawner)(nil)

// Spawn starts the program. Its exit ends the transport with domain.ErrInputOutput.
func (s *Spawner) Spawn(ctx context.Context) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.cfg.Command == "" {
		return nil, fmt.Errorf("process: no command configured")
	}

	cmd := exec.Command(s.cfg.Command, s.cfg.Args...)
	cmd.Dir = s.cfg.Dir
	env := cmd.Environ()
	for k, v := range s.cfg.Environment {
		env = append(env, k+"="+v)
	}
	cmd.Env = env

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("process %s: %w", s.cfg, err)
	}
	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("process %s: start: %w", s.cfg, err)
	}
	s.logger.Debug("process started", "command", s.cfg.String(), "pid", cmd.Process.Pid)

	c := &conn{cmd: cmd, stdin: stdin, out: pr, exited: make(chan struct{}), grace: s.killGrace}
	go func() {
		err := cmd.Wait()
		close(c.exited)
		if err != nil {
			s.logger.Debug("process exited", "command", s.cfg.String(), "err", err)
			pw.CloseWithError(fmt.Errorf("%w: process exited: %v", domain.ErrInputOutput, err))
			return
		}
		pw.CloseWithError(fmt.Errorf("%w: process exited", domain.ErrInputOutput))
	}()

	opts := append([]transport.Option{transport.WithName(s.cfg.String()), transport.WithLogger(s.logger)}, s.opts...)
	return transport.New(c, opts...), nil
}

func (s *Spawner) String() string {
	return "process://" + s.cfg.String()
}

// conn joins the program's streams into an io.ReadWriteCloser.
type conn struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	out     *io.PipeReader
	exited  chan struct{}
	grace   time.Duration

	closeOnce sync.Once
}

func (c *conn) Read(p []byte) (int, error) {
	return c.out.Read(p)
}

func (c *conn) Write(p []byte) (int, error) {
	select {
	case <-c.exited:
		return 0, fmt.Errorf("%w: process exited", domain.ErrInputOutput)
	default:
	}
	return c.stdin.Write(p)
}

// Close closes the program's input, then kills it if it does not exit within the grace period.
func (c *conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		_ = c.stdin.Close()
		select {
		case <-c.exited:
		case <-time.After(c.grace):
			if kerr := c.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = kerr
			}
			<-c.exited
		}
		_ = c.out.Close()
	})
	return err
}
