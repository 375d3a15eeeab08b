// Package serial reaches device consoles over a local serial line.
package serial

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"go.bug.st/serial"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
	"github.com/aretw0/promptgraph/pkg/transport"
)

// Config describes a serial console line.
type Config struct {
	Device   string `yaml:"device" mapstructure:"device"`
	BaudRate int    `yaml:"baud" mapstructure:"baud"`
	DataBits int    `yaml:"data_bits" mapstructure:"data_bits"`
	// Parity is "none", "odd", "even", "mark" or "space".
	Parity   string `yaml:"parity" mapstructure:"parity"`
	StopBits int    `yaml:"stop_bits" mapstructure:"stop_bits"`
}

// Defaults are the usual console line settings, 9600 8N1.
var Defaults = Config{BaudRate: 9600, DataBits: 8, Parity: "none", StopBits: 1}

// Mode converts the configuration, filling unset fields from Defaults.
func (c Config) Mode() (*serial.Mode, error) {
	mode := &serial.Mode{
		BaudRate: c.BaudRate,
		DataBits: c.DataBits,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	if mode.BaudRate == 0 {
		mode.BaudRate = Defaults.BaudRate
	}
	if mode.DataBits == 0 {
		mode.DataBits = Defaults.DataBits
	}

	switch strings.ToLower(c.Parity) {
	case "", "none", "n":
	case "odd", "o":
		mode.Parity = serial.OddParity
	case "even", "e":
		mode.Parity = serial.EvenParity
	case "mark", "m":
		mode.Parity = serial.MarkParity
	case "space", "s":
		mode.Parity = serial.SpaceParity
	default:
		return nil, fmt.Errorf("serial: unknown parity %q", c.Parity)
	}

	switch c.StopBits {
	case 0, 1:
	case 2:
		mode.StopBits = serial.TwoStopBits
	default:
		return nil, fmt.Errorf("serial: unsupported stop bits %d", c.StopBits)
	}
	return mode, nil
}

// Opener opens a serial device.
type Opener func(device string, mode *serial.Mode) (io.ReadWriteCloser, error)

func openPort(device string, mode *serial.Mode) (io.ReadWriteCloser, error) {
	port, err := serial.Open(device, mode)
	if err != nil {
		return nil, err
	}
	// discard whatever the device printed while nobody was listening
	_ = port.ResetInputBuffer()
	return port, nil
}

// Spawner opens the serial line for each connection.
type Spawner struct {
	cfg    Config
	open   Opener
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

// WithOpener replaces serial.Open.
func WithOpener(open Opener) Option {
	return func(s *Spawner) {
		s.open = open
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
		cfg:    cfg,
		open:   openPort,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ ports.Spawner = (*Spawner)(nil)

// Spawn opens the device. Console lines expect carriage returns.
func (s *Spawner) Spawn(ctx context.Context) (ports.Transport, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mode, err := s.cfg.Mode()
	if err != nil {
		return nil, err
	}
	rwc, err := s.open(s.cfg.Device, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", s.cfg.Device, classify(err))
	}
	s.logger.Info("serial port opened", "device", s.cfg.Device, "baud", mode.BaudRate)

	opts := append([]transport.Option{
		transport.WithName(s.String()),
		transport.WithLogger(s.logger),
		transport.WithNewline("\r"),
	}, s.opts...)
	return transport.New(&port{rwc: rwc}, opts...), nil
}

func (s *Spawner) String() string {
	return "serial://" + s.cfg.Device
}

// Ports lists the serial devices present on the host.
func Ports() ([]string, error) {
	return serial.GetPortsList()
}

// port maps unplug errors onto domain.ErrInputOutput.
type port struct {
	rwc io.ReadWriteCloser
}

func (p *port) Read(b []byte) (int, error) {
	n, err := p.rwc.Read(b)
	return n, classify(err)
}

func (p *port) Write(b []byte) (int, error) {
	n, err := p.rwc.Write(b)
	return n, classify(err)
}

func (p *port) Close() error {
	return p.rwc.Close()
}

// classify reports a vanished device as an I/O error; configuration and
// permission problems pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if code, ok := portErrorCode(err); ok {
		switch code {
		case serial.PortNotFound, serial.PortClosed, serial.InvalidSerialPort:
			return fmt.Errorf("%w: %v", domain.ErrInputOutput, err)
		}
	}
	return err
}

func portErrorCode(err error) (serial.PortErrorCode, bool) {
	var ptr *serial.PortError
	if errors.As(err, &ptr) {
		return ptr.Code(), true
	}
	var val serial.PortError
	if errors.As(err, &val) {
		return val.Code(), true
	}
	return 0, false
}
