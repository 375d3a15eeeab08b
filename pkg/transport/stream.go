package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
)

// ErrClosed is returned by operations on a closed Stream.
var ErrClosed = errors.New("transport closed")

const readChunk = 4096

// Stream implements ports.Transport over any byte stream (pipe, pty, serial port, ssh channel).
// A background goroutine accumulates output; Expect scans the unconsumed buffer.
type Stream struct {
	rwc io.ReadWriteCloser

	name       string
	newline    string
	sanitize   bool
	transcript io.Writer
	logger     *slog.Logger

	mu      sync.Mutex
	buf     []byte
	readErr error

	notify    chan struct{}
	done      chan struct{}
	closed    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

// Option configures a Stream.
type Option func(*Stream)

// WithLogger sets the logger used for TX/RX debug lines.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stream) {
		s.logger = logger
	}
}

// WithName labels log lines with the endpoint description.
func WithName(name string) Option {
	return func(s *Stream) {
		s.name = name
	}
}

// WithNewline overrides the line terminator used by SendLine (default "\n").
func WithNewline(nl string) Option {
	return func(s *Stream) {
		s.newline = nl
	}
}

// WithSanitizer strips terminal escape sequences from output before matching.
func WithSanitizer(enabled bool) Option {
	return func(s *Stream) {
		s.sanitize = enabled
	}
}

// WithTranscript copies every received byte to w.
func WithTranscript(w io.Writer) Option {
	return func(s *Stream) {
		s.transcript = w
	}
}

// New wraps rwc and starts reading from it.
func New(rwc io.ReadWriteCloser, opts ...Option) *Stream {
	s := &Stream{
		rwc:     rwc,
		newline: "\n",
		logger:  logging.NewNop(),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		closed:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	go s.readLoop()
	return s
}

var _ ports.Transport = (*Stream)(nil)

func (s *Stream) readLoop() {
	defer close(s.done)
	chunk := make([]byte, readChunk)
	for {
		n, err := s.rwc.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			if s.transcript != nil {
				_, _ = s.transcript.Write(data)
			}
			s.logger.Debug("rx", "endpoint", s.name, "data", string(data))

			s.mu.Lock()
			s.buf = append(s.buf, data...)
			s.mu.Unlock()
			s.signal()
		}
		if err != nil {
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			s.signal()
			return
		}
	}
}

func (s *Stream) signal() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Send writes text without a terminator.
func (s *Stream) Send(text string) error {
	select {
	case <-s.closed:
		return &domain.TransportIOError{Op: "write", Err: ErrClosed}
	default:
	}
	s.logger.Debug("tx", "endpoint", s.name, "data", text)
	if _, err := io.WriteString(s.rwc, text); err != nil {
		return &domain.TransportIOError{Op: "write", Err: s.classify(err)}
	}
	return nil
}

// SendLine writes text followed by the configured line terminator.
func (s *Stream) SendLine(text string) error {
	return s.Send(text + s.newline)
}

// Expect waits for the first pattern, in list order, that matches unconsumed output.
func (s *Stream) Expect(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) (ports.MatchResult, error) {
	if len(patterns) == 0 {
		return ports.MatchResult{}, fmt.Errorf("expect: no patterns given")
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		if m, ok := s.scan(patterns); ok {
			return m, nil
		}
		if err := s.failure(); err != nil {
			return ports.MatchResult{}, err
		}

		select {
		case <-s.notify:
		case <-s.done:
		case <-s.closed:
		case <-timer.C:
			return ports.MatchResult{}, &domain.TimeoutError{
				Patterns: patternStrings(patterns),
				Timeout:  timeout,
				Buffer:   s.pending(),
			}
		case <-ctx.Done():
			return ports.MatchResult{}, ctx.Err()
		}
	}
}

// Read drains the buffer without blocking.
func (s *Stream) Read() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.textLocked()
	s.buf = s.buf[:0]
	return text, text != ""
}

// Close closes the underlying stream. Safe to call more than once and from any goroutine.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.closeErr = s.rwc.Close()
	})
	return s.closeErr
}

// Done is closed once the reader goroutine has stopped.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

func (s *Stream) scan(patterns []*regexp.Regexp) (ports.MatchResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	text := s.textLocked()
	for i, p := range patterns {
		loc := p.FindStringSubmatchIndex(text)
		if loc == nil {
			continue
		}
		groups := make([]string, len(loc)/2)
		for g := range groups {
			if loc[2*g] >= 0 {
				groups[g] = text[loc[2*g]:loc[2*g+1]]
			}
		}
		m := ports.MatchResult{
			Index:  i,
			Match:  text[loc[0]:loc[1]],
			Groups: groups,
			Before: text[:loc[0]],
		}
		s.buf = append(s.buf[:0], text[loc[1]:]...)
		return m, true
	}
	s.buf = append(s.buf[:0], text...)
	return ports.MatchResult{}, false
}

// textLocked returns the buffer as text, sanitised if enabled. Caller holds s.mu.
func (s *Stream) textLocked() string {
	text := string(s.buf)
	if s.sanitize {
		text = Sanitize(text)
	}
	return text
}

func (s *Stream) pending() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.textLocked()
}

func (s *Stream) failure() error {
	select {
	case <-s.closed:
		return &domain.TransportIOError{Op: "expect", Err: ErrClosed}
	default:
	}
	s.mu.Lock()
	err := s.readErr
	s.mu.Unlock()
	if err != nil {
		return &domain.TransportIOError{Op: "read", Err: s.classify(err)}
	}
	return nil
}

// classify maps a dead stream onto domain.ErrInputOutput so the reconnect policy recognises it.
func (s *Stream) classify(err error) error {
	select {
	case <-s.closed:
		return ErrClosed
	default:
	}
	if errors.Is(err, domain.ErrInputOutput) {
		return err
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("%w: %v", domain.ErrInputOutput, err)
	}
	return err
}

func patternStrings(patterns []*regexp.Regexp) []string {
	out := make([]string, len(patterns))
	for i, p := range patterns {
		out[i] = p.String()
	}
	return out
}
