package transport_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeConn is a console whose output is fed by the test through device.
type fakeConn struct {
	*io.PipeReader
	device *io.PipeWriter

	mu      sync.Mutex
	written bytes.Buffer
}

func newFakeConn() *fakeConn {
	r, w := io.Pipe()
	return &fakeConn{PipeReader: r, device: w}
}

func (c *fakeConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.Write(p)
}

func (c *fakeConn) Written() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written.String()
}

func (c *fakeConn) print(t *testing.T, s string) {
	t.Helper()
	go func() { _, _ = c.device.Write([]byte(s)) }()
}

func TestStream_ExpectListOrderWins(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)
	defer s.Close()

	conn.print(t, "banner\r\nPassword: ")
	time.Sleep(20 * time.Millisecond)

	m, err := s.Expect(context.Background(), time.Second,
		regexp.MustCompile(`Password:\s*$`),
		regexp.MustCompile(`banner`),
	)
	require.NoError(t, err)
	assert.Equal(t, 0, m.Index)
	assert.Equal(t, "Password: ", m.Match)
	assert.Equal(t, "banner\r\n", m.Before)
	assert.Equal(t, "banner\r\nPassword: ", m.Consumed())

	_, pending := s.Read()
	assert.False(t, pending, "match consumes everything up to its end")
}

func TestStream_ExpectGroups(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)
	defer s.Close()

	conn.print(t, "Router(config-if)#")
	m, err := s.Expect(context.Background(), time.Second, regexp.MustCompile(`(\w+)\(([\w-]+)\)#`))
	require.NoError(t, err)
	assert.Equal(t, []string{"Router(config-if)#", "Router", "config-if"}, m.Groups)
}

func TestStream_ExpectTimeout(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)
	defer s.Close()

	conn.print(t, "loading...")
	_, err := s.Expect(context.Background(), 50*time.Millisecond, regexp.MustCompile(`#`))

	var timeout *domain.TimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "loading...", timeout.Buffer)
	assert.Equal(t, []string{"#"}, timeout.Patterns)

	// unmatched output is still pending
	text, ok := s.Read()
	assert.True(t, ok)
	assert.Equal(t, "loading...", text)
}

func TestStream_ExpectContextCanceled(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Expect(ctx, time.Second, regexp.MustCompile(`#`))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestStream_ReadNonBlocking(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)
	defer s.Close()

	_, ok := s.Read()
	assert.False(t, ok)

	conn.print(t, "abc")
	require.Eventually(t, func() bool {
		text, ok := s.Read()
		return ok && text == "abc"
	}, time.Second, 5*time.Millisecond)
}

func TestStream_SendLine(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn, transport.WithNewline("\r"))
	defer s.Close()

	require.NoError(t, s.Send("y"))
	require.NoError(t, s.SendLine("show version"))
	assert.Equal(t, "yshow version\r", conn.Written())
}

func TestStream_CloseUnblocksExpect(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)

	errCh := make(chan error, 1)
	go func() {
		_, err := s.Expect(context.Background(), time.Minute, regexp.MustCompile(`never`))
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "close is idempotent")

	select {
	case err := <-errCh:
		var ioErr *domain.TransportIOError
		require.ErrorAs(t, err, &ioErr)
		assert.ErrorIs(t, err, transport.ErrClosed)
		assert.NotErrorIs(t, err, domain.ErrInputOutput, "a deliberate close is not a disconnect")
	case <-time.After(time.Second):
		t.Fatal("Expect did not return after Close")
	}

	err := s.Send("x")
	assert.ErrorIs(t, err, transport.ErrClosed)
}

func TestStream_EOFIsInputOutputError(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)
	defer s.Close()

	require.NoError(t, conn.device.Close())
	<-s.Done()

	_, err := s.Expect(context.Background(), time.Second, regexp.MustCompile(`#`))
	var ioErr *domain.TransportIOError
	require.ErrorAs(t, err, &ioErr)
	assert.True(t, errors.Is(err, domain.ErrInputOutput))
	assert.Contains(t, err.Error(), "Input/output error")
}

func TestStream_InvalidUTF8PassesThrough(t *testing.T) {
	conn := newFakeConn()
	s := transport.New(conn)
	defer s.Close()

	conn.print(t, "\xff\xfe garbage Router#")
	m, err := s.Expect(context.Background(), time.Second, regexp.MustCompile(`Router#`))
	require.NoError(t, err)
	assert.Equal(t, "Router#", m.Match)
	assert.Equal(t, "\xff\xfe garbage ", m.Before)
}

func TestStream_SanitizerAndTranscript(t *testing.T) {
	conn := newFakeConn()
	var transcript bytes.Buffer
	var tmu sync.Mutex
	s := transport.New(conn,
		transport.WithSanitizer(true),
		transport.WithTranscript(writerFunc(func(p []byte) (int, error) {
			tmu.Lock()
			defer tmu.Unlock()
			return transcript.Write(p)
		})),
	)
	defer s.Close()

	conn.print(t, "\x1b[1;32mRouter\x1b[0m#")
	m, err := s.Expect(context.Background(), time.Second, regexp.MustCompile(`^Router#$`))
	require.NoError(t, err)
	assert.Equal(t, "Router#", m.Match)

	tmu.Lock()
	defer tmu.Unlock()
	assert.Equal(t, "\x1b[1;32mRouter\x1b[0m#", transcript.String(), "transcript keeps raw bytes")
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(p []byte) (int, error) { return f(p) }

func TestSanitize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Router#", "Router#"},
		{"csi color", "\x1b[31mred\x1b[0m", "red"},
		{"cursor moves", "\x1b[2K\x1b[1GRouter#", "Router#"},
		{"osc title", "\x1b]0;title\x07Router#", "Router#"},
		{"backspace", "--More--\b\b\b\b\b\b\b\bRouter#", "Router#"},
		{"bell", "\aRouter#", "Router#"},
		{"incomplete escape kept", "Router#\x1b[", "Router#\x1b["},
		{"invalid utf-8 kept", "\xff\xfe\aRouter#", "\xff\xfeRouter#"},
		{"backspace over multibyte rune", "caf\u00e9\b\x00e", "cafe"},
		{"backspace stops at newline", "a\n\bb", "a\nb"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, transport.Sanitize(tt.in))
		})
	}
}
