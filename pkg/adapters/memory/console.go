package memory

import (
	"errors"
	"io"
	"strings"
	"sync"
)

// Responder produces the device output for one received line.
type Responder func(line string) string

// Console is an in-process io.ReadWriteCloser standing in for a device console.
// Every complete line written to it is passed to a Responder whose output becomes readable.
type Console struct {
	mu   sync.Mutex
	cond *sync.Cond

	out     []byte
	partial []byte
	lines   []string
	writes  int

	respond Responder
	onRaw   func(b byte) (string, bool)

	closed bool
	err    error
}

// NewConsole creates a console driven by respond. A nil responder discards input.
func NewConsole(respond Responder) *Console {
	c := &Console{respond: respond}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Print makes text readable as if the device had printed it.
func (c *Console) Print(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.out = append(c.out, text...)
	c.cond.Broadcast()
}

// Read blocks until output is available, the console is closed, or a failure was injected.
func (c *Console) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.out) == 0 && !c.closed && c.err == nil {
		c.cond.Wait()
	}
	if len(c.out) > 0 {
		n := copy(p, c.out)
		c.out = c.out[n:]
		return n, nil
	}
	if c.err != nil {
		return 0, c.err
	}
	return 0, io.EOF
}

// Write feeds input to the device. Complete lines ("\n", "\r" or "\r\n") are answered.
func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if c.closed {
		return 0, errors.New("console closed")
	}
	c.writes++

	for _, b := range p {
		if c.onRaw != nil && len(c.partial) == 0 {
			if reply, handled := c.onRaw(b); handled {
				c.out = append(c.out, reply...)
				continue
			}
		}
		switch b {
		case '\n':
			if n := len(c.partial); n > 0 && c.partial[n-1] == '\r' {
				c.partial = c.partial[:n-1]
			}
			c.line()
		case '\r':
			c.partial = append(c.partial, b)
		default:
			if n := len(c.partial); n > 0 && c.partial[n-1] == '\r' {
				c.partial = c.partial[:n-1]
				c.line()
			}
			c.partial = append(c.partial, b)
		}
	}
	if n := len(c.partial); n > 0 && c.partial[n-1] == '\r' {
		c.partial = c.partial[:n-1]
		c.line()
	}
	c.cond.Broadcast()
	return len(p), nil
}

// line answers the buffered partial line. Caller holds c.mu.
func (c *Console) line() {
	line := string(c.partial)
	c.partial = c.partial[:0]
	c.lines = append(c.lines, line)
	if c.respond != nil {
		c.out = append(c.out, c.respond(line)...)
	}
}

// Close ends the console. Pending reads return io.EOF.
func (c *Console) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	c.cond.Broadcast()
	return nil
}

// Fail makes every subsequent Read and Write return err, simulating a dead line.
func (c *Console) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	c.out = nil
	c.cond.Broadcast()
}

// Lines returns every complete line received so far.
func (c *Console) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Writes returns the number of Write calls received.
func (c *Console) Writes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes
}

// Transcript returns the received lines joined by newlines.
func (c *Console) Transcript() string {
	return strings.Join(c.Lines(), "\n")
}
