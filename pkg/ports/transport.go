package ports

import (
	"context"
	"regexp"
	"time"
)

// MatchResult describes the outcome of a successful Expect.
type MatchResult struct {
	// Index is the position of the matching pattern in the list passed to Expect.
	Index int
	// Match is the matched text.
	Match string
	// Groups holds the submatches, Groups[0] == Match.
	Groups []string
	// Before is the output preceding the match.
	Before string
}

// Consumed returns everything removed from the buffer by the match.
func (m MatchResult) Consumed() string {
	return m.Before + m.Match
}

// Transport is a bidirectional character stream to an appliance console.
// It is owned by a single session; only Close may be called concurrently.
type Transport interface {
	// Send writes text as-is.
	Send(text string) error
	// SendLine writes text followed by the line terminator.
	SendLine(text string) error
	// Expect blocks until one of the patterns appears in unconsumed output.
	// The first pattern in list order that matches wins.
	// It fails with *domain.TimeoutError when timeout elapses first.
	Expect(ctx context.Context, timeout time.Duration, patterns ...*regexp.Regexp) (MatchResult, error)
	// Read drains everything currently buffered without blocking.
	// It returns false when nothing is pending.
	Read() (string, bool)
	// Close releases the stream. It is idempotent and unblocks a pending Expect.
	Close() error
}

// Spawner opens a fresh Transport to one endpoint.
// Sessions keep their Spawner to reconnect after a disconnect.
type Spawner interface {
	Spawn(ctx context.Context) (Transport, error)
	// String describes the endpoint for logs.
	String() string
}

// SpawnerFunc adapts a function to the Spawner interface.
type SpawnerFunc struct {
	Name string
	Fn   func(ctx context.Context) (Transport, error)
}

func (f SpawnerFunc) Spawn(ctx context.Context) (Transport, error) { return f.Fn(ctx) }

func (f SpawnerFunc) String() string { return f.Name }
