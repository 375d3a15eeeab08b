package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrStateNotFound is returned when a state name is not part of a graph.
	ErrStateNotFound = errors.New("state not found")
	// ErrDuplicateState is returned when two states share a name in one graph.
	ErrDuplicateState = errors.New("duplicate state")
	// ErrDuplicatePath is returned when a second path is declared for the same (from, to) pair.
	ErrDuplicatePath = errors.New("duplicate path")
	// ErrSessionNotFound is returned when a session ID is not registered.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionClosed is returned by operations on a closed session.
	ErrSessionClosed = errors.New("session closed")
	// ErrInputOutput is wrapped by transports when the underlying stream dies.
	// Its text matches the default disconnect marker of the reconnect policy.
	ErrInputOutput = errors.New("Input/output error")
)

// bufferTail bounds the amount of device output carried in error messages.
const bufferTail = 200

func tail(s string) string {
	if len(s) <= bufferTail {
		return s
	}
	return "..." + s[len(s)-bufferTail:]
}

// TimeoutError is returned by Transport.Expect when no pattern matched in time.
type TimeoutError struct {
	Patterns []string
	Timeout  time.Duration
	Buffer   string
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout after %s waiting for [%s]; buffer: %q",
		e.Timeout, strings.Join(e.Patterns, " | "), tail(e.Buffer))
}

// DialogTimeoutError is returned when a dialog's budget runs out before a terminal rule fires.
type DialogTimeoutError struct {
	Timeout time.Duration
	Fired   []string
	Buffer  string
}

func (e *DialogTimeoutError) Error() string {
	return fmt.Sprintf("dialog timed out after %s (fired: %v); buffer: %q",
		e.Timeout, e.Fired, tail(e.Buffer))
}

// UnresolvedStateError is returned when probe output matches no known state.
type UnresolvedStateError struct {
	Buffer string
}

func (e *UnresolvedStateError) Error() string {
	return fmt.Sprintf("could not resolve device state from output %q", tail(e.Buffer))
}

// NoDirectPathError is returned when no route connects two states.
type NoDirectPathError struct {
	From    string
	To      string
	HopWise bool
}

func (e *NoDirectPathError) Error() string {
	if e.HopWise {
		return fmt.Sprintf("no route from %q to %q", e.From, e.To)
	}
	return fmt.Sprintf("no direct path from %q to %q", e.From, e.To)
}

// StateTransitionError is returned when the destination prompt was not observed after a hop.
type StateTransitionError struct {
	From    string
	To      string
	Command string
	Buffer  string
	Err     error
}

func (e *StateTransitionError) Error() string {
	msg := fmt.Sprintf("transition %s -> %s via %q failed", e.From, e.To, e.Command)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *StateTransitionError) Unwrap() error { return e.Err }

// BadCommandError is returned when command output contains a device error marker.
type BadCommandError struct {
	Command string
	Marker  string
	Output  string
}

func (e *BadCommandError) Error() string {
	return fmt.Sprintf("command %q rejected by device (matched %q): %q", e.Command, e.Marker, tail(e.Output))
}

// VerificationFailedError is returned when a verified command never produced the expected output.
type VerificationFailedError struct {
	Command  string
	Expected string
	Attempts int
	Elapsed  time.Duration
	Output   string
}

func (e *VerificationFailedError) Error() string {
	return fmt.Sprintf("%q did not produce %q after %d attempt(s) in %s; last output: %q",
		e.Command, e.Expected, e.Attempts, e.Elapsed.Round(time.Millisecond), tail(e.Output))
}

// PollTimeoutError is returned when a polled predicate never became true.
type PollTimeoutError struct {
	Timeout  time.Duration
	Attempts int
}

func (e *PollTimeoutError) Error() string {
	return fmt.Sprintf("condition not met after %d poll(s) within %s", e.Attempts, e.Timeout)
}

// TransportIOError wraps failures of the underlying byte stream.
type TransportIOError struct {
	Op  string
	Err error
}

func (e *TransportIOError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportIOError) Unwrap() error { return e.Err }
