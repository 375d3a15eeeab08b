package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// ErrInterrupted is the cancellation cause set when SIGINT or SIGTERM arrives.
var ErrInterrupted = errors.New("interrupted")

// SignalManager turns SIGINT and SIGTERM into context cancellation.
type SignalManager struct {
	parent context.Context
	ctx    context.Context
	cancel context.CancelCauseFunc
	stop   func()
}

// NewSignalManager creates a manager and immediately starts listening for signals.
func NewSignalManager(parent context.Context) *SignalManager {
	sm := &SignalManager{parent: parent}
	sm.Reset()
	return sm
}

// Context returns the current signal context.
func (sm *SignalManager) Context() context.Context {
	return sm.ctx
}

// Reset re-arms the listener after a signal was handled.
func (sm *SignalManager) Reset() {
	sm.Stop()

	ctx, cancel := context.WithCancelCause(sm.parent)
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			cancel(fmt.Errorf("%w: %v", ErrInterrupted, sig))
		case <-ctx.Done():
		case <-done:
		}
	}()

	sm.ctx, sm.cancel = ctx, cancel
	sm.stop = func() {
		signal.Stop(ch)
		close(done)
	}
}

// Stop permanently stops the listener and cancels the context.
func (sm *SignalManager) Stop() {
	if sm.stop == nil {
		return
	}
	sm.stop()
	sm.stop = nil
	sm.cancel(context.Canceled)
}

// Interrupted reports whether the current context was cancelled by a signal.
func (sm *SignalManager) Interrupted() bool {
	return errors.Is(context.Cause(sm.ctx), ErrInterrupted)
}

// OnSignal runs fn once if the current context is cancelled by a signal.
// The returned function detaches fn.
func (sm *SignalManager) OnSignal(fn func()) (stop func() bool) {
	ctx := sm.ctx
	return context.AfterFunc(ctx, func() {
		if errors.Is(context.Cause(ctx), ErrInterrupted) {
			fn()
		}
	})
}

// CheckRace waits briefly for a signal to follow an error. A closed transport
// often surfaces as an I/O error just before the signal context is cancelled.
func (sm *SignalManager) CheckRace() bool {
	if sm.ctx.Err() == nil {
		select {
		case <-sm.ctx.Done():
		case <-time.After(100 * time.Millisecond):
		}
	}
	return sm.Interrupted()
}
