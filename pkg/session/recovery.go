package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/promptgraph/internal/runtime"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/retry"
)

// DefaultDisconnectMarkers identify a transport error as a lost connection.
var DefaultDisconnectMarkers = []string{"Input/output error"}

// ReconnectPolicy controls automatic recovery. The zero value disables it.
type ReconnectPolicy struct {
	Enabled bool
	// MaxRetries bounds the reconnect attempts made for one failed operation.
	MaxRetries int
	// Markers are matched case-insensitively against the transport error chain.
	// Empty means DefaultDisconnectMarkers.
	Markers []string
	// Pause is waited before each respawn.
	Pause time.Duration
}

// DefaultReconnectPolicy enables recovery with three attempts.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{Enabled: true, MaxRetries: 3}
}

// IsDisconnect reports whether err is a transport I/O error whose message, or
// the message of any error it wraps, contains one of the markers.
func (p ReconnectPolicy) IsDisconnect(err error) bool {
	var ioErr *domain.TransportIOError
	if !errors.As(err, &ioErr) {
		return false
	}
	markers := p.Markers
	if len(markers) == 0 {
		markers = DefaultDisconnectMarkers
	}
	for e := error(ioErr); e != nil; e = errors.Unwrap(e) {
		msg := strings.ToLower(e.Error())
		for _, m := range markers {
			if strings.Contains(msg, strings.ToLower(m)) {
				return true
			}
		}
	}
	return false
}

// RecoveryHandler brings a session back after a disconnect. prior is the last
// state confirmed before the failure.
type RecoveryHandler interface {
	Recover(ctx context.Context, s *Session, prior *domain.State) error
}

// RecoveryFunc adapts a function to RecoveryHandler.
type RecoveryFunc func(ctx context.Context, s *Session, prior *domain.State) error

// Recover calls f.
func (f RecoveryFunc) Recover(ctx context.Context, s *Session, prior *domain.State) error {
	return f(ctx, s, prior)
}

// withRecovery runs op and, when it fails with a disconnect and the policy
// allows it, recovers the session and re-issues op. Once the attempts are
// exhausted the original error is returned.
func (s *Session) withRecovery(ctx context.Context, name string, op func() error) error {
	err := op()
	if err == nil || !s.reconnect.Enabled || !s.reconnect.IsDisconnect(err) {
		return err
	}
	prior := s.Current()

	original := err
	for attempt := 1; attempt <= s.reconnect.MaxRetries; attempt++ {
		if s.Closed() {
			return original
		}
		s.logger.Warn("connection lost, reconnecting", "op", name, "attempt", attempt, "prior", prior.Name, "err", err)

		rerr := s.recover(ctx, prior)
		s.emitReconnect(ctx, attempt, prior, err, rerr)
		if rerr != nil {
			if ctx.Err() != nil {
				return errors.Join(original, rerr)
			}
			s.logger.Warn("reconnect failed", "attempt", attempt, "err", rerr)
			err = rerr
			continue
		}

		err = op()
		if err == nil {
			return nil
		}
		if !s.reconnect.IsDisconnect(err) {
			return err
		}
	}
	s.logger.Error("giving up after reconnect attempts", "op", name, "attempts", s.reconnect.MaxRetries)
	return original
}

func (s *Session) recover(ctx context.Context, prior *domain.State) error {
	if s.reconnect.Pause > 0 {
		if err := s.clock.Sleep(ctx, s.reconnect.Pause); err != nil {
			return err
		}
	}
	if s.recovery != nil {
		return s.recovery.Recover(ctx, s, prior)
	}
	return s.Reconnect(ctx, prior)
}

// Reconnect replaces the transport with a fresh one, probes the device and
// walks it back to prior using hop-wise routing. A nil, Unknown or Any prior
// leaves the device wherever the probe found it.
func (s *Session) Reconnect(ctx context.Context, prior *domain.State) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	old := s.transport
	s.transport = nil
	s.current = domain.Unknown
	s.mu.Unlock()

	if old != nil {
		retry.TryBestEffort(s.logger, "close stale transport", old.Close)
	}
	if err := s.Connect(ctx); err != nil {
		return err
	}

	t, err := s.Transport()
	if err != nil {
		return err
	}
	found, err := s.engine.Probe(ctx, t)
	if err != nil {
		return fmt.Errorf("reconnect: %w", err)
	}
	s.setCurrent(found)

	if prior == nil || prior.IsSentinel() || prior == found {
		return nil
	}
	next, err := s.engine.GoTo(ctx, t, found, runtime.Request{
		Target:    prior,
		HopWise:   true,
		Context:   s.dctx,
		SessionID: s.id,
	})
	s.setCurrent(next)
	if err != nil {
		return fmt.Errorf("reconnect: restore %q: %w", prior.Name, err)
	}
	s.logger.Info("session restored", "state", prior.Name)
	return nil
}

func (s *Session) emitReconnect(ctx context.Context, attempt int, prior *domain.State, cause, err error) {
	if s.hooks.OnReconnect == nil {
		return
	}
	s.hooks.OnReconnect(ctx, &domain.ReconnectEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventReconnect,
			SessionID: s.id,
		},
		Attempt: attempt,
		Prior:   prior.Name,
		Cause:   cause,
		Err:     err,
	})
}
