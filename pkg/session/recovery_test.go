package session_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/aretw0/promptgraph/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReconnectPolicy_IsDisconnect(t *testing.T) {
	p := session.ReconnectPolicy{Enabled: true}

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"eof", &domain.TransportIOError{Op: "read", Err: fmt.Errorf("%w: %v", domain.ErrInputOutput, io.EOF)}, true},
		{"lower case", &domain.TransportIOError{Op: "read", Err: errors.New("input/output ERROR on pty")}, true},
		{"wrapped", fmt.Errorf("hop: %w", &domain.TransportIOError{Op: "write", Err: domain.ErrInputOutput}), true},
		{"deliberate close", &domain.TransportIOError{Op: "expect", Err: transport.ErrClosed}, false},
		{"not transport", errors.New("Input/output error"), false},
		{"timeout", &domain.TimeoutError{Timeout: time.Second}, false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, p.IsDisconnect(tt.err))
		})
	}

	custom := session.ReconnectPolicy{Markers: []string{"connection reset"}}
	assert.True(t, custom.IsDisconnect(&domain.TransportIOError{Err: errors.New("read: Connection reset by peer")}))
	assert.False(t, custom.IsDisconnect(&domain.TransportIOError{Err: domain.ErrInputOutput}))
}

func TestSession_ReconnectRestoresState(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, session.WithReconnect(session.DefaultReconnectPolicy()))
	ctx := context.Background()

	require.NoError(t, s.GoTo(ctx, f.rg.Config))
	f.router.Console().Fail(io.EOF)

	_, err := s.Configure(ctx, "logging host 10.1.1.1")
	require.NoError(t, err)
	assert.Equal(t, 2, f.router.Connects())
	assert.Same(t, f.rg.Config, s.Current())
	assert.Equal(t, []string{"logging host 10.1.1.1"}, f.router.RunningConfig())

	require.Equal(t, 1, f.reconnectCount())
	f.mu.Lock()
	ev := f.reconnects[0]
	f.mu.Unlock()
	assert.Equal(t, 1, ev.Attempt)
	assert.Equal(t, "config", ev.Prior)
	assert.NoError(t, ev.Err)
	assert.ErrorIs(t, ev.Cause, domain.ErrInputOutput)
}

func TestSession_ReconnectDisabled(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()

	require.NoError(t, s.GoTo(ctx, f.rg.Enabled))
	f.router.Console().Fail(io.EOF)

	_, err := s.Execute(ctx, "show version")
	var ioErr *domain.TransportIOError
	require.ErrorAs(t, err, &ioErr)
	assert.ErrorIs(t, err, domain.ErrInputOutput)
	assert.Equal(t, 1, f.router.Connects())
	assert.Zero(t, f.reconnectCount())
}

func TestSession_ReconnectIgnoresOtherErrors(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, session.WithReconnect(session.DefaultReconnectPolicy()))
	ctx := context.Background()
	require.NoError(t, s.GoTo(ctx, f.rg.Enabled))

	_, err := s.Execute(ctx, "show bogus")
	var bad *domain.BadCommandError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, 1, f.router.Connects())
	assert.Zero(t, f.reconnectCount())
}

func TestSession_ReconnectBounded(t *testing.T) {
	f := newFixture(t)
	policy := session.ReconnectPolicy{Enabled: true, MaxRetries: 2, Pause: time.Second}
	s := f.open(t, session.WithReconnect(policy))
	ctx := context.Background()

	require.NoError(t, s.GoTo(ctx, f.rg.Enabled))
	f.spawner.FailWith(errors.New("connection refused"))
	f.router.Console().Fail(io.EOF)

	_, err := s.Execute(ctx, "show version")
	assert.ErrorIs(t, err, domain.ErrInputOutput, "the original error is returned")
	assert.Equal(t, 1, f.router.Connects())
	assert.Equal(t, 2, f.reconnectCount())
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.clock.Sleeps())

	f.mu.Lock()
	defer f.mu.Unlock()
	for i, ev := range f.reconnects {
		assert.Equal(t, i+1, ev.Attempt)
		assert.ErrorContains(t, ev.Err, "connection refused")
	}
}

func TestSession_RecoveryHandler(t *testing.T) {
	f := newFixture(t)
	var priors []string
	handler := session.RecoveryFunc(func(ctx context.Context, s *session.Session, prior *domain.State) error {
		priors = append(priors, prior.Name)
		return s.Reconnect(ctx, prior)
	})
	s := f.open(t,
		session.WithReconnect(session.ReconnectPolicy{Enabled: true, MaxRetries: 1}),
		session.WithRecoveryHandler(handler),
	)
	ctx := context.Background()

	require.NoError(t, s.GoTo(ctx, f.rg.User))
	f.router.Console().Fail(io.EOF)

	out, err := s.Execute(ctx, "show version")
	require.NoError(t, err)
	assert.Contains(t, out, "IOS")
	assert.Equal(t, []string{"user"}, priors)
	assert.Same(t, f.rg.User, s.Current())
}

func TestSession_ReconnectAfterCloseFails(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.Close())

	err := s.Reconnect(context.Background(), f.rg.Enabled)
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
	assert.Equal(t, 1, f.router.Connects())
}
