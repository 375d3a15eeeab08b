package session_test

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/promptgraph/internal/testutils"
	"github.com/aretw0/promptgraph/pkg/adapters/memory"
	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/session"
	"github.com/aretw0/promptgraph/pkg/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pager = dialog.New(dialog.MustRule(`--More--`, dialog.Send(" "), dialog.Repeat()))

type fixture struct {
	router  *memory.Router
	spawner *memory.Spawner
	rg      *testutils.RouterGraph
	clock   *testutils.FakeClock

	mu         sync.Mutex
	commands   []*domain.CommandEvent
	reconnects []*domain.ReconnectEvent
}

func newFixture(t *testing.T, opts ...memory.RouterOption) *fixture {
	t.Helper()
	f := &fixture{
		router: memory.NewRouter("admin", "secret", opts...),
		rg:     testutils.NewRouterGraph(t),
		clock:  testutils.NewFakeClock(),
	}
	f.spawner = memory.RouterSpawner(f.router)
	return f
}

func (f *fixture) open(t *testing.T, opts ...session.Option) *session.Session {
	t.Helper()
	base := []session.Option{
		session.WithID("r1"),
		session.WithCredentials(testutils.Credentials),
		session.WithHopWise(true),
		session.WithProbeWait(50 * time.Millisecond),
		session.WithHopTimeout(time.Second),
		session.WithCommandTimeout(time.Second),
		session.WithConfigState(f.rg.Config),
		session.WithClock(f.clock),
		session.WithLifecycleHooks(domain.LifecycleHooks{
			OnCommand: func(_ context.Context, e *domain.CommandEvent) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.commands = append(f.commands, e)
			},
			OnReconnect: func(_ context.Context, e *domain.ReconnectEvent) {
				f.mu.Lock()
				defer f.mu.Unlock()
				f.reconnects = append(f.reconnects, e)
			},
		}),
	}
	s, err := session.Open(context.Background(), f.rg.Graph, f.spawner, append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func (f *fixture) reconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.reconnects)
}

func TestSession_LoginConfigureAndVerify(t *testing.T) {
	f := newFixture(t, memory.WithHostname("R1"))
	s := f.open(t)
	ctx := context.Background()

	assert.Same(t, domain.Unknown, s.Current())

	require.NoError(t, s.GoTo(ctx, f.rg.Enabled))
	assert.Same(t, f.rg.Enabled, s.Current())
	assert.Equal(t, memory.ModeEnabled, f.router.Mode())

	out, err := s.Configure(ctx, "logging host 10.0.0.1\nntp server 10.0.0.2\n")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Same(t, f.rg.Config, s.Current())
	assert.Equal(t, []string{"logging host 10.0.0.1", "ntp server 10.0.0.2"}, f.router.RunningConfig())

	out, err = s.Execute(ctx, "show running-config", session.InState(f.rg.Enabled), session.Dialog(pager))
	require.NoError(t, err)
	assert.Contains(t, out, "hostname R1")
	assert.Contains(t, out, "logging host 10.0.0.1")
	assert.Same(t, f.rg.Enabled, s.Current())
}

func TestSession_ExecuteStripsEchoAndPrompt(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()

	out, err := s.Execute(ctx, "show version", session.InState(f.rg.User))
	require.NoError(t, err)
	assert.Equal(t, "IOS Software, Version 15.2(4)M", out)

	f.mu.Lock()
	last := f.commands[len(f.commands)-1]
	f.mu.Unlock()
	assert.Equal(t, "user", last.State)
	assert.Equal(t, "show version", last.Command)
	assert.NoError(t, last.Err)
}

func TestSession_ExecuteProbesUnknownState(t *testing.T) {
	f := newFixture(t, memory.WithKeepMode())
	f.router.SetMode(memory.ModeEnabled)
	s := f.open(t)

	out, err := s.Execute(context.Background(), "show version")
	require.NoError(t, err)
	assert.Contains(t, out, "IOS Software")
	assert.Same(t, f.rg.Enabled, s.Current())
}

func TestSession_BadCommand(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()
	require.NoError(t, s.GoTo(ctx, f.rg.Enabled))

	out, err := s.Execute(ctx, "show bogus")
	var bad *domain.BadCommandError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "show bogus", bad.Command)
	assert.Contains(t, bad.Marker, "Invalid input")
	assert.Contains(t, out, memory.InvalidInput)

	out, err = s.Execute(ctx, "show bogus", session.IgnoreErrors())
	require.NoError(t, err)
	assert.Contains(t, out, memory.InvalidInput)
}

func TestSession_ConfigureStopsAtRejectedLine(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	_, err := s.Configure(context.Background(), "logging host 10.0.0.1\nfrobnicate\nntp server 10.0.0.2")
	var bad *domain.BadCommandError
	require.ErrorAs(t, err, &bad)
	assert.Equal(t, "frobnicate", bad.Command)
	assert.Equal(t, []string{"logging host 10.0.0.1"}, f.router.RunningConfig())
}

func TestSession_ExecuteLinesFollowsStateChanges(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()

	_, err := s.Configure(ctx, "interface Gi0/1\ndescription uplink\nexit")
	require.NoError(t, err)
	assert.Same(t, f.rg.Config, s.Current())
	assert.Equal(t, []string{"interface Gi0/1", "description uplink"}, f.router.RunningConfig())

	_, err = s.ExecuteLines(ctx, "end\n\nshow version\n")
	require.NoError(t, err)
	assert.Same(t, f.rg.Enabled, s.Current())
}

func TestSession_ExecuteAndVerify(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()

	out, err := s.ExecuteAndVerify(ctx, "show running-config", "logging host 10.9.9.9", session.VerifyOptions{
		RetryCount:  3,
		Interval:    5 * time.Second,
		Remediation: "logging host 10.9.9.9",
		State:       f.rg.Enabled,
		Dialog:      pager,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "logging host 10.9.9.9")
	assert.Equal(t, []time.Duration{5 * time.Second}, f.clock.Sleeps())
	assert.Same(t, f.rg.Enabled, s.Current())
}

func TestSession_ExecuteAndVerifyReturnsToStartingState(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()
	require.NoError(t, s.GoTo(ctx, f.rg.Enabled))

	out, err := s.ExecuteAndVerify(ctx, "show running-config", "logging host 10.9.9.9", session.VerifyOptions{
		RetryCount:  3,
		Interval:    5 * time.Second,
		Remediation: "logging host 10.9.9.9",
		Commit:      "commit",
		Dialog:      pager,
	})
	require.NoError(t, err)
	assert.Contains(t, out, "logging host 10.9.9.9")
	assert.Same(t, f.rg.Enabled, s.Current())
	assert.Equal(t, []time.Duration{5 * time.Second}, f.clock.Sleeps())

	f.mu.Lock()
	defer f.mu.Unlock()
	var states []string
	for _, e := range f.commands {
		if e.Command == "show running-config" {
			states = append(states, e.State)
			assert.NoError(t, e.Err)
		}
	}
	assert.Equal(t, []string{"enabled", "enabled"}, states)
}

func TestSession_ExecuteAndVerifyProbesUnknownState(t *testing.T) {
	f := newFixture(t, memory.WithKeepMode(), memory.WithResponse("show clock", "*10:00:00.000 UTC Mon Jan 1 2024\r\n"))
	f.router.SetMode(memory.ModeUser)
	s := f.open(t)

	out, err := s.ExecuteAndVerify(context.Background(), "show clock", `UTC`, session.VerifyOptions{RetryCount: 2})
	require.NoError(t, err)
	assert.Contains(t, out, "10:00:00")
	assert.Same(t, f.rg.User, s.Current())
}

func TestSession_ExecuteRunsWhereConfigureLeftTheDevice(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	ctx := context.Background()

	_, err := s.Configure(ctx, "logging host 10.0.0.1")
	require.NoError(t, err)
	require.Same(t, f.rg.Config, s.Current())

	_, err = s.Execute(ctx, "show version")
	var bad *domain.BadCommandError
	require.ErrorAs(t, err, &bad)
	assert.Same(t, f.rg.Config, s.Current())

	out, err := s.Execute(ctx, "show version", session.InState(f.rg.Enabled))
	require.NoError(t, err)
	assert.Contains(t, out, "IOS Software")
	assert.Same(t, f.rg.Enabled, s.Current())
}

func TestSession_FailedHopKeepsLastConfirmedState(t *testing.T) {
	f := newFixture(t, memory.WithEnablePassword("other"))
	s := f.open(t)

	err := s.GoTo(context.Background(), f.rg.Config)
	var ste *domain.StateTransitionError
	require.ErrorAs(t, err, &ste)
	assert.Equal(t, "enabled", ste.To)
	assert.Same(t, f.rg.User, s.Current(), "the login hop was confirmed before enable failed")
	assert.Equal(t, memory.ModeUser, f.router.Mode())
}

func TestSession_ExecuteAndVerifyExhausted(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	_, err := s.ExecuteAndVerify(context.Background(), "show version", "Version 99", session.VerifyOptions{
		RetryCount: 3,
		Interval:   time.Second,
		State:      f.rg.User,
	})
	var vf *domain.VerificationFailedError
	require.ErrorAs(t, err, &vf)
	assert.Equal(t, 3, vf.Attempts)
	assert.Contains(t, vf.Output, "15.2(4)M")
	assert.Len(t, f.clock.Sleeps(), 2)
}

func TestSession_ExecuteAndVerifyTimeBound(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	_, err := s.ExecuteAndVerify(context.Background(), "show version", "^Version 99$", session.VerifyOptions{
		Interval:     4 * time.Second,
		TimeoutTotal: 10 * time.Second,
		ExactLine:    true,
		State:        f.rg.User,
	})
	var vf *domain.VerificationFailedError
	require.ErrorAs(t, err, &vf)
	// 0s, 4s, 8s; a fourth attempt would start at 12s
	assert.Equal(t, 3, vf.Attempts)
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second}, f.clock.Sleeps())
}

func TestSession_WaitUntil(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)

	calls := 0
	err := s.WaitUntil(context.Background(), func(context.Context) (bool, error) {
		calls++
		return false, nil
	}, 10*time.Second, 3*time.Second)

	var pt *domain.PollTimeoutError
	require.ErrorAs(t, err, &pt)
	assert.Equal(t, 4, calls)
	assert.Equal(t, 4, pt.Attempts)
}

func TestSession_WaitForOutput(t *testing.T) {
	f := newFixture(t)
	s := f.open(t)
	require.NoError(t, s.GoTo(context.Background(), f.rg.User))

	out, err := s.WaitForOutput(context.Background(), "show version", `Version \d+`, time.Minute, time.Second)
	require.NoError(t, err)
	assert.Contains(t, out, "IOS")
	assert.Empty(t, f.clock.Sleeps())
}

func TestSession_GoToAny(t *testing.T) {
	f := newFixture(t, memory.WithKeepMode())
	f.router.SetMode(memory.ModeConfig)
	s := f.open(t)

	require.NoError(t, s.GoToAny(context.Background(), f.rg.User, f.rg.Enabled))
	assert.Same(t, f.rg.Enabled, s.Current())
}

func TestSession_DirectModeRefusesMultiHop(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, session.WithHopWise(false))
	ctx := context.Background()

	err := s.GoTo(ctx, f.rg.Config)
	var noPath *domain.NoDirectPathError
	require.ErrorAs(t, err, &noPath)
	assert.Same(t, f.rg.Username, s.Current(), "the probe result is kept")

	require.NoError(t, s.GoTo(ctx, f.rg.Config, session.HopWise(true)))
	assert.Same(t, f.rg.Config, s.Current())
}

func TestSession_InitialState(t *testing.T) {
	f := newFixture(t, memory.WithKeepMode(), memory.WithSilentConnect())
	f.router.SetMode(memory.ModeEnabled)
	s := f.open(t, session.WithInitialState(f.rg.Enabled))

	require.NoError(t, s.GoTo(context.Background(), f.rg.Config))
	assert.Equal(t, []string{"configure terminal"}, f.router.Console().Lines(), "no probe when the state is declared")
}

func TestSession_ConnectDialog(t *testing.T) {
	banner := memory.NewSpawner("banner", func() io.ReadWriteCloser {
		c := memory.NewConsole(func(line string) string { return "\r\nRouter>" })
		c.Print("Press RETURN to get started.")
		return c
	})
	rg := testutils.NewRouterGraph(t)
	s, err := session.Open(context.Background(), rg.Graph, banner,
		session.WithProbeWait(50*time.Millisecond),
		session.WithConnectDialog(dialog.New(dialog.MustRule(`Press RETURN`, dialog.SendLine("")))),
	)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.GoTo(context.Background(), domain.Any))
	assert.Same(t, rg.User, s.Current())
}

func TestSession_CloseUnblocksPendingCommand(t *testing.T) {
	f := newFixture(t)
	s := f.open(t, session.WithReconnect(session.DefaultReconnectPolicy()))
	ctx := context.Background()
	require.NoError(t, s.GoTo(ctx, f.rg.Enabled))

	errc := make(chan error, 1)
	go func() {
		// the pager never shows a prompt without the dialog
		_, err := s.Execute(ctx, "show running-config", session.Timeout(10*time.Second))
		errc <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errc:
		var ioErr *domain.TransportIOError
		require.ErrorAs(t, err, &ioErr)
		assert.ErrorIs(t, err, transport.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after Close")
	}
	assert.Zero(t, f.reconnectCount(), "a deliberate close is not a disconnect")
	assert.True(t, s.Closed())

	_, err := s.Execute(ctx, "show version")
	assert.ErrorIs(t, err, domain.ErrSessionClosed)
}
