package testutils

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
	"github.com/stretchr/testify/require"
)

// FakeClock is a manual clock. Sleep advances time instantly and records the pause.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

// NewFakeClock starts a clock at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) Sleep(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.Advance(d)
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.mu.Unlock()
	return nil
}

// Advance moves the clock forward without recording a sleep.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Sleeps returns the recorded pauses.
func (c *FakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

// RouterGraph is the graph matching memory.Router.
type RouterGraph struct {
	*graph.Graph
	Username *domain.State
	User     *domain.State
	Enabled  *domain.State
	Config   *domain.State
	ConfigIf *domain.State
}

// NewRouterGraph builds the state graph of the simulated router:
//
//	username -> user -> enabled -> config
//	config_if -> config -> enabled -> user -> username
func NewRouterGraph(t testing.TB) *RouterGraph {
	t.Helper()
	rg := &RouterGraph{
		Graph:    graph.New("memory-router"),
		Username: domain.MustState("username", `Username:\s*$`),
		User:     domain.MustState("user", `\w>\s*$`),
		Enabled:  domain.MustState("enabled", `\w#\s*$`),
		Config:   domain.MustState("config", `\(config\)#\s*$`),
		ConfigIf: domain.MustState("config_if", `\(config-if\)#\s*$`),
	}
	for _, s := range []*domain.State{rg.Username, rg.User, rg.Enabled, rg.Config, rg.ConfigIf} {
		require.NoError(t, rg.AddState(s))
	}

	password := dialog.New(dialog.MustRule(`Password:\s*$`, dialog.SendContext(domain.KeyPassword)))
	enable := dialog.New(dialog.MustRule(`Password:\s*$`, dialog.SendContext(domain.KeyEnablePassword)))

	for _, p := range []*graph.Path{
		{From: rg.Username, To: rg.User, Command: "{{username}}", Dialog: password},
		{From: rg.User, To: rg.Enabled, Command: "enable", Dialog: enable},
		{From: rg.Enabled, To: rg.Config, Command: "configure terminal"},
		{From: rg.ConfigIf, To: rg.Config, Command: "exit"},
		{From: rg.Config, To: rg.Enabled, Command: "end"},
		{From: rg.Enabled, To: rg.User, Command: "disable"},
		{From: rg.User, To: rg.Username, Command: "exit"},
	} {
		require.NoError(t, rg.AddPath(p))
	}
	return rg
}

// Credentials match memory.NewRouter("admin", "secret").
var Credentials = domain.Credentials{Username: "admin", Password: "secret", EnablePassword: "secret"}

// DialogContext returns a context filled with Credentials.
func DialogContext() *domain.Context {
	dc := domain.NewContext()
	Credentials.Apply(dc)
	return dc
}
