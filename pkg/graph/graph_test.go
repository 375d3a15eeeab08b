package graph_test

import (
	"testing"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	g             *graph.Graph
	a, b, c, d, e *domain.State
}

// a -> b -> c -> d, a -> e -> d, b -> d
func newFixture(t *testing.T) fixture {
	t.Helper()
	f := fixture{
		g: graph.New("test"),
		a: domain.MustState("a", `a>$`),
		b: domain.MustState("b", `b>$`),
		c: domain.MustState("c", `c>$`),
		d: domain.MustState("d", `d>$`),
		e: domain.MustState("e", `e>$`),
	}
	for _, s := range []*domain.State{f.a, f.b, f.c, f.d, f.e} {
		require.NoError(t, f.g.AddState(s))
	}
	for _, p := range []*graph.Path{
		{From: f.a, To: f.b, Command: "ab"},
		{From: f.b, To: f.c, Command: "bc"},
		{From: f.c, To: f.d, Command: "cd"},
		{From: f.a, To: f.e, Command: "ae"},
		{From: f.e, To: f.d, Command: "ed"},
		{From: f.b, To: f.d, Command: "bd"},
	} {
		require.NoError(t, f.g.AddPath(p))
	}
	return f
}

func commands(route []*graph.Path) []string {
	out := make([]string, len(route))
	for i, p := range route {
		out[i] = p.Command
	}
	return out
}

func TestGraph_Validation(t *testing.T) {
	f := newFixture(t)

	err := f.g.AddState(domain.MustState("a", "x"))
	assert.ErrorIs(t, err, domain.ErrDuplicateState)

	assert.Error(t, f.g.AddState(domain.Any))
	assert.Error(t, f.g.AddState(nil))

	err = f.g.AddPath(&graph.Path{From: f.a, To: f.b, Command: "again"})
	assert.ErrorIs(t, err, domain.ErrDuplicatePath)

	stranger := domain.MustState("stranger", "x")
	err = f.g.AddPath(&graph.Path{From: f.a, To: stranger})
	assert.ErrorIs(t, err, domain.ErrStateNotFound)

	// same name but a different value is not a member
	twin := domain.MustState("a", `a>$`)
	assert.False(t, f.g.Has(twin))
	assert.True(t, f.g.Has(f.a))

	assert.Error(t, f.g.AddPath(&graph.Path{From: f.a, To: f.a}))
}

func TestGraph_Lookup(t *testing.T) {
	f := newFixture(t)

	s, err := f.g.State("c")
	require.NoError(t, err)
	assert.Same(t, f.c, s)

	_, err = f.g.State("missing")
	assert.ErrorIs(t, err, domain.ErrStateNotFound)

	assert.Len(t, f.g.States(), 5)
	assert.Len(t, f.g.Paths(), 6)
	assert.Equal(t, []string{"bc", "bd"}, commands(f.g.PathsFrom(f.b)))

	p, ok := f.g.Direct(f.a, f.e)
	require.True(t, ok)
	assert.Equal(t, "ae", p.Command)
	_, ok = f.g.Direct(f.a, f.d)
	assert.False(t, ok)
}

func TestGraph_ShortestPath(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name     string
		from, to *domain.State
		want     []string
	}{
		{"self", f.a, f.a, []string{}},
		{"direct", f.b, f.c, []string{"bc"}},
		{"two hops, first discovered wins", f.a, f.d, []string{"ab", "bd"}},
		{"three hops avoided", f.b, f.d, []string{"bd"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			route, err := f.g.ShortestPath(tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, commands(route))
		})
	}

	_, err := f.g.ShortestPath(f.d, f.a)
	var noPath *domain.NoDirectPathError
	require.ErrorAs(t, err, &noPath)
	assert.True(t, noPath.HopWise)
	assert.Equal(t, "d", noPath.From)
}

func TestGraph_NearestOf(t *testing.T) {
	f := newFixture(t)

	route, err := f.g.NearestOf(f.a, []*domain.State{f.d, f.c})
	require.NoError(t, err)
	assert.Equal(t, []string{"ab", "bc"}, commands(route), "c is found at depth two before d")

	route, err = f.g.NearestOf(f.a, []*domain.State{f.e, f.a})
	require.NoError(t, err)
	assert.Empty(t, route)
}

func TestGraph_StateFor(t *testing.T) {
	g := graph.New("router")
	username := domain.MustState("username", `Username:\s*$`)
	user := domain.MustState("user", `\w>\s*$`)
	enabled := domain.MustState("enabled", `\w#\s*$`)
	config := domain.MustState("config", `\(config\)#\s*$`)
	for _, s := range []*domain.State{username, user, enabled, config} {
		require.NoError(t, g.AddState(s))
	}

	tests := []struct {
		name string
		out  string
		want *domain.State
	}{
		{"login", "\r\nUsername: ", username},
		{"enabled", "\r\nRouter#", enabled},
		{"config is not mistaken for enabled", "\r\nRouter(config)#", config},
		{"latest prompt wins", "Router>enable\r\nRouter#", enabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := g.StateFor(tt.out)
			require.True(t, ok)
			assert.Same(t, tt.want, got)
		})
	}

	_, ok := g.StateFor("booting...")
	assert.False(t, ok)
}
