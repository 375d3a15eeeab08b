package graph

import (
	"fmt"

	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
)

// Path is a directed edge: sending Command in From leads to To, answering
// any interactive prompts with Dialog on the way.
type Path struct {
	From    *domain.State
	To      *domain.State
	Command string
	Dialog  *dialog.Dialog
}

func (p *Path) String() string {
	return fmt.Sprintf("%s -> %s (%q)", p.From, p.To, p.Command)
}

// Graph holds the CLI modes of one device type and the paths between them.
// Build it once per device type; it is read-only afterwards and may be shared between sessions.
type Graph struct {
	name   string
	states []*domain.State
	byName map[string]*domain.State
	paths  []*Path
	out    map[*domain.State][]*Path
}

// New creates an empty graph.
func New(name string) *Graph {
	return &Graph{
		name:   name,
		byName: make(map[string]*domain.State),
		out:    make(map[*domain.State][]*Path),
	}
}

// Name returns the device type name.
func (g *Graph) Name() string { return g.name }

// AddState registers s. Names must be unique and sentinels cannot be added.
func (g *Graph) AddState(s *domain.State) error {
	if s == nil {
		return fmt.Errorf("nil state")
	}
	if s.IsSentinel() {
		return fmt.Errorf("sentinel state %q cannot be part of a graph", s.Name)
	}
	if _, exists := g.byName[s.Name]; exists {
		return fmt.Errorf("%w: %q", domain.ErrDuplicateState, s.Name)
	}
	g.states = append(g.states, s)
	g.byName[s.Name] = s
	return nil
}

// AddPath registers p. Both endpoints must already be states of the graph and
// at most one path may exist per (From, To) pair.
func (g *Graph) AddPath(p *Path) error {
	if p == nil || p.From == nil || p.To == nil {
		return fmt.Errorf("path endpoints cannot be nil")
	}
	if !g.Has(p.From) {
		return fmt.Errorf("path source %q: %w", p.From.Name, domain.ErrStateNotFound)
	}
	if !g.Has(p.To) {
		return fmt.Errorf("path destination %q: %w", p.To.Name, domain.ErrStateNotFound)
	}
	if p.From == p.To {
		return fmt.Errorf("path %s loops on itself", p)
	}
	if _, exists := g.Direct(p.From, p.To); exists {
		return fmt.Errorf("%w: %s -> %s", domain.ErrDuplicatePath, p.From.Name, p.To.Name)
	}
	g.paths = append(g.paths, p)
	g.out[p.From] = append(g.out[p.From], p)
	return nil
}

// Has reports whether s (by identity) belongs to the graph.
func (g *Graph) Has(s *domain.State) bool {
	if s == nil {
		return false
	}
	return g.byName[s.Name] == s
}

// State looks up a state by name.
func (g *Graph) State(name string) (*domain.State, error) {
	s, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrStateNotFound, name)
	}
	return s, nil
}

// States returns the states in insertion order.
func (g *Graph) States() []*domain.State {
	return append([]*domain.State(nil), g.states...)
}

// Paths returns the paths in insertion order.
func (g *Graph) Paths() []*Path {
	return append([]*Path(nil), g.paths...)
}

// PathsFrom returns the paths leaving s, in insertion order.
func (g *Graph) PathsFrom(s *domain.State) []*Path {
	return append([]*Path(nil), g.out[s]...)
}

// Direct returns the path from -> to, if declared.
func (g *Graph) Direct(from, to *domain.State) (*Path, bool) {
	for _, p := range g.out[from] {
		if p.To == to {
			return p, true
		}
	}
	return nil, false
}
