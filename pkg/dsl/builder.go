package dsl

import (
	"errors"
	"fmt"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
)

// Builder manages the graph construction.
type Builder struct {
	name   string
	states map[string]*StateBuilder
	order  []string
}

// New creates a new graph builder for the device type name.
func New(name string) *Builder {
	return &Builder{
		name:   name,
		states: make(map[string]*StateBuilder),
	}
}

// Add creates a new state in the graph.
// If the state already exists, it returns the existing builder.
// States are registered in the order they are first added, which breaks ties
// between prompts matching at the same position.
func (b *Builder) Add(name string) *StateBuilder {
	if sb, ok := b.states[name]; ok {
		return sb
	}
	sb := &StateBuilder{name: name, builder: b}
	b.states[name] = sb
	b.order = append(b.order, name)
	return sb
}

// State is shorthand for Add(name).Prompt(prompt).
func (b *Builder) State(name, prompt string) *StateBuilder {
	return b.Add(name).Prompt(prompt)
}

// Build compiles the states and paths into a graph.Graph.
// All problems are reported together.
func (b *Builder) Build() (*graph.Graph, error) {
	g := graph.New(b.name)
	var errs []error

	for _, name := range b.order {
		sb := b.states[name]
		if sb.prompt == "" {
			errs = append(errs, fmt.Errorf("state %q: prompt is required", name))
			continue
		}
		s, err := domain.NewState(name, sb.prompt)
		if err != nil {
			errs = append(errs, fmt.Errorf("state %q: %w", name, err))
			continue
		}
		if err := g.AddState(s); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	for _, name := range b.order {
		from, _ := g.State(name)
		for _, e := range b.states[name].edges {
			to, err := g.State(e.target)
			if err != nil {
				errs = append(errs, fmt.Errorf("state %q: path %q: %w", name, e.command, err))
				continue
			}
			if err := g.AddPath(&graph.Path{From: from, To: to, Command: e.command, Dialog: e.dialog}); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return g, nil
}

// MustBuild is like Build but panics on error. Use it for graphs defined in code.
func (b *Builder) MustBuild() *graph.Graph {
	g, err := b.Build()
	if err != nil {
		panic(err)
	}
	return g
}
