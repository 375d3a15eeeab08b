package dsl

import (
	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
)

// StateBuilder provides a fluent API for configuring a state and its outgoing paths.
type StateBuilder struct {
	name    string
	prompt  string
	edges   []*edge
	builder *Builder
}

type edge struct {
	target  string
	command string
	dialog  *dialog.Dialog
}

// Prompt sets the regular expression recognising the state.
func (s *StateBuilder) Prompt(pattern string) *StateBuilder {
	s.prompt = pattern
	return s
}

// Go adds a path: sending command in this state leads to target.
// Command may use {{key}} placeholders filled from the session context.
func (s *StateBuilder) Go(target, command string) *StateBuilder {
	s.edges = append(s.edges, &edge{target: target, command: command})
	return s
}

// Answer adds a rule to the dialog of the last path: when pattern appears on the
// way, reply is sent as a line. Reply may use {{key}} placeholders.
func (s *StateBuilder) Answer(pattern, reply string) *StateBuilder {
	return s.Respond(pattern, dialog.SendTemplate(reply, true))
}

// AnswerSecret is Answer with the reply taken from a context key, e.g. domain.KeyPassword.
func (s *StateBuilder) AnswerSecret(pattern string, key domain.Key[string]) *StateBuilder {
	return s.Respond(pattern, dialog.SendContext(key))
}

// Respond adds an arbitrary rule to the dialog of the last path.
// It panics if no path was added yet, since the rule would have nowhere to go.
func (s *StateBuilder) Respond(pattern string, action dialog.Action, opts ...dialog.RuleOption) *StateBuilder {
	if len(s.edges) == 0 {
		panic("dsl: " + s.name + ": Respond before Go")
	}
	e := s.edges[len(s.edges)-1]
	e.dialog = e.dialog.With(dialog.MustRule(pattern, action, opts...))
	return s
}

// Add continues with another state of the same builder.
func (s *StateBuilder) Add(name string) *StateBuilder {
	return s.builder.Add(name)
}

// State continues with another state of the same builder.
func (s *StateBuilder) State(name, prompt string) *StateBuilder {
	return s.builder.State(name, prompt)
}

// Build compiles the whole builder, see Builder.Build.
func (s *StateBuilder) Build() (*graph.Graph, error) {
	return s.builder.Build()
}
