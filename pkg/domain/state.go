package domain

import (
	"fmt"
	"regexp"
)

// State is a named appliance CLI mode recognised by its prompt.
// States are compared by pointer: two States with the same name and prompt are still distinct.
type State struct {
	Name   string
	Prompt *regexp.Regexp

	sentinel bool
}

var (
	// Unknown is the state of a session whose mode has not been confirmed yet.
	Unknown = &State{Name: "unknown", sentinel: true}
	// Any is a transition target meaning "whatever known state the device is in".
	Any = &State{Name: "any", sentinel: true}
)

// NewState compiles prompt and returns a new State.
func NewState(name, prompt string) (*State, error) {
	if name == "" {
		return nil, fmt.Errorf("state name cannot be empty")
	}
	if IsReservedName(name) {
		return nil, fmt.Errorf("state name %q is reserved", name)
	}
	re, err := regexp.Compile(prompt)
	if err != nil {
		return nil, fmt.Errorf("state %q: invalid prompt pattern: %w", name, err)
	}
	return &State{Name: name, Prompt: re}, nil
}

// MustState is like NewState but panics on error. Intended for package-level device graphs.
func MustState(name, prompt string) *State {
	s, err := NewState(name, prompt)
	if err != nil {
		panic(err)
	}
	return s
}

// IsReservedName reports whether name belongs to a sentinel state.
func IsReservedName(name string) bool {
	return name == Unknown.Name || name == Any.Name
}

// IsSentinel reports whether s is Unknown or Any.
func (s *State) IsSentinel() bool {
	return s != nil && s.sentinel
}

// Matches reports whether the prompt pattern occurs in text.
func (s *State) Matches(text string) bool {
	if s == nil || s.Prompt == nil {
		return false
	}
	return s.Prompt.MatchString(text)
}

func (s *State) String() string {
	if s == nil {
		return "<nil>"
	}
	return s.Name
}
