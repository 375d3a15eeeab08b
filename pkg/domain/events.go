package domain

import (
	"context"
	"time"
)

// EventType defines the category of the event.
type EventType string

const (
	EventTransition EventType = "transition"
	EventCommand    EventType = "command"
	EventReconnect  EventType = "reconnect"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id"`
}

// TransitionEvent reports a single hop between two states.
type TransitionEvent struct {
	EventBase
	From     string        `json:"from"`
	To       string        `json:"to"`
	Reached  string        `json:"reached,omitempty"`
	Command  string        `json:"command"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// CommandEvent reports a command executed in a state.
type CommandEvent struct {
	EventBase
	State    string        `json:"state"`
	Command  string        `json:"command"`
	Output   string        `json:"output,omitempty"`
	Duration time.Duration `json:"duration"`
	Err      error         `json:"-"`
}

// ReconnectEvent reports a recovery attempt after a transport failure.
type ReconnectEvent struct {
	EventBase
	Attempt int    `json:"attempt"`
	Prior   string `json:"prior"`
	Cause   error  `json:"-"`
	Err     error  `json:"-"`
}

// LifecycleHooks defines callbacks for engine observability.
type LifecycleHooks struct {
	OnTransition func(context.Context, *TransitionEvent)
	OnCommand    func(context.Context, *CommandEvent)
	OnReconnect  func(context.Context, *ReconnectEvent)
}

// Merge returns hooks calling h first and then other.
func (h LifecycleHooks) Merge(other LifecycleHooks) LifecycleHooks {
	return LifecycleHooks{
		OnTransition: chain(h.OnTransition, other.OnTransition),
		OnCommand:    chain(h.OnCommand, other.OnCommand),
		OnReconnect:  chain(h.OnReconnect, other.OnReconnect),
	}
}

func chain[E any](a, b func(context.Context, E)) func(context.Context, E) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, e E) {
		a(ctx, e)
		b(ctx, e)
	}
}
