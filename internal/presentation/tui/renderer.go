package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/muesli/termenv"
)

// Renderer prints session activity for humans, coloured when the terminal allows it.
type Renderer struct {
	w       io.Writer
	out     *termenv.Output
	verbose bool
}

// RendererOption configures a Renderer.
type RendererOption func(*Renderer)

// WithProfile forces a colour profile, e.g. termenv.Ascii for plain output.
func WithProfile(p termenv.Profile) RendererOption {
	return func(r *Renderer) {
		r.out = termenv.NewOutput(r.w, termenv.WithProfile(p))
	}
}

// WithVerbose makes the hooks print every hop and command, not only failures.
func WithVerbose(v bool) RendererOption {
	return func(r *Renderer) {
		r.verbose = v
	}
}

// NewRenderer returns a Renderer writing to w.
func NewRenderer(w io.Writer, opts ...RendererOption) *Renderer {
	r := &Renderer{w: w, out: termenv.NewOutput(w)}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Renderer) paint(s, color string) termenv.Style {
	return r.out.String(s).Foreground(r.out.Color(color))
}

// State prints the state the session is in.
func (r *Renderer) State(name string) {
	fmt.Fprintf(r.w, "%s %s\n", r.paint("state:", "#818cf8"), r.paint(name, "#34d399").Bold())
}

// Output prints command output verbatim, ending with a newline.
func (r *Renderer) Output(text string) {
	if text == "" {
		return
	}
	fmt.Fprint(r.w, text)
	if !strings.HasSuffix(text, "\n") {
		fmt.Fprintln(r.w)
	}
}

// Error prints err in red.
func (r *Renderer) Error(err error) {
	if err == nil {
		return
	}
	fmt.Fprintln(r.w, r.paint("error: "+err.Error(), "#f87171"))
}

// Transition prints one hop.
func (r *Renderer) Transition(e *domain.TransitionEvent) {
	arrow := r.paint("->", "#a78bfa")
	line := fmt.Sprintf("  %s %s %s", e.From, arrow, e.To)
	if e.Command != "" {
		line += fmt.Sprintf(" [%s]", e.Command)
	}
	line += " " + r.paint(e.Duration.Round(time.Millisecond).String(), "#6b7280").String()
	if e.Err != nil {
		line += " " + r.paint(e.Err.Error(), "#f87171").String()
	}
	fmt.Fprintln(r.w, line)
}

// Reconnect prints a recovery attempt.
func (r *Renderer) Reconnect(e *domain.ReconnectEvent) {
	msg := fmt.Sprintf("  reconnect #%d from %s", e.Attempt, e.Prior)
	if e.Err != nil {
		fmt.Fprintln(r.w, r.paint(msg+": "+e.Err.Error(), "#f87171"))
		return
	}
	fmt.Fprintln(r.w, r.paint(msg, "#fbbf24"))
}

// Hooks prints transitions and reconnects as they happen. Failed hops are always
// shown; successful ones only in verbose mode.
func (r *Renderer) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(_ context.Context, e *domain.TransitionEvent) {
			if r.verbose || e.Err != nil {
				r.Transition(e)
			}
		},
		OnReconnect: func(_ context.Context, e *domain.ReconnectEvent) {
			r.Reconnect(e)
		},
	}
}
