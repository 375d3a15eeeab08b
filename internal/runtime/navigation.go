package runtime

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/graph"
	"github.com/aretw0/promptgraph/pkg/ports"
)

// route walks from current until it reaches one of goals.
// Landing in a known but unexpected state confirms that state and re-plans,
// at most once per state of the graph.
func (e *Engine) route(ctx context.Context, t ports.Transport, current *domain.State, goals []*domain.State, req Request) (*domain.State, error) {
	replans := len(e.graph.States())

	for {
		if contains(goals, current) {
			return current, nil
		}

		hops, err := e.plan(current, goals, req.HopWise)
		if err != nil {
			return current, err
		}

		for _, hop := range hops {
			reached, err := e.hop(ctx, t, hop, req)
			if err != nil {
				return current, err
			}
			current = reached
			if reached != hop.To {
				break
			}
		}

		if contains(goals, current) {
			return current, nil
		}
		replans--
		if replans <= 0 {
			return current, &domain.StateTransitionError{
				From: current.Name,
				To:   stateNames(goals),
				Err:  fmt.Errorf("gave up after re-planning %d times", len(e.graph.States())),
			}
		}
		e.logger.Info("re-planning route", "from", current.Name, "to", stateNames(goals))
	}
}

// plan returns the hops to take from current.
// Direct mode takes the first outward path, in insertion order, into the goal set.
func (e *Engine) plan(current *domain.State, goals []*domain.State, hopWise bool) ([]*graph.Path, error) {
	if hopWise {
		return e.graph.NearestOf(current, goals)
	}
	for _, p := range e.graph.PathsFrom(current) {
		if contains(goals, p.To) {
			return []*graph.Path{p}, nil
		}
	}
	return nil, &domain.NoDirectPathError{From: current.Name, To: stateNames(goals)}
}

// hop performs one path and returns the state whose prompt was observed.
func (e *Engine) hop(ctx context.Context, t ports.Transport, p *graph.Path, req Request) (*domain.State, error) {
	start := time.Now()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.hopTimeout
	}

	command := p.Command
	if strings.Contains(command, "{{") {
		expanded, err := dialog.Expand(command, req.Context)
		if err != nil {
			return p.From, fmt.Errorf("path %s: %w", p, err)
		}
		command = expanded
	}

	// stale output must not be mistaken for the answer to this command
	t.Read()

	e.logger.Debug("hop", "session", req.SessionID, "from", p.From.Name, "to", p.To.Name, "command", p.Command)
	if err := t.SendLine(command); err != nil {
		e.emit(ctx, req, p, nil, start, err)
		return p.From, err
	}

	prompts, landing := e.PromptRules(p.To)
	d := p.Dialog.Append(req.Dialog).With(prompts...)

	summary, err := d.Process(ctx, t, timeout, req.Context)
	if err != nil {
		var dte *domain.DialogTimeoutError
		if errors.As(err, &dte) {
			err = &domain.StateTransitionError{
				From:    p.From.Name,
				To:      p.To.Name,
				Command: p.Command,
				Buffer:  dte.Buffer,
				Err:     dte,
			}
		}
		e.emit(ctx, req, p, nil, start, err)
		return p.From, err
	}

	var reached *domain.State
	if summary.Terminal != nil {
		reached = landing[summary.Terminal.Name]
	}

	switch reached {
	case p.To:
		e.emit(ctx, req, p, reached, start, nil)
		return reached, nil
	case nil, p.From:
		err := &domain.StateTransitionError{
			From:    p.From.Name,
			To:      p.To.Name,
			Command: p.Command,
			Buffer:  summary.Output,
			Err:     fmt.Errorf("device stayed in %q", p.From.Name),
		}
		e.emit(ctx, req, p, nil, start, err)
		return p.From, err
	}

	e.logger.Warn("hop landed in unexpected state",
		"session", req.SessionID, "from", p.From.Name, "to", p.To.Name, "reached", reached.Name)
	e.emit(ctx, req, p, reached, start, nil)
	return reached, nil
}

// PromptRules builds one terminal rule per state, dest first, so a wait ends on
// whichever known prompt shows up. The map resolves a rule name to its state.
func (e *Engine) PromptRules(dest *domain.State) ([]dialog.Rule, map[string]*domain.State) {
	states := e.graph.States()
	rules := make([]dialog.Rule, 0, len(states))
	landing := make(map[string]*domain.State, len(states))

	add := func(s *domain.State) {
		name := "prompt:" + s.Name
		rules = append(rules, dialog.Rule{Name: name, Pattern: s.Prompt, Terminal: true})
		landing[name] = s
	}
	add(dest)
	for _, s := range states {
		if s != dest {
			add(s)
		}
	}
	return rules, landing
}

func (e *Engine) emit(ctx context.Context, req Request, p *graph.Path, reached *domain.State, start time.Time, err error) {
	if e.hooks.OnTransition == nil {
		return
	}
	ev := &domain.TransitionEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventTransition,
			SessionID: req.SessionID,
		},
		From:     p.From.Name,
		To:       p.To.Name,
		Command:  p.Command,
		Duration: time.Since(start),
		Err:      err,
	}
	if reached != nil {
		ev.Reached = reached.Name
	}
	e.hooks.OnTransition(ctx, ev)
}

func stateNames(states []*domain.State) string {
	names := make([]string, len(states))
	for i, s := range states {
		names[i] = s.Name
	}
	return strings.Join(names, "|")
}
