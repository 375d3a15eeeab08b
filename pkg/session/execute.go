package session

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/promptgraph/internal/runtime"
	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
)

// call collects per-operation options.
type call struct {
	hopWise     *bool
	timeout     time.Duration
	dialog      *dialog.Dialog
	acceptable  []*domain.State
	state       *domain.State
	ignoreError bool
}

// CallOption tunes a single GoTo or Execute call.
type CallOption func(*call)

// HopWise overrides the session default routing mode for this call.
func HopWise(enabled bool) CallOption {
	return func(c *call) { c.hopWise = &enabled }
}

// Timeout overrides the command or per-hop budget for this call.
func Timeout(d time.Duration) CallOption {
	return func(c *call) { c.timeout = d }
}

// Dialog adds rules consulted before the prompt while the call waits.
func Dialog(d *dialog.Dialog) CallOption {
	return func(c *call) { c.dialog = c.dialog.Append(d) }
}

// Accept restricts GoTo(domain.Any) to the given states.
func Accept(states ...*domain.State) CallOption {
	return func(c *call) { c.acceptable = append(c.acceptable, states...) }
}

// InState moves the device to state before running a command.
func InState(state *domain.State) CallOption {
	return func(c *call) { c.state = state }
}

// IgnoreErrors keeps output flagged by a bad-command marker instead of failing.
func IgnoreErrors() CallOption {
	return func(c *call) { c.ignoreError = true }
}

func newCall(opts []CallOption) *call {
	c := &call{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GoTo moves the device to target, which may be domain.Any.
// The current state is updated after every confirmed hop, so a failed call
// leaves it at the last prompt actually observed.
func (s *Session) GoTo(ctx context.Context, target *domain.State, opts ...CallOption) error {
	c := newCall(opts)
	return s.withRecovery(ctx, "goto", func() error {
		return s.goTo(ctx, target, c)
	})
}

// GoToAny moves the device into any of the acceptable states, probing first if needed.
func (s *Session) GoToAny(ctx context.Context, acceptable ...*domain.State) error {
	return s.GoTo(ctx, domain.Any, Accept(acceptable...))
}

func (s *Session) goTo(ctx context.Context, target *domain.State, c *call) error {
	t, err := s.Transport()
	if err != nil {
		return err
	}
	hopWise := s.hopWise
	if c.hopWise != nil {
		hopWise = *c.hopWise
	}
	next, err := s.engine.GoTo(ctx, t, s.Current(), runtime.Request{
		Target:     target,
		Acceptable: c.acceptable,
		HopWise:    hopWise,
		Timeout:    c.timeout,
		Dialog:     c.dialog,
		Context:    s.dctx,
		SessionID:  s.id,
	})
	s.setCurrent(next)
	return err
}

// Execute sends cmd in the current state and returns its output, without the
// echoed command and the trailing prompt. Output matching a bad-command marker
// fails with *domain.BadCommandError unless IgnoreErrors is given.
func (s *Session) Execute(ctx context.Context, cmd string, opts ...CallOption) (string, error) {
	c := newCall(opts)
	var out string
	err := s.withRecovery(ctx, "execute", func() error {
		var err error
		out, err = s.execute(ctx, cmd, c, s.badCommand)
		return err
	})
	return out, err
}

// ExecuteLines runs each non-blank line of lines as a command and joins the outputs.
// It stops at the first failing line, returning the output gathered so far.
func (s *Session) ExecuteLines(ctx context.Context, lines string, opts ...CallOption) (string, error) {
	return s.executeLines(ctx, lines, newCall(opts), s.badCommand)
}

// Configure enters the configuration state, if one is set, and sends lines.
// Configuration rejections are flagged by the bad-config markers as well.
func (s *Session) Configure(ctx context.Context, lines string, opts ...CallOption) (string, error) {
	c := newCall(opts)
	if s.configState != nil && c.state == nil {
		c.state = s.configState
	}
	markers := append(append([]*regexp.Regexp{}, s.badCommand...), s.badConfig...)
	return s.executeLines(ctx, lines, c, markers)
}

func (s *Session) executeLines(ctx context.Context, lines string, c *call, markers []*regexp.Regexp) (string, error) {
	var outputs []string
	for i, line := range splitLines(lines) {
		lc := c
		if i > 0 {
			// later lines run wherever the previous ones left the device
			next := *c
			next.state = nil
			lc = &next
		}
		var out string
		err := s.withRecovery(ctx, "execute", func() error {
			var err error
			out, err = s.execute(ctx, line, lc, markers)
			return err
		})
		if out != "" {
			outputs = append(outputs, out)
		}
		if err != nil {
			return strings.Join(outputs, "\n"), err
		}
	}
	return strings.Join(outputs, "\n"), nil
}

func (s *Session) execute(ctx context.Context, cmd string, c *call, markers []*regexp.Regexp) (string, error) {
	switch {
	case c.state != nil:
		if err := s.goTo(ctx, c.state, c); err != nil {
			return "", err
		}
	case s.Current() == domain.Unknown:
		if err := s.goTo(ctx, domain.Any, &call{}); err != nil {
			return "", err
		}
	}

	t, err := s.Transport()
	if err != nil {
		return "", err
	}
	state := s.Current()
	timeout := c.timeout
	if timeout <= 0 {
		timeout = s.commandTimeout
	}

	start := time.Now()
	t.Read()
	if err := t.SendLine(cmd); err != nil {
		s.emitCommand(ctx, state, cmd, "", start, err)
		return "", err
	}

	prompts, landing := s.engine.PromptRules(state)
	summary, err := c.dialog.With(prompts...).Process(ctx, t, timeout, s.dctx)
	if err != nil {
		s.emitCommand(ctx, state, cmd, "", start, err)
		return "", err
	}
	if summary.Terminal != nil {
		if landed := landing[summary.Terminal.Name]; landed != nil && landed != state {
			s.logger.Debug("command changed state", "command", cmd, "from", state.Name, "to", landed.Name)
			s.setCurrent(landed)
		}
	}

	out := cleanOutput(summary, cmd)
	if !c.ignoreError {
		for _, m := range markers {
			if loc := m.FindString(out); loc != "" {
				err := &domain.BadCommandError{Command: cmd, Marker: loc, Output: out}
				s.emitCommand(ctx, state, cmd, out, start, err)
				return out, err
			}
		}
	}
	s.emitCommand(ctx, state, cmd, out, start, nil)
	return out, nil
}

// cleanOutput strips the trailing prompt, the echoed command and line noise.
func cleanOutput(summary *dialog.Summary, cmd string) string {
	out := summary.Output
	if last, ok := summary.Last(); ok && summary.Terminal != nil {
		out = strings.TrimSuffix(out, last.Match.Match)
		// the prompt may start before its pattern, as in "host>" matched by `\w>`
		if i := strings.LastIndex(out, "\n"); i >= 0 {
			out = out[:i+1]
		} else {
			out = ""
		}
	}
	out = strings.ReplaceAll(out, "\r\n", "\n")
	out = strings.ReplaceAll(out, "\r", "")

	if first, rest, _ := strings.Cut(out, "\n"); strings.TrimSpace(first) == strings.TrimSpace(cmd) {
		out = rest
	}
	return strings.Trim(out, "\n ")
}

func splitLines(lines string) []string {
	var out []string
	for _, line := range strings.Split(lines, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return out
}

func (s *Session) emitCommand(ctx context.Context, state *domain.State, cmd, out string, start time.Time, err error) {
	if err != nil {
		var bad *domain.BadCommandError
		if errors.As(err, &bad) {
			s.logger.Warn("command rejected", "state", state.Name, "command", cmd, "marker", bad.Marker)
		} else {
			s.logger.Debug("command failed", "state", state.Name, "command", cmd, "err", err)
		}
	}
	if s.hooks.OnCommand == nil {
		return
	}
	s.hooks.OnCommand(ctx, &domain.CommandEvent{
		EventBase: domain.EventBase{
			Timestamp: time.Now(),
			Type:      domain.EventCommand,
			SessionID: s.id,
		},
		State:    state.Name,
		Command:  cmd,
		Output:   out,
		Duration: time.Since(start),
		Err:      err,
	})
}
