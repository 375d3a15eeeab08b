package dialog

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
)

// Action reacts to a matched rule. It may write to the transport, sleep, or
// mutate the dialog context.
type Action func(ctx context.Context, t ports.Transport, dc *domain.Context, m ports.MatchResult) error

// Rule binds a pattern to an action.
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
	Action  Action
	// Repeat keeps the rule active after it fires.
	Repeat bool
	// ResetTimer restarts the dialog budget after the rule fires.
	ResetTimer bool
	// Terminal ends the dialog after the rule fires.
	Terminal bool
}

// RuleOption configures a Rule built with NewRule.
type RuleOption func(*Rule)

// Repeat lets the rule fire more than once.
func Repeat() RuleOption { return func(r *Rule) { r.Repeat = true } }

// ResetTimer restarts the budget whenever the rule fires.
func ResetTimer() RuleOption { return func(r *Rule) { r.ResetTimer = true } }

// Terminal ends the dialog when the rule fires.
func Terminal() RuleOption { return func(r *Rule) { r.Terminal = true } }

// Named sets the rule name reported in summaries and errors.
func Named(name string) RuleOption { return func(r *Rule) { r.Name = name } }

// NewRule compiles pattern into a Rule. A nil action only consumes the match.
func NewRule(pattern string, action Action, opts ...RuleOption) (Rule, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return Rule{}, err
	}
	r := Rule{Name: pattern, Pattern: re, Action: action}
	for _, opt := range opts {
		opt(&r)
	}
	return r, nil
}

// MustRule is like NewRule but panics on an invalid pattern.
func MustRule(pattern string, action Action, opts ...RuleOption) Rule {
	r, err := NewRule(pattern, action, opts...)
	if err != nil {
		panic(err)
	}
	return r
}

// Dialog is an ordered set of rules. It is immutable once built and may be
// shared between sessions.
type Dialog struct {
	rules []Rule
}

// New creates a Dialog from rules, in precedence order.
func New(rules ...Rule) *Dialog {
	return &Dialog{rules: append([]Rule(nil), rules...)}
}

// Rules returns a copy of the rule list.
func (d *Dialog) Rules() []Rule {
	if d == nil {
		return nil
	}
	return append([]Rule(nil), d.rules...)
}

// Len returns the number of rules.
func (d *Dialog) Len() int {
	if d == nil {
		return 0
	}
	return len(d.rules)
}

// Append returns a new Dialog with d's rules followed by others'. Nil dialogs are skipped.
func (d *Dialog) Append(others ...*Dialog) *Dialog {
	out := &Dialog{rules: d.Rules()}
	for _, o := range others {
		out.rules = append(out.rules, o.Rules()...)
	}
	return out
}

// With returns a new Dialog with extra rules appended.
func (d *Dialog) With(rules ...Rule) *Dialog {
	return &Dialog{rules: append(d.Rules(), rules...)}
}

// Firing records one rule activation.
type Firing struct {
	Rule  string
	Match ports.MatchResult
}

// Summary is the result of a processed dialog.
type Summary struct {
	Fired []Firing
	// Output is all text consumed while the dialog ran.
	Output string
	// Terminal is the terminal rule that ended the dialog, nil when the dialog ran out of rules.
	Terminal *Rule
}

// Last returns the most recent firing.
func (s *Summary) Last() (Firing, bool) {
	if s == nil || len(s.Fired) == 0 {
		return Firing{}, false
	}
	return s.Fired[len(s.Fired)-1], true
}

func (s *Summary) names() []string {
	names := make([]string, len(s.Fired))
	for i, f := range s.Fired {
		names[i] = f.Rule
	}
	return names
}

// Process runs the dialog against t until a terminal rule fires, every rule has
// been consumed, or timeout elapses. A dialog without rules returns immediately.
func (d *Dialog) Process(ctx context.Context, t ports.Transport, timeout time.Duration, dc *domain.Context) (*Summary, error) {
	summary := &Summary{}
	active := d.Rules()
	if len(active) == 0 {
		return summary, nil
	}
	if dc == nil {
		dc = domain.NewContext()
	}

	var output strings.Builder
	deadline := time.Now().Add(timeout)

	for len(active) > 0 {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return summary, d.timeout(timeout, summary, output.String(), "")
		}

		patterns := make([]*regexp.Regexp, len(active))
		for i, r := range active {
			patterns[i] = r.Pattern
		}

		m, err := t.Expect(ctx, remaining, patterns...)
		if err != nil {
			summary.Output = output.String()
			var te *domain.TimeoutError
			if errors.As(err, &te) {
				return summary, d.timeout(timeout, summary, output.String(), te.Buffer)
			}
			return summary, err
		}
		output.WriteString(m.Consumed())

		rule := active[m.Index]
		summary.Fired = append(summary.Fired, Firing{Rule: rule.Name, Match: m})

		if rule.Action != nil {
			if err := rule.Action(ctx, t, dc, m); err != nil {
				summary.Output = output.String()
				return summary, err
			}
		}
		if rule.ResetTimer {
			deadline = time.Now().Add(timeout)
		}
		if rule.Terminal {
			summary.Terminal = &rule
			break
		}
		if !rule.Repeat {
			active = append(active[:m.Index], active[m.Index+1:]...)
		}
	}

	summary.Output = output.String()
	return summary, nil
}

func (d *Dialog) timeout(timeout time.Duration, s *Summary, consumed, pending string) error {
	s.Output = consumed
	return &domain.DialogTimeoutError{
		Timeout: timeout,
		Fired:   s.names(),
		Buffer:  consumed + pending,
	}
}
