package compiler

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/dsl"
	"github.com/aretw0/promptgraph/pkg/graph"
	"github.com/aretw0/promptgraph/pkg/session"
)

// Definition is a compiled device definition.
type Definition struct {
	Graph       *graph.Graph
	Entry       *domain.State
	ConfigState *domain.State
	Connect     *dialog.Dialog
	BadCommand  []*regexp.Regexp
	BadConfig   []*regexp.Regexp
	Disconnect  []string
}

// SessionOptions returns the session options the definition implies.
// Markers left empty in the file keep the session defaults.
func (d *Definition) SessionOptions() []session.Option {
	var opts []session.Option
	if d.ConfigState != nil {
		opts = append(opts, session.WithConfigState(d.ConfigState))
	}
	if d.Connect != nil {
		opts = append(opts, session.WithConnectDialog(d.Connect))
	}
	if len(d.BadCommand) > 0 {
		opts = append(opts, session.WithBadCommandMarkers(d.BadCommand...))
	}
	if len(d.BadConfig) > 0 {
		opts = append(opts, session.WithBadConfigMarkers(d.BadConfig...))
	}
	return opts
}

// ReconnectPolicy completes p with the disconnect markers of the definition.
func (d *Definition) ReconnectPolicy(p session.ReconnectPolicy) session.ReconnectPolicy {
	if len(d.Disconnect) > 0 && len(p.Markers) == 0 {
		p.Markers = append([]string(nil), d.Disconnect...)
	}
	return p
}

// Compile turns a parsed definition into a graph and session settings.
// Every problem found is reported, joined.
func Compile(df *DeviceFile) (*Definition, error) {
	var errs []error

	dialogs := make(map[string]*dialog.Dialog, len(df.Dialogs))
	for name, rules := range df.Dialogs {
		d, err := compileDialog(rules)
		if err != nil {
			errs = append(errs, fmt.Errorf("dialog %q: %w", name, err))
			continue
		}
		dialogs[name] = d
	}

	b := dsl.New(df.Name)
	for _, s := range df.States {
		if s.Name == "" {
			errs = append(errs, fmt.Errorf("state without name"))
			continue
		}
		b.State(s.Name, s.Prompt)
	}

	for i, p := range df.Paths {
		if p.From == "" || p.To == "" {
			errs = append(errs, fmt.Errorf("path %d: from and to are required", i))
			continue
		}
		if !declared(df, p.From) {
			errs = append(errs, fmt.Errorf("path %d: source %w: %q", i, domain.ErrStateNotFound, p.From))
			continue
		}
		var rules []dialog.Rule
		if p.Dialog != "" {
			named, ok := dialogs[p.Dialog]
			if !ok {
				// A declared but broken dialog is already reported.
				if _, found := df.Dialogs[p.Dialog]; !found {
					errs = append(errs, fmt.Errorf("path %d: unknown dialog %q", i, p.Dialog))
				}
				continue
			}
			rules = named.Rules()
		}
		inline, err := compileDialog(p.Answers)
		if err != nil {
			errs = append(errs, fmt.Errorf("path %d: %w", i, err))
			continue
		}
		rules = append(rules, inline.Rules()...)

		sb := b.Add(p.From).Go(p.To, p.Command)
		for _, r := range rules {
			sb.Respond(r.Pattern.String(), r.Action, ruleOptions(r)...)
		}
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g, err := b.Build()
	if err != nil {
		return nil, err
	}
	def := &Definition{Graph: g}

	if df.Entry != "" {
		if def.Entry, err = g.State(df.Entry); err != nil {
			errs = append(errs, fmt.Errorf("entry: %w", err))
		}
	}
	if df.ConfigState != "" {
		if def.ConfigState, err = g.State(df.ConfigState); err != nil {
			errs = append(errs, fmt.Errorf("config_state: %w", err))
		}
	}
	if df.Connect != "" {
		if def.Connect = dialogs[df.Connect]; def.Connect == nil {
			errs = append(errs, fmt.Errorf("connect: unknown dialog %q", df.Connect))
		}
	}
	if def.BadCommand, err = compileMarkers(df.Markers.BadCommand); err != nil {
		errs = append(errs, fmt.Errorf("bad_command: %w", err))
	}
	if def.BadConfig, err = compileMarkers(df.Markers.BadConfig); err != nil {
		errs = append(errs, fmt.Errorf("bad_config: %w", err))
	}
	def.Disconnect = df.Markers.Disconnect

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return def, nil
}

func declared(df *DeviceFile, name string) bool {
	for _, s := range df.States {
		if s.Name == name {
			return true
		}
	}
	return false
}

func ruleOptions(r dialog.Rule) []dialog.RuleOption {
	opts := []dialog.RuleOption{dialog.Named(r.Name)}
	if r.Repeat {
		opts = append(opts, dialog.Repeat())
	}
	if r.ResetTimer {
		opts = append(opts, dialog.ResetTimer())
	}
	if r.Terminal {
		opts = append(opts, dialog.Terminal())
	}
	return opts
}

func compileDialog(defs []RuleDef) (*dialog.Dialog, error) {
	rules := make([]dialog.Rule, 0, len(defs))
	for i, rd := range defs {
		if rd.Pattern == "" {
			return nil, fmt.Errorf("rule %d: pattern is required", i)
		}
		var opts []dialog.RuleOption
		if rd.Name != "" {
			opts = append(opts, dialog.Named(rd.Name))
		}
		if rd.Repeat {
			opts = append(opts, dialog.Repeat())
		}
		if rd.ResetTimer {
			opts = append(opts, dialog.ResetTimer())
		}
		if rd.Terminal {
			opts = append(opts, dialog.Terminal())
		}
		r, err := dialog.NewRule(rd.Pattern, ruleAction(rd), opts...)
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return dialog.New(rules...), nil
}

func ruleAction(rd RuleDef) dialog.Action {
	var actions []dialog.Action
	if rd.Sleep > 0 {
		actions = append(actions, dialog.Sleep(rd.Sleep))
	}
	if rd.Send != nil {
		actions = append(actions, dialog.SendTemplate(*rd.Send, false))
	}
	if rd.SendLine != nil {
		actions = append(actions, dialog.SendTemplate(*rd.SendLine, true))
	}
	if rd.SendContext != "" {
		actions = append(actions, dialog.SendContext(domain.NewKey[string](rd.SendContext)))
	}
	if rd.Fail != "" {
		actions = append(actions, dialog.Fail(errors.New(rd.Fail)))
	}
	switch len(actions) {
	case 0:
		return nil
	case 1:
		return actions[0]
	}
	return dialog.Chain(actions...)
}

func compileMarkers(patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, re)
	}
	return out, nil
}
