package dialog

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
)

// Send writes text as-is.
func Send(text string) Action {
	return func(_ context.Context, t ports.Transport, _ *domain.Context, _ ports.MatchResult) error {
		return t.Send(text)
	}
}

// SendLine writes text followed by the line terminator.
func SendLine(text string) Action {
	return func(_ context.Context, t ports.Transport, _ *domain.Context, _ ports.MatchResult) error {
		return t.SendLine(text)
	}
}

// SendContext writes the value stored under key, followed by the line terminator.
func SendContext(key domain.Key[string]) Action {
	return func(_ context.Context, t ports.Transport, dc *domain.Context, _ ports.MatchResult) error {
		v, ok := domain.Get(dc, key)
		if !ok {
			return fmt.Errorf("dialog context has no %q", key.Name())
		}
		return t.SendLine(v)
	}
}

var placeholder = regexp.MustCompile(`\{\{\s*([\w.-]+)\s*\}\}`)

// SendTemplate writes text with {{name}} placeholders replaced from the dialog context.
func SendTemplate(text string, newline bool) Action {
	return func(_ context.Context, t ports.Transport, dc *domain.Context, _ ports.MatchResult) error {
		out, err := Expand(text, dc)
		if err != nil {
			return err
		}
		if newline {
			return t.SendLine(out)
		}
		return t.Send(out)
	}
}

// Expand replaces {{name}} placeholders with values from dc.
func Expand(text string, dc *domain.Context) (string, error) {
	var missing string
	out := placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, ok := dc.Lookup(name)
		if !ok && missing == "" {
			missing = name
		}
		return v
	})
	if missing != "" {
		return "", fmt.Errorf("dialog context has no %q", missing)
	}
	return out, nil
}

// Sleep pauses for d, honouring ctx.
func Sleep(d time.Duration) Action {
	return func(ctx context.Context, _ ports.Transport, _ *domain.Context, _ ports.MatchResult) error {
		select {
		case <-time.After(d):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Chain runs actions in order and stops at the first error.
func Chain(actions ...Action) Action {
	return func(ctx context.Context, t ports.Transport, dc *domain.Context, m ports.MatchResult) error {
		for _, a := range actions {
			if a == nil {
				continue
			}
			if err := a(ctx, t, dc, m); err != nil {
				return err
			}
		}
		return nil
	}
}

// Fail aborts the dialog with err. Useful for prompts that mean the device refused the request.
func Fail(err error) Action {
	return func(context.Context, ports.Transport, *domain.Context, ports.MatchResult) error {
		return err
	}
}
