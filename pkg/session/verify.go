package session

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/aretw0/promptgraph/pkg/dialog"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/retry"
)

// VerifyOptions bounds ExecuteAndVerify.
type VerifyOptions struct {
	// Timeout is the budget of each command run.
	Timeout time.Duration
	// Interval is the pause between attempts.
	Interval time.Duration
	// TimeoutTotal bounds the whole loop. Zero leaves only RetryCount.
	TimeoutTotal time.Duration
	// RetryCount is the maximum number of attempts. Zero leaves only TimeoutTotal;
	// with both zero the command runs once.
	RetryCount int
	// Remediation is configuration applied between failed attempts.
	Remediation string
	// Commit is sent after Remediation, for devices with staged configuration.
	Commit string
	// ExactLine requires a whole output line to equal Expected instead of
	// treating Expected as a regular expression.
	ExactLine bool
	// State is where the command runs. Nil pins every attempt to the state the
	// session is in when the call starts.
	State *domain.State
	// Dialog answers prompts the command raises, such as a pager.
	Dialog *dialog.Dialog
}

// ExecuteAndVerify runs cmd until its output matches expected or the bounds run out,
// applying the remediation between attempts. It returns the last output.
// A command that never matches fails with *domain.VerificationFailedError.
func (s *Session) ExecuteAndVerify(ctx context.Context, cmd, expected string, v VerifyOptions) (string, error) {
	match, err := outputMatcher(expected, v.ExactLine)
	if err != nil {
		return "", err
	}

	// every attempt runs where the first one did, since remediation leaves the
	// device in the configuration state
	state := v.State
	if state == nil {
		if s.Current() == domain.Unknown {
			if err := s.GoTo(ctx, domain.Any); err != nil {
				return "", err
			}
		}
		state = s.Current()
	}
	opts := []CallOption{Timeout(v.Timeout), InState(state)}
	if v.Dialog != nil {
		opts = append(opts, Dialog(v.Dialog))
	}

	var last string
	outcome, err := retry.Attempt(ctx,
		retry.Bounds{RetryCount: v.RetryCount, Interval: v.Interval, TimeoutTotal: v.TimeoutTotal},
		func(attempt int) (bool, error) {
			out, err := s.Execute(ctx, cmd, opts...)
			last = out
			if err != nil {
				return false, err
			}
			ok := match(out)
			s.logger.Debug("verification attempt", "command", cmd, "attempt", attempt, "matched", ok)
			return ok, nil
		},
		func(int) error { return s.remediate(ctx, v) },
		retry.WithClock(s.clock),
	)
	if err != nil {
		return last, err
	}
	if !outcome.Done {
		return last, &domain.VerificationFailedError{
			Command:  cmd,
			Expected: expected,
			Attempts: outcome.Attempts,
			Elapsed:  outcome.Elapsed,
			Output:   last,
		}
	}
	return last, nil
}

func (s *Session) remediate(ctx context.Context, v VerifyOptions) error {
	if v.Remediation == "" && v.Commit == "" {
		return nil
	}
	s.logger.Info("applying remediation", "lines", len(splitLines(v.Remediation)))
	if v.Remediation != "" {
		if _, err := s.Configure(ctx, v.Remediation); err != nil {
			return fmt.Errorf("remediation: %w", err)
		}
	}
	if v.Commit != "" {
		if _, err := s.Execute(ctx, v.Commit); err != nil {
			return fmt.Errorf("commit: %w", err)
		}
	}
	return nil
}

func outputMatcher(expected string, exactLine bool) (func(string) bool, error) {
	if exactLine {
		want := strings.TrimSpace(expected)
		return func(out string) bool {
			for _, line := range strings.Split(out, "\n") {
				if strings.TrimSpace(line) == want {
					return true
				}
			}
			return false
		}, nil
	}
	re, err := regexp.Compile(expected)
	if err != nil {
		return nil, fmt.Errorf("expected output %q: %w", expected, err)
	}
	return re.MatchString, nil
}

// WaitUntil polls predicate every step until it holds or timeout would be exceeded,
// failing with *domain.PollTimeoutError.
func (s *Session) WaitUntil(ctx context.Context, predicate retry.Predicate, timeout, step time.Duration) error {
	return retry.WaitUntil(ctx, predicate, timeout, step, retry.WithClock(s.clock))
}

// WaitForOutput polls cmd until its output matches expected.
func (s *Session) WaitForOutput(ctx context.Context, cmd, expected string, timeout, step time.Duration) (string, error) {
	match, err := outputMatcher(expected, false)
	if err != nil {
		return "", err
	}
	var last string
	err = s.WaitUntil(ctx, func(ctx context.Context) (bool, error) {
		out, err := s.Execute(ctx, cmd, IgnoreErrors())
		last = out
		return err == nil && match(out), err
	}, timeout, step)
	return last, err
}
