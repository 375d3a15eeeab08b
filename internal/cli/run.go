package cli

import (
	"context"
	"fmt"

	"github.com/aretw0/promptgraph/pkg/session"
)

// WithDevice opens device, runs fn holding its console lease and closes the
// session. SIGINT or SIGTERM closes the session, which unblocks any pending read.
func WithDevice(ctx context.Context, env *Env, device string, fn func(context.Context, *session.Session) error) error {
	sm := NewSignalManager(ctx)
	defer sm.Stop()

	m := env.NewManager()
	defer m.CloseAll()

	if _, err := m.Open(sm.Context(), device, func(ctx context.Context) (*session.Session, error) {
		return env.Open(ctx, device)
	}); err != nil {
		return err
	}
	sm.OnSignal(func() {
		env.logger.Warn("interrupted, closing session", "device", device)
		_ = m.Close(device)
	})

	err := m.WithSession(sm.Context(), device, fn)
	if err != nil && sm.CheckRace() {
		return fmt.Errorf("%w: %v", ErrInterrupted, err)
	}
	return err
}
