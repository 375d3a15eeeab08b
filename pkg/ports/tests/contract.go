package tests

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/promptgraph/pkg/ports"
)

// LockerContractTest is a reusable test suite that verifies if an adapter complies with ports.DistributedLocker.
// newLocker must return lockers sharing one backend, as two runner processes would.
func LockerContractTest(t *testing.T, newLocker func(t *testing.T) ports.DistributedLocker) {
	t.Helper()

	t.Run("LockUnlock", func(t *testing.T) {
		l := newLocker(t)
		ctx := context.Background()
		unlock, err := l.Lock(ctx, "contract-a", time.Second)
		if err != nil {
			t.Fatalf("unexpected error locking: %v", err)
		}
		if err := unlock(ctx); err != nil {
			t.Fatalf("unexpected error unlocking: %v", err)
		}
		unlock, err = l.Lock(ctx, "contract-a", time.Second)
		if err != nil {
			t.Fatalf("lock not reusable after unlock: %v", err)
		}
		_ = unlock(ctx)
	})

	t.Run("Contention", func(t *testing.T) {
		l1, l2 := newLocker(t), newLocker(t)
		ctx := context.Background()
		unlock, err := l1.Lock(ctx, "contract-b", 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error locking: %v", err)
		}

		short, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
		defer cancel()
		if _, err := l2.Lock(short, "contract-b", 5*time.Second); !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected contention to end with the context deadline, got %v", err)
		}
		_ = unlock(ctx)
	})

	t.Run("IndependentKeys", func(t *testing.T) {
		l := newLocker(t)
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		u1, err := l.Lock(ctx, "contract-c", time.Second)
		if err != nil {
			t.Fatalf("unexpected error locking: %v", err)
		}
		defer u1(ctx)
		u2, err := l.Lock(ctx, "contract-d", time.Second)
		if err != nil {
			t.Fatalf("a different key must not block: %v", err)
		}
		_ = u2(ctx)
	})

	t.Run("Handover", func(t *testing.T) {
		l1, l2 := newLocker(t), newLocker(t)
		ctx := context.Background()
		unlock, err := l1.Lock(ctx, "contract-e", 5*time.Second)
		if err != nil {
			t.Fatalf("unexpected error locking: %v", err)
		}

		var wg sync.WaitGroup
		acquired := make(chan error, 1)
		wg.Add(1)
		go func() {
			defer wg.Done()
			waitCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			u, err := l2.Lock(waitCtx, "contract-e", 5*time.Second)
			if err == nil {
				_ = u(ctx)
			}
			acquired <- err
		}()

		time.Sleep(50 * time.Millisecond)
		if err := unlock(ctx); err != nil {
			t.Fatalf("unexpected error unlocking: %v", err)
		}
		wg.Wait()
		if err := <-acquired; err != nil {
			t.Fatalf("waiter did not get the lock after release: %v", err)
		}
	})
}
