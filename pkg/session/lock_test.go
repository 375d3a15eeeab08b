package session

import (
	"context"
	"fmt"
	"testing"
)

func TestManager_LockLifecycle(t *testing.T) {
	mgr := NewManager()
	ctx := context.Background()
	count := 10000

	for i := 0; i < count; i++ {
		id := fmt.Sprintf("device-%d", i)
		_ = mgr.WithLock(ctx, id, func(context.Context) error { return nil })
	}

	lockCount := len(mgr.locks)
	t.Logf("Devices locked: %d, Locks leaked: %d", count, lockCount)

	if lockCount != 0 {
		t.Errorf("Memory Leak Detected: %d locks remaining in memory after use", lockCount)
	}
}
