package memory

import (
	"context"
	"sync"
	"time"

	"github.com/aretw0/promptgraph/pkg/ports"
)

// Locker implements ports.DistributedLocker in memory.
// It only coordinates goroutines of one process; use the redis adapter across processes.
type Locker struct {
	mu    sync.Mutex
	held  map[string]lease
	seq   uint64
	clock func() time.Time
}

type lease struct {
	token   uint64
	expires time.Time
}

// NewLocker creates a new in-memory locker.
func NewLocker() *Locker {
	return &Locker{
		held:  make(map[string]lease),
		clock: time.Now,
	}
}

// Lock acquires key, polling until it is free, expired, or ctx is done.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()

	for {
		if token, ok := l.tryLock(key, ttl); ok {
			return func(context.Context) error {
				l.mu.Lock()
				defer l.mu.Unlock()
				if cur, exists := l.held[key]; exists && cur.token == token {
					delete(l.held, key)
				}
				return nil
			}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) tryLock(key string, ttl time.Duration) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.clock()
	if cur, exists := l.held[key]; exists && now.Before(cur.expires) {
		return 0, false
	}
	l.seq++
	l.held[key] = lease{token: l.seq, expires: now.Add(ttl)}
	return l.seq, true
}

// Held reports whether key is currently leased.
func (l *Locker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	cur, exists := l.held[key]
	return exists && l.clock().Before(cur.expires)
}
