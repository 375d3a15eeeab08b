// Package redis leases device consoles across runner processes.
package redis

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/promptgraph/pkg/ports"
)

// ErrLockAcquire is returned when Redis fails while the lock is being acquired.
var ErrLockAcquire = errors.New("failed to acquire distributed lock")

const (
	defaultPrefix       = "promptgraph:"
	defaultPollInterval = 100 * time.Millisecond
)

// releaseScript deletes the lock only if it still holds our token.
const releaseScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// Locker implements ports.DistributedLocker using Redis.
type Locker struct {
	client       backend.UniversalClient
	prefix       string
	pollInterval time.Duration
}

// Option configures the Locker.
type Option func(*Locker)

// WithPrefix sets the key prefix (default "promptgraph:").
func WithPrefix(prefix string) Option {
	return func(l *Locker) {
		l.prefix = prefix
	}
}

// WithPollInterval sets how often a contended lock is retried.
func WithPollInterval(d time.Duration) Option {
	return func(l *Locker) {
		l.pollInterval = d
	}
}

// NewLocker creates a Redis locker on an existing client.
func NewLocker(client backend.UniversalClient, opts ...Option) *Locker {
	l := &Locker{
		client:       client,
		prefix:       defaultPrefix,
		pollInterval: defaultPollInterval,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dial creates a locker with its own client.
func Dial(address, password string, db int, opts ...Option) *Locker {
	return NewLocker(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

var _ ports.DistributedLocker = (*Locker)(nil)

// Lock acquires the lock for key using SET NX PX, polling until it is free or ctx ends.
// The returned UnlockFunc releases it only while it is still ours.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (ports.UnlockFunc, error) {
	lockKey := l.prefix + "lock:" + key
	token, err := newToken()
	if err != nil {
		return nil, err
	}

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		ok, err := l.client.SetNX(ctx, lockKey, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrLockAcquire, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.client.Eval(ctx, releaseScript, []string{lockKey}, token).Err()
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Close closes the underlying client.
func (l *Locker) Close() error {
	return l.client.Close()
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
