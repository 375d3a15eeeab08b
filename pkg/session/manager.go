package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/promptgraph/internal/logging"
	"github.com/aretw0/promptgraph/pkg/domain"
	"github.com/aretw0/promptgraph/pkg/ports"
)

// DefaultLockTTL bounds how long a distributed device lock survives a crashed holder.
const DefaultLockTTL = 30 * time.Second

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager keeps named sessions and serializes access to each of them.
// It uses reference counting to garbage collect unused locks.
type Manager struct {
	mu       sync.Mutex
	locks    map[string]*lockEntry
	sessions map[string]*Session

	locker  ports.DistributedLocker
	lockTTL time.Duration
	logger  *slog.Logger
}

// ManagerOption configures the Manager.
type ManagerOption func(*Manager)

// WithLocker serializes device access across processes.
func WithLocker(locker ports.DistributedLocker) ManagerOption {
	return func(m *Manager) {
		m.locker = locker
	}
}

// WithLockTTL sets the lifetime of distributed locks.
func WithLockTTL(ttl time.Duration) ManagerOption {
	return func(m *Manager) {
		m.lockTTL = ttl
	}
}

// WithManagerLogger configures a logger for the Manager.
func WithManagerLogger(logger *slog.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates an empty Manager.
func NewManager(opts ...ManagerOption) *Manager {
	m := &Manager{
		locks:    make(map[string]*lockEntry),
		sessions: make(map[string]*Session),
		lockTTL:  DefaultLockTTL,
		logger:   logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
// The caller MUST Lock the entry.mu, and then call release(id) after unlocking.
func (m *Manager) acquire(id string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		entry = &lockEntry{}
		m.locks[id] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry if it reaches zero.
func (m *Manager) release(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[id]
	if !exists {
		return
	}

	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, id)
	}
}

// Opener connects a new session.
type Opener func(ctx context.Context) (*Session, error)

// Open returns the session registered under id, connecting it with open if there is none.
func (m *Manager) Open(ctx context.Context, id string, open Opener) (*Session, error) {
	var s *Session
	err := m.WithLock(ctx, id, func(ctx context.Context) error {
		if existing, ok := m.lookup(id); ok {
			s = existing
			return nil
		}
		created, err := open(ctx)
		if err != nil {
			return fmt.Errorf("open session %q: %w", id, err)
		}
		m.mu.Lock()
		m.sessions[id] = created
		m.mu.Unlock()
		m.logger.Info("session opened", "session_id", id)
		s = created
		return nil
	})
	return s, err
}

// Add registers an already connected session under id.
func (m *Manager) Add(id string, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; ok {
		return fmt.Errorf("session %q already registered", id)
	}
	m.sessions[id] = s
	return nil
}

// Get returns the session registered under id.
func (m *Manager) Get(id string) (*Session, error) {
	s, ok := m.lookup(id)
	if !ok {
		return nil, fmt.Errorf("%q: %w", id, domain.ErrSessionNotFound)
	}
	return s, nil
}

func (m *Manager) lookup(id string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	return s, ok
}

// List returns the registered session IDs in lexical order.
func (m *Manager) List() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// WithSession runs fn with exclusive access to the session registered under id.
func (m *Manager) WithSession(ctx context.Context, id string, fn func(context.Context, *Session) error) error {
	return m.WithLock(ctx, id, func(ctx context.Context) error {
		s, err := m.Get(id)
		if err != nil {
			return err
		}
		return fn(ctx, s)
	})
}

// Close closes and forgets the session registered under id.
// Close does not wait for a running operation: closing the transport makes it fail.
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%q: %w", id, domain.ErrSessionNotFound)
	}
	m.logger.Info("session closed", "session_id", id)
	return s.Close()
}

// CloseAll closes every registered session.
func (m *Manager) CloseAll() error {
	var errs []error
	for _, id := range m.List() {
		if err := m.Close(id); err != nil && !errors.Is(err, domain.ErrSessionNotFound) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// WithLock executes a function while holding the lock for the device.
func (m *Manager) WithLock(ctx context.Context, id string, fn func(context.Context) error) error {
	entry := m.acquire(id)
	entry.mu.Lock()
	defer func() {
		entry.mu.Unlock()
		m.release(id)
	}()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, id, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(ctx); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					"session_id", id,
					"err", err,
				)
			}
		}()
	}

	return fn(ctx)
}
