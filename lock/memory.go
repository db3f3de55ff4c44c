package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryLocker is an in-process Locker for single-instance deployments and tests.
type MemoryLocker struct {
	mu    sync.Mutex
	locks map[string]memoryEntry
	now   func() time.Time
}

type memoryEntry struct {
	token     string
	expiresAt time.Time
}

var _ Locker = (*MemoryLocker)(nil)

// NewMemoryLocker creates an empty MemoryLocker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		locks: make(map[string]memoryEntry),
		now:   time.Now,
	}
}

// TryLock takes key unless an unexpired lease holds it.
func (l *MemoryLocker) TryLock(_ context.Context, key string, ttl time.Duration) (Lease, error) {
	if key == "" {
		return nil, ErrEmptyKey
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.locks[key]; ok && now.Before(e.expiresAt) {
		return nil, ErrLocked
	}
	token := uuid.NewString()
	l.locks[key] = memoryEntry{token: token, expiresAt: now.Add(ttl)}
	return &memoryLease{locker: l, key: key, token: token}, nil
}

// Held reports whether key is currently leased.
func (l *MemoryLocker) Held(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.locks[key]
	return ok && l.now().Before(e.expiresAt)
}

type memoryLease struct {
	locker *MemoryLocker
	key    string
	token  string
}

func (h *memoryLease) Key() string {
	return h.key
}

func (h *memoryLease) Extend(_ context.Context, ttl time.Duration) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	e, ok := l.locks[h.key]
	if !ok || e.token != h.token || !now.Before(e.expiresAt) {
		return ErrNotHeld
	}
	e.expiresAt = now.Add(ttl)
	l.locks[h.key] = e
	return nil
}

func (h *memoryLease) Release(_ context.Context) error {
	l := h.locker
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.locks[h.key]; ok && e.token == h.token {
		delete(l.locks, h.key)
	}
	return nil
}
