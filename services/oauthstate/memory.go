package oauthstate

import (
	"context"
	"sync"
	"time"

	"github.com/samber/mo"
)

type memoryEntry struct {
	value     string
	expiresAt time.Time
}

// MemoryStateStore is a process-local store for tests and single-instance development.
type MemoryStateStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{entries: make(map[string]memoryEntry), now: time.Now}
}

// WithClock overrides the time source
func (s *MemoryStateStore) WithClock(now func() time.Time) *MemoryStateStore {
	s.now = now
	return s
}

func (s *MemoryStateStore) Put(ctx context.Context, key, value string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[scopeOf(ctx)+":"+key] = memoryEntry{value: value, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemoryStateStore) TakeOnce(ctx context.Context, key string) (mo.Option[string], error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scoped := scopeOf(ctx) + ":" + key
	entry, ok := s.entries[scoped]
	delete(s.entries, scoped)
	if !ok || !s.now().Before(entry.expiresAt) {
		return mo.None[string](), nil
	}
	return mo.Some(entry.value), nil
}
