package cache

import (
	"context"
	"sync"
	"time"

	"cafepos/internal/cart"
)

// CartStore keeps cart sessions between requests. A missing or expired
// session is reported as found == false with a nil error.
type CartStore interface {
	Get(ctx context.Context, sessionID string) (*cart.Cart, bool, error)
	Set(ctx context.Context, sessionID string, value *cart.Cart, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
}

type memoryEntry struct {
	items     []cart.Line
	expiresAt time.Time
}

// MemoryCartStore is the single-process CartStore used when no Redis address
// is configured.
type MemoryCartStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	now     func() time.Time
}

func NewMemoryCartStore() *MemoryCartStore {
	return &MemoryCartStore{
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
}

func (s *MemoryCartStore) Get(_ context.Context, sessionID string) (*cart.Cart, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[sessionID]
	if !ok {
		return nil, false, nil
	}
	if !entry.expiresAt.IsZero() && !s.now().Before(entry.expiresAt) {
		delete(s.entries, sessionID)
		return nil, false, nil
	}

	c := cart.New()
	c.Items = append(c.Items, entry.items...)
	return c, true, nil
}

func (s *MemoryCartStore) Set(_ context.Context, sessionID string, value *cart.Cart, ttl time.Duration) error {
	if value == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	entry := memoryEntry{items: value.Lines()}
	if ttl > 0 {
		entry.expiresAt = s.now().Add(ttl)
	}
	s.entries[sessionID] = entry
	s.sweepLocked()
	return nil
}

func (s *MemoryCartStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, sessionID)
	return nil
}

func (s *MemoryCartStore) sweepLocked() {
	now := s.now()
	for id, entry := range s.entries {
		if !entry.expiresAt.IsZero() && !now.Before(entry.expiresAt) {
			delete(s.entries, id)
		}
	}
}
