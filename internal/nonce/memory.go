package nonce

import (
	"context"
	"sync"
	"time"

	"github.com/radiusdt/vector-adserver/internal/models"
)

type memoryEntry struct {
	publisherID string
	expiresAt   time.Time
}

// MemoryStore is an in-memory Store for development and testing.
type MemoryStore struct {
	mu         sync.Mutex
	entries    map[string]memoryEntry
	ttl        time.Duration
	maxEntries int
}

// NewMemoryStore creates an in-memory nonce store.
func NewMemoryStore(ttl time.Duration, maxEntries int) *MemoryStore {
	return &MemoryStore{
		entries:    make(map[string]memoryEntry),
		ttl:        ttl,
		maxEntries: maxEntries,
	}
}

func (s *MemoryStore) Issue(ctx context.Context, adID string, t models.ImpressionType, publisherID string) (string, error) {
	token, err := newToken()
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxEntries > 0 && len(s.entries) >= s.maxEntries {
		s.evictLocked()
	}

	s.entries[key(adID, t, token)] = memoryEntry{
		publisherID: publisherID,
		expiresAt:   time.Now().Add(s.ttl),
	}
	return token, nil
}

func (s *MemoryStore) IsValid(ctx context.Context, adID string, t models.ImpressionType, token string) bool {
	_, ok := s.Publisher(ctx, adID, t, token)
	return ok
}

func (s *MemoryStore) Publisher(ctx context.Context, adID string, t models.ImpressionType, token string) (string, bool) {
	if token == "" {
		return "", false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.entries[key(adID, t, token)]
	if !ok || time.Now().After(entry.expiresAt) {
		return "", false
	}
	return entry.publisherID, true
}

func (s *MemoryStore) Consume(ctx context.Context, adID string, t models.ImpressionType, token string) bool {
	if token == "" {
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	k := key(adID, t, token)
	entry, ok := s.entries[k]
	if !ok {
		return false
	}
	delete(s.entries, k)

	return !time.Now().After(entry.expiresAt)
}

// evictLocked drops expired entries, then arbitrary ones if still full.
func (s *MemoryStore) evictLocked() {
	now := time.Now()
	for k, e := range s.entries {
		if now.After(e.expiresAt) {
			delete(s.entries, k)
		}
	}
	for k := range s.entries {
		if len(s.entries) < s.maxEntries {
			break
		}
		delete(s.entries, k)
	}
}
