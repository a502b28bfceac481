package session

import (
	"context"
	"maps"
	"sync"
	"time"
)

// DefaultTTL is the session lifetime used when a store is given none.
const DefaultTTL = 14 * 24 * time.Hour

type memoryEntry struct {
	values  map[string]any
	expires time.Time
}

// MemoryStore keeps sessions in process memory. Expired sessions are
// dropped by a background loop until Close is called.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time

	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

// MemoryConfig configures a MemoryStore.
type MemoryConfig struct {
	// TTL is how long an untouched session lives. Defaults to DefaultTTL.
	TTL time.Duration

	// CleanupInterval is the period of the expiry loop. Defaults to a
	// tenth of TTL, at least one second.
	CleanupInterval time.Duration
}

// NewMemoryStore returns a MemoryStore and starts its cleanup loop.
func NewMemoryStore(cfg MemoryConfig) *MemoryStore {
	return newMemoryStore(cfg, time.Now)
}

func newMemoryStore(cfg MemoryConfig, now func() time.Time) *MemoryStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = max(ttl/10, time.Second)
	}

	s := &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	go s.loop(interval)

	return s
}

// Load returns a copy of the values of id.
func (s *MemoryStore) Load(_ context.Context, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, ErrNotFound
	}

	if !s.now().Before(e.expires) {
		delete(s.entries, id)
		return nil, ErrNotFound
	}

	return maps.Clone(e.values), nil
}

// Save stores a copy of values.
func (s *MemoryStore) Save(_ context.Context, id string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.entries[id] = memoryEntry{
		values:  maps.Clone(values),
		expires: s.now().Add(s.ttl),
	}

	return nil
}

// Delete removes id.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.entries, id)

	return nil
}

// Touch renews the lifetime of id.
func (s *MemoryStore) Touch(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	e, ok := s.entries[id]
	if !ok || !now.Before(e.expires) {
		delete(s.entries, id)
		return ErrNotFound
	}

	e.expires = now.Add(s.ttl)
	s.entries[id] = e

	return nil
}

// Len returns the number of stored sessions, expired ones included until
// the next cleanup.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.entries)
}

// Close stops the cleanup loop. Stored sessions stay readable.
func (s *MemoryStore) Close() error {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.done

	return nil
}

func (s *MemoryStore) loop(interval time.Duration) {
	defer close(s.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.purge()
		}
	}
}

// purge drops expired sessions.
func (s *MemoryStore) purge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	for id, e := range s.entries {
		if !now.Before(e.expires) {
			delete(s.entries, id)
		}
	}
}
