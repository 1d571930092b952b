package calcache

import (
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	value   []byte
	expires time.Time
}

// Memory is a process-local cache, used when no Redis is configured and in tests.
type Memory struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]memoryEntry
	gens    map[string]int64
	now     func() time.Time
}

func NewMemory(ttl time.Duration) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Memory{
		ttl:     ttl,
		entries: map[string]memoryEntry{},
		gens:    map[string]int64{},
		now:     time.Now,
	}
}

func (m *Memory) Key(_ context.Context, ownerIDs []string, query string) (string, error) {
	owners := canonicalOwners(ownerIDs)
	gens := make([]int64, len(owners))
	m.mu.Lock()
	for i, o := range owners {
		gens[i] = m.gens[o]
	}
	m.mu.Unlock()
	return buildKey(owners, gens, query), nil
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !m.now().Before(e.expires) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return e.value, true, nil
}

func (m *Memory) Set(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.entries[key] = memoryEntry{value: value, expires: now.Add(m.ttl)}
	if len(m.entries)%256 == 0 {
		m.sweep(now)
	}
	return nil
}

func (m *Memory) InvalidateOwner(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gens[ownerID]++
	for k := range m.entries {
		if keyCoversOwner(k, ownerID) {
			delete(m.entries, k)
		}
	}
	return nil
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

func (m *Memory) sweep(now time.Time) {
	for k, e := range m.entries {
		if !now.Before(e.expires) {
			delete(m.entries, k)
		}
	}
}
