package sessions

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"ventureline/internal/wizard"
)

type memoryEntry struct {
	data    []byte
	version int64
	expires time.Time
}

// MemoryStore is a process-local Store used when no redis address is configured.
type MemoryStore struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]*memoryEntry
}

func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{ttl: ttl, now: time.Now, entries: map[string]*memoryEntry{}}
}

// lookup returns the live entry for id; callers hold mu.
func (m *MemoryStore) lookup(id string) (*memoryEntry, bool) {
	e, ok := m.entries[id]
	if !ok {
		return nil, false
	}
	if m.ttl > 0 && !m.now().Before(e.expires) {
		delete(m.entries, id)
		return nil, false
	}
	return e, true
}

func (m *MemoryStore) Create(_ context.Context, s *wizard.Session) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(s.ID); ok {
		return fmt.Errorf("session %s already exists", s.ID)
	}
	m.entries[s.ID] = &memoryEntry{data: data, version: 1, expires: m.now().Add(m.ttl)}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*wizard.Session, error) {
	m.mu.Lock()
	e, ok := m.lookup(id)
	var data []byte
	if ok {
		data = e.data
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}
	return decode(data)
}

func (m *MemoryStore) Update(_ context.Context, id string, fn func(*wizard.Session) error) (*wizard.Session, error) {
	m.mu.Lock()
	e, ok := m.lookup(id)
	var (
		data    []byte
		version int64
	)
	if ok {
		data, version = e.data, e.version
	}
	m.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	s, err := decode(data)
	if err != nil {
		return nil, err
	}
	if err := fn(s); err != nil {
		return nil, err
	}
	next, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok = m.lookup(id)
	if !ok {
		return nil, ErrNotFound
	}
	if e.version != version {
		return nil, ErrConflict
	}
	e.data = next
	e.version++
	e.expires = m.now().Add(m.ttl)
	return s, nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lookup(id); !ok {
		return ErrNotFound
	}
	delete(m.entries, id)
	return nil
}

func (m *MemoryStore) ListByOwner(_ context.Context, ownerID string) ([]*wizard.Session, error) {
	m.mu.Lock()
	var blobs [][]byte
	for id := range m.entries {
		if e, ok := m.lookup(id); ok {
			blobs = append(blobs, e.data)
		}
	}
	m.mu.Unlock()
	var out []*wizard.Session
	for _, b := range blobs {
		s, err := decode(b)
		if err != nil {
			return nil, err
		}
		if s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func decode(data []byte) (*wizard.Session, error) {
	var s wizard.Session
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}
	return &s, nil
}
