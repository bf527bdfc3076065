package session

import (
	"context"
	"sync"
)

// MemoryStore keeps the encoded snapshot in process memory.
type MemoryStore struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Load(_ context.Context) (Snapshot, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		return Snapshot{}, false, nil
	}
	s, err := Decode(m.data)
	if err != nil {
		return Snapshot{}, false, err
	}
	return s, true, nil
}

func (m *MemoryStore) Save(_ context.Context, snap Snapshot) error {
	b, err := snap.Encode()
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Clear(_ context.Context) error {
	m.mu.Lock()
	m.data = nil
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Close() error { return nil }
