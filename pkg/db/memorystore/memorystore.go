package memorystore

import (
	"bytes"
	"fmt"
	"sort"
	"sync"

	"github.com/nomad-xyz/nomad-go/pkg/db"
)

// MemoryStore is an in-memory db.IStore intended for testing only. All data
// is lost when the process exits. Thread-safe; values are copied on the way
// in and out to prevent external mutation.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string][]byte
	closed bool
}

var _ db.IStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

// Put stores value under key.
func (m *MemoryStore) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}
	m.data[string(key)] = append([]byte{}, value...)
	return nil
}

// Get retrieves the value under key, (nil, nil) if absent.
func (m *MemoryStore) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, fmt.Errorf("store is closed")
	}
	value, ok := m.data[string(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte{}, value...), nil
}

// Delete removes key. Idempotent.
func (m *MemoryStore) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}
	delete(m.data, string(key))
	return nil
}

// IteratePrefix visits keys under prefix in ascending order.
func (m *MemoryStore) IteratePrefix(prefix []byte, fn func(key, value []byte) bool) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return fmt.Errorf("store is closed")
	}

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if bytes.HasPrefix([]byte(k), prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		if !fn([]byte(k), append([]byte{}, m.data[k]...)) {
			return nil
		}
	}
	return nil
}

// Close shuts down the store. Idempotent.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// HealthCheck verifies the store is operational.
func (m *MemoryStore) HealthCheck() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return fmt.Errorf("store is closed")
	}
	return nil
}
