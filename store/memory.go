package store

import (
	"context"
	"sort"
	"sync"
)

// MemBackend is an in-memory Backend.
//
// Designed for testing and short-lived embedders; no data survives process
// exit. Grounded on the teacher's MemStore[S] pattern: maps guarded by a
// single RWMutex per namespace.
type MemBackend struct{}

// NewMemBackend returns a Backend that keeps all three namespaces in memory.
func NewMemBackend() *MemBackend {
	return &MemBackend{}
}

// Open implements Backend. runDir is ignored; memory namespaces are
// independent of any filesystem location.
func (b *MemBackend) Open(_ string) (status, records, steps Namespace, err error) {
	return newMemNamespace(), newMemNamespace(), newMemNamespace(), nil
}

type memNamespace struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func newMemNamespace() *memNamespace {
	return &memNamespace{data: make(map[string][]byte)}
}

func (m *memNamespace) Put(_ context.Context, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *memNamespace) PutMany(_ context.Context, kvs map[string][]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range kvs {
		cp := make([]byte, len(v))
		copy(cp, v)
		m.data[k] = cp
	}
	return nil
}

func (m *memNamespace) Get(_ context.Context, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(v))
	copy(cp, v)
	return cp, nil
}

func (m *memNamespace) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *memNamespace) Scan(_ context.Context, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	snapshot := make(map[string][]byte, len(m.data))
	for k, v := range m.data {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for _, k := range keys {
		if err := fn(k, snapshot[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *memNamespace) Close() error {
	return nil
}
