package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryKV is an in-memory KV used by tests and as a throwaway backend.
// Goroutine-safe.
type MemoryKV struct {
	mu       sync.RWMutex
	data     map[string][]byte
	maxBytes int64
}

// NewMemoryKV returns an empty MemoryKV. maxBytes 0 means unlimited.
func NewMemoryKV(maxBytes int64) *MemoryKV {
	return &MemoryKV{data: make(map[string][]byte), maxBytes: maxBytes}
}

func (m *MemoryKV) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

func (m *MemoryKV) Put(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxBytes > 0 {
		var total int64
		for k, v := range m.data {
			if k == key {
				continue
			}
			total += int64(len(v))
		}
		if total+int64(len(value)) > m.maxBytes {
			return ErrQuotaExceeded
		}
	}
	cp := make([]byte, len(value))
	copy(cp, value)
	m.data[key] = cp
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemoryKV) List(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []string
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *MemoryKV) Close() error { return nil }
