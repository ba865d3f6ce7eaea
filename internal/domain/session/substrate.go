package session

import (
	"sort"
	"strings"
	"sync"
)

// Substrate is the storage shared by every instance's local area. It
// stores fully namespaced keys and knows nothing about partitions.
type Substrate interface {
	Get(key string) (string, bool)
	Set(key, value string)
	Delete(key string)
	// DeletePrefix removes every key starting with prefix and returns the
	// number removed.
	DeletePrefix(prefix string) int
	// Keys lists keys starting with prefix in lexical order.
	Keys(prefix string) []string
}

// MemorySubstrate is an in-process Substrate. Its lock only keeps the map
// safe for concurrent use.
type MemorySubstrate struct {
	mu   sync.RWMutex
	data map[string]string
}

// NewMemorySubstrate creates an empty substrate
func NewMemorySubstrate() *MemorySubstrate {
	return &MemorySubstrate{data: make(map[string]string)}
}

func (m *MemorySubstrate) Get(key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[key]
	return v, ok
}

func (m *MemorySubstrate) Set(key, value string) {
	m.mu.Lock()
	m.data[key] = value
	m.mu.Unlock()
}

func (m *MemorySubstrate) Delete(key string) {
	m.mu.Lock()
	delete(m.data, key)
	m.mu.Unlock()
}

func (m *MemorySubstrate) DeletePrefix(prefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			delete(m.data, k)
			n++
		}
	}
	return n
}

func (m *MemorySubstrate) Keys(prefix string) []string {
	m.mu.RLock()
	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.RUnlock()
	sort.Strings(keys)
	return keys
}

// Len reports the total number of stored keys.
func (m *MemorySubstrate) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
