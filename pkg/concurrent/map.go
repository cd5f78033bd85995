package concurrent

import (
	"cmp"
	"slices"
	"sync"
)

// Map is a map guarded by a RWMutex.
type Map[K cmp.Ordered, V any] struct {
	mu     sync.RWMutex
	values map[K]V
}

func NewMap[K cmp.Ordered, V any]() *Map[K, V] {
	return &Map[K, V]{
		values: make(map[K]V),
	}
}

func (m *Map[K, V]) Load(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	val, ok := m.values[key]
	return val, ok
}

func (m *Map[K, V]) Store(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = value
}

// LoadOrStore returns the existing value for key if present. Otherwise it
// stores and returns the value produced by create.
func (m *Map[K, V]) LoadOrStore(key K, create func() V) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if val, ok := m.values[key]; ok {
		return val, true
	}
	val := create()
	m.values[key] = val
	return val, false
}

// LoadAndDelete removes key and returns the value it held.
func (m *Map[K, V]) LoadAndDelete(key K) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	val, ok := m.values[key]
	delete(m.values, key)
	return val, ok
}

func (m *Map[K, V]) Delete(key K) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
}

func (m *Map[K, V]) Length() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.values)
}

// Keys returns the keys in ascending order.
func (m *Map[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]K, 0, len(m.values))
	for k := range m.values {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// Range calls f for every entry in key order until f returns false.
// f must not call back into the map.
func (m *Map[K, V]) Range(f func(key K, value V) bool) {
	for _, k := range m.Keys() {
		v, ok := m.Load(k)
		if !ok {
			continue
		}
		if !f(k, v) {
			break
		}
	}
}
