// Package typedmap provides a map that creates missing entries on access.
package typedmap

import (
	"cmp"
	"slices"
)

// Map is a key-value mapping whose values are created by a factory the first
// time a key is read through Get. The zero value is not usable; use New.
//
// Map is not safe for concurrent use.
type Map[K cmp.Ordered, V any] struct {
	factory func(K) V
	entries map[K]V
}

// New returns an empty Map that builds missing values with factory.
func New[K cmp.Ordered, V any](factory func(K) V) *Map[K, V] {
	return &Map[K, V]{
		factory: factory,
		entries: make(map[K]V),
	}
}

// Get returns the value stored under key, creating and storing it with the
// factory if the key is absent.
func (m *Map[K, V]) Get(key K) V {
	if v, ok := m.entries[key]; ok {
		return v
	}
	v := m.factory(key)
	m.entries[key] = v
	return v
}

// Lookup returns the value stored under key without creating it.
func (m *Map[K, V]) Lookup(key K) (V, bool) {
	v, ok := m.entries[key]
	return v, ok
}

// Set stores value under key, replacing any previous value.
func (m *Map[K, V]) Set(key K, value V) {
	m.entries[key] = value
}

// Delete removes key. It is a no-op if the key is absent.
func (m *Map[K, V]) Delete(key K) {
	delete(m.entries, key)
}

// Len reports the number of stored entries.
func (m *Map[K, V]) Len() int {
	return len(m.entries)
}

// Keys returns the stored keys in ascending order.
func (m *Map[K, V]) Keys() []K {
	keys := make([]K, 0, len(m.entries))
	for k := range m.entries {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
