// Package ordered implements a key-unique map
// that iterates in insertion order (oldest first).
//
// Eviction order in the cache and admission order in the queues
// are both defined by this ordering, so it must be deterministic.
package ordered

import "iter"

// Map is an insertion-ordered map.
// Updating the value of an existing key keeps its position.
// Concurrent access must be guarded by the caller.
// Constructed by [New].
type Map[Key comparable, Value any] struct {
	index map[Key]*ring[Key, Value]
	root  ring[Key, Value] // Sentinel; root.next is the oldest element.
}

// New creates an empty [Map].
func New[Key comparable, Value any]() *Map[Key, Value] {
	m := &Map[Key, Value]{
		index: make(map[Key]*ring[Key, Value]),
	}
	m.root.init()
	return m
}

// Set inserts key at the back of the order,
// or updates its value in place if already present.
// It reports whether key was newly inserted.
func (m *Map[Key, Value]) Set(key Key, value Value) bool {
	if element, ok := m.index[key]; ok {
		element.value = value
		return false
	}
	element := &ring[Key, Value]{key: key, value: value}
	m.root.Prev().Link(element.init())
	m.index[key] = element
	return true
}

// Get returns the value for key and whether it was present.
func (m *Map[Key, Value]) Get(key Key) (Value, bool) {
	if element, ok := m.index[key]; ok {
		return element.value, true
	}
	var zero Value
	return zero, false
}

// Has reports whether key is present.
func (m *Map[Key, _]) Has(key Key) bool {
	_, ok := m.index[key]
	return ok
}

// Delete removes key, reporting whether it was present.
func (m *Map[Key, _]) Delete(key Key) bool {
	element, ok := m.index[key]
	if !ok {
		return false
	}
	delete(m.index, key)
	element.Unlink()
	return true
}

// Front returns the oldest entry.
func (m *Map[Key, Value]) Front() (Key, Value, bool) {
	if len(m.index) == 0 {
		var (
			key   Key
			value Value
		)
		return key, value, false
	}
	front := m.root.Next()
	return front.key, front.value, true
}

// PopFront removes and returns the oldest entry.
func (m *Map[Key, Value]) PopFront() (Key, Value, bool) {
	key, value, ok := m.Front()
	if ok {
		m.Delete(key)
	}
	return key, value, ok
}

// Len returns the number of entries.
func (m *Map[_, _]) Len() int { return len(m.index) }

// Clear removes every entry.
func (m *Map[Key, Value]) Clear() {
	clear(m.index)
	m.root.init()
}

// All returns an iterator over entries, oldest first.
// The entry being visited may be deleted during iteration;
// the iteration order is fixed when the iterator starts.
func (m *Map[Key, Value]) All() iter.Seq2[Key, Value] {
	return func(yield func(Key, Value) bool) {
		for _, element := range m.snapshot() {
			if current, ok := m.index[element.key]; !ok || current != element {
				continue // Deleted by an earlier step.
			}
			if !yield(element.key, element.value) {
				return
			}
		}
	}
}

// Keys returns an iterator over keys, oldest first.
func (m *Map[Key, Value]) Keys() iter.Seq[Key] {
	return func(yield func(Key) bool) {
		for key := range m.All() {
			if !yield(key) {
				return
			}
		}
	}
}

// Values returns an iterator over values, oldest first.
func (m *Map[Key, Value]) Values() iter.Seq[Value] {
	return func(yield func(Value) bool) {
		for _, value := range m.All() {
			if !yield(value) {
				return
			}
		}
	}
}

func (m *Map[Key, Value]) snapshot() []*ring[Key, Value] {
	elements := make([]*ring[Key, Value], 0, len(m.index))
	for element := m.root.Next(); element != &m.root; element = element.Next() {
		elements = append(elements, element)
	}
	return elements
}
