package ordered_test

import (
	"slices"
	"testing"

	"github.com/djdv/go-imagecache/internal/ordered"
)

func TestMap(t *testing.T) {
	t.Run("empty", empty)
	t.Run("insertion order", insertionOrder)
	t.Run("update keeps position", updateKeepsPosition)
	t.Run("delete", deleteKey)
	t.Run("pop front", popFront)
	t.Run("delete while iterating", deleteWhileIterating)
	t.Run("reinsert moves to back", reinsertMovesToBack)
	t.Run("clear", clearMap)
}

func empty(t *testing.T) {
	t.Parallel()
	m := ordered.New[string, int]()
	if _, _, ok := m.Front(); ok {
		t.Error("empty map returned a front entry")
	}
	if _, ok := m.Get("missing"); ok {
		t.Error("empty map returned a value")
	}
	checkKeys(t, m, nil, "empty map")
}

func insertionOrder(t *testing.T) {
	t.Parallel()
	m := fill(3)
	checkKeys(t, m, []int{1, 2, 3}, "after fill")
	if key, _, _ := m.Front(); key != 1 {
		t.Errorf("front is not the oldest key: %d", key)
	}
}

func updateKeepsPosition(t *testing.T) {
	t.Parallel()
	m := fill(3)
	if m.Set(1, -1) {
		t.Error("Set reported an update as an insertion")
	}
	checkKeys(t, m, []int{1, 2, 3}, "after update")
	if value, _ := m.Get(1); value != -1 {
		t.Errorf("value not updated: %d", value)
	}
}

func deleteKey(t *testing.T) {
	t.Parallel()
	m := fill(3)
	if !m.Delete(2) {
		t.Fatal("Delete did not find key")
	}
	if m.Delete(2) {
		t.Error("Delete removed a key twice")
	}
	checkKeys(t, m, []int{1, 3}, "after delete")
	if m.Has(2) {
		t.Error("deleted key still present")
	}
}

func popFront(t *testing.T) {
	t.Parallel()
	m := fill(2)
	var got []int
	for {
		key, _, ok := m.PopFront()
		if !ok {
			break
		}
		got = append(got, key)
	}
	if !slices.Equal(got, []int{1, 2}) {
		t.Fatalf("unexpected pop order: %v", got)
	}
	if m.Len() != 0 {
		t.Errorf("map not empty after popping all entries: %d", m.Len())
	}
}

func deleteWhileIterating(t *testing.T) {
	t.Parallel()
	m := fill(4)
	var visited []int
	for key := range m.Keys() {
		visited = append(visited, key)
		m.Delete(key)
		if key == 1 {
			m.Delete(3) // Not yet visited; must be skipped.
		}
	}
	if !slices.Equal(visited, []int{1, 2, 4}) {
		t.Fatalf(
			"unexpected visit order"+
				"\n\tgot: %v"+
				"\n\twant: %v",
			visited, []int{1, 2, 4})
	}
	checkKeys(t, m, nil, "after deleting everything")
}

func reinsertMovesToBack(t *testing.T) {
	t.Parallel()
	m := fill(3)
	m.Delete(1)
	m.Set(1, 1)
	checkKeys(t, m, []int{2, 3, 1}, "after reinsert")
}

func clearMap(t *testing.T) {
	t.Parallel()
	m := fill(3)
	m.Clear()
	checkKeys(t, m, nil, "after clear")
	m.Set(9, 9)
	checkKeys(t, m, []int{9}, "insert after clear")
}

func fill(count int) *ordered.Map[int, int] {
	m := ordered.New[int, int]()
	for i := range count {
		m.Set(i+1, i+1)
	}
	return m
}

func checkKeys[Key comparable, Value any](tb testing.TB, m *ordered.Map[Key, Value], want []Key, msg string) {
	tb.Helper()
	got := slices.Collect(m.Keys())
	if !slices.Equal(got, want) || m.Len() != len(want) {
		tb.Fatalf(
			"unexpected keys %s"+
				"\n\tgot: %v (len %d)"+
				"\n\twant: %v",
			msg, got, m.Len(), want)
	}
}
