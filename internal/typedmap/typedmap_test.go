package typedmap_test

import (
	"testing"

	"github.com/seantiz/procscript/internal/typedmap"
)

type counter struct {
	n int
}

func TestGetCreatesOnce(t *testing.T) {
	calls := 0
	m := typedmap.New(func(k string) *counter {
		calls++
		return &counter{}
	})

	m.Get("a").n++
	m.Get("a").n++

	if got := m.Get("a").n; got != 2 {
		t.Errorf("counter = %d, want 2", got)
	}
	if calls != 1 {
		t.Errorf("factory called %d times, want 1", calls)
	}
}

func TestNestedMaps(t *testing.T) {
	outer := typedmap.New(func(string) *typedmap.Map[string, *counter] {
		return typedmap.New(func(string) *counter { return &counter{} })
	})

	outer.Get("task").Get("provider").n = 5

	if got := outer.Get("task").Get("provider").n; got != 5 {
		t.Errorf("nested counter = %d, want 5", got)
	}
	if outer.Len() != 1 {
		t.Errorf("outer Len() = %d, want 1", outer.Len())
	}
}

func TestLookupDoesNotCreate(t *testing.T) {
	m := typedmap.New(func(int) string { return "default" })

	if _, ok := m.Lookup(1); ok {
		t.Error("Lookup(1) found an entry in an empty map")
	}
	if m.Len() != 0 {
		t.Errorf("Len() = %d after Lookup, want 0", m.Len())
	}

	if got := m.Get(1); got != "default" {
		t.Errorf("Get(1) = %q, want %q", got, "default")
	}
	if v, ok := m.Lookup(1); !ok || v != "default" {
		t.Errorf("Lookup(1) = (%q, %v), want (default, true)", v, ok)
	}
}

func TestSetAndDelete(t *testing.T) {
	m := typedmap.New(func(int) string { return "" })
	m.Set(3, "three")
	m.Set(1, "one")
	m.Set(2, "two")

	keys := m.Keys()
	want := []int{1, 2, 3}
	if len(keys) != len(want) {
		t.Fatalf("Keys() = %v, want %v", keys, want)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Errorf("Keys()[%d] = %d, want %d", i, keys[i], want[i])
		}
	}

	m.Delete(2)
	m.Delete(42)
	if m.Len() != 2 {
		t.Errorf("Len() = %d after Delete, want 2", m.Len())
	}
	if _, ok := m.Lookup(2); ok {
		t.Error("key 2 still present after Delete")
	}
}
