package pathkey

import (
	"errors"
	"reflect"
	"testing"
)

func TestInsertFindRemove(t *testing.T) {
	x := New[int](0)

	if err := x.Insert("a.b.c", 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := x.Insert("a.b", 2); err != nil {
		t.Fatalf("Insert parent: %v", err)
	}
	if err := x.Insert("a.b.c", 3); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	if v, ok := x.Find("a.b.c"); !ok || v != 1 {
		t.Fatalf("Find a.b.c: v=%d ok=%v", v, ok)
	}
	if _, ok := x.Find("a"); ok {
		t.Fatalf("interior node without value must not be found")
	}
	if x.Len() != 2 {
		t.Fatalf("Len=%d want 2", x.Len())
	}

	if v, ok := x.Remove("a.b.c"); !ok || v != 1 {
		t.Fatalf("Remove: v=%d ok=%v", v, ok)
	}
	if _, ok := x.Find("a.b.c"); ok {
		t.Fatalf("removed key still present")
	}
	if v, ok := x.Find("a.b"); !ok || v != 2 {
		t.Fatalf("sibling path lost after remove: v=%d ok=%v", v, ok)
	}
	if _, ok := x.Remove("a.b.c"); ok {
		t.Fatalf("second remove should miss")
	}
}

func TestRemovePrunesEmptyBranches(t *testing.T) {
	x := New[string](0)
	_ = x.Insert("x.y.z", "v")
	x.Remove("x.y.z")
	if len(x.root.children) != 0 {
		t.Fatalf("expected empty trie after removing only key, got %d children", len(x.root.children))
	}
}

func TestInvalidKeys(t *testing.T) {
	x := New[int](0)
	for _, k := range []string{"", ".", "a..b", ".a", "a.", "a/b.c", "a.b\\c", "/a"} {
		if err := x.Insert(k, 1); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", k, err)
		}
	}

	colon := New[int](':')
	for _, k := range []string{"a:..:b", "a:.", "..", "x:a/b"} {
		if err := colon.Insert(k, 1); !errors.Is(err, ErrInvalidKey) {
			t.Fatalf("key %q: expected ErrInvalidKey, got %v", k, err)
		}
	}
	if err := colon.Insert("a.b:c", 1); err != nil {
		t.Fatalf("dots are plain characters under ':' separator: %v", err)
	}
}

func TestWalkDepthFirstAndPrefix(t *testing.T) {
	x := New[int](0)
	for i, k := range []string{"b.x", "a.c", "a", "a.b.d", "a.b"} {
		if err := x.Insert(k, i); err != nil {
			t.Fatalf("Insert %q: %v", k, err)
		}
	}

	want := []string{"a", "a.b", "a.b.d", "a.c", "b.x"}
	if got := x.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("Keys=%v want %v", got, want)
	}

	var under []string
	x.Walk("a.b", func(k string, _ int) bool {
		under = append(under, k)
		return true
	})
	if !reflect.DeepEqual(under, []string{"a.b", "a.b.d"}) {
		t.Fatalf("prefix walk=%v", under)
	}

	var first []string
	x.Walk("", func(k string, _ int) bool {
		first = append(first, k)
		return len(first) < 2
	})
	if len(first) != 2 {
		t.Fatalf("walk should stop early, visited %v", first)
	}

	// restartable
	if got := x.Keys(); !reflect.DeepEqual(got, want) {
		t.Fatalf("second enumeration differs: %v", got)
	}

	x.Walk("missing.prefix", func(string, int) bool {
		t.Fatalf("walk over missing prefix must not visit")
		return true
	})
}

func TestCustomSeparator(t *testing.T) {
	x := New[int]('/')
	if err := x.Insert("tex/rock/albedo", 1); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	segs, err := x.Segments("tex/rock/albedo")
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if !reflect.DeepEqual(segs, []string{"tex", "rock", "albedo"}) {
		t.Fatalf("segments=%v", segs)
	}
	if _, ok := x.Find("tex.rock.albedo"); ok {
		t.Fatalf("dot must not split when separator is '/'")
	}
}

func TestReset(t *testing.T) {
	x := New[int](0)
	_ = x.Insert("a", 1)
	_ = x.Insert("b.c", 2)
	x.Reset()
	if x.Len() != 0 || len(x.Keys()) != 0 {
		t.Fatalf("reset left %d keys", x.Len())
	}
}
