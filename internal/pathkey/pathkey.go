// Package pathkey implements the hierarchical key index used by a bank.
//
// Keys are separator-delimited paths ("render.mesh.rock01"). The index is a
// trie over the segments: lookups are exact-match, and Walk visits a subtree
// depth-first so callers can enumerate everything under a prefix.
//
// Index is not safe for concurrent use; the owner guards it.
package pathkey

import (
	"errors"
	"sort"
	"strings"
)

const DefaultSeparator = '.'

var (
	ErrDuplicate  = errors.New("pathkey: key already exists")
	ErrInvalidKey = errors.New("pathkey: invalid key")
)

type node[T any] struct {
	children map[string]*node[T]
	value    T
	set      bool
}

func (n *node[T]) child(seg string, create bool) *node[T] {
	c := n.children[seg]
	if c == nil && create {
		if n.children == nil {
			n.children = make(map[string]*node[T])
		}
		c = &node[T]{}
		n.children[seg] = c
	}
	return c
}

type Index[T any] struct {
	sep  string
	root *node[T]
	n    int
}

// New returns an empty index splitting keys on sep. A zero sep selects
// DefaultSeparator.
func New[T any](sep rune) *Index[T] {
	if sep == 0 {
		sep = DefaultSeparator
	}
	return &Index[T]{sep: string(sep), root: &node[T]{}}
}

func (x *Index[T]) Separator() string { return x.sep }

// Segments splits key and rejects empty keys and segments that are empty,
// "." or "..", or contain a path separator. Every accepted key therefore
// maps to a distinct slash-joined path.
func (x *Index[T]) Segments(key string) ([]string, error) {
	if key == "" {
		return nil, ErrInvalidKey
	}
	segs := strings.Split(key, x.sep)
	for _, s := range segs {
		if s == "" || s == "." || s == ".." || strings.ContainsAny(s, `/\`) {
			return nil, ErrInvalidKey
		}
	}
	return segs, nil
}

func (x *Index[T]) Join(segs []string) string { return strings.Join(segs, x.sep) }

func (x *Index[T]) Insert(key string, v T) error {
	segs, err := x.Segments(key)
	if err != nil {
		return err
	}
	n := x.root
	for _, s := range segs {
		n = n.child(s, true)
	}
	if n.set {
		return ErrDuplicate
	}
	n.value, n.set = v, true
	x.n++
	return nil
}

func (x *Index[T]) Find(key string) (T, bool) {
	var zero T
	n := x.lookup(key)
	if n == nil || !n.set {
		return zero, false
	}
	return n.value, true
}

// Remove deletes key and prunes interior nodes left without values.
func (x *Index[T]) Remove(key string) (T, bool) {
	var zero T
	segs, err := x.Segments(key)
	if err != nil {
		return zero, false
	}

	path := make([]*node[T], 0, len(segs)+1)
	n := x.root
	path = append(path, n)
	for _, s := range segs {
		n = n.child(s, false)
		if n == nil {
			return zero, false
		}
		path = append(path, n)
	}
	if !n.set {
		return zero, false
	}

	v := n.value
	n.value, n.set = zero, false
	x.n--

	for i := len(segs) - 1; i >= 0; i-- {
		cur := path[i+1]
		if cur.set || len(cur.children) > 0 {
			break
		}
		delete(path[i].children, segs[i])
	}
	return v, true
}

// Walk calls fn for every key at or below prefix, depth-first, parents
// before children and siblings in byte order. An empty prefix walks the
// whole index. Walk stops early when fn returns false.
func (x *Index[T]) Walk(prefix string, fn func(key string, v T) bool) {
	start := x.root
	var segs []string
	if prefix != "" {
		start = x.lookup(prefix)
		if start == nil {
			return
		}
		segs, _ = x.Segments(prefix)
	}
	x.walk(start, segs, fn)
}

func (x *Index[T]) walk(n *node[T], segs []string, fn func(string, T) bool) bool {
	if n.set && !fn(x.Join(segs), n.value) {
		return false
	}
	if len(n.children) == 0 {
		return true
	}
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !x.walk(n.children[name], append(segs, name), fn) {
			return false
		}
	}
	return true
}

func (x *Index[T]) Keys() []string {
	out := make([]string, 0, x.n)
	x.Walk("", func(k string, _ T) bool {
		out = append(out, k)
		return true
	})
	return out
}

func (x *Index[T]) Len() int { return x.n }

func (x *Index[T]) Reset() {
	x.root = &node[T]{}
	x.n = 0
}

func (x *Index[T]) lookup(key string) *node[T] {
	segs, err := x.Segments(key)
	if err != nil {
		return nil
	}
	n := x.root
	for _, s := range segs {
		n = n.child(s, false)
		if n == nil {
			return nil
		}
	}
	return n
}
