package tree

import "slices"

// MaxChildren bounds the number of children picked per genre.
const MaxChildren = 3

// Tree maps each genre to its ordered children. Keys remember insertion
// order so every iteration over a Tree is deterministic.
//
// A genre may be present with no children either as a leaf or as a
// placeholder that was picked as a child but not expanded yet.
type Tree struct {
	keys     []string
	children map[string][]string
}

// New returns an empty tree.
func New() *Tree {
	return &Tree{children: make(map[string][]string)}
}

// Set records the children of g, replacing any earlier entry.
func (t *Tree) Set(g string, children []string) {
	if _, ok := t.children[g]; !ok {
		t.keys = append(t.keys, g)
	}
	t.children[g] = slices.Clone(children)
}

// ensure adds an empty placeholder entry for g if it has none.
func (t *Tree) ensure(g string) {
	if _, ok := t.children[g]; !ok {
		t.Set(g, nil)
	}
}

// Children returns the children of g and whether g has an entry.
func (t *Tree) Children(g string) ([]string, bool) {
	c, ok := t.children[g]
	return c, ok
}

// Has reports whether g has an entry.
func (t *Tree) Has(g string) bool {
	_, ok := t.children[g]
	return ok
}

// Keys returns the genres with an entry, in insertion order.
func (t *Tree) Keys() []string { return slices.Clone(t.keys) }

// Len returns the number of entries.
func (t *Tree) Len() int { return len(t.keys) }

// Edges returns the total number of parent-child links.
func (t *Tree) Edges() int {
	n := 0
	for _, c := range t.children {
		n += len(c)
	}
	return n
}

// Nodes returns the node universe: every key and every child, each once.
// The order is keys in insertion order, each directly followed by its
// children not seen yet.
func (t *Tree) Nodes() []string {
	seen := make(map[string]bool, len(t.keys))
	var out []string
	add := func(g string) {
		if !seen[g] {
			seen[g] = true
			out = append(out, g)
		}
	}
	for _, k := range t.keys {
		add(k)
		for _, c := range t.children[k] {
			add(c)
		}
	}
	return out
}

// Adjacency returns a copy of the tree as a plain map. Genres without
// children map to an empty, non-nil slice.
func (t *Tree) Adjacency() map[string][]string {
	out := make(map[string][]string, len(t.keys))
	for _, k := range t.keys {
		c := t.children[k]
		if c == nil {
			c = []string{}
		}
		out[k] = slices.Clone(c)
	}
	return out
}
