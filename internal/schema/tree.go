// Package schema models the nested form filled over a conversation.
//
// A form is a Tree: an ordered mapping from field name to either a Leaf
// (a string, where "" means "not yet filled") or a nested Tree. Key order is
// explicit and survives JSON round trips, so "first unfilled field" is a
// well-defined pre-order walk rather than an accident of map iteration.
//
// Validation rules use the same Tree type, shaped like (a subset of) the form,
// with each leaf holding a human-readable constraint.
package schema

import "strings"

// Value is either a Leaf or a *Tree. The set is closed: no other type
// implements it, so type switches over Value are exhaustive.
type Value interface {
	isValue()
}

// Leaf is a string field. The empty string is the "unfilled" sentinel.
type Leaf string

func (Leaf) isValue() {}

// Filled reports whether the leaf carries a value.
func (l Leaf) Filled() bool { return l != "" }

// Tree is an ordered mapping of field names to values.
// The zero value and a nil *Tree both behave as an empty tree for reads.
type Tree struct {
	keys   []string
	values map[string]Value
}

func (*Tree) isValue() {}

// New returns an empty tree.
func New() *Tree {
	return &Tree{values: make(map[string]Value)}
}

// Path addresses a field by its key chain from the root.
type Path []string

// String renders the path the way prompts show it: "a --> b --> c".
func (p Path) String() string {
	return strings.Join(p, " --> ")
}

// Equal reports whether two paths name the same field.
func (p Path) Equal(o Path) bool {
	if len(p) != len(o) {
		return false
	}
	for i := range p {
		if p[i] != o[i] {
			return false
		}
	}
	return true
}

// Len returns the number of direct children.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.keys)
}

// Keys returns the declared key order (a copy).
func (t *Tree) Keys() []string {
	if t == nil {
		return nil
	}
	out := make([]string, len(t.keys))
	copy(out, t.keys)
	return out
}

// Lookup returns the direct child stored under key.
func (t *Tree) Lookup(key string) (Value, bool) {
	if t == nil || t.values == nil {
		return nil, false
	}
	v, ok := t.values[key]
	return v, ok
}

// Child returns the subtree under key, or (nil, false) when key is missing
// or holds a leaf.
func (t *Tree) Child(key string) (*Tree, bool) {
	v, ok := t.Lookup(key)
	if !ok {
		return nil, false
	}
	sub, ok := v.(*Tree)
	return sub, ok
}

// Set stores v under key. A new key is appended to the key order; an
// existing key keeps its position.
func (t *Tree) Set(key string, v Value) {
	if t.values == nil {
		t.values = make(map[string]Value)
	}
	if _, exists := t.values[key]; !exists {
		t.keys = append(t.keys, key)
	}
	t.values[key] = v
}

// SetLeaf is shorthand for Set(key, Leaf(s)).
func (t *Tree) SetLeaf(key, s string) {
	t.Set(key, Leaf(s))
}

// Get resolves a full path.
func (t *Tree) Get(path Path) (Value, bool) {
	if len(path) == 0 {
		return nil, false
	}
	cur := t
	for i, key := range path {
		v, ok := cur.Lookup(key)
		if !ok {
			return nil, false
		}
		if i == len(path)-1 {
			return v, true
		}
		sub, ok := v.(*Tree)
		if !ok {
			return nil, false
		}
		cur = sub
	}
	return nil, false
}

// Clone returns a deep copy.
func (t *Tree) Clone() *Tree {
	if t == nil {
		return New()
	}
	out := &Tree{
		keys:   make([]string, len(t.keys)),
		values: make(map[string]Value, len(t.values)),
	}
	copy(out.keys, t.keys)
	for k, v := range t.values {
		out.values[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	if sub, ok := v.(*Tree); ok {
		return sub.Clone()
	}
	return v
}

// Leaves counts filled and total leaves.
func (t *Tree) Leaves() (filled, total int) {
	if t == nil {
		return 0, 0
	}
	for _, key := range t.keys {
		switch v := t.values[key].(type) {
		case *Tree:
			f, n := v.Leaves()
			filled += f
			total += n
		case Leaf:
			total++
			if v.Filled() {
				filled++
			}
		}
	}
	return filled, total
}

// Blank returns a copy of t with every leaf reset to "".
func (t *Tree) Blank() *Tree {
	out := t.Clone()
	blank(out)
	return out
}

func blank(t *Tree) {
	for _, key := range t.keys {
		switch v := t.values[key].(type) {
		case *Tree:
			blank(v)
		case Leaf:
			t.values[key] = Leaf("")
		}
	}
}

// Equal reports structural equality: same keys at every level and the same
// leaf values. Key order is not significant.
func Equal(a, b *Tree) bool {
	if a.Len() != b.Len() {
		return false
	}
	if a.Len() == 0 {
		return true
	}
	for _, key := range a.keys {
		bv, ok := b.values[key]
		if !ok || !equalValue(a.values[key], bv) {
			return false
		}
	}
	return true
}

func equalValue(a, b Value) bool {
	switch av := a.(type) {
	case *Tree:
		bv, ok := b.(*Tree)
		return ok && Equal(av, bv)
	case Leaf:
		bv, ok := b.(Leaf)
		return ok && av == bv
	}
	return false
}
