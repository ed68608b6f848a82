package schema

// =============================================================================
// TREE QUERIES
// =============================================================================

// FirstUnfilledPath walks the tree depth-first in declared key order and
// returns the path of the first leaf equal to "". ok is false when every
// leaf is filled.
func FirstUnfilledPath(t *Tree) (path Path, ok bool) {
	return firstUnfilled(t, nil)
}

func firstUnfilled(t *Tree, prefix Path) (Path, bool) {
	if t == nil {
		return nil, false
	}
	for _, key := range t.keys {
		path := append(prefix[:len(prefix):len(prefix)], key)
		switch v := t.values[key].(type) {
		case *Tree:
			if p, ok := firstUnfilled(v, path); ok {
				return p, true
			}
		case Leaf:
			if !v.Filled() {
				return path, true
			}
		}
	}
	return nil, false
}

// FindValidationRule looks up the rule text stored at exactly path. Only a
// non-empty leaf counts as a rule.
func FindValidationRule(rules *Tree, path Path) (string, bool) {
	v, ok := rules.Get(path)
	if !ok {
		return "", false
	}
	leaf, ok := v.(Leaf)
	if !ok || !leaf.Filled() {
		return "", false
	}
	return string(leaf), true
}

// =============================================================================
// TREE MERGES
// =============================================================================

// FillFirstUnfilledField copies at most one value from source into target:
// the first empty leaf of target (pre-order) for which source holds a
// non-empty leaf at the same path. Filled leaves are never touched. Reports
// whether a field was filled.
func FillFirstUnfilledField(target, source *Tree) bool {
	if target == nil {
		return false
	}
	for _, key := range target.keys {
		switch v := target.values[key].(type) {
		case *Tree:
			sub, _ := source.Child(key)
			if FillFirstUnfilledField(v, sub) {
				return true
			}
		case Leaf:
			if v.Filled() {
				continue
			}
			sv, ok := source.Lookup(key)
			if !ok {
				continue
			}
			if leaf, ok := sv.(Leaf); ok && leaf.Filled() {
				target.values[key] = leaf
				return true
			}
		}
	}
	return false
}

// ReconcileFields unions source into target. Matching subtrees are merged
// recursively. A filled target leaf is replaced when source holds a
// different, non-empty value; an empty source value never clears a filled
// one. Keys only present in source are appended to target. A key that is a
// leaf on one side and a subtree on the other is left as target has it.
func ReconcileFields(target, source *Tree) {
	if target == nil || source == nil {
		return
	}
	for _, key := range source.keys {
		sv := source.values[key]
		tv, exists := target.values[key]
		if !exists {
			target.Set(key, cloneValue(sv))
			continue
		}
		switch cur := tv.(type) {
		case *Tree:
			if sub, ok := sv.(*Tree); ok {
				ReconcileFields(cur, sub)
			}
		case Leaf:
			next, ok := sv.(Leaf)
			if ok && cur.Filled() && next.Filled() && cur != next {
				target.values[key] = next
			}
		}
	}
}
