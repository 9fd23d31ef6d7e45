// Package brushing holds the subject and region sets that are driven from
// outside the engine: rows excluded from every computation (filters), and
// rows, table columns or atlas labels that gate a computation (selections).
//
// All mutating methods must be called from a single goroutine. Computations
// never read the live sets; they receive an IndexSet snapshot.
package brushing

import (
	"fmt"
	"sort"
)

// IndexSet is an immutable, sorted set of non-negative indices
type IndexSet struct {
	indices []int
}

// NewIndexSet builds a set from indices in any order. Duplicates and negative
// indices are dropped.
func NewIndexSet(indices ...int) IndexSet {
	out := make([]int, 0, len(indices))
	for _, i := range indices {
		if i >= 0 {
			out = append(out, i)
		}
	}
	sort.Ints(out)

	unique := out[:0]
	for k, i := range out {
		if k == 0 || i != out[k-1] {
			unique = append(unique, i)
		}
	}
	return IndexSet{indices: unique}
}

// Contains reports whether i is in the set
func (s IndexSet) Contains(i int) bool {
	k := sort.SearchInts(s.indices, i)
	return k < len(s.indices) && s.indices[k] == i
}

// Len returns the number of indices in the set
func (s IndexSet) Len() int { return len(s.indices) }

// Empty reports whether the set has no indices
func (s IndexSet) Empty() bool { return len(s.indices) == 0 }

// Slice returns the indices in ascending order. The caller owns the result.
func (s IndexSet) Slice() []int {
	out := make([]int, len(s.indices))
	copy(out, s.indices)
	return out
}

// First returns the smallest index, or false for an empty set
func (s IndexSet) First() (int, bool) {
	if s.Empty() {
		return -1, false
	}
	return s.indices[0], true
}

// Union returns the indices present in s or o
func (s IndexSet) Union(o IndexSet) IndexSet {
	merged := make([]int, 0, len(s.indices)+len(o.indices))
	merged = append(merged, s.indices...)
	merged = append(merged, o.indices...)
	return NewIndexSet(merged...)
}

// Equal reports whether both sets hold the same indices
func (s IndexSet) Equal(o IndexSet) bool {
	if len(s.indices) != len(o.indices) {
		return false
	}
	for k := range s.indices {
		if s.indices[k] != o.indices[k] {
			return false
		}
	}
	return true
}

// Mask expands the set into a lookup table of length n. Indices >= n are ignored.
func (s IndexSet) Mask(n int) []bool {
	mask := make([]bool, n)
	for _, i := range s.indices {
		if i < n {
			mask[i] = true
		}
	}
	return mask
}

func (s IndexSet) String() string {
	return fmt.Sprint(s.indices)
}
