package brushing

import "sort"

// FilterSet is the union of every active hard-exclusion source, e.g. rows
// with missing parameter data or subjects brushed out in another view.
type FilterSet struct {
	sources map[string]IndexSet
	union   IndexSet
	dirty   bool
}

// NewFilterSet returns an empty filter set
func NewFilterSet() *FilterSet {
	return &FilterSet{sources: make(map[string]IndexSet)}
}

// Set replaces the indices excluded by source. An empty set removes the source.
func (f *FilterSet) Set(source string, indices IndexSet) {
	if indices.Empty() {
		f.Clear(source)
		return
	}
	if old, ok := f.sources[source]; ok && old.Equal(indices) {
		return
	}
	f.sources[source] = indices
	f.rebuild()
}

// Clear removes a source
func (f *FilterSet) Clear(source string) {
	if _, ok := f.sources[source]; !ok {
		return
	}
	delete(f.sources, source)
	f.rebuild()
}

// Sources returns the names of the active sources in sorted order
func (f *FilterSet) Sources() []string {
	names := make([]string, 0, len(f.sources))
	for name := range f.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (f *FilterSet) rebuild() {
	var all []int
	for _, s := range f.sources {
		all = append(all, s.indices...)
	}
	union := NewIndexSet(all...)
	if !union.Equal(f.union) {
		f.dirty = true
	}
	f.union = union
}

// Contains reports whether row i is excluded by any source
func (f *FilterSet) Contains(i int) bool { return f.union.Contains(i) }

// Snapshot returns the current union of all sources
func (f *FilterSet) Snapshot() IndexSet { return f.union }

// Mask returns the union as a lookup table over n rows
func (f *FilterSet) Mask(n int) []bool { return f.union.Mask(n) }

// Dirty reports whether the union changed since the last MarkClean
func (f *FilterSet) Dirty() bool { return f.dirty }

// MarkClean is called by the consumer once it has rebuilt its derived state
func (f *FilterSet) MarkClean() { f.dirty = false }

// SelectionSet is a set of rows, columns or labels that gates a computation.
// What an empty selection means is up to the consumer.
type SelectionSet struct {
	selected IndexSet
	dirty    bool
}

// NewSelectionSet returns a selection holding indices
func NewSelectionSet(indices ...int) *SelectionSet {
	return &SelectionSet{selected: NewIndexSet(indices...)}
}

// Set replaces the selection
func (s *SelectionSet) Set(indices IndexSet) {
	if s.selected.Equal(indices) {
		return
	}
	s.selected = indices
	s.dirty = true
}

// Toggle adds i to the selection, or removes it if already selected
func (s *SelectionSet) Toggle(i int) {
	if i < 0 {
		return
	}
	current := s.selected.indices
	next := make([]int, 0, len(current)+1)
	found := false
	for _, j := range current {
		if j == i {
			found = true
			continue
		}
		next = append(next, j)
	}
	if !found {
		next = append(next, i)
	}
	s.selected = NewIndexSet(next...)
	s.dirty = true
}

// Clear empties the selection
func (s *SelectionSet) Clear() { s.Set(IndexSet{}) }

func (s *SelectionSet) Contains(i int) bool { return s.selected.Contains(i) }
func (s *SelectionSet) Empty() bool         { return s.selected.Empty() }
func (s *SelectionSet) Snapshot() IndexSet  { return s.selected }
func (s *SelectionSet) Dirty() bool         { return s.dirty }
func (s *SelectionSet) MarkClean()          { s.dirty = false }
