package brushing

import (
	"errors"
	"fmt"
)

// ErrUnsupportedEvent is returned for events that have no meaning for their target
var ErrUnsupportedEvent = errors.New("unsupported brushing event")

// Target identifies what a brushing event refers to
type Target int

const (
	// Rows are subjects: rows of the sample table and volumes of a sequence
	Rows Target = iota
	// Columns are sample table columns
	Columns
	// Regions are atlas labels
	Regions
)

func (t Target) String() string {
	switch t {
	case Rows:
		return "rows"
	case Columns:
		return "columns"
	case Regions:
		return "regions"
	}
	return fmt.Sprintf("Target(%d)", int(t))
}

// Action is what a brushing event does to its target
type Action int

const (
	// Filter replaces the exclusions contributed by the event source
	Filter Action = iota
	// Select replaces the selection
	Select
	// Toggle flips each listed index in the selection
	Toggle
)

func (a Action) String() string {
	switch a {
	case Filter:
		return "filter"
	case Select:
		return "select"
	case Toggle:
		return "toggle"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Event is a brushing notification delivered from another view
type Event struct {
	Target  Target
	Action  Action
	Source  string
	Indices []int
}

// Manager owns the brushing state consumed by the statistical processors.
// Only the orchestrating goroutine may call its methods.
type Manager struct {
	RowFilter       *FilterSet
	RowSelection    *SelectionSet
	ColumnSelection *SelectionSet
	RegionSelection *SelectionSet
}

// NewManager returns a manager with empty filters and selections
func NewManager() *Manager {
	return &Manager{
		RowFilter:       NewFilterSet(),
		RowSelection:    NewSelectionSet(),
		ColumnSelection: NewSelectionSet(),
		RegionSelection: NewSelectionSet(),
	}
}

// Apply applies a brushing event. Filtering is only defined for rows.
func (m *Manager) Apply(e Event) error {
	if e.Action == Filter {
		if e.Target != Rows {
			return fmt.Errorf("%s on %s: %w", e.Action, e.Target, ErrUnsupportedEvent)
		}
		m.RowFilter.Set(e.Source, NewIndexSet(e.Indices...))
		return nil
	}

	var sel *SelectionSet
	switch e.Target {
	case Rows:
		sel = m.RowSelection
	case Columns:
		sel = m.ColumnSelection
	case Regions:
		sel = m.RegionSelection
	default:
		return fmt.Errorf("target %s: %w", e.Target, ErrUnsupportedEvent)
	}

	switch e.Action {
	case Select:
		sel.Set(NewIndexSet(e.Indices...))
	case Toggle:
		for _, i := range e.Indices {
			sel.Toggle(i)
		}
	default:
		return fmt.Errorf("%s on %s: %w", e.Action, e.Target, ErrUnsupportedEvent)
	}
	return nil
}

// Dirty reports whether the row filter, the column selection or the region
// selection changed since MarkClean. The row selection only highlights rows
// and never changes a result, so it is tracked on its own set.
func (m *Manager) Dirty() bool {
	return m.RowFilter.Dirty() || m.ColumnSelection.Dirty() || m.RegionSelection.Dirty()
}

// MarkClean clears every dirty flag
func (m *Manager) MarkClean() {
	m.RowFilter.MarkClean()
	m.RowSelection.MarkClean()
	m.ColumnSelection.MarkClean()
	m.RegionSelection.MarkClean()
}
