package models

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrMissingColumn is returned when a required table column does not exist
// or does not hold the expected kind of data.
var ErrMissingColumn = errors.New("missing column")

// Column is one named column of a SampleTable
type Column interface {
	// Name is the column header
	Name() string

	// Len is the number of rows
	Len() int

	// Numeric reports whether the column stores numbers
	Numeric() bool

	// Float returns the value of a row as a number. Missing or non-numeric
	// entries are NaN.
	Float(row int) float64

	// String returns the value of a row as text
	String(row int) string
}

// NumericColumn stores numbers; NaN marks missing data
type NumericColumn struct {
	name   string
	values []float64
}

func (c *NumericColumn) Name() string          { return c.name }
func (c *NumericColumn) Len() int              { return len(c.values) }
func (c *NumericColumn) Numeric() bool         { return true }
func (c *NumericColumn) Float(row int) float64 { return c.values[row] }

func (c *NumericColumn) String(row int) string {
	return strconv.FormatFloat(c.values[row], 'g', -1, 64)
}

// CategoricalColumn stores text values
type CategoricalColumn struct {
	name   string
	values []string
}

func (c *CategoricalColumn) Name() string          { return c.name }
func (c *CategoricalColumn) Len() int              { return len(c.values) }
func (c *CategoricalColumn) Numeric() bool         { return false }
func (c *CategoricalColumn) String(row int) string { return c.values[row] }

func (c *CategoricalColumn) Float(row int) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(c.values[row]), 64)
	if err != nil {
		return math.NaN()
	}
	return v
}

// SampleTable holds one row per subject and one column per parameter.
// Rows line up with the volumes of a Sequence, either by position or by a
// key column matched against Volume.ID.
type SampleTable struct {
	columns []Column
}

// NewSampleTable creates an empty table
func NewSampleTable() *SampleTable {
	return &SampleTable{}
}

// AddNumeric appends a numeric column. The values are copied.
func (t *SampleTable) AddNumeric(name string, values []float64) error {
	vals := make([]float64, len(values))
	copy(vals, values)
	return t.add(&NumericColumn{name: name, values: vals})
}

// AddCategorical appends a text column. The values are copied.
func (t *SampleTable) AddCategorical(name string, values []string) error {
	vals := make([]string, len(values))
	copy(vals, values)
	return t.add(&CategoricalColumn{name: name, values: vals})
}

func (t *SampleTable) add(c Column) error {
	if len(t.columns) > 0 && c.Len() != t.Rows() {
		return fmt.Errorf("column %q has %d rows, table has %d: %w",
			c.Name(), c.Len(), t.Rows(), ErrSizeMismatch)
	}
	t.columns = append(t.columns, c)
	return nil
}

// Rows returns the number of rows
func (t *SampleTable) Rows() int {
	if len(t.columns) == 0 {
		return 0
	}
	return t.columns[0].Len()
}

// NumColumns returns the number of columns
func (t *SampleTable) NumColumns() int {
	return len(t.columns)
}

// ColumnAt returns the column at position i
func (t *SampleTable) ColumnAt(i int) Column {
	return t.columns[i]
}

// Column looks up a column by exact name
func (t *SampleTable) Column(name string) (Column, bool) {
	for _, c := range t.columns {
		if c.Name() == name {
			return c, true
		}
	}
	return nil, false
}

// ColumnIndex returns the position of the first column whose name matches
// one of the candidates, ignoring case, or -1.
func (t *SampleTable) ColumnIndex(candidates ...string) int {
	for i, c := range t.columns {
		for _, name := range candidates {
			if strings.EqualFold(c.Name(), name) {
				return i
			}
		}
	}
	return -1
}

// Names returns the column headers in order
func (t *SampleTable) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name()
	}
	return names
}
