package query

import (
	"fmt"
	"slices"
)

// Result is the tabular output of a query: named columns and ordered rows.
// Results from independent executions of the same query template can be
// row-concatenated with Append.
type Result struct {
	Columns []string
	Rows    [][]any
}

// Len returns the number of rows.
func (r *Result) Len() int { return len(r.Rows) }

// Empty reports whether the result carries no rows.
func (r *Result) Empty() bool { return len(r.Rows) == 0 }

// Append row-concatenates other into r. The first appended result fixes the
// column schema; later results must match it exactly. Nil or column-less
// results are ignored.
func (r *Result) Append(other *Result) error {
	if other == nil || len(other.Columns) == 0 {
		return nil
	}
	if len(r.Columns) == 0 {
		r.Columns = other.Columns
	} else if !slices.Equal(r.Columns, other.Columns) {
		return fmt.Errorf("column mismatch: have %v, appending %v", r.Columns, other.Columns)
	}
	r.Rows = append(r.Rows, other.Rows...)
	return nil
}
