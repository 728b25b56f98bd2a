// Package prep turns a raw admissions table into a training ready one: null
// row removal, long-tail label collapsing, label encoding and the train/test
// split. Every step returns a new table and leaves its input untouched.
package prep

import (
	"github.com/paveg/losreport/internal/dataframe"
)

// Cleaner removes rows with a null in any of Columns. It never imputes.
type Cleaner struct {
	Columns []string
}

// CleanStats accounts for every input row: Output + Removed == Input
type CleanStats struct {
	Input   int
	Output  int
	Removed int
}

// Apply appends a lazy null-row removal. A column absent from the table
// fails the collect.
func (c Cleaner) Apply(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
	if len(c.Columns) == 0 {
		return lf
	}
	return lf.DropNulls(c.Columns...)
}

// Stats compares row counts before and after cleaning
func (c Cleaner) Stats(before, after int) CleanStats {
	return CleanStats{Input: before, Output: after, Removed: before - after}
}
