// Package dataframe provides the Arrow-backed tables the report pipeline
// transforms. A DataFrame is immutable: every operation returns a new frame
// and never changes the receiver.
package dataframe

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/series"
)

// DataFrame represents a table of data with typed columns
type DataFrame struct {
	columns map[string]ISeries
	order   []string // Maintains column order
}

// New creates a new DataFrame from a slice of ISeries
func New(series ...ISeries) *DataFrame {
	columns := make(map[string]ISeries)
	order := make([]string, 0, len(series))

	for _, s := range series {
		name := s.Name()
		if _, dup := columns[name]; !dup {
			order = append(order, name)
		}
		columns[name] = s
	}

	return &DataFrame{
		columns: columns,
		order:   order,
	}
}

// FromArrays builds a DataFrame from named Arrow arrays of equal length.
// Each column takes its own reference to the array.
func FromArrays(names []string, arrays []arrow.Array) (*DataFrame, error) {
	if len(names) != len(arrays) {
		return nil, errors.ErrMismatchedLength
	}
	cols := make([]ISeries, 0, len(arrays))
	for i, arr := range arrays {
		if i > 0 && arr.Len() != arrays[0].Len() {
			releaseAll(cols)
			return nil, errors.NewValidationError("FromArrays", names[i],
				fmt.Sprintf("length %d does not match %d", arr.Len(), arrays[0].Len()))
		}
		s, err := series.FromArray(names[i], arr)
		if err != nil {
			releaseAll(cols)
			return nil, err
		}
		cols = append(cols, s)
	}
	return New(cols...), nil
}

// Columns returns the names of all columns in order
func (df *DataFrame) Columns() []string {
	if len(df.order) == 0 {
		return []string{}
	}
	return append([]string(nil), df.order...)
}

// Len returns the number of rows
func (df *DataFrame) Len() int {
	if len(df.order) == 0 {
		return 0
	}
	return df.columns[df.order[0]].Len()
}

// Width returns the number of columns
func (df *DataFrame) Width() int {
	return len(df.order)
}

// Column returns the series for the given column name
func (df *DataFrame) Column(name string) (ISeries, bool) {
	series, exists := df.columns[name]
	return series, exists
}

// HasColumn checks if a column exists
func (df *DataFrame) HasColumn(name string) bool {
	_, exists := df.columns[name]
	return exists
}

// MissingColumns returns the names not present in the frame, in argument order
func (df *DataFrame) MissingColumns(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !df.HasColumn(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// Select returns a new DataFrame with only the specified columns. Unknown
// names are skipped; SelectOperation is the strict variant.
func (df *DataFrame) Select(names ...string) *DataFrame {
	newColumns := make(map[string]ISeries)
	newOrder := make([]string, 0, len(names))

	for _, name := range names {
		if series, exists := df.columns[name]; exists {
			if _, dup := newColumns[name]; dup {
				continue
			}
			newColumns[name] = series
			newOrder = append(newOrder, name)
		}
	}

	return &DataFrame{
		columns: newColumns,
		order:   newOrder,
	}
}

// Drop returns a new DataFrame without the specified columns
func (df *DataFrame) Drop(names ...string) *DataFrame {
	dropSet := make(map[string]bool)
	for _, name := range names {
		dropSet[name] = true
	}

	newColumns := make(map[string]ISeries)
	newOrder := make([]string, 0, len(df.order))

	for _, name := range df.order {
		if !dropSet[name] {
			newColumns[name] = df.columns[name]
			newOrder = append(newOrder, name)
		}
	}

	return &DataFrame{
		columns: newColumns,
		order:   newOrder,
	}
}

// WithSeries returns a new DataFrame with s added, replacing any column of
// the same name in place.
func (df *DataFrame) WithSeries(s ISeries) *DataFrame {
	newColumns := make(map[string]ISeries, len(df.columns)+1)
	for name, col := range df.columns {
		newColumns[name] = col
	}
	newOrder := append([]string(nil), df.order...)
	if _, exists := newColumns[s.Name()]; !exists {
		newOrder = append(newOrder, s.Name())
	}
	newColumns[s.Name()] = s

	return &DataFrame{
		columns: newColumns,
		order:   newOrder,
	}
}

// Arrays returns retained references to every column array keyed by name.
// Callers release them.
func (df *DataFrame) Arrays() map[string]arrow.Array {
	arrays := make(map[string]arrow.Array, len(df.order))
	for _, name := range df.order {
		arrays[name] = df.columns[name].Array()
	}
	return arrays
}

// Schema returns the Arrow schema of the frame; every field is nullable
func (df *DataFrame) Schema() *arrow.Schema {
	fields := make([]arrow.Field, len(df.order))
	for i, name := range df.order {
		fields[i] = arrow.Field{Name: name, Type: df.columns[name].DataType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// Record returns the frame as an Arrow record batch. Callers release it.
func (df *DataFrame) Record() arrow.Record {
	cols := make([]arrow.Array, len(df.order))
	for i, name := range df.order {
		cols[i] = df.columns[name].Array()
	}
	defer func() {
		for _, c := range cols {
			c.Release()
		}
	}()
	return array.NewRecord(df.Schema(), cols, int64(df.Len()))
}

// String returns a string representation of the DataFrame
func (df *DataFrame) String() string {
	if len(df.columns) == 0 {
		return "DataFrame[empty]"
	}

	parts := []string{fmt.Sprintf("DataFrame[%dx%d]", df.Len(), df.Width())}

	for _, name := range df.order {
		series := df.columns[name]
		parts = append(parts, fmt.Sprintf("  %s: %s", name, series.DataType().String()))
	}

	return strings.Join(parts, "\n")
}

// Slice creates a new DataFrame containing rows from start (inclusive) to
// end (exclusive). The slice shares memory with the receiver.
func (df *DataFrame) Slice(start, end int) (*DataFrame, error) {
	if start < 0 || end < start || end > df.Len() {
		return nil, errors.ErrInvalidIndex
	}
	names := df.Columns()
	arrays := make([]arrow.Array, len(names))
	for i, name := range names {
		arr := df.columns[name].Array()
		arrays[i] = array.NewSlice(arr, int64(start), int64(end))
		arr.Release()
	}
	defer releaseArrays(arrays)
	return FromArrays(names, arrays)
}

// Take returns a new DataFrame holding the rows at indices, in that order.
// Nulls are preserved.
func (df *DataFrame) Take(indices []int) (*DataFrame, error) {
	n := df.Len()
	for _, idx := range indices {
		if idx < 0 || idx >= n {
			return nil, fmt.Errorf("take row %d of %d: %w", idx, n, errors.ErrInvalidIndex)
		}
	}

	mem := memory.NewGoAllocator()
	names := df.Columns()
	arrays := make([]arrow.Array, 0, len(names))
	defer func() { releaseArrays(arrays) }()

	for _, name := range names {
		arr := df.columns[name].Array()
		taken, err := takeArray(arr, indices, mem)
		arr.Release()
		if err != nil {
			return nil, fmt.Errorf("taking column %s: %w", name, err)
		}
		arrays = append(arrays, taken)
	}
	return FromArrays(names, arrays)
}

// Concat concatenates DataFrames vertically (row-wise). All frames must have
// the same column names, order and types.
func (df *DataFrame) Concat(others ...*DataFrame) (*DataFrame, error) {
	if len(others) == 0 {
		return df, nil
	}

	for _, other := range others {
		if !df.hasSameSchema(other) {
			return nil, errors.NewInvalidInputError("Concat", "frames have different schemas")
		}
	}

	mem := memory.NewGoAllocator()
	names := df.Columns()
	arrays := make([]arrow.Array, 0, len(names))
	defer func() { releaseArrays(arrays) }()

	for _, name := range names {
		parts := make([]arrow.Array, 0, len(others)+1)
		parts = append(parts, df.columns[name].Array())
		for _, other := range others {
			parts = append(parts, other.columns[name].Array())
		}
		joined, err := array.Concatenate(parts, mem)
		releaseArrays(parts)
		if err != nil {
			return nil, errors.NewInternalError("Concat", err)
		}
		arrays = append(arrays, joined)
	}
	return FromArrays(names, arrays)
}

// hasSameSchema checks if two DataFrames have the same column structure
func (df *DataFrame) hasSameSchema(other *DataFrame) bool {
	if len(df.order) != len(other.order) {
		return false
	}

	for i, colName := range df.order {
		if other.order[i] != colName {
			return false
		}
		if !arrow.TypeEqual(df.columns[colName].DataType(), other.columns[colName].DataType()) {
			return false
		}
	}

	return true
}

// Release releases all underlying Arrow memory
func (df *DataFrame) Release() {
	for _, series := range df.columns {
		series.Release()
	}
}

func releaseAll(cols []ISeries) {
	for _, c := range cols {
		c.Release()
	}
}

func releaseArrays(arrays []arrow.Array) {
	for _, a := range arrays {
		a.Release()
	}
}
