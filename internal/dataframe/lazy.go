package dataframe

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/expr"
	"github.com/paveg/losreport/internal/parallel"
	"github.com/paveg/losreport/internal/series"
)

// CountColumn is the name of the column GroupByCount produces
const CountColumn = "count"

// LazyOperation represents a deferred operation on a DataFrame
type LazyOperation interface {
	Apply(df *DataFrame) (*DataFrame, error)
	String() string
}

// rowLocal marks operations whose result on a row range equals the same
// range of the result on the whole frame. Only these run on chunks.
type rowLocal interface {
	rowLocal()
}

// FilterOperation keeps rows where the predicate is true; null counts as false
type FilterOperation struct {
	predicate expr.Expr
}

func (f *FilterOperation) rowLocal() {}

func (f *FilterOperation) Apply(df *DataFrame) (*DataFrame, error) {
	eval := expr.NewEvaluator(nil)

	columns := df.Arrays()
	defer func() {
		for _, arr := range columns {
			arr.Release()
		}
	}()

	mask, err := eval.EvaluateBoolean(f.predicate, columns)
	if err != nil {
		return nil, fmt.Errorf("evaluating filter predicate: %w", err)
	}
	defer mask.Release()

	boolMask, ok := mask.(*array.Boolean)
	if !ok {
		return nil, fmt.Errorf("filter mask must be boolean array")
	}

	indices := make([]int, 0, boolMask.Len())
	for i := 0; i < boolMask.Len(); i++ {
		if !boolMask.IsNull(i) && boolMask.Value(i) {
			indices = append(indices, i)
		}
	}
	if len(indices) == df.Len() {
		return df, nil
	}
	return df.Take(indices)
}

func (f *FilterOperation) String() string {
	return fmt.Sprintf("filter(%s)", f.predicate.String())
}

// SelectOperation keeps the named columns in the given order
type SelectOperation struct {
	columns []string
}

func (s *SelectOperation) rowLocal() {}

func (s *SelectOperation) Apply(df *DataFrame) (*DataFrame, error) {
	for _, name := range s.columns {
		if !df.HasColumn(name) {
			return nil, errors.NewColumnNotFoundError("Select", name)
		}
	}
	return df.Select(s.columns...), nil
}

func (s *SelectOperation) String() string {
	return fmt.Sprintf("select(%s)", strings.Join(s.columns, ", "))
}

// DropOperation removes the named columns; unknown names are ignored
type DropOperation struct {
	columns []string
}

func (d *DropOperation) rowLocal() {}

func (d *DropOperation) Apply(df *DataFrame) (*DataFrame, error) {
	return df.Drop(d.columns...), nil
}

func (d *DropOperation) String() string {
	return fmt.Sprintf("drop(%s)", strings.Join(d.columns, ", "))
}

// WithColumnOperation adds or replaces a column computed from an expression
type WithColumnOperation struct {
	name string
	expr expr.Expr
}

func (w *WithColumnOperation) rowLocal() {}

func (w *WithColumnOperation) Apply(df *DataFrame) (*DataFrame, error) {
	eval := expr.NewEvaluator(nil)

	columns := df.Arrays()
	defer func() {
		for _, arr := range columns {
			arr.Release()
		}
	}()

	result, err := eval.Evaluate(w.expr, columns)
	if err != nil {
		return nil, fmt.Errorf("evaluating column %s: %w", w.name, err)
	}
	defer result.Release()

	s, err := series.FromArray(w.name, result)
	if err != nil {
		return nil, err
	}
	return df.WithSeries(s), nil
}

func (w *WithColumnOperation) String() string {
	return fmt.Sprintf("with_column(%s, %s)", w.name, w.expr.String())
}

// DropNullsOperation removes rows with a null in any of the named columns,
// or in any column when none are named
type DropNullsOperation struct {
	columns []string
}

func (d *DropNullsOperation) rowLocal() {}

func (d *DropNullsOperation) Apply(df *DataFrame) (*DataFrame, error) {
	names := d.columns
	if len(names) == 0 {
		names = df.Columns()
	}

	cols := make([]ISeries, len(names))
	for i, name := range names {
		s, ok := df.Column(name)
		if !ok {
			return nil, errors.NewColumnNotFoundError("DropNulls", name)
		}
		cols[i] = s
	}

	indices := make([]int, 0, df.Len())
rows:
	for i := 0; i < df.Len(); i++ {
		for _, s := range cols {
			if s.IsNull(i) {
				continue rows
			}
		}
		indices = append(indices, i)
	}
	if len(indices) == df.Len() {
		return df, nil
	}
	return df.Take(indices)
}

func (d *DropNullsOperation) String() string {
	if len(d.columns) == 0 {
		return "drop_nulls(*)"
	}
	return fmt.Sprintf("drop_nulls(%s)", strings.Join(d.columns, ", "))
}

// SortOperation orders rows by one or more columns; nulls sort first and
// equal keys keep their input order
type SortOperation struct {
	columns   []string
	ascending []bool
}

func (s *SortOperation) Apply(df *DataFrame) (*DataFrame, error) {
	if len(s.columns) != len(s.ascending) {
		return nil, errors.NewInvalidInputError("SortBy", "columns and directions differ in length")
	}

	keys := make([]arrow.Array, len(s.columns))
	for i, name := range s.columns {
		col, ok := df.Column(name)
		if !ok {
			releaseArrays(keys[:i])
			return nil, errors.NewColumnNotFoundError("SortBy", name)
		}
		keys[i] = col.Array()
	}
	defer releaseArrays(keys)

	indices := make([]int, df.Len())
	for i := range indices {
		indices[i] = i
	}
	slices.SortStableFunc(indices, func(a, b int) int {
		for k, key := range keys {
			c := compareCells(key, a, b)
			if c == 0 {
				continue
			}
			if !s.ascending[k] {
				return -c
			}
			return c
		}
		return 0
	})
	return df.Take(indices)
}

func (s *SortOperation) String() string {
	parts := make([]string, len(s.columns))
	for i, name := range s.columns {
		dir := "asc"
		if i < len(s.ascending) && !s.ascending[i] {
			dir = "desc"
		}
		parts[i] = name + " " + dir
	}
	return fmt.Sprintf("sort(%s)", strings.Join(parts, ", "))
}

// GroupByCountOperation counts rows per distinct key. The result holds the
// key columns followed by an int64 "count" column, ordered by key ascending.
// Null is a key of its own.
type GroupByCountOperation struct {
	columns []string
}

func (g *GroupByCountOperation) Apply(df *DataFrame) (*DataFrame, error) {
	if len(g.columns) == 0 {
		return nil, errors.NewInvalidInputError("GroupByCount", "at least one key column is required")
	}

	keys := make([]arrow.Array, len(g.columns))
	for i, name := range g.columns {
		col, ok := df.Column(name)
		if !ok {
			releaseArrays(keys[:i])
			return nil, errors.NewColumnNotFoundError("GroupByCount", name)
		}
		keys[i] = col.Array()
	}
	defer releaseArrays(keys)

	groupIndex := make(map[string]int)
	var firstRows []int
	var counts []int64
	var sb strings.Builder
	for i := 0; i < df.Len(); i++ {
		sb.Reset()
		for _, key := range keys {
			sb.WriteString(cellKey(key, i))
			sb.WriteByte(0x1f)
		}
		k := sb.String()
		if gi, ok := groupIndex[k]; ok {
			counts[gi]++
			continue
		}
		groupIndex[k] = len(firstRows)
		firstRows = append(firstRows, i)
		counts = append(counts, 1)
	}

	order := make([]int, len(firstRows))
	for i := range order {
		order[i] = i
	}
	slices.SortFunc(order, func(a, b int) int {
		for _, key := range keys {
			if c := compareCells(key, firstRows[a], firstRows[b]); c != 0 {
				return c
			}
		}
		return 0
	})

	rows := make([]int, len(order))
	sortedCounts := make([]int64, len(order))
	for i, gi := range order {
		rows[i] = firstRows[gi]
		sortedCounts[i] = counts[gi]
	}

	grouped, err := df.Select(g.columns...).Take(rows)
	if err != nil {
		return nil, err
	}
	countSeries := series.New(CountColumn, sortedCounts, memory.NewGoAllocator())
	return grouped.WithSeries(countSeries), nil
}

func (g *GroupByCountOperation) String() string {
	return fmt.Sprintf("group_by(%s).count()", strings.Join(g.columns, ", "))
}

// LazyFrame holds a DataFrame and a sequence of deferred operations.
// Nothing runs until Collect.
type LazyFrame struct {
	source     *DataFrame
	operations []LazyOperation
	pool       *parallel.WorkerPool
	engine     config.EngineConfig
}

// LazyOption configures how a LazyFrame collects
type LazyOption func(*LazyFrame)

// WithPool enables chunked parallel collection on the given pool
func WithPool(pool *parallel.WorkerPool) LazyOption {
	return func(lf *LazyFrame) {
		lf.pool = pool
	}
}

// WithEngineConfig sets the parallel threshold, chunk size and optimizer rules
func WithEngineConfig(engine config.EngineConfig) LazyOption {
	return func(lf *LazyFrame) {
		lf.engine = engine
	}
}

// Lazy converts a DataFrame to a LazyFrame. Without WithPool collection is
// sequential.
func (df *DataFrame) Lazy(opts ...LazyOption) *LazyFrame {
	lf := &LazyFrame{
		source:     df,
		operations: make([]LazyOperation, 0),
		engine:     config.NewConfig().Engine,
	}
	for _, opt := range opts {
		opt(lf)
	}
	return lf
}

func (lf *LazyFrame) with(op LazyOperation) *LazyFrame {
	newOps := make([]LazyOperation, len(lf.operations), len(lf.operations)+1)
	copy(newOps, lf.operations)
	newOps = append(newOps, op)
	return &LazyFrame{
		source:     lf.source,
		operations: newOps,
		pool:       lf.pool,
		engine:     lf.engine,
	}
}

// Filter adds a filter operation to the lazy frame
func (lf *LazyFrame) Filter(predicate expr.Expr) *LazyFrame {
	return lf.with(&FilterOperation{predicate: predicate})
}

// Select adds a column selection operation to the lazy frame
func (lf *LazyFrame) Select(columns ...string) *LazyFrame {
	return lf.with(&SelectOperation{columns: columns})
}

// Drop adds a column removal operation to the lazy frame
func (lf *LazyFrame) Drop(columns ...string) *LazyFrame {
	return lf.with(&DropOperation{columns: columns})
}

// WithColumn adds a column creation/modification operation to the lazy frame
func (lf *LazyFrame) WithColumn(name string, e expr.Expr) *LazyFrame {
	return lf.with(&WithColumnOperation{name: name, expr: e})
}

// DropNulls adds a null-row removal operation to the lazy frame
func (lf *LazyFrame) DropNulls(columns ...string) *LazyFrame {
	return lf.with(&DropNullsOperation{columns: columns})
}

// SortBy adds a multi-column sort operation to the lazy frame
func (lf *LazyFrame) SortBy(columns []string, ascending []bool) *LazyFrame {
	return lf.with(&SortOperation{columns: columns, ascending: ascending})
}

// GroupByCount adds a group-by-count aggregation to the lazy frame
func (lf *LazyFrame) GroupByCount(columns ...string) *LazyFrame {
	return lf.with(&GroupByCountOperation{columns: columns})
}

// Operations returns the recorded operations in order
func (lf *LazyFrame) Operations() []LazyOperation {
	return append([]LazyOperation(nil), lf.operations...)
}

// Source returns the frame the operations apply to
func (lf *LazyFrame) Source() *DataFrame {
	return lf.source
}

// Collect executes all deferred operations and returns the resulting DataFrame
func (lf *LazyFrame) Collect(ctx context.Context) (*DataFrame, error) {
	if lf.source == nil {
		return New(), nil
	}

	if len(lf.operations) == 0 {
		return lf.source, nil
	}

	plan := CreateExecutionPlan(lf.source, lf.operations)
	optimizedPlan := NewQueryOptimizer(lf.engine).Optimize(plan)
	operations := optimizedPlan.operations

	if lf.pool != nil && lf.source.Len() >= lf.engine.ParallelThreshold {
		prefix := 0
		for prefix < len(operations) {
			if _, ok := operations[prefix].(rowLocal); !ok {
				break
			}
			prefix++
		}
		if prefix > 0 {
			partial, err := lf.collectParallelWithOps(ctx, operations[:prefix])
			if err != nil {
				return nil, err
			}
			return applySequential(ctx, partial, operations[prefix:])
		}
	}

	return applySequential(ctx, lf.source, operations)
}

func applySequential(ctx context.Context, current *DataFrame, operations []LazyOperation) (*DataFrame, error) {
	for _, op := range operations {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		result, err := op.Apply(current)
		if err != nil {
			return nil, err
		}
		current = result
	}
	return current, nil
}

// collectParallelWithOps runs row-local operations on zero-copy row chunks
// and concatenates the chunk results in order. Arrow arrays are safe for
// concurrent reads, so chunks share the source buffers.
func (lf *LazyFrame) collectParallelWithOps(ctx context.Context, operations []LazyOperation) (*DataFrame, error) {
	totalRows := lf.source.Len()
	chunkSize := lf.engine.ChunkSizeFor(totalRows, lf.pool.NumWorkers())

	var bounds [][2]int
	for start := 0; start < totalRows; start += chunkSize {
		end := min(start+chunkSize, totalRows)
		bounds = append(bounds, [2]int{start, end})
	}

	processed, err := parallel.ProcessIndexedContext(ctx, lf.pool, bounds,
		func(ctx context.Context, _ int, b [2]int) (*DataFrame, error) {
			chunk, err := lf.source.Slice(b[0], b[1])
			if err != nil {
				return nil, err
			}
			return applySequential(ctx, chunk, operations)
		})
	if err != nil {
		return nil, err
	}

	if len(processed) == 1 {
		return processed[0], nil
	}
	return processed[0].Concat(processed[1:]...)
}

// Explain renders the optimized plan without executing it
func (lf *LazyFrame) Explain() string {
	plan := NewQueryOptimizer(lf.engine).Optimize(CreateExecutionPlan(lf.source, lf.operations))
	var sb strings.Builder
	sb.WriteString("plan:\n")
	for i, op := range plan.operations {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, op.String())
	}
	return sb.String()
}

// String returns a string representation of the lazy frame and its operations
func (lf *LazyFrame) String() string {
	var sb strings.Builder
	sb.WriteString("LazyFrame:\n")
	if lf.source != nil {
		fmt.Fprintf(&sb, "  source: %s\n", lf.source.String())
	}
	sb.WriteString("  operations:\n")
	for i, op := range lf.operations {
		fmt.Fprintf(&sb, "    %d. %s\n", i+1, op.String())
	}
	return sb.String()
}
