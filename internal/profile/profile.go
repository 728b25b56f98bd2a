// Package profile summarises every column of an admissions table: an
// approximate distinct count, the missing fraction and, for low cardinality
// columns, a sorted sample of the distinct values.
package profile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/axiomhq/hyperloglog"
	"github.com/cespare/xxhash/v2"
	"github.com/paveg/losreport/internal/common"
	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/parallel"
	"github.com/paveg/losreport/internal/series"
)

// NotApplicable is shown in place of a sample for high cardinality columns
const NotApplicable = "NA"

// ColumnProfile is the summary of one column
type ColumnProfile struct {
	Name            string
	ApproxDistinct  uint64
	MissingFraction float64
	// SampleCategories is nil unless ApproxDistinct is below the limit.
	SampleCategories []string
	// SampleSkipped explains why no sample was taken for a low cardinality
	// column.
	SampleSkipped string
}

// Display renders the sample as shown in the report
func (p ColumnProfile) Display() string {
	if p.SampleCategories == nil {
		return NotApplicable
	}
	return strings.Join(p.SampleCategories, ", ")
}

// Profiler computes column profiles
type Profiler struct {
	limit  int
	pool   *parallel.WorkerPool
	logger *slog.Logger
}

// Option configures a Profiler
type Option func(*Profiler)

// WithCardinalityLimit sets the distinct count below which values are sampled
func WithCardinalityLimit(limit int) Option {
	return func(p *Profiler) {
		p.limit = limit
	}
}

// WithPool profiles columns concurrently on pool
func WithPool(pool *parallel.WorkerPool) Option {
	return func(p *Profiler) {
		p.pool = pool
	}
}

// WithLogger sets the logger that reports skipped samples
func WithLogger(logger *slog.Logger) Option {
	return func(p *Profiler) {
		p.logger = logger
	}
}

// New creates a Profiler with the default cardinality limit of 15
func New(opts ...Option) *Profiler {
	p := &Profiler{
		limit:  config.DefaultCardinalityLimit,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Profile collects the table and returns one profile per column in column
// order. A column whose values cannot be compared is still profiled, with
// its sample skipped.
func (p *Profiler) Profile(ctx context.Context, table *dataframe.LazyFrame) ([]ColumnProfile, error) {
	if p.limit <= 0 {
		return nil, errors.NewInvalidInputError("Profile",
			fmt.Sprintf("cardinality limit must be positive, got %d", p.limit))
	}

	df, err := table.Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("collecting table: %w", err)
	}

	pool := p.pool
	if pool == nil {
		pool = parallel.NewWorkerPool(0)
		defer pool.Close()
	}

	rows := df.Len()
	profiles, err := parallel.ProcessIndexedContext(ctx, pool, df.Columns(),
		func(_ context.Context, _ int, name string) (ColumnProfile, error) {
			col, _ := df.Column(name)
			arr := col.Array()
			defer arr.Release()
			return p.profileColumn(name, arr, rows), nil
		})
	if err != nil {
		return nil, err
	}

	for _, prof := range profiles {
		if prof.SampleSkipped != "" {
			p.logger.Warn("skipped category sample", "column", prof.Name, "reason", prof.SampleSkipped)
		}
	}
	return profiles, nil
}

func (p *Profiler) profileColumn(name string, arr arrow.Array, rows int) ColumnProfile {
	prof := ColumnProfile{Name: name}
	if rows > 0 {
		prof.MissingFraction = float64(arr.NullN()) / float64(rows)
	}

	sketch := hyperloglog.New16()
	nonNull := 0
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		nonNull++
		sketch.InsertHash(xxhash.Sum64String(series.FormatValue(arr, i)))
	}
	if nonNull == 0 {
		return prof
	}
	prof.ApproxDistinct = max(sketch.Estimate(), 1)

	if prof.ApproxDistinct >= uint64(p.limit) {
		return prof
	}

	sample, err := distinctSample(arr, p.limit)
	if err != nil {
		prof.SampleSkipped = err.Error()
		return prof
	}
	prof.SampleCategories = sample
	return prof
}

// distinctSample returns up to limit distinct non-null values in ascending
// order, formatted as text
func distinctSample(arr arrow.Array, limit int) ([]string, error) {
	seen := make(map[interface{}]bool)
	var values []interface{}
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			continue
		}
		v, err := cellValue(arr, i)
		if err != nil {
			return nil, err
		}
		if !seen[v] {
			seen[v] = true
			values = append(values, v)
		}
	}

	var cmpErr error
	sort.SliceStable(values, func(i, j int) bool {
		c, err := common.Compare(values[i], values[j])
		if err != nil && cmpErr == nil {
			cmpErr = err
		}
		return c < 0
	})
	if cmpErr != nil {
		return nil, cmpErr
	}

	if len(values) > limit {
		values = values[:limit]
	}
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = common.ToString(v)
	}
	return out, nil
}

func cellValue(arr arrow.Array, i int) (interface{}, error) {
	switch typed := arr.(type) {
	case *array.String:
		return typed.Value(i), nil
	case *array.Int64:
		return typed.Value(i), nil
	case *array.Float64:
		return typed.Value(i), nil
	case *array.Boolean:
		return typed.Value(i), nil
	default:
		return nil, fmt.Errorf("values of type %s cannot be compared", arr.DataType())
	}
}

// Table renders profiles as a frame with one row per column
func Table(profiles []ColumnProfile, mem memory.Allocator) *dataframe.DataFrame {
	names := make([]string, len(profiles))
	distinct := make([]int64, len(profiles))
	missing := make([]float64, len(profiles))
	samples := make([]string, len(profiles))
	for i, p := range profiles {
		names[i] = p.Name
		distinct[i] = int64(p.ApproxDistinct)
		missing[i] = p.MissingFraction * 100
		samples[i] = p.Display()
	}
	return dataframe.New(
		series.New("column", names, mem),
		series.New("approx_distinct", distinct, mem),
		series.New("missing_percent", missing, mem),
		series.New("sample_categories", samples, mem),
	)
}
