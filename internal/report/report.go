// Package report assembles the results of a run into a single HTML
// document.
package report

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/google/uuid"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/evaluate"
	"github.com/paveg/losreport/internal/expr"
	"github.com/paveg/losreport/internal/forest"
	"github.com/paveg/losreport/internal/monitoring"
	"github.com/paveg/losreport/internal/prep"
	"github.com/paveg/losreport/internal/profile"
	"gonum.org/v1/gonum/stat"
)

// Report holds everything shown in the rendered document. Sections whose
// data is empty are left out.
type Report struct {
	RunID       uuid.UUID
	Version     string
	GeneratedAt time.Time
	Source      string

	TargetColumn  string
	LeakageColumn string

	Profiles []profile.ColumnProfile
	Clean    prep.CleanStats
	Target   []TargetCount
	Leakage  []BoxStats

	Features    []string
	TrainRows   int
	TestRows    int
	Importances []forest.Importance
	Metrics     evaluate.Metrics
	Confusion   *evaluate.ConfusionMatrix

	Stages []monitoring.StageMetrics
}

// TargetCount is the number of rows carrying one target label
type TargetCount struct {
	Label string
	Count int64
}

// BoxStats is the five number summary of a numeric feature for one target
// label
type BoxStats struct {
	Label  string
	N      int
	Min    float64
	Q1     float64
	Median float64
	Q3     float64
	Max    float64
}

// Values returns the summary in boxplot order
func (b BoxStats) Values() []float64 {
	return []float64{b.Min, b.Q1, b.Median, b.Q3, b.Max}
}

// TargetDistribution counts rows per non-null label of column, ordered by
// label
func TargetDistribution(ctx context.Context, lf *dataframe.LazyFrame, column string) ([]TargetCount, error) {
	counts, err := lf.DropNulls(column).GroupByCount(column).Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting %s: %w", column, err)
	}
	defer counts.Release()

	key, _ := counts.Column(column)
	countCol, _ := counts.Column(dataframe.CountColumn)
	countArr := countCol.Array()
	defer countArr.Release()
	values, ok := countArr.(*array.Int64)
	if !ok {
		return nil, errors.NewUnsupportedTypeError("TargetDistribution", countCol.DataType().String())
	}

	out := make([]TargetCount, counts.Len())
	for i := range out {
		out[i] = TargetCount{Label: key.GetAsString(i), Count: values.Value(i)}
	}
	return out, nil
}

// LeakageStats summarises feature per label of target. Rows where either
// value is null are ignored; groups are ordered by label.
func LeakageStats(ctx context.Context, df *dataframe.DataFrame, feature, target string) ([]BoxStats, error) {
	if missing := df.MissingColumns(feature, target); len(missing) > 0 {
		return nil, errors.NewSchemaMismatchError("LeakageStats", missing)
	}
	present, err := df.Lazy().
		Select(feature, target).
		Filter(expr.Col(feature).IsNotNull().And(expr.Col(target).IsNotNull())).
		Collect(ctx)
	if err != nil {
		return nil, err
	}
	featureCol, _ := present.Column(feature)
	targetCol, _ := present.Column(target)

	arr := featureCol.Array()
	defer arr.Release()
	value, err := numericAccessor(arr)
	if err != nil {
		return nil, err
	}

	groups := make(map[string][]float64)
	for i := 0; i < present.Len(); i++ {
		label := targetCol.GetAsString(i)
		groups[label] = append(groups[label], value(i))
	}

	labels := make([]string, 0, len(groups))
	for label := range groups {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	out := make([]BoxStats, 0, len(labels))
	for _, label := range labels {
		xs := groups[label]
		sort.Float64s(xs)
		out = append(out, BoxStats{
			Label:  label,
			N:      len(xs),
			Min:    xs[0],
			Q1:     stat.Quantile(0.25, stat.Empirical, xs, nil),
			Median: stat.Quantile(0.5, stat.Empirical, xs, nil),
			Q3:     stat.Quantile(0.75, stat.Empirical, xs, nil),
			Max:    xs[len(xs)-1],
		})
	}
	return out, nil
}

func numericAccessor(arr arrow.Array) (func(int) float64, error) {
	switch arr := arr.(type) {
	case *array.Int64:
		return func(i int) float64 { return float64(arr.Value(i)) }, nil
	case *array.Float64:
		return arr.Value, nil
	default:
		return nil, errors.NewUnsupportedTypeError("LeakageStats", arr.DataType().String())
	}
}
