// Package evaluate scores a trained forest on the test rows and summarises
// the result as weighted multiclass metrics and a labelled confusion matrix.
package evaluate

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/forest"
	"github.com/paveg/losreport/internal/prep"
	"github.com/paveg/losreport/internal/series"
	"gonum.org/v1/gonum/floats"
)

// Prediction frame columns
const (
	ActualColumn    = "actual_code"
	PredictedColumn = "predicted_code"
)

// Predictions scores every row of test and returns an actual_code,
// predicted_code frame in row order
func Predictions(model *forest.Model, test *dataframe.DataFrame, features []string, label string) (*dataframe.DataFrame, error) {
	ds, err := forest.FromFrame(test, features, label)
	if err != nil {
		return nil, fmt.Errorf("reading test rows: %w", err)
	}
	predicted, err := model.Predict(ds.X)
	if err != nil {
		return nil, err
	}

	actual := make([]int64, len(ds.Y))
	pred := make([]int64, len(predicted))
	for i := range ds.Y {
		actual[i] = int64(ds.Y[i])
		pred[i] = int64(predicted[i])
	}
	mem := memory.NewGoAllocator()
	return dataframe.New(
		series.New(ActualColumn, actual, mem),
		series.New(PredictedColumn, pred, mem),
	), nil
}

// Codes reads the two code columns of a predictions frame
func Codes(predictions *dataframe.DataFrame) (actual, predicted []int, err error) {
	actual, err = intColumn(predictions, ActualColumn)
	if err != nil {
		return nil, nil, err
	}
	predicted, err = intColumn(predictions, PredictedColumn)
	if err != nil {
		return nil, nil, err
	}
	return actual, predicted, nil
}

func intColumn(df *dataframe.DataFrame, name string) ([]int, error) {
	col, ok := df.Column(name)
	if !ok {
		return nil, errors.NewColumnNotFoundError("Evaluate", name)
	}
	arr := col.Array()
	defer arr.Release()
	ints, ok := arr.(*array.Int64)
	if !ok {
		return nil, errors.NewUnsupportedTypeError("Evaluate", arr.DataType().String())
	}
	out := make([]int, ints.Len())
	for i := range out {
		out[i] = int(ints.Value(i))
	}
	return out, nil
}

// Metrics are the scalar scores of one evaluation. Precision, recall and F1
// are per-class values averaged with weights equal to each class's share of
// the actual labels.
type Metrics struct {
	Accuracy          float64
	WeightedPrecision float64
	WeightedRecall    float64
	F1                float64
	Support           int
}

// MetricRow is one line of the metrics table
type MetricRow struct {
	Name    string
	Value   float64
	Percent string
}

// Rows returns the four report rows
func (m Metrics) Rows() []MetricRow {
	rows := []MetricRow{
		{Name: "Accuracy", Value: m.Accuracy},
		{Name: "Weighted Precision", Value: m.WeightedPrecision},
		{Name: "Weighted Recall", Value: m.WeightedRecall},
		{Name: "F1", Value: m.F1},
	}
	for i := range rows {
		rows[i].Percent = fmt.Sprintf("%.2f%%", rows[i].Value*100)
	}
	return rows
}

// Compute scores predicted against actual. A class without predictions has
// precision 0; a class without support carries no weight.
func Compute(actual, predicted []int, numClasses int) (Metrics, error) {
	if len(actual) != len(predicted) {
		return Metrics{}, errors.ErrMismatchedLength
	}
	if len(actual) == 0 {
		return Metrics{}, errors.ErrEmptyDataFrame
	}

	tp := make([]float64, numClasses)
	actualN := make([]float64, numClasses)
	predN := make([]float64, numClasses)
	correct := 0
	for i := range actual {
		a, p := actual[i], predicted[i]
		if a < 0 || a >= numClasses || p < 0 || p >= numClasses {
			return Metrics{}, errors.NewInvalidInputError("Compute",
				fmt.Sprintf("row %d has codes (%d, %d) outside [0, %d)", i, a, p, numClasses))
		}
		actualN[a]++
		predN[p]++
		if a == p {
			tp[a]++
			correct++
		}
	}

	n := float64(len(actual))
	precision := make([]float64, numClasses)
	recall := make([]float64, numClasses)
	f1 := make([]float64, numClasses)
	for c := 0; c < numClasses; c++ {
		if predN[c] > 0 {
			precision[c] = tp[c] / predN[c]
		}
		if actualN[c] > 0 {
			recall[c] = tp[c] / actualN[c]
		}
		if precision[c]+recall[c] > 0 {
			f1[c] = 2 * precision[c] * recall[c] / (precision[c] + recall[c])
		}
	}

	weights := make([]float64, numClasses)
	floats.ScaleTo(weights, 1/n, actualN)

	return Metrics{
		Accuracy:          float64(correct) / n,
		WeightedPrecision: floats.Dot(weights, precision),
		WeightedRecall:    floats.Dot(weights, recall),
		F1:                floats.Dot(weights, f1),
		Support:           len(actual),
	}, nil
}

// ConfusionMatrix counts test rows by (actual, predicted) label. Every label
// of the target appears on both axes.
type ConfusionMatrix struct {
	Labels []string
	// Counts[actual][predicted]
	Counts [][]int
}

// Entry is one labelled cell
type Entry struct {
	ActualLabel    string
	PredictedLabel string
	Count          int
}

// Confusion counts code pairs with a lazy group-by and translates the codes
// back to labels through target
func Confusion(ctx context.Context, predictions *dataframe.DataFrame, target *prep.IndexModel) (*ConfusionMatrix, error) {
	grouped, err := predictions.Lazy().GroupByCount(ActualColumn, PredictedColumn).Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting predictions: %w", err)
	}
	actual, predicted, err := Codes(grouped)
	if err != nil {
		return nil, err
	}
	counts, err := intColumn(grouped, dataframe.CountColumn)
	if err != nil {
		return nil, err
	}

	labels := target.Labels()
	cm := &ConfusionMatrix{Labels: labels, Counts: make([][]int, len(labels))}
	for i := range cm.Counts {
		cm.Counts[i] = make([]int, len(labels))
	}
	for i := range counts {
		if _, err := target.Decode(actual[i]); err != nil {
			return nil, err
		}
		if _, err := target.Decode(predicted[i]); err != nil {
			return nil, err
		}
		cm.Counts[actual[i]][predicted[i]] = counts[i]
	}
	return cm, nil
}

// Total returns the sum of all cells
func (c *ConfusionMatrix) Total() int {
	total := 0
	for _, row := range c.Counts {
		for _, v := range row {
			total += v
		}
	}
	return total
}

// Entries lists every cell, zero cells included, actual label major
func (c *ConfusionMatrix) Entries() []Entry {
	out := make([]Entry, 0, len(c.Labels)*len(c.Labels))
	for a, row := range c.Counts {
		for p, v := range row {
			out = append(out, Entry{ActualLabel: c.Labels[a], PredictedLabel: c.Labels[p], Count: v})
		}
	}
	return out
}
