// Package forest trains a Random Forest classifier: bagged CART trees grown
// on binned features with Gini impurity and a random feature subset at each
// node. Training is reproducible for a fixed seed regardless of how many
// workers grow the trees.
package forest

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paveg/losreport/internal/common"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
)

// Dataset is a dense, row-major training or scoring matrix
type Dataset struct {
	Features []string
	X        [][]float64
	Y        []int
	// NumClasses defaults to max(Y)+1. Set it to the full label count so
	// classes absent from a sample still get a slot.
	NumClasses int
}

// Len returns the number of rows
func (d *Dataset) Len() int { return len(d.X) }

// FromFrame reads the feature columns and the integer label column of df.
// Nulls and non-numeric columns are errors.
func FromFrame(df *dataframe.DataFrame, features []string, label string) (*Dataset, error) {
	if missing := df.MissingColumns(append(append([]string(nil), features...), label)...); len(missing) > 0 {
		return nil, errors.NewSchemaMismatchError("FromFrame", missing)
	}

	n := df.Len()
	ds := &Dataset{
		Features: append([]string(nil), features...),
		X:        make([][]float64, n),
		Y:        make([]int, n),
	}
	flat := make([]float64, n*len(features))
	for i := range ds.X {
		ds.X[i] = flat[i*len(features) : (i+1)*len(features) : (i+1)*len(features)]
	}

	for j, name := range features {
		values, err := floatColumn(df, name)
		if err != nil {
			return nil, err
		}
		for i, v := range values {
			ds.X[i][j] = v
		}
	}

	labels, err := floatColumn(df, label)
	if err != nil {
		return nil, err
	}
	for i, v := range labels {
		if v < 0 || v != float64(int(v)) {
			return nil, errors.NewValidationError("FromFrame", label, fmt.Sprintf("row %d has invalid class code %g", i, v))
		}
		ds.Y[i] = int(v)
		if ds.Y[i]+1 > ds.NumClasses {
			ds.NumClasses = ds.Y[i] + 1
		}
	}
	return ds, nil
}

func floatColumn(df *dataframe.DataFrame, name string) ([]float64, error) {
	col, _ := df.Column(name)
	if col.NullCount() > 0 {
		return nil, errors.NewValidationError("FromFrame", name, fmt.Sprintf("%d null values", col.NullCount()))
	}
	arr := col.Array()
	defer arr.Release()

	out := make([]float64, arr.Len())
	switch typed := arr.(type) {
	case *array.Int64:
		for i := range out {
			out[i] = common.AsFloat64(typed.Value(i))
		}
	case *array.Float64:
		copy(out, typed.Float64Values())
	case *array.Boolean:
		for i := range out {
			if typed.Value(i) {
				out[i] = 1
			}
		}
	default:
		return nil, errors.NewUnsupportedTypeError("FromFrame", arr.DataType().String())
	}
	return out, nil
}
