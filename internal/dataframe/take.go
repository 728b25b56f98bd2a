package dataframe

import (
	"cmp"
	"strconv"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/errors"
)

// takeArray gathers arr[indices] into a new array, keeping nulls
func takeArray(arr arrow.Array, indices []int, mem memory.Allocator) (arrow.Array, error) {
	switch typed := arr.(type) {
	case *array.String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		b.Reserve(len(indices))
		for _, idx := range indices {
			if typed.IsNull(idx) {
				b.AppendNull()
				continue
			}
			b.Append(typed.Value(idx))
		}
		return b.NewArray(), nil
	case *array.Int64:
		return takePrimitive[int64](typed, array.NewInt64Builder(mem), indices), nil
	case *array.Float64:
		return takePrimitive[float64](typed, array.NewFloat64Builder(mem), indices), nil
	case *array.Boolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		b.Reserve(len(indices))
		for _, idx := range indices {
			if typed.IsNull(idx) {
				b.AppendNull()
				continue
			}
			b.Append(typed.Value(idx))
		}
		return b.NewArray(), nil
	default:
		return nil, errors.NewUnsupportedTypeError("Take", arr.DataType().String())
	}
}

type valueArray[T any] interface {
	arrow.Array
	Value(i int) T
}

type valueBuilder[T any] interface {
	array.Builder
	Append(v T)
}

func takePrimitive[T any](src valueArray[T], b valueBuilder[T], indices []int) arrow.Array {
	defer b.Release()
	b.Reserve(len(indices))
	for _, idx := range indices {
		if src.IsNull(idx) {
			b.AppendNull()
			continue
		}
		b.Append(src.Value(idx))
	}
	return b.NewArray()
}

// compareCells orders rows i and j of arr; nulls sort first
func compareCells(arr arrow.Array, i, j int) int {
	iNull, jNull := arr.IsNull(i), arr.IsNull(j)
	switch {
	case iNull && jNull:
		return 0
	case iNull:
		return -1
	case jNull:
		return 1
	}

	switch typed := arr.(type) {
	case *array.String:
		return cmp.Compare(typed.Value(i), typed.Value(j))
	case *array.Int64:
		return cmp.Compare(typed.Value(i), typed.Value(j))
	case *array.Float64:
		return cmp.Compare(typed.Value(i), typed.Value(j))
	case *array.Boolean:
		a, b := typed.Value(i), typed.Value(j)
		switch {
		case a == b:
			return 0
		case !a:
			return -1
		default:
			return 1
		}
	default:
		return cmp.Compare(arr.ValueStr(i), arr.ValueStr(j))
	}
}

// cellKey renders row i as a group key fragment that keeps nulls distinct
// from every value
func cellKey(arr arrow.Array, i int) string {
	if arr.IsNull(i) {
		return "\x00null"
	}
	switch typed := arr.(type) {
	case *array.String:
		return "s" + typed.Value(i)
	case *array.Int64:
		return "i" + strconv.FormatInt(typed.Value(i), 10)
	case *array.Float64:
		return "f" + strconv.FormatFloat(typed.Value(i), 'g', -1, 64)
	case *array.Boolean:
		return "b" + strconv.FormatBool(typed.Value(i))
	default:
		return "v" + arr.ValueStr(i)
	}
}
