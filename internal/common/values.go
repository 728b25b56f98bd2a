// Package common holds value conversion helpers shared by the expression
// evaluator and the data source readers.
package common

import (
	"fmt"
	"math"
	"strconv"

	"golang.org/x/exp/constraints"
)

// Number is any Go integer or floating point type.
type Number interface {
	constraints.Integer | constraints.Float
}

// AsFloat64 widens any numeric value to float64.
func AsFloat64[T Number](v T) float64 {
	return float64(v)
}

// Normalize maps a Go value onto the four cell kinds a series stores:
// string, int64, float64 and bool. A nil value reports ok == false.
func Normalize(value interface{}) (interface{}, bool, error) {
	switch v := value.(type) {
	case nil:
		return nil, false, nil
	case string:
		return v, true, nil
	case bool:
		return v, true, nil
	case int:
		return int64(v), true, nil
	case int8:
		return int64(v), true, nil
	case int16:
		return int64(v), true, nil
	case int32:
		return int64(v), true, nil
	case int64:
		return v, true, nil
	case uint8:
		return int64(v), true, nil
	case uint16:
		return int64(v), true, nil
	case uint32:
		return int64(v), true, nil
	case uint64:
		if v > math.MaxInt64 {
			return nil, false, fmt.Errorf("uint64 value %d overflows int64 range", v)
		}
		return int64(v), true, nil
	case float32:
		return AsFloat64(v), true, nil
	case float64:
		return v, true, nil
	default:
		return nil, false, fmt.Errorf("cannot normalize %T", value)
	}
}

// ToFloat64 converts numeric values (and numeric strings) to float64.
func ToFloat64(value interface{}) (float64, error) {
	switch v := value.(type) {
	case int64:
		return AsFloat64(v), nil
	case int:
		return AsFloat64(v), nil
	case int32:
		return AsFloat64(v), nil
	case float32:
		return AsFloat64(v), nil
	case float64:
		return v, nil
	case string:
		return strconv.ParseFloat(v, 64)
	case bool:
		if v {
			return 1.0, nil
		}
		return 0.0, nil
	default:
		return 0, fmt.Errorf("cannot convert %T to float64", value)
	}
}

// ToString converts various types to string.
func ToString(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// IsNumeric reports whether a normalized value is int64 or float64.
func IsNumeric(value interface{}) bool {
	switch value.(type) {
	case int64, float64:
		return true
	default:
		return false
	}
}

// Compare orders two normalized, non-nil values. Numbers compare numerically
// across int64/float64; strings lexically; bools false < true.
func Compare(a, b interface{}) (int, error) {
	if IsNumeric(a) && IsNumeric(b) {
		if ai, ok := a.(int64); ok {
			if bi, ok := b.(int64); ok {
				return cmpOrdered(ai, bi), nil
			}
		}
		af, _ := ToFloat64(a)
		bf, _ := ToFloat64(b)
		return cmpOrdered(af, bf), nil
	}
	switch av := a.(type) {
	case string:
		if bv, ok := b.(string); ok {
			return cmpOrdered(av, bv), nil
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0, nil
			case !av:
				return -1, nil
			default:
				return 1, nil
			}
		}
	}
	return 0, fmt.Errorf("cannot compare %T with %T", a, b)
}

func cmpOrdered[T constraints.Ordered](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
