package expr

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/common"
	"github.com/paveg/losreport/internal/errors"
)

// cellFunc yields the value at row i, whether it is non-null, or an error.
type cellFunc func(i int) (interface{}, bool, error)

// Evaluator evaluates expressions against Arrow arrays
type Evaluator struct {
	mem memory.Allocator
}

// NewEvaluator creates a new expression evaluator
func NewEvaluator(mem memory.Allocator) *Evaluator {
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	return &Evaluator{mem: mem}
}

// EvaluateBoolean evaluates an expression that should return a boolean array
func (e *Evaluator) EvaluateBoolean(ex Expr, columns map[string]arrow.Array) (arrow.Array, error) {
	dt, err := ResultType(ex, columns)
	if err != nil {
		return nil, err
	}
	if dt.ID() != arrow.BOOL {
		return nil, fmt.Errorf("expression %s evaluates to %s, not bool", ex.String(), dt)
	}
	return e.Evaluate(ex, columns)
}

// Evaluate evaluates an expression that returns a value array (numeric, string, etc.)
func (e *Evaluator) Evaluate(ex Expr, columns map[string]arrow.Array) (arrow.Array, error) {
	dt, err := ResultType(ex, columns)
	if err != nil {
		return nil, err
	}
	cell, err := e.bind(ex, columns)
	if err != nil {
		return nil, err
	}

	n := getArrayLength(columns)
	switch dt.ID() {
	case arrow.STRING:
		b := array.NewStringBuilder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			v, ok, err := cell(i)
			if err != nil {
				return nil, err
			}
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(common.ToString(v))
		}
		return b.NewArray(), nil
	case arrow.INT64:
		b := array.NewInt64Builder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			v, ok, err := cell(i)
			if err != nil {
				return nil, err
			}
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(v.(int64))
		}
		return b.NewArray(), nil
	case arrow.FLOAT64:
		b := array.NewFloat64Builder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			v, ok, err := cell(i)
			if err != nil {
				return nil, err
			}
			if !ok {
				b.AppendNull()
				continue
			}
			f, err := common.ToFloat64(v)
			if err != nil {
				return nil, err
			}
			b.Append(f)
		}
		return b.NewArray(), nil
	case arrow.BOOL:
		b := array.NewBooleanBuilder(e.mem)
		defer b.Release()
		b.Reserve(n)
		for i := 0; i < n; i++ {
			v, ok, err := cell(i)
			if err != nil {
				return nil, err
			}
			if !ok {
				b.AppendNull()
				continue
			}
			b.Append(v.(bool))
		}
		return b.NewArray(), nil
	default:
		return nil, errors.NewUnsupportedTypeError("Evaluate", dt.String())
	}
}

// ResultType infers the Arrow type an expression produces over columns
func ResultType(ex Expr, columns map[string]arrow.Array) (arrow.DataType, error) {
	switch e := ex.(type) {
	case *ColumnExpr:
		arr, ok := columns[e.name]
		if !ok {
			return nil, errors.NewColumnNotFoundError("Evaluate", e.name)
		}
		return arr.DataType(), nil
	case *LiteralExpr:
		return literalType(e.value)
	case *BinaryExpr, *UnaryExpr, *InExpr, *NullCheckExpr:
		for _, name := range Columns(ex) {
			if _, ok := columns[name]; !ok {
				return nil, errors.NewColumnNotFoundError("Evaluate", name)
			}
		}
		return arrow.FixedWidthTypes.Boolean, nil
	case *LookupExpr:
		if _, err := ResultType(e.operand, columns); err != nil {
			return nil, err
		}
		return arrow.PrimitiveTypes.Int64, nil
	case *CaseExpr:
		return caseResultType(e, columns)
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", ex)
	}
}

func literalType(value interface{}) (arrow.DataType, error) {
	v, ok, err := common.Normalize(value)
	if err != nil {
		return nil, err
	}
	if !ok {
		return arrow.BinaryTypes.String, nil
	}
	switch v.(type) {
	case int64:
		return arrow.PrimitiveTypes.Int64, nil
	case float64:
		return arrow.PrimitiveTypes.Float64, nil
	case bool:
		return arrow.FixedWidthTypes.Boolean, nil
	default:
		return arrow.BinaryTypes.String, nil
	}
}

func caseResultType(c *CaseExpr, columns map[string]arrow.Array) (arrow.DataType, error) {
	branches := make([]Expr, 0, len(c.whens)+1)
	for _, w := range c.whens {
		if _, err := ResultType(w.condition, columns); err != nil {
			return nil, err
		}
		branches = append(branches, w.value)
	}
	if c.elseValue != nil {
		branches = append(branches, c.elseValue)
	}
	if len(branches) == 0 {
		return nil, fmt.Errorf("case expression has no branches")
	}

	var result arrow.DataType
	for _, b := range branches {
		dt, err := ResultType(b, columns)
		if err != nil {
			return nil, err
		}
		if lit, ok := b.(*LiteralExpr); ok && lit.value == nil {
			continue
		}
		result, err = promote(result, dt)
		if err != nil {
			return nil, fmt.Errorf("case expression %s: %w", c.String(), err)
		}
	}
	if result == nil {
		return arrow.BinaryTypes.String, nil
	}
	return result, nil
}

// promote unifies two branch types; int64 and float64 widen to float64.
func promote(current, next arrow.DataType) (arrow.DataType, error) {
	if current == nil || arrow.TypeEqual(current, next) {
		return next, nil
	}
	numeric := func(dt arrow.DataType) bool {
		return dt.ID() == arrow.INT64 || dt.ID() == arrow.FLOAT64
	}
	if numeric(current) && numeric(next) {
		return arrow.PrimitiveTypes.Float64, nil
	}
	return nil, fmt.Errorf("incompatible branch types %s and %s", current, next)
}

func (e *Evaluator) bind(ex Expr, columns map[string]arrow.Array) (cellFunc, error) {
	switch x := ex.(type) {
	case *ColumnExpr:
		arr, ok := columns[x.name]
		if !ok {
			return nil, errors.NewColumnNotFoundError("Evaluate", x.name)
		}
		return columnCell(x.name, arr)
	case *LiteralExpr:
		v, ok, err := common.Normalize(x.value)
		if err != nil {
			return nil, err
		}
		return func(int) (interface{}, bool, error) { return v, ok, nil }, nil
	case *BinaryExpr:
		return e.bindBinary(x, columns)
	case *UnaryExpr:
		operand, err := e.bind(x.operand, columns)
		if err != nil {
			return nil, err
		}
		return func(i int) (interface{}, bool, error) {
			v, ok, err := operand(i)
			if err != nil || !ok {
				return nil, false, err
			}
			b, isBool := v.(bool)
			if !isBool {
				return nil, false, fmt.Errorf("cannot negate %T", v)
			}
			return !b, true, nil
		}, nil
	case *InExpr:
		return e.bindIn(x, columns)
	case *NullCheckExpr:
		operand, err := e.bind(x.operand, columns)
		if err != nil {
			return nil, err
		}
		return func(i int) (interface{}, bool, error) {
			_, ok, err := operand(i)
			if err != nil {
				return nil, false, err
			}
			return ok, true, nil
		}, nil
	case *CaseExpr:
		return e.bindCase(x, columns)
	case *LookupExpr:
		operand, err := e.bind(x.operand, columns)
		if err != nil {
			return nil, err
		}
		return func(i int) (interface{}, bool, error) {
			v, ok, err := operand(i)
			if err != nil || !ok {
				return nil, false, err
			}
			label := common.ToString(v)
			code, found := x.table[label]
			if !found {
				return nil, false, fmt.Errorf("lookup: unknown label %q", label)
			}
			return code, true, nil
		}, nil
	default:
		return nil, fmt.Errorf("unsupported expression type: %T", ex)
	}
}

func columnCell(name string, arr arrow.Array) (cellFunc, error) {
	switch typed := arr.(type) {
	case *array.String:
		return func(i int) (interface{}, bool, error) {
			if typed.IsNull(i) {
				return nil, false, nil
			}
			return typed.Value(i), true, nil
		}, nil
	case *array.Int64:
		return func(i int) (interface{}, bool, error) {
			if typed.IsNull(i) {
				return nil, false, nil
			}
			return typed.Value(i), true, nil
		}, nil
	case *array.Float64:
		return func(i int) (interface{}, bool, error) {
			if typed.IsNull(i) {
				return nil, false, nil
			}
			return typed.Value(i), true, nil
		}, nil
	case *array.Boolean:
		return func(i int) (interface{}, bool, error) {
			if typed.IsNull(i) {
				return nil, false, nil
			}
			return typed.Value(i), true, nil
		}, nil
	default:
		return nil, errors.NewUnsupportedTypeError("Evaluate", fmt.Sprintf("%s (column %s)", arr.DataType(), name))
	}
}

func (e *Evaluator) bindBinary(x *BinaryExpr, columns map[string]arrow.Array) (cellFunc, error) {
	if x.op != OpAnd {
		return nil, fmt.Errorf("unsupported binary operator %d", x.op)
	}
	left, err := e.bind(x.left, columns)
	if err != nil {
		return nil, err
	}
	right, err := e.bind(x.right, columns)
	if err != nil {
		return nil, err
	}

	return func(i int) (interface{}, bool, error) {
		lv, lok, err := left(i)
		if err != nil {
			return nil, false, err
		}
		rv, rok, err := right(i)
		if err != nil {
			return nil, false, err
		}
		return evaluateAnd(lv, lok, rv, rok)
	}, nil
}

// evaluateAnd applies three-valued logic: false && null is false,
// anything else involving null is null.
func evaluateAnd(lv interface{}, lok bool, rv interface{}, rok bool) (interface{}, bool, error) {
	lb, lIsBool := lv.(bool)
	rb, rIsBool := rv.(bool)
	if (lok && !lIsBool) || (rok && !rIsBool) {
		return nil, false, fmt.Errorf("logical operands must be boolean, got %T and %T", lv, rv)
	}
	switch {
	case (lok && !lb) || (rok && !rb):
		return false, true, nil
	case lok && rok:
		return true, true, nil
	default:
		return nil, false, nil
	}
}

func (e *Evaluator) bindIn(x *InExpr, columns map[string]arrow.Array) (cellFunc, error) {
	operand, err := e.bind(x.operand, columns)
	if err != nil {
		return nil, err
	}
	set := make([]interface{}, 0, len(x.values))
	for _, v := range x.values {
		nv, ok, err := common.Normalize(v)
		if err != nil {
			return nil, err
		}
		if ok {
			set = append(set, nv)
		}
	}
	return func(i int) (interface{}, bool, error) {
		v, ok, err := operand(i)
		if err != nil || !ok {
			return nil, false, err
		}
		for _, candidate := range set {
			if c, err := common.Compare(v, candidate); err == nil && c == 0 {
				return true, true, nil
			}
		}
		return false, true, nil
	}, nil
}

func (e *Evaluator) bindCase(x *CaseExpr, columns map[string]arrow.Array) (cellFunc, error) {
	conds := make([]cellFunc, len(x.whens))
	values := make([]cellFunc, len(x.whens))
	for k, w := range x.whens {
		c, err := e.bind(w.condition, columns)
		if err != nil {
			return nil, err
		}
		v, err := e.bind(w.value, columns)
		if err != nil {
			return nil, err
		}
		conds[k], values[k] = c, v
	}
	var otherwise cellFunc
	if x.elseValue != nil {
		o, err := e.bind(x.elseValue, columns)
		if err != nil {
			return nil, err
		}
		otherwise = o
	}

	return func(i int) (interface{}, bool, error) {
		for k := range conds {
			cv, ok, err := conds[k](i)
			if err != nil {
				return nil, false, err
			}
			if matched, isBool := cv.(bool); ok && isBool && matched {
				return values[k](i)
			}
		}
		if otherwise == nil {
			return nil, false, nil
		}
		return otherwise(i)
	}, nil
}

func getArrayLength(columns map[string]arrow.Array) int {
	for _, arr := range columns {
		return arr.Len()
	}
	return 0
}
