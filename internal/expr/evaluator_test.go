package expr

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func admissionColumns(t *testing.T, mem memory.Allocator) map[string]arrow.Array {
	t.Helper()

	stay := array.NewStringBuilder(mem)
	stay.AppendValues([]string{"0-10", "41-50", "11-20", "More than 100 Days"}, nil)
	visitors := array.NewInt64Builder(mem)
	visitors.AppendValues([]int64{2, 8, 4, 12}, nil)
	grade := array.NewFloat64Builder(mem)
	grade.AppendValues([]float64{2, 0, 3, 4}, []bool{true, false, true, true})

	cols := map[string]arrow.Array{
		"Stay":                  stay.NewArray(),
		"Visitors with Patient": visitors.NewArray(),
		"Bed Grade":             grade.NewArray(),
	}
	stay.Release()
	visitors.Release()
	grade.Release()
	t.Cleanup(func() {
		for _, arr := range cols {
			arr.Release()
		}
	})
	return cols
}

func boolValues(t *testing.T, arr arrow.Array) []interface{} {
	t.Helper()
	b, ok := arr.(*array.Boolean)
	require.True(t, ok, "expected boolean array, got %T", arr)
	out := make([]interface{}, b.Len())
	for i := range out {
		if b.IsNull(i) {
			out[i] = nil
			continue
		}
		out[i] = b.Value(i)
	}
	return out
}

func TestEvaluateBooleanPredicates(t *testing.T) {
	mem := memory.NewGoAllocator()
	cols := admissionColumns(t, mem)
	eval := NewEvaluator(mem)

	tests := []struct {
		name     string
		expr     Expr
		expected []interface{}
	}{
		{"is not null", Col("Bed Grade").IsNotNull(), []interface{}{true, false, true, true}},
		{"is in", Col("Stay").IsIn("41-50", "More than 100 Days"), []interface{}{false, true, false, true}},
		{"mixed int float membership", Col("Visitors with Patient").IsIn(4.0, 12), []interface{}{false, false, true, true}},
		{"not in", Col("Stay").IsInStrings([]string{"0-10"}).Not(), []interface{}{false, true, true, true}},
		{"membership of null is null", Col("Bed Grade").IsIn(3.0), []interface{}{false, nil, true, false}},
		{
			"and of present values",
			Col("Bed Grade").IsNotNull().And(Col("Stay").IsIn("11-20", "More than 100 Days")),
			[]interface{}{false, false, true, true},
		},
		{
			"and with null is null unless false",
			Col("Bed Grade").IsIn(2.0, 3.0).And(Col("Visitors with Patient").IsIn(8, 4)),
			[]interface{}{false, nil, true, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := eval.EvaluateBoolean(tt.expr, cols)
			require.NoError(t, err)
			defer result.Release()
			assert.Equal(t, tt.expected, boolValues(t, result))
		})
	}
}

func TestEvaluateCaseRewrite(t *testing.T) {
	mem := memory.NewGoAllocator()
	cols := admissionColumns(t, mem)
	eval := NewEvaluator(mem)

	rewrite := When(Col("Stay").IsIn("41-50", "More than 100 Days"), Lit("More than 40")).
		Otherwise(Col("Stay"))

	result, err := eval.Evaluate(rewrite, cols)
	require.NoError(t, err)
	defer result.Release()

	strs, ok := result.(*array.String)
	require.True(t, ok)
	got := make([]string, strs.Len())
	for i := range got {
		got[i] = strs.Value(i)
	}
	assert.Equal(t, []string{"0-10", "More than 40", "11-20", "More than 40"}, got)
}

func TestEvaluateCaseWidensNumericBranches(t *testing.T) {
	mem := memory.NewGoAllocator()
	cols := admissionColumns(t, mem)
	eval := NewEvaluator(mem)

	e := When(Col("Bed Grade").IsNotNull(), Col("Bed Grade")).Otherwise(Lit(0))
	result, err := eval.Evaluate(e, cols)
	require.NoError(t, err)
	defer result.Release()

	floats, ok := result.(*array.Float64)
	require.True(t, ok)
	assert.Equal(t, []float64{2, 0, 3, 4}, floats.Float64Values())
	assert.Equal(t, 0, floats.NullN())
}

func TestEvaluateLookup(t *testing.T) {
	mem := memory.NewGoAllocator()
	cols := admissionColumns(t, mem)
	eval := NewEvaluator(mem)

	table := map[string]int64{"0-10": 1, "41-50": 3, "11-20": 0, "More than 100 Days": 2}
	result, err := eval.Evaluate(Col("Stay").Lookup(table), cols)
	require.NoError(t, err)
	defer result.Release()

	ints, ok := result.(*array.Int64)
	require.True(t, ok)
	assert.Equal(t, []int64{1, 3, 0, 2}, ints.Int64Values())

	_, err = eval.Evaluate(Col("Stay").Lookup(map[string]int64{"0-10": 0}), cols)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown label "41-50"`)
}

func TestEvaluateErrors(t *testing.T) {
	mem := memory.NewGoAllocator()
	cols := admissionColumns(t, mem)
	eval := NewEvaluator(mem)

	t.Run("missing column", func(t *testing.T) {
		_, err := eval.EvaluateBoolean(Col("Ward_Type").IsIn("R"), cols)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "Ward_Type")
	})

	t.Run("non boolean result", func(t *testing.T) {
		_, err := eval.EvaluateBoolean(Col("Stay"), cols)
		assert.Error(t, err)
	})

	t.Run("negating a string", func(t *testing.T) {
		_, err := eval.EvaluateBoolean(Not(Col("Stay")), cols)
		assert.Error(t, err)
	})

	t.Run("and of non boolean operands", func(t *testing.T) {
		_, err := eval.EvaluateBoolean(And(Col("Stay"), Col("Bed Grade").IsNotNull()), cols)
		assert.Error(t, err)
	})

	t.Run("incompatible case branches", func(t *testing.T) {
		_, err := eval.Evaluate(When(Col("Bed Grade").IsNotNull(), Col("Bed Grade")).Otherwise(Lit("none")), cols)
		assert.Error(t, err)
	})
}

func TestColumnsAndString(t *testing.T) {
	e := When(Col("Stay").IsIn("41-50"), Lit("More than 40")).
		Otherwise(Col("Stay"))
	assert.Equal(t, []string{"Stay"}, Columns(e))
	assert.Equal(t, `case when col(Stay).is_in([lit("41-50")]) then lit("More than 40") else col(Stay) end`, e.String())

	pred := Col("Bed Grade").IsNotNull().And(Col("City_Code_Patient").IsNotNull())
	assert.Equal(t, []string{"Bed Grade", "City_Code_Patient"}, Columns(pred))
	assert.Equal(t, "(col(Bed Grade).is_not_null() && col(City_Code_Patient).is_not_null())", pred.String())
}
