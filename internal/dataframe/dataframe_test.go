package dataframe

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestDataFrame(t *testing.T) *DataFrame {
	t.Helper()
	mem := memory.NewGoAllocator()

	caseIDs := series.New("case_id", []int64{1, 2, 3, 4, 5}, mem)
	wards := series.New("Ward_Type", []string{"R", "Q", "S", "R", "P"}, mem)
	grade, err := series.NewNullable("Bed Grade", []float64{2, 0, 3, 4, 1},
		[]bool{true, false, true, true, true}, mem)
	require.NoError(t, err)
	stay := series.New("Stay", []string{"0-10", "41-50", "11-20", "0-10", "21-30"}, mem)

	return New(caseIDs, wards, grade, stay)
}

func stringColumn(t *testing.T, df *DataFrame, name string) []string {
	t.Helper()
	col, ok := df.Column(name)
	require.True(t, ok, "column %s missing", name)
	out := make([]string, col.Len())
	for i := range out {
		out[i] = col.GetAsString(i)
	}
	return out
}

func TestNewDataFrame(t *testing.T) {
	df := createTestDataFrame(t)
	defer df.Release()

	assert.Equal(t, 5, df.Len())
	assert.Equal(t, 4, df.Width())
	assert.Equal(t, []string{"case_id", "Ward_Type", "Bed Grade", "Stay"}, df.Columns())
	assert.Equal(t, []string{"Age", "Stay_idx"}, df.MissingColumns("Age", "Stay", "Stay_idx"))
	assert.Contains(t, df.String(), "DataFrame[5x4]")

	empty := New()
	assert.Equal(t, 0, empty.Len())
	assert.Equal(t, "DataFrame[empty]", empty.String())
}

func TestDataFrameSelectDrop(t *testing.T) {
	df := createTestDataFrame(t)
	defer df.Release()

	selected := df.Select("Stay", "Ward_Type", "unknown")
	assert.Equal(t, []string{"Stay", "Ward_Type"}, selected.Columns())
	assert.Equal(t, 5, selected.Len())

	dropped := df.Drop("case_id", "Bed Grade")
	assert.Equal(t, []string{"Ward_Type", "Stay"}, dropped.Columns())

	// The receiver is untouched.
	assert.Equal(t, 4, df.Width())
}

func TestDataFrameWithSeries(t *testing.T) {
	df := createTestDataFrame(t)
	defer df.Release()
	mem := memory.NewGoAllocator()

	replaced := df.WithSeries(series.New("Ward_Type", []string{"a", "b", "c", "d", "e"}, mem))
	assert.Equal(t, df.Columns(), replaced.Columns())
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, stringColumn(t, replaced, "Ward_Type"))
	assert.Equal(t, []string{"R", "Q", "S", "R", "P"}, stringColumn(t, df, "Ward_Type"))

	added := df.WithSeries(series.New("label", []int64{0, 1, 2, 0, 3}, mem))
	assert.Equal(t, "label", added.Columns()[4])
}

func TestDataFrameTake(t *testing.T) {
	df := createTestDataFrame(t)
	defer df.Release()

	taken, err := df.Take([]int{4, 1, 1})
	require.NoError(t, err)
	assert.Equal(t, 3, taken.Len())
	assert.Equal(t, []string{"5", "2", "2"}, stringColumn(t, taken, "case_id"))

	grade, _ := taken.Column("Bed Grade")
	assert.False(t, grade.IsNull(0))
	assert.True(t, grade.IsNull(1))
	assert.True(t, grade.IsNull(2))

	_, err = df.Take([]int{5})
	assert.Error(t, err)
}

func TestDataFrameSliceAndConcat(t *testing.T) {
	df := createTestDataFrame(t)
	defer df.Release()

	head, err := df.Slice(0, 2)
	require.NoError(t, err)
	tail, err := df.Slice(2, 5)
	require.NoError(t, err)
	assert.Equal(t, 2, head.Len())
	assert.Equal(t, 3, tail.Len())

	joined, err := head.Concat(tail)
	require.NoError(t, err)
	assert.Equal(t, stringColumn(t, df, "Stay"), stringColumn(t, joined, "Stay"))
	grade, _ := joined.Column("Bed Grade")
	assert.Equal(t, 1, grade.NullCount())

	_, err = head.Concat(df.Select("Stay"))
	assert.Error(t, err)

	_, err = df.Slice(3, 9)
	assert.Error(t, err)
}

func TestDataFrameRecord(t *testing.T) {
	df := createTestDataFrame(t)
	defer df.Release()

	rec := df.Record()
	defer rec.Release()
	assert.Equal(t, int64(5), rec.NumRows())
	assert.Equal(t, int64(4), rec.NumCols())

	for i, name := range df.Columns() {
		assert.Equal(t, name, rec.ColumnName(i))
	}
	assert.True(t, rec.Schema().Field(2).Nullable)
	assert.Equal(t, 1, rec.Column(2).NullN())
}
