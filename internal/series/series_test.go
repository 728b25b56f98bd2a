package series

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSeries(t *testing.T) {
	mem := memory.NewGoAllocator()

	t.Run("string ward types", func(t *testing.T) {
		s := New("Ward_Type", []string{"R", "Q", "S"}, mem)
		defer s.Release()
		assert.Equal(t, "Ward_Type", s.Name())
		assert.Equal(t, 3, s.Len())
		assert.Equal(t, []string{"R", "Q", "S"}, s.Values())
		assert.Equal(t, "utf8", s.DataType().Name())
	})

	t.Run("int64 visitor counts", func(t *testing.T) {
		s := New("Visitors with Patient", []int64{2, 4, 3}, mem)
		defer s.Release()
		assert.Equal(t, []int64{2, 4, 3}, s.Values())
		assert.Equal(t, "int64", s.DataType().Name())
	})

	t.Run("float64 deposits", func(t *testing.T) {
		s := New("Admission_Deposit", []float64{4911.0, 5954.5}, mem)
		defer s.Release()
		assert.InDeltaSlice(t, []float64{4911.0, 5954.5}, s.Values(), 1e-9)
	})

	t.Run("empty series", func(t *testing.T) {
		s := New("empty", []string{}, mem)
		defer s.Release()
		assert.Equal(t, 0, s.Len())
	})
}

func TestNewNullable(t *testing.T) {
	mem := memory.NewGoAllocator()

	s, err := NewNullable("Bed Grade", []float64{2, 0, 3}, []bool{true, false, true}, mem)
	require.NoError(t, err)
	defer s.Release()

	assert.Equal(t, 1, s.NullCount())
	assert.False(t, s.IsNull(0))
	assert.True(t, s.IsNull(1))
	assert.InDelta(t, 0.0, s.Value(1), 1e-9)
	assert.Equal(t, "", s.GetAsString(1))
	assert.Equal(t, "3", s.GetAsString(2))

	_, err = NewNullable("Bed Grade", []float64{1}, []bool{true, false}, mem)
	assert.Error(t, err)
}

func TestSeriesValue(t *testing.T) {
	mem := memory.NewGoAllocator()

	s := New("Stay", []string{"0-10", "11-20", "21-30"}, mem)
	defer s.Release()

	assert.Equal(t, "0-10", s.Value(0))
	assert.Equal(t, "21-30", s.Value(2))
	assert.Equal(t, "", s.Value(-1))
	assert.Equal(t, "", s.Value(3))
}

func TestFromArray(t *testing.T) {
	mem := memory.NewGoAllocator()

	b := array.NewInt64Builder(mem)
	b.AppendValues([]int64{7, 8}, nil)
	arr := b.NewArray()
	b.Release()
	defer arr.Release()

	s, err := FromArray("Hospital_code", arr)
	require.NoError(t, err)
	defer s.Release()
	assert.Equal(t, int64(8), s.Value(1))
	assert.Equal(t, "7", s.GetAsString(0))

	db := array.NewDate32Builder(mem)
	db.Append(1)
	dates := db.NewArray()
	db.Release()
	defer dates.Release()

	_, err = FromArray("admitted", dates)
	assert.Error(t, err)
}

func TestSeriesString(t *testing.T) {
	mem := memory.NewGoAllocator()

	s := New("Department", []string{"gynecology", "surgery"}, mem)
	defer s.Release()

	str := s.String()
	assert.Contains(t, str, "Series[string]")
	assert.Contains(t, str, "Department")
	assert.Contains(t, str, "len=2")
}

func TestUnsupportedType(t *testing.T) {
	mem := memory.NewGoAllocator()

	assert.Panics(t, func() {
		New("test", []complex64{1 + 2i}, mem)
	})

	_, err := NewSafe("test", []complex64{1 + 2i}, mem)
	assert.Error(t, err)
}
