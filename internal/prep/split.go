package prep

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
)

// SplitIndices partitions row indices 0..n-1. Rows are ranked by an xxhash of
// (seed, row) and the first round(n*ratio) ranks train. Both slices are
// ascending; together they hold every row exactly once.
func SplitIndices(n int, ratio float64, seed uint64) (train, test []int, err error) {
	if ratio <= 0 || ratio >= 1 || math.IsNaN(ratio) {
		return nil, nil, errors.NewInvalidInputError("Split",
			fmt.Sprintf("train ratio must be in (0, 1), got %g", ratio))
	}
	if n <= 0 {
		return nil, nil, errors.ErrEmptyDataFrame
	}

	keys := make([]uint64, n)
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[:8], seed)
	for i := range keys {
		binary.LittleEndian.PutUint64(buf[8:], uint64(i))
		keys[i] = xxhash.Sum64(buf[:])
	}

	ranked := make([]int, n)
	for i := range ranked {
		ranked[i] = i
	}
	sort.Slice(ranked, func(a, b int) bool {
		ka, kb := keys[ranked[a]], keys[ranked[b]]
		if ka != kb {
			return ka < kb
		}
		return ranked[a] < ranked[b]
	})

	cut := int(math.Round(float64(n) * ratio))
	train = append([]int(nil), ranked[:cut]...)
	test = append([]int(nil), ranked[cut:]...)
	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// Split partitions df into training and testing frames
func Split(df *dataframe.DataFrame, ratio float64, seed uint64) (train, test *dataframe.DataFrame, err error) {
	trainIdx, testIdx, err := SplitIndices(df.Len(), ratio, seed)
	if err != nil {
		return nil, nil, err
	}
	train, err = df.Take(trainIdx)
	if err != nil {
		return nil, nil, fmt.Errorf("taking training rows: %w", err)
	}
	test, err = df.Take(testIdx)
	if err != nil {
		train.Release()
		return nil, nil, fmt.Errorf("taking testing rows: %w", err)
	}
	return train, test, nil
}
