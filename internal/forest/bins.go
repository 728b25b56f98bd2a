package forest

import (
	"sort"

	"gonum.org/v1/gonum/stat"
)

// thresholds returns at most maxBins-1 ascending split points for one
// feature. Few distinct values split at midpoints; many split at quantiles.
func thresholds(values []float64, maxBins int) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	unique := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			unique = append(unique, v)
		}
	}
	if len(unique) < 2 {
		return nil
	}

	if len(unique) <= maxBins {
		out := make([]float64, len(unique)-1)
		for i := range out {
			out[i] = (unique[i] + unique[i+1]) / 2
		}
		return out
	}

	out := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		q := stat.Quantile(float64(k)/float64(maxBins), stat.Empirical, sorted, nil)
		if len(out) == 0 || q > out[len(out)-1] {
			out = append(out, q)
		}
	}
	// The largest value must stay on the right of every split.
	if out[len(out)-1] >= unique[len(unique)-1] {
		out = out[:len(out)-1]
	}
	return out
}

// binOf returns the first threshold index t with v <= th[t], or len(th)
func binOf(v float64, th []float64) int {
	return sort.SearchFloat64s(th, v)
}

// binned holds every feature of a dataset as bin indices, column-major
type binned struct {
	thresholds [][]float64
	bins       [][]uint16
}

func newBinned(ds *Dataset, maxBins int) *binned {
	nf := len(ds.Features)
	b := &binned{
		thresholds: make([][]float64, nf),
		bins:       make([][]uint16, nf),
	}
	column := make([]float64, ds.Len())
	for f := 0; f < nf; f++ {
		for i, row := range ds.X {
			column[i] = row[f]
		}
		th := thresholds(column, maxBins)
		b.thresholds[f] = th
		bins := make([]uint16, ds.Len())
		for i, v := range column {
			bins[i] = uint16(binOf(v, th))
		}
		b.bins[f] = bins
	}
	return b
}
