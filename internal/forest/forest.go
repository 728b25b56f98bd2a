package forest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/parallel"
	"gonum.org/v1/gonum/floats"
)

// Params are the forest hyperparameters
type Params struct {
	NumTrees            int
	MaxDepth            int
	MinInstancesPerNode int
	MaxBins             int
	SubsamplingRate     float64
	FeatureSubset       string // auto, all, sqrt, log2 or onethird
	Seed                uint64
}

// DefaultParams mirrors the configuration defaults
func DefaultParams() Params {
	return ParamsFromConfig(config.NewConfig().Forest)
}

// ParamsFromConfig copies the forest section of a run configuration
func ParamsFromConfig(cfg config.ForestConfig) Params {
	return Params{
		NumTrees:            cfg.NumTrees,
		MaxDepth:            cfg.MaxDepth,
		MinInstancesPerNode: cfg.MinInstancesPerNode,
		MaxBins:             cfg.MaxBins,
		SubsamplingRate:     cfg.SubsamplingRate,
		FeatureSubset:       cfg.FeatureSubset,
		Seed:                cfg.Seed,
	}
}

func (p Params) validate() error {
	switch {
	case p.NumTrees <= 0:
		return fmt.Errorf("NumTrees must be positive, got %d", p.NumTrees)
	case p.MaxDepth < 0:
		return fmt.Errorf("MaxDepth must be non-negative, got %d", p.MaxDepth)
	case p.MinInstancesPerNode <= 0:
		return fmt.Errorf("MinInstancesPerNode must be positive, got %d", p.MinInstancesPerNode)
	case p.MaxBins < 2 || p.MaxBins > math.MaxUint16:
		return fmt.Errorf("MaxBins must be in [2, %d], got %d", math.MaxUint16, p.MaxBins)
	case p.SubsamplingRate <= 0 || p.SubsamplingRate > 1:
		return fmt.Errorf("SubsamplingRate must be in (0, 1], got %g", p.SubsamplingRate)
	}
	return nil
}

// subsetSize returns how many features each node considers
func (p Params) subsetSize(numFeatures int) (int, error) {
	n := float64(numFeatures)
	var k int
	switch p.FeatureSubset {
	case "auto":
		if p.NumTrees == 1 {
			k = numFeatures
		} else {
			k = int(math.Ceil(math.Sqrt(n)))
		}
	case "all":
		k = numFeatures
	case "sqrt":
		k = int(math.Ceil(math.Sqrt(n)))
	case "log2":
		k = int(math.Ceil(math.Log2(n)))
	case "onethird":
		k = int(math.Ceil(n / 3))
	default:
		return 0, fmt.Errorf("unsupported FeatureSubset %q", p.FeatureSubset)
	}
	return min(max(k, 1), numFeatures), nil
}

// Importance is the share of impurity reduction attributed to one feature
type Importance struct {
	Feature string
	Score   float64
}

// Model is a trained forest. It is immutable and safe for concurrent use.
type Model struct {
	trees      []*node
	importance [][]float64
	features   []string
	numClasses int
	params     Params
}

// Option configures training
type Option func(*trainer)

type trainer struct {
	pool   *parallel.WorkerPool
	logger *slog.Logger
}

// WithPool grows trees concurrently on pool
func WithPool(pool *parallel.WorkerPool) Option {
	return func(t *trainer) {
		t.pool = pool
	}
}

// WithLogger sets the training logger
func WithLogger(logger *slog.Logger) Option {
	return func(t *trainer) {
		t.logger = logger
	}
}

// Train fits a forest on ds. Tree i draws its randomness from (Seed, i) only,
// so the model does not depend on scheduling.
func Train(ctx context.Context, ds *Dataset, params Params, opts ...Option) (*Model, error) {
	t := &trainer{logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	if err := params.validate(); err != nil {
		return nil, errors.NewInvalidInputError("Train", err.Error())
	}
	if ds.Len() == 0 {
		return nil, errors.ErrEmptyDataFrame
	}
	if len(ds.Features) == 0 {
		return nil, errors.NewInvalidInputError("Train", "dataset has no features")
	}
	if len(ds.Y) != ds.Len() {
		return nil, errors.ErrMismatchedLength
	}
	numClasses := ds.NumClasses
	for _, y := range ds.Y {
		if y < 0 || (ds.NumClasses > 0 && y >= ds.NumClasses) {
			return nil, errors.NewInvalidInputError("Train", fmt.Sprintf("class code %d outside [0, %d)", y, ds.NumClasses))
		}
		numClasses = max(numClasses, y+1)
	}
	subset, err := params.subsetSize(len(ds.Features))
	if err != nil {
		return nil, errors.NewInvalidInputError("Train", err.Error())
	}

	pool := t.pool
	if pool == nil {
		pool = parallel.NewWorkerPool(0)
		defer pool.Close()
	}

	start := time.Now()
	data := newBinned(ds, params.MaxBins)
	seeds := make([]int, params.NumTrees)
	for i := range seeds {
		seeds[i] = i
	}

	type grown struct {
		root       *node
		importance []float64
	}
	trees, err := parallel.ProcessIndexedContext(ctx, pool, seeds,
		func(ctx context.Context, _ int, idx int) (grown, error) {
			if err := ctx.Err(); err != nil {
				return grown{}, err
			}
			rng := rand.New(rand.NewPCG(params.Seed, uint64(idx)))
			g := &grower{
				data:       data,
				y:          ds.Y,
				numClasses: numClasses,
				params:     params,
				subset:     subset,
				rng:        rng,
				importance: make([]float64, len(ds.Features)),
			}
			rows := sample(ds.Len(), params, rng)
			return grown{root: g.grow(rows, 0), importance: g.importance}, nil
		})
	if err != nil {
		return nil, fmt.Errorf("training forest: %w", err)
	}

	m := &Model{
		features:   append([]string(nil), ds.Features...),
		numClasses: numClasses,
		params:     params,
	}
	for _, tr := range trees {
		m.trees = append(m.trees, tr.root)
		m.importance = append(m.importance, tr.importance)
	}

	t.logger.Debug("forest trained",
		"trees", len(m.trees),
		"nodes", m.NumNodes(),
		"depth", m.MaxTreeDepth(),
		"rows", ds.Len(),
		"features", len(ds.Features),
		"elapsed", time.Since(start))
	return m, nil
}

// sample draws the training rows of one tree: a bootstrap sample when the
// forest has several trees, otherwise a subsample without replacement
func sample(n int, params Params, rng *rand.Rand) []int {
	size := max(int(math.Round(float64(n)*params.SubsamplingRate)), 1)
	if params.NumTrees > 1 {
		rows := make([]int, size)
		for i := range rows {
			rows[i] = rng.IntN(n)
		}
		return rows
	}
	if size == n {
		rows := make([]int, n)
		for i := range rows {
			rows[i] = i
		}
		return rows
	}
	return rng.Perm(n)[:size]
}

// NumTrees returns the number of trees
func (m *Model) NumTrees() int { return len(m.trees) }

// NumClasses returns the number of class codes the model predicts
func (m *Model) NumClasses() int { return m.numClasses }

// Features returns the feature names in input order
func (m *Model) Features() []string { return append([]string(nil), m.features...) }

// Params returns the training parameters
func (m *Model) Params() Params { return m.params }

// NumNodes returns the total node count over all trees
func (m *Model) NumNodes() int {
	total := 0
	for _, t := range m.trees {
		total += t.count()
	}
	return total
}

// MaxTreeDepth returns the depth of the deepest tree
func (m *Model) MaxTreeDepth() int {
	d := 0
	for _, t := range m.trees {
		d = max(d, t.depth())
	}
	return d
}

// PredictProba averages the leaf class distributions of every tree
func (m *Model) PredictProba(rows [][]float64) ([][]float64, error) {
	out := make([][]float64, len(rows))
	for i, row := range rows {
		if len(row) != len(m.features) {
			return nil, errors.NewInvalidInputError("Predict",
				fmt.Sprintf("row %d has %d values, model expects %d", i, len(row), len(m.features)))
		}
		probs := make([]float64, m.numClasses)
		for _, t := range m.trees {
			floats.Add(probs, t.predict(row))
		}
		floats.Scale(1/float64(len(m.trees)), probs)
		out[i] = probs
	}
	return out, nil
}

// Predict returns the most probable class code per row; ties go to the
// lowest code
func (m *Model) Predict(rows [][]float64) ([]int, error) {
	probs, err := m.PredictProba(rows)
	if err != nil {
		return nil, err
	}
	out := make([]int, len(probs))
	for i, p := range probs {
		best := 0
		for c := 1; c < len(p); c++ {
			if p[c] > p[best] {
				best = c
			}
		}
		out[i] = best
	}
	return out, nil
}

// FeatureImportances normalises each tree's impurity gains, averages them
// over trees and normalises the result to sum to 1. A forest without any
// split reports uniform importances.
func (m *Model) FeatureImportances() []Importance {
	total := make([]float64, len(m.features))
	for _, imp := range m.importance {
		sum := floats.Sum(imp)
		if sum == 0 {
			continue
		}
		for f, v := range imp {
			total[f] += v / sum
		}
	}

	sum := floats.Sum(total)
	out := make([]Importance, len(m.features))
	for f, name := range m.features {
		score := 1 / float64(len(m.features))
		if sum > 0 {
			score = total[f] / sum
		}
		out[f] = Importance{Feature: name, Score: score}
	}
	return out
}
