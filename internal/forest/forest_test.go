package forest_test

import (
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/forest"
	"github.com/paveg/losreport/internal/parallel"
	"github.com/paveg/losreport/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// severityDataset has a label fully determined by the first feature
func severityDataset(n int) *forest.Dataset {
	ds := &forest.Dataset{Features: []string{"severity", "rooms", "deposit"}}
	for i := 0; i < n; i++ {
		sev := i % 3
		ds.X = append(ds.X, []float64{float64(sev), float64((i * 7) % 5), float64(3000 + (i*37)%900)})
		ds.Y = append(ds.Y, sev)
	}
	return ds
}

func params() forest.Params {
	p := forest.DefaultParams()
	p.NumTrees = 8
	p.MaxDepth = 4
	p.FeatureSubset = "all"
	return p
}

func TestTrainLearnsSignal(t *testing.T) {
	ds := severityDataset(300)
	model, err := forest.Train(context.Background(), ds, params())
	require.NoError(t, err)

	assert.Equal(t, 8, model.NumTrees())
	assert.Equal(t, 3, model.NumClasses())
	assert.Equal(t, ds.Features, model.Features())
	assert.LessOrEqual(t, model.MaxTreeDepth(), 4)

	pred, err := model.Predict([][]float64{{0, 1, 3100}, {1, 4, 3500}, {2, 0, 3800}})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, pred)

	probs, err := model.PredictProba([][]float64{{2, 2, 3000}})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, probs[0][0]+probs[0][1]+probs[0][2], 1e-9)
}

func TestFeatureImportances(t *testing.T) {
	model, err := forest.Train(context.Background(), severityDataset(300), params())
	require.NoError(t, err)

	imps := model.FeatureImportances()
	require.Len(t, imps, 3)
	sum := 0.0
	for _, imp := range imps {
		assert.GreaterOrEqual(t, imp.Score, 0.0)
		sum += imp.Score
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
	assert.Equal(t, "severity", imps[0].Feature)
	assert.Greater(t, imps[0].Score, 0.9)

	stump := params()
	stump.MaxDepth = 0
	flat, err := forest.Train(context.Background(), severityDataset(30), stump)
	require.NoError(t, err)
	for _, imp := range flat.FeatureImportances() {
		assert.InDelta(t, 1.0/3.0, imp.Score, 1e-9)
	}
	assert.Equal(t, 8, flat.NumNodes())
}

func TestTrainIsReproducible(t *testing.T) {
	ds := severityDataset(200)
	p := params()
	p.FeatureSubset = "sqrt"
	p.SubsamplingRate = 0.7

	single := parallel.NewWorkerPool(1)
	defer single.Close()
	many := parallel.NewWorkerPool(4)
	defer many.Close()

	a, err := forest.Train(context.Background(), ds, p, forest.WithPool(single))
	require.NoError(t, err)
	b, err := forest.Train(context.Background(), ds, p, forest.WithPool(many))
	require.NoError(t, err)

	assert.Equal(t, a.FeatureImportances(), b.FeatureImportances())
	assert.Equal(t, a.NumNodes(), b.NumNodes())
	pa, err := a.Predict(ds.X)
	require.NoError(t, err)
	pb, err := b.Predict(ds.X)
	require.NoError(t, err)
	assert.Equal(t, pa, pb)
}

func TestTrainErrors(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*forest.Params)
	}{
		{"no trees", func(p *forest.Params) { p.NumTrees = 0 }},
		{"negative depth", func(p *forest.Params) { p.MaxDepth = -1 }},
		{"min instances", func(p *forest.Params) { p.MinInstancesPerNode = 0 }},
		{"bins", func(p *forest.Params) { p.MaxBins = 1 }},
		{"subsampling", func(p *forest.Params) { p.SubsamplingRate = 1.5 }},
		{"subset", func(p *forest.Params) { p.FeatureSubset = "half" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := params()
			tt.mutate(&p)
			_, err := forest.Train(ctx, severityDataset(10), p)
			assert.Error(t, err)
		})
	}

	_, err := forest.Train(ctx, &forest.Dataset{Features: []string{"a"}}, params())
	assert.Error(t, err)

	ds := severityDataset(10)
	ds.NumClasses = 2
	_, err = forest.Train(ctx, ds, params())
	assert.Error(t, err, "label 2 is outside two classes")

	model, err := forest.Train(ctx, severityDataset(10), params())
	require.NoError(t, err)
	_, err = model.Predict([][]float64{{1, 2}})
	assert.Error(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = forest.Train(cancelled, severityDataset(10), params())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFromFrame(t *testing.T) {
	mem := memory.NewGoAllocator()
	grade, err := series.NewNullable("Bed Grade", []int64{2, 3, 1}, []bool{true, true, false}, mem)
	require.NoError(t, err)
	df := dataframe.New(
		series.New("Age_idx", []int64{0, 2, 1}, mem),
		series.New("Admission_Deposit", []float64{4911.5, 5954, 4745}, mem),
		series.New("Ward_Type", []string{"R", "S", "Q"}, mem),
		grade,
		series.New("label", []int64{1, 0, 4}, mem),
	)
	defer df.Release()

	ds, err := forest.FromFrame(df, []string{"Age_idx", "Admission_Deposit"}, "label")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{0, 4911.5}, {2, 5954}, {1, 4745}}, ds.X)
	assert.Equal(t, []int{1, 0, 4}, ds.Y)
	assert.Equal(t, 5, ds.NumClasses)
	assert.Equal(t, 3, ds.Len())

	_, err = forest.FromFrame(df, []string{"Ward_Type"}, "label")
	assert.Error(t, err, "string features are rejected")

	_, err = forest.FromFrame(df, []string{"Bed Grade"}, "label")
	assert.Error(t, err, "null features are rejected")

	_, err = forest.FromFrame(df, []string{"Age"}, "label")
	assert.Error(t, err)

	sliced, err := df.Slice(1, 3)
	require.NoError(t, err)
	ds, err = forest.FromFrame(sliced, []string{"Admission_Deposit"}, "label")
	require.NoError(t, err)
	assert.Equal(t, [][]float64{{5954}, {4745}}, ds.X)
}
