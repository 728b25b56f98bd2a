package pipeline_test

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/pipeline"
	"github.com/paveg/losreport/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T, opts ...testutil.AdmissionsOption) config.Config {
	t.Helper()
	cfg := config.NewConfig()
	cfg.Source.Path = testutil.WriteAdmissionsCSV(t, opts...)
	cfg.Output.ReportPath = filepath.Join(t.TempDir(), "report.html")
	cfg.Forest.NumTrees = 5
	cfg.Forest.MaxDepth = 6
	cfg.Engine.WorkerPoolSize = 2
	return cfg
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
}

func TestRun(t *testing.T) {
	cfg := testConfig(t, testutil.WithRowCount(400), testutil.WithNulls(10))
	cfg.Output.PredictionsPath = filepath.Join(t.TempDir(), "predictions.parquet")
	cfg.Output.EncodedPath = filepath.Join(t.TempDir(), "encoded.csv")

	var logs bytes.Buffer
	clock := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	p, err := pipeline.New(cfg,
		pipeline.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))),
		pipeline.WithClock(func() time.Time { return clock }),
	)
	require.NoError(t, err)

	res, err := p.Run(context.Background())
	require.NoError(t, err)
	rep := res.Report

	t.Run("cleaning accounts for every row", func(t *testing.T) {
		assert.Equal(t, 400, rep.Clean.Input)
		assert.Positive(t, rep.Clean.Removed)
		assert.Equal(t, rep.Clean.Input, rep.Clean.Output+rep.Clean.Removed)
	})

	t.Run("profiles cover every column in order", func(t *testing.T) {
		columns := cfg.Schema.Columns()
		require.Len(t, rep.Profiles, len(columns))
		for i, prof := range rep.Profiles {
			assert.Equal(t, columns[i], prof.Name)
		}
	})

	t.Run("target is collapsed", func(t *testing.T) {
		labels := res.Encoding.Target().Labels()
		assert.Contains(t, labels, "More than 40")
		for _, label := range labels {
			assert.NotContains(t, cfg.Collapse.Labels, label)
		}
		var total int64
		for _, tc := range rep.Target {
			total += tc.Count
		}
		assert.Equal(t, int64(rep.Clean.Output), total)
	})

	t.Run("features exclude identifiers and leakage", func(t *testing.T) {
		features := res.Encoding.Features()
		assert.NotContains(t, features, "case_id")
		assert.NotContains(t, features, "patientid")
		assert.NotContains(t, features, "Visitors with Patient")
		assert.Contains(t, features, "Age_idx")
		assert.NotEmpty(t, rep.Leakage)
	})

	t.Run("evaluation", func(t *testing.T) {
		assert.Equal(t, rep.Clean.Output, rep.TrainRows+rep.TestRows)
		assert.Equal(t, rep.TestRows, res.Confusion.Total())
		assert.Equal(t, rep.TestRows, res.Metrics.Support)
		for _, v := range []float64{res.Metrics.Accuracy, res.Metrics.WeightedPrecision, res.Metrics.WeightedRecall, res.Metrics.F1} {
			assert.GreaterOrEqual(t, v, 0.0)
			assert.LessOrEqual(t, v, 1.0)
		}
		var sum float64
		for _, imp := range rep.Importances {
			sum += imp.Score
		}
		assert.InDelta(t, 1.0, sum, 1e-9)
	})

	t.Run("stages are timed", func(t *testing.T) {
		stages := make([]string, len(rep.Stages))
		for i, s := range rep.Stages {
			stages[i] = s.Stage
		}
		assert.Equal(t, []string{
			pipeline.StageLoad, pipeline.StageProfile, pipeline.StageClean, pipeline.StageCollapse,
			pipeline.StageEncode, pipeline.StageSplit, pipeline.StageTrain, pipeline.StageEvaluate,
		}, stages)
	})

	t.Run("result times the report stage too", func(t *testing.T) {
		require.Len(t, res.Stages, len(rep.Stages)+1)
		assert.Equal(t, rep.Stages, res.Stages[:len(rep.Stages)])
		last := res.Stages[len(res.Stages)-1]
		assert.Equal(t, pipeline.StageReport, last.Stage)
		assert.False(t, last.Failed)
		assert.Equal(t, int64(1), last.RowsProcessed)
	})

	t.Run("report file", func(t *testing.T) {
		data, err := os.ReadFile(res.ReportPath)
		require.NoError(t, err)
		html := string(data)
		assert.Contains(t, html, res.RunID.String())
		assert.Contains(t, html, "2026-05-04T10:00:00Z")
		assert.Contains(t, html, `<iframe id="confusion"`)
		assert.Contains(t, html, "Weighted Precision")
	})

	t.Run("prediction export", func(t *testing.T) {
		rows, err := parquet.ReadFile[pipeline.PredictionRow](res.Predictions)
		require.NoError(t, err)
		require.Len(t, rows, rep.TestRows)
		for _, row := range rows {
			label, err := res.Encoding.Target().Decode(int(row.ActualCode))
			require.NoError(t, err)
			assert.Equal(t, label, row.ActualLabel)
		}
	})

	t.Run("encoded export", func(t *testing.T) {
		data, err := os.ReadFile(res.Encoded)
		require.NoError(t, err)
		header := strings.SplitN(string(data), "\n", 2)[0]
		assert.True(t, strings.HasSuffix(header, ",label"), header)
		assert.NotContains(t, header, "case_id")
	})

	assert.Contains(t, logs.String(), "run_id="+res.RunID.String())
	assert.Contains(t, logs.String(), "stage=train")
}

func TestRunWithoutCollapse(t *testing.T) {
	cfg := testConfig(t, testutil.WithRowCount(240),
		testutil.WithStayLabels("0-10", "11-20", "41-50", "More than 100 Days"))
	cfg.Collapse = config.CollapseConfig{}

	p, err := pipeline.New(cfg, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)

	labels := res.Encoding.Target().Labels()
	assert.ElementsMatch(t, []string{"0-10", "11-20", "41-50", "More than 100 Days"}, labels)
	assert.NotContains(t, labels, "More than 40")

	var total int64
	for _, tc := range res.Report.Target {
		total += tc.Count
	}
	assert.Equal(t, int64(res.Report.Clean.Output), total)
	assert.Equal(t, pipeline.StageCollapse, res.Report.Stages[3].Stage)
}

func TestRunIsReproducible(t *testing.T) {
	cfg := testConfig(t, testutil.WithRowCount(300))

	first, err := pipeline.New(cfg, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)
	a, err := first.Run(context.Background())
	require.NoError(t, err)

	cfg.Engine.WorkerPoolSize = 4
	second, err := pipeline.New(cfg, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)
	b, err := second.Run(context.Background())
	require.NoError(t, err)

	assert.NotEqual(t, a.RunID, b.RunID)
	assert.Equal(t, a.Metrics, b.Metrics)
	assert.Equal(t, a.Confusion.Counts, b.Confusion.Counts)
	assert.Equal(t, a.Report.Importances, b.Report.Importances)
}

func TestRunRejectsUnseenLabels(t *testing.T) {
	cfg := testConfig(t, testutil.WithStayLabels("0-10", "41-50", "Unknown"))

	p, err := pipeline.New(cfg, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = p.Run(context.Background())
	require.Error(t, err)

	var unseen *errors.UnseenLabelError
	require.ErrorAs(t, err, &unseen)
	assert.Equal(t, []string{"Unknown"}, unseen.Labels)
	assert.True(t, strings.HasPrefix(err.Error(), pipeline.StageCollapse+":"))
	_, statErr := os.Stat(cfg.Output.ReportPath)
	assert.True(t, os.IsNotExist(statErr), "no report on failure")
}

func TestRunPassesUnseenLabels(t *testing.T) {
	cfg := testConfig(t, testutil.WithStayLabels("0-10", "41-50", "Unknown"))
	cfg.Collapse.Unseen = config.UnseenPass

	p, err := pipeline.New(cfg, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)
	res, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"0-10", "More than 40", "Unknown"}, res.Encoding.Target().Labels())
}

func TestRunSchemaMismatch(t *testing.T) {
	cfg := testConfig(t)
	cfg.Schema.Numeric = append(cfg.Schema.Numeric, "Ward_Count")

	p, err := pipeline.New(cfg, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)
	_, err = p.Run(context.Background())

	var mismatch *errors.SchemaMismatchError
	require.ErrorAs(t, err, &mismatch)
	assert.Equal(t, []string{"Ward_Count"}, mismatch.Missing)
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Split.TrainRatio = 1.5
	_, err := pipeline.New(cfg)
	assert.Error(t, err)
}

func TestRunCancelled(t *testing.T) {
	cfg := testConfig(t)
	p, err := pipeline.New(cfg, pipeline.WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
