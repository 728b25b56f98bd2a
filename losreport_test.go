package losreport_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/paveg/losreport"
	"github.com/paveg/losreport/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun(t *testing.T) {
	cfg := losreport.DefaultConfig()
	cfg.Source.Path = testutil.WriteAdmissionsCSV(t, testutil.WithRowCount(250))
	cfg.Output.ReportPath = filepath.Join(t.TempDir(), "report.html")
	cfg.Forest.NumTrees = 3

	res, err := losreport.Run(context.Background(), cfg,
		losreport.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)

	assert.Equal(t, cfg.Output.ReportPath, res.ReportPath)
	assert.Equal(t, res.Report.TestRows, res.Confusion.Total())
	_, err = os.Stat(res.ReportPath)
	assert.NoError(t, err)
}

func TestRunInvalidConfig(t *testing.T) {
	cfg := losreport.DefaultConfig()
	cfg.Source.Kind = "excel"
	_, err := losreport.Run(context.Background(), cfg)
	assert.Error(t, err)
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "losreport.yaml")
	require.NoError(t, os.WriteFile(path, []byte("split:\n  train_ratio: 0.7\n"), 0o600))
	t.Setenv("LOSREPORT_NUM_TREES", "7")

	cfg, err := losreport.LoadConfig(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.7, cfg.Split.TrainRatio, 1e-12)
	assert.Equal(t, 7, cfg.Forest.NumTrees)
	assert.Equal(t, "Stay", cfg.Schema.Target)

	_, err = losreport.LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
