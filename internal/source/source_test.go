package source_test

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/io"
	"github.com/paveg/losreport/internal/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const admissions = `case_id,Ward_Type,Bed Grade,Stay
1,R,2,0-10
2,S,NA,41-50
3,Q,3,11-20
`

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "admissions.csv")
	require.NoError(t, os.WriteFile(path, []byte(admissions), 0o600))
	return path
}

func csvSource(path string) config.SourceConfig {
	return config.SourceConfig{Kind: config.SourceCSV, Path: path, NullValues: []string{"", "NA"}}
}

func TestSessionLoadCSV(t *testing.T) {
	ctx := context.Background()
	s, err := source.Open(ctx, csvSource(writeCSV(t)))
	require.NoError(t, err)
	defer s.Close()

	assert.NotEmpty(t, s.ID())

	lf, err := s.Table(ctx, []string{"case_id", "Stay"})
	require.NoError(t, err)
	df, err := lf.Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, 3, df.Len())
	grade, _ := df.Column("Bed Grade")
	assert.Equal(t, 1, grade.NullCount())
}

func TestSessionSchemaMismatch(t *testing.T) {
	ctx := context.Background()
	s, err := source.Open(ctx, csvSource(writeCSV(t)))
	require.NoError(t, err)
	defer s.Close()

	_, err = s.Load(ctx, []string{"Stay", "Age"})
	var mismatch *errors.SchemaMismatchError
	require.True(t, stderrors.As(err, &mismatch))
	assert.Equal(t, []string{"Age"}, mismatch.Missing)
}

func TestSessionLoadParquet(t *testing.T) {
	ctx := context.Background()
	csvPath := writeCSV(t)

	s, err := source.Open(ctx, csvSource(csvPath))
	require.NoError(t, err)
	df, err := s.Load(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	var buf bytes.Buffer
	require.NoError(t, io.NewParquetWriter(&buf, io.DefaultParquetOptions()).Write(df))
	pqPath := filepath.Join(t.TempDir(), "admissions.parquet")
	require.NoError(t, os.WriteFile(pqPath, buf.Bytes(), 0o600))

	ps, err := source.Open(ctx, config.SourceConfig{Kind: config.SourceParquet, Path: pqPath})
	require.NoError(t, err)
	defer ps.Close()

	back, err := ps.Load(ctx, []string{"Stay"})
	require.NoError(t, err)
	assert.Equal(t, df.Columns(), back.Columns())
	assert.Equal(t, 3, back.Len())
}

func TestSessionCloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := source.Open(ctx, csvSource(writeCSV(t)))
	require.NoError(t, err)

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Load(ctx, nil)
	assert.ErrorIs(t, err, errors.ErrSessionClosed)
}

func TestOpenErrors(t *testing.T) {
	ctx := context.Background()

	_, err := source.Open(ctx, csvSource(filepath.Join(t.TempDir(), "missing.csv")))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = source.Open(ctx, config.SourceConfig{Kind: "excel", Path: "x.xlsx"})
	assert.Error(t, err)

	_, err = source.Open(ctx, config.SourceConfig{Kind: config.SourcePostgres, DSN: "::not a dsn::"})
	assert.Error(t, err)
}

func TestSessionLoadCancelled(t *testing.T) {
	s, err := source.Open(context.Background(), csvSource(writeCSV(t)))
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Load(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
