package prep_test

import (
	"context"
	stderrors "errors"
	"strconv"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/prep"
	"github.com/paveg/losreport/internal/series"
	"github.com/paveg/losreport/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCleanerDropsNullRows(t *testing.T) {
	df := testutil.Admissions(nil, testutil.WithRowCount(100), testutil.WithNulls(10))
	defer df.Release()

	cleaner := prep.Cleaner{Columns: []string{"Bed Grade", "City_Code_Patient"}}
	out, err := cleaner.Apply(df.Lazy()).Collect(context.Background())
	require.NoError(t, err)

	// Row 0 is null in both columns.
	stats := cleaner.Stats(df.Len(), out.Len())
	assert.Equal(t, 81, stats.Output)
	assert.Equal(t, stats.Input, stats.Output+stats.Removed)
	assert.LessOrEqual(t, out.Len(), df.Len())

	for _, name := range cleaner.Columns {
		col, _ := out.Column(name)
		assert.Zero(t, col.NullCount(), name)
	}
	assert.Equal(t, 100, df.Len(), "input is untouched")
}

func TestCleanerEdgeCases(t *testing.T) {
	df := testutil.Admissions(nil, testutil.WithRowCount(10), testutil.WithNulls(3))
	defer df.Release()

	same := prep.Cleaner{}.Apply(df.Lazy())
	assert.Empty(t, same.Operations())

	_, err := prep.Cleaner{Columns: []string{"Blood Type"}}.Apply(df.Lazy()).Collect(context.Background())
	assert.Error(t, err)
}

func defaultCollapser(t *testing.T) *prep.Collapser {
	t.Helper()
	c, err := prep.NewCollapser(config.NewConfig().Collapse)
	require.NoError(t, err)
	return c
}

func TestCollapserMap(t *testing.T) {
	c := defaultCollapser(t)

	tests := []struct {
		label string
		want  string
	}{
		{"0-10", "0-10"},
		{"31-40", "31-40"},
		{"41-50", "More than 40"},
		{"More than 100 Days", "More than 40"},
		{"More than 40", "More than 40"},
	}
	for _, tt := range tests {
		t.Run(tt.label, func(t *testing.T) {
			got, err := c.Map(tt.label)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)

			again, err := c.Map(got)
			require.NoError(t, err)
			assert.Equal(t, got, again, "collapsing is idempotent")
		})
	}

	_, err := c.Map("200+")
	var unseen *errors.UnseenLabelError
	require.True(t, stderrors.As(err, &unseen))
	assert.Equal(t, []string{"200+"}, unseen.Labels)

	c.Unseen = prep.PassUnseen
	got, err := c.Map("200+")
	require.NoError(t, err)
	assert.Equal(t, "200+", got)
}

func TestCollapserApplyEndToEnd(t *testing.T) {
	df := testutil.Admissions(nil, testutil.WithRowCount(100), testutil.WithStayLabels("0-10", "11-20", "41-50"))
	defer df.Release()
	ctx := context.Background()

	c := defaultCollapser(t)
	lf, err := c.Apply(ctx, df.Lazy())
	require.NoError(t, err)

	counts, err := lf.GroupByCount("Stay").Collect(ctx)
	require.NoError(t, err)

	assert.Equal(t, []string{"0-10", "11-20", "More than 40"}, testutil.Cells(t, counts, "Stay"))
	assert.Equal(t, []string{"34", "33", "33"}, testutil.Cells(t, counts, dataframe.CountColumn))

	// Collapsing the collapsed table changes nothing.
	twice, err := c.Apply(ctx, lf)
	require.NoError(t, err)
	recount, err := twice.GroupByCount("Stay").Collect(ctx)
	require.NoError(t, err)
	testutil.AssertDataFrameEqual(t, counts, recount)
}

func TestCollapserRejectsUnseen(t *testing.T) {
	df := testutil.Admissions(nil, testutil.WithRowCount(9), testutil.WithStayLabels("0-10", "unknown", "200+"))
	defer df.Release()

	_, err := defaultCollapser(t).Apply(context.Background(), df.Lazy())
	var unseen *errors.UnseenLabelError
	require.True(t, stderrors.As(err, &unseen))
	assert.Equal(t, "Stay", unseen.Column)
	assert.Equal(t, []string{"200+", "unknown"}, unseen.Labels)

	pass := defaultCollapser(t)
	pass.Unseen = prep.PassUnseen
	lf, err := pass.Apply(context.Background(), df.Lazy())
	require.NoError(t, err)
	out, err := lf.Collect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "unknown", testutil.Cells(t, out, "Stay")[1])
}

func TestNewCollapserValidation(t *testing.T) {
	cfg := config.NewConfig().Collapse
	cfg.Unseen = "ignore"
	_, err := prep.NewCollapser(cfg)
	assert.Error(t, err)

	cfg = config.NewConfig().Collapse
	cfg.PassThrough = append(cfg.PassThrough, "41-50")
	_, err = prep.NewCollapser(cfg)
	assert.Error(t, err)

	cfg = config.NewConfig().Collapse
	cfg.Unseen = config.UnseenPass
	c, err := prep.NewCollapser(cfg)
	require.NoError(t, err)
	assert.Equal(t, prep.PassUnseen, c.Unseen)
	assert.Equal(t, "pass", c.Unseen.String())
}

func TestIndexerFrequencyOrder(t *testing.T) {
	mem := memory.NewGoAllocator()
	stay, err := series.NewNullable("Stay",
		[]string{"11-20", "0-10", "21-30", "0-10", "11-20", "0-10", "", "31-40"},
		[]bool{true, true, true, true, true, true, false, true}, mem)
	require.NoError(t, err)
	df := dataframe.New(stay)
	defer df.Release()

	model, err := prep.Indexer{Column: "Stay"}.Fit(context.Background(), df.Lazy())
	require.NoError(t, err)

	assert.Equal(t, []string{"0-10", "11-20", "21-30", "31-40"}, model.Labels())
	for _, label := range model.Labels() {
		code, err := model.Encode(label)
		require.NoError(t, err)
		back, err := model.Decode(code)
		require.NoError(t, err)
		assert.Equal(t, label, back)
	}

	_, err = model.Encode("41-50")
	assert.Error(t, err)
	_, err = model.Decode(4)
	assert.Error(t, err)
	_, err = model.Decode(-1)
	assert.Error(t, err)
	assert.Equal(t, int64(1), model.Lookup()["11-20"])
}

func TestNewIndexModelRejectsDuplicates(t *testing.T) {
	_, err := prep.NewIndexModel("Stay", []string{"0-10", "0-10"})
	assert.Error(t, err)
}

func prepared(t *testing.T, rows int) *dataframe.DataFrame {
	t.Helper()
	df := testutil.Admissions(nil, testutil.WithRowCount(rows), testutil.WithNulls(25))
	ctx := context.Background()

	lf := prep.Cleaner{Columns: config.NewConfig().Clean.Columns}.Apply(df.Lazy())
	lf, err := defaultCollapser(t).Apply(ctx, lf)
	require.NoError(t, err)
	out, err := lf.Collect(ctx)
	require.NoError(t, err)
	return out
}

func TestEncoderTransform(t *testing.T) {
	df := prepared(t, 300)
	ctx := context.Background()

	enc, err := prep.NewEncoder(config.NewConfig().Schema).Fit(ctx, df)
	require.NoError(t, err)

	features := enc.Features()
	assert.Contains(t, features, "Age_idx")
	assert.Contains(t, features, "Bed Grade")
	assert.NotContains(t, features, "Visitors with Patient", "leakage column dropped")
	assert.NotContains(t, features, "case_id")
	assert.NotContains(t, features, "Age")

	out, err := enc.Transform(df.Lazy()).Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, append(features, prep.LabelColumn), out.Columns())
	assert.Equal(t, df.Len(), out.Len())

	target := enc.Target()
	stays := testutil.Cells(t, df, "Stay")
	labels := testutil.Cells(t, out, prep.LabelColumn)
	for i := range stays {
		code, err := target.Encode(stays[i])
		require.NoError(t, err)
		assert.Equal(t, strconv.Itoa(code), labels[i])
		decoded, err := target.Decode(code)
		require.NoError(t, err)
		assert.Equal(t, stays[i], decoded)
	}

	ageModel, err := prep.Indexer{Column: "Age"}.Fit(ctx, df.Lazy())
	require.NoError(t, err)
	first := testutil.Cells(t, df, "Age")[0]
	code, err := ageModel.Encode(first)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(code), testutil.Cells(t, out, "Age_idx")[0])
}

func TestEncoderAllowlist(t *testing.T) {
	df := prepared(t, 120)
	schema := config.NewConfig().Schema
	schema.Allowlist = []string{"Age", "Severity of Illness_idx", "Admission_Deposit"}

	enc, err := prep.NewEncoder(schema).Fit(context.Background(), df)
	require.NoError(t, err)
	assert.Equal(t, []string{"Severity of Illness_idx", "Age_idx", "Admission_Deposit"}, enc.Features())

	schema.Allowlist = []string{"Blood Type"}
	_, err = prep.NewEncoder(schema).Fit(context.Background(), df)
	assert.Error(t, err)
}

func TestEncoderSchemaErrors(t *testing.T) {
	df := prepared(t, 50)
	schema := config.NewConfig().Schema
	schema.Categorical = append(schema.Categorical, "Blood Type")

	_, err := prep.NewEncoder(schema).Fit(context.Background(), df)
	var mismatch *errors.SchemaMismatchError
	require.True(t, stderrors.As(err, &mismatch))
	assert.Equal(t, []string{"Blood Type"}, mismatch.Missing)

	schema = config.NewConfig().Schema
	schema.Categorical = schema.Categorical[1:] // Hospital_type_code is a string
	_, err = prep.NewEncoder(schema).Fit(context.Background(), df)
	assert.Error(t, err)
}

func TestSplitIndicesProperties(t *testing.T) {
	train, test, err := prep.SplitIndices(1000, 0.8, 42)
	require.NoError(t, err)

	assert.Len(t, train, 800)
	assert.Len(t, test, 200)

	seen := make(map[int]bool)
	for _, i := range append(append([]int(nil), train...), test...) {
		assert.False(t, seen[i], "row %d appears twice", i)
		seen[i] = true
	}
	assert.Len(t, seen, 1000)

	train2, test2, err := prep.SplitIndices(1000, 0.8, 42)
	require.NoError(t, err)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	train3, _, err := prep.SplitIndices(1000, 0.8, 7)
	require.NoError(t, err)
	assert.NotEqual(t, train, train3)
}

func TestSplitErrors(t *testing.T) {
	for _, ratio := range []float64{0, 1, -0.2, 1.5} {
		_, _, err := prep.SplitIndices(10, ratio, 1)
		assert.Error(t, err, "ratio %g", ratio)
	}
	_, _, err := prep.SplitIndices(0, 0.5, 1)
	assert.ErrorIs(t, err, errors.ErrEmptyDataFrame)
}

func TestSplitFrames(t *testing.T) {
	df := testutil.Admissions(nil, testutil.WithRowCount(101))
	defer df.Release()

	train, test, err := prep.Split(df, 0.75, 3)
	require.NoError(t, err)
	defer train.Release()
	defer test.Release()

	assert.Equal(t, 76, train.Len())
	assert.Equal(t, 25, test.Len())

	ids := make(map[string]bool)
	for _, id := range testutil.Cells(t, train, "case_id") {
		ids[id] = true
	}
	for _, id := range testutil.Cells(t, test, "case_id") {
		assert.False(t, ids[id], "case %s in both subsets", id)
	}
}
