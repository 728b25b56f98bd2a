// Package testutil builds synthetic admissions tables for tests.
//
// The generator produces every column of the default schema. Stay depends on
// Severity of Illness, Age and Admission_Deposit so a forest has a signal to
// learn; the rest is seeded noise. The same options always give the same
// table.
package testutil

import (
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/io"
	"github.com/paveg/losreport/internal/series"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const defaultRowCount = 200

// StayLabels are the target buckets in order
var StayLabels = []string{
	"0-10", "11-20", "21-30", "31-40", "41-50", "51-60",
	"61-70", "71-80", "81-90", "91-100", "More than 100 Days",
}

// AdmissionsOption configures the generator
type AdmissionsOption func(*admissionsConfig)

type admissionsConfig struct {
	rows      int
	seed      uint64
	nullEvery int
	stays     []string
}

// WithRowCount sets the number of rows
func WithRowCount(count int) AdmissionsOption {
	return func(cfg *admissionsConfig) {
		cfg.rows = count
	}
}

// WithSeed changes the generator seed
func WithSeed(seed uint64) AdmissionsOption {
	return func(cfg *admissionsConfig) {
		cfg.seed = seed
	}
}

// WithNulls makes every n-th row null in Bed Grade and every (n+1)-th row
// null in City_Code_Patient
func WithNulls(every int) AdmissionsOption {
	return func(cfg *admissionsConfig) {
		cfg.nullEvery = every
	}
}

// WithStayLabels restricts Stay to labels; rows cycle through them in order
// so the counts are exact
func WithStayLabels(labels ...string) AdmissionsOption {
	return func(cfg *admissionsConfig) {
		cfg.stays = labels
	}
}

// Admissions generates a synthetic admissions table
func Admissions(mem memory.Allocator, opts ...AdmissionsOption) *dataframe.DataFrame {
	cfg := &admissionsConfig{rows: defaultRowCount, seed: 7}
	for _, opt := range opts {
		opt(cfg)
	}
	if mem == nil {
		mem = memory.NewGoAllocator()
	}
	n := cfg.rows
	rng := rand.New(rand.NewPCG(cfg.seed, cfg.seed^0x9e3779b97f4a7c15))

	pick := func(options ...string) string { return options[rng.IntN(len(options))] }

	caseID := make([]int64, n)
	patientID := make([]int64, n)
	hospitalCode := make([]int64, n)
	hospitalType := make([]string, n)
	cityHospital := make([]int64, n)
	region := make([]string, n)
	extraRooms := make([]int64, n)
	department := make([]string, n)
	ward := make([]string, n)
	facility := make([]string, n)
	bedGrade := make([]int64, n)
	bedValid := make([]bool, n)
	cityPatient := make([]int64, n)
	cityValid := make([]bool, n)
	admission := make([]string, n)
	severity := make([]string, n)
	visitors := make([]int64, n)
	age := make([]string, n)
	deposit := make([]float64, n)
	stay := make([]string, n)

	severities := []string{"Minor", "Moderate", "Extreme"}
	ages := []string{"0-10", "11-20", "21-30", "31-40", "41-50", "51-60", "61-70", "71-80", "81-90", "91-100"}

	for i := 0; i < n; i++ {
		caseID[i] = int64(i + 1)
		patientID[i] = int64(10000 + rng.IntN(n*2+1))
		hospitalCode[i] = int64(1 + rng.IntN(32))
		hospitalType[i] = pick("a", "b", "c", "d", "e")
		cityHospital[i] = int64(1 + rng.IntN(13))
		region[i] = pick("X", "Y", "Z")
		extraRooms[i] = int64(rng.IntN(6))
		department[i] = pick("gynecology", "anesthesia", "radiotherapy", "TB & Chest disease", "surgery")
		ward[i] = pick("P", "Q", "R", "S", "T", "U")
		facility[i] = pick("A", "B", "C", "D", "E", "F")
		bedGrade[i] = int64(1 + rng.IntN(4))
		bedValid[i] = cfg.nullEvery <= 0 || i%cfg.nullEvery != 0
		cityPatient[i] = int64(1 + rng.IntN(38))
		cityValid[i] = cfg.nullEvery <= 0 || i%(cfg.nullEvery+1) != 0
		admission[i] = pick("Emergency", "Trauma", "Urgent")

		sev := rng.IntN(len(severities))
		ageBand := rng.IntN(len(ages))
		severity[i] = severities[sev]
		age[i] = ages[ageBand]
		deposit[i] = 3000.25 + float64(rng.IntN(4000))

		bucket := sev*3 + ageBand/4 + rng.IntN(2)
		if bucket >= len(StayLabels) {
			bucket = len(StayLabels) - 1
		}
		if cfg.stays != nil {
			stay[i] = cfg.stays[i%len(cfg.stays)]
		} else {
			stay[i] = StayLabels[bucket]
		}
		visitors[i] = int64(1 + bucket + rng.IntN(3))
	}

	nullable := func(name string, values []int64, valid []bool) dataframe.ISeries {
		s, err := series.NewNullable(name, values, valid, mem)
		if err != nil {
			panic(err)
		}
		return s
	}

	return dataframe.New(
		series.New("case_id", caseID, mem),
		series.New("Hospital_code", hospitalCode, mem),
		series.New("Hospital_type_code", hospitalType, mem),
		series.New("City_Code_Hospital", cityHospital, mem),
		series.New("Hospital_region_code", region, mem),
		series.New("Available Extra Rooms in Hospital", extraRooms, mem),
		series.New("Department", department, mem),
		series.New("Ward_Type", ward, mem),
		series.New("Ward_Facility_Code", facility, mem),
		nullable("Bed Grade", bedGrade, bedValid),
		series.New("patientid", patientID, mem),
		nullable("City_Code_Patient", cityPatient, cityValid),
		series.New("Type of Admission", admission, mem),
		series.New("Severity of Illness", severity, mem),
		series.New("Visitors with Patient", visitors, mem),
		series.New("Age", age, mem),
		series.New("Admission_Deposit", deposit, mem),
		series.New("Stay", stay, mem),
	)
}

// WriteAdmissionsCSV writes a generated table to a CSV file under the test's
// temp dir and returns its path. Nulls are written as "NA".
func WriteAdmissionsCSV(tb testing.TB, opts ...AdmissionsOption) string {
	tb.Helper()
	df := Admissions(nil, opts...)
	defer df.Release()

	path := filepath.Join(tb.TempDir(), "admissions.csv")
	f, err := os.Create(path)
	require.NoError(tb, err)
	defer f.Close()

	csvOpts := io.DefaultCSVOptions()
	csvOpts.NullValues = []string{"NA"}
	require.NoError(tb, io.NewCSVWriter(f, csvOpts).Write(df))
	return path
}

// Cells returns the text of every cell of a column; nulls read "<null>"
func Cells(tb testing.TB, df *dataframe.DataFrame, name string) []string {
	tb.Helper()
	col, ok := df.Column(name)
	require.True(tb, ok, "column %s missing", name)
	out := make([]string, col.Len())
	for i := range out {
		if col.IsNull(i) {
			out[i] = "<null>"
			continue
		}
		out[i] = col.GetAsString(i)
	}
	return out
}

// AssertDataFrameEqual compares two frames cell by cell
func AssertDataFrameEqual(tb testing.TB, expected, actual *dataframe.DataFrame) {
	tb.Helper()

	require.NotNil(tb, expected, "expected DataFrame should not be nil")
	require.NotNil(tb, actual, "actual DataFrame should not be nil")

	assert.Equal(tb, expected.Len(), actual.Len(), "DataFrame lengths should match")
	assert.Equal(tb, expected.Columns(), actual.Columns(), "DataFrame columns should match")

	for _, name := range expected.Columns() {
		if !actual.HasColumn(name) {
			continue
		}
		ec, _ := expected.Column(name)
		ac, _ := actual.Column(name)
		assert.True(tb, arrowTypeEqual(ec, ac), "column %s types differ", name)
		assert.Equal(tb, Cells(tb, expected, name), Cells(tb, actual, name), fmt.Sprintf("column %s", name))
	}
}

// AssertDataFrameHasColumns verifies that a DataFrame has the expected columns.
func AssertDataFrameHasColumns(tb testing.TB, df *dataframe.DataFrame, expectedColumns []string) {
	tb.Helper()

	require.NotNil(tb, df, "DataFrame should not be nil")
	for _, col := range expectedColumns {
		assert.True(tb, df.HasColumn(col), "DataFrame should have column %s", col)
	}
}

func arrowTypeEqual(a, b dataframe.ISeries) bool {
	return a.DataType().ID() == b.DataType().ID()
}
