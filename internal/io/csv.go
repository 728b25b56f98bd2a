package io

import (
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"

	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/series"
)

const (
	// Boolean string constants
	trueStr  = "true"
	falseStr = "false"
)

type columnKind int

const (
	kindString columnKind = iota
	kindBool
	kindInt
	kindFloat
)

// Read reads CSV data and returns a DataFrame. Cells matching a null marker
// become nulls and do not take part in type inference.
func (r *CSVReader) Read() (*dataframe.DataFrame, error) {
	csvReader := csv.NewReader(r.reader)
	if r.options.Delimiter != 0 {
		csvReader.Comma = r.options.Delimiter
	}
	csvReader.Comment = r.options.Comment
	csvReader.TrimLeadingSpace = r.options.SkipInitialSpace

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading CSV: %w", err)
	}

	if len(records) == 0 {
		if err := checkRequired("ReadCSV", nil, r.options.RequiredColumns); err != nil {
			return nil, err
		}
		return dataframe.New(), nil
	}

	var headers []string
	var dataRows [][]string

	if r.options.Header {
		headers = records[0]
		dataRows = records[1:]
	} else {
		numCols := len(records[0])
		headers = make([]string, numCols)
		for i := 0; i < numCols; i++ {
			headers[i] = fmt.Sprintf("column_%d", i)
		}
		dataRows = records
	}

	if err := checkRequired("ReadCSV", headers, r.options.RequiredColumns); err != nil {
		return nil, err
	}

	nullSet := make(map[string]bool, len(r.options.NullValues))
	for _, v := range r.options.NullValues {
		nullSet[v] = true
	}

	var seriesList []dataframe.ISeries
	for i, header := range headers {
		values := make([]string, len(dataRows))
		valid := make([]bool, len(dataRows))
		for j, row := range dataRows {
			if i < len(row) && !nullSet[row[i]] {
				values[j] = row[i]
				valid[j] = true
			}
		}
		s, err := r.createSeries(header, values, valid)
		if err != nil {
			for _, created := range seriesList {
				created.Release()
			}
			return nil, fmt.Errorf("creating series for column %s: %w", header, err)
		}
		seriesList = append(seriesList, s)
	}

	return dataframe.New(seriesList...), nil
}

// createSeries builds the narrowest series type every non-null value parses as
func (r *CSVReader) createSeries(name string, values []string, valid []bool) (dataframe.ISeries, error) {
	switch inferKind(values, valid) {
	case kindBool:
		parsed := make([]bool, len(values))
		for i, v := range values {
			parsed[i] = valid[i] && strings.EqualFold(v, trueStr)
		}
		return series.NewNullable(name, parsed, valid, r.mem)
	case kindInt:
		parsed := make([]int64, len(values))
		for i, v := range values {
			if valid[i] {
				parsed[i], _ = strconv.ParseInt(v, 10, 64)
			}
		}
		return series.NewNullable(name, parsed, valid, r.mem)
	case kindFloat:
		parsed := make([]float64, len(values))
		for i, v := range values {
			if valid[i] {
				parsed[i], _ = strconv.ParseFloat(v, 64)
			}
		}
		return series.NewNullable(name, parsed, valid, r.mem)
	default:
		return series.NewNullable(name, values, valid, r.mem)
	}
}

// inferKind determines the most specific type for the non-null values;
// an all-null column is a string column
func inferKind(values []string, valid []bool) columnKind {
	canBeInt := true
	canBeFloat := true
	canBeBool := true
	hasValue := false

	for i, value := range values {
		if !valid[i] {
			continue
		}
		hasValue = true

		if canBeBool {
			lower := strings.ToLower(value)
			if lower != trueStr && lower != falseStr {
				canBeBool = false
			}
		}
		if canBeInt {
			if _, err := strconv.ParseInt(value, 10, 64); err != nil {
				canBeInt = false
			}
		}
		if canBeFloat {
			if _, err := strconv.ParseFloat(value, 64); err != nil {
				canBeFloat = false
			}
		}
		if !canBeBool && !canBeInt && !canBeFloat {
			break
		}
	}

	switch {
	case !hasValue:
		return kindString
	case canBeBool:
		return kindBool
	case canBeInt:
		return kindInt
	case canBeFloat:
		return kindFloat
	default:
		return kindString
	}
}

// Write writes the DataFrame to CSV format. Nulls are written as the first
// configured null marker, or an empty cell.
func (w *CSVWriter) Write(df *dataframe.DataFrame) error {
	csvWriter := csv.NewWriter(w.writer)
	if w.options.Delimiter != 0 {
		csvWriter.Comma = w.options.Delimiter
	}

	nullText := ""
	if len(w.options.NullValues) > 0 {
		nullText = w.options.NullValues[0]
	}

	if w.options.Header {
		if err := csvWriter.Write(df.Columns()); err != nil {
			return fmt.Errorf("writing headers: %w", err)
		}
	}

	columns := make([]dataframe.ISeries, 0, df.Width())
	for _, name := range df.Columns() {
		col, _ := df.Column(name)
		columns = append(columns, col)
	}

	row := make([]string, len(columns))
	for i := 0; i < df.Len(); i++ {
		for j, col := range columns {
			if col.IsNull(i) {
				row[j] = nullText
				continue
			}
			row[j] = col.GetAsString(i)
		}
		if err := csvWriter.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i, err)
		}
	}

	csvWriter.Flush()
	if err := csvWriter.Error(); err != nil {
		return fmt.Errorf("flushing CSV: %w", err)
	}
	return nil
}
