package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/parquet-go/parquet-go"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/evaluate"
	"github.com/paveg/losreport/internal/io"
	"github.com/paveg/losreport/internal/prep"
)

// PredictionRow is one exported test row
type PredictionRow struct {
	ActualCode     int64  `parquet:"actual_code"`
	PredictedCode  int64  `parquet:"predicted_code"`
	ActualLabel    string `parquet:"actual_label,dict"`
	PredictedLabel string `parquet:"predicted_label,dict"`
}

// WritePredictions writes the prediction frame, with decoded labels, to a
// Snappy compressed Parquet file
func WritePredictions(path string, predictions *dataframe.DataFrame, target *prep.IndexModel) error {
	actual, predicted, err := evaluate.Codes(predictions)
	if err != nil {
		return err
	}

	rows := make([]PredictionRow, len(actual))
	for i := range rows {
		actualLabel, err := target.Decode(actual[i])
		if err != nil {
			return err
		}
		predictedLabel, err := target.Decode(predicted[i])
		if err != nil {
			return err
		}
		rows[i] = PredictionRow{
			ActualCode:     int64(actual[i]),
			PredictedCode:  int64(predicted[i]),
			ActualLabel:    actualLabel,
			PredictedLabel: predictedLabel,
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create predictions file: %w", err)
	}
	writer := parquet.NewGenericWriter[PredictionRow](file,
		parquet.Compression(&parquet.Snappy),
	)
	if _, err := writer.Write(rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write predictions: %w", err)
	}
	if err := writer.Close(); err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}
	return file.Close()
}

// WriteEncoded writes the encoded table. A .parquet path is written as
// Parquet, anything else as CSV.
func WriteEncoded(path string, encoded *dataframe.DataFrame) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create encoded file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(path), ".parquet") {
		err = io.NewParquetWriter(file, io.DefaultParquetOptions()).Write(encoded)
	} else {
		err = io.NewCSVWriter(file, io.DefaultCSVOptions()).Write(encoded)
	}
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("failed to write encoded table: %w", err)
	}
	return file.Close()
}
