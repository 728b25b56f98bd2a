package io

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
)

// Read reads Parquet data and returns a DataFrame. Narrow numeric columns
// are widened to int64 and float64.
func (r *ParquetReader) Read() (*dataframe.DataFrame, error) {
	return r.ReadContext(context.Background())
}

// ReadContext is Read with a caller supplied context
func (r *ParquetReader) ReadContext(ctx context.Context) (*dataframe.DataFrame, error) {
	data, err := io.ReadAll(r.reader)
	if err != nil {
		return nil, fmt.Errorf("reading data: %w", err)
	}

	pqReader, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("creating parquet file reader: %w", err)
	}
	defer pqReader.Close()

	arrowReader, err := pqarrow.NewFileReader(pqReader, pqarrow.ArrowReadProperties{
		BatchSize: int64(r.options.BatchSize),
	}, r.mem)
	if err != nil {
		return nil, fmt.Errorf("creating arrow file reader: %w", err)
	}

	table, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading table: %w", err)
	}
	defer table.Release()

	schema := table.Schema()
	names := make([]string, schema.NumFields())
	for i, f := range schema.Fields() {
		names[i] = f.Name
	}
	if err := checkRequired("ReadParquet", names, r.options.RequiredColumns); err != nil {
		return nil, err
	}

	arrays := make([]arrow.Array, 0, len(names))
	defer func() {
		for _, arr := range arrays {
			arr.Release()
		}
	}()
	for i := range names {
		arr, err := r.column(table.Column(i).Data().Chunks())
		if err != nil {
			return nil, fmt.Errorf("reading column %s: %w", names[i], err)
		}
		arrays = append(arrays, arr)
	}

	return dataframe.FromArrays(names, arrays)
}

// column joins the chunks of one column into a single supported array
func (r *ParquetReader) column(chunks []arrow.Array) (arrow.Array, error) {
	var joined arrow.Array
	switch len(chunks) {
	case 0:
		return nil, errors.NewInvalidInputError("ReadParquet", "column has no data chunks")
	case 1:
		joined = chunks[0]
		joined.Retain()
	default:
		var err error
		joined, err = array.Concatenate(chunks, r.mem)
		if err != nil {
			return nil, err
		}
	}
	defer joined.Release()
	return widen(joined, r.mem)
}

// widen returns a new reference to arr with int32 and float32 promoted
func widen(arr arrow.Array, mem memory.Allocator) (arrow.Array, error) {
	switch typed := arr.(type) {
	case *array.Int32:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.Reserve(typed.Len())
		for i := 0; i < typed.Len(); i++ {
			if typed.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(int64(typed.Value(i)))
		}
		return b.NewArray(), nil
	case *array.Float32:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		b.Reserve(typed.Len())
		for i := 0; i < typed.Len(); i++ {
			if typed.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(float64(typed.Value(i)))
		}
		return b.NewArray(), nil
	case *array.String, *array.Int64, *array.Float64, *array.Boolean:
		arr.Retain()
		return arr, nil
	default:
		return nil, errors.NewUnsupportedTypeError("ReadParquet", arr.DataType().String())
	}
}

// Write writes the DataFrame to Parquet format.
func (w *ParquetWriter) Write(df *dataframe.DataFrame) error {
	compression, err := codec(w.options.Compression)
	if err != nil {
		return err
	}

	batch := w.options.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	props := parquet.NewWriterProperties(
		parquet.WithCompression(compression),
		parquet.WithBatchSize(int64(batch)),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(pqarrow.WithAllocator(memory.NewGoAllocator()))

	rec := df.Record()
	defer rec.Release()

	writer, err := pqarrow.NewFileWriter(rec.Schema(), w.writer, props, arrowProps)
	if err != nil {
		return fmt.Errorf("creating parquet writer: %w", err)
	}
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return fmt.Errorf("writing record: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing parquet writer: %w", err)
	}
	return nil
}

func codec(name string) (compress.Compression, error) {
	switch name {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "lz4":
		return compress.Codecs.Lz4Raw, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "uncompressed":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, errors.NewInvalidInputError("WriteParquet",
			fmt.Sprintf("unknown compression %q", name))
	}
}
