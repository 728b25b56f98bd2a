package source

import (
	"context"
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paveg/losreport/internal/common"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
)

const maxConns = 4

func connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection: %w", err)
	}
	poolConfig.MaxConns = maxConns

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}

// readTable selects every row of table. Column types follow the first
// non-null value; a column mixing kinds is read as text.
func readTable(ctx context.Context, pool *pgxpool.Pool, table string, required []string, mem memory.Allocator) (*dataframe.DataFrame, error) {
	query := "SELECT * FROM " + pgx.Identifier(strings.Split(table, ".")).Sanitize()
	rows, err := pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", table, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = f.Name
	}
	if missing := missingColumns(names, required); len(missing) > 0 {
		return nil, errors.NewSchemaMismatchError("ReadPostgres", missing)
	}

	cells := make([][]interface{}, len(fields))
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		for i, v := range values {
			n, err := normalizeCell(v)
			if err != nil {
				return nil, fmt.Errorf("column %s: %w", names[i], err)
			}
			cells[i] = append(cells[i], n)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read rows: %w", err)
	}

	arrays := make([]arrow.Array, len(fields))
	defer func() {
		for _, arr := range arrays {
			if arr != nil {
				arr.Release()
			}
		}
	}()
	for i := range fields {
		arrays[i] = buildColumn(cells[i], mem)
	}
	return dataframe.FromArrays(names, arrays)
}

// normalizeCell maps a pgx value onto string, int64, float64, bool or nil
func normalizeCell(v interface{}) (interface{}, error) {
	switch typed := v.(type) {
	case pgtype.Numeric:
		if !typed.Valid {
			return nil, nil
		}
		f, err := typed.Float64Value()
		if err != nil {
			return nil, err
		}
		return f.Float64, nil
	case []byte:
		return string(typed), nil
	}
	n, ok, err := common.Normalize(v)
	if err != nil {
		return common.ToString(v), nil
	}
	if !ok {
		return nil, nil
	}
	return n, nil
}

func buildColumn(values []interface{}, mem memory.Allocator) arrow.Array {
	var kind interface{}
	mixed := false
	for _, v := range values {
		if v == nil {
			continue
		}
		switch {
		case kind == nil:
			kind = v
		case fmt.Sprintf("%T", kind) != fmt.Sprintf("%T", v):
			mixed = true
		}
	}

	switch kind.(type) {
	case int64:
		if !mixed {
			b := array.NewInt64Builder(mem)
			defer b.Release()
			for _, v := range values {
				if v == nil {
					b.AppendNull()
					continue
				}
				b.Append(v.(int64))
			}
			return b.NewArray()
		}
	case float64:
		if !mixed {
			b := array.NewFloat64Builder(mem)
			defer b.Release()
			for _, v := range values {
				if v == nil {
					b.AppendNull()
					continue
				}
				b.Append(v.(float64))
			}
			return b.NewArray()
		}
	case bool:
		if !mixed {
			b := array.NewBooleanBuilder(mem)
			defer b.Release()
			for _, v := range values {
				if v == nil {
					b.AppendNull()
					continue
				}
				b.Append(v.(bool))
			}
			return b.NewArray()
		}
	}

	b := array.NewStringBuilder(mem)
	defer b.Release()
	for _, v := range values {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(common.ToString(v))
	}
	return b.NewArray()
}

func missingColumns(present, required []string) []string {
	have := make(map[string]bool, len(present))
	for _, p := range present {
		have[p] = true
	}
	var missing []string
	for _, r := range required {
		if !have[r] {
			missing = append(missing, r)
		}
	}
	return missing
}
