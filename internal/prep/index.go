package prep

import (
	"context"
	"fmt"

	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
)

// IndexModel is a fitted, invertible label <-> code mapping for one column.
// Codes are dense, starting at 0.
type IndexModel struct {
	column string
	labels []string
	codes  map[string]int
}

// NewIndexModel builds a model where labels[i] has code i
func NewIndexModel(column string, labels []string) (*IndexModel, error) {
	codes := make(map[string]int, len(labels))
	for i, l := range labels {
		if _, dup := codes[l]; dup {
			return nil, errors.NewValidationError("Index", column, fmt.Sprintf("duplicate label %q", l))
		}
		codes[l] = i
	}
	return &IndexModel{
		column: column,
		labels: append([]string(nil), labels...),
		codes:  codes,
	}, nil
}

// Column returns the indexed column name
func (m *IndexModel) Column() string { return m.column }

// Len returns the number of labels
func (m *IndexModel) Len() int { return len(m.labels) }

// Labels returns the labels in code order
func (m *IndexModel) Labels() []string {
	return append([]string(nil), m.labels...)
}

// Encode returns the code of label
func (m *IndexModel) Encode(label string) (int, error) {
	code, ok := m.codes[label]
	if !ok {
		return 0, errors.NewUnseenLabelError(m.column, []string{label})
	}
	return code, nil
}

// Decode returns the label of code
func (m *IndexModel) Decode(code int) (string, error) {
	if code < 0 || code >= len(m.labels) {
		return "", errors.NewValidationError("Decode", m.column, fmt.Sprintf("code %d out of range [0, %d)", code, len(m.labels)))
	}
	return m.labels[code], nil
}

// Lookup returns the label -> code table used by lookup expressions
func (m *IndexModel) Lookup() map[string]int64 {
	table := make(map[string]int64, len(m.codes))
	for l, c := range m.codes {
		table[l] = int64(c)
	}
	return table
}

// Indexer fits an IndexModel: the most frequent label gets code 0, ties go
// to the smaller label. Nulls are not labels.
type Indexer struct {
	Column string
}

// Fit counts labels with a lazy group-by over lf and orders them by count
// descending, then label ascending
func (ix Indexer) Fit(ctx context.Context, lf *dataframe.LazyFrame) (*IndexModel, error) {
	counts, err := lf.Select(ix.Column).
		DropNulls(ix.Column).
		GroupByCount(ix.Column).
		SortBy([]string{dataframe.CountColumn, ix.Column}, []bool{false, true}).
		Collect(ctx)
	if err != nil {
		return nil, fmt.Errorf("indexing %s: %w", ix.Column, err)
	}

	keys, ok := counts.Column(ix.Column)
	if !ok {
		return nil, errors.NewInternalError("Index", fmt.Errorf("group-by dropped key column %s", ix.Column))
	}
	labels := make([]string, keys.Len())
	for i := range labels {
		labels[i] = keys.GetAsString(i)
	}
	return NewIndexModel(ix.Column, labels)
}
