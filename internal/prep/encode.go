package prep

import (
	"context"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/expr"
)

const (
	// LabelColumn holds the encoded target
	LabelColumn = "label"
	// IndexSuffix is appended to an encoded categorical column name
	IndexSuffix = "_idx"
)

// Encoder decides which columns become model features. Categorical columns
// are label encoded into <name>_idx; numeric columns pass through; the
// identifier and leakage columns are dropped.
type Encoder struct {
	Categorical []string
	Target      string
	Identifiers []string
	Leakage     []string
	// Allowlist keeps only the named features. An entry may name the feature
	// ("Age_idx") or its source column ("Age"). Empty keeps everything.
	Allowlist []string
}

// NewEncoder builds an Encoder from the schema configuration
func NewEncoder(schema config.SchemaConfig) Encoder {
	return Encoder{
		Categorical: schema.Categorical,
		Target:      schema.Target,
		Identifiers: schema.Identifiers,
		Leakage:     schema.Leakage,
		Allowlist:   schema.Allowlist,
	}
}

// Encoding is a fitted Encoder
type Encoding struct {
	target   *IndexModel
	models   map[string]*IndexModel
	features []string
	sources  map[string]string
}

// Fit indexes the target and every categorical feature of df
func (e Encoder) Fit(ctx context.Context, df *dataframe.DataFrame) (*Encoding, error) {
	required := append([]string{e.Target}, e.Categorical...)
	if missing := df.MissingColumns(required...); len(missing) > 0 {
		return nil, errors.NewSchemaMismatchError("Encode", missing)
	}

	excluded := make(map[string]bool)
	for _, c := range append(append([]string{e.Target}, e.Identifiers...), e.Leakage...) {
		excluded[c] = true
	}

	enc := &Encoding{
		models:  make(map[string]*IndexModel),
		sources: make(map[string]string),
	}
	for _, name := range df.Columns() {
		if excluded[name] {
			continue
		}
		feature := name
		if slices.Contains(e.Categorical, name) {
			feature = name + IndexSuffix
		} else {
			col, _ := df.Column(name)
			if !isNumeric(col.DataType()) {
				return nil, errors.NewValidationError("Encode", name,
					fmt.Sprintf("%s column is neither categorical nor excluded", col.DataType()))
			}
		}
		if len(e.Allowlist) > 0 && !slices.Contains(e.Allowlist, feature) && !slices.Contains(e.Allowlist, name) {
			continue
		}
		enc.features = append(enc.features, feature)
		enc.sources[feature] = name
	}
	if len(enc.features) == 0 {
		return nil, errors.NewInvalidInputError("Encode", "no features left after exclusions and allowlist")
	}

	lf := df.Lazy()
	target, err := Indexer{Column: e.Target}.Fit(ctx, lf)
	if err != nil {
		return nil, err
	}
	if target.Len() == 0 {
		return nil, errors.NewValidationError("Encode", e.Target, "target has no labels")
	}
	enc.target = target

	for _, feature := range enc.features {
		source := enc.sources[feature]
		if source == feature {
			continue
		}
		model, err := Indexer{Column: source}.Fit(ctx, lf)
		if err != nil {
			return nil, err
		}
		enc.models[source] = model
	}
	return enc, nil
}

func isNumeric(t arrow.DataType) bool {
	return arrow.TypeEqual(t, arrow.PrimitiveTypes.Int64) || arrow.TypeEqual(t, arrow.PrimitiveTypes.Float64)
}

// Transform appends the encoding to lf and keeps only the features and the
// label column
func (enc *Encoding) Transform(lf *dataframe.LazyFrame) *dataframe.LazyFrame {
	for _, feature := range enc.features {
		source := enc.sources[feature]
		if model, ok := enc.models[source]; ok {
			lf = lf.WithColumn(feature, expr.Col(source).Lookup(model.Lookup()))
		}
	}
	lf = lf.WithColumn(LabelColumn, expr.Col(enc.target.Column()).Lookup(enc.target.Lookup()))
	return lf.Select(append(enc.Features(), LabelColumn)...)
}

// Features returns the model input columns in order
func (enc *Encoding) Features() []string {
	return append([]string(nil), enc.features...)
}

// Target returns the target label model
func (enc *Encoding) Target() *IndexModel {
	return enc.target
}
