package prep

import (
	"context"
	"fmt"
	"slices"

	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/dataframe"
	"github.com/paveg/losreport/internal/errors"
	"github.com/paveg/losreport/internal/expr"
)

// UnseenPolicy decides what happens to a label outside the collapse and
// pass-through sets
type UnseenPolicy int

const (
	// RejectUnseen fails with an UnseenLabelError
	RejectUnseen UnseenPolicy = iota
	// PassUnseen keeps the label unchanged
	PassUnseen
)

func (p UnseenPolicy) String() string {
	if p == PassUnseen {
		return config.UnseenPass
	}
	return config.UnseenReject
}

// ParseUnseenPolicy reads the policy names used in configuration
func ParseUnseenPolicy(name string) (UnseenPolicy, error) {
	switch name {
	case "", config.UnseenReject:
		return RejectUnseen, nil
	case config.UnseenPass:
		return PassUnseen, nil
	default:
		return RejectUnseen, errors.NewInvalidInputError("Collapse", fmt.Sprintf("unknown unseen policy %q", name))
	}
}

// Collapser merges the long-tail labels of one column into a single label
type Collapser struct {
	Column      string
	Collapse    []string
	Into        string
	PassThrough []string
	Unseen      UnseenPolicy
}

// NewCollapser builds a Collapser from configuration
func NewCollapser(cfg config.CollapseConfig) (*Collapser, error) {
	policy, err := ParseUnseenPolicy(cfg.Unseen)
	if err != nil {
		return nil, err
	}
	if cfg.Column == "" || cfg.Into == "" {
		return nil, errors.NewInvalidInputError("Collapse", "column and into must be set")
	}
	if slices.Contains(cfg.PassThrough, cfg.Into) {
		return nil, errors.NewValidationError("Collapse", cfg.Column,
			fmt.Sprintf("collapsed label %q is also a pass-through label", cfg.Into))
	}
	for _, l := range cfg.Labels {
		if slices.Contains(cfg.PassThrough, l) {
			return nil, errors.NewValidationError("Collapse", cfg.Column,
				fmt.Sprintf("label %q is both collapsed and passed through", l))
		}
	}
	return &Collapser{
		Column:      cfg.Column,
		Collapse:    cfg.Labels,
		Into:        cfg.Into,
		PassThrough: cfg.PassThrough,
		Unseen:      policy,
	}, nil
}

// Map returns the collapsed form of one label. Map(Map(x)) == Map(x).
func (c *Collapser) Map(label string) (string, error) {
	switch {
	case label == c.Into, slices.Contains(c.Collapse, label):
		return c.Into, nil
	case slices.Contains(c.PassThrough, label), c.Unseen == PassUnseen:
		return label, nil
	default:
		return "", errors.NewUnseenLabelError(c.Column, []string{label})
	}
}

// Known returns every label Map accepts under RejectUnseen
func (c *Collapser) Known() []string {
	known := make([]string, 0, len(c.Collapse)+len(c.PassThrough)+1)
	known = append(known, c.PassThrough...)
	known = append(known, c.Collapse...)
	return append(known, c.Into)
}

// Apply appends the label rewrite to lf. Under RejectUnseen it first runs a
// probe query and fails with every label outside the known domain.
func (c *Collapser) Apply(ctx context.Context, lf *dataframe.LazyFrame) (*dataframe.LazyFrame, error) {
	col := expr.Col(c.Column)

	if c.Unseen == RejectUnseen {
		unseen, err := lf.
			Filter(col.IsInStrings(c.Known()).Not()).
			GroupByCount(c.Column).
			Collect(ctx)
		if err != nil {
			return nil, fmt.Errorf("probing %s labels: %w", c.Column, err)
		}
		if unseen.Len() > 0 {
			labels, _ := unseen.Column(c.Column)
			found := make([]string, labels.Len())
			for i := range found {
				found[i] = labels.GetAsString(i)
			}
			return nil, errors.NewUnseenLabelError(c.Column, found)
		}
	}

	rewrite := expr.When(col.IsInStrings(c.Collapse), expr.Lit(c.Into)).Otherwise(col)
	return lf.WithColumn(c.Column, rewrite), nil
}
