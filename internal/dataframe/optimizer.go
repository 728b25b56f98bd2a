package dataframe

import (
	"slices"

	"github.com/paveg/losreport/internal/config"
	"github.com/paveg/losreport/internal/expr"
)

// QueryOptimizer applies optimization rules to improve query performance
type QueryOptimizer struct {
	rules []OptimizationRule
}

// OptimizationRule represents a single optimization transformation. Rules
// never change the collected result.
type OptimizationRule interface {
	Apply(plan *ExecutionPlan) *ExecutionPlan
	Name() string
}

// ExecutionPlan represents a planned query execution
type ExecutionPlan struct {
	source     *DataFrame
	operations []LazyOperation
}

// Operations returns the planned operations in execution order
func (p *ExecutionPlan) Operations() []LazyOperation {
	return append([]LazyOperation(nil), p.operations...)
}

// NewQueryOptimizer creates an optimizer with the rules the engine config enables
func NewQueryOptimizer(engine config.EngineConfig) *QueryOptimizer {
	var rules []OptimizationRule
	if engine.PredicatePushdown {
		rules = append(rules, &PredicatePushdownRule{})
	}
	if engine.FilterFusion {
		rules = append(rules, &FilterFusionRule{})
	}
	return &QueryOptimizer{rules: rules}
}

// Rules returns the names of the active rules in application order
func (qo *QueryOptimizer) Rules() []string {
	names := make([]string, len(qo.rules))
	for i, r := range qo.rules {
		names[i] = r.Name()
	}
	return names
}

// Optimize applies all optimization rules to the execution plan
func (qo *QueryOptimizer) Optimize(plan *ExecutionPlan) *ExecutionPlan {
	optimized := plan
	for _, rule := range qo.rules {
		optimized = rule.Apply(optimized)
	}
	return optimized
}

// CreateExecutionPlan creates an execution plan over a copy of operations
func CreateExecutionPlan(source *DataFrame, operations []LazyOperation) *ExecutionPlan {
	return &ExecutionPlan{
		source:     source,
		operations: append([]LazyOperation(nil), operations...),
	}
}

// PredicatePushdownRule moves each filter ahead of earlier operations it does
// not depend on, so fewer rows flow through them
type PredicatePushdownRule struct{}

func (r *PredicatePushdownRule) Name() string {
	return "PredicatePushdown"
}

func (r *PredicatePushdownRule) Apply(plan *ExecutionPlan) *ExecutionPlan {
	if len(plan.operations) <= 1 {
		return plan
	}

	ops := slices.Clone(plan.operations)
	for i := range ops {
		filter, ok := ops[i].(*FilterOperation)
		if !ok {
			continue
		}
		deps := expr.Columns(filter.predicate)
		for j := i; j > 0 && r.canPushThrough(deps, ops[j-1]); j-- {
			ops[j], ops[j-1] = ops[j-1], ops[j]
		}
	}

	return &ExecutionPlan{source: plan.source, operations: ops}
}

// canPushThrough reports whether a filter reading deps gives the same rows
// when evaluated before op instead of after it
func (r *PredicatePushdownRule) canPushThrough(deps []string, op LazyOperation) bool {
	switch o := op.(type) {
	case *FilterOperation, *DropNullsOperation:
		return false // keep filter order stable; fusion handles adjacency
	case *WithColumnOperation:
		return !slices.Contains(deps, o.name)
	case *SelectOperation:
		for _, dep := range deps {
			if !slices.Contains(o.columns, dep) {
				return false
			}
		}
		return true
	case *DropOperation:
		for _, dep := range deps {
			if slices.Contains(o.columns, dep) {
				return false
			}
		}
		return true
	case *SortOperation:
		return true
	default:
		return false
	}
}

// FilterFusionRule combines consecutive filters into one AND predicate so
// the rows are scanned once
type FilterFusionRule struct{}

func (r *FilterFusionRule) Name() string {
	return "FilterFusion"
}

func (r *FilterFusionRule) Apply(plan *ExecutionPlan) *ExecutionPlan {
	if len(plan.operations) <= 1 {
		return plan
	}

	optimized := make([]LazyOperation, 0, len(plan.operations))
	var pending *FilterOperation

	flush := func() {
		if pending != nil {
			optimized = append(optimized, pending)
			pending = nil
		}
	}

	for _, op := range plan.operations {
		if f, ok := op.(*FilterOperation); ok {
			if pending == nil {
				pending = f
			} else {
				pending = &FilterOperation{predicate: expr.And(pending.predicate, f.predicate)}
			}
			continue
		}
		flush()
		optimized = append(optimized, op)
	}
	flush()

	return &ExecutionPlan{source: plan.source, operations: optimized}
}
