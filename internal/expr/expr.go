// Package expr provides expression evaluation for DataFrame operations
package expr

import (
	"fmt"
	"sort"
	"strings"
)

// ExprType represents the type of expression
type ExprType int

const (
	ExprColumn ExprType = iota
	ExprLiteral
	ExprBinary
	ExprUnary
	ExprIn
	ExprNullCheck
	ExprCase
	ExprLookup
)

// Expr represents an expression that can be evaluated lazily
type Expr interface {
	Type() ExprType
	String() string
}

// ColumnExpr represents a column reference
type ColumnExpr struct {
	name string
}

func (c *ColumnExpr) Type() ExprType {
	return ExprColumn
}

func (c *ColumnExpr) String() string {
	return fmt.Sprintf("col(%s)", c.name)
}

func (c *ColumnExpr) Name() string {
	return c.name
}

// LiteralExpr represents a literal value
type LiteralExpr struct {
	value interface{}
}

func (l *LiteralExpr) Type() ExprType {
	return ExprLiteral
}

func (l *LiteralExpr) String() string {
	if s, ok := l.value.(string); ok {
		return fmt.Sprintf("lit(%q)", s)
	}
	return fmt.Sprintf("lit(%v)", l.value)
}

func (l *LiteralExpr) Value() interface{} {
	return l.value
}

// BinaryOp represents binary operations
type BinaryOp int

const (
	OpAnd BinaryOp = iota
)

var binaryOpSymbols = map[BinaryOp]string{
	OpAnd: "&&",
}

// BinaryExpr represents a binary operation
type BinaryExpr struct {
	left  Expr
	op    BinaryOp
	right Expr
}

func (b *BinaryExpr) Type() ExprType {
	return ExprBinary
}

func (b *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", b.left.String(), binaryOpSymbols[b.op], b.right.String())
}

func (b *BinaryExpr) Left() Expr {
	return b.left
}

func (b *BinaryExpr) Op() BinaryOp {
	return b.op
}

func (b *BinaryExpr) Right() Expr {
	return b.right
}

// And creates a logical AND expression
func (b *BinaryExpr) And(other Expr) *BinaryExpr {
	return And(b, other)
}

// UnaryExpr represents a logical negation
type UnaryExpr struct {
	operand Expr
}

func (u *UnaryExpr) Type() ExprType {
	return ExprUnary
}

func (u *UnaryExpr) String() string {
	return fmt.Sprintf("(!%s)", u.operand.String())
}

func (u *UnaryExpr) Operand() Expr {
	return u.operand
}

// InExpr tests membership of the operand in a fixed value set
type InExpr struct {
	operand Expr
	values  []interface{}
}

func (i *InExpr) Type() ExprType {
	return ExprIn
}

func (i *InExpr) String() string {
	parts := make([]string, len(i.values))
	for k, v := range i.values {
		parts[k] = Lit(v).String()
	}
	return fmt.Sprintf("%s.is_in([%s])", i.operand.String(), strings.Join(parts, ", "))
}

func (i *InExpr) Operand() Expr {
	return i.operand
}

func (i *InExpr) Values() []interface{} {
	return i.values
}

// Not negates the membership test
func (i *InExpr) Not() *UnaryExpr {
	return Not(i)
}

// And creates a logical AND expression
func (i *InExpr) And(other Expr) *BinaryExpr {
	return And(i, other)
}

// NullCheckExpr reports whether the operand is not null
type NullCheckExpr struct {
	operand Expr
}

func (n *NullCheckExpr) Type() ExprType {
	return ExprNullCheck
}

func (n *NullCheckExpr) String() string {
	return fmt.Sprintf("%s.is_not_null()", n.operand.String())
}

func (n *NullCheckExpr) Operand() Expr {
	return n.operand
}

// And creates a logical AND expression
func (n *NullCheckExpr) And(other Expr) *BinaryExpr {
	return And(n, other)
}

// CaseWhen represents a condition and value pair in CASE expression
type CaseWhen struct {
	condition Expr
	value     Expr
}

func (w CaseWhen) Condition() Expr {
	return w.condition
}

func (w CaseWhen) Value() Expr {
	return w.value
}

// CaseExpr represents a CASE expression with multiple WHEN clauses
type CaseExpr struct {
	whens     []CaseWhen
	elseValue Expr
}

func (c *CaseExpr) Type() ExprType {
	return ExprCase
}

func (c *CaseExpr) String() string {
	var sb strings.Builder
	sb.WriteString("case")
	for _, when := range c.whens {
		fmt.Fprintf(&sb, " when %s then %s", when.condition.String(), when.value.String())
	}
	if c.elseValue != nil {
		fmt.Fprintf(&sb, " else %s", c.elseValue.String())
	}
	sb.WriteString(" end")
	return sb.String()
}

func (c *CaseExpr) Whens() []CaseWhen {
	return c.whens
}

func (c *CaseExpr) ElseValue() Expr {
	return c.elseValue
}

// When adds a condition-value pair to the case expression
func (c *CaseExpr) When(condition, value Expr) *CaseExpr {
	newWhens := make([]CaseWhen, len(c.whens)+1)
	copy(newWhens, c.whens)
	newWhens[len(c.whens)] = CaseWhen{condition: condition, value: value}

	return &CaseExpr{
		whens:     newWhens,
		elseValue: c.elseValue,
	}
}

// Otherwise sets the value used when no condition matches
func (c *CaseExpr) Otherwise(value Expr) *CaseExpr {
	return &CaseExpr{
		whens:     c.whens,
		elseValue: value,
	}
}

// LookupExpr maps string labels to integer codes through a fixed table.
// A label missing from the table is an evaluation error.
type LookupExpr struct {
	operand Expr
	table   map[string]int64
}

func (l *LookupExpr) Type() ExprType {
	return ExprLookup
}

func (l *LookupExpr) String() string {
	return fmt.Sprintf("%s.lookup(%d labels)", l.operand.String(), len(l.table))
}

func (l *LookupExpr) Operand() Expr {
	return l.operand
}

func (l *LookupExpr) Table() map[string]int64 {
	return l.table
}

// Constructor functions

// Col creates a column expression
func Col(name string) *ColumnExpr {
	return &ColumnExpr{name: name}
}

// Lit creates a literal expression
func Lit(value interface{}) *LiteralExpr {
	return &LiteralExpr{value: value}
}

// And creates a logical AND of two expressions
func And(left, right Expr) *BinaryExpr {
	return &BinaryExpr{left: left, op: OpAnd, right: right}
}

// Not creates a logical negation
func Not(operand Expr) *UnaryExpr {
	return &UnaryExpr{operand: operand}
}

// When starts a case expression
func When(condition, value Expr) *CaseExpr {
	return (&CaseExpr{}).When(condition, value)
}

// IsIn creates a membership test against a fixed set of values
func (c *ColumnExpr) IsIn(values ...interface{}) *InExpr {
	return &InExpr{operand: c, values: values}
}

// IsInStrings is IsIn for a string slice
func (c *ColumnExpr) IsInStrings(values []string) *InExpr {
	vs := make([]interface{}, len(values))
	for i, v := range values {
		vs[i] = v
	}
	return c.IsIn(vs...)
}

// IsNotNull creates a null check that holds for present values
func (c *ColumnExpr) IsNotNull() *NullCheckExpr {
	return &NullCheckExpr{operand: c}
}

// Lookup maps the column's string values to codes through table
func (c *ColumnExpr) Lookup(table map[string]int64) *LookupExpr {
	return &LookupExpr{operand: c, table: table}
}

// Columns returns the sorted, de-duplicated column names an expression reads
func Columns(e Expr) []string {
	seen := make(map[string]struct{})
	collectColumns(e, seen)
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func collectColumns(e Expr, seen map[string]struct{}) {
	switch ex := e.(type) {
	case *ColumnExpr:
		seen[ex.name] = struct{}{}
	case *BinaryExpr:
		collectColumns(ex.left, seen)
		collectColumns(ex.right, seen)
	case *UnaryExpr:
		collectColumns(ex.operand, seen)
	case *InExpr:
		collectColumns(ex.operand, seen)
	case *NullCheckExpr:
		collectColumns(ex.operand, seen)
	case *LookupExpr:
		collectColumns(ex.operand, seen)
	case *CaseExpr:
		for _, w := range ex.whens {
			collectColumns(w.condition, seen)
			collectColumns(w.value, seen)
		}
		if ex.elseValue != nil {
			collectColumns(ex.elseValue, seen)
		}
	}
}
