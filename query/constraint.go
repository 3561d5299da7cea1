// Package query turns a tree of constraints over model fields into DynamoDB
// query and scan requests.
//
// Constraints are built with Eq, Lt, BeginsWith and the other leaf functions
// and combined with And and Or. PlanQuery picks the table or index able to
// serve the constraints and splits them into a key condition and a filter.
package query

import (
	"fmt"
	"strings"
)

// Op is a comparison operator.
type Op string

const (
	OpEq         Op = "eq"
	OpNe         Op = "ne"
	OpLt         Op = "lt"
	OpLte        Op = "lte"
	OpGt         Op = "gt"
	OpGte        Op = "gte"
	OpBeginsWith Op = "beginswith"
	OpContains   Op = "contains"
	OpNContains  Op = "ncontains"
	OpIn         Op = "in"
	OpBetween    Op = "between"
	OpNull       Op = "null"
	OpNotNull    Op = "notnull"
)

// rangeOps can be part of a key condition on a range key.
var rangeOps = map[Op]bool{
	OpEq: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true, OpBetween: true, OpBeginsWith: true,
}

// Constraint is a node of a constraint tree: a *Leaf or a *Group.
type Constraint interface {
	fmt.Stringer
	constraint()
}

// Leaf compares one field with literal values.
type Leaf struct {
	Field  string
	Op     Op
	Values []any
}

// Group combines constraints. The members of an And group must all hold, of
// an Or group at least one.
type Group struct {
	Or      bool
	Members []Constraint
}

func (*Leaf) constraint()  {}
func (*Group) constraint() {}

func (l *Leaf) String() string {
	return fmt.Sprintf("%s %s %v", l.Field, l.Op, l.Values)
}

func (g *Group) String() string {
	parts := make([]string, len(g.Members))
	for i, m := range g.Members {
		parts[i] = m.String()
	}
	sep := " AND "
	if g.Or {
		sep = " OR "
	}
	return "(" + strings.Join(parts, sep) + ")"
}

func leaf(field string, op Op, values ...any) Constraint {
	return &Leaf{Field: field, Op: op, Values: values}
}

func Eq(field string, v any) Constraint  { return leaf(field, OpEq, v) }
func Ne(field string, v any) Constraint  { return leaf(field, OpNe, v) }
func Lt(field string, v any) Constraint  { return leaf(field, OpLt, v) }
func Lte(field string, v any) Constraint { return leaf(field, OpLte, v) }
func Gt(field string, v any) Constraint  { return leaf(field, OpGt, v) }
func Gte(field string, v any) Constraint { return leaf(field, OpGte, v) }

func BeginsWith(field string, prefix any) Constraint { return leaf(field, OpBeginsWith, prefix) }

// Contains matches sets holding v and lists or strings containing it.
func Contains(field string, v any) Constraint  { return leaf(field, OpContains, v) }
func NContains(field string, v any) Constraint { return leaf(field, OpNContains, v) }

// In matches a value equal to one of values.
func In(field string, values ...any) Constraint { return leaf(field, OpIn, values...) }

// Between matches lo <= value <= hi.
func Between(field string, lo, hi any) Constraint { return leaf(field, OpBetween, lo, hi) }

// Null matches items without the attribute.
func Null(field string) Constraint    { return leaf(field, OpNull) }
func NotNull(field string) Constraint { return leaf(field, OpNotNull) }

func And(cs ...Constraint) Constraint { return &Group{Members: cs} }
func Or(cs ...Constraint) Constraint  { return &Group{Or: true, Members: cs} }
