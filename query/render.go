package query

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/acksell/flywheel/model"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// allowedOps lists the filters each store kind supports. Null and NotNull
// apply to every kind. The expression builder only renders contains and
// begins_with with string operands, so binary and number sets cannot be
// searched and binary fields have no prefix filter.
var allowedOps = map[ddbtype.Kind][]Op{
	ddbtype.KindN:    {OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpBetween},
	ddbtype.KindS:    {OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpBetween, OpBeginsWith},
	ddbtype.KindB:    {OpEq, OpNe, OpLt, OpLte, OpGt, OpGte, OpIn, OpBetween},
	ddbtype.KindSS:   {OpContains, OpNContains, OpIn},
	ddbtype.KindNS:   {OpIn},
	ddbtype.KindBS:   {OpIn},
	ddbtype.KindM:    {OpEq, OpNe},
	ddbtype.KindBOOL: {OpEq, OpNe},
	ddbtype.KindL:    {OpEq, OpNe, OpContains, OpNContains},
}

// avValue wraps an already serialized attribute value for the expression
// builder, which marshals values through attributevalue.
type avValue struct {
	av types.AttributeValue
}

func (v avValue) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return v.av, nil
}

func value(av types.AttributeValue) expression.ValueBuilder {
	return expression.Value(avValue{av})
}

func isOrderingKey(meta *model.Metadata, name string) bool {
	for _, o := range meta.Orderings() {
		if o.HashKey.Name == name || (o.RangeKey != nil && o.RangeKey.Name == name) {
			return true
		}
	}
	return false
}

// rewrite replaces leaves on composites that no ordering is keyed on. Their
// attribute is only useful through the sources, so an equality is split back
// into equalities on the sources.
func rewrite(meta *model.Metadata, c Constraint) (Constraint, error) {
	switch x := c.(type) {
	case *Group:
		members := make([]Constraint, len(x.Members))
		for i, m := range x.Members {
			r, err := rewrite(meta, m)
			if err != nil {
				return nil, err
			}
			members[i] = r
		}
		return &Group{Or: x.Or, Members: members}, nil
	case *Leaf:
		if model.IsPrivate(x.Field) {
			return nil, fmt.Errorf("%w: %s is never stored", ErrUnsupportedQuery, x.Field)
		}
		f, ok := meta.Field(x.Field)
		if !ok || !f.IsComposite() || isOrderingKey(meta, f.Name) {
			return x, nil
		}
		if x.Op != OpEq || !f.Invertible() || len(x.Values) != 1 {
			return nil, fmt.Errorf("%w: %s on composite %s, which is not an index key", ErrUnsupportedQuery, x.Op, f.Name)
		}
		parts, err := meta.Split(f, x.Values[0])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedQuery, err)
		}
		eqs := make([]Constraint, len(parts))
		for i, part := range parts {
			eqs[i] = Eq(f.Sources[i], part)
		}
		return rewrite(meta, And(eqs...))
	}
	return nil, fmt.Errorf("%w: unknown constraint %T", ErrUnsupportedQuery, c)
}

var knownOps = map[Op]bool{
	OpEq: true, OpNe: true, OpLt: true, OpLte: true, OpGt: true, OpGte: true, OpBeginsWith: true,
	OpContains: true, OpNContains: true, OpIn: true, OpBetween: true, OpNull: true, OpNotNull: true,
}

func arity(op Op) (lo, hi int) {
	switch op {
	case OpNull, OpNotNull:
		return 0, 0
	case OpBetween:
		return 2, 2
	case OpIn:
		return 1, 100
	}
	return 1, 1
}

// check validates operand counts and the operators allowed for each declared
// field.
func check(meta *model.Metadata, c Constraint) error {
	if g, ok := c.(*Group); ok {
		for _, m := range g.Members {
			if err := check(meta, m); err != nil {
				return err
			}
		}
		return nil
	}
	l := c.(*Leaf)
	if !knownOps[l.Op] {
		return fmt.Errorf("%w: unknown operator %q", ErrUnsupportedQuery, l.Op)
	}
	lo, hi := arity(l.Op)
	if len(l.Values) < lo || len(l.Values) > hi {
		return fmt.Errorf("%w: %s takes %d to %d values, got %d", ErrUnsupportedQuery, l.Op, lo, hi, len(l.Values))
	}
	for _, v := range l.Values {
		if v == nil {
			return fmt.Errorf("%w: nil value in %s; use Null or NotNull", ErrUnsupportedQuery, l)
		}
	}
	f, ok := meta.Field(l.Field)
	if !ok || l.Op == OpNull || l.Op == OpNotNull {
		return nil
	}
	kind := f.Type.Kind()
	for _, op := range allowedOps[kind] {
		if op == l.Op {
			return nil
		}
	}
	return fmt.Errorf("%w: %s on %s field %s", ErrUnsupportedQuery, l.Op, f.Type.Name(), f.Name)
}

// render turns a constraint into a filter condition. ok is false for empty
// groups.
func render(meta *model.Metadata, c Constraint) (cond expression.ConditionBuilder, ok bool, err error) {
	if l, isLeaf := c.(*Leaf); isLeaf {
		cond, err = renderLeaf(meta, l)
		return cond, err == nil, err
	}
	g := c.(*Group)
	var conds []expression.ConditionBuilder
	for _, m := range g.Members {
		mc, ok, err := render(meta, m)
		if err != nil {
			return cond, false, err
		}
		if ok {
			conds = append(conds, mc)
		}
	}
	switch len(conds) {
	case 0:
		return cond, false, nil
	case 1:
		return conds[0], true, nil
	}
	if g.Or {
		return expression.Or(conds[0], conds[1], conds[2:]...), true, nil
	}
	return expression.And(conds[0], conds[1], conds[2:]...), true, nil
}

func renderLeaf(meta *model.Metadata, l *Leaf) (expression.ConditionBuilder, error) {
	name := expression.Name(l.Field)
	switch l.Op {
	case OpNull:
		return expression.AttributeNotExists(name), nil
	case OpNotNull:
		return expression.AttributeExists(name), nil
	case OpBeginsWith:
		prefix, err := prefixOf(meta, l)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		return name.BeginsWith(prefix), nil
	case OpContains, OpNContains:
		substr, err := containsOperand(meta, l)
		if err != nil {
			return expression.ConditionBuilder{}, err
		}
		if l.Op == OpNContains {
			return expression.Not(name.Contains(substr)), nil
		}
		return name.Contains(substr), nil
	}

	vals, err := operands(meta, l)
	if err != nil {
		return expression.ConditionBuilder{}, err
	}
	switch l.Op {
	case OpEq:
		return name.Equal(vals[0]), nil
	case OpNe:
		return name.NotEqual(vals[0]), nil
	case OpLt:
		return name.LessThan(vals[0]), nil
	case OpLte:
		return name.LessThanEqual(vals[0]), nil
	case OpGt:
		return name.GreaterThan(vals[0]), nil
	case OpGte:
		return name.GreaterThanEqual(vals[0]), nil
	case OpBetween:
		return name.Between(vals[0], vals[1]), nil
	case OpIn:
		rest := make([]expression.OperandBuilder, len(vals)-1)
		for i, v := range vals[1:] {
			rest[i] = v
		}
		return name.In(vals[0], rest...), nil
	}
	return expression.ConditionBuilder{}, fmt.Errorf("%w: unknown operator %q", ErrUnsupportedQuery, l.Op)
}

// operands serializes the leaf values the way the field stores them.
func operands(meta *model.Metadata, l *Leaf) ([]expression.ValueBuilder, error) {
	out := make([]expression.ValueBuilder, len(l.Values))
	for i, v := range l.Values {
		av, err := meta.SerializeValue(l.Field, v, true)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnsupportedQuery, err)
		}
		if av == nil {
			return nil, fmt.Errorf("%w: %v serializes to nothing; use Null", ErrUnsupportedQuery, v)
		}
		out[i] = value(av)
	}
	return out, nil
}

// prefixOf returns the begins_with operand. The expression builder only takes
// string prefixes, so binary fields cannot be matched by prefix.
func prefixOf(meta *model.Metadata, l *Leaf) (string, error) {
	f, ok := meta.Field(l.Field)
	if !ok {
		s, isStr := l.Values[0].(string)
		if !isStr {
			return "", fmt.Errorf("%w: prefix %v is not a string", ErrUnsupportedQuery, l.Values[0])
		}
		// undeclared strings are stored as JSON
		data, _ := json.Marshal(s)
		return strings.TrimSuffix(string(data), `"`), nil
	}
	if f.Type.Kind() != ddbtype.KindS {
		return "", fmt.Errorf("%w: begins_with on %s field %s", ErrUnsupportedQuery, f.Type.Name(), f.Name)
	}
	av, err := meta.SerializeValue(l.Field, l.Values[0], true)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedQuery, err)
	}
	s, isStr := av.(*types.AttributeValueMemberS)
	if !isStr {
		return "", fmt.Errorf("%w: prefix %v is not a string", ErrUnsupportedQuery, l.Values[0])
	}
	return s.Value, nil
}

// containsOperand returns the contains operand. Like prefixes it must be a
// string: string sets and lists of strings can be searched.
func containsOperand(meta *model.Metadata, l *Leaf) (string, error) {
	v := l.Values[0]
	if f, ok := meta.Field(l.Field); ok {
		if set, isSet := f.Type.(interface{ Elem() ddbtype.Definition }); isSet {
			c, err := set.Elem().Coerce(v, true)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrUnsupportedQuery, err)
			}
			v = c
		}
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: contains takes a string operand, got %T", ErrUnsupportedQuery, v)
	}
	return s, nil
}
