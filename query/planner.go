package query

import (
	"errors"
	"fmt"
	"slices"

	"github.com/acksell/flywheel/model"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrAmbiguousQuery is returned when no ordering, or more than one, can
	// serve the constraints.
	ErrAmbiguousQuery = errors.New("query: ambiguous query")
	// ErrIndexMismatch is returned when a requested index is unknown or its
	// hash key is not constrained by equality.
	ErrIndexMismatch    = errors.New("query: index mismatch")
	ErrUnsupportedQuery = errors.New("query: unsupported query")
)

// Plan is a planned query or scan.
type Plan struct {
	Table string
	// Ordering is the table or index read. It is the zero value for scans.
	Ordering model.Ordering
	Scan     bool

	key    *expression.KeyConditionBuilder
	filter *expression.ConditionBuilder
}

// Index returns the index name, empty for the table.
func (p *Plan) Index() string { return p.Ordering.Index }

// Filtered reports whether items are filtered after they are read.
func (p *Plan) Filtered() bool { return p.filter != nil }

// Expression renders the key condition and the filter.
func (p *Plan) Expression() (expression.Expression, error) {
	if p.key == nil && p.filter == nil {
		return expression.Expression{}, nil
	}
	b := expression.NewBuilder()
	if p.key != nil {
		b = b.WithKeyCondition(*p.key)
	}
	if p.filter != nil {
		b = b.WithFilter(*p.filter)
	}
	return b.Build()
}

// QueryInput renders the plan as a Query request. Paging, limits and
// direction are left to the caller.
func (p *Plan) QueryInput() (*dynamodb.QueryInput, error) {
	if p.Scan {
		return nil, fmt.Errorf("%w: plan is a scan", ErrUnsupportedQuery)
	}
	expr, err := p.Expression()
	if err != nil {
		return nil, err
	}
	in := &dynamodb.QueryInput{
		TableName:                 &p.Table,
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}
	if p.Ordering.Index != "" {
		in.IndexName = &p.Ordering.Index
	}
	return in, nil
}

// ScanInput renders the plan as a Scan request over the table.
func (p *Plan) ScanInput() (*dynamodb.ScanInput, error) {
	expr, err := p.Expression()
	if err != nil {
		return nil, err
	}
	return &dynamodb.ScanInput{
		TableName:                 &p.Table,
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	}, nil
}

// PlanScan renders every constraint as a filter over the whole table. c may
// be nil.
func PlanScan(meta *model.Metadata, c Constraint) (*Plan, error) {
	p := &Plan{Table: meta.TableName(), Scan: true}
	if c == nil {
		return p, nil
	}
	c, err := rewrite(meta, c)
	if err != nil {
		return nil, err
	}
	if err := check(meta, c); err != nil {
		return nil, err
	}
	cond, ok, err := render(meta, c)
	if err != nil {
		return nil, err
	}
	if ok {
		p.filter = &cond
	}
	return p, nil
}

// planner holds the top level conjunction of a query.
type planner struct {
	meta   *model.Metadata
	leaves []*Leaf
	groups []Constraint
	used   []bool
	// eqs maps a field to the first top level eq leaf on it.
	eqs map[string]int
}

// PlanQuery picks the ordering able to serve c and splits c into a key
// condition and a filter. A non-empty index forces that ordering.
//
// Only equality leaves of the top level conjunction can select the hash key,
// and without a requested index they must all point at the same hash key.
// Orderings whose range key is constrained as well are preferred. Among the
// candidates the table wins; otherwise exactly one index must remain.
func PlanQuery(meta *model.Metadata, c Constraint, index string) (*Plan, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: no constraints", ErrAmbiguousQuery)
	}
	c, err := rewrite(meta, c)
	if err != nil {
		return nil, err
	}
	if err := check(meta, c); err != nil {
		return nil, err
	}
	pl := &planner{meta: meta, eqs: map[string]int{}}
	pl.flatten(c)
	pl.used = make([]bool, len(pl.leaves))
	for i, l := range pl.leaves {
		if _, seen := pl.eqs[l.Field]; !seen && l.Op == OpEq {
			pl.eqs[l.Field] = i
		}
	}

	o, err := pl.choose(index)
	if err != nil {
		return nil, err
	}
	key, err := pl.keyCondition(o)
	if err != nil {
		return nil, err
	}
	p := &Plan{Table: meta.TableName(), Ordering: o, key: &key}
	filter, ok, err := pl.filter()
	if err != nil {
		return nil, err
	}
	if ok {
		p.filter = &filter
	}
	return p, nil
}

func (pl *planner) flatten(c Constraint) {
	switch x := c.(type) {
	case *Leaf:
		pl.leaves = append(pl.leaves, x)
	case *Group:
		if x.Or && len(x.Members) > 1 {
			pl.groups = append(pl.groups, x)
			return
		}
		for _, m := range x.Members {
			pl.flatten(m)
		}
	}
}

// resolvable reports whether name has a known value, either from an eq leaf
// or by merging eq values of all the sources of a composite.
func (pl *planner) resolvable(name string) bool {
	if _, ok := pl.eqs[name]; ok {
		return true
	}
	f, ok := pl.meta.Field(name)
	if !ok || !f.IsComposite() {
		return false
	}
	for _, src := range f.Sources {
		if !pl.resolvable(src) {
			return false
		}
	}
	return true
}

// rangeLeaf returns the first top level leaf usable in a key condition on
// name, or -1.
func (pl *planner) rangeLeaf(name string) int {
	for i, l := range pl.leaves {
		if l.Field == name && rangeOps[l.Op] {
			return i
		}
	}
	return -1
}

func (pl *planner) rangeConstrained(o model.Ordering) bool {
	if o.RangeKey == nil {
		return false
	}
	return pl.resolvable(o.RangeKey.Name) || pl.rangeLeaf(o.RangeKey.Name) >= 0
}

func (pl *planner) choose(index string) (model.Ordering, error) {
	orderings := pl.meta.Orderings()
	if index != "" {
		for _, o := range orderings {
			if o.Index != index {
				continue
			}
			if !pl.resolvable(o.HashKey.Name) {
				return model.Ordering{}, fmt.Errorf("%w: index %s needs an equality constraint on %s", ErrIndexMismatch, index, o.HashKey.Name)
			}
			return o, nil
		}
		return model.Ordering{}, fmt.Errorf("%w: %s has no index %s", ErrIndexMismatch, pl.meta.Name(), index)
	}

	var candidates, preferred []model.Ordering
	for _, o := range orderings {
		if !pl.resolvable(o.HashKey.Name) {
			continue
		}
		candidates = append(candidates, o)
		if pl.rangeConstrained(o) {
			preferred = append(preferred, o)
		}
	}
	if len(candidates) == 0 {
		return model.Ordering{}, fmt.Errorf("%w: no equality constraint on a hash key of %s", ErrAmbiguousQuery, pl.meta.Name())
	}
	hashes := map[string]bool{}
	for _, o := range candidates {
		hashes[o.HashKey.Name] = true
	}
	if len(hashes) > 1 {
		return model.Ordering{}, fmt.Errorf("%w: constraints match the hash keys %v", ErrAmbiguousQuery, sortedKeys(hashes))
	}
	pool := candidates
	if len(preferred) > 0 {
		pool = preferred
	}
	if pool[0].Index == "" {
		return pool[0], nil
	}
	if len(pool) > 1 {
		names := make([]string, len(pool))
		for i, o := range pool {
			names[i] = o.Index
		}
		return model.Ordering{}, fmt.Errorf("%w: constraints match the indexes %v", ErrAmbiguousQuery, names)
	}
	return pool[0], nil
}

// value resolves the eq value of name as an attribute value, consuming the
// leaves it is built from.
func (pl *planner) value(name string) (types.AttributeValue, error) {
	if i, ok := pl.eqs[name]; ok {
		pl.used[i] = true
		return pl.meta.SerializeValue(name, pl.leaves[i].Values[0], true)
	}
	v, err := pl.merged(name)
	if err != nil {
		return nil, err
	}
	return pl.meta.SerializeValue(name, v, true)
}

// merged computes a composite from the eq values of its sources. Source
// leaves are consumed only when the merge is the invertible join, since only
// then does equality on the composite imply equality on the sources.
func (pl *planner) merged(name string) (any, error) {
	f, _ := pl.meta.Field(name)
	values := make([]any, len(f.Sources))
	for i, src := range f.Sources {
		var v any
		if j, ok := pl.eqs[src]; ok {
			sf, _ := pl.meta.Field(src)
			c, err := sf.Type.Coerce(pl.leaves[j].Values[0], true)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", src, err)
			}
			v = c
			if f.Invertible() {
				pl.used[j] = true
			}
		} else {
			m, err := pl.merged(src)
			if err != nil {
				return nil, err
			}
			v = m
		}
		values[i] = v
	}
	v := f.Merge(values)
	if v == nil {
		return nil, fmt.Errorf("%w: composite %s merges to nothing", ErrUnsupportedQuery, name)
	}
	return v, nil
}

func (pl *planner) keyCondition(o model.Ordering) (expression.KeyConditionBuilder, error) {
	hv, err := pl.value(o.HashKey.Name)
	if err != nil {
		return expression.KeyConditionBuilder{}, err
	}
	key := expression.Key(o.HashKey.Name).Equal(value(hv))
	if o.RangeKey == nil {
		return key, nil
	}
	name := o.RangeKey.Name
	if pl.resolvable(name) {
		rv, err := pl.value(name)
		if err != nil {
			return expression.KeyConditionBuilder{}, err
		}
		return key.And(expression.Key(name).Equal(value(rv))), nil
	}
	i := pl.rangeLeaf(name)
	if i < 0 {
		return key, nil
	}
	pl.used[i] = true
	rk, err := rangeCondition(pl.meta, pl.leaves[i])
	if err != nil {
		return expression.KeyConditionBuilder{}, err
	}
	return key.And(rk), nil
}

func rangeCondition(meta *model.Metadata, l *Leaf) (expression.KeyConditionBuilder, error) {
	k := expression.Key(l.Field)
	if l.Op == OpBeginsWith {
		prefix, err := prefixOf(meta, l)
		if err != nil {
			return expression.KeyConditionBuilder{}, err
		}
		return k.BeginsWith(prefix), nil
	}
	vals, err := operands(meta, l)
	if err != nil {
		return expression.KeyConditionBuilder{}, err
	}
	switch l.Op {
	case OpEq:
		return k.Equal(vals[0]), nil
	case OpLt:
		return k.LessThan(vals[0]), nil
	case OpLte:
		return k.LessThanEqual(vals[0]), nil
	case OpGt:
		return k.GreaterThan(vals[0]), nil
	case OpGte:
		return k.GreaterThanEqual(vals[0]), nil
	case OpBetween:
		return k.Between(vals[0], vals[1]), nil
	}
	return expression.KeyConditionBuilder{}, fmt.Errorf("%w: %s in a key condition", ErrUnsupportedQuery, l.Op)
}

func (pl *planner) filter() (expression.ConditionBuilder, bool, error) {
	var rest []Constraint
	for i, l := range pl.leaves {
		if !pl.used[i] {
			rest = append(rest, l)
		}
	}
	rest = append(rest, pl.groups...)
	switch len(rest) {
	case 0:
		return expression.ConditionBuilder{}, false, nil
	case 1:
		return render(pl.meta, rest[0])
	}
	return render(pl.meta, And(rest...))
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
