package ddbexpr

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Projection is a parsed ProjectionExpression.
type Projection struct {
	paths []*Path
}

// ParseProjection parses a comma separated list of document paths.
func ParseProjection(expr string) (*Projection, error) {
	p, err := newParser(expr)
	if err != nil {
		return nil, err
	}
	proj := &Projection{}
	for {
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		proj.paths = append(proj.paths, path)
		if p.peek().kind != tokComma {
			break
		}
		p.next()
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return proj, nil
}

// Attributes returns the top level attribute names referenced.
func (p *Projection) Attributes(env Env) ([]string, error) {
	var out []string
	seen := map[string]bool{}
	for _, path := range p.paths {
		r, err := path.resolve(env)
		if err != nil {
			return nil, err
		}
		if !seen[r.top()] {
			seen[r.top()] = true
			out = append(out, r.top())
		}
	}
	return out, nil
}

// Apply copies the projected paths of item into a new item. Paths missing
// from item are skipped.
func (p *Projection) Apply(item map[string]types.AttributeValue, env Env) (map[string]types.AttributeValue, error) {
	out := map[string]types.AttributeValue{}
	for _, path := range p.paths {
		r, err := path.resolve(env)
		if err != nil {
			return nil, err
		}
		v := r.get(item)
		if v == nil {
			continue
		}
		if err := project(out, r, copyAV(v)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// project writes v into dst at r, creating containers as needed. List
// elements are appended in projection order.
func project(dst map[string]types.AttributeValue, r resolved, v types.AttributeValue) error {
	if len(r) == 1 {
		dst[r[0].name] = v
		return nil
	}
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: dst}
	for i, part := range r[:len(r)-1] {
		nextIsIndex := r[i+1].isIndex
		var child types.AttributeValue
		switch c := cur.(type) {
		case *types.AttributeValueMemberM:
			child = c.Value[part.name]
			if child == nil {
				child = newContainer(nextIsIndex)
				c.Value[part.name] = child
			}
		case *types.AttributeValueMemberL:
			child = newContainer(nextIsIndex)
			c.Value = append(c.Value, child)
		default:
			return fmt.Errorf("invalid projection path: %s", r)
		}
		cur = child
	}
	last := r[len(r)-1]
	switch c := cur.(type) {
	case *types.AttributeValueMemberM:
		c.Value[last.name] = v
	case *types.AttributeValueMemberL:
		c.Value = append(c.Value, v)
	default:
		return fmt.Errorf("invalid projection path: %s", r)
	}
	return nil
}

func newContainer(list bool) types.AttributeValue {
	if list {
		return &types.AttributeValueMemberL{}
	}
	return &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{}}
}

// ProjectAll applies an optional projection expression to every item.
func ProjectAll(expr *string, env Env, items []map[string]types.AttributeValue) ([]map[string]types.AttributeValue, error) {
	if expr == nil || *expr == "" {
		return items, nil
	}
	p, err := ParseProjection(*expr)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]types.AttributeValue, len(items))
	for i, item := range items {
		if out[i], err = p.Apply(item, env); err != nil {
			return nil, err
		}
	}
	return out, nil
}
