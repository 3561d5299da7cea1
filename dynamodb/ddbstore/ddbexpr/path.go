package ddbexpr

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Env carries the ExpressionAttributeNames and ExpressionAttributeValues of a
// request.
type Env struct {
	Names  map[string]string
	Values map[string]types.AttributeValue
}

func (e Env) name(raw string) (string, error) {
	if !strings.HasPrefix(raw, "#") {
		return raw, nil
	}
	n, ok := e.Names[raw]
	if !ok {
		return "", fmt.Errorf("invalid expression: an expression attribute name used in the document path is not defined; attribute name: %s", raw)
	}
	return n, nil
}

func (e Env) value(ref string) (types.AttributeValue, error) {
	v, ok := e.Values[ref]
	if !ok {
		return nil, fmt.Errorf("invalid expression: an expression attribute value used in expression is not defined; attribute value: %s", ref)
	}
	return v, nil
}

type pathPart struct {
	name    string // raw token, may be a #placeholder
	index   int
	isIndex bool
}

// Path is a document path such as a.b[2].c.
type Path struct {
	parts []pathPart
}

func (p *parser) parsePath() (*Path, error) {
	t := p.next()
	if t.kind != tokIdent && t.kind != tokName {
		return nil, fmt.Errorf("syntax error: expected attribute path, got %s", t)
	}
	path := &Path{parts: []pathPart{{name: t.text}}}
	for {
		switch p.peek().kind {
		case tokDot:
			p.next()
			t := p.next()
			if t.kind != tokIdent && t.kind != tokName {
				return nil, fmt.Errorf("syntax error: expected attribute name, got %s", t)
			}
			path.parts = append(path.parts, pathPart{name: t.text})
		case tokLBracket:
			p.next()
			n, err := p.expect(tokNumber, "list index")
			if err != nil {
				return nil, err
			}
			idx, err := strconv.Atoi(n.text)
			if err != nil {
				return nil, fmt.Errorf("invalid list index %q", n.text)
			}
			if _, err := p.expect(tokRBracket, "]"); err != nil {
				return nil, err
			}
			path.parts = append(path.parts, pathPart{index: idx, isIndex: true})
		default:
			return path, nil
		}
	}
}

// resolved is a path with placeholders substituted.
type resolved []pathPart

func (p *Path) resolve(env Env) (resolved, error) {
	out := make(resolved, len(p.parts))
	for i, part := range p.parts {
		if part.isIndex {
			out[i] = part
			continue
		}
		n, err := env.name(part.name)
		if err != nil {
			return nil, err
		}
		out[i] = pathPart{name: n}
	}
	return out, nil
}

func (r resolved) String() string {
	var sb strings.Builder
	for i, part := range r {
		if part.isIndex {
			fmt.Fprintf(&sb, "[%d]", part.index)
			continue
		}
		if i > 0 {
			sb.WriteByte('.')
		}
		sb.WriteString(part.name)
	}
	return sb.String()
}

// Top returns the top level attribute name of the path.
func (r resolved) top() string { return r[0].name }

// overlaps reports whether one path is a prefix of the other.
func (r resolved) overlaps(o resolved) bool {
	n := min(len(r), len(o))
	for i := 0; i < n; i++ {
		if r[i] != o[i] {
			return false
		}
	}
	return true
}

// get returns the value at the path, or nil when any element is missing.
func (r resolved) get(doc map[string]types.AttributeValue) types.AttributeValue {
	var cur types.AttributeValue = &types.AttributeValueMemberM{Value: doc}
	for _, part := range r {
		switch v := cur.(type) {
		case *types.AttributeValueMemberM:
			if part.isIndex {
				return nil
			}
			next, ok := v.Value[part.name]
			if !ok {
				return nil
			}
			cur = next
		case *types.AttributeValueMemberL:
			if !part.isIndex || part.index >= len(v.Value) {
				return nil
			}
			cur = v.Value[part.index]
		default:
			return nil
		}
	}
	return cur
}

// set writes value at the path. Intermediate elements must exist, matching
// DynamoDB which refuses to create them.
func (r resolved) set(doc map[string]types.AttributeValue, value types.AttributeValue) error {
	parent, err := r.parent(doc)
	if err != nil {
		return err
	}
	last := r[len(r)-1]
	switch v := parent.(type) {
	case *types.AttributeValueMemberM:
		if last.isIndex {
			return fmt.Errorf("the document path provided in the update expression is invalid for update: %s", r)
		}
		v.Value[last.name] = value
	case *types.AttributeValueMemberL:
		if !last.isIndex {
			return fmt.Errorf("the document path provided in the update expression is invalid for update: %s", r)
		}
		if last.index >= len(v.Value) {
			v.Value = append(v.Value, value)
		} else {
			v.Value[last.index] = value
		}
	default:
		return fmt.Errorf("the document path provided in the update expression is invalid for update: %s", r)
	}
	return nil
}

func (r resolved) remove(doc map[string]types.AttributeValue) error {
	parent, err := r.parent(doc)
	if err != nil {
		// removing below a missing element is a no-op
		return nil
	}
	last := r[len(r)-1]
	switch v := parent.(type) {
	case *types.AttributeValueMemberM:
		if !last.isIndex {
			delete(v.Value, last.name)
		}
	case *types.AttributeValueMemberL:
		if last.isIndex && last.index < len(v.Value) {
			v.Value = append(v.Value[:last.index], v.Value[last.index+1:]...)
		}
	}
	return nil
}

func (r resolved) parent(doc map[string]types.AttributeValue) (types.AttributeValue, error) {
	if len(r) == 1 {
		return &types.AttributeValueMemberM{Value: doc}, nil
	}
	p := r[:len(r)-1].get(doc)
	if p == nil {
		return nil, fmt.Errorf("the document path provided in the update expression is invalid for update: %s", r)
	}
	return p, nil
}
