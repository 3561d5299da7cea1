package ddbexpr

import (
	"fmt"
	"math/big"
	"slices"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Update is a parsed UpdateExpression.
type Update struct {
	sets    []setAction
	removes []*Path
	adds    []pathValue
	deletes []pathValue
}

type setAction struct {
	path  *Path
	value setValue
}

type pathValue struct {
	path  *Path
	value operand
}

// setValue is the right hand side of a SET action.
type setValue interface {
	value(doc map[string]types.AttributeValue, env Env) (types.AttributeValue, error)
}

type arithmetic struct {
	op          tokenKind
	left, right setValue
}

type ifNotExists struct {
	path     *Path
	fallback setValue
}

type listAppend struct {
	left, right setValue
}

// ParseUpdate parses an UpdateExpression. Each clause may appear at most once.
func ParseUpdate(expr string) (*Update, error) {
	p, err := newParser(expr)
	if err != nil {
		return nil, err
	}
	u := &Update{}
	seen := map[string]bool{}
	for p.peek().kind != tokEOF {
		kw := p.next()
		clause := strings.ToUpper(kw.text)
		if kw.kind != tokIdent || !slices.Contains([]string{"SET", "REMOVE", "ADD", "DELETE"}, clause) {
			return nil, fmt.Errorf("syntax error: expected SET, REMOVE, ADD or DELETE, got %s", kw)
		}
		if seen[clause] {
			return nil, fmt.Errorf("invalid UpdateExpression: the %q section can only be used once in an update expression", clause)
		}
		seen[clause] = true
		for {
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			switch clause {
			case "SET":
				if _, err := p.expect(tokEq, "="); err != nil {
					return nil, err
				}
				v, err := p.parseSetValue()
				if err != nil {
					return nil, err
				}
				u.sets = append(u.sets, setAction{path: path, value: v})
			case "REMOVE":
				u.removes = append(u.removes, path)
			case "ADD", "DELETE":
				if p.peek().kind != tokValue {
					return nil, fmt.Errorf("syntax error: %s requires an expression attribute value, got %s", clause, p.peek())
				}
				pv := pathValue{path: path, value: valueRef(p.next().text)}
				if clause == "ADD" {
					u.adds = append(u.adds, pv)
				} else {
					u.deletes = append(u.deletes, pv)
				}
			}
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
	}
	return u, nil
}

func (p *parser) parseSetValue() (setValue, error) {
	left, err := p.parseSetOperand()
	if err != nil {
		return nil, err
	}
	if k := p.peek().kind; k == tokPlus || k == tokMinus {
		p.next()
		right, err := p.parseSetOperand()
		if err != nil {
			return nil, err
		}
		return &arithmetic{op: k, left: left, right: right}, nil
	}
	return left, nil
}

func (p *parser) parseSetOperand() (setValue, error) {
	t := p.peek()
	if t.kind == tokIdent && p.peekAt(1).kind == tokLParen {
		p.next()
		p.next()
		switch strings.ToLower(t.text) {
		case "if_not_exists":
			path, err := p.parsePath()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, ","); err != nil {
				return nil, err
			}
			fb, err := p.parseSetOperand()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return &ifNotExists{path: path, fallback: fb}, nil
		case "list_append":
			l, err := p.parseSetOperand()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokComma, ","); err != nil {
				return nil, err
			}
			r, err := p.parseSetOperand()
			if err != nil {
				return nil, err
			}
			if _, err := p.expect(tokRParen, ")"); err != nil {
				return nil, err
			}
			return &listAppend{left: l, right: r}, nil
		}
		return nil, fmt.Errorf("invalid UpdateExpression: invalid function name; function: %s", t.text)
	}
	if t.kind == tokValue {
		p.next()
		return valueRef(t.text), nil
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return pathOperand{path: path}, nil
}

func (a *arithmetic) value(doc map[string]types.AttributeValue, env Env) (types.AttributeValue, error) {
	l, err := a.left.value(doc, env)
	if err != nil {
		return nil, err
	}
	r, err := a.right.value(doc, env)
	if err != nil {
		return nil, err
	}
	ln, lok := l.(*types.AttributeValueMemberN)
	rn, rok := r.(*types.AttributeValueMemberN)
	if !lok || !rok {
		return nil, fmt.Errorf("invalid UpdateExpression: incorrect operand type for operator or function; operator or function: %s", map[tokenKind]string{tokPlus: "+", tokMinus: "-"}[a.op])
	}
	lr, err := ParseNumber(ln.Value)
	if err != nil {
		return nil, err
	}
	rr, err := ParseNumber(rn.Value)
	if err != nil {
		return nil, err
	}
	if a.op == tokMinus {
		rr.Neg(rr)
	}
	return &types.AttributeValueMemberN{Value: FormatNumber(new(big.Rat).Add(lr, rr))}, nil
}

func (f *ifNotExists) value(doc map[string]types.AttributeValue, env Env) (types.AttributeValue, error) {
	r, err := f.path.resolve(env)
	if err != nil {
		return nil, err
	}
	if v := r.get(doc); v != nil {
		return v, nil
	}
	return f.fallback.value(doc, env)
}

func (f *listAppend) value(doc map[string]types.AttributeValue, env Env) (types.AttributeValue, error) {
	l, err := f.left.value(doc, env)
	if err != nil {
		return nil, err
	}
	r, err := f.right.value(doc, env)
	if err != nil {
		return nil, err
	}
	ll, lok := l.(*types.AttributeValueMemberL)
	rl, rok := r.(*types.AttributeValueMemberL)
	if !lok || !rok {
		return nil, fmt.Errorf("invalid UpdateExpression: incorrect operand type for operator or function; operator or function: list_append")
	}
	out := make([]types.AttributeValue, 0, len(ll.Value)+len(rl.Value))
	out = append(out, ll.Value...)
	out = append(out, rl.Value...)
	return &types.AttributeValueMemberL{Value: out}, nil
}

// UpdateResult is the outcome of applying an update.
type UpdateResult struct {
	Item map[string]types.AttributeValue
	// Updated lists the top level attributes touched by the update.
	Updated []string
}

// Apply runs the update against a copy of item. Operands are evaluated
// against the original item.
func (u *Update) Apply(item map[string]types.AttributeValue, env Env) (*UpdateResult, error) {
	if item == nil {
		item = map[string]types.AttributeValue{}
	}
	var paths []resolved
	track := func(p *Path) (resolved, error) {
		r, err := p.resolve(env)
		if err != nil {
			return nil, err
		}
		for _, other := range paths {
			if r.overlaps(other) {
				return nil, fmt.Errorf("invalid UpdateExpression: two document paths overlap with each other; must remove or rewrite one of these paths; path one: [%s], path two: [%s]", other, r)
			}
		}
		paths = append(paths, r)
		return r, nil
	}

	doc := CopyItem(item)
	for _, a := range u.sets {
		r, err := track(a.path)
		if err != nil {
			return nil, err
		}
		v, err := a.value.value(item, env)
		if err != nil {
			return nil, err
		}
		if v == nil {
			return nil, fmt.Errorf("the provided expression refers to an attribute that does not exist in the item")
		}
		if err := r.set(doc, copyAV(v)); err != nil {
			return nil, err
		}
	}
	for _, p := range u.removes {
		r, err := track(p)
		if err != nil {
			return nil, err
		}
		if err := r.remove(doc); err != nil {
			return nil, err
		}
	}
	for _, a := range u.adds {
		r, err := track(a.path)
		if err != nil {
			return nil, err
		}
		v, err := a.value.value(item, env)
		if err != nil {
			return nil, err
		}
		next, err := add(r.get(doc), v)
		if err != nil {
			return nil, err
		}
		if err := r.set(doc, next); err != nil {
			return nil, err
		}
	}
	for _, a := range u.deletes {
		r, err := track(a.path)
		if err != nil {
			return nil, err
		}
		v, err := a.value.value(item, env)
		if err != nil {
			return nil, err
		}
		next, err := subtract(r.get(doc), v)
		if err != nil {
			return nil, err
		}
		if next == nil {
			err = r.remove(doc)
		} else {
			err = r.set(doc, next)
		}
		if err != nil {
			return nil, err
		}
	}

	res := &UpdateResult{Item: doc}
	seen := map[string]bool{}
	for _, p := range paths {
		if !seen[p.top()] {
			seen[p.top()] = true
			res.Updated = append(res.Updated, p.top())
		}
	}
	return res, nil
}

// add implements ADD: numeric addition or set union. A missing attribute
// starts from zero or the empty set.
func add(cur, v types.AttributeValue) (types.AttributeValue, error) {
	switch val := v.(type) {
	case *types.AttributeValueMemberN:
		sum, err := ParseNumber(val.Value)
		if err != nil {
			return nil, err
		}
		if cur != nil {
			cn, ok := cur.(*types.AttributeValueMemberN)
			if !ok {
				return nil, errOperandType("ADD")
			}
			c, err := ParseNumber(cn.Value)
			if err != nil {
				return nil, err
			}
			sum.Add(sum, c)
		}
		return &types.AttributeValueMemberN{Value: FormatNumber(sum)}, nil
	case *types.AttributeValueMemberSS, *types.AttributeValueMemberNS, *types.AttributeValueMemberBS:
		if cur == nil {
			return copyAV(v), nil
		}
		return setOp(cur, v, true)
	}
	return nil, errOperandType("ADD")
}

// subtract implements DELETE on sets. A nil result means the set is now empty.
func subtract(cur, v types.AttributeValue) (types.AttributeValue, error) {
	switch v.(type) {
	case *types.AttributeValueMemberSS, *types.AttributeValueMemberNS, *types.AttributeValueMemberBS:
	default:
		return nil, errOperandType("DELETE")
	}
	if cur == nil {
		return nil, nil
	}
	return setOp(cur, v, false)
}

func setOp(cur, v types.AttributeValue, union bool) (types.AttributeValue, error) {
	if TypeName(cur) != TypeName(v) {
		return nil, errOperandType(map[bool]string{true: "ADD", false: "DELETE"}[union])
	}
	switch c := cur.(type) {
	case *types.AttributeValueMemberSS:
		out := mergeMembers(c.Value, v.(*types.AttributeValueMemberSS).Value, union, func(a, b string) bool { return a == b })
		if len(out) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberSS{Value: out}, nil
	case *types.AttributeValueMemberNS:
		out := mergeMembers(c.Value, v.(*types.AttributeValueMemberNS).Value, union, numbersEqual)
		if len(out) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberNS{Value: out}, nil
	case *types.AttributeValueMemberBS:
		out := mergeMembers(c.Value, v.(*types.AttributeValueMemberBS).Value, union, func(a, b []byte) bool { return string(a) == string(b) })
		if len(out) == 0 {
			return nil, nil
		}
		return &types.AttributeValueMemberBS{Value: out}, nil
	}
	return nil, errOperandType("ADD")
}

func mergeMembers[T any](cur, v []T, union bool, eq func(T, T) bool) []T {
	if union {
		out := slices.Clone(cur)
		for _, x := range v {
			if !slices.ContainsFunc(out, func(y T) bool { return eq(x, y) }) {
				out = append(out, x)
			}
		}
		return out
	}
	var out []T
	for _, x := range cur {
		if !slices.ContainsFunc(v, func(y T) bool { return eq(x, y) }) {
			out = append(out, x)
		}
	}
	return out
}

func errOperandType(op string) error {
	return fmt.Errorf("invalid UpdateExpression: incorrect operand type for operator or function; operator: %s", op)
}
