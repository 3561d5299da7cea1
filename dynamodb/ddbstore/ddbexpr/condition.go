package ddbexpr

import (
	"bytes"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Condition is a parsed ConditionExpression or FilterExpression.
type Condition struct {
	root node
}

type node interface {
	eval(doc map[string]types.AttributeValue, env Env) (bool, error)
}

type operand interface {
	value(doc map[string]types.AttributeValue, env Env) (types.AttributeValue, error)
}

// ParseCondition parses a condition or filter expression.
func ParseCondition(expr string) (*Condition, error) {
	p, err := newParser(expr)
	if err != nil {
		return nil, err
	}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expectEOF(); err != nil {
		return nil, err
	}
	return &Condition{root: root}, nil
}

// Eval evaluates the condition against item. A nil item behaves as an item
// without attributes.
func (c *Condition) Eval(item map[string]types.AttributeValue, env Env) (bool, error) {
	if item == nil {
		item = map[string]types.AttributeValue{}
	}
	return c.root.eval(item, env)
}

// Eval parses and evaluates expr in one step.
func Eval(expr string, env Env, item map[string]types.AttributeValue) (bool, error) {
	c, err := ParseCondition(expr)
	if err != nil {
		return false, err
	}
	return c.Eval(item, env)
}

func (p *parser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.peek().is("OR") {
		p.next()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &orNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (node, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.peek().is("AND") {
		p.next()
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &andNode{left: left, right: right}
	}
	return left, nil
}

func (p *parser) parseNot() (node, error) {
	if p.peek().is("NOT") {
		p.next()
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &notNode{inner: inner}, nil
	}
	return p.parsePrimary()
}

var conditionFuncs = []string{"attribute_exists", "attribute_not_exists", "attribute_type", "begins_with", "contains"}

func (p *parser) parsePrimary() (node, error) {
	t := p.peek()
	if t.kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return inner, nil
	}
	if t.kind == tokIdent && p.peekAt(1).kind == tokLParen && !strings.EqualFold(t.text, "size") {
		return p.parseFunc()
	}

	left, err := p.parseOperand()
	if err != nil {
		return nil, err
	}
	op := p.next()
	switch {
	case op.kind >= tokEq && op.kind <= tokGe:
		right, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &compareNode{op: op.kind, left: left, right: right}, nil
	case op.is("BETWEEN"):
		lo, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		if t := p.next(); !t.is("AND") {
			return nil, fmt.Errorf("syntax error: expected AND in BETWEEN, got %s", t)
		}
		hi, err := p.parseOperand()
		if err != nil {
			return nil, err
		}
		return &betweenNode{v: left, lo: lo, hi: hi}, nil
	case op.is("IN"):
		if _, err := p.expect(tokLParen, "("); err != nil {
			return nil, err
		}
		var list []operand
		for {
			o, err := p.parseOperand()
			if err != nil {
				return nil, err
			}
			list = append(list, o)
			if p.peek().kind != tokComma {
				break
			}
			p.next()
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		if len(list) > 100 {
			return nil, fmt.Errorf("invalid expression: too many operands for IN: %d", len(list))
		}
		return &inNode{v: left, list: list}, nil
	}
	return nil, fmt.Errorf("syntax error: expected comparator, got %s", op)
}

func (p *parser) parseFunc() (node, error) {
	name := p.next()
	fn := strings.ToLower(name.text)
	if !slices.Contains(conditionFuncs, fn) {
		return nil, fmt.Errorf("invalid expression: invalid function name; function: %s", name.text)
	}
	p.next() // (
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	f := &funcNode{fn: fn, path: path}
	switch fn {
	case "attribute_type", "begins_with", "contains":
		if _, err := p.expect(tokComma, ","); err != nil {
			return nil, err
		}
		if f.arg, err = p.parseOperand(); err != nil {
			return nil, err
		}
	}
	if _, err := p.expect(tokRParen, ")"); err != nil {
		return nil, err
	}
	return f, nil
}

func (p *parser) parseOperand() (operand, error) {
	t := p.peek()
	switch {
	case t.kind == tokValue:
		p.next()
		return valueRef(t.text), nil
	case t.is("size") && p.peekAt(1).kind == tokLParen:
		p.next()
		p.next()
		path, err := p.parsePath()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, ")"); err != nil {
			return nil, err
		}
		return sizeOperand{path: path}, nil
	}
	path, err := p.parsePath()
	if err != nil {
		return nil, err
	}
	return pathOperand{path: path}, nil
}

type valueRef string

func (v valueRef) value(_ map[string]types.AttributeValue, env Env) (types.AttributeValue, error) {
	return env.value(string(v))
}

type pathOperand struct{ path *Path }

func (o pathOperand) value(doc map[string]types.AttributeValue, env Env) (types.AttributeValue, error) {
	r, err := o.path.resolve(env)
	if err != nil {
		return nil, err
	}
	return r.get(doc), nil
}

type sizeOperand struct{ path *Path }

func (o sizeOperand) value(doc map[string]types.AttributeValue, env Env) (types.AttributeValue, error) {
	r, err := o.path.resolve(env)
	if err != nil {
		return nil, err
	}
	var n int
	switch v := r.get(doc).(type) {
	case nil:
		return nil, nil
	case *types.AttributeValueMemberS:
		n = utf8.RuneCountInString(v.Value)
	case *types.AttributeValueMemberB:
		n = len(v.Value)
	case *types.AttributeValueMemberSS:
		n = len(v.Value)
	case *types.AttributeValueMemberNS:
		n = len(v.Value)
	case *types.AttributeValueMemberBS:
		n = len(v.Value)
	case *types.AttributeValueMemberM:
		n = len(v.Value)
	case *types.AttributeValueMemberL:
		n = len(v.Value)
	default:
		return nil, fmt.Errorf("invalid operand type for size: %s", TypeName(v))
	}
	return &types.AttributeValueMemberN{Value: strconv.Itoa(n)}, nil
}

type andNode struct{ left, right node }

func (n *andNode) eval(doc map[string]types.AttributeValue, env Env) (bool, error) {
	l, err := n.left.eval(doc, env)
	if err != nil || !l {
		return false, err
	}
	return n.right.eval(doc, env)
}

type orNode struct{ left, right node }

func (n *orNode) eval(doc map[string]types.AttributeValue, env Env) (bool, error) {
	l, err := n.left.eval(doc, env)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return n.right.eval(doc, env)
}

type notNode struct{ inner node }

func (n *notNode) eval(doc map[string]types.AttributeValue, env Env) (bool, error) {
	v, err := n.inner.eval(doc, env)
	return !v, err
}

type compareNode struct {
	op          tokenKind
	left, right operand
}

func (n *compareNode) eval(doc map[string]types.AttributeValue, env Env) (bool, error) {
	l, err := n.left.value(doc, env)
	if err != nil {
		return false, err
	}
	r, err := n.right.value(doc, env)
	if err != nil {
		return false, err
	}
	return compareOp(n.op, l, r), nil
}

func compareOp(op tokenKind, l, r types.AttributeValue) bool {
	switch op {
	case tokEq:
		return l != nil && r != nil && Equal(l, r)
	case tokNe:
		if l == nil || r == nil {
			return l != nil || r != nil
		}
		return !Equal(l, r)
	}
	if l == nil || r == nil {
		return false
	}
	c, ok := Compare(l, r)
	if !ok {
		return false
	}
	switch op {
	case tokLt:
		return c < 0
	case tokLe:
		return c <= 0
	case tokGt:
		return c > 0
	case tokGe:
		return c >= 0
	}
	return false
}

type betweenNode struct{ v, lo, hi operand }

func (n *betweenNode) eval(doc map[string]types.AttributeValue, env Env) (bool, error) {
	v, err := n.v.value(doc, env)
	if err != nil {
		return false, err
	}
	lo, err := n.lo.value(doc, env)
	if err != nil {
		return false, err
	}
	hi, err := n.hi.value(doc, env)
	if err != nil {
		return false, err
	}
	if c, ok := Compare(lo, hi); ok && c > 0 {
		return false, fmt.Errorf("invalid expression: the BETWEEN operator requires upper bound to be greater than or equal to lower bound")
	}
	return compareOp(tokGe, v, lo) && compareOp(tokLe, v, hi), nil
}

type inNode struct {
	v    operand
	list []operand
}

func (n *inNode) eval(doc map[string]types.AttributeValue, env Env) (bool, error) {
	v, err := n.v.value(doc, env)
	if err != nil || v == nil {
		return false, err
	}
	for _, o := range n.list {
		cand, err := o.value(doc, env)
		if err != nil {
			return false, err
		}
		if Equal(v, cand) {
			return true, nil
		}
	}
	return false, nil
}

type funcNode struct {
	fn   string
	path *Path
	arg  operand
}

func (n *funcNode) eval(doc map[string]types.AttributeValue, env Env) (bool, error) {
	r, err := n.path.resolve(env)
	if err != nil {
		return false, err
	}
	v := r.get(doc)
	var arg types.AttributeValue
	if n.arg != nil {
		if arg, err = n.arg.value(doc, env); err != nil {
			return false, err
		}
	}
	switch n.fn {
	case "attribute_exists":
		return v != nil, nil
	case "attribute_not_exists":
		return v == nil, nil
	case "attribute_type":
		want, ok := arg.(*types.AttributeValueMemberS)
		if !ok {
			return false, fmt.Errorf("invalid expression: attribute_type requires a string type descriptor")
		}
		return v != nil && TypeName(v) == want.Value, nil
	case "begins_with":
		return beginsWith(v, arg), nil
	case "contains":
		return contains(v, arg), nil
	}
	return false, fmt.Errorf("invalid expression: invalid function name; function: %s", n.fn)
}

func beginsWith(v, arg types.AttributeValue) bool {
	switch pv := v.(type) {
	case *types.AttributeValueMemberS:
		a, ok := arg.(*types.AttributeValueMemberS)
		return ok && strings.HasPrefix(pv.Value, a.Value)
	case *types.AttributeValueMemberB:
		a, ok := arg.(*types.AttributeValueMemberB)
		return ok && bytes.HasPrefix(pv.Value, a.Value)
	}
	return false
}

func contains(v, arg types.AttributeValue) bool {
	if v == nil || arg == nil {
		return false
	}
	switch pv := v.(type) {
	case *types.AttributeValueMemberS:
		a, ok := arg.(*types.AttributeValueMemberS)
		return ok && strings.Contains(pv.Value, a.Value)
	case *types.AttributeValueMemberB:
		a, ok := arg.(*types.AttributeValueMemberB)
		return ok && bytes.Contains(pv.Value, a.Value)
	case *types.AttributeValueMemberSS:
		a, ok := arg.(*types.AttributeValueMemberS)
		return ok && slices.Contains(pv.Value, a.Value)
	case *types.AttributeValueMemberNS:
		a, ok := arg.(*types.AttributeValueMemberN)
		return ok && slices.ContainsFunc(pv.Value, func(s string) bool { return numbersEqual(s, a.Value) })
	case *types.AttributeValueMemberBS:
		a, ok := arg.(*types.AttributeValueMemberB)
		return ok && slices.ContainsFunc(pv.Value, func(b []byte) bool { return bytes.Equal(b, a.Value) })
	case *types.AttributeValueMemberL:
		return slices.ContainsFunc(pv.Value, func(e types.AttributeValue) bool { return Equal(e, arg) })
	}
	return false
}
