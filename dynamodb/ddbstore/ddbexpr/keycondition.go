package ddbexpr

import (
	"fmt"

	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// SortOp is the comparison applied to the sort key of a query.
type SortOp string

const (
	SortEq         SortOp = "="
	SortLt         SortOp = "<"
	SortLe         SortOp = "<="
	SortGt         SortOp = ">"
	SortGe         SortOp = ">="
	SortBetween    SortOp = "BETWEEN"
	SortBeginsWith SortOp = "begins_with"
)

// KeyCondition is a KeyConditionExpression decomposed against a key schema.
type KeyCondition struct {
	PartitionKey types.AttributeValue
	Sort         *SortCondition
}

type SortCondition struct {
	Op     SortOp
	Values []types.AttributeValue
}

// Match reports whether a sort key value satisfies the condition.
func (s *SortCondition) Match(v types.AttributeValue) bool {
	if s == nil {
		return true
	}
	switch s.Op {
	case SortEq:
		return compareOp(tokEq, v, s.Values[0])
	case SortLt:
		return compareOp(tokLt, v, s.Values[0])
	case SortLe:
		return compareOp(tokLe, v, s.Values[0])
	case SortGt:
		return compareOp(tokGt, v, s.Values[0])
	case SortGe:
		return compareOp(tokGe, v, s.Values[0])
	case SortBetween:
		return compareOp(tokGe, v, s.Values[0]) && compareOp(tokLe, v, s.Values[1])
	case SortBeginsWith:
		return beginsWith(v, s.Values[0])
	}
	return false
}

// ParseKeyCondition parses expr and checks it against keys: exactly one
// equality on the partition key and at most one condition on the sort key.
func ParseKeyCondition(expr string, env Env, keys table.PrimaryKeyDefinition) (*KeyCondition, error) {
	c, err := ParseCondition(expr)
	if err != nil {
		return nil, err
	}
	var leaves []node
	var flatten func(n node) error
	flatten = func(n node) error {
		switch v := n.(type) {
		case *andNode:
			if err := flatten(v.left); err != nil {
				return err
			}
			return flatten(v.right)
		case *orNode, *notNode, *inNode:
			return fmt.Errorf("invalid operator used in KeyConditionExpression")
		default:
			leaves = append(leaves, n)
			return nil
		}
	}
	if err := flatten(c.root); err != nil {
		return nil, err
	}
	if len(leaves) > 2 {
		return nil, fmt.Errorf("conditions can be of length 1 or 2 only")
	}

	out := &KeyCondition{}
	for _, leaf := range leaves {
		name, sc, err := keyLeaf(leaf, env)
		if err != nil {
			return nil, err
		}
		switch name {
		case keys.PartitionKey.Name:
			if out.PartitionKey != nil {
				return nil, fmt.Errorf("invalid KeyConditionExpression: partition key %s specified more than once", name)
			}
			if sc.Op != SortEq {
				return nil, fmt.Errorf("query key condition not supported: partition key %s must use =", name)
			}
			if err := checkKeyKind(keys.PartitionKey, sc.Values[0]); err != nil {
				return nil, err
			}
			out.PartitionKey = sc.Values[0]
		case keys.SortKey.Name:
			if keys.SortKey.Name == "" || out.Sort != nil {
				return nil, fmt.Errorf("invalid KeyConditionExpression: sort key %s specified more than once", name)
			}
			for _, v := range sc.Values {
				if err := checkKeyKind(keys.SortKey, v); err != nil {
					return nil, err
				}
			}
			if sc.Op == SortBeginsWith && keys.SortKey.Kind == table.KeyKindN {
				return nil, fmt.Errorf("invalid KeyConditionExpression: begins_with is not supported on number keys")
			}
			out.Sort = sc
		default:
			return nil, fmt.Errorf("query condition missed key schema element: %s", keys.PartitionKey.Name)
		}
	}
	if out.PartitionKey == nil {
		return nil, fmt.Errorf("query condition missed key schema element: %s", keys.PartitionKey.Name)
	}
	return out, nil
}

func keyLeaf(n node, env Env) (string, *SortCondition, error) {
	keyName := func(o operand) (string, bool, error) {
		po, ok := o.(pathOperand)
		if !ok {
			return "", false, nil
		}
		if len(po.path.parts) != 1 {
			return "", false, fmt.Errorf("invalid KeyConditionExpression: nested attributes are not keys")
		}
		r, err := po.path.resolve(env)
		if err != nil {
			return "", false, err
		}
		return r.top(), true, nil
	}
	val := func(o operand) (types.AttributeValue, error) {
		ref, ok := o.(valueRef)
		if !ok {
			return nil, fmt.Errorf("invalid KeyConditionExpression: key must be compared to a value")
		}
		return env.value(string(ref))
	}

	switch v := n.(type) {
	case *compareNode:
		left, right, op := v.left, v.right, v.op
		name, ok, err := keyName(left)
		if err != nil {
			return "", nil, err
		}
		if !ok {
			left, right = right, left
			op = flip(op)
			if name, ok, err = keyName(left); err != nil || !ok {
				return "", nil, fmt.Errorf("invalid KeyConditionExpression: condition must reference a key")
			}
		}
		if op == tokNe {
			return "", nil, fmt.Errorf("unsupported operator in KeyConditionExpression: <>")
		}
		av, err := val(right)
		if err != nil {
			return "", nil, err
		}
		return name, &SortCondition{Op: sortOps[op], Values: []types.AttributeValue{av}}, nil
	case *betweenNode:
		name, ok, err := keyName(v.v)
		if err != nil || !ok {
			return "", nil, fmt.Errorf("invalid KeyConditionExpression: BETWEEN must reference a key")
		}
		lo, err := val(v.lo)
		if err != nil {
			return "", nil, err
		}
		hi, err := val(v.hi)
		if err != nil {
			return "", nil, err
		}
		if c, ok := Compare(lo, hi); ok && c > 0 {
			return "", nil, fmt.Errorf("invalid KeyConditionExpression: the BETWEEN operator requires upper bound to be greater than or equal to lower bound")
		}
		return name, &SortCondition{Op: SortBetween, Values: []types.AttributeValue{lo, hi}}, nil
	case *funcNode:
		if v.fn != "begins_with" || len(v.path.parts) != 1 {
			return "", nil, fmt.Errorf("invalid KeyConditionExpression: unsupported function %s", v.fn)
		}
		r, err := v.path.resolve(env)
		if err != nil {
			return "", nil, err
		}
		av, err := val(v.arg)
		if err != nil {
			return "", nil, err
		}
		return r.top(), &SortCondition{Op: SortBeginsWith, Values: []types.AttributeValue{av}}, nil
	}
	return "", nil, fmt.Errorf("invalid KeyConditionExpression")
}

var sortOps = map[tokenKind]SortOp{
	tokEq: SortEq,
	tokLt: SortLt,
	tokLe: SortLe,
	tokGt: SortGt,
	tokGe: SortGe,
}

func flip(op tokenKind) tokenKind {
	switch op {
	case tokLt:
		return tokGt
	case tokLe:
		return tokGe
	case tokGt:
		return tokLt
	case tokGe:
		return tokLe
	}
	return op
}

func checkKeyKind(k table.KeyDef, v types.AttributeValue) error {
	if TypeName(v) != string(k.Kind) {
		return fmt.Errorf("one or more parameter values were invalid: condition parameter type does not match schema type for key %s", k.Name)
	}
	return nil
}
