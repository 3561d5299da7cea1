package ddbtype

import (
	"fmt"
	"math/big"
	"reflect"
	"slices"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Set is an unordered collection of distinct strings, byte strings or numbers.
// All elements share one kind. The zero value is an empty set.
type Set struct {
	kind  Kind
	items map[string]any
}

// NewSet returns a set holding values.
func NewSet(values ...any) (*Set, error) {
	s := &Set{}
	for _, v := range values {
		if err := s.Add(v); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// MustSet is like NewSet but panics on an invalid element.
func MustSet(values ...any) *Set {
	s, err := NewSet(values...)
	if err != nil {
		panic(err)
	}
	return s
}

// setKey returns the canonical identity of a set element and its kind.
func setKey(v any) (string, Kind, any, error) {
	switch x := v.(type) {
	case string:
		return "S" + x, KindS, x, nil
	case []byte:
		return "B" + string(x), KindB, slices.Clone(x), nil
	}
	n, ok, err := normalizeNumber(v)
	if err != nil {
		return "", "", nil, err
	}
	if !ok {
		return "", "", nil, fmt.Errorf("%w: %T cannot be a set element", ErrTypeMismatch, v)
	}
	s, err := numberString(n)
	if err != nil {
		return "", "", nil, err
	}
	return "N" + s, KindN, n, nil
}

func numberString(n any) (string, error) {
	switch x := n.(type) {
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float64:
		return formatFloat(x), nil
	case *big.Rat:
		s, exact := formatRat(x)
		if !exact {
			return "", fmt.Errorf("%w: %s has no exact decimal form", ErrDataLoss, x.RatString())
		}
		return s, nil
	}
	return "", fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, n)
}

// Add inserts v. Adding an element of a different kind than the existing ones
// is an error.
func (s *Set) Add(v any) error {
	key, kind, val, err := setKey(v)
	if err != nil {
		return err
	}
	if s.kind != "" && s.kind != kind && len(s.items) > 0 {
		return fmt.Errorf("%w: cannot add %s element to %s set", ErrTypeMismatch, kind, s.kind)
	}
	if s.items == nil {
		s.items = make(map[string]any)
	}
	s.kind = kind
	s.items[key] = val
	return nil
}

// Remove deletes v if present.
func (s *Set) Remove(v any) {
	key, _, _, err := setKey(v)
	if err != nil || s == nil || s.items == nil {
		return
	}
	delete(s.items, key)
}

func (s *Set) Has(v any) bool {
	key, _, _, err := setKey(v)
	if err != nil || s == nil {
		return false
	}
	_, ok := s.items[key]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.items)
}

// ElemKind is the kind of the elements, or "" for an empty set.
func (s *Set) ElemKind() Kind {
	if s.Len() == 0 {
		return ""
	}
	return s.kind
}

// Values returns the elements in a stable order.
func (s *Set) Values() []any {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.items))
	for k := range s.items {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = s.items[k]
	}
	return out
}

func (s *Set) Clone() *Set {
	c := &Set{items: make(map[string]any, s.Len())}
	if s == nil {
		return c
	}
	c.kind = s.kind
	for k, v := range s.items {
		c.items[k] = v
	}
	return c
}

// Equal reports whether both sets hold the same elements.
func (s *Set) Equal(o *Set) bool {
	if s.Len() != o.Len() {
		return false
	}
	if s.Len() == 0 {
		return true
	}
	for k := range s.items {
		if _, ok := o.items[k]; !ok {
			return false
		}
	}
	return true
}

// Difference returns the elements of s missing from o.
func (s *Set) Difference(o *Set) *Set {
	out := &Set{items: make(map[string]any)}
	if s == nil {
		return out
	}
	out.kind = s.kind
	for k, v := range s.items {
		if !o.hasKey(k) {
			out.items[k] = v
		}
	}
	return out
}

func (s *Set) hasKey(k string) bool {
	if s == nil {
		return false
	}
	_, ok := s.items[k]
	return ok
}

// Union returns the elements of both sets.
func (s *Set) Union(o *Set) *Set {
	out := s.Clone()
	if o == nil {
		return out
	}
	for k, v := range o.items {
		out.kind = o.kind
		out.items[k] = v
	}
	return out
}

func (s *Set) String() string {
	return fmt.Sprint(s.Values())
}

// MarshalDynamoDBAttributeValue renders the set as SS, NS or BS. An empty set
// has no DynamoDB representation and becomes NULL.
func (s *Set) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	if s.Len() == 0 {
		return &types.AttributeValueMemberNULL{Value: true}, nil
	}
	values := s.Values()
	switch s.kind {
	case KindS:
		out := make([]string, len(values))
		for i, v := range values {
			out[i] = v.(string)
		}
		return &types.AttributeValueMemberSS{Value: out}, nil
	case KindB:
		out := make([][]byte, len(values))
		for i, v := range values {
			out[i] = v.([]byte)
		}
		return &types.AttributeValueMemberBS{Value: out}, nil
	default:
		out := make([]string, len(values))
		for i, v := range values {
			n, err := numberString(v)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return &types.AttributeValueMemberNS{Value: out}, nil
	}
}

type setType struct {
	elem Definition
	kind Kind
}

// SetOf returns the set type whose elements are of type elem. The element
// type must be backed by S, N or B.
func SetOf(elem Definition) (Definition, error) {
	var kind Kind
	switch elem.Kind() {
	case KindS:
		kind = KindSS
	case KindN:
		kind = KindNS
	case KindB:
		kind = KindBS
	default:
		return nil, fmt.Errorf("%w: %s cannot be a set element", ErrUnknownType, elem.Name())
	}
	return setType{elem: elem, kind: kind}, nil
}

func (t setType) Name() string      { return SetPrefix + t.elem.Name() }
func (t setType) Aliases() []string { return nil }
func (t setType) Kind() Kind        { return t.kind }
func (t setType) Mutable() bool     { return true }

// Elem is the element type.
func (t setType) Elem() Definition { return t.elem }

// Coerce validates every element against the element type. A *Set whose
// elements are already canonical is returned as is, so callers keep mutating
// the same value. With force any slice or array is accepted.
func (t setType) Coerce(v any, force bool) (any, error) {
	var elems []any
	switch x := v.(type) {
	case *Set:
		if x == nil {
			return nil, fmt.Errorf("%w: nil set", ErrTypeMismatch)
		}
		elems = x.Values()
		same := true
		for _, e := range elems {
			c, err := t.elem.Coerce(e, false)
			if err != nil {
				return nil, err
			}
			if !reflect.DeepEqual(c, e) {
				same = false
			}
		}
		if same {
			return x, nil
		}
	case Set:
		elems = x.Values()
	default:
		rv := reflect.ValueOf(v)
		if !force || v == nil || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
			return nil, fmt.Errorf("%w: cannot use %T as %s", ErrTypeMismatch, v, t.Name())
		}
		if _, isBytes := v.([]byte); isBytes {
			return nil, fmt.Errorf("%w: cannot use %T as %s", ErrTypeMismatch, v, t.Name())
		}
		for i := 0; i < rv.Len(); i++ {
			elems = append(elems, rv.Index(i).Interface())
		}
	}
	out := &Set{}
	for _, e := range elems {
		c, err := t.elem.Coerce(e, force)
		if err != nil {
			return nil, err
		}
		if err := out.Add(c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Serialize returns nil for an empty set: DynamoDB has no empty sets, so the
// attribute is removed instead.
func (t setType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	c, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	s := c.(*Set)
	if s.Len() == 0 {
		return nil, nil
	}
	var (
		ss []string
		bs [][]byte
	)
	for _, e := range s.Values() {
		av, err := t.elem.Serialize(e)
		if err != nil {
			return nil, err
		}
		switch a := av.(type) {
		case *types.AttributeValueMemberS:
			ss = append(ss, a.Value)
		case *types.AttributeValueMemberN:
			ss = append(ss, a.Value)
		case *types.AttributeValueMemberB:
			bs = append(bs, a.Value)
		}
	}
	switch t.kind {
	case KindSS:
		return &types.AttributeValueMemberSS{Value: ss}, nil
	case KindNS:
		return &types.AttributeValueMemberNS{Value: ss}, nil
	default:
		return &types.AttributeValueMemberBS{Value: bs}, nil
	}
}

func (t setType) Deserialize(av types.AttributeValue) (any, error) {
	var scalars []types.AttributeValue
	switch a := av.(type) {
	case *types.AttributeValueMemberNULL:
		return &Set{}, nil
	case *types.AttributeValueMemberSS:
		if t.kind != KindSS {
			break
		}
		for _, s := range a.Value {
			scalars = append(scalars, &types.AttributeValueMemberS{Value: s})
		}
	case *types.AttributeValueMemberNS:
		if t.kind != KindNS {
			break
		}
		for _, s := range a.Value {
			scalars = append(scalars, &types.AttributeValueMemberN{Value: s})
		}
	case *types.AttributeValueMemberBS:
		if t.kind != KindBS {
			break
		}
		for _, b := range a.Value {
			scalars = append(scalars, &types.AttributeValueMemberB{Value: b})
		}
	}
	if scalars == nil {
		return nil, fmt.Errorf("%w: expected %s, got %T", ErrTypeMismatch, t.kind, av)
	}
	out := &Set{}
	for _, sc := range scalars {
		e, err := t.elem.Deserialize(sc)
		if err != nil {
			return nil, err
		}
		if err := out.Add(e); err != nil {
			return nil, err
		}
	}
	return out, nil
}
