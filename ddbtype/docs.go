package ddbtype

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// Dict holds a map[string]any document stored as M.
	Dict Definition = dictType{}
	// List holds a []any document stored as L.
	List Definition = listType{}
)

// decodeJSON parses s keeping numbers exact.
func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrTypeMismatch, err)
	}
	return v, nil
}

// normalizeDoc converts a nested value into the canonical document form:
// map[string]any, []any, string, []byte, bool, int64, float64, *Set or nil.
func normalizeDoc(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool:
		return x, nil
	case []byte:
		return x, nil
	case *Set:
		return x, nil
	case json.Number:
		r, err := parseNumber(x.String())
		if err != nil {
			return nil, err
		}
		return canonicalNumber(r)
	case attributevalue.Number:
		r, err := parseNumber(x.String())
		if err != nil {
			return nil, err
		}
		return canonicalNumber(r)
	}
	n, ok, err := normalizeNumber(v)
	if err != nil {
		return nil, err
	}
	if ok {
		return canonicalNumber(n)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, fmt.Errorf("%w: map keys must be strings, got %s", ErrTypeMismatch, rv.Type().Key())
		}
		out := make(map[string]any, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			e, err := normalizeDoc(iter.Value().Interface())
			if err != nil {
				return nil, err
			}
			out[iter.Key().String()] = e
		}
		return out, nil
	case reflect.Slice, reflect.Array:
		out := make([]any, rv.Len())
		for i := range out {
			e, err := normalizeDoc(rv.Index(i).Interface())
			if err != nil {
				return nil, err
			}
			out[i] = e
		}
		return out, nil
	case reflect.Pointer:
		if rv.IsNil() {
			return nil, nil
		}
		return normalizeDoc(rv.Elem().Interface())
	}
	return nil, fmt.Errorf("%w: %T cannot be stored in a document", ErrTypeMismatch, v)
}

// fromDecoded normalizes the output of attributevalue.Unmarshal with
// UseNumber. Native sets come back as typed slices and turn into *Set.
func fromDecoded(v any) (any, error) {
	switch x := v.(type) {
	case map[string]any:
		for k, e := range x {
			n, err := fromDecoded(e)
			if err != nil {
				return nil, err
			}
			x[k] = n
		}
		return x, nil
	case []any:
		for i, e := range x {
			n, err := fromDecoded(e)
			if err != nil {
				return nil, err
			}
			x[i] = n
		}
		return x, nil
	case []string:
		return NewSet(toAnys(x)...)
	case [][]byte:
		return NewSet(toAnys(x)...)
	case []attributevalue.Number:
		s := &Set{}
		for _, n := range x {
			c, err := normalizeDoc(n)
			if err != nil {
				return nil, err
			}
			if err := s.Add(c); err != nil {
				return nil, err
			}
		}
		return s, nil
	case []float64:
		return NewSet(toAnys(x)...)
	}
	return normalizeDoc(v)
}

func toAnys[T any](in []T) []any {
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = v
	}
	return out
}

func unmarshalDoc(av types.AttributeValue) (any, error) {
	var v any
	err := attributevalue.UnmarshalWithOptions(av, &v, func(o *attributevalue.DecoderOptions) {
		o.UseNumber = true
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
	}
	return fromDecoded(v)
}

type dictType struct{}

func (dictType) Name() string      { return "dict" }
func (dictType) Aliases() []string { return []string{"map"} }
func (dictType) Kind() Kind        { return KindM }
func (dictType) Mutable() bool     { return true }

func (dictType) Coerce(v any, _ bool) (any, error) {
	if s, ok := v.(string); ok {
		decoded, err := decodeJSON(s)
		if err != nil {
			return nil, err
		}
		v = decoded
	}
	if m, ok := v.(map[string]any); ok {
		// Keep the caller's map so in-place edits stay visible.
		for k, e := range m {
			n, err := normalizeDoc(e)
			if err != nil {
				return nil, err
			}
			m[k] = n
		}
		return m, nil
	}
	if v == nil || reflect.TypeOf(v).Kind() != reflect.Map {
		return nil, fmt.Errorf("%w: cannot use %T as dict", ErrTypeMismatch, v)
	}
	return normalizeDoc(v)
}

func (t dictType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	m, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return attributevalue.Marshal(m)
}

func (dictType) Deserialize(av types.AttributeValue) (any, error) {
	if _, ok := av.(*types.AttributeValueMemberM); !ok {
		return nil, fmt.Errorf("%w: expected M, got %T", ErrTypeMismatch, av)
	}
	return unmarshalDoc(av)
}

type listType struct{}

func (listType) Name() string      { return "list" }
func (listType) Aliases() []string { return nil }
func (listType) Kind() Kind        { return KindL }
func (listType) Mutable() bool     { return true }

func (listType) Coerce(v any, _ bool) (any, error) {
	if s, ok := v.(string); ok {
		decoded, err := decodeJSON(s)
		if err != nil {
			return nil, err
		}
		v = decoded
	}
	if l, ok := v.([]any); ok {
		for i, e := range l {
			n, err := normalizeDoc(e)
			if err != nil {
				return nil, err
			}
			l[i] = n
		}
		return l, nil
	}
	if v == nil {
		return nil, fmt.Errorf("%w: cannot use nil as list", ErrTypeMismatch)
	}
	if _, isBytes := v.([]byte); isBytes {
		return nil, fmt.Errorf("%w: cannot use %T as list", ErrTypeMismatch, v)
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array:
		return normalizeDoc(v)
	}
	return nil, fmt.Errorf("%w: cannot use %T as list", ErrTypeMismatch, v)
}

func (t listType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	l, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return attributevalue.Marshal(l)
}

func (listType) Deserialize(av types.AttributeValue) (any, error) {
	if _, ok := av.(*types.AttributeValueMemberL); !ok {
		return nil, fmt.Errorf("%w: expected L, got %T", ErrTypeMismatch, av)
	}
	return unmarshalDoc(av)
}
