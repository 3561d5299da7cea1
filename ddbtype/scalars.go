package ddbtype

import (
	"encoding/json"
	"fmt"
	"unicode/utf8"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	Str   Definition = strType{}
	Bytes Definition = bytesType{}
	Bool  Definition = boolType{}
)

type strType struct{}

func (strType) Name() string      { return "str" }
func (strType) Aliases() []string { return []string{"S", "string", "unicode"} }
func (strType) Kind() Kind        { return KindS }
func (strType) Mutable() bool     { return false }

// Coerce accepts valid UTF-8 bytes even without force.
func (strType) Coerce(v any, force bool) (any, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case []byte:
		if !utf8.Valid(x) {
			return nil, fmt.Errorf("%w: bytes are not valid UTF-8", ErrTypeMismatch)
		}
		return string(x), nil
	}
	if force && v != nil {
		if s, ok := v.(fmt.Stringer); ok {
			return s.String(), nil
		}
		return fmt.Sprint(v), nil
	}
	return nil, fmt.Errorf("%w: cannot use %T as str", ErrTypeMismatch, v)
}

func (t strType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	s, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberS{Value: s.(string)}, nil
}

func (strType) Deserialize(av types.AttributeValue) (any, error) {
	s, ok := av.(*types.AttributeValueMemberS)
	if !ok {
		return nil, fmt.Errorf("%w: expected S, got %T", ErrTypeMismatch, av)
	}
	return s.Value, nil
}

type bytesType struct{}

func (bytesType) Name() string      { return "bytes" }
func (bytesType) Aliases() []string { return []string{"B", "binary"} }
func (bytesType) Kind() Kind        { return KindB }
func (bytesType) Mutable() bool     { return false }

func (bytesType) Coerce(v any, _ bool) (any, error) {
	switch x := v.(type) {
	case []byte:
		return x, nil
	case string:
		return []byte(x), nil
	}
	return nil, fmt.Errorf("%w: cannot use %T as bytes", ErrTypeMismatch, v)
}

func (t bytesType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	b, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberB{Value: b.([]byte)}, nil
}

func (bytesType) Deserialize(av types.AttributeValue) (any, error) {
	b, ok := av.(*types.AttributeValueMemberB)
	if !ok {
		return nil, fmt.Errorf("%w: expected B, got %T", ErrTypeMismatch, av)
	}
	return b.Value, nil
}

type boolType struct{}

func (boolType) Name() string      { return "bool" }
func (boolType) Aliases() []string { return []string{"boolean"} }
func (boolType) Kind() Kind        { return KindBOOL }
func (boolType) Mutable() bool     { return false }

// Coerce parses JSON "true" and "false" strings. With force, numbers convert
// by truthiness.
func (boolType) Coerce(v any, force bool) (any, error) {
	switch x := v.(type) {
	case bool:
		return x, nil
	case string:
		var b bool
		if err := json.Unmarshal([]byte(x), &b); err != nil {
			return nil, fmt.Errorf("%w: %q is not a JSON bool", ErrTypeMismatch, x)
		}
		return b, nil
	}
	if force {
		n, ok, err := normalizeNumber(v)
		if err != nil {
			return nil, err
		}
		if ok {
			switch x := n.(type) {
			case int64:
				return x != 0, nil
			case float64:
				return x != 0, nil
			}
			return n.(interface{ Sign() int }).Sign() != 0, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot use %T as bool", ErrTypeMismatch, v)
}

func (t boolType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	b, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return &types.AttributeValueMemberBOOL{Value: b.(bool)}, nil
}

func (boolType) Deserialize(av types.AttributeValue) (any, error) {
	b, ok := av.(*types.AttributeValueMemberBOOL)
	if !ok {
		return nil, fmt.Errorf("%w: expected BOOL, got %T", ErrTypeMismatch, av)
	}
	return b.Value, nil
}
