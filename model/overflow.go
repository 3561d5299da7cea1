package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Undeclared attributes keep numbers and sets native. Everything else is
// stored as JSON in a string attribute.

func coerceOverflow(v any) (any, error) {
	switch x := v.(type) {
	case nil, string, bool, []byte, *ddbtype.Set:
		return x, nil
	case map[string]any:
		return ddbtype.Dict.Coerce(x, false)
	case []any:
		return ddbtype.List.Coerce(x, false)
	}
	if n, err := ddbtype.Number.Coerce(v, false); err == nil {
		return n, nil
	}
	switch reflect.ValueOf(v).Kind() {
	case reflect.Map:
		return ddbtype.Dict.Coerce(v, false)
	case reflect.Slice, reflect.Array:
		return ddbtype.List.Coerce(v, false)
	}
	return v, nil
}

func serializeOverflow(v any) (types.AttributeValue, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case *ddbtype.Set:
		if x.Len() == 0 {
			return nil, nil
		}
		return x.MarshalDynamoDBAttributeValue()
	case []byte:
		return &types.AttributeValueMemberB{Value: x}, nil
	}
	if n, err := ddbtype.Number.Coerce(v, false); err == nil {
		return ddbtype.Number.Serialize(n)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ddbtype.ErrTypeMismatch, err)
	}
	return &types.AttributeValueMemberS{Value: string(data)}, nil
}

func deserializeOverflow(av types.AttributeValue) (any, error) {
	switch a := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberN:
		return ddbtype.Number.Deserialize(a)
	case *types.AttributeValueMemberB:
		return a.Value, nil
	case *types.AttributeValueMemberBOOL:
		return a.Value, nil
	case *types.AttributeValueMemberM:
		return ddbtype.Dict.Deserialize(a)
	case *types.AttributeValueMemberL:
		return ddbtype.List.Deserialize(a)
	case *types.AttributeValueMemberSS:
		return nativeSet(ddbtype.Str, a)
	case *types.AttributeValueMemberNS:
		return nativeSet(ddbtype.Number, a)
	case *types.AttributeValueMemberBS:
		return nativeSet(ddbtype.Bytes, a)
	case *types.AttributeValueMemberS:
		return decodeOverflowJSON(a.Value), nil
	}
	return nil, fmt.Errorf("%w: unsupported attribute value %T", ddbtype.ErrTypeMismatch, av)
}

func nativeSet(elem ddbtype.Definition, av types.AttributeValue) (any, error) {
	def, err := ddbtype.SetOf(elem)
	if err != nil {
		return nil, err
	}
	return def.Deserialize(av)
}

// decodeOverflowJSON falls back to the raw string for values written by other
// clients.
func decodeOverflowJSON(s string) any {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil || dec.More() {
		return s
	}
	if n, ok := v.(json.Number); ok {
		v = n.String()
		if c, err := ddbtype.Number.Coerce(v, true); err == nil {
			return c
		}
	}
	c, err := coerceOverflow(v)
	if err != nil {
		return s
	}
	return c
}

func isMutable(v any) bool {
	switch v.(type) {
	case map[string]any, []any, *ddbtype.Set:
		return true
	}
	return false
}

// SerializeValue renders v as the attribute value name would store. Declared
// fields coerce v with their type, forcing conversions when force is set.
// Undeclared names use the overflow encoding.
func (m *Metadata) SerializeValue(name string, v any, force bool) (types.AttributeValue, error) {
	f, ok := m.fields[name]
	if !ok {
		c, err := coerceOverflow(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		return serializeOverflow(c)
	}
	c, err := f.Type.Coerce(v, force)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f.Type.Serialize(c)
}
