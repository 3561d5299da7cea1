package table

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

type PrimaryKeyDefinition struct {
	PartitionKey KeyDef
	SortKey      KeyDef // zero value when the key is hash-only
}

type KeyDef struct {
	Name string
	Kind KeyKind
}

type KeyKind string

const (
	KeyKindS KeyKind = "S"
	KeyKindN KeyKind = "N"
	KeyKindB KeyKind = "B"
)

// Names returns the key attribute names, partition key first.
func (k PrimaryKeyDefinition) Names() []string {
	if k.SortKey.Name == "" {
		return []string{k.PartitionKey.Name}
	}
	return []string{k.PartitionKey.Name, k.SortKey.Name}
}

// HasKey reports whether every key attribute is present on the document.
// Documents without their index keys are left out of sparse indexes.
func (k PrimaryKeyDefinition) HasKey(doc map[string]types.AttributeValue) bool {
	for _, name := range k.Names() {
		if _, ok := doc[name]; !ok {
			return false
		}
	}
	return true
}

// PrimaryKeyValues holds raw key values: string for S, the decimal string for N
// and []byte for B.
type PrimaryKeyValues struct {
	PartitionKey any
	SortKey      any
}

type PrimaryKey struct {
	Definition PrimaryKeyDefinition
	Values     PrimaryKeyValues
}

// DDB renders the key as an attribute map suitable for GetItem/DeleteItem.
func (k PrimaryKey) DDB() map[string]types.AttributeValue {
	out := map[string]types.AttributeValue{
		k.Definition.PartitionKey.Name: keyValueToAV(k.Definition.PartitionKey.Kind, k.Values.PartitionKey),
	}
	if k.Definition.SortKey.Name != "" {
		out[k.Definition.SortKey.Name] = keyValueToAV(k.Definition.SortKey.Kind, k.Values.SortKey)
	}
	return out
}

func (k PrimaryKeyDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	part, ok := doc[k.PartitionKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("partition key %q not found", k.PartitionKey.Name)
	}
	if err := attributeMatchesDefinition(k.PartitionKey.Kind, part); err != nil {
		return PrimaryKey{}, fmt.Errorf("document key %q kind does not match definition: %w", k.PartitionKey.Name, err)
	}
	pk := PrimaryKey{
		Definition: k,
		Values: PrimaryKeyValues{
			PartitionKey: keyValueFromAV(part),
		},
	}
	if k.SortKey.Name == "" {
		return pk, nil
	}
	sort, ok := doc[k.SortKey.Name]
	if !ok {
		return PrimaryKey{}, fmt.Errorf("sort key %q not found on document", k.SortKey.Name)
	}
	if err := attributeMatchesDefinition(k.SortKey.Kind, sort); err != nil {
		return PrimaryKey{}, fmt.Errorf("sort key %q kind does not match definition: %w", k.SortKey.Name, err)
	}
	pk.Values.SortKey = keyValueFromAV(sort)
	return pk, nil
}

func keyValueFromAV(av types.AttributeValue) any {
	switch v := av.(type) {
	case *types.AttributeValueMemberS:
		return v.Value
	case *types.AttributeValueMemberN:
		return v.Value
	case *types.AttributeValueMemberB:
		return v.Value
	default:
		panic(fmt.Sprintf("unsupported attribute value %T for dynamodb keys", v))
	}
}

func keyValueToAV(kind KeyKind, v any) types.AttributeValue {
	switch kind {
	case KeyKindN:
		return &types.AttributeValueMemberN{Value: fmt.Sprint(v)}
	case KeyKindB:
		b, _ := v.([]byte)
		return &types.AttributeValueMemberB{Value: b}
	default:
		return &types.AttributeValueMemberS{Value: fmt.Sprint(v)}
	}
}

func attributeMatchesDefinition(want KeyKind, v types.AttributeValue) error {
	var got KeyKind
	switch v.(type) {
	case *types.AttributeValueMemberS:
		got = KeyKindS
	case *types.AttributeValueMemberN:
		got = KeyKindN
	case *types.AttributeValueMemberB:
		got = KeyKindB
	default:
		return fmt.Errorf("unexpected key attribute type %T", v)
	}
	if got != want {
		return fmt.Errorf("got KeyKind %q want %q", got, want)
	}
	return nil
}
