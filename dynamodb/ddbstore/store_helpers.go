package ddbstore

import (
	"errors"
	"slices"

	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

func ptrStr(s string) *string {
	return &s
}

func incrementBytes(b []byte) []byte {
	result := make([]byte, len(b))
	copy(result, b)
	for i := len(result) - 1; i >= 0; i-- {
		if result[i] < 0xFF {
			result[i]++
			return result
		}
		result[i] = 0
	}
	// Overflow - append 0x00
	return append(result, 0x00)
}

// readItem loads the item stored under key, returning nil when absent.
func readItem(txn *badger.Txn, key []byte) (map[string]types.AttributeValue, error) {
	existing, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var item map[string]types.AttributeValue
	err = existing.Value(func(val []byte) error {
		item, err = DeserializeItem(val)
		return err
	})
	return item, err
}

// checkCondition evaluates an optional condition expression against the
// current item.
func checkCondition(expr *string, env ddbexpr.Env, old map[string]types.AttributeValue, onFail types.ReturnValuesOnConditionCheckFailure) error {
	if expr == nil {
		return nil
	}
	ok, err := ddbexpr.Eval(*expr, env, old)
	if err != nil {
		return validationErr("Invalid ConditionExpression: %v", err)
	}
	if !ok {
		return conditionalCheckFailed(old, onFail)
	}
	return nil
}

// validateItem checks the rules DynamoDB applies to written items: keys of
// the declared kind, no empty key strings or binaries, no empty sets.
func (t *tableSchema) validateItem(item map[string]types.AttributeValue) error {
	if _, err := t.definition.ExtractPrimaryKey(item); err != nil {
		return validationErr("One or more parameter values were invalid: %v", err)
	}
	for _, idx := range t.indexes {
		for _, k := range []table.KeyDef{idx.definition.KeyDefinitions.PartitionKey, idx.definition.KeyDefinitions.SortKey} {
			v, ok := item[k.Name]
			if k.Name == "" || !ok {
				continue
			}
			if ddbexpr.TypeName(v) != string(k.Kind) {
				return validationErr("One or more parameter values were invalid: Type mismatch for Index Key %s Expected: %s Actual: %s IndexName: %s", k.Name, k.Kind, ddbexpr.TypeName(v), idx.definition.Name)
			}
		}
	}
	for _, name := range t.definition.KeyNames() {
		switch v := item[name].(type) {
		case *types.AttributeValueMemberS:
			if v.Value == "" {
				return validationErr("One or more parameter values are not valid. The AttributeValue for a key attribute cannot contain an empty string value. Key: %s", name)
			}
		case *types.AttributeValueMemberB:
			if len(v.Value) == 0 {
				return validationErr("One or more parameter values are not valid. The AttributeValue for a key attribute cannot contain an empty binary value. Key: %s", name)
			}
		}
	}
	for name, v := range item {
		if emptySet(v) {
			return validationErr("One or more parameter values were invalid: An number set, string set or binary set may not be empty for attribute %s", name)
		}
	}
	return nil
}

func emptySet(v types.AttributeValue) bool {
	switch s := v.(type) {
	case *types.AttributeValueMemberSS:
		return len(s.Value) == 0
	case *types.AttributeValueMemberNS:
		return len(s.Value) == 0
	case *types.AttributeValueMemberBS:
		return len(s.Value) == 0
	}
	return false
}

// writeItem stores newItem under key and keeps every index in step with the
// change from oldItem. A nil newItem deletes.
func (s *Store) writeItem(txn *badger.Txn, t *tableSchema, key []byte, newItem, oldItem map[string]types.AttributeValue) error {
	if newItem == nil {
		if err := txn.Delete(key); err != nil {
			return err
		}
	} else {
		itemBytes, err := SerializeItem(newItem)
		if err != nil {
			return err
		}
		if err := txn.Set(key, itemBytes); err != nil {
			return err
		}
	}
	for _, idx := range t.indexes {
		if err := s.updateIndex(txn, idx, newItem, oldItem); err != nil {
			return err
		}
	}
	return nil
}

// updateIndex removes the old index entry and writes the projected new one.
// Items without the index keys are left out, so indexes are sparse.
func (s *Store) updateIndex(txn *badger.Txn, idx *indexSchema, newItem, oldItem map[string]types.AttributeValue) error {
	var oldKey, newKey []byte
	if oldItem != nil {
		k, ok, err := idx.encodeKey(oldItem)
		if err != nil {
			return err
		}
		if ok {
			oldKey = k
		}
	}
	if newItem != nil {
		k, ok, err := idx.encodeKey(newItem)
		if err != nil {
			return err
		}
		if ok {
			newKey = k
		}
	}
	if oldKey != nil && !slices.Equal(oldKey, newKey) {
		if err := txn.Delete(oldKey); err != nil {
			return err
		}
	}
	if newKey == nil {
		return nil
	}
	projected := idx.definition.Projection.Project(newItem, idx.keyNames())
	itemBytes, err := SerializeItem(projected)
	if err != nil {
		return err
	}
	return txn.Set(newKey, itemBytes)
}

// returnAttributes picks the attributes an UpdateItem returns.
func returnAttributes(rv types.ReturnValue, oldItem, newItem map[string]types.AttributeValue, updated []string) map[string]types.AttributeValue {
	pick := func(item map[string]types.AttributeValue) map[string]types.AttributeValue {
		out := map[string]types.AttributeValue{}
		for _, name := range updated {
			if v, ok := item[name]; ok {
				out[name] = v
			}
		}
		return out
	}
	switch rv {
	case types.ReturnValueAllOld:
		return oldItem
	case types.ReturnValueAllNew:
		return newItem
	case types.ReturnValueUpdatedOld:
		if oldItem == nil {
			return nil
		}
		return pick(oldItem)
	case types.ReturnValueUpdatedNew:
		return pick(newItem)
	}
	return nil
}

func exprEnv(names map[string]string, values map[string]types.AttributeValue) ddbexpr.Env {
	return ddbexpr.Env{Names: names, Values: values}
}
