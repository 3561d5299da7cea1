package ddbstore

import (
	"context"
	"fmt"

	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// GetItem retrieves a single item by its primary key. A missing item yields
// an output without Item, as DynamoDB does.
func (s *Store) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.Key == nil {
		return nil, validationErr("key is required")
	}

	t, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := t.keyFor(params.Key)
	if err != nil {
		return nil, err
	}

	var item map[string]types.AttributeValue
	err = s.db.View(func(txn *badger.Txn) error {
		item, err = readItem(txn, key)
		return err
	})
	if err != nil {
		return nil, err
	}
	if item == nil {
		return &dynamodb.GetItemOutput{}, nil
	}

	if params.ProjectionExpression != nil {
		p, err := ddbexpr.ParseProjection(*params.ProjectionExpression)
		if err != nil {
			return nil, validationErr("Invalid ProjectionExpression: %v", err)
		}
		if item, err = p.Apply(item, exprEnv(params.ExpressionAttributeNames, nil)); err != nil {
			return nil, validationErr("Invalid ProjectionExpression: %v", err)
		}
	}
	return &dynamodb.GetItemOutput{Item: item}, nil
}

// keyFor validates a request key: exactly the key attributes of the table,
// with matching kinds.
func (t *tableSchema) keyFor(keyAttrs map[string]types.AttributeValue) ([]byte, error) {
	if len(keyAttrs) != len(t.definition.KeyDefinitions.Names()) {
		return nil, validationErr("The provided key element does not match the schema")
	}
	pk, err := t.definition.ExtractPrimaryKey(keyAttrs)
	if err != nil {
		return nil, validationErr("The provided key element does not match the schema: %v", err)
	}
	key, err := t.encodeKey(pk)
	if err != nil {
		return nil, fmt.Errorf("encode key: %w", err)
	}
	return key, nil
}
