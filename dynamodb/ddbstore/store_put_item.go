package ddbstore

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// PutItem creates or replaces an item.
func (s *Store) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.Item == nil {
		return nil, validationErr("item is required")
	}
	switch params.ReturnValues {
	case "", types.ReturnValueNone, types.ReturnValueAllOld:
	default:
		return nil, validationErr("ReturnValues can only be ALL_OLD or NONE")
	}

	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	if err := tabl.validateItem(params.Item); err != nil {
		return nil, err
	}

	pk, err := tabl.definition.ExtractPrimaryKey(params.Item)
	if err != nil {
		return nil, validationErr("extract primary key: %v", err)
	}
	key, err := tabl.encodeKey(pk)
	if err != nil {
		return nil, fmt.Errorf("encode key: %w", err)
	}

	var oldItem map[string]types.AttributeValue
	err = s.update(func(txn *badger.Txn) error {
		oldItem, err = readItem(txn, key)
		if err != nil {
			return err
		}
		cond := exprEnv(params.ExpressionAttributeNames, params.ExpressionAttributeValues)
		if err := checkCondition(params.ConditionExpression, cond, oldItem, params.ReturnValuesOnConditionCheckFailure); err != nil {
			return err
		}
		return s.writeItem(txn, tabl, key, params.Item, oldItem)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.PutItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && oldItem != nil {
		out.Attributes = oldItem
	}
	return out, nil
}
