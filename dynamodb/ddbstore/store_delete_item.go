package ddbstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// DeleteItem removes an item by primary key. Deleting a missing item succeeds
// unless a condition says otherwise.
func (s *Store) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.Key == nil {
		return nil, validationErr("key is required")
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
	key, err := tabl.keyFor(params.Key)
	if err != nil {
		return nil, err
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
		if oldItem == nil {
			return nil
		}
		return s.writeItem(txn, tabl, key, nil, oldItem)
	})
	if err != nil {
		return nil, err
	}

	out := &dynamodb.DeleteItemOutput{}
	if params.ReturnValues == types.ReturnValueAllOld && oldItem != nil {
		out.Attributes = oldItem
	}
	return out, nil
}
