package ddbstore

import (
	"context"

	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// UpdateItem updates an existing item or creates a new one from its key.
func (s *Store) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.Key == nil {
		return nil, validationErr("key is required")
	}

	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	key, err := tabl.keyFor(params.Key)
	if err != nil {
		return nil, err
	}

	var update *ddbexpr.Update
	if params.UpdateExpression != nil {
		if update, err = ddbexpr.ParseUpdate(*params.UpdateExpression); err != nil {
			return nil, validationErr("Invalid UpdateExpression: %v", err)
		}
	}
	vars := exprEnv(params.ExpressionAttributeNames, params.ExpressionAttributeValues)

	var oldItem, newItem map[string]types.AttributeValue
	var updated []string
	err = s.update(func(txn *badger.Txn) error {
		oldItem, err = readItem(txn, key)
		if err != nil {
			return err
		}
		if err := checkCondition(params.ConditionExpression, vars, oldItem, params.ReturnValuesOnConditionCheckFailure); err != nil {
			return err
		}

		base := ddbexpr.CopyItem(oldItem)
		if base == nil {
			base = make(map[string]types.AttributeValue, len(params.Key))
		}
		for k, v := range params.Key {
			base[k] = v
		}
		newItem = base
		if update != nil {
			res, err := update.Apply(base, vars)
			if err != nil {
				return validationErr("Invalid UpdateExpression: %v", err)
			}
			newItem, updated = res.Item, res.Updated
		}
		for _, name := range updated {
			if _, isKey := params.Key[name]; isKey {
				return validationErr("One or more parameter values were invalid: Cannot update attribute %s. This attribute is part of the key", name)
			}
		}
		if err := tabl.validateItem(newItem); err != nil {
			return err
		}
		return s.writeItem(txn, tabl, key, newItem, oldItem)
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.UpdateItemOutput{
		Attributes: returnAttributes(params.ReturnValues, oldItem, newItem, updated),
	}, nil
}
