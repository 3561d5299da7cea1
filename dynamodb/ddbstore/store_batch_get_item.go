package ddbstore

import (
	"context"

	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const maxBatchGetKeys = 100

// BatchGetItem retrieves up to 100 items across tables. Missing items are
// left out of the response; every key is processed.
func (s *Store) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationErr("request items is required")
	}

	type lookup struct {
		table string
		key   []byte
	}
	var lookups []lookup
	for tableName, ka := range params.RequestItems {
		tabl, err := s.getTable(&tableName)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, k := range ka.Keys {
			key, err := tabl.keyFor(k)
			if err != nil {
				return nil, err
			}
			if seen[string(key)] {
				return nil, validationErr("Provided list of item keys contains duplicates")
			}
			seen[string(key)] = true
			lookups = append(lookups, lookup{table: tableName, key: key})
		}
	}
	if len(lookups) > maxBatchGetKeys {
		return nil, validationErr("Too many items requested for the BatchGetItem call")
	}

	responses := make(map[string][]map[string]types.AttributeValue)
	err := s.db.View(func(txn *badger.Txn) error {
		for _, l := range lookups {
			item, err := readItem(txn, l.key)
			if err != nil {
				return err
			}
			if item == nil {
				continue
			}
			ka := params.RequestItems[l.table]
			if ka.ProjectionExpression != nil {
				p, err := ddbexpr.ParseProjection(*ka.ProjectionExpression)
				if err != nil {
					return validationErr("Invalid ProjectionExpression: %v", err)
				}
				if item, err = p.Apply(item, exprEnv(ka.ExpressionAttributeNames, nil)); err != nil {
					return validationErr("Invalid ProjectionExpression: %v", err)
				}
			}
			responses[l.table] = append(responses[l.table], item)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.BatchGetItemOutput{
		Responses:       responses,
		UnprocessedKeys: map[string]types.KeysAndAttributes{},
	}, nil
}
