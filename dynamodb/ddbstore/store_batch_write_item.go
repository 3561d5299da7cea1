package ddbstore

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

const maxBatchWriteRequests = 25

// BatchWriteItem performs up to 25 put/delete operations. All requests are
// applied in one transaction, so UnprocessedItems is always empty.
func (s *Store) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if params == nil || len(params.RequestItems) == 0 {
		return nil, validationErr("request items is required")
	}

	type write struct {
		table *tableSchema
		key   []byte
		item  map[string]types.AttributeValue // nil for deletes
	}
	var writes []write
	for tableName, reqs := range params.RequestItems {
		tabl, err := s.getTable(&tableName)
		if err != nil {
			return nil, err
		}
		seen := map[string]bool{}
		for _, req := range reqs {
			var w write
			switch {
			case req.PutRequest != nil:
				if err := tabl.validateItem(req.PutRequest.Item); err != nil {
					return nil, err
				}
				pk, err := tabl.definition.ExtractPrimaryKey(req.PutRequest.Item)
				if err != nil {
					return nil, validationErr("%v", err)
				}
				key, err := tabl.encodeKey(pk)
				if err != nil {
					return nil, err
				}
				w = write{table: tabl, key: key, item: req.PutRequest.Item}
			case req.DeleteRequest != nil:
				key, err := tabl.keyFor(req.DeleteRequest.Key)
				if err != nil {
					return nil, err
				}
				w = write{table: tabl, key: key}
			default:
				return nil, validationErr("write request must contain a PutRequest or a DeleteRequest")
			}
			if seen[string(w.key)] {
				return nil, validationErr("Provided list of item keys contains duplicates")
			}
			seen[string(w.key)] = true
			writes = append(writes, w)
		}
	}
	if len(writes) > maxBatchWriteRequests {
		return nil, validationErr("Too many items requested for the BatchWriteItem call")
	}

	err := s.update(func(txn *badger.Txn) error {
		for _, w := range writes {
			oldItem, err := readItem(txn, w.key)
			if err != nil {
				return err
			}
			if w.item == nil && oldItem == nil {
				continue
			}
			if err := s.writeItem(txn, w.table, w.key, w.item, oldItem); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return &dynamodb.BatchWriteItemOutput{
		UnprocessedItems: map[string][]types.WriteRequest{},
	}, nil
}
