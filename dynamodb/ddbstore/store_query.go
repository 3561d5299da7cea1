package ddbstore

import (
	"bytes"
	"context"

	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// Query retrieves the items of one partition matching a key condition
// expression, in sort key order.
func (s *Store) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.KeyConditionExpression == nil {
		return nil, validationErr("Either the KeyConditions or KeyConditionExpression parameter must be specified in the request.")
	}

	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	idx, err := tabl.getIndex(params.IndexName)
	if err != nil {
		return nil, err
	}
	target := tabl.target(idx)
	if idx != nil && idx.definition.Global && aws.ToBool(params.ConsistentRead) {
		return nil, validationErr("Consistent reads are not supported on global secondary indexes")
	}

	vars := exprEnv(params.ExpressionAttributeNames, params.ExpressionAttributeValues)
	keyCond, err := ddbexpr.ParseKeyCondition(*params.KeyConditionExpression, vars, target.keys)
	if err != nil {
		return nil, validationErr("Invalid KeyConditionExpression: %v", err)
	}
	partitionOnly := table.PrimaryKeyDefinition{PartitionKey: target.keys.PartitionKey}
	pkValue, err := partitionOnly.ExtractPrimaryKey(map[string]types.AttributeValue{
		target.keys.PartitionKey.Name: keyCond.PartitionKey,
	})
	if err != nil {
		return nil, validationErr("%v", err)
	}
	prefix, err := encodePartitionPrefix(target.prefix, target.keys.PartitionKey.Kind, pkValue.Values.PartitionKey)
	if err != nil {
		return nil, err
	}

	req := pageRequest{
		prefix:  prefix,
		reverse: params.ScanIndexForward != nil && !*params.ScanIndexForward,
		limit:   int(aws.ToInt32(params.Limit)),
		env:     vars,
		target:  target,
	}
	if sortName := target.keys.SortKey.Name; sortName != "" && keyCond.Sort != nil {
		req.keyMatch = func(item map[string]types.AttributeValue) bool {
			return keyCond.Sort.Match(item[sortName])
		}
	}
	if err := req.prepare(params.FilterExpression, params.ExclusiveStartKey); err != nil {
		return nil, err
	}
	page, err := s.readPage(req)
	if err != nil {
		return nil, err
	}

	out := &dynamodb.QueryOutput{
		Count:            page.count,
		ScannedCount:     page.scanned,
		LastEvaluatedKey: page.lastKey,
	}
	if params.Select != types.SelectCount {
		if out.Items, err = ddbexpr.ProjectAll(params.ProjectionExpression, vars, page.items); err != nil {
			return nil, validationErr("Invalid ProjectionExpression: %v", err)
		}
	}
	return out, nil
}

// readTarget is the key space a read iterates: the table or one index.
type readTarget struct {
	prefix   []byte
	keys     table.PrimaryKeyDefinition
	keyNames []string
	encode   func(item map[string]types.AttributeValue) ([]byte, error)
}

func (t *tableSchema) target(idx *indexSchema) readTarget {
	if idx == nil {
		return readTarget{
			prefix:   tablePrefix(t.definition.Name),
			keys:     t.definition.KeyDefinitions,
			keyNames: t.definition.KeyDefinitions.Names(),
			encode: func(item map[string]types.AttributeValue) ([]byte, error) {
				pk, err := t.definition.ExtractPrimaryKey(item)
				if err != nil {
					return nil, err
				}
				return t.encodeKey(pk)
			},
		}
	}
	return readTarget{
		prefix:   indexPrefix(t.definition.Name, idx.definition.Name),
		keys:     idx.definition.KeyDefinitions,
		keyNames: idx.keyNames(),
		encode: func(item map[string]types.AttributeValue) ([]byte, error) {
			key, _, err := idx.encodeKey(item)
			return key, err
		},
	}
}

type pageRequest struct {
	prefix  []byte
	reverse bool
	limit   int
	env     ddbexpr.Env
	target  readTarget

	// keyMatch filters by key condition; rejected items do not count as read.
	keyMatch func(item map[string]types.AttributeValue) bool
	filter   *ddbexpr.Condition
	start    []byte
}

func (r *pageRequest) prepare(filterExpr *string, startKey map[string]types.AttributeValue) error {
	if filterExpr != nil {
		f, err := ddbexpr.ParseCondition(*filterExpr)
		if err != nil {
			return validationErr("Invalid FilterExpression: %v", err)
		}
		r.filter = f
	}
	if len(startKey) > 0 {
		key, err := r.target.encode(startKey)
		if err != nil || key == nil {
			return validationErr("The provided starting key is invalid: %v", err)
		}
		if !bytes.HasPrefix(key, r.prefix) {
			return validationErr("The provided starting key is outside the query range")
		}
		r.start = key
	}
	if r.limit < 0 {
		return validationErr("Limit must be greater than or equal to 1")
	}
	return nil
}

type page struct {
	items   []map[string]types.AttributeValue
	count   int32
	scanned int32
	lastKey map[string]types.AttributeValue
}

// readPage iterates the target in key order, counting every key-matching item
// towards the limit before the filter applies.
func (s *Store) readPage(req pageRequest) (*page, error) {
	out := &page{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = req.reverse
		opts.Prefix = req.prefix

		it := txn.NewIterator(opts)
		defer it.Close()

		switch {
		case req.start != nil:
			it.Seek(req.start)
			if it.Valid() && bytes.Equal(it.Item().Key(), req.start) {
				it.Next()
			}
		case req.reverse:
			it.Seek(incrementBytes(req.prefix))
		default:
			it.Seek(req.prefix)
		}

		for ; it.Valid(); it.Next() {
			if req.limit > 0 && int(out.scanned) >= req.limit {
				return nil
			}
			var item map[string]types.AttributeValue
			if err := it.Item().Value(func(val []byte) error {
				var err error
				item, err = DeserializeItem(val)
				return err
			}); err != nil {
				return err
			}
			if req.keyMatch != nil && !req.keyMatch(item) {
				continue
			}
			out.scanned++
			out.lastKey = lastEvaluatedKey(item, req.target.keyNames)

			if req.filter != nil {
				ok, err := req.filter.Eval(item, req.env)
				if err != nil {
					return validationErr("Invalid FilterExpression: %v", err)
				}
				if !ok {
					continue
				}
			}
			out.items = append(out.items, item)
			out.count++
		}
		out.lastKey = nil
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func lastEvaluatedKey(item map[string]types.AttributeValue, keyNames []string) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(keyNames))
	for _, k := range keyNames {
		if v, ok := item[k]; ok {
			out[k] = v
		}
	}
	return out
}
