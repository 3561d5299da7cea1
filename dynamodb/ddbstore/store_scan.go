package ddbstore

import (
	"context"

	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Scan reads every item of a table or index, optionally filtered.
// Items are returned grouped by partition in key order.
func (s *Store) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	if params.Segment != nil || params.TotalSegments != nil {
		return nil, validationErr("parallel scans are not supported")
	}

	tabl, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	idx, err := tabl.getIndex(params.IndexName)
	if err != nil {
		return nil, err
	}
	if idx != nil && idx.definition.Global && aws.ToBool(params.ConsistentRead) {
		return nil, validationErr("Consistent reads are not supported on global secondary indexes")
	}
	target := tabl.target(idx)
	vars := exprEnv(params.ExpressionAttributeNames, params.ExpressionAttributeValues)

	req := pageRequest{
		prefix: target.prefix,
		limit:  int(aws.ToInt32(params.Limit)),
		env:    vars,
		target: target,
	}
	if err := req.prepare(params.FilterExpression, params.ExclusiveStartKey); err != nil {
		return nil, err
	}
	page, err := s.readPage(req)
	if err != nil {
		return nil, err
	}

	out := &dynamodb.ScanOutput{
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
