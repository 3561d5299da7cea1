package ddbsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MaxBatchGetItems is the DynamoDB limit on keys per BatchGetItem.
const MaxBatchGetItems = 100

// BatchGet reads keys from one table with BatchGetItem, 100 keys at a time,
// retrying unprocessed keys with backoff. Items come back in no particular
// order; missing items are left out.
func BatchGet(ctx context.Context, c Client, tableName string, keys []Item, opts ...BatchOption) ([]Item, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	o := batchOpts{backoff: DefaultBackoff}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxRetries == 0 && o.timeout == 0 {
		o.maxRetries = DefaultMaxRetries
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	var items []Item
	for start := 0; start < len(keys); start += MaxBatchGetItems {
		end := min(start+MaxBatchGetItems, len(keys))
		requestItems := map[string]types.KeysAndAttributes{
			tableName: {
				Keys:           keys[start:end],
				ConsistentRead: &o.consistentRead,
			},
		}
		for retries := 0; len(requestItems) > 0; retries++ {
			if retries > 0 {
				if o.maxRetries > 0 && retries > o.maxRetries {
					return nil, fmt.Errorf("max retries (%d) exceeded: %d keys unprocessed", o.maxRetries, len(requestItems[tableName].Keys))
				}
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(o.backoff(retries)):
				}
			}
			res, err := c.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{
				RequestItems: requestItems,
			})
			if err != nil {
				return nil, fmt.Errorf("batch get item failed: %w", err)
			}
			items = append(items, res.Responses[tableName]...)
			requestItems = nil
			if ka, ok := res.UnprocessedKeys[tableName]; ok && len(ka.Keys) > 0 {
				requestItems = map[string]types.KeysAndAttributes{tableName: ka}
			}
		}
	}
	return items, nil
}
