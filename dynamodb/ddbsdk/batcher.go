package ddbsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// MaxBatchWriteItems is the DynamoDB limit on requests per BatchWriteItem.
const MaxBatchWriteItems = 25

// DefaultMaxRetries bounds unprocessed-item rounds when no limit is configured.
const DefaultMaxRetries = 8

// Batcher collects unconditional puts and deletes and writes them with
// BatchWriteItem, 25 requests at a time.
type Batcher struct {
	client Client
	opts   batchOpts

	pending []pendingWrite
	keys    map[string]bool
	retries int
}

type pendingWrite struct {
	table string
	id    string
	key   Item
	req   types.WriteRequest
}

func NewBatcher(c Client, opts ...BatchOption) *Batcher {
	b := &Batcher{
		client: c,
		keys:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(&b.opts)
	}
	// Default exponential backoff: 50ms base, 2x multiplier, 5s cap, full jitter
	if b.opts.backoff == nil {
		b.opts.backoff = DefaultBackoff
	}
	if b.opts.maxRetries == 0 && b.opts.timeout == 0 {
		b.opts.maxRetries = DefaultMaxRetries
	}
	return b
}

// AddPut queues a put of item into def's table.
// Returns an error if a request for the same primary key is already queued.
func (b *Batcher) AddPut(def table.TableDefinition, item Item) error {
	pk, err := def.ExtractPrimaryKey(item)
	if err != nil {
		return fmt.Errorf("batch put into %s: %w", def.Name, err)
	}
	return b.add(def.Name, pk, types.WriteRequest{PutRequest: &types.PutRequest{Item: item}})
}

// AddDelete queues a delete of key from def's table.
func (b *Batcher) AddDelete(def table.TableDefinition, key table.PrimaryKey) error {
	return b.add(def.Name, key, types.WriteRequest{DeleteRequest: &types.DeleteRequest{Key: key.DDB()}})
}

func (b *Batcher) add(tableName string, pk table.PrimaryKey, req types.WriteRequest) error {
	id := fmt.Sprintf("%s\x00%v\x00%v", tableName, pk.Values.PartitionKey, pk.Values.SortKey)
	if b.keys[id] {
		return fmt.Errorf("duplicate action for table %s", tableName)
	}
	b.keys[id] = true
	b.pending = append(b.pending, pendingWrite{table: tableName, id: id, key: pk.DDB(), req: req})
	return nil
}

// Len returns the number of queued requests.
func (b *Batcher) Len() int {
	return len(b.pending)
}

// Exec sends one BatchWriteItem call with up to 25 queued requests (no
// retries). Unprocessed requests go back to the front of the queue.
func (b *Batcher) Exec(ctx context.Context) (ExecResult, error) {
	if len(b.pending) == 0 {
		return ExecResult{Retries: b.retries}, nil
	}

	n := min(len(b.pending), MaxBatchWriteItems)
	chunk := b.pending[:n]
	requestItems := make(map[string][]types.WriteRequest)
	for _, w := range chunk {
		requestItems[w.table] = append(requestItems[w.table], w.req)
	}

	res, err := b.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
		RequestItems: requestItems,
	})
	if err != nil {
		return ExecResult{Unprocessed: len(b.pending), Retries: b.retries}, fmt.Errorf("batch write failed: %w", err)
	}

	unprocessed := unprocessedWrites(chunk, res.UnprocessedItems)
	for _, w := range chunk {
		delete(b.keys, w.id)
	}
	for _, w := range unprocessed {
		b.keys[w.id] = true
	}
	b.pending = append(unprocessed, b.pending[n:]...)
	if len(unprocessed) > 0 {
		b.retries++
	}

	return ExecResult{
		Unprocessed: len(b.pending),
		Throttled:   len(unprocessed),
		Retries:     b.retries,
	}, nil
}

// ExecAndRetry writes all queued requests, retrying unprocessed ones until
// complete or the configured limits are exceeded.
// Uses exponential backoff by default (50ms, 100ms, 200ms, ...), override with [WithCustomBackoff].
//
// Example:
//
//	batch := ddbsdk.NewBatcher(client, ddbsdk.WithMaxRetries(5))
//	batch.AddPut(usersTable, user)
//	batch.AddDelete(ordersTable, oldOrderKey)
//	if err := batch.ExecAndRetry(ctx); err != nil {
//	    return err
//	}
func (b *Batcher) ExecAndRetry(ctx context.Context) error {
	if b.opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.opts.timeout)
		defer cancel()
	}
	for {
		res, err := b.Exec(ctx)
		if err != nil {
			return err
		}
		if res.Done() {
			return nil
		}
		if res.Throttled == 0 {
			continue
		}
		if b.opts.maxRetries > 0 && res.Retries >= b.opts.maxRetries {
			return fmt.Errorf("max retries (%d) exceeded: %d items unprocessed", b.opts.maxRetries, len(b.pending))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(b.opts.backoff(res.Retries)):
		}
	}
}

// unprocessedWrites maps the UnprocessedItems of a response back to the
// queued writes they came from.
func unprocessedWrites(chunk []pendingWrite, unprocessed map[string][]types.WriteRequest) []pendingWrite {
	if len(unprocessed) == 0 {
		return nil
	}
	var out []pendingWrite
	for _, w := range chunk {
		for _, req := range unprocessed[w.table] {
			if sameRequest(w, req) {
				out = append(out, w)
				break
			}
		}
	}
	return out
}

func sameRequest(w pendingWrite, req types.WriteRequest) bool {
	switch {
	case w.req.PutRequest != nil && req.PutRequest != nil:
		return hasKey(req.PutRequest.Item, w.key)
	case w.req.DeleteRequest != nil && req.DeleteRequest != nil:
		return hasKey(req.DeleteRequest.Key, w.key)
	}
	return false
}

// hasKey reports whether attrs carries every key attribute with the same value.
func hasKey(attrs, key Item) bool {
	for k, av := range key {
		bv, ok := attrs[k]
		if !ok || !attributeValuesEqual(av, bv) {
			return false
		}
	}
	return true
}

// attributeValuesEqual compares two key AttributeValues.
func attributeValuesEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		if bv, ok := b.(*types.AttributeValueMemberS); ok {
			return av.Value == bv.Value
		}
	case *types.AttributeValueMemberN:
		if bv, ok := b.(*types.AttributeValueMemberN); ok {
			return av.Value == bv.Value
		}
	case *types.AttributeValueMemberB:
		if bv, ok := b.(*types.AttributeValueMemberB); ok {
			return string(av.Value) == string(bv.Value)
		}
	}
	return false
}

// ExecResult contains the result of a Write operation.
type ExecResult struct {
	// Unprocessed counts the requests still queued.
	Unprocessed int
	// Throttled counts the requests of the last call the store did not process.
	Throttled int
	Retries   int
}

// Done returns true if all items were successfully processed.
func (r ExecResult) Done() bool {
	return r.Unprocessed == 0
}

// Err returns nil if Done(), otherwise returns an error.
func (r ExecResult) Err() error {
	if r.Done() {
		return nil
	}
	return fmt.Errorf("batch incomplete: %d items unprocessed after %d retries", r.Unprocessed, r.Retries)
}

type BatchOption func(*batchOpts)

// WithMaxRetries sets the maximum number of unprocessed-item rounds.
func WithMaxRetries(n int) BatchOption {
	return func(o *batchOpts) {
		o.maxRetries = n
	}
}

// WithTimeout sets a timeout for [Batcher.ExecAndRetry] and [BatchGet].
func WithTimeout(d time.Duration) BatchOption {
	return func(o *batchOpts) {
		o.timeout = d
	}
}

// WithCustomBackoff sets the wait between unprocessed-item rounds.
func WithCustomBackoff(fn BackoffFunc) BatchOption {
	return func(o *batchOpts) {
		o.backoff = fn
	}
}

// WithExponentialBackoff sets exponential backoff for retries.
// See [ExponentialBackoff] for details.
func WithExponentialBackoff(base time.Duration, multiplier float64, cap time.Duration) BatchOption {
	return WithCustomBackoff(ExponentialBackoff(base, multiplier, cap))
}

// WithConsistentRead makes [BatchGet] use strongly consistent reads.
func WithConsistentRead(consistent bool) BatchOption {
	return func(o *batchOpts) {
		o.consistentRead = consistent
	}
}

type batchOpts struct {
	maxRetries     int
	timeout        time.Duration
	backoff        BackoffFunc
	consistentRead bool
}
