package engine

import (
	"context"
	"fmt"

	"github.com/acksell/flywheel/dynamodb/ddbsdk"
	"github.com/acksell/flywheel/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// CallOption overrides the engine defaults for one call.
type CallOption func(*callOpts)

type callOpts struct {
	atomic     *bool
	overwrite  *bool
	consistent bool
}

// Atomic makes Sync and Delete conditional on the stored item still matching
// the record's baseline.
func Atomic(b bool) CallOption {
	return func(o *callOpts) { o.atomic = &b }
}

// Overwrite lets Save replace an existing item.
func Overwrite(b bool) CallOption {
	return func(o *callOpts) { o.overwrite = &b }
}

// Consistent requests strongly consistent reads.
func Consistent(b bool) CallOption {
	return func(o *callOpts) { o.consistent = b }
}

func applyOpts(opts []CallOption) callOpts {
	var o callOpts
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func orDefault(b *bool, def bool) bool {
	if b == nil {
		return def
	}
	return *b
}

// rawValue hands an attribute value to the expression builder as is.
type rawValue struct {
	av types.AttributeValue
}

func (v rawValue) MarshalDynamoDBAttributeValue() (types.AttributeValue, error) {
	return v.av, nil
}

func value(av types.AttributeValue) expression.ValueBuilder {
	return expression.Value(rawValue{av})
}

// expectAll renders a condition requiring every attribute of expected to hold
// its value, or to be absent when the value is nil.
func expectAll(expected model.Item) (expression.ConditionBuilder, bool) {
	var conds []expression.ConditionBuilder
	for _, name := range sortedNames(expected) {
		av := expected[name]
		if av == nil {
			conds = append(conds, expression.AttributeNotExists(expression.Name(name)))
		} else {
			conds = append(conds, expression.Name(name).Equal(value(av)))
		}
	}
	switch len(conds) {
	case 0:
		return expression.ConditionBuilder{}, false
	case 1:
		return conds[0], true
	}
	return expression.And(conds[0], conds[1], conds[2:]...), true
}

// Save writes the whole record. Unless overwriting, the write fails with
// ErrConditionalCheckFailed when an item with the same key exists.
func (e *Engine) Save(ctx context.Context, rec *model.Record, opts ...CallOption) error {
	o := applyOpts(opts)
	if err := rec.Validate(); err != nil {
		return err
	}
	item, err := rec.Item()
	if err != nil {
		return err
	}
	meta := rec.Meta()
	in := &dynamodb.PutItemInput{
		TableName: aws.String(meta.TableName()),
		Item:      item,
	}
	if !orDefault(o.overwrite, e.atomic.saveOverwrite()) {
		expr, err := expression.NewBuilder().
			WithCondition(expression.AttributeNotExists(expression.Name(meta.HashKey().Name))).
			Build()
		if err != nil {
			return err
		}
		in.ConditionExpression = expr.Condition()
		in.ExpressionAttributeNames = expr.Names()
	}
	err = e.call("PutItem", meta.TableName(), func() error {
		_, err := e.client.PutItem(ctx, in)
		return err
	})
	if err != nil {
		return err
	}
	return rec.Reload(item)
}

// SaveAll saves records. Overwriting saves are batched with BatchWriteItem,
// the others are written one by one and stop at the first failure.
func (e *Engine) SaveAll(ctx context.Context, recs []*model.Record, opts ...CallOption) error {
	o := applyOpts(opts)
	if !orDefault(o.overwrite, e.atomic.saveOverwrite()) {
		for _, rec := range recs {
			if err := e.Save(ctx, rec, opts...); err != nil {
				return err
			}
		}
		return nil
	}

	b := ddbsdk.NewBatcher(e.client, e.batchOpts...)
	items := make([]model.Item, len(recs))
	for i, rec := range recs {
		if err := rec.Validate(); err != nil {
			return err
		}
		item, err := rec.Item()
		if err != nil {
			return err
		}
		if err := b.AddPut(rec.Meta().TableDefinition(), item); err != nil {
			return err
		}
		items[i] = item
	}
	if err := e.execBatch(ctx, b); err != nil {
		return err
	}
	for i, rec := range recs {
		if err := rec.Reload(items[i]); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) execBatch(ctx context.Context, b *ddbsdk.Batcher) error {
	if b.Len() == 0 {
		return nil
	}
	n := b.Len()
	return e.call("BatchWriteItem", "", func() error {
		e.log.Debug().Int("requests", n).Msg("batch write")
		return b.ExecAndRetry(ctx)
	})
}

// Sync writes the changes of the record as a partial update and loads the
// stored result back. A record without changes is refreshed instead, unless
// it was never persisted, in which case nothing happens.
//
// Atomic syncs require every replaced attribute to still hold its baseline
// value. Updates touching composites are always atomic. Increments and set
// deltas are never conditional.
func (e *Engine) Sync(ctx context.Context, rec *model.Record, opts ...CallOption) error {
	o := applyOpts(opts)
	ch, err := rec.Changes()
	if err != nil {
		return err
	}
	if ch.Empty() {
		if !rec.Persisted() {
			return nil
		}
		return e.Refresh(ctx, rec, opts...)
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	key, err := rec.Key()
	if err != nil {
		return err
	}

	var update expression.UpdateBuilder
	for _, name := range sortedNames(ch.Set) {
		update = update.Set(expression.Name(name), value(ch.Set[name]))
	}
	for _, name := range ch.Remove {
		update = update.Remove(expression.Name(name))
	}
	for _, name := range sortedNames(ch.Add) {
		update = update.Add(expression.Name(name), value(ch.Add[name]))
	}
	for _, name := range sortedNames(ch.Delete) {
		update = update.Delete(expression.Name(name), value(ch.Delete[name]))
	}
	b := expression.NewBuilder().WithUpdate(update)
	atomic := orDefault(o.atomic, e.atomic.syncAtomic()) || ch.Atomic
	if atomic {
		if cond, ok := expectAll(ch.Expected); ok {
			b = b.WithCondition(cond)
		}
	}
	expr, err := b.Build()
	if err != nil {
		return err
	}

	meta := rec.Meta()
	var out *dynamodb.UpdateItemOutput
	err = e.call("UpdateItem", meta.TableName(), func() (err error) {
		out, err = e.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 aws.String(meta.TableName()),
			Key:                       key,
			UpdateExpression:          expr.Update(),
			ConditionExpression:       expr.Condition(),
			ExpressionAttributeNames:  expr.Names(),
			ExpressionAttributeValues: expr.Values(),
			ReturnValues:              types.ReturnValueAllNew,
		})
		return err
	})
	if err != nil {
		return err
	}
	return rec.Reload(out.Attributes)
}

// Delete removes the stored item of the record. Atomic deletes require the
// stored item to equal the baseline, or the record's current values when it
// was never persisted.
func (e *Engine) Delete(ctx context.Context, rec *model.Record, opts ...CallOption) error {
	o := applyOpts(opts)
	key, err := rec.Key()
	if err != nil {
		return err
	}
	meta := rec.Meta()
	in := &dynamodb.DeleteItemInput{
		TableName: aws.String(meta.TableName()),
		Key:       key,
	}
	if orDefault(o.atomic, e.atomic.deleteAtomic()) {
		expected := rec.Baseline()
		if !rec.Persisted() {
			if expected, err = rec.Item(); err != nil {
				return err
			}
		}
		if cond, ok := expectAll(expected); ok {
			expr, err := expression.NewBuilder().WithCondition(cond).Build()
			if err != nil {
				return err
			}
			in.ConditionExpression = expr.Condition()
			in.ExpressionAttributeNames = expr.Names()
			in.ExpressionAttributeValues = expr.Values()
		}
	}
	return e.call("DeleteItem", meta.TableName(), func() error {
		_, err := e.client.DeleteItem(ctx, in)
		return err
	})
}

// DeleteAll deletes records. Non-atomic deletes are batched with
// BatchWriteItem.
func (e *Engine) DeleteAll(ctx context.Context, recs []*model.Record, opts ...CallOption) error {
	o := applyOpts(opts)
	if orDefault(o.atomic, e.atomic.deleteAtomic()) {
		for _, rec := range recs {
			if err := e.Delete(ctx, rec, opts...); err != nil {
				return err
			}
		}
		return nil
	}
	b := ddbsdk.NewBatcher(e.client, e.batchOpts...)
	for _, rec := range recs {
		key, err := rec.Key()
		if err != nil {
			return err
		}
		def := rec.Meta().TableDefinition()
		pk, err := def.ExtractPrimaryKey(key)
		if err != nil {
			return err
		}
		if err := b.AddDelete(def, pk); err != nil {
			return err
		}
	}
	return e.execBatch(ctx, b)
}

// Refresh replaces the values of the record with the stored item. It fails
// with ErrNotFound when there is none.
func (e *Engine) Refresh(ctx context.Context, rec *model.Record, opts ...CallOption) error {
	o := applyOpts(opts)
	key, err := rec.Key()
	if err != nil {
		return err
	}
	item, err := e.getItem(ctx, rec.Meta(), key, o.consistent)
	if err != nil {
		return err
	}
	return rec.Reload(item)
}

func (e *Engine) getItem(ctx context.Context, meta *model.Metadata, key model.Item, consistent bool) (model.Item, error) {
	var out *dynamodb.GetItemOutput
	err := e.call("GetItem", meta.TableName(), func() (err error) {
		out, err = e.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(meta.TableName()),
			Key:            key,
			ConsistentRead: aws.Bool(consistent),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if out.Item == nil {
		return nil, fmt.Errorf("%w: %s %v", ErrNotFound, meta.Name(), keyString(meta, key))
	}
	return out.Item, nil
}

// RefreshAll refreshes records with BatchGetItem. Records whose item is gone
// keep their values and make RefreshAll return ErrNotFound once the others
// are refreshed.
func (e *Engine) RefreshAll(ctx context.Context, recs []*model.Record, opts ...CallOption) error {
	o := applyOpts(opts)
	byTable := map[string][]*model.Record{}
	var tables []string
	for _, rec := range recs {
		name := rec.Meta().TableName()
		if _, ok := byTable[name]; !ok {
			tables = append(tables, name)
		}
		byTable[name] = append(byTable[name], rec)
	}
	missing := 0
	for _, name := range tables {
		group := byTable[name]
		meta := group[0].Meta()
		keys := make([]model.Item, len(group))
		for i, rec := range group {
			key, err := rec.Key()
			if err != nil {
				return err
			}
			keys[i] = key
		}
		items, err := e.batchGet(ctx, meta, keys, o.consistent)
		if err != nil {
			return err
		}
		for i, rec := range group {
			item, ok := items[keyString(meta, keys[i])]
			if !ok {
				missing++
				continue
			}
			if err := rec.Reload(item); err != nil {
				return err
			}
		}
	}
	if missing > 0 {
		return fmt.Errorf("%w: %d of %d records", ErrNotFound, missing, len(recs))
	}
	return nil
}

// batchGet reads keys and indexes the found items by keyString.
func (e *Engine) batchGet(ctx context.Context, meta *model.Metadata, keys []model.Item, consistent bool) (map[string]model.Item, error) {
	var items []model.Item
	err := e.call("BatchGetItem", meta.TableName(), func() (err error) {
		opts := append([]ddbsdk.BatchOption{ddbsdk.WithConsistentRead(consistent)}, e.batchOpts...)
		items, err = ddbsdk.BatchGet(ctx, e.client, meta.TableName(), keys, opts...)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make(map[string]model.Item, len(items))
	for _, item := range items {
		out[keyString(meta, item)] = item
	}
	return out, nil
}

// Get reads the record whose key fields hold the values in scope. Composite
// keys are computed from their sources.
func (e *Engine) Get(ctx context.Context, meta *model.Metadata, scope map[string]any, opts ...CallOption) (*model.Record, error) {
	o := applyOpts(opts)
	key, err := meta.KeyFrom(scope)
	if err != nil {
		return nil, err
	}
	item, err := e.getItem(ctx, meta, key, o.consistent)
	if err != nil {
		return nil, err
	}
	return meta.Load(item)
}

// BatchGet reads the records for several key scopes. Missing items are left
// out; the others keep the order of scopes.
func (e *Engine) BatchGet(ctx context.Context, meta *model.Metadata, scopes []map[string]any, opts ...CallOption) ([]*model.Record, error) {
	o := applyOpts(opts)
	keys := make([]model.Item, len(scopes))
	for i, scope := range scopes {
		key, err := meta.KeyFrom(scope)
		if err != nil {
			return nil, err
		}
		keys[i] = key
	}
	items, err := e.batchGet(ctx, meta, keys, o.consistent)
	if err != nil {
		return nil, err
	}
	var out []*model.Record
	for _, key := range keys {
		item, ok := items[keyString(meta, key)]
		if !ok {
			continue
		}
		rec, err := meta.Load(item)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
