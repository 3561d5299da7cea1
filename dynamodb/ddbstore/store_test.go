package ddbstore

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test table definitions
var singleTableDesign = table.TableDefinition{
	Name: "test-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
	GSIs: []table.GSIDefinition{
		{
			Name: "gsi1",
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: table.KeyDef{Name: "gsi1pk", Kind: table.KeyKindS},
				SortKey:      table.KeyDef{Name: "gsi1sk", Kind: table.KeyKindS},
			},
		},
	},
}

var numericSortKeyTable = table.TableDefinition{
	Name: "numeric-sk-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindN},
	},
}

var noSortKeyTable = table.TableDefinition{
	Name: "no-sk-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
	},
}

var lsiTable = table.TableDefinition{
	Name: "lsi-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
	LSIs: []table.LSIDefinition{
		{
			Name:       "by-score",
			SortKey:    table.KeyDef{Name: "score", Kind: table.KeyKindN},
			Projection: table.Projection{Kind: table.ProjectOnlyKeys},
		},
	},
}

func newTestStore(t *testing.T, defs ...table.TableDefinition) *Store {
	store, err := New(StoreOptions{InMemory: true}, defs...)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func strAV(v string) types.AttributeValue { return &types.AttributeValueMemberS{Value: v} }
func numAV(v string) types.AttributeValue { return &types.AttributeValueMemberN{Value: v} }

func key(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{"pk": strAV(pk), "sk": strAV(sk)}
}

func putAll(t *testing.T, store *Store, tableName string, items ...map[string]types.AttributeValue) {
	t.Helper()
	for _, item := range items {
		_, err := store.PutItem(context.Background(), &dynamodb.PutItemInput{
			TableName: aws.String(tableName),
			Item:      item,
		})
		require.NoError(t, err)
	}
}

func requireValidationError(t *testing.T, err error) {
	t.Helper()
	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr), "expected api error, got %v", err)
	assert.Equal(t, "ValidationException", apiErr.ErrorCode())
}

// =============================================================================
// Basic CRUD Operations
// =============================================================================

func TestStore_GetItem(t *testing.T) {
	store := newTestStore(t, singleTableDesign)
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       key("nonexistent", "nonexistent"),
		})
		require.NoError(t, err)
		assert.Nil(t, got.Item)
	})

	t.Run("found after put", func(t *testing.T) {
		item := map[string]types.AttributeValue{
			"pk":   strAV("user#123"),
			"sk":   strAV("profile"),
			"name": strAV("John Doe"),
			"age":  numAV("30"),
		}
		putAll(t, store, singleTableDesign.Name, item)

		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       key("user#123", "profile"),
		})
		require.NoError(t, err)
		assert.Equal(t, item, got.Item)
	})

	t.Run("projection", func(t *testing.T) {
		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:                &singleTableDesign.Name,
			Key:                      key("user#123", "profile"),
			ProjectionExpression:     aws.String("#n"),
			ExpressionAttributeNames: map[string]string{"#n": "name"},
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{"name": strAV("John Doe")}, got.Item)
	})

	t.Run("key must match schema", func(t *testing.T) {
		_, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       map[string]types.AttributeValue{"pk": strAV("user#123")},
		})
		requireValidationError(t, err)

		_, err = store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: &singleTableDesign.Name,
			Key:       map[string]types.AttributeValue{"pk": strAV("user#123"), "sk": numAV("1")},
		})
		requireValidationError(t, err)
	})

	t.Run("unknown table", func(t *testing.T) {
		_, err := store.GetItem(ctx, &dynamodb.GetItemInput{
			TableName: aws.String("missing"),
			Key:       key("a", "b"),
		})
		var notFound *types.ResourceNotFoundException
		require.ErrorAs(t, err, &notFound)
	})
}

func TestStore_PutItem(t *testing.T) {
	ctx := context.Background()

	t.Run("overwrite returns old item", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)

		item1 := map[string]types.AttributeValue{"pk": strAV("test"), "sk": strAV("test"), "data": strAV("original")}
		item2 := map[string]types.AttributeValue{"pk": strAV("test"), "sk": strAV("test"), "data": strAV("updated")}
		putAll(t, store, singleTableDesign.Name, item1)

		out, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:    &singleTableDesign.Name,
			Item:         item2,
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Equal(t, item1, out.Attributes)

		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: &singleTableDesign.Name, Key: key("test", "test")})
		require.NoError(t, err)
		assert.Equal(t, item2, got.Item)
	})

	t.Run("condition expression", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		item := map[string]types.AttributeValue{"pk": strAV("a"), "sk": strAV("b"), "v": numAV("1")}
		put := func() error {
			_, err := store.PutItem(ctx, &dynamodb.PutItemInput{
				TableName:                           &singleTableDesign.Name,
				Item:                                item,
				ConditionExpression:                 aws.String("attribute_not_exists(pk)"),
				ReturnValuesOnConditionCheckFailure: types.ReturnValuesOnConditionCheckFailureAllOld,
			})
			return err
		}
		require.NoError(t, put())

		err := put()
		var ccf *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &ccf)
		assert.Equal(t, item, ccf.Item)
	})

	t.Run("invalid items", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		tests := []struct {
			name string
			item map[string]types.AttributeValue
		}{
			{"missing sort key", map[string]types.AttributeValue{"pk": strAV("a")}},
			{"wrong key type", map[string]types.AttributeValue{"pk": strAV("a"), "sk": numAV("1")}},
			{"empty key string", map[string]types.AttributeValue{"pk": strAV(""), "sk": strAV("b")}},
			{"empty set", map[string]types.AttributeValue{"pk": strAV("a"), "sk": strAV("b"), "tags": &types.AttributeValueMemberSS{}}},
			{"wrong index key type", map[string]types.AttributeValue{"pk": strAV("a"), "sk": strAV("b"), "gsi1pk": numAV("1")}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := store.PutItem(ctx, &dynamodb.PutItemInput{TableName: &singleTableDesign.Name, Item: tt.item})
				requireValidationError(t, err)
			})
		}
	})

	t.Run("unsupported return values", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.PutItem(ctx, &dynamodb.PutItemInput{
			TableName:    &singleTableDesign.Name,
			Item:         key("a", "b"),
			ReturnValues: types.ReturnValueAllNew,
		})
		requireValidationError(t, err)
	})
}

func TestStore_DeleteItem(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, singleTableDesign)
	item := map[string]types.AttributeValue{
		"pk": strAV("a"), "sk": strAV("b"),
		"gsi1pk": strAV("g"), "gsi1sk": strAV("1"),
	}
	putAll(t, store, singleTableDesign.Name, item)

	t.Run("condition failure keeps item", func(t *testing.T) {
		_, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "b"),
			ConditionExpression:       aws.String("gsi1pk = :other"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":other": strAV("x")},
		})
		var ccf *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &ccf)
	})

	t.Run("delete returns old item and clears index", func(t *testing.T) {
		out, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    &singleTableDesign.Name,
			Key:          key("a", "b"),
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Equal(t, item, out.Attributes)

		q, err := store.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &singleTableDesign.Name,
			IndexName:                 aws.String("gsi1"),
			KeyConditionExpression:    aws.String("gsi1pk = :g"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":g": strAV("g")},
		})
		require.NoError(t, err)
		assert.Empty(t, q.Items)
	})

	t.Run("deleting a missing item is a no-op", func(t *testing.T) {
		out, err := store.DeleteItem(ctx, &dynamodb.DeleteItemInput{
			TableName:    &singleTableDesign.Name,
			Key:          key("a", "b"),
			ReturnValues: types.ReturnValueAllOld,
		})
		require.NoError(t, err)
		assert.Nil(t, out.Attributes)
	})
}

func TestStore_UpdateItem(t *testing.T) {
	ctx := context.Background()

	t.Run("creates item from key", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		out, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("counter", "c1"),
			UpdateExpression:          aws.String("ADD hits :one SET #l = :label"),
			ExpressionAttributeNames:  map[string]string{"#l": "label"},
			ExpressionAttributeValues: map[string]types.AttributeValue{":one": numAV("1"), ":label": strAV("home")},
			ReturnValues:              types.ReturnValueAllNew,
		})
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{
			"pk": strAV("counter"), "sk": strAV("c1"),
			"hits": numAV("1"), "label": strAV("home"),
		}, out.Attributes)
	})

	t.Run("updated old and new", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		putAll(t, store, singleTableDesign.Name, map[string]types.AttributeValue{
			"pk": strAV("a"), "sk": strAV("b"), "hits": numAV("41"), "keep": strAV("x"),
		})
		in := &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "b"),
			UpdateExpression:          aws.String("SET hits = hits + :one"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":one": numAV("1")},
			ReturnValues:              types.ReturnValueUpdatedOld,
		}
		out, err := store.UpdateItem(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{"hits": numAV("41")}, out.Attributes)

		in.ReturnValues = types.ReturnValueUpdatedNew
		out, err = store.UpdateItem(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, map[string]types.AttributeValue{"hits": numAV("43")}, out.Attributes)
	})

	t.Run("key attributes cannot be updated", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "b"),
			UpdateExpression:          aws.String("SET sk = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": strAV("c")},
		})
		requireValidationError(t, err)
	})

	t.Run("condition on missing item", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "b"),
			UpdateExpression:          aws.String("SET v = :v"),
			ConditionExpression:       aws.String("attribute_exists(pk)"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": strAV("c")},
		})
		var ccf *types.ConditionalCheckFailedException
		require.ErrorAs(t, err, &ccf)

		got, err := store.GetItem(ctx, &dynamodb.GetItemInput{TableName: &singleTableDesign.Name, Key: key("a", "b")})
		require.NoError(t, err)
		assert.Nil(t, got.Item)
	})

	t.Run("moves index entry", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		putAll(t, store, singleTableDesign.Name, map[string]types.AttributeValue{
			"pk": strAV("a"), "sk": strAV("b"), "gsi1pk": strAV("g"), "gsi1sk": strAV("old"),
		})
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:                 &singleTableDesign.Name,
			Key:                       key("a", "b"),
			UpdateExpression:          aws.String("SET gsi1sk = :v"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":v": strAV("new")},
		})
		require.NoError(t, err)

		q, err := store.Query(ctx, &dynamodb.QueryInput{
			TableName:                 &singleTableDesign.Name,
			IndexName:                 aws.String("gsi1"),
			KeyConditionExpression:    aws.String("gsi1pk = :g"),
			ExpressionAttributeValues: map[string]types.AttributeValue{":g": strAV("g")},
		})
		require.NoError(t, err)
		require.Len(t, q.Items, 1)
		assert.Equal(t, strAV("new"), q.Items[0]["gsi1sk"])
	})

	t.Run("removing index key drops entry", func(t *testing.T) {
		store := newTestStore(t, singleTableDesign)
		putAll(t, store, singleTableDesign.Name, map[string]types.AttributeValue{
			"pk": strAV("a"), "sk": strAV("b"), "gsi1pk": strAV("g"), "gsi1sk": strAV("1"),
		})
		_, err := store.UpdateItem(ctx, &dynamodb.UpdateItemInput{
			TableName:        &singleTableDesign.Name,
			Key:              key("a", "b"),
			UpdateExpression: aws.String("REMOVE gsi1sk"),
		})
		require.NoError(t, err)

		q, err := store.Scan(ctx, &dynamodb.ScanInput{TableName: &singleTableDesign.Name, IndexName: aws.String("gsi1")})
		require.NoError(t, err)
		assert.Zero(t, q.Count)
	})
}

func TestStore_NoSortKey(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t, noSortKeyTable)
	for i := range 3 {
		putAll(t, store, noSortKeyTable.Name, map[string]types.AttributeValue{
			"pk": strAV(fmt.Sprintf("item-%d", i)),
			"n":  numAV(fmt.Sprint(i)),
		})
	}

	got, err := store.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: &noSortKeyTable.Name,
		Key:       map[string]types.AttributeValue{"pk": strAV("item-1")},
	})
	require.NoError(t, err)
	assert.Equal(t, numAV("1"), got.Item["n"])

	q, err := store.Query(ctx, &dynamodb.QueryInput{
		TableName:                 &noSortKeyTable.Name,
		KeyConditionExpression:    aws.String("pk = :pk"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":pk": strAV("item-2")},
	})
	require.NoError(t, err)
	require.Len(t, q.Items, 1)
	assert.Equal(t, numAV("2"), q.Items[0]["n"])
}
