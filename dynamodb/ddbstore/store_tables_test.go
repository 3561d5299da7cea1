package ddbstore

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_Tables(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	t.Run("create", func(t *testing.T) {
		out, err := store.CreateTable(ctx, singleTableDesign.CreateTableInput())
		require.NoError(t, err)
		assert.Equal(t, types.TableStatusActive, out.TableDescription.TableStatus)

		_, err = store.CreateTable(ctx, singleTableDesign.CreateTableInput())
		var inUse *types.ResourceInUseException
		require.ErrorAs(t, err, &inUse)
	})

	t.Run("create invalid", func(t *testing.T) {
		in := noSortKeyTable.CreateTableInput()
		in.TableName = nil
		_, err := store.CreateTable(ctx, in)
		requireValidationError(t, err)
	})

	t.Run("describe counts items", func(t *testing.T) {
		putAll(t, store, singleTableDesign.Name, key("a", "1"), key("a", "2"))
		out, err := store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &singleTableDesign.Name})
		require.NoError(t, err)
		assert.Equal(t, int64(2), aws.ToInt64(out.Table.ItemCount))
		require.Len(t, out.Table.GlobalSecondaryIndexes, 1)
		assert.Equal(t, "gsi1", aws.ToString(out.Table.GlobalSecondaryIndexes[0].IndexName))
	})

	t.Run("list", func(t *testing.T) {
		_, err := store.CreateTable(ctx, noSortKeyTable.CreateTableInput())
		require.NoError(t, err)
		_, err = store.CreateTable(ctx, lsiTable.CreateTableInput())
		require.NoError(t, err)

		out, err := store.ListTables(ctx, &dynamodb.ListTablesInput{Limit: aws.Int32(2)})
		require.NoError(t, err)
		assert.Equal(t, []string{"lsi-table", "no-sk-table"}, out.TableNames)
		assert.Equal(t, "no-sk-table", aws.ToString(out.LastEvaluatedTableName))

		out, err = store.ListTables(ctx, &dynamodb.ListTablesInput{ExclusiveStartTableName: out.LastEvaluatedTableName})
		require.NoError(t, err)
		assert.Equal(t, []string{"test-table"}, out.TableNames)
		assert.Nil(t, out.LastEvaluatedTableName)
	})

	t.Run("delete", func(t *testing.T) {
		out, err := store.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: &singleTableDesign.Name})
		require.NoError(t, err)
		assert.Equal(t, types.TableStatusDeleting, out.TableDescription.TableStatus)

		_, err = store.DescribeTable(ctx, &dynamodb.DescribeTableInput{TableName: &singleTableDesign.Name})
		var notFound *types.ResourceNotFoundException
		require.ErrorAs(t, err, &notFound)

		// A recreated table starts empty.
		_, err = store.CreateTable(ctx, singleTableDesign.CreateTableInput())
		require.NoError(t, err)
		scan, err := store.Scan(ctx, &dynamodb.ScanInput{TableName: &singleTableDesign.Name})
		require.NoError(t, err)
		assert.Zero(t, scan.Count)
	})
}

func TestStore_Persistence(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := New(StoreOptions{Path: dir}, singleTableDesign)
	require.NoError(t, err)
	item := map[string]types.AttributeValue{
		"pk": strAV("a"), "sk": strAV("1"),
		"gsi1pk": strAV("g"), "gsi1sk": strAV("x"),
		"nested": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"list": &types.AttributeValueMemberL{Value: []types.AttributeValue{numAV("1"), &types.AttributeValueMemberBOOL{Value: true}}},
		}},
	}
	putAll(t, store, singleTableDesign.Name, item)
	require.NoError(t, store.Close())

	reopened, err := New(StoreOptions{Path: dir})
	require.NoError(t, err)
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.GetItem(ctx, &dynamodb.GetItemInput{TableName: &singleTableDesign.Name, Key: key("a", "1")})
	require.NoError(t, err)
	assert.Equal(t, item, got.Item)

	q, err := reopened.Query(ctx, &dynamodb.QueryInput{
		TableName:                 &singleTableDesign.Name,
		IndexName:                 aws.String("gsi1"),
		KeyConditionExpression:    aws.String("gsi1pk = :g"),
		ExpressionAttributeValues: map[string]types.AttributeValue{":g": strAV("g")},
	})
	require.NoError(t, err)
	assert.Len(t, q.Items, 1)
}
