package table

import (
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var postsTable = TableDefinition{
	Name: "blog-posts",
	KeyDefinitions: PrimaryKeyDefinition{
		PartitionKey: KeyDef{Name: "author", Kind: KeyKindS},
		SortKey:      KeyDef{Name: "slug", Kind: KeyKindS},
	},
	LSIs: []LSIDefinition{
		{Name: "ts-index", SortKey: KeyDef{Name: "ts", Kind: KeyKindN}},
		{Name: "score-index", SortKey: KeyDef{Name: "score", Kind: KeyKindN}, Projection: Projection{Kind: ProjectOnlyKeys}},
	},
	GSIs: []GSIDefinition{
		{
			Name: "category-index",
			KeyDefinitions: PrimaryKeyDefinition{
				PartitionKey: KeyDef{Name: "category", Kind: KeyKindS},
				SortKey:      KeyDef{Name: "ts", Kind: KeyKindN},
			},
			Projection: Projection{Kind: ProjectSubset, NonKeyAttributes: []string{"title"}},
			Throughput: Throughput{Read: 2, Write: 3},
		},
	},
}

func TestExtractPrimaryKey(t *testing.T) {
	doc := map[string]types.AttributeValue{
		"author": &types.AttributeValueMemberS{Value: "ann"},
		"slug":   &types.AttributeValueMemberS{Value: "hello"},
		"ts":     &types.AttributeValueMemberN{Value: "12"},
	}

	t.Run("table key", func(t *testing.T) {
		pk, err := postsTable.ExtractPrimaryKey(doc)
		require.NoError(t, err)
		assert.Equal(t, "ann", pk.Values.PartitionKey)
		assert.Equal(t, "hello", pk.Values.SortKey)
		assert.Equal(t, map[string]types.AttributeValue{
			"author": &types.AttributeValueMemberS{Value: "ann"},
			"slug":   &types.AttributeValueMemberS{Value: "hello"},
		}, pk.DDB())
	})

	t.Run("missing sort key", func(t *testing.T) {
		_, err := postsTable.ExtractPrimaryKey(map[string]types.AttributeValue{
			"author": &types.AttributeValueMemberS{Value: "ann"},
		})
		require.Error(t, err)
	})

	t.Run("kind mismatch", func(t *testing.T) {
		_, err := postsTable.ExtractPrimaryKey(map[string]types.AttributeValue{
			"author": &types.AttributeValueMemberN{Value: "1"},
			"slug":   &types.AttributeValueMemberS{Value: "hello"},
		})
		require.Error(t, err)
	})

	t.Run("sparse index", func(t *testing.T) {
		idx, ok := postsTable.Index("category-index")
		require.True(t, ok)
		assert.False(t, idx.KeyDefinitions.HasKey(doc))
		lsi, ok := postsTable.Index("ts-index")
		require.True(t, ok)
		assert.True(t, lsi.KeyDefinitions.HasKey(doc))
		assert.Equal(t, "author", lsi.KeyDefinitions.PartitionKey.Name)
	})
}

func TestProjection(t *testing.T) {
	doc := map[string]types.AttributeValue{
		"author": &types.AttributeValueMemberS{Value: "ann"},
		"slug":   &types.AttributeValueMemberS{Value: "hello"},
		"title":  &types.AttributeValueMemberS{Value: "Hello"},
		"body":   &types.AttributeValueMemberS{Value: "..."},
	}
	keys := []string{"author", "slug"}

	assert.Len(t, Projection{}.Project(doc, keys), 4)
	assert.Equal(t, map[string]types.AttributeValue{
		"author": doc["author"],
		"slug":   doc["slug"],
	}, Projection{Kind: ProjectOnlyKeys}.Project(doc, keys))
	assert.Len(t, Projection{Kind: ProjectSubset, NonKeyAttributes: []string{"title"}}.Project(doc, keys), 3)

	assert.True(t, Projection{}.Covers([]string{"body"}, keys))
	assert.False(t, Projection{Kind: ProjectOnlyKeys}.Covers([]string{"body"}, keys))
	assert.True(t, Projection{Kind: ProjectSubset, NonKeyAttributes: []string{"title"}}.Covers([]string{"title", "slug"}, keys))
}

func TestValidate(t *testing.T) {
	require.NoError(t, postsTable.Validate())

	t.Run("lsi without sort key", func(t *testing.T) {
		def := TableDefinition{
			Name:           "t",
			KeyDefinitions: PrimaryKeyDefinition{PartitionKey: KeyDef{Name: "id", Kind: KeyKindS}},
			LSIs:           []LSIDefinition{{Name: "x", SortKey: KeyDef{Name: "x", Kind: KeyKindS}}},
		}
		require.Error(t, def.Validate())
	})

	t.Run("conflicting attribute kinds", func(t *testing.T) {
		def := postsTable
		def.GSIs = []GSIDefinition{{
			Name: "bad",
			KeyDefinitions: PrimaryKeyDefinition{
				PartitionKey: KeyDef{Name: "ts", Kind: KeyKindS},
			},
		}}
		require.Error(t, def.Validate())
	})

	t.Run("duplicate index", func(t *testing.T) {
		def := postsTable
		def.LSIs = append([]LSIDefinition{}, postsTable.LSIs...)
		def.LSIs = append(def.LSIs, postsTable.LSIs[0])
		require.Error(t, def.Validate())
	})
}

func TestCreateTableInputRoundTrip(t *testing.T) {
	in := postsTable.CreateTableInput()
	assert.Equal(t, "blog-posts", aws.ToString(in.TableName))
	assert.Len(t, in.AttributeDefinitions, 5)
	assert.Len(t, in.LocalSecondaryIndexes, 2)
	require.Len(t, in.GlobalSecondaryIndexes, 1)
	assert.Equal(t, int64(2), aws.ToInt64(in.GlobalSecondaryIndexes[0].ProvisionedThroughput.ReadCapacityUnits))
	assert.Equal(t, int64(5), aws.ToInt64(in.ProvisionedThroughput.ReadCapacityUnits))

	def, err := FromCreateTableInput(in)
	require.NoError(t, err)
	assert.Equal(t, postsTable.KeyDefinitions, def.KeyDefinitions)
	assert.Equal(t, postsTable.GSIs, def.GSIs)
	require.Len(t, def.LSIs, 2)
	assert.Equal(t, ProjectAll, def.LSIs[0].Projection.Kind)
	assert.Equal(t, ProjectOnlyKeys, def.LSIs[1].Projection.Kind)

	desc := def.Description(3, time.Unix(0, 0))
	assert.Equal(t, types.TableStatusActive, desc.TableStatus)
	assert.Equal(t, int64(3), aws.ToInt64(desc.ItemCount))
	assert.Len(t, desc.GlobalSecondaryIndexes, 1)
}
