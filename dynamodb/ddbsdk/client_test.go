package ddbsdk

import (
	"context"
	"testing"

	"github.com/acksell/flywheel/dynamodb/ddbstore"
	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clientTestTable is a shared table definition used across client tests
var clientTestTable = table.TableDefinition{
	Name: "test-table",
	KeyDefinitions: table.PrimaryKeyDefinition{
		PartitionKey: table.KeyDef{Name: "pk", Kind: table.KeyKindS},
		SortKey:      table.KeyDef{Name: "sk", Kind: table.KeyKindS},
	},
}

// testKey is a helper function to create a primary key for tests
func testKey(pk, sk string) table.PrimaryKey {
	return table.PrimaryKey{
		Definition: clientTestTable.KeyDefinitions,
		Values:     table.PrimaryKeyValues{PartitionKey: pk, SortKey: sk},
	}
}

func testItem(pk, sk, name string) Item {
	return Item{
		"pk":   &types.AttributeValueMemberS{Value: pk},
		"sk":   &types.AttributeValueMemberS{Value: sk},
		"name": &types.AttributeValueMemberS{Value: name},
	}
}

func newMemoryClient(t *testing.T, defs ...table.TableDefinition) *ddbstore.Store {
	store, err := NewMemoryClient(defs...)
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func getItem(t *testing.T, c Client, key table.PrimaryKey) Item {
	t.Helper()
	out, err := c.GetItem(context.Background(), &dynamodb.GetItemInput{
		TableName: aws.String(clientTestTable.Name),
		Key:       key.DDB(),
	})
	require.NoError(t, err)
	return out.Item
}

// flakyClient fails the first n calls of every operation it intercepts.
type flakyClient struct {
	Client
	failures int
	calls    int
	err      error

	// unprocessed makes BatchWriteItem and BatchGetItem hand back every
	// request after the first one on the first call.
	unprocessed bool
}

func throttled() error {
	return &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
}

func (f *flakyClient) fail() error {
	f.calls++
	if f.calls <= f.failures {
		return f.err
	}
	return nil
}

func (f *flakyClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	return f.Client.PutItem(ctx, params, optFns...)
}

func (f *flakyClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	if !f.unprocessed || f.calls > 1 {
		return f.Client.BatchWriteItem(ctx, params, optFns...)
	}
	process := map[string][]types.WriteRequest{}
	unprocessed := map[string][]types.WriteRequest{}
	for name, reqs := range params.RequestItems {
		process[name] = reqs[:1]
		if len(reqs) > 1 {
			unprocessed[name] = reqs[1:]
		}
	}
	if _, err := f.Client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{RequestItems: process}, optFns...); err != nil {
		return nil, err
	}
	return &dynamodb.BatchWriteItemOutput{UnprocessedItems: unprocessed}, nil
}

func (f *flakyClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	if err := f.fail(); err != nil {
		return nil, err
	}
	if !f.unprocessed || f.calls > 1 {
		return f.Client.BatchGetItem(ctx, params, optFns...)
	}
	process := map[string]types.KeysAndAttributes{}
	unprocessed := map[string]types.KeysAndAttributes{}
	for name, ka := range params.RequestItems {
		first := ka
		first.Keys = ka.Keys[:1]
		process[name] = first
		if len(ka.Keys) > 1 {
			rest := ka
			rest.Keys = ka.Keys[1:]
			unprocessed[name] = rest
		}
	}
	out, err := f.Client.BatchGetItem(ctx, &dynamodb.BatchGetItemInput{RequestItems: process}, optFns...)
	if err != nil {
		return nil, err
	}
	out.UnprocessedKeys = unprocessed
	return out, nil
}

func TestIsThrottle(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"provisioned throughput", throttled(), true},
		{"generic throttling", &smithy.GenericAPIError{Code: "ThrottlingException"}, true},
		{"conditional check", &types.ConditionalCheckFailedException{}, false},
		{"validation", &smithy.GenericAPIError{Code: "ValidationException"}, false},
		{"plain error", assert.AnError, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsThrottle(tt.err))
		})
	}
}

func TestWithRetry(t *testing.T) {
	ctx := context.Background()
	put := &dynamodb.PutItemInput{
		TableName: aws.String(clientTestTable.Name),
		Item:      testItem("a", "b", "x"),
	}

	t.Run("retries throttled requests", func(t *testing.T) {
		flaky := &flakyClient{Client: newMemoryClient(t, clientTestTable), failures: 2, err: throttled()}
		c := WithRetry(flaky, WithRetryBackoff(NoBackoff))

		_, err := c.PutItem(ctx, put)
		require.NoError(t, err)
		assert.Equal(t, 3, flaky.calls)
		assert.NotNil(t, getItem(t, c, testKey("a", "b")))
	})

	t.Run("gives up after max attempts", func(t *testing.T) {
		flaky := &flakyClient{Client: newMemoryClient(t, clientTestTable), failures: 10, err: throttled()}
		c := WithRetry(flaky, WithRetryBackoff(NoBackoff), WithMaxAttempts(3))

		_, err := c.PutItem(ctx, put)
		var pte *types.ProvisionedThroughputExceededException
		require.ErrorAs(t, err, &pte)
		assert.Equal(t, 3, flaky.calls)
	})

	t.Run("conditional failures are not retried", func(t *testing.T) {
		flaky := &flakyClient{Client: newMemoryClient(t, clientTestTable), failures: 10, err: &types.ConditionalCheckFailedException{}}
		c := WithRetry(flaky, WithRetryBackoff(NoBackoff))

		_, err := c.PutItem(ctx, put)
		require.Error(t, err)
		assert.Equal(t, 1, flaky.calls)
	})

	t.Run("stops when the context ends", func(t *testing.T) {
		flaky := &flakyClient{Client: newMemoryClient(t, clientTestTable), failures: 10, err: throttled()}
		c := WithRetry(flaky, WithRetryBackoff(DefaultBackoff))

		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := c.PutItem(cctx, put)
		require.ErrorIs(t, err, context.Canceled)
	})
}

func TestNewDiskClient(t *testing.T) {
	_, err := NewDiskClient("")
	require.Error(t, err)

	store, err := NewDiskClient(t.TempDir(), clientTestTable)
	require.NoError(t, err)
	defer store.Close()

	out, err := store.ListTables(context.Background(), &dynamodb.ListTablesInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{clientTestTable.Name}, out.TableNames)
}
