// Package ddbsdk connects flywheel to a DynamoDB-compatible store: the AWS SDK
// client or the badger-backed ddbstore. It adds throttle retries, write
// batching and table waiters on top of the raw client.
package ddbsdk

import (
	"context"
	"fmt"

	"github.com/acksell/flywheel/dynamodb/ddbstore"
	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Client is the subset of the DynamoDB API flywheel uses.
// It mirrors the method signatures of the AWS SDK v2 *dynamodb.Client.
type Client interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
	CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error)
	DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
	ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error)
}

var (
	_ Client = (*dynamodb.Client)(nil)
	_ Client = (*ddbstore.Store)(nil)
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Options selects the AWS endpoint for NewFromConfig.
type Options struct {
	Region string
	// Endpoint overrides the service endpoint, e.g. for DynamoDB Local.
	Endpoint string
}

// NewFromConfig builds an AWS SDK client from the default credential chain.
func NewFromConfig(ctx context.Context, opts Options) (*dynamodb.Client, error) {
	var loadOpts []func(*config.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// NewMemoryClient opens an in-memory store with the given tables created.
// Close the store when done.
func NewMemoryClient(defs ...table.TableDefinition) (*ddbstore.Store, error) {
	return ddbstore.New(ddbstore.StoreOptions{InMemory: true}, defs...)
}

// NewDiskClient opens a store persisted under path. Tables created by earlier
// runs are loaded.
func NewDiskClient(path string, defs ...table.TableDefinition) (*ddbstore.Store, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	return ddbstore.New(ddbstore.StoreOptions{Path: path}, defs...)
}
