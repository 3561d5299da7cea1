package ddbsdk

import (
	"context"
	"errors"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/smithy-go"
	"github.com/rs/zerolog"
)

// DefaultMaxAttempts bounds the attempts WithRetry makes per request.
const DefaultMaxAttempts = 5

var throttleCodes = map[string]bool{
	"ProvisionedThroughputExceededException": true,
	"ThrottlingException":                    true,
	"RequestLimitExceeded":                   true,
	"InternalServerError":                    true,
}

// IsThrottle reports whether err is a throttling or transient server error
// that is safe to retry. Conditional check failures never are.
func IsThrottle(err error) bool {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return throttleCodes[apiErr.ErrorCode()]
}

type RetryOption func(*retryOpts)

type retryOpts struct {
	maxAttempts int
	backoff     BackoffFunc
	logger      zerolog.Logger
}

// WithMaxAttempts sets the total number of attempts per request, including
// the first one.
func WithMaxAttempts(n int) RetryOption {
	return func(o *retryOpts) {
		o.maxAttempts = n
	}
}

// WithRetryBackoff replaces [DefaultBackoff].
func WithRetryBackoff(fn BackoffFunc) RetryOption {
	return func(o *retryOpts) {
		o.backoff = fn
	}
}

// WithRetryLogger logs every retry at warn level.
func WithRetryLogger(l zerolog.Logger) RetryOption {
	return func(o *retryOpts) {
		o.logger = l
	}
}

// WithRetry wraps c so throttled requests are retried with exponential
// backoff and full jitter.
func WithRetry(c Client, opts ...RetryOption) Client {
	r := &retryClient{
		next: c,
		opts: retryOpts{
			maxAttempts: DefaultMaxAttempts,
			backoff:     DefaultBackoff,
			logger:      zerolog.Nop(),
		},
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

type retryClient struct {
	next Client
	opts retryOpts
}

func retry[T any](ctx context.Context, r *retryClient, op string, fn func() (T, error)) (T, error) {
	for attempt := 1; ; attempt++ {
		out, err := fn()
		if err == nil || !IsThrottle(err) || attempt >= r.opts.maxAttempts {
			return out, err
		}
		wait := r.opts.backoff(attempt - 1)
		r.opts.logger.Warn().Err(err).
			Str("operation", op).
			Int("attempt", attempt).
			Dur("wait", wait).
			Msg("retrying throttled request")
		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (r *retryClient) GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	return retry(ctx, r, "GetItem", func() (*dynamodb.GetItemOutput, error) {
		return r.next.GetItem(ctx, params, optFns...)
	})
}

func (r *retryClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	return retry(ctx, r, "PutItem", func() (*dynamodb.PutItemOutput, error) {
		return r.next.PutItem(ctx, params, optFns...)
	})
}

func (r *retryClient) UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error) {
	return retry(ctx, r, "UpdateItem", func() (*dynamodb.UpdateItemOutput, error) {
		return r.next.UpdateItem(ctx, params, optFns...)
	})
}

func (r *retryClient) DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	return retry(ctx, r, "DeleteItem", func() (*dynamodb.DeleteItemOutput, error) {
		return r.next.DeleteItem(ctx, params, optFns...)
	})
}

func (r *retryClient) Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	return retry(ctx, r, "Query", func() (*dynamodb.QueryOutput, error) {
		return r.next.Query(ctx, params, optFns...)
	})
}

func (r *retryClient) Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	return retry(ctx, r, "Scan", func() (*dynamodb.ScanOutput, error) {
		return r.next.Scan(ctx, params, optFns...)
	})
}

func (r *retryClient) BatchGetItem(ctx context.Context, params *dynamodb.BatchGetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchGetItemOutput, error) {
	return retry(ctx, r, "BatchGetItem", func() (*dynamodb.BatchGetItemOutput, error) {
		return r.next.BatchGetItem(ctx, params, optFns...)
	})
}

func (r *retryClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	return retry(ctx, r, "BatchWriteItem", func() (*dynamodb.BatchWriteItemOutput, error) {
		return r.next.BatchWriteItem(ctx, params, optFns...)
	})
}

func (r *retryClient) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	return retry(ctx, r, "CreateTable", func() (*dynamodb.CreateTableOutput, error) {
		return r.next.CreateTable(ctx, params, optFns...)
	})
}

func (r *retryClient) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	return retry(ctx, r, "DeleteTable", func() (*dynamodb.DeleteTableOutput, error) {
		return r.next.DeleteTable(ctx, params, optFns...)
	})
}

func (r *retryClient) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return retry(ctx, r, "DescribeTable", func() (*dynamodb.DescribeTableOutput, error) {
		return r.next.DescribeTable(ctx, params, optFns...)
	})
}

func (r *retryClient) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	return retry(ctx, r, "ListTables", func() (*dynamodb.ListTablesOutput, error) {
		return r.next.ListTables(ctx, params, optFns...)
	})
}
