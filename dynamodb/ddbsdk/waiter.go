package ddbsdk

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
)

// DefaultTableWait bounds WaitForTable and WaitForTableDeleted.
const DefaultTableWait = 5 * time.Minute

// WaitForTable blocks until the table is ACTIVE.
func WaitForTable(ctx context.Context, c Client, name string, maxWait time.Duration) error {
	w := dynamodb.NewTableExistsWaiter(c, func(o *dynamodb.TableExistsWaiterOptions) {
		o.MinDelay = time.Second
	})
	if err := w.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, orDefaultWait(maxWait)); err != nil {
		return fmt.Errorf("wait for table %s: %w", name, err)
	}
	return nil
}

// WaitForTableDeleted blocks until DescribeTable reports the table missing.
func WaitForTableDeleted(ctx context.Context, c Client, name string, maxWait time.Duration) error {
	w := dynamodb.NewTableNotExistsWaiter(c, func(o *dynamodb.TableNotExistsWaiterOptions) {
		o.MinDelay = time.Second
	})
	if err := w.Wait(ctx, &dynamodb.DescribeTableInput{TableName: aws.String(name)}, orDefaultWait(maxWait)); err != nil {
		return fmt.Errorf("wait for table %s deletion: %w", name, err)
	}
	return nil
}

func orDefaultWait(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultTableWait
	}
	return d
}
