package engine

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// ErrConditionalCheckFailed is returned when a conditional write finds the
	// stored item different from what the record expected. It wraps the store
	// error.
	ErrConditionalCheckFailed = errors.New("engine: conditional check failed")
	ErrAbsentResult           = errors.New("engine: no result")
	ErrTooManyResults         = errors.New("engine: more than one result")
	ErrNotFound               = errors.New("engine: item not found")
	ErrUnknownModel           = errors.New("engine: unknown model")
	ErrDuplicateModel         = errors.New("engine: model already registered")
)

func isConditionalCheckFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// storeErr adds the engine sentinel to errors the caller is expected to
// handle.
func storeErr(op, table string, err error) error {
	if err == nil {
		return nil
	}
	if isConditionalCheckFailed(err) {
		return fmt.Errorf("%s %s: %w: %w", op, table, ErrConditionalCheckFailed, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}
