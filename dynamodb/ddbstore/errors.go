package ddbstore

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// validationErr mirrors the ValidationException DynamoDB returns for malformed
// requests.
func validationErr(format string, args ...any) error {
	return &smithy.GenericAPIError{
		Code:    "ValidationException",
		Message: fmt.Sprintf(format, args...),
		Fault:   smithy.FaultClient,
	}
}

func resourceNotFound(tableName string) error {
	return &types.ResourceNotFoundException{
		Message: ptrStr(fmt.Sprintf("Requested resource not found: Table: %s not found", tableName)),
	}
}

func resourceInUse(tableName string) error {
	return &types.ResourceInUseException{
		Message: ptrStr(fmt.Sprintf("Table already exists: %s", tableName)),
	}
}

func conditionalCheckFailed(old map[string]types.AttributeValue, returnOld types.ReturnValuesOnConditionCheckFailure) error {
	err := &types.ConditionalCheckFailedException{
		Message: ptrStr("The conditional request failed"),
	}
	if returnOld == types.ReturnValuesOnConditionCheckFailureAllOld {
		err.Item = old
	}
	return err
}
