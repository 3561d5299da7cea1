// Package ddbtype reconciles Go values with the DynamoDB attribute types.
//
// A Definition coerces application values into a canonical Go
// representation and converts between that representation and
// types.AttributeValue. Definitions live in a Registry under a canonical name
// plus aliases; Builtins returns a registry holding the standard types.
package ddbtype

import (
	"errors"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	ErrUnknownType  = errors.New("ddbtype: unknown type")
	ErrTypeMismatch = errors.New("ddbtype: type mismatch")
	ErrDataLoss     = errors.New("ddbtype: conversion would lose data")
)

// Kind is the DynamoDB primitive backing a type.
type Kind string

const (
	KindS    Kind = "S"
	KindN    Kind = "N"
	KindB    Kind = "B"
	KindBOOL Kind = "BOOL"
	KindM    Kind = "M"
	KindL    Kind = "L"
	KindSS   Kind = "SS"
	KindNS   Kind = "NS"
	KindBS   Kind = "BS"
)

// IsSet reports whether k is one of the set kinds.
func (k Kind) IsSet() bool {
	return k == KindSS || k == KindNS || k == KindBS
}

// IsScalarKey reports whether k can back a table or index key.
func (k Kind) IsScalarKey() bool {
	return k == KindS || k == KindN || k == KindB
}

// Definition describes one semantic type.
//
// Coerce returns v in the type's Go representation. With force, values of
// other types are converted when that loses no information. Serialize turns a
// coerced value into an attribute value; a nil result means the attribute is
// absent. Deserialize is the inverse of Serialize for every coerced value.
type Definition interface {
	Name() string
	Aliases() []string
	Kind() Kind
	// Mutable types can be changed in place and are compared against the
	// persisted value at sync time.
	Mutable() bool
	Coerce(v any, force bool) (any, error)
	Serialize(v any) (types.AttributeValue, error)
	Deserialize(av types.AttributeValue) (any, error)
}
