package ddbtype

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"golang.org/x/exp/constraints"
)

var (
	// Number holds any numeric value: int64 when integral, float64 otherwise.
	Number Definition = numberType{}
	Float  Definition = floatType{}
	Int    Definition = intType{}
	// Decimal keeps exact decimal values as *big.Rat.
	Decimal Definition = decimalType{}
)

func fromSigned[T constraints.Signed](n T) int64 {
	return int64(n)
}

func fromUnsigned[T constraints.Unsigned](n T) (int64, error) {
	if uint64(n) > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %d overflows int64", ErrDataLoss, n)
	}
	return int64(n), nil
}

func fromFloat[T constraints.Float](n T) (float64, error) {
	f := float64(n)
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %v is not a storable number", ErrTypeMismatch, f)
	}
	return f, nil
}

// normalizeNumber maps the Go numeric types onto int64, float64 or *big.Rat.
// ok is false when v is not numeric.
func normalizeNumber(v any) (n any, ok bool, err error) {
	switch x := v.(type) {
	case int64:
		return x, true, nil
	case int:
		return fromSigned(x), true, nil
	case int8:
		return fromSigned(x), true, nil
	case int16:
		return fromSigned(x), true, nil
	case int32:
		return fromSigned(x), true, nil
	case uint:
		n, err := fromUnsigned(x)
		return n, true, err
	case uint8:
		n, err := fromUnsigned(x)
		return n, true, err
	case uint16:
		n, err := fromUnsigned(x)
		return n, true, err
	case uint32:
		n, err := fromUnsigned(x)
		return n, true, err
	case uint64:
		n, err := fromUnsigned(x)
		return n, true, err
	case float32:
		f, err := fromFloat(x)
		return f, true, err
	case float64:
		f, err := fromFloat(x)
		return f, true, err
	case *big.Rat:
		if x == nil {
			return nil, false, nil
		}
		return x, true, nil
	}
	return nil, false, nil
}

// parseNumber reads a decimal string, as stored in an N attribute.
func parseNumber(s string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(s))
	if !ok {
		return nil, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, s)
	}
	return r, nil
}

// formatRat renders r as an exact decimal. ok is false when r has no finite
// decimal expansion within DynamoDB's 38 digits of precision.
func formatRat(r *big.Rat) (s string, ok bool) {
	if r.IsInt() {
		return r.Num().String(), true
	}
	scaled := new(big.Rat).Set(r)
	ten := big.NewRat(10, 1)
	for scale := 1; scale <= 38; scale++ {
		scaled.Mul(scaled, ten)
		if scaled.IsInt() {
			return r.FloatString(scale), true
		}
	}
	return strings.TrimRight(r.FloatString(38), "0"), false
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// ratToFloat returns r as a float64 when the shortest decimal form of the
// float reads back as r. 0.1 qualifies although its binary form is inexact.
func ratToFloat(r *big.Rat) (float64, bool) {
	f, _ := r.Float64()
	if math.IsInf(f, 0) {
		return 0, false
	}
	s, ok := formatRat(r)
	return f, ok && s == formatFloat(f)
}

// ratToInt returns r as an int64 when it is integral and in range.
func ratToInt(r *big.Rat) (int64, bool) {
	if !r.IsInt() || !r.Num().IsInt64() {
		return 0, false
	}
	return r.Num().Int64(), true
}

// floatToInt returns f as an int64 when it is integral and in range.
func floatToInt(f float64) (int64, bool) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}

// canonicalNumber applies the Number representation: int64 when integral and
// in range, float64 otherwise.
func canonicalNumber(n any) (any, error) {
	switch x := n.(type) {
	case int64:
		return x, nil
	case float64:
		if i, ok := floatToInt(x); ok {
			return i, nil
		}
		return x, nil
	case *big.Rat:
		if i, ok := ratToInt(x); ok {
			return i, nil
		}
		f, ok := ratToFloat(x)
		if !ok {
			return nil, fmt.Errorf("%w: %s does not fit a float64", ErrDataLoss, x.RatString())
		}
		return canonicalNumber(f)
	}
	return nil, fmt.Errorf("%w: %T is not a number", ErrTypeMismatch, n)
}

func numberAV(s string) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: s}
}

func numberFromAV(av types.AttributeValue) (*big.Rat, error) {
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return nil, fmt.Errorf("%w: expected N, got %T", ErrTypeMismatch, av)
	}
	return parseNumber(n.Value)
}

type numberType struct{}

func (numberType) Name() string      { return "number" }
func (numberType) Aliases() []string { return nil }
func (numberType) Kind() Kind        { return KindN }
func (numberType) Mutable() bool     { return false }

func (numberType) Coerce(v any, force bool) (any, error) {
	n, ok, err := normalizeNumber(v)
	if err != nil {
		return nil, err
	}
	if ok {
		return canonicalNumber(n)
	}
	if s, isStr := v.(string); isStr && force {
		r, err := parseNumber(s)
		if err != nil {
			return nil, err
		}
		return canonicalNumber(r)
	}
	return nil, fmt.Errorf("%w: cannot use %T as number", ErrTypeMismatch, v)
}

func (t numberType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	n, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	if i, ok := n.(int64); ok {
		return numberAV(strconv.FormatInt(i, 10)), nil
	}
	return numberAV(formatFloat(n.(float64))), nil
}

func (numberType) Deserialize(av types.AttributeValue) (any, error) {
	r, err := numberFromAV(av)
	if err != nil {
		return nil, err
	}
	if i, ok := ratToInt(r); ok {
		return i, nil
	}
	f, _ := r.Float64()
	return f, nil
}

type floatType struct{}

func (floatType) Name() string      { return "float" }
func (floatType) Aliases() []string { return []string{"float64"} }
func (floatType) Kind() Kind        { return KindN }
func (floatType) Mutable() bool     { return false }

// Coerce converts integers and exact decimals without force, since no
// information is lost.
func (floatType) Coerce(v any, force bool) (any, error) {
	n, ok, err := normalizeNumber(v)
	if err != nil {
		return nil, err
	}
	if !ok {
		s, isStr := v.(string)
		if !isStr || !force {
			return nil, fmt.Errorf("%w: cannot use %T as float", ErrTypeMismatch, v)
		}
		if n, err = parseNumber(s); err != nil {
			return nil, err
		}
	}
	switch x := n.(type) {
	case float64:
		return x, nil
	case int64:
		f := float64(x)
		if f >= math.MaxInt64 || int64(f) != x {
			return nil, fmt.Errorf("%w: %d cannot be represented as float64", ErrDataLoss, x)
		}
		return f, nil
	case *big.Rat:
		f, ok := ratToFloat(x)
		if !ok {
			return nil, fmt.Errorf("%w: %s cannot be represented as float64", ErrDataLoss, x.RatString())
		}
		return f, nil
	}
	return nil, fmt.Errorf("%w: cannot use %T as float", ErrTypeMismatch, v)
}

func (t floatType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	f, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return numberAV(formatFloat(f.(float64))), nil
}

func (floatType) Deserialize(av types.AttributeValue) (any, error) {
	r, err := numberFromAV(av)
	if err != nil {
		return nil, err
	}
	f, _ := r.Float64()
	return f, nil
}

type intType struct{}

func (intType) Name() string      { return "int" }
func (intType) Aliases() []string { return []string{"int64", "integer"} }
func (intType) Kind() Kind        { return KindN }
func (intType) Mutable() bool     { return false }

func (intType) Coerce(v any, force bool) (any, error) {
	n, ok, err := normalizeNumber(v)
	if err != nil {
		return nil, err
	}
	if i, isInt := n.(int64); isInt {
		return i, nil
	}
	if !force {
		return nil, fmt.Errorf("%w: cannot use %T as int", ErrTypeMismatch, v)
	}
	if !ok {
		s, isStr := v.(string)
		if !isStr {
			return nil, fmt.Errorf("%w: cannot use %T as int", ErrTypeMismatch, v)
		}
		if n, err = parseNumber(s); err != nil {
			return nil, err
		}
	}
	switch x := n.(type) {
	case float64:
		if i, ok := floatToInt(x); ok {
			return i, nil
		}
		return nil, fmt.Errorf("%w: refusing to convert %v to int", ErrDataLoss, x)
	case *big.Rat:
		if i, ok := ratToInt(x); ok {
			return i, nil
		}
		return nil, fmt.Errorf("%w: refusing to convert %s to int", ErrDataLoss, x.RatString())
	}
	return nil, fmt.Errorf("%w: cannot use %T as int", ErrTypeMismatch, v)
}

func (t intType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	i, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return numberAV(strconv.FormatInt(i.(int64), 10)), nil
}

func (intType) Deserialize(av types.AttributeValue) (any, error) {
	r, err := numberFromAV(av)
	if err != nil {
		return nil, err
	}
	i, ok := ratToInt(r)
	if !ok {
		return nil, fmt.Errorf("%w: stored value %s is not an int", ErrDataLoss, r.RatString())
	}
	return i, nil
}

type decimalType struct{}

func (decimalType) Name() string      { return "decimal" }
func (decimalType) Aliases() []string { return nil }
func (decimalType) Kind() Kind        { return KindN }
func (decimalType) Mutable() bool     { return false }

func (decimalType) Coerce(v any, force bool) (any, error) {
	n, ok, err := normalizeNumber(v)
	if err != nil {
		return nil, err
	}
	var r *big.Rat
	switch x := n.(type) {
	case *big.Rat:
		r = new(big.Rat).Set(x)
	case int64:
		if !force {
			return nil, fmt.Errorf("%w: cannot use %T as decimal", ErrTypeMismatch, v)
		}
		r = new(big.Rat).SetInt64(x)
	case float64:
		if !force {
			return nil, fmt.Errorf("%w: cannot use %T as decimal", ErrTypeMismatch, v)
		}
		// The shortest decimal that round-trips, not the binary expansion.
		r, _ = new(big.Rat).SetString(formatFloat(x))
	default:
		s, isStr := v.(string)
		if ok || !isStr || !force {
			return nil, fmt.Errorf("%w: cannot use %T as decimal", ErrTypeMismatch, v)
		}
		if r, err = parseNumber(s); err != nil {
			return nil, err
		}
	}
	if _, exact := formatRat(r); !exact {
		return nil, fmt.Errorf("%w: %s has no exact decimal form", ErrDataLoss, r.RatString())
	}
	return r, nil
}

func (t decimalType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	r, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	s, _ := formatRat(r.(*big.Rat))
	return numberAV(s), nil
}

func (decimalType) Deserialize(av types.AttributeValue) (any, error) {
	return numberFromAV(av)
}
