package ddbtype

import (
	"fmt"
	"math/big"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var (
	// DateTime stores a UTC instant with microsecond precision as epoch
	// seconds in an N attribute.
	DateTime Definition = dateTimeType{}
	// Date stores a calendar day as the epoch seconds of its UTC midnight.
	Date Definition = dateType{}
)

const dateLayout = "2006-01-02"

type dateTimeType struct{}

func (dateTimeType) Name() string      { return "datetime" }
func (dateTimeType) Aliases() []string { return nil }
func (dateTimeType) Kind() Kind        { return KindN }
func (dateTimeType) Mutable() bool     { return false }

func (dateTimeType) Coerce(v any, force bool) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return x.UTC().Truncate(time.Microsecond), nil
	case *time.Time:
		if x != nil {
			return x.UTC().Truncate(time.Microsecond), nil
		}
	case string:
		if force {
			t, err := time.Parse(time.RFC3339Nano, x)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return nil, fmt.Errorf("%w: cannot use %T as datetime", ErrTypeMismatch, v)
}

func (t dateTimeType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	c, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	secs := big.NewRat(c.(time.Time).UnixMicro(), int64(time.Second/time.Microsecond))
	s, _ := formatRat(secs)
	return numberAV(s), nil
}

func (dateTimeType) Deserialize(av types.AttributeValue) (any, error) {
	r, err := numberFromAV(av)
	if err != nil {
		return nil, err
	}
	scaled := new(big.Int).Mul(r.Num(), big.NewInt(int64(time.Second/time.Microsecond)))
	micros := scaled.Div(scaled, r.Denom())
	if !micros.IsInt64() {
		return nil, fmt.Errorf("%w: %s is out of range for a datetime", ErrDataLoss, r.RatString())
	}
	return time.UnixMicro(micros.Int64()).UTC(), nil
}

type dateType struct{}

func (dateType) Name() string      { return "date" }
func (dateType) Aliases() []string { return nil }
func (dateType) Kind() Kind        { return KindN }
func (dateType) Mutable() bool     { return false }

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Coerce keeps the calendar day of a time.Time in its own location.
func (dateType) Coerce(v any, force bool) (any, error) {
	switch x := v.(type) {
	case time.Time:
		return midnight(x), nil
	case *time.Time:
		if x != nil {
			return midnight(*x), nil
		}
	case string:
		if force {
			t, err := time.Parse(dateLayout, x)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrTypeMismatch, err)
			}
			return t, nil
		}
	}
	return nil, fmt.Errorf("%w: cannot use %T as date", ErrTypeMismatch, v)
}

func (t dateType) Serialize(v any) (types.AttributeValue, error) {
	if v == nil {
		return nil, nil
	}
	c, err := t.Coerce(v, false)
	if err != nil {
		return nil, err
	}
	return numberAV(strconv.FormatInt(c.(time.Time).Unix(), 10)), nil
}

func (dateType) Deserialize(av types.AttributeValue) (any, error) {
	r, err := numberFromAV(av)
	if err != nil {
		return nil, err
	}
	secs, ok := ratToInt(r)
	if !ok {
		return nil, fmt.Errorf("%w: %s is not a whole number of seconds", ErrDataLoss, r.RatString())
	}
	return midnight(time.Unix(secs, 0).UTC()), nil
}
