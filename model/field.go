package model

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
)

// JoinSeparator separates source values in the default composite merge.
const JoinSeparator = ":"

// MergeFunc computes a composite value from its source values, in source
// order. Absent sources are passed as nil. A nil result means the composite
// is absent.
type MergeFunc func(values []any) any

// Validator checks a value before it is written. Validators see nil for
// absent values.
type Validator func(v any) error

// LocalIndex makes a field the range key of a local secondary index.
type LocalIndex struct {
	Name       string
	Projection table.Projection
}

// Field describes one declared attribute of a model. A field with Sources is
// a composite: its value is derived from other fields and cannot be assigned.
type Field struct {
	Name     string
	Type     ddbtype.Definition
	HashKey  bool
	RangeKey bool
	Nullable bool
	// Coerce converts assigned values of other types when no information is
	// lost.
	Coerce      bool
	Index       *LocalIndex
	Validators  []Validator
	Default     any
	DefaultFunc func() any

	Sources []string
	Merge   MergeFunc

	joinMerge bool
}

type FieldOption func(*Field)

func HashKey() FieldOption  { return func(f *Field) { f.HashKey = true } }
func RangeKey() FieldOption { return func(f *Field) { f.RangeKey = true } }

// NotNull makes an absent value fail validation.
func NotNull() FieldOption { return func(f *Field) { f.Nullable = false } }

func Coercible() FieldOption { return func(f *Field) { f.Coerce = true } }

// WithIndex declares a local secondary index ranged on the field.
func WithIndex(name string, projection table.Projection) FieldOption {
	return func(f *Field) { f.Index = &LocalIndex{Name: name, Projection: projection} }
}

func WithValidator(v Validator) FieldOption {
	return func(f *Field) { f.Validators = append(f.Validators, v) }
}

// WithDefault sets the value of the field on new records. Dicts, lists, sets
// and byte slices are copied for every record.
func WithDefault(v any) FieldOption {
	return func(f *Field) { f.Default = v }
}

func WithDefaultFunc(fn func() any) FieldOption {
	return func(f *Field) { f.DefaultFunc = fn }
}

// WithMerge replaces the default ":" join of a composite.
func WithMerge(fn MergeFunc) FieldOption {
	return func(f *Field) {
		f.Merge = fn
		f.joinMerge = false
	}
}

// WithType sets the type of the field, typically the result type of a
// composite.
func WithType(def ddbtype.Definition) FieldOption {
	return func(f *Field) { f.Type = def }
}

// NewField declares a nullable field of type typ.
func NewField(name string, typ ddbtype.Definition, opts ...FieldOption) *Field {
	f := &Field{Name: name, Type: typ, Nullable: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewComposite declares a field derived from sources. By default the source
// values are joined with ":" into a str.
func NewComposite(name string, sources []string, opts ...FieldOption) *Field {
	f := &Field{
		Name:      name,
		Type:      ddbtype.Str,
		Nullable:  true,
		Sources:   slices.Clone(sources),
		Merge:     JoinMerge,
		joinMerge: true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// IsComposite reports whether the field is derived from other fields.
func (f *Field) IsComposite() bool {
	return len(f.Sources) > 0
}

// Invertible reports whether a composite value can be split back into its
// source values, which is only the case for the default join.
func (f *Field) Invertible() bool {
	return f.IsComposite() && f.joinMerge
}

// IsKey reports whether the field is the table hash or range key.
func (f *Field) IsKey() bool {
	return f.HashKey || f.RangeKey
}

// JoinMerge joins the source values with ":". It yields nil when any source
// is absent.
func JoinMerge(values []any) any {
	parts := make([]string, len(values))
	for i, v := range values {
		if v == nil {
			return nil
		}
		parts[i] = joinPart(v)
	}
	return strings.Join(parts, JoinSeparator)
}

func joinPart(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case []byte:
		return string(x)
	case bool:
		return strconv.FormatBool(x)
	}
	if av, err := ddbtype.Number.Serialize(v); err == nil {
		if n, ok := av.(*types.AttributeValueMemberN); ok {
			return n.Value
		}
	}
	return fmt.Sprint(v)
}

// Split inverts JoinMerge for a composite, coercing each part into the type
// of its source field.
func (m *Metadata) Split(composite *Field, v any) ([]any, error) {
	if !composite.Invertible() {
		return nil, fmt.Errorf("%w: composite %s uses a custom merge", ErrAttributeImmutable, composite.Name)
	}
	s, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("%w: composite %s value %v is not a string", ddbtype.ErrTypeMismatch, composite.Name, v)
	}
	parts := strings.Split(s, JoinSeparator)
	if len(parts) != len(composite.Sources) {
		return nil, fmt.Errorf("%w: %q does not split into %d parts", ddbtype.ErrTypeMismatch, s, len(composite.Sources))
	}
	out := make([]any, len(parts))
	for i, part := range parts {
		src := m.fields[composite.Sources[i]]
		c, err := src.Type.Coerce(part, true)
		if err != nil {
			return nil, fmt.Errorf("composite %s source %s: %w", composite.Name, src.Name, err)
		}
		out[i] = c
	}
	return out, nil
}

// NewUUID returns a random UUID string. It is meant as a default factory.
func NewUUID() any {
	return uuid.NewString()
}

// defaultValue returns a fresh default for one record.
func (f *Field) defaultValue() (any, error) {
	var v any
	if f.DefaultFunc != nil {
		v = f.DefaultFunc()
	} else {
		v = cloneValue(f.Default)
	}
	if v == nil {
		return nil, nil
	}
	return f.Type.Coerce(v, true)
}

// cloneValue copies the mutable containers making up v.
func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	case []byte:
		return slices.Clone(x)
	case *ddbtype.Set:
		return x.Clone()
	case map[string]string:
		return maps.Clone(x)
	case []string:
		return slices.Clone(x)
	}
	return v
}

// IsPrivate reports whether name is reserved for values that live on the
// record only and are never persisted.
func IsPrivate(name string) bool {
	return strings.HasPrefix(name, "_") || strings.HasSuffix(name, "_")
}

var errRequired = errors.New("value is required")
