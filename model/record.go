package model

import (
	"fmt"
	"maps"
	"slices"

	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Item is a raw DynamoDB item.
type Item = map[string]types.AttributeValue

// Record is one instance of a model. It is not safe for concurrent use.
type Record struct {
	meta     *Metadata
	values   map[string]any
	overflow map[string]any
	private  map[string]any
	// baseline is the item last read from or written to the store, nil until
	// the record is persisted.
	baseline Item
	track    tracker
	gen      uint64
	cache    map[string]cachedComposite
}

type cachedComposite struct {
	gen   uint64
	value any
}

func newRecord(m *Metadata) *Record {
	return &Record{
		meta:     m,
		values:   make(map[string]any),
		overflow: make(map[string]any),
		private:  make(map[string]any),
		track:    newTracker(),
		cache:    make(map[string]cachedComposite),
	}
}

// New creates an unsaved record with defaults applied, then assigns values.
// Non-nil defaults count as changes.
func (m *Metadata) New(values map[string]any) (*Record, error) {
	r := newRecord(m)
	for _, f := range m.Fields() {
		if f.IsComposite() {
			continue
		}
		if _, given := values[f.Name]; given {
			continue
		}
		v, err := f.defaultValue()
		if err != nil {
			return nil, fmt.Errorf("%s.%s default: %w", m.name, f.Name, err)
		}
		if v == nil {
			continue
		}
		r.values[f.Name] = v
		if !f.IsKey() {
			r.track.changed[f.Name] = true
		}
	}
	for _, name := range slices.Sorted(maps.Keys(values)) {
		if err := r.Set(name, values[name]); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Load builds a clean, persisted record from a stored item.
func (m *Metadata) Load(item Item) (*Record, error) {
	r := newRecord(m)
	if err := r.Reload(item); err != nil {
		return nil, err
	}
	return r, nil
}

// KeyFrom renders the primary key of the record holding values. Composite
// keys are computed from their sources.
func (m *Metadata) KeyFrom(values map[string]any) (Item, error) {
	r := newRecord(m)
	for name, v := range values {
		if err := r.Set(name, v); err != nil {
			return nil, err
		}
	}
	return r.Key()
}

func (r *Record) Meta() *Metadata { return r.meta }

// Persisted reports whether the record was read from or written to the store.
func (r *Record) Persisted() bool { return r.baseline != nil }

// Baseline returns a copy of the item last known to be stored.
func (r *Record) Baseline() Item {
	return ddbexpr.CopyItem(r.baseline)
}

// Reload replaces the values of the record with item and makes it clean.
// Private values are kept.
func (r *Record) Reload(item Item) error {
	values := make(map[string]any, len(item))
	overflow := make(map[string]any)
	for name, av := range item {
		if IsPrivate(name) {
			continue
		}
		f, declared := r.meta.fields[name]
		if declared && f.IsComposite() {
			continue
		}
		var (
			v   any
			err error
		)
		if declared {
			v, err = f.Type.Deserialize(av)
		} else {
			v, err = deserializeOverflow(av)
		}
		if err != nil {
			return fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
		if v == nil {
			continue
		}
		if declared {
			values[name] = v
		} else {
			overflow[name] = v
		}
	}
	r.values = values
	r.overflow = overflow
	r.baseline = ddbexpr.CopyItem(item)
	if r.baseline == nil {
		r.baseline = Item{}
	}
	r.track.reset()
	r.gen++
	return nil
}

// Get returns the value of a declared, undeclared or private attribute, or
// nil when it is absent. Composites are computed from their sources.
func (r *Record) Get(name string) any {
	v, _ := r.resolve(name)
	return v
}

func (r *Record) resolve(name string) (any, error) {
	if IsPrivate(name) {
		return r.private[name], nil
	}
	f, declared := r.meta.fields[name]
	if !declared {
		return r.overflow[name], nil
	}
	if !f.IsComposite() {
		return r.values[name], nil
	}
	if c, ok := r.cache[name]; ok && c.gen == r.gen {
		return c.value, nil
	}
	sources := make([]any, len(f.Sources))
	for i, src := range f.Sources {
		v, err := r.resolve(src)
		if err != nil {
			return nil, err
		}
		sources[i] = v
	}
	var value any
	if merged := f.Merge(sources); merged != nil {
		c, err := f.Type.Coerce(merged, true)
		if err != nil {
			return nil, fmt.Errorf("composite %s: %w", name, err)
		}
		value = c
	}
	r.cache[name] = cachedComposite{gen: r.gen, value: value}
	return value, nil
}

// Set assigns an attribute. Declared fields coerce v with their type, forcing
// conversions when the field is coercible. A nil value deletes the attribute.
// Names starting or ending with _ are private to the record.
func (r *Record) Set(name string, v any) error {
	if IsPrivate(name) {
		if v == nil {
			delete(r.private, name)
		} else {
			r.private[name] = v
		}
		return nil
	}
	f, declared := r.meta.fields[name]
	if declared && f.IsComposite() {
		return fmt.Errorf("%w: %s.%s is a composite", ErrAttributeImmutable, r.meta.name, name)
	}
	if v != nil {
		var err error
		if declared {
			v, err = f.Type.Coerce(v, f.Coerce)
		} else {
			v, err = coerceOverflow(v)
		}
		if err != nil {
			return fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
	}
	av, err := r.serialize(name, v)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
	}
	if r.Persisted() && r.meta.IsKeyRelated(name) {
		if !ddbexpr.Equal(av, r.baseline[name]) {
			return fmt.Errorf("%w: %s.%s", ErrPrimaryKeyChange, r.meta.name, name)
		}
		return nil
	}

	r.store(name, v)
	r.track.clear(name)
	if declared && f.IsKey() {
		return nil
	}
	if !ddbexpr.Equal(av, r.baseline[name]) {
		if v == nil {
			r.track.deleted[name] = true
		} else {
			r.track.changed[name] = true
		}
	}
	return nil
}

// Delete removes an attribute. It is the same as setting it to nil.
func (r *Record) Delete(name string) error {
	return r.Set(name, nil)
}

func (r *Record) store(name string, v any) {
	target := r.overflow
	if _, declared := r.meta.fields[name]; declared {
		target = r.values
	}
	if v == nil {
		delete(target, name)
	} else {
		target[name] = v
	}
	r.gen++
}

func (r *Record) serialize(name string, v any) (types.AttributeValue, error) {
	if f, declared := r.meta.fields[name]; declared {
		return f.Type.Serialize(v)
	}
	return serializeOverflow(v)
}

// Names lists the declared fields followed by the undeclared attributes set
// on the record.
func (r *Record) Names() []string {
	names := slices.Clone(r.meta.order)
	return append(names, slices.Sorted(maps.Keys(r.overflow))...)
}

// Key renders the primary key of the record.
func (r *Record) Key() (Item, error) {
	key := make(Item, 2)
	for _, name := range r.meta.KeyNames() {
		v, err := r.resolve(name)
		if err != nil {
			return nil, err
		}
		av, err := r.serialize(name, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
		if av == nil {
			return nil, fmt.Errorf("%w: %s.%s", ErrMissingKey, r.meta.name, name)
		}
		key[name] = av
	}
	return key, nil
}

// Item renders every persisted attribute of the record, composites included.
func (r *Record) Item() (Item, error) {
	if _, err := r.Key(); err != nil {
		return nil, err
	}
	item := make(Item, len(r.meta.order)+len(r.overflow))
	for _, name := range r.Names() {
		v, err := r.resolve(name)
		if err != nil {
			return nil, err
		}
		av, err := r.serialize(name, v)
		if err != nil {
			return nil, fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
		if av != nil {
			item[name] = av
		}
	}
	return item, nil
}

// Decode unmarshals the record into out, a pointer to a struct or map, with
// the attributevalue rules.
func (r *Record) Decode(out any) error {
	item, err := r.Item()
	if err != nil {
		return err
	}
	return attributevalue.UnmarshalMap(item, out)
}

// Validate runs the field checks: required values first, then validators in
// declaration order. The first failure is returned as a *ValidationError.
func (r *Record) Validate() error {
	for _, f := range r.meta.Fields() {
		v, err := r.resolve(f.Name)
		if err != nil {
			return &ValidationError{Model: r.meta.name, Field: f.Name, Err: err}
		}
		if v == nil && !f.Nullable {
			return &ValidationError{Model: r.meta.name, Field: f.Name, Err: errRequired}
		}
		for _, check := range f.Validators {
			if err := check(v); err != nil {
				return &ValidationError{Model: r.meta.name, Field: f.Name, Value: v, Err: err}
			}
		}
	}
	return nil
}
