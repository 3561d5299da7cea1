package model

import (
	"fmt"
	"maps"
	"math/big"
	"slices"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/acksell/flywheel/dynamodb/ddbstore/ddbexpr"
)

// tracker classifies the attributes changed since the baseline. An attribute
// is in at most one class: changed, deleted, incremented, or carrying set
// additions and removals.
type tracker struct {
	changed map[string]bool
	deleted map[string]bool
	incrs   map[string]*big.Rat
	adds    map[string]*ddbtype.Set
	removes map[string]*ddbtype.Set
}

func newTracker() tracker {
	t := tracker{}
	t.reset()
	return t
}

func (t *tracker) reset() {
	t.changed = make(map[string]bool)
	t.deleted = make(map[string]bool)
	t.incrs = make(map[string]*big.Rat)
	t.adds = make(map[string]*ddbtype.Set)
	t.removes = make(map[string]*ddbtype.Set)
}

func (t *tracker) clear(name string) {
	delete(t.changed, name)
	delete(t.deleted, name)
	delete(t.incrs, name)
	delete(t.adds, name)
	delete(t.removes, name)
}

func (t *tracker) tracked(name string) bool {
	return t.changed[name] || t.deleted[name] || t.incrs[name] != nil || t.adds[name] != nil || t.removes[name] != nil
}

// replaced reports whether the next write sets or removes name as a whole.
func (t *tracker) replaced(name string) bool {
	return t.changed[name] || t.deleted[name]
}

func (r *Record) checkAtomicTarget(name string) (*Field, error) {
	if IsPrivate(name) {
		return nil, fmt.Errorf("%w: %s is private", ErrUnknownField, name)
	}
	if r.meta.IsKeyRelated(name) {
		return nil, fmt.Errorf("%w: %s.%s", ErrPrimaryKeyChange, r.meta.name, name)
	}
	f, declared := r.meta.fields[name]
	if declared && f.IsComposite() {
		return nil, fmt.Errorf("%w: %s.%s is a composite", ErrAttributeImmutable, r.meta.name, name)
	}
	return f, nil
}

// Incr adds delta to a number attribute. Consecutive increments fold into one
// pending delta, written with an unconditional ADD. Incrementing an attribute
// already assigned since the last sync updates the assigned value instead.
func (r *Record) Incr(name string, delta any) error {
	f, err := r.checkAtomicTarget(name)
	if err != nil {
		return err
	}
	if f != nil && f.Type.Kind() != ddbtype.KindN {
		return fmt.Errorf("%w: cannot increment %s field %s", ddbtype.ErrTypeMismatch, f.Type.Name(), name)
	}
	d, err := ddbtype.Decimal.Coerce(delta, true)
	if err != nil {
		return fmt.Errorf("increment %s: %w", name, err)
	}
	cur, err := r.resolve(name)
	if err != nil {
		return err
	}
	next, err := addNumber(f, cur, delta, d.(*big.Rat))
	if err != nil {
		return fmt.Errorf("increment %s: %w", name, err)
	}

	r.store(name, next)
	if r.track.replaced(name) {
		delete(r.track.deleted, name)
		r.track.changed[name] = true
		return nil
	}
	pending := new(big.Rat).Set(d.(*big.Rat))
	if prev := r.track.incrs[name]; prev != nil {
		pending.Add(pending, prev)
	}
	r.track.incrs[name] = pending
	return nil
}

// addNumber returns cur+delta in the representation of the field. Floats are
// added as floats; everything else exactly.
func addNumber(f *Field, cur, delta any, exact *big.Rat) (any, error) {
	_, curFloat := cur.(float64)
	_, deltaFloat := delta.(float64)
	if curFloat || deltaFloat || (f != nil && f.Type == ddbtype.Float) {
		sum, _ := exact.Float64()
		if cur != nil {
			c, err := ddbtype.Float.Coerce(cur, true)
			if err != nil {
				return nil, err
			}
			sum += c.(float64)
		}
		if f != nil {
			return f.Type.Coerce(sum, true)
		}
		return ddbtype.Number.Coerce(sum, false)
	}
	sum := new(big.Rat).Set(exact)
	if cur != nil {
		c, err := ddbtype.Decimal.Coerce(cur, true)
		if err != nil {
			return nil, err
		}
		sum.Add(sum, c.(*big.Rat))
	}
	if f != nil {
		return f.Type.Coerce(sum, true)
	}
	return ddbtype.Number.Coerce(sum, false)
}

// AddToSet adds values to a set attribute with a native ADD.
func (r *Record) AddToSet(name string, values ...any) error {
	return r.mutateSet(name, true, values)
}

// RemoveFromSet removes values from a set attribute with a native DELETE.
// Removing values added since the last sync cancels the addition; any other
// mix of additions and removals fails with ErrConflictingUpdate.
func (r *Record) RemoveFromSet(name string, values ...any) error {
	return r.mutateSet(name, false, values)
}

func (r *Record) mutateSet(name string, add bool, values []any) error {
	f, err := r.checkAtomicTarget(name)
	if err != nil {
		return err
	}
	delta, err := ddbtype.NewSet(values...)
	if err != nil {
		return fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
	}
	if f != nil {
		if !f.Type.Kind().IsSet() {
			return fmt.Errorf("%w: %s is not a set field", ddbtype.ErrTypeMismatch, name)
		}
		c, err := f.Type.Coerce(delta, f.Coerce)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
		delta = c.(*ddbtype.Set)
	}
	cur, err := r.resolve(name)
	if err != nil {
		return err
	}
	var next *ddbtype.Set
	switch c := cur.(type) {
	case nil:
		next = &ddbtype.Set{}
	case *ddbtype.Set:
		next = c
	default:
		return fmt.Errorf("%w: %s holds %T, not a set", ddbtype.ErrTypeMismatch, name, cur)
	}
	if add {
		next = next.Union(delta)
	} else {
		next = next.Difference(delta)
	}

	if !r.track.replaced(name) {
		same, opposite := r.track.adds, r.track.removes
		if !add {
			same, opposite = opposite, same
		}
		if opp := opposite[name]; opp.Len() > 0 {
			if delta.Difference(opp).Len() > 0 {
				return fmt.Errorf("%w: cannot add to and remove from %s in one update", ErrConflictingUpdate, name)
			}
			if rest := opp.Difference(delta); rest.Len() > 0 {
				opposite[name] = rest
			} else {
				delete(opposite, name)
			}
		} else {
			same[name] = same[name].Union(delta)
		}
	}
	r.store(name, next)
	return nil
}

// Changes is the partial update that brings the stored item in line with the
// record.
type Changes struct {
	Set    Item
	Remove []string
	// Add holds number deltas and set additions, Delete set removals.
	Add    Item
	Delete Item
	// Expected holds, for every attribute in Set and Remove, its baseline
	// value. A nil entry means the attribute must not exist.
	Expected Item
	// Atomic is set when a composite derives from a changed attribute. Such
	// updates must be conditional to keep the composite consistent.
	Atomic bool
}

// Empty reports whether the update has nothing to write.
func (c Changes) Empty() bool {
	return len(c.Set) == 0 && len(c.Remove) == 0 && len(c.Add) == 0 && len(c.Delete) == 0
}

// Dirty reports whether the record differs from its baseline.
func (r *Record) Dirty() bool {
	c, err := r.Changes()
	return err != nil || !c.Empty()
}

// Changes computes the update for the attributes changed since the baseline.
// Mutable values changed in place are found by comparing them with the
// baseline. Primary key attributes are never part of the update.
func (r *Record) Changes() (Changes, error) {
	c := Changes{
		Set:      Item{},
		Add:      Item{},
		Delete:   Item{},
		Expected: Item{},
	}
	dirty := map[string]bool{}

	replace := func(name string) error {
		v, err := r.resolve(name)
		if err != nil {
			return err
		}
		av, err := r.serialize(name, v)
		if err != nil {
			return fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
		old, had := r.baseline[name]
		switch {
		case av != nil:
			c.Set[name] = av
			c.Expected[name] = old
		case had:
			c.Remove = append(c.Remove, name)
			c.Expected[name] = old
		}
		return nil
	}

	for _, name := range r.candidates() {
		if !r.track.replaced(name) {
			continue
		}
		dirty[name] = true
		if err := replace(name); err != nil {
			return Changes{}, err
		}
	}

	for _, name := range r.candidates() {
		if r.track.tracked(name) || r.meta.IsKeyRelated(name) {
			continue
		}
		v, err := r.resolve(name)
		if err != nil {
			return Changes{}, err
		}
		if f, declared := r.meta.fields[name]; declared && (f.IsComposite() || !f.Type.Mutable()) {
			continue
		} else if !declared && !isMutable(v) {
			continue
		}
		av, err := r.serialize(name, v)
		if err != nil {
			return Changes{}, fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
		if !ddbexpr.Equal(av, r.baseline[name]) {
			dirty[name] = true
			if err := replace(name); err != nil {
				return Changes{}, err
			}
		}
	}

	for name, d := range r.track.incrs {
		av, err := ddbtype.Decimal.Serialize(d)
		if err != nil {
			return Changes{}, fmt.Errorf("%s.%s: %w", r.meta.name, name, err)
		}
		c.Add[name] = av
		dirty[name] = true
	}
	for name, s := range r.track.adds {
		av, err := s.MarshalDynamoDBAttributeValue()
		if err != nil {
			return Changes{}, err
		}
		c.Add[name] = av
		dirty[name] = true
	}
	for name, s := range r.track.removes {
		av, err := s.MarshalDynamoDBAttributeValue()
		if err != nil {
			return Changes{}, err
		}
		c.Delete[name] = av
		dirty[name] = true
	}

	composites := map[string]bool{}
	for name := range dirty {
		for _, dep := range r.meta.Dependents(name) {
			if !r.meta.fields[dep].IsKey() {
				composites[dep] = true
			}
		}
	}
	for _, name := range slices.Sorted(maps.Keys(composites)) {
		c.Atomic = true
		if err := replace(name); err != nil {
			return Changes{}, err
		}
	}
	slices.Sort(c.Remove)
	return c, nil
}

// candidates lists the declared fields and the undeclared attributes that
// are set on the record, tracked or present in the baseline.
func (r *Record) candidates() []string {
	seen := map[string]bool{}
	var out []string
	add := func(name string) {
		if !seen[name] && !IsPrivate(name) {
			seen[name] = true
			out = append(out, name)
		}
	}
	for _, name := range r.meta.order {
		add(name)
	}
	for _, name := range slices.Sorted(maps.Keys(r.overflow)) {
		add(name)
	}
	for _, name := range slices.Sorted(maps.Keys(r.track.deleted)) {
		add(name)
	}
	for _, name := range slices.Sorted(maps.Keys(r.baseline)) {
		add(name)
	}
	return out
}
