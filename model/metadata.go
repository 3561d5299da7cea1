// Package model declares record schemas and tracks changes to records.
//
// A Metadata describes one model: its table, primary key, indexes and
// fields. Records created from it hold current values plus the baseline last
// known to be persisted, and derive from the difference the update a sync has
// to issue.
package model

import (
	"fmt"
	"slices"
	"strings"

	"github.com/acksell/flywheel/dynamodb/table"
)

const (
	MaxLocalIndexes  = 5
	MaxGlobalIndexes = 20
)

// GlobalIndex declares a global secondary index over fields of the model.
type GlobalIndex struct {
	Name       string
	HashKey    string
	RangeKey   string
	Projection table.Projection
	Throughput table.Throughput
}

// Config is the declarative form of a model. Configs compose with Merge
// before NewMetadata validates them.
type Config struct {
	Name      string
	Namespace []string
	// TableName replaces the name derived from Namespace and Name.
	TableName     string
	Throughput    table.Throughput
	Fields        []*Field
	GlobalIndexes []GlobalIndex
}

// Merge returns c overridden by the non-zero parts of o. Fields and global
// indexes are matched by name: those in o replace their namesake in c and the
// rest are appended.
func (c Config) Merge(o Config) Config {
	out := c
	if o.Name != "" {
		out.Name = o.Name
	}
	if o.Namespace != nil {
		out.Namespace = slices.Clone(o.Namespace)
	}
	if o.TableName != "" {
		out.TableName = o.TableName
	}
	if o.Throughput != (table.Throughput{}) {
		out.Throughput = o.Throughput
	}
	out.Fields = mergeByName(c.Fields, o.Fields, func(f *Field) string { return f.Name })
	out.GlobalIndexes = mergeByName(c.GlobalIndexes, o.GlobalIndexes, func(g GlobalIndex) string { return g.Name })
	return out
}

func mergeByName[T any](base, override []T, name func(T) string) []T {
	out := slices.Clone(base)
	for _, o := range override {
		i := slices.IndexFunc(out, func(b T) bool { return name(b) == name(o) })
		if i >= 0 {
			out[i] = o
		} else {
			out = append(out, o)
		}
	}
	return out
}

// Metadata is the validated schema of a model. It is immutable and safe for
// concurrent use.
type Metadata struct {
	name       string
	tableName  string
	throughput table.Throughput
	fields     map[string]*Field
	order      []string
	hashKey    *Field
	rangeKey   *Field
	gsis       []GlobalIndex
	// dependents maps a field to every composite derived from it, directly or
	// through other composites.
	dependents map[string][]string
}

// NewMetadata validates cfg and builds its metadata. Errors wrap
// ErrInvalidSchema.
func NewMetadata(cfg Config) (*Metadata, error) {
	if cfg.Name == "" {
		return nil, schemaErrorf("model name is required")
	}
	m := &Metadata{
		name:       cfg.Name,
		tableName:  cfg.TableName,
		throughput: cfg.Throughput,
		fields:     make(map[string]*Field, len(cfg.Fields)),
		gsis:       slices.Clone(cfg.GlobalIndexes),
		dependents: make(map[string][]string),
	}
	if m.tableName == "" {
		parts := slices.DeleteFunc(append(slices.Clone(cfg.Namespace), cfg.Name), func(s string) bool { return s == "" })
		m.tableName = strings.Join(parts, "-")
	}
	for _, f := range cfg.Fields {
		if err := m.addField(f); err != nil {
			return nil, err
		}
	}
	if err := m.validateKeys(); err != nil {
		return nil, err
	}
	if err := m.validateComposites(); err != nil {
		return nil, err
	}
	if err := m.validateIndexes(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *Metadata) addField(f *Field) error {
	if f == nil || f.Name == "" {
		return schemaErrorf("%s: field name is required", m.name)
	}
	if IsPrivate(f.Name) {
		return schemaErrorf("%s: field %s: names starting or ending with _ are private", m.name, f.Name)
	}
	if _, dup := m.fields[f.Name]; dup {
		return schemaErrorf("%s: duplicate field %s", m.name, f.Name)
	}
	if f.Type == nil {
		return schemaErrorf("%s: field %s has no type", m.name, f.Name)
	}
	if f.HashKey && f.RangeKey {
		return schemaErrorf("%s: field %s cannot be both hash and range key", m.name, f.Name)
	}
	if !f.IsComposite() && f.Default != nil && f.DefaultFunc == nil {
		if _, err := f.defaultValue(); err != nil {
			return schemaErrorf("%s: field %s: bad default: %v", m.name, f.Name, err)
		}
	}
	m.fields[f.Name] = f
	m.order = append(m.order, f.Name)
	return nil
}

func (m *Metadata) validateKeys() error {
	for _, name := range m.order {
		f := m.fields[name]
		if !f.IsKey() && f.Index == nil {
			continue
		}
		if !f.Type.Kind().IsScalarKey() {
			return schemaErrorf("%s: key field %s must be S, N or B, not %s", m.name, f.Name, f.Type.Kind())
		}
		switch {
		case f.HashKey && m.hashKey != nil:
			return schemaErrorf("%s: more than one hash key (%s, %s)", m.name, m.hashKey.Name, f.Name)
		case f.HashKey:
			m.hashKey = f
		case f.RangeKey && m.rangeKey != nil:
			return schemaErrorf("%s: more than one range key (%s, %s)", m.name, m.rangeKey.Name, f.Name)
		case f.RangeKey:
			m.rangeKey = f
		}
	}
	if m.hashKey == nil {
		return schemaErrorf("%s: a hash key is required", m.name)
	}
	return nil
}

func (m *Metadata) validateComposites() error {
	for _, name := range m.order {
		f := m.fields[name]
		if !f.IsComposite() {
			continue
		}
		if len(f.Sources) < 2 {
			return schemaErrorf("%s: composite %s needs at least two sources", m.name, f.Name)
		}
		if f.Merge == nil {
			return schemaErrorf("%s: composite %s has no merge function", m.name, f.Name)
		}
		for _, src := range f.Sources {
			if src == f.Name {
				return schemaErrorf("%s: composite %s cannot contain itself", m.name, f.Name)
			}
			if _, ok := m.fields[src]; !ok {
				return schemaErrorf("%s: composite %s: unknown source %s", m.name, f.Name, src)
			}
		}
	}
	for _, name := range m.order {
		if err := m.collectDependents(name, name, nil); err != nil {
			return err
		}
	}
	return nil
}

// collectDependents walks the composites built from name and records them as
// dependents of root. path holds the composites being expanded.
func (m *Metadata) collectDependents(root, name string, path []string) error {
	for _, cname := range m.order {
		c := m.fields[cname]
		if !slices.Contains(c.Sources, name) {
			continue
		}
		if cname == root || slices.Contains(path, cname) {
			return schemaErrorf("%s: composite %s is part of a cycle", m.name, cname)
		}
		if !slices.Contains(m.dependents[root], cname) {
			m.dependents[root] = append(m.dependents[root], cname)
		}
		if err := m.collectDependents(root, cname, append(path, cname)); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metadata) validateIndexes() error {
	names := map[string]bool{}
	lsis := 0
	for _, name := range m.order {
		f := m.fields[name]
		if f.Index == nil {
			continue
		}
		lsis++
		if m.rangeKey == nil {
			return schemaErrorf("%s: local index %s requires a range key", m.name, f.Index.Name)
		}
		if f.IsKey() {
			return schemaErrorf("%s: local index %s cannot range on a table key", m.name, f.Index.Name)
		}
		if f.Index.Name == "" || names[f.Index.Name] {
			return schemaErrorf("%s: local index name %q is empty or duplicated", m.name, f.Index.Name)
		}
		names[f.Index.Name] = true
	}
	if lsis > MaxLocalIndexes {
		return schemaErrorf("%s: at most %d local indexes, got %d", m.name, MaxLocalIndexes, lsis)
	}
	if len(m.gsis) > MaxGlobalIndexes {
		return schemaErrorf("%s: at most %d global indexes, got %d", m.name, MaxGlobalIndexes, len(m.gsis))
	}
	for _, g := range m.gsis {
		if g.Name == "" || names[g.Name] {
			return schemaErrorf("%s: global index name %q is empty or duplicated", m.name, g.Name)
		}
		names[g.Name] = true
		keys := []string{g.HashKey}
		if g.RangeKey != "" {
			keys = append(keys, g.RangeKey)
		}
		for _, key := range keys {
			f, ok := m.fields[key]
			if !ok {
				return schemaErrorf("%s: global index %s: unknown key field %q", m.name, g.Name, key)
			}
			if !f.Type.Kind().IsScalarKey() {
				return schemaErrorf("%s: global index %s: key field %s must be S, N or B", m.name, g.Name, key)
			}
		}
	}
	if err := m.TableDefinition().Validate(); err != nil {
		return schemaErrorf("%v", err)
	}
	return nil
}

func (m *Metadata) Name() string      { return m.name }
func (m *Metadata) TableName() string { return m.tableName }
func (m *Metadata) HashKey() *Field   { return m.hashKey }

// RangeKey returns nil when the table has no range key.
func (m *Metadata) RangeKey() *Field { return m.rangeKey }

func (m *Metadata) Field(name string) (*Field, bool) {
	f, ok := m.fields[name]
	return f, ok
}

// Fields returns the declared fields in declaration order.
func (m *Metadata) Fields() []*Field {
	out := make([]*Field, len(m.order))
	for i, name := range m.order {
		out[i] = m.fields[name]
	}
	return out
}

func (m *Metadata) GlobalIndexes() []GlobalIndex {
	return slices.Clone(m.gsis)
}

// Dependents lists the composites derived from name.
func (m *Metadata) Dependents(name string) []string {
	return m.dependents[name]
}

// KeyNames returns the table key attribute names, hash key first.
func (m *Metadata) KeyNames() []string {
	if m.rangeKey == nil {
		return []string{m.hashKey.Name}
	}
	return []string{m.hashKey.Name, m.rangeKey.Name}
}

// IsKeyRelated reports whether changing name changes the primary key, either
// because it is a key or because a key composite derives from it.
func (m *Metadata) IsKeyRelated(name string) bool {
	if slices.Contains(m.KeyNames(), name) {
		return true
	}
	for _, dep := range m.dependents[name] {
		if m.fields[dep].IsKey() {
			return true
		}
	}
	return false
}

// Ordering is one way to read the table: the table key itself or the key of a
// secondary index.
type Ordering struct {
	// Index is empty for the table.
	Index      string
	HashKey    *Field
	RangeKey   *Field
	Global     bool
	Projection table.Projection
}

// Orderings lists the table first, then local and global indexes in
// declaration order.
func (m *Metadata) Orderings() []Ordering {
	out := []Ordering{{HashKey: m.hashKey, RangeKey: m.rangeKey}}
	for _, name := range m.order {
		f := m.fields[name]
		if f.Index != nil {
			out = append(out, Ordering{Index: f.Index.Name, HashKey: m.hashKey, RangeKey: f, Projection: f.Index.Projection})
		}
	}
	for _, g := range m.gsis {
		o := Ordering{Index: g.Name, HashKey: m.fields[g.HashKey], Global: true, Projection: g.Projection}
		if g.RangeKey != "" {
			o.RangeKey = m.fields[g.RangeKey]
		}
		out = append(out, o)
	}
	return out
}

func keyDef(f *Field) table.KeyDef {
	if f == nil {
		return table.KeyDef{}
	}
	return table.KeyDef{Name: f.Name, Kind: table.KeyKind(f.Type.Kind())}
}

// TableDefinition renders the table backing the model.
func (m *Metadata) TableDefinition() table.TableDefinition {
	def := table.TableDefinition{
		Name: m.tableName,
		KeyDefinitions: table.PrimaryKeyDefinition{
			PartitionKey: keyDef(m.hashKey),
			SortKey:      keyDef(m.rangeKey),
		},
		Throughput: m.throughput,
	}
	for _, name := range m.order {
		f := m.fields[name]
		if f.Index != nil {
			def.LSIs = append(def.LSIs, table.LSIDefinition{
				Name:       f.Index.Name,
				SortKey:    keyDef(f),
				Projection: f.Index.Projection,
			})
		}
	}
	for _, g := range m.gsis {
		gsi := table.GSIDefinition{
			Name: g.Name,
			KeyDefinitions: table.PrimaryKeyDefinition{
				PartitionKey: keyDef(m.fields[g.HashKey]),
			},
			Projection: g.Projection,
			Throughput: g.Throughput,
		}
		if g.RangeKey != "" {
			gsi.KeyDefinitions.SortKey = keyDef(m.fields[g.RangeKey])
		}
		def.GSIs = append(def.GSIs, gsi)
	}
	return def
}

func (m *Metadata) String() string {
	return fmt.Sprintf("%s(%s)", m.name, m.tableName)
}
