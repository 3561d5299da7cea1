// Package schema reads model declarations from YAML files.
//
// A schema file lists models the way model.Config declares them:
//
//	models:
//	  - name: post
//	    namespace: [blog]
//	    fields:
//	      - {name: user, type: str, hash_key: true}
//	      - {name: id, type: str, range_key: true, default_func: uuid}
//	      - {name: score, type: float, index: {name: score-index}}
//	      - {name: catts, composite: [category, ts]}
//	    global_indexes:
//	      - {name: category-index, hash_key: category, range_key: ts}
//
// Type names resolve through a ddbtype.Registry, so custom types registered
// there can be used as well.
package schema

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/acksell/flywheel/model"
	"gopkg.in/yaml.v3"
)

var ErrInvalid = errors.New("schema: invalid schema file")

// Schema is the root of a schema file.
type Schema struct {
	Models []Model `yaml:"models" json:"models"`
}

type Model struct {
	Name          string        `yaml:"name" json:"name"`
	Namespace     []string      `yaml:"namespace,omitempty" json:"namespace,omitempty"`
	Table         string        `yaml:"table,omitempty" json:"table,omitempty"`
	Throughput    *Throughput   `yaml:"throughput,omitempty" json:"throughput,omitempty"`
	Fields        []Field       `yaml:"fields" json:"fields"`
	GlobalIndexes []GlobalIndex `yaml:"global_indexes,omitempty" json:"global_indexes,omitempty"`
}

// Field describes a declared field. Composite fields list their sources and
// default to type str.
type Field struct {
	Name      string   `yaml:"name" json:"name"`
	Type      string   `yaml:"type,omitempty" json:"type,omitempty"`
	HashKey   bool     `yaml:"hash_key,omitempty" json:"hash_key,omitempty"`
	RangeKey  bool     `yaml:"range_key,omitempty" json:"range_key,omitempty"`
	Nullable  *bool    `yaml:"nullable,omitempty" json:"nullable,omitempty"`
	Coerce    bool     `yaml:"coerce,omitempty" json:"coerce,omitempty"`
	Composite []string `yaml:"composite,omitempty" json:"composite,omitempty"`
	Index     *Index   `yaml:"index,omitempty" json:"index,omitempty"`
	Default   any      `yaml:"default,omitempty" json:"default,omitempty"`
	// DefaultFunc names a factory from DefaultFuncs.
	DefaultFunc string `yaml:"default_func,omitempty" json:"default_func,omitempty"`
}

// Index declares a local secondary index ranged on the field.
type Index struct {
	Name       string      `yaml:"name" json:"name"`
	Projection *Projection `yaml:"projection,omitempty" json:"projection,omitempty"`
}

type GlobalIndex struct {
	Name       string      `yaml:"name" json:"name"`
	HashKey    string      `yaml:"hash_key" json:"hash_key"`
	RangeKey   string      `yaml:"range_key,omitempty" json:"range_key,omitempty"`
	Projection *Projection `yaml:"projection,omitempty" json:"projection,omitempty"`
	Throughput *Throughput `yaml:"throughput,omitempty" json:"throughput,omitempty"`
}

// Projection is ALL, KEYS_ONLY or INCLUDE with the included attributes.
type Projection struct {
	Type       string   `yaml:"type" json:"type"`
	Attributes []string `yaml:"attributes,omitempty" json:"attributes,omitempty"`
}

type Throughput struct {
	Read  int64 `yaml:"read" json:"read"`
	Write int64 `yaml:"write" json:"write"`
}

// DefaultFuncs are the factories default_func can name.
var DefaultFuncs = map[string]func() any{
	"uuid": model.NewUUID,
}

// Load reads a schema file and converts its models.
func Load(path string, reg *ddbtype.Registry) ([]model.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schema: %w", err)
	}
	cfgs, err := Parse(data, reg)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfgs, nil
}

// Parse decodes a schema document and converts its models. Unknown keys are
// rejected.
func Parse(data []byte, reg *ddbtype.Registry) ([]model.Config, error) {
	var s Schema
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return s.Configs(reg)
}

// Configs converts the models of s.
func (s Schema) Configs(reg *ddbtype.Registry) ([]model.Config, error) {
	out := make([]model.Config, 0, len(s.Models))
	for _, m := range s.Models {
		cfg, err := m.Config(reg)
		if err != nil {
			return nil, err
		}
		out = append(out, cfg)
	}
	return out, nil
}

// Config converts m. Validation of the model itself is left to
// model.NewMetadata.
func (m Model) Config(reg *ddbtype.Registry) (model.Config, error) {
	cfg := model.Config{
		Name:      m.Name,
		Namespace: m.Namespace,
		TableName: m.Table,
	}
	if m.Throughput != nil {
		cfg.Throughput = m.Throughput.table()
	}
	for _, f := range m.Fields {
		field, err := f.field(reg)
		if err != nil {
			return model.Config{}, fmt.Errorf("%w: model %s: field %s: %w", ErrInvalid, m.Name, f.Name, err)
		}
		cfg.Fields = append(cfg.Fields, field)
	}
	for _, g := range m.GlobalIndexes {
		gsi := model.GlobalIndex{Name: g.Name, HashKey: g.HashKey, RangeKey: g.RangeKey}
		if g.Projection != nil {
			p, err := g.Projection.table()
			if err != nil {
				return model.Config{}, fmt.Errorf("%w: model %s: index %s: %w", ErrInvalid, m.Name, g.Name, err)
			}
			gsi.Projection = p
		}
		if g.Throughput != nil {
			gsi.Throughput = g.Throughput.table()
		}
		cfg.GlobalIndexes = append(cfg.GlobalIndexes, gsi)
	}
	return cfg, nil
}

func (f Field) field(reg *ddbtype.Registry) (*model.Field, error) {
	var opts []model.FieldOption
	if f.HashKey {
		opts = append(opts, model.HashKey())
	}
	if f.RangeKey {
		opts = append(opts, model.RangeKey())
	}
	if f.Nullable != nil && !*f.Nullable {
		opts = append(opts, model.NotNull())
	}
	if f.Coerce {
		opts = append(opts, model.Coercible())
	}
	if f.Index != nil {
		var p table.Projection
		if f.Index.Projection != nil {
			var err error
			if p, err = f.Index.Projection.table(); err != nil {
				return nil, err
			}
		}
		opts = append(opts, model.WithIndex(f.Index.Name, p))
	}

	typeName := f.Type
	if typeName == "" {
		if len(f.Composite) == 0 {
			return nil, fmt.Errorf("type is required")
		}
		typeName = ddbtype.Str.Name()
	}
	typ, err := reg.Resolve(typeName)
	if err != nil {
		return nil, err
	}

	switch {
	case f.Default != nil && f.DefaultFunc != "":
		return nil, fmt.Errorf("default and default_func are exclusive")
	case f.Default != nil:
		v, err := typ.Coerce(f.Default, true)
		if err != nil {
			return nil, fmt.Errorf("default: %w", err)
		}
		opts = append(opts, model.WithDefault(v))
	case f.DefaultFunc != "":
		fn, ok := DefaultFuncs[f.DefaultFunc]
		if !ok {
			return nil, fmt.Errorf("unknown default_func %q", f.DefaultFunc)
		}
		opts = append(opts, model.WithDefaultFunc(fn))
	}

	if len(f.Composite) > 0 {
		opts = append(opts, model.WithType(typ))
		return model.NewComposite(f.Name, f.Composite, opts...), nil
	}
	return model.NewField(f.Name, typ, opts...), nil
}

func (p Projection) table() (table.Projection, error) {
	kind := table.ProjectionKind(p.Type)
	switch kind {
	case "", table.ProjectAll, table.ProjectOnlyKeys:
		if len(p.Attributes) > 0 {
			return table.Projection{}, fmt.Errorf("projection %s takes no attributes", p.Type)
		}
	case table.ProjectSubset:
	default:
		return table.Projection{}, fmt.Errorf("unknown projection type %q", p.Type)
	}
	return table.Projection{Kind: kind, NonKeyAttributes: p.Attributes}, nil
}

func (t Throughput) table() table.Throughput {
	return table.Throughput{Read: t.Read, Write: t.Write}
}
