package table

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// TableDefinition describes the key schema and secondary indexes of a table.
type TableDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	LSIs           []LSIDefinition
	GSIs           []GSIDefinition
	Throughput     Throughput
}

// LSIDefinition represents a Local Secondary Index definition.
// It shares the partition key of the table.
type LSIDefinition struct {
	Name       string
	SortKey    KeyDef
	Projection Projection
}

// GSIDefinition represents a Global Secondary Index definition.
type GSIDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	Projection     Projection
	Throughput     Throughput
}

// Throughput is the provisioned read and write capacity of a table or GSI.
type Throughput struct {
	Read  int64
	Write int64
}

// DefaultThroughput is used when a definition leaves throughput unset.
var DefaultThroughput = Throughput{Read: 5, Write: 5}

func (t Throughput) orDefault() Throughput {
	if t.Read == 0 && t.Write == 0 {
		return DefaultThroughput
	}
	return t
}

// IndexDefinition is the uniform view of a secondary index used by readers of
// the table, regardless of whether it is local or global.
type IndexDefinition struct {
	Name           string
	KeyDefinitions PrimaryKeyDefinition
	Projection     Projection
	Global         bool
}

// ExtractPrimaryKey extracts the index key values from a document.
func (i IndexDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return i.KeyDefinitions.ExtractPrimaryKey(doc)
}

// ExtractPrimaryKey extracts the primary key values from a document.
func (g GSIDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return g.KeyDefinitions.ExtractPrimaryKey(doc)
}

func (t TableDefinition) ExtractPrimaryKey(doc map[string]types.AttributeValue) (PrimaryKey, error) {
	return t.KeyDefinitions.ExtractPrimaryKey(doc)
}

// Indexes lists all secondary indexes, local ones first, in declaration order.
func (t TableDefinition) Indexes() []IndexDefinition {
	out := make([]IndexDefinition, 0, len(t.LSIs)+len(t.GSIs))
	for _, lsi := range t.LSIs {
		out = append(out, IndexDefinition{
			Name: lsi.Name,
			KeyDefinitions: PrimaryKeyDefinition{
				PartitionKey: t.KeyDefinitions.PartitionKey,
				SortKey:      lsi.SortKey,
			},
			Projection: lsi.Projection,
		})
	}
	for _, gsi := range t.GSIs {
		out = append(out, IndexDefinition{
			Name:           gsi.Name,
			KeyDefinitions: gsi.KeyDefinitions,
			Projection:     gsi.Projection,
			Global:         true,
		})
	}
	return out
}

// Index looks up a secondary index by name.
func (t TableDefinition) Index(name string) (IndexDefinition, bool) {
	for _, idx := range t.Indexes() {
		if idx.Name == name {
			return idx, true
		}
	}
	return IndexDefinition{}, false
}

// KeyNames returns the attribute names making up the table key and the key of
// every index. Projections always carry these.
func (t TableDefinition) KeyNames() []string {
	seen := map[string]bool{}
	var names []string
	add := func(k KeyDef) {
		if k.Name != "" && !seen[k.Name] {
			seen[k.Name] = true
			names = append(names, k.Name)
		}
	}
	add(t.KeyDefinitions.PartitionKey)
	add(t.KeyDefinitions.SortKey)
	for _, idx := range t.Indexes() {
		add(idx.KeyDefinitions.PartitionKey)
		add(idx.KeyDefinitions.SortKey)
	}
	return names
}

// Validate checks the structural rules DynamoDB enforces on table creation.
func (t TableDefinition) Validate() error {
	if t.Name == "" {
		return errors.New("table name is required")
	}
	if t.KeyDefinitions.PartitionKey.Name == "" {
		return fmt.Errorf("table %s: partition key is required", t.Name)
	}
	if len(t.LSIs) > 0 && t.KeyDefinitions.SortKey.Name == "" {
		return fmt.Errorf("table %s: local secondary indexes require a sort key", t.Name)
	}
	kinds := map[string]KeyKind{}
	check := func(k KeyDef) error {
		if k.Name == "" {
			return nil
		}
		switch k.Kind {
		case KeyKindS, KeyKindN, KeyKindB:
		default:
			return fmt.Errorf("table %s: key %q has invalid kind %q", t.Name, k.Name, k.Kind)
		}
		if prev, ok := kinds[k.Name]; ok && prev != k.Kind {
			return fmt.Errorf("table %s: attribute %q declared as both %s and %s", t.Name, k.Name, prev, k.Kind)
		}
		kinds[k.Name] = k.Kind
		return nil
	}
	if err := check(t.KeyDefinitions.PartitionKey); err != nil {
		return err
	}
	if err := check(t.KeyDefinitions.SortKey); err != nil {
		return err
	}
	names := map[string]bool{}
	for _, idx := range t.Indexes() {
		if idx.Name == "" {
			return fmt.Errorf("table %s: index name is required", t.Name)
		}
		if names[idx.Name] {
			return fmt.Errorf("table %s: duplicate index name %q", t.Name, idx.Name)
		}
		names[idx.Name] = true
		if idx.KeyDefinitions.PartitionKey.Name == "" {
			return fmt.Errorf("table %s: index %s requires a partition key", t.Name, idx.Name)
		}
		if !idx.Global && idx.KeyDefinitions.SortKey.Name == "" {
			return fmt.Errorf("table %s: local index %s requires a sort key", t.Name, idx.Name)
		}
		if err := check(idx.KeyDefinitions.PartitionKey); err != nil {
			return err
		}
		if err := check(idx.KeyDefinitions.SortKey); err != nil {
			return err
		}
		if err := idx.Projection.validate(); err != nil {
			return fmt.Errorf("table %s: index %s: %w", t.Name, idx.Name, err)
		}
	}
	return nil
}
