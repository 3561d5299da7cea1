package ddbstore

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// tableMeta is the persisted form of a table definition.
type tableMeta struct {
	Definition table.TableDefinition
	Created    time.Time
}

func (s *Store) loadTables() error {
	return s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = metaPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var meta tableMeta
			err := it.Item().Value(func(val []byte) error {
				return gob.NewDecoder(bytes.NewReader(val)).Decode(&meta)
			})
			if err != nil {
				return fmt.Errorf("load table definition %q: %w", it.Item().Key(), err)
			}
			s.tables[meta.Definition.Name] = newTableSchema(meta.Definition, meta.Created)
		}
		return nil
	})
}

func (s *Store) createTable(def table.TableDefinition) error {
	if err := def.Validate(); err != nil {
		return validationErr("%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tables[def.Name]; ok {
		return resourceInUse(def.Name)
	}
	meta := tableMeta{Definition: def, Created: time.Now().UTC()}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(meta); err != nil {
		return fmt.Errorf("encode table definition: %w", err)
	}
	if err := s.update(func(txn *badger.Txn) error {
		return txn.Set(metaKey(def.Name), buf.Bytes())
	}); err != nil {
		return err
	}
	s.tables[def.Name] = newTableSchema(def, meta.Created)
	return nil
}

// CreateTable registers a new table. Tables are ACTIVE immediately.
func (s *Store) CreateTable(ctx context.Context, params *dynamodb.CreateTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	def, err := table.FromCreateTableInput(params)
	if err != nil {
		return nil, validationErr("%v", err)
	}
	if err := s.createTable(def); err != nil {
		return nil, err
	}
	return &dynamodb.CreateTableOutput{TableDescription: def.Description(0, time.Now().UTC())}, nil
}

// DeleteTable drops a table with all of its items and index entries.
func (s *Store) DeleteTable(ctx context.Context, params *dynamodb.DeleteTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteTableOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	schema, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	count, err := s.countItems(schema)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prefixes := [][]byte{tablePrefix(schema.definition.Name)}
	for name := range schema.indexes {
		prefixes = append(prefixes, indexPrefix(schema.definition.Name, name))
	}
	if err := s.db.DropPrefix(prefixes...); err != nil {
		return nil, fmt.Errorf("drop table data: %w", err)
	}
	if err := s.update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey(schema.definition.Name))
	}); err != nil {
		return nil, err
	}
	delete(s.tables, schema.definition.Name)

	desc := schema.definition.Description(count, schema.created)
	desc.TableStatus = types.TableStatusDeleting
	return &dynamodb.DeleteTableOutput{TableDescription: desc}, nil
}

// DescribeTable reports the table definition and its current item count.
func (s *Store) DescribeTable(ctx context.Context, params *dynamodb.DescribeTableInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	if params == nil {
		return nil, validationErr("params is required")
	}
	schema, err := s.getTable(params.TableName)
	if err != nil {
		return nil, err
	}
	count, err := s.countItems(schema)
	if err != nil {
		return nil, err
	}
	return &dynamodb.DescribeTableOutput{Table: schema.definition.Description(count, schema.created)}, nil
}

// ListTables lists table names in lexicographic order.
func (s *Store) ListTables(ctx context.Context, params *dynamodb.ListTablesInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ListTablesOutput, error) {
	if params == nil {
		params = &dynamodb.ListTablesInput{}
	}
	s.mu.RLock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	s.mu.RUnlock()
	sort.Strings(names)

	if params.ExclusiveStartTableName != nil {
		start := *params.ExclusiveStartTableName
		names = slices.DeleteFunc(names, func(n string) bool { return n <= start })
	}
	out := &dynamodb.ListTablesOutput{TableNames: names}
	if params.Limit != nil && int(*params.Limit) < len(names) {
		out.TableNames = names[:*params.Limit]
		out.LastEvaluatedTableName = ptrStr(out.TableNames[len(out.TableNames)-1])
	}
	return out, nil
}

func (s *Store) countItems(schema *tableSchema) (int64, error) {
	var count int64
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = tablePrefix(schema.definition.Name)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}
