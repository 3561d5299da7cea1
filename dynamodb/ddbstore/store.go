package ddbstore

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dgraph-io/badger/v4"
)

// Store is a DynamoDB-compatible store backed by BadgerDB.
// It implements the item, query, batch and table operations used by
// flywheel, with secondary indexes maintained in the same transaction as the
// item write.
type Store struct {
	db *badger.DB

	mu     sync.RWMutex
	tables map[string]*tableSchema
}

type tableSchema struct {
	definition table.TableDefinition
	created    time.Time
	indexes    map[string]*indexSchema
}

func newTableSchema(def table.TableDefinition, created time.Time) *tableSchema {
	schema := &tableSchema{
		definition: def,
		created:    created,
		indexes:    make(map[string]*indexSchema),
	}
	for _, idx := range def.Indexes() {
		schema.indexes[idx.Name] = &indexSchema{
			tableName:  def.Name,
			tableKeys:  def.KeyDefinitions,
			definition: idx,
		}
	}
	return schema
}

func (t *tableSchema) encodeKey(pk table.PrimaryKey) ([]byte, error) {
	return encodeTableKey(t.definition.Name, pk)
}

type indexSchema struct {
	tableName  string
	tableKeys  table.PrimaryKeyDefinition
	definition table.IndexDefinition
}

// keyNames lists the attributes every index entry carries.
func (i *indexSchema) keyNames() []string {
	names := i.tableKeys.Names()
	for _, n := range i.definition.KeyDefinitions.Names() {
		if n != i.tableKeys.PartitionKey.Name && n != i.tableKeys.SortKey.Name {
			names = append(names, n)
		}
	}
	return names
}

// encodeKey returns the index entry key of item. ok is false when the item
// lacks the index keys and stays out of the index.
func (i *indexSchema) encodeKey(item map[string]types.AttributeValue) (key []byte, ok bool, err error) {
	if !i.definition.KeyDefinitions.HasKey(item) {
		return nil, false, nil
	}
	idxPK, err := i.definition.ExtractPrimaryKey(item)
	if err != nil {
		return nil, false, validationErr("One or more parameter values were invalid: Type mismatch for Index Key: %v", err)
	}
	tablePK, err := i.tableKeys.ExtractPrimaryKey(item)
	if err != nil {
		return nil, false, err
	}
	key, err = encodeIndexKey(i.tableName, i.definition.Name, idxPK, tablePK)
	return key, err == nil, err
}

// StoreOptions configures the BadgerDB store.
type StoreOptions struct {
	// Path to the database directory. If empty, uses in-memory mode.
	Path string
	// InMemory forces in-memory mode even if Path is set.
	InMemory bool
	// Logger for BadgerDB. If nil, logging is disabled.
	Logger badger.Logger
}

// New opens a BadgerDB-backed DynamoDB store. Tables persisted by a previous
// run are loaded; defs not yet known are created.
func New(opts StoreOptions, defs ...table.TableDefinition) (*Store, error) {
	badgerOpts := badger.DefaultOptions(opts.Path)

	if opts.Path == "" || opts.InMemory {
		badgerOpts = badgerOpts.WithInMemory(true).WithDir("").WithValueDir("")
	}

	if opts.Logger != nil {
		badgerOpts = badgerOpts.WithLogger(opts.Logger)
	} else {
		badgerOpts = badgerOpts.WithLogger(nil)
	}

	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open badger db: %w", err)
	}

	s := &Store{
		db:     db,
		tables: make(map[string]*tableSchema),
	}
	if err := s.loadTables(); err != nil {
		db.Close()
		return nil, err
	}
	for _, def := range defs {
		if _, ok := s.tables[def.Name]; ok {
			continue
		}
		if err := s.createTable(def); err != nil {
			db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the BadgerDB database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) getTable(tableName *string) (*tableSchema, error) {
	if tableName == nil || *tableName == "" {
		return nil, validationErr("1 validation error detected: Value null at 'tableName' failed to satisfy constraint: Member must not be null")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	schema, ok := s.tables[*tableName]
	if !ok {
		return nil, resourceNotFound(*tableName)
	}
	return schema, nil
}

// getIndex returns the index schema for indexName, or nil for the table itself.
func (t *tableSchema) getIndex(indexName *string) (*indexSchema, error) {
	if indexName == nil || *indexName == "" {
		return nil, nil
	}
	idx, ok := t.indexes[*indexName]
	if !ok {
		return nil, validationErr("The table does not have the specified index: %s", *indexName)
	}
	return idx, nil
}

// update runs fn in a read-write transaction, retrying on badger write
// conflicts.
func (s *Store) update(fn func(txn *badger.Txn) error) error {
	var err error
	for attempt := 0; attempt < 10; attempt++ {
		err = s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return err
}
