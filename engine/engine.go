// Package engine persists model records in DynamoDB.
//
// An Engine owns the registered models and a store client. Records are
// written with Save, Sync and Delete, read back with Get, Refresh and the
// Query and Scan builders. Writes are conditional according to the engine's
// AtomicMode unless a call overrides it.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/acksell/flywheel/dynamodb/ddbsdk"
	"github.com/acksell/flywheel/dynamodb/table"
	"github.com/acksell/flywheel/model"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"
)

// Engine is safe for concurrent use. The records it reads and writes are
// not.
type Engine struct {
	client   ddbsdk.Client
	closer   io.Closer
	log      zerolog.Logger
	metrics  *Metrics
	atomic   AtomicMode
	pageSize int
	// namespace is prepended to the namespace of registered models.
	namespace []string
	tableWait time.Duration
	batchOpts []ddbsdk.BatchOption

	mu     sync.RWMutex
	models map[string]*model.Metadata
}

type Option func(*Engine)

func WithLogger(l zerolog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithNamespace(parts ...string) Option {
	return func(e *Engine) { e.namespace = parts }
}

func WithDefaultAtomic(m AtomicMode) Option {
	return func(e *Engine) { e.atomic = m }
}

func WithPageSize(n int) Option {
	return func(e *Engine) { e.pageSize = n }
}

// WithTableWait bounds how long CreateSchema and DeleteSchema wait for each
// table.
func WithTableWait(d time.Duration) Option {
	return func(e *Engine) { e.tableWait = d }
}

// WithBatchOptions configures the BatchGetItem and BatchWriteItem calls.
func WithBatchOptions(opts ...ddbsdk.BatchOption) Option {
	return func(e *Engine) { e.batchOpts = opts }
}

// New creates an engine on top of client.
func New(client ddbsdk.Client, opts ...Option) *Engine {
	e := &Engine{
		client: client,
		log:    zerolog.Nop(),
		atomic: AtomicUpdate,
		models: make(map[string]*model.Metadata),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Open creates the client described by cfg and an engine using it. The
// embedded store is used when cfg.Store selects it, AWS otherwise. Close the
// engine to release the store.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := cfg.Logging.Logger()
	var (
		client ddbsdk.Client
		closer io.Closer
	)
	switch {
	case cfg.Store.InMemory:
		s, err := ddbsdk.NewMemoryClient()
		if err != nil {
			return nil, err
		}
		client, closer = s, s
	case cfg.Store.Path != "":
		s, err := ddbsdk.NewDiskClient(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		client, closer = s, s
	default:
		c, err := ddbsdk.NewFromConfig(ctx, ddbsdk.Options{Region: cfg.Region, Endpoint: cfg.Endpoint})
		if err != nil {
			return nil, err
		}
		client = c
	}
	client = ddbsdk.WithRetry(client,
		ddbsdk.WithMaxAttempts(cfg.Retry.MaxAttempts),
		ddbsdk.WithRetryBackoff(ddbsdk.ExponentialBackoff(cfg.Retry.BaseDelay, 2, cfg.Retry.MaxDelay)),
		ddbsdk.WithRetryLogger(log),
	)
	base := []Option{
		WithLogger(log),
		WithNamespace(cfg.Namespace...),
		WithDefaultAtomic(cfg.DefaultAtomic),
		WithPageSize(cfg.PageSize),
	}
	e := New(client, append(base, opts...)...)
	e.closer = closer
	return e, nil
}

// Close releases the store opened by Open.
func (e *Engine) Close() error {
	if e.closer == nil {
		return nil
	}
	return e.closer.Close()
}

func (e *Engine) Client() ddbsdk.Client { return e.client }

// call runs one store request, recording it in the metrics and the log.
func (e *Engine) call(op, tableName string, fn func() error) error {
	start := time.Now()
	err := fn()
	e.metrics.observe(op, tableName, start, err)
	ev := e.log.Debug()
	if isConditionalCheckFailed(err) {
		ev = e.log.Warn()
	} else if err != nil {
		ev = e.log.Error().Err(err)
	}
	ev.Str("operation", op).Str("table", tableName).Dur("took", time.Since(start)).Msg("store request")
	return storeErr(op, tableName, err)
}

// Register builds and registers models. The engine namespace comes before
// each model's own namespace.
func (e *Engine) Register(cfgs ...model.Config) ([]*model.Metadata, error) {
	metas := make([]*model.Metadata, 0, len(cfgs))
	for _, cfg := range cfgs {
		cfg.Namespace = append(slices.Clone(e.namespace), cfg.Namespace...)
		m, err := model.NewMetadata(cfg)
		if err != nil {
			return nil, err
		}
		metas = append(metas, m)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	for i, m := range metas {
		if _, ok := e.models[m.Name()]; ok || slices.ContainsFunc(metas[:i], func(o *model.Metadata) bool { return o.Name() == m.Name() }) {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateModel, m.Name())
		}
	}
	for _, m := range metas {
		e.models[m.Name()] = m
	}
	return metas, nil
}

// Model returns a registered model.
func (e *Engine) Model(name string) (*model.Metadata, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	m, ok := e.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	return m, nil
}

// Models lists the registered models ordered by table name.
func (e *Engine) Models() []*model.Metadata {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*model.Metadata, 0, len(e.models))
	for _, m := range e.models {
		out = append(out, m)
	}
	slices.SortFunc(out, func(a, b *model.Metadata) int {
		return strings.Compare(a.TableName(), b.TableName())
	})
	return out
}

// Schema returns the table definitions of the registered models.
func (e *Engine) Schema() []table.TableDefinition {
	models := e.Models()
	out := make([]table.TableDefinition, len(models))
	for i, m := range models {
		out[i] = m.TableDefinition()
	}
	return out
}

func (e *Engine) listTables(ctx context.Context) (map[string]bool, error) {
	names := map[string]bool{}
	in := &dynamodb.ListTablesInput{}
	for {
		var out *dynamodb.ListTablesOutput
		err := e.call("ListTables", "", func() (err error) {
			out, err = e.client.ListTables(ctx, in)
			return err
		})
		if err != nil {
			return nil, err
		}
		for _, n := range out.TableNames {
			names[n] = true
		}
		if out.LastEvaluatedTableName == nil {
			return names, nil
		}
		in.ExclusiveStartTableName = out.LastEvaluatedTableName
	}
}

// CreateSchema creates the tables of the registered models that do not exist
// yet and waits for them to become active. It returns the created tables.
func (e *Engine) CreateSchema(ctx context.Context) ([]string, error) {
	existing, err := e.listTables(ctx)
	if err != nil {
		return nil, err
	}
	var created []string
	for _, def := range e.Schema() {
		if existing[def.Name] {
			continue
		}
		err := e.call("CreateTable", def.Name, func() error {
			_, err := e.client.CreateTable(ctx, def.CreateTableInput())
			return err
		})
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			continue
		}
		if err != nil {
			return created, err
		}
		if err := ddbsdk.WaitForTable(ctx, e.client, def.Name, e.tableWait); err != nil {
			return created, err
		}
		e.log.Info().Str("table", def.Name).Msg("created table")
		created = append(created, def.Name)
	}
	return created, nil
}

// DeleteSchema drops the tables of the registered models and waits until
// they are gone. It returns the deleted tables.
func (e *Engine) DeleteSchema(ctx context.Context) ([]string, error) {
	existing, err := e.listTables(ctx)
	if err != nil {
		return nil, err
	}
	var deleted []string
	for _, def := range e.Schema() {
		if !existing[def.Name] {
			continue
		}
		err := e.call("DeleteTable", def.Name, func() error {
			_, err := e.client.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(def.Name)})
			return err
		})
		var notFound *types.ResourceNotFoundException
		if errors.As(err, &notFound) {
			continue
		}
		if err != nil {
			return deleted, err
		}
		if err := ddbsdk.WaitForTableDeleted(ctx, e.client, def.Name, e.tableWait); err != nil {
			return deleted, err
		}
		e.log.Info().Str("table", def.Name).Msg("deleted table")
		deleted = append(deleted, def.Name)
	}
	return deleted, nil
}
