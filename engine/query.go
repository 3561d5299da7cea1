package engine

import (
	"context"
	"fmt"
	"iter"

	"github.com/acksell/flywheel/model"
	"github.com/acksell/flywheel/query"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Query reads the records of one model matching a constraint. Build it with
// Engine.Query or Engine.Scan, refine it with the setters and run it with one
// of the terminals. A Query holds no state between terminals and may be run
// more than once.
type Query struct {
	e          *Engine
	meta       *model.Metadata
	constraint query.Constraint
	scan       bool
	index      string
	limit      int
	pageSize   int
	consistent bool
	reverse    bool
}

// Query starts a query on meta. The constraints are joined with And and must
// pin a hash key of the table or one of its indexes.
func (e *Engine) Query(meta *model.Metadata, cs ...query.Constraint) *Query {
	return &Query{e: e, meta: meta, constraint: joinConstraints(cs), pageSize: e.pageSize}
}

// Scan starts a scan of the table of meta, filtered by the constraints.
func (e *Engine) Scan(meta *model.Metadata, cs ...query.Constraint) *Query {
	return &Query{e: e, meta: meta, constraint: joinConstraints(cs), scan: true, pageSize: e.pageSize}
}

func joinConstraints(cs []query.Constraint) query.Constraint {
	switch len(cs) {
	case 0:
		return nil
	case 1:
		return cs[0]
	}
	return query.And(cs...)
}

func (q *Query) clone() *Query {
	c := *q
	return &c
}

// Index forces the query onto a local or global secondary index.
func (q *Query) Index(name string) *Query {
	c := q.clone()
	c.index = name
	return c
}

// Limit bounds the number of records returned. Zero means no bound.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	c.limit = n
	return c
}

// PageSize bounds the items read per request.
func (q *Query) PageSize(n int) *Query {
	c := q.clone()
	c.pageSize = n
	return c
}

func (q *Query) Consistent(b bool) *Query {
	c := q.clone()
	c.consistent = b
	return c
}

// Reverse returns records in descending range key order.
func (q *Query) Reverse() *Query {
	c := q.clone()
	c.reverse = true
	return c
}

func (q *Query) plan() (*query.Plan, error) {
	if q.scan {
		if q.index != "" || q.reverse {
			return nil, fmt.Errorf("%w: scans take no index and no order", query.ErrUnsupportedQuery)
		}
		return query.PlanScan(q.meta, q.constraint)
	}
	p, err := query.PlanQuery(q.meta, q.constraint, q.index)
	if err != nil {
		return nil, err
	}
	if q.consistent && p.Ordering.Global {
		return nil, fmt.Errorf("%w: global index %s cannot be read consistently", query.ErrUnsupportedQuery, p.Index())
	}
	return p, nil
}

type page struct {
	items []model.Item
	count int
	last  model.Item
}

// fetch reads one page. limit bounds the items the store evaluates; zero
// leaves it to the store.
func (q *Query) fetch(ctx context.Context, p *query.Plan, start model.Item, limit int, count bool) (page, error) {
	var limit32 *int32
	if limit > 0 {
		limit32 = aws.Int32(int32(limit))
	}
	var sel types.Select
	if count {
		sel = types.SelectCount
	}
	if p.Scan {
		in, err := p.ScanInput()
		if err != nil {
			return page{}, err
		}
		in.ExclusiveStartKey = start
		in.Limit = limit32
		in.ConsistentRead = aws.Bool(q.consistent)
		in.Select = sel
		var pg page
		err = q.e.call("Scan", p.Table, func() error {
			out, err := q.e.client.Scan(ctx, in)
			if err != nil {
				return err
			}
			pg = page{items: out.Items, count: int(out.Count), last: out.LastEvaluatedKey}
			return nil
		})
		return pg, err
	}

	in, err := p.QueryInput()
	if err != nil {
		return page{}, err
	}
	in.ExclusiveStartKey = start
	in.Limit = limit32
	in.ConsistentRead = aws.Bool(q.consistent)
	in.ScanIndexForward = aws.Bool(!q.reverse)
	in.Select = sel
	var pg page
	err = q.e.call("Query", p.Table, func() error {
		out, err := q.e.client.Query(ctx, in)
		if err != nil {
			return err
		}
		pg = page{items: out.Items, count: int(out.Count), last: out.LastEvaluatedKey}
		return nil
	})
	return pg, err
}

// pageLimit returns the Limit of the next request after seen records. The
// remaining count only bounds the request when nothing is filtered out after
// reading.
func (q *Query) pageLimit(p *query.Plan, seen int) int {
	n := q.pageSize
	if q.limit > 0 && !p.Filtered() {
		rest := q.limit - seen
		if n == 0 || rest < n {
			n = rest
		}
	}
	return n
}

// Gen yields the matching records lazily, one page at a time. A page is only
// requested once the records of the previous one were consumed. Iteration
// ends after the first error.
func (q *Query) Gen(ctx context.Context) iter.Seq2[*model.Record, error] {
	return func(yield func(*model.Record, error) bool) {
		p, err := q.plan()
		if err != nil {
			yield(nil, err)
			return
		}
		q.e.log.Debug().Str("model", q.meta.Name()).Str("index", p.Index()).Bool("scan", p.Scan).Msg("query planned")
		seen := 0
		var start model.Item
		for {
			pg, err := q.fetch(ctx, p, start, q.pageLimit(p, seen), false)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, item := range pg.items {
				rec, err := q.meta.Load(item)
				if !yield(rec, err) || err != nil {
					return
				}
				seen++
				if q.limit > 0 && seen >= q.limit {
					return
				}
			}
			if pg.last == nil {
				return
			}
			start = pg.last
		}
	}
}

// All reads every matching record.
func (q *Query) All(ctx context.Context) ([]*model.Record, error) {
	var out []*model.Record
	for rec, err := range q.Gen(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// First returns the first matching record, or nil when nothing matches.
func (q *Query) First(ctx context.Context) (*model.Record, error) {
	for rec, err := range q.Limit(1).Gen(ctx) {
		return rec, err
	}
	return nil, nil
}

// One returns the only matching record. It fails with ErrAbsentResult when
// nothing matches and with ErrTooManyResults when more than one record does.
func (q *Query) One(ctx context.Context) (*model.Record, error) {
	var found *model.Record
	for rec, err := range q.Limit(2).Gen(ctx) {
		if err != nil {
			return nil, err
		}
		if found != nil {
			return nil, fmt.Errorf("%w: %s", ErrTooManyResults, q.meta.Name())
		}
		found = rec
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrAbsentResult, q.meta.Name())
	}
	return found, nil
}

// Count returns the number of matching records without reading them.
func (q *Query) Count(ctx context.Context) (int, error) {
	p, err := q.plan()
	if err != nil {
		return 0, err
	}
	total := 0
	var start model.Item
	for {
		pg, err := q.fetch(ctx, p, start, q.pageLimit(p, total), true)
		if err != nil {
			return 0, err
		}
		total += pg.count
		if q.limit > 0 && total >= q.limit {
			return q.limit, nil
		}
		if pg.last == nil {
			return total, nil
		}
		start = pg.last
	}
}

// Delete deletes the matching records and returns how many there were.
// Atomic deletes are conditional on the values that were read, the others are
// batched.
func (q *Query) Delete(ctx context.Context, opts ...CallOption) (int, error) {
	recs, err := q.All(ctx)
	if err != nil {
		return 0, err
	}
	if err := q.e.DeleteAll(ctx, recs, opts...); err != nil {
		return 0, err
	}
	return len(recs), nil
}
