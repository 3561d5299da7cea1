package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/acksell/flywheel/dynamodb/ddbsdk"
	"github.com/acksell/flywheel/model"
	"github.com/acksell/flywheel/query"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// seedPosts saves n posts of ann with ids p1..pn and views 1..n, plus one post
// of bob.
func seedPosts(t *testing.T, e *Engine, meta *model.Metadata, n int) {
	t.Helper()
	var recs []*model.Record
	for i := 1; i <= n; i++ {
		recs = append(recs, newPost(t, meta, "ann", fmt.Sprintf("p%d", i), int64(i)))
	}
	recs = append(recs, newPost(t, meta, "bob", "p1", 100))
	require.NoError(t, e.SaveAll(context.Background(), recs))
}

func ids(recs []*model.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Get("id").(string)
	}
	return out
}

func TestQuery_All(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	seedPosts(t, e, meta, 5)

	tests := []struct {
		name string
		q    *Query
		want []string
	}{
		{name: "hash key", q: e.Query(meta, query.Eq("user", "ann")), want: []string{"p1", "p2", "p3", "p4", "p5"}},
		{name: "reverse", q: e.Query(meta, query.Eq("user", "ann")).Reverse(), want: []string{"p5", "p4", "p3", "p2", "p1"}},
		{name: "range condition", q: e.Query(meta, query.Eq("user", "ann"), query.Gte("id", "p4")), want: []string{"p4", "p5"}},
		{name: "filter", q: e.Query(meta, query.Eq("user", "ann"), query.Gt("views", 3)), want: []string{"p4", "p5"}},
		{name: "or filter", q: e.Query(meta, query.Eq("user", "ann"), query.Or(query.Eq("views", 1), query.Eq("views", 5))), want: []string{"p1", "p5"}},
		{name: "limit", q: e.Query(meta, query.Eq("user", "ann")).Limit(2), want: []string{"p1", "p2"}},
		{name: "limit with filter", q: e.Query(meta, query.Eq("user", "ann"), query.Gt("views", 1)).Limit(2), want: []string{"p2", "p3"}},
		{name: "small pages", q: e.Query(meta, query.Eq("user", "ann")).PageSize(2), want: []string{"p1", "p2", "p3", "p4", "p5"}},
		{name: "global index", q: e.Query(meta, query.Eq("category", "news"), query.Lt("ts", 103)), want: []string{"p1", "p2"}},
		{name: "no match", q: e.Query(meta, query.Eq("user", "nobody")), want: []string{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			recs, err := tt.q.All(ctx)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(recs))
		})
	}
}

func TestQuery_Errors(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)

	tests := []struct {
		name string
		q    *Query
		want error
	}{
		{name: "no constraint", q: e.Query(meta), want: query.ErrAmbiguousQuery},
		{name: "no hash key", q: e.Query(meta, query.Eq("title", "x")), want: query.ErrAmbiguousQuery},
		{name: "unknown index", q: e.Query(meta, query.Eq("user", "ann")).Index("nope"), want: query.ErrIndexMismatch},
		{name: "consistent global index", q: e.Query(meta, query.Eq("category", "news")).Consistent(true), want: query.ErrUnsupportedQuery},
		{name: "scan with index", q: e.Scan(meta).Index("category-index"), want: query.ErrUnsupportedQuery},
		{name: "reverse scan", q: e.Scan(meta).Reverse(), want: query.ErrUnsupportedQuery},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.q.All(ctx)
			assert.ErrorIs(t, err, tt.want)
			_, err = tt.q.Count(ctx)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestQuery_FirstOne(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	seedPosts(t, e, meta, 3)

	first, err := e.Query(meta, query.Eq("user", "ann")).First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p1", first.Get("id"))

	last, err := e.Query(meta, query.Eq("user", "ann")).Reverse().First(ctx)
	require.NoError(t, err)
	assert.Equal(t, "p3", last.Get("id"))

	none, err := e.Query(meta, query.Eq("user", "nobody")).First(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	none, err = e.Query(meta, query.Eq("user", "ann"), query.Gt("views", 10)).Reverse().First(ctx)
	require.NoError(t, err)
	assert.Nil(t, none)

	one, err := e.Query(meta, query.Eq("user", "bob")).One(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), one.Get("views"))

	_, err = e.Query(meta, query.Eq("user", "ann")).One(ctx)
	assert.ErrorIs(t, err, ErrTooManyResults)

	_, err = e.Query(meta, query.Eq("user", "ann"), query.Gt("views", 10)).One(ctx)
	assert.ErrorIs(t, err, ErrAbsentResult)
}

func TestQuery_GenStopsEarly(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	seedPosts(t, e, meta, 5)

	counter := &countingClient{Client: e.Client()}
	paged := New(counter, WithPageSize(1))

	var got []string
	for rec, err := range paged.Query(meta, query.Eq("user", "ann")).Gen(ctx) {
		require.NoError(t, err)
		got = append(got, rec.Get("id").(string))
		if len(got) == 2 {
			break
		}
	}
	assert.Equal(t, []string{"p1", "p2"}, got)
	assert.Equal(t, 2, counter.queries)
}

func TestQuery_Count(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	seedPosts(t, e, meta, 5)

	n, err := e.Query(meta, query.Eq("user", "ann")).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	n, err = e.Query(meta, query.Eq("user", "ann"), query.Lte("views", 2)).PageSize(1).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = e.Query(meta, query.Eq("user", "ann")).Limit(3).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = e.Scan(meta).Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 6, n)
}

func TestScan(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	seedPosts(t, e, meta, 5)

	recs, err := e.Scan(meta, query.Gt("views", 4)).All(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"p5", "p1"}, ids(recs))

	recs, err = e.Scan(meta, query.Eq("user", "ann"), query.Eq("id", "p2")).All(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"p2"}, ids(recs))

	recs, err = e.Scan(meta).PageSize(2).All(ctx)
	require.NoError(t, err)
	assert.Len(t, recs, 6)
}

func TestQuery_Delete(t *testing.T) {
	ctx := context.Background()

	for _, atomic := range []bool{false, true} {
		t.Run(fmt.Sprintf("atomic=%v", atomic), func(t *testing.T) {
			e, meta := newTestEngine(t)
			seedPosts(t, e, meta, 5)

			n, err := e.Query(meta, query.Eq("user", "ann"), query.Gt("views", 3)).Delete(ctx, Atomic(atomic))
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			left, err := e.Query(meta, query.Eq("user", "ann")).All(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"p1", "p2", "p3"}, ids(left))
		})
	}
}

func TestQuery_Immutable(t *testing.T) {
	e := New(ddbsdk.Client(nil), WithPageSize(10))
	base := e.Query(nil, query.Eq("user", "ann"))
	limited := base.Limit(1).Reverse()
	assert.Equal(t, 0, base.limit)
	assert.False(t, base.reverse)
	assert.Equal(t, 1, limited.limit)
	assert.Equal(t, 10, limited.pageSize)
}
