package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/acksell/flywheel/model"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getPost(t *testing.T, e *Engine, meta *model.Metadata, user, id string) *model.Record {
	t.Helper()
	r, err := e.Get(context.Background(), meta, map[string]any{"user": user, "id": id}, Consistent(true))
	require.NoError(t, err)
	return r
}

func TestSaveAndGet(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)

	r := newPost(t, meta, "ann", "p1", 3)
	require.NoError(t, r.AddToSet("tags", "go", "db"))
	require.NoError(t, e.Save(ctx, r))
	assert.True(t, r.Persisted())
	assert.False(t, r.Dirty())

	got := getPost(t, e, meta, "ann", "p1")
	assert.Equal(t, "post p1", got.Get("title"))
	assert.Equal(t, int64(3), got.Get("views"))
	assert.Equal(t, "news:103", got.Get("catts"))

	t.Run("missing", func(t *testing.T) {
		_, err := e.Get(ctx, meta, map[string]any{"user": "ann", "id": "nope"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("incomplete key", func(t *testing.T) {
		_, err := e.Get(ctx, meta, map[string]any{"user": "ann"})
		assert.ErrorIs(t, err, model.ErrMissingKey)
	})
}

func TestSave_Conflict(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 1)))

	t.Run("overwrite by default", func(t *testing.T) {
		require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 2)))
		assert.Equal(t, int64(2), getPost(t, e, meta, "ann", "p1").Get("views"))
	})

	t.Run("no overwrite", func(t *testing.T) {
		r := newPost(t, meta, "ann", "p1", 5)
		err := e.Save(ctx, r, Overwrite(false))
		require.ErrorIs(t, err, ErrConditionalCheckFailed)
		var ccf *types.ConditionalCheckFailedException
		assert.True(t, errors.As(err, &ccf))
		assert.False(t, r.Persisted())
		assert.Equal(t, int64(2), getPost(t, e, meta, "ann", "p1").Get("views"))
	})

	t.Run("atomic engine", func(t *testing.T) {
		strict := New(e.Client(), WithDefaultAtomic(AtomicAlways))
		_, err := strict.Register(postConfig(t))
		require.NoError(t, err)
		err = strict.Save(ctx, newPost(t, meta, "ann", "p1", 5))
		assert.ErrorIs(t, err, ErrConditionalCheckFailed)
	})
}

func TestSave_Validation(t *testing.T) {
	ctx := context.Background()
	e, _ := newTestEngine(t)
	cfg := postConfig(t)
	cfg.Name = "strict"
	cfg.GlobalIndexes = nil
	cfg = cfg.Merge(model.Config{Fields: []*model.Field{
		model.NewField("title", cfg.Fields[2].Type, model.NotNull()),
	}})
	metas, err := e.Register(cfg)
	require.NoError(t, err)

	r, err := metas[0].New(map[string]any{"user": "ann", "id": "p1", "views": int64(1)})
	require.NoError(t, err)
	var verr *model.ValidationError
	assert.ErrorAs(t, e.Save(ctx, r), &verr)
	assert.ErrorAs(t, e.Sync(ctx, r), &verr)
}

func TestSync(t *testing.T) {
	ctx := context.Background()

	t.Run("creates new records", func(t *testing.T) {
		e, meta := newTestEngine(t)
		r := newPost(t, meta, "ann", "p1", 1)
		require.NoError(t, e.Sync(ctx, r))
		assert.True(t, r.Persisted())
		assert.Equal(t, "post p1", getPost(t, e, meta, "ann", "p1").Get("title"))
	})

	t.Run("atomic sync of a new record fails when the item exists", func(t *testing.T) {
		e, meta := newTestEngine(t)
		require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 1)))
		err := e.Sync(ctx, newPost(t, meta, "ann", "p1", 2))
		assert.ErrorIs(t, err, ErrConditionalCheckFailed)
	})

	t.Run("clean new record is a no-op", func(t *testing.T) {
		e, meta := newTestEngine(t)
		r, err := meta.New(map[string]any{"user": "ann", "id": "p1"})
		require.NoError(t, err)
		require.NoError(t, e.Sync(ctx, r))
		assert.False(t, r.Persisted())
		_, err = e.Get(ctx, meta, map[string]any{"user": "ann", "id": "p1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("clean persisted record is refreshed", func(t *testing.T) {
		e, meta := newTestEngine(t)
		require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 1)))
		stale := getPost(t, e, meta, "ann", "p1")
		fresh := getPost(t, e, meta, "ann", "p1")
		require.NoError(t, fresh.Set("title", "new"))
		require.NoError(t, e.Sync(ctx, fresh))

		require.NoError(t, e.Sync(ctx, stale))
		assert.Equal(t, "new", stale.Get("title"))
	})

	t.Run("removes deleted fields", func(t *testing.T) {
		e, meta := newTestEngine(t)
		require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 1)))
		r := getPost(t, e, meta, "ann", "p1")
		require.NoError(t, r.Delete("title"))
		require.NoError(t, e.Sync(ctx, r))
		assert.Nil(t, r.Get("title"))
		assert.NotContains(t, getPost(t, e, meta, "ann", "p1").Baseline(), "title")
	})
}

func TestSync_Stale(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 1)))

	first := getPost(t, e, meta, "ann", "p1")
	second := getPost(t, e, meta, "ann", "p1")
	require.NoError(t, first.Set("title", "first"))
	require.NoError(t, e.Sync(ctx, first))

	require.NoError(t, second.Set("title", "second"))
	err := e.Sync(ctx, second)
	require.ErrorIs(t, err, ErrConditionalCheckFailed)
	assert.True(t, second.Dirty())
	assert.Equal(t, "second", second.Get("title"))
	assert.Equal(t, "first", getPost(t, e, meta, "ann", "p1").Get("title"))

	require.NoError(t, e.Sync(ctx, second, Atomic(false)))
	assert.False(t, second.Dirty())
	assert.Equal(t, "second", getPost(t, e, meta, "ann", "p1").Get("title"))

	t.Run("non-atomic engine", func(t *testing.T) {
		loose := New(e.Client(), WithDefaultAtomic(AtomicNever))
		stale := getPost(t, e, meta, "ann", "p1")
		current := getPost(t, e, meta, "ann", "p1")
		require.NoError(t, current.Set("title", "third"))
		require.NoError(t, loose.Sync(ctx, current))
		require.NoError(t, stale.Set("title", "fourth"))
		require.NoError(t, loose.Sync(ctx, stale))
		assert.Equal(t, "fourth", getPost(t, e, meta, "ann", "p1").Get("title"))
	})
}

func TestSync_Increment(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 0)))

	first := getPost(t, e, meta, "ann", "p1")
	second := getPost(t, e, meta, "ann", "p1")
	require.NoError(t, first.Incr("views", 1))
	require.NoError(t, second.Incr("views", 1))
	require.NoError(t, e.Sync(ctx, first))
	require.NoError(t, e.Sync(ctx, second))

	assert.Equal(t, int64(1), first.Get("views"))
	assert.Equal(t, int64(2), second.Get("views"))
	assert.Equal(t, int64(2), getPost(t, e, meta, "ann", "p1").Get("views"))
}

func TestSync_CompositeForcesAtomic(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 0)))

	first := getPost(t, e, meta, "ann", "p1")
	second := getPost(t, e, meta, "ann", "p1")
	require.NoError(t, first.Set("category", "sports"))
	require.NoError(t, e.Sync(ctx, first, Atomic(false)))

	require.NoError(t, second.Incr("ts", 1))
	err := e.Sync(ctx, second, Atomic(false))
	require.ErrorIs(t, err, ErrConditionalCheckFailed)

	require.NoError(t, e.Refresh(ctx, second))
	require.NoError(t, second.Incr("ts", 1))
	require.NoError(t, e.Sync(ctx, second, Atomic(false)))
	assert.Equal(t, "sports:101", getPost(t, e, meta, "ann", "p1").Get("catts"))
}

func TestSync_Sets(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)
	r := newPost(t, meta, "ann", "p1", 0)
	require.NoError(t, r.AddToSet("tags", "a", "b"))
	require.NoError(t, e.Save(ctx, r))

	first := getPost(t, e, meta, "ann", "p1")
	second := getPost(t, e, meta, "ann", "p1")
	require.NoError(t, first.AddToSet("tags", "c"))
	require.NoError(t, second.RemoveFromSet("tags", "a"))
	require.NoError(t, e.Sync(ctx, first))
	require.NoError(t, e.Sync(ctx, second))

	got := getPost(t, e, meta, "ann", "p1").Baseline()["tags"]
	require.IsType(t, &types.AttributeValueMemberSS{}, got)
	assert.ElementsMatch(t, []string{"b", "c"}, got.(*types.AttributeValueMemberSS).Value)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()

	t.Run("non-atomic", func(t *testing.T) {
		e, meta := newTestEngine(t)
		require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 0)))
		stale := getPost(t, e, meta, "ann", "p1")
		current := getPost(t, e, meta, "ann", "p1")
		require.NoError(t, current.Set("title", "changed"))
		require.NoError(t, e.Sync(ctx, current))

		require.NoError(t, e.Delete(ctx, stale))
		_, err := e.Get(ctx, meta, map[string]any{"user": "ann", "id": "p1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("atomic", func(t *testing.T) {
		e, meta := newTestEngine(t)
		require.NoError(t, e.Save(ctx, newPost(t, meta, "ann", "p1", 0)))
		stale := getPost(t, e, meta, "ann", "p1")
		current := getPost(t, e, meta, "ann", "p1")
		require.NoError(t, current.Set("title", "changed"))
		require.NoError(t, e.Sync(ctx, current))

		assert.ErrorIs(t, e.Delete(ctx, stale, Atomic(true)), ErrConditionalCheckFailed)
		require.NoError(t, e.Delete(ctx, current, Atomic(true)))
		_, err := e.Get(ctx, meta, map[string]any{"user": "ann", "id": "p1"})
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestBatchOperations(t *testing.T) {
	ctx := context.Background()
	e, meta := newTestEngine(t)

	var recs []*model.Record
	for i, id := range []string{"p1", "p2", "p3"} {
		recs = append(recs, newPost(t, meta, "ann", id, int64(i)))
	}
	require.NoError(t, e.SaveAll(ctx, recs))
	for _, r := range recs {
		assert.True(t, r.Persisted())
	}

	got, err := e.BatchGet(ctx, meta, []map[string]any{
		{"user": "ann", "id": "p3"},
		{"user": "ann", "id": "missing"},
		{"user": "ann", "id": "p1"},
	})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "p3", got[0].Get("id"))
	assert.Equal(t, "p1", got[1].Get("id"))

	t.Run("refresh all", func(t *testing.T) {
		changed := getPost(t, e, meta, "ann", "p2")
		require.NoError(t, changed.Set("title", "changed"))
		require.NoError(t, e.Sync(ctx, changed))

		require.NoError(t, e.RefreshAll(ctx, recs))
		assert.Equal(t, "changed", recs[1].Get("title"))
	})

	t.Run("save all without overwrite", func(t *testing.T) {
		err := e.SaveAll(ctx, []*model.Record{newPost(t, meta, "ann", "p1", 9)}, Overwrite(false))
		assert.ErrorIs(t, err, ErrConditionalCheckFailed)
	})

	t.Run("delete all", func(t *testing.T) {
		require.NoError(t, e.DeleteAll(ctx, recs[:2]))
		err := e.RefreshAll(ctx, recs)
		assert.ErrorIs(t, err, ErrNotFound)
		require.NoError(t, e.Refresh(ctx, recs[2]))
	})
}
