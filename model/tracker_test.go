package model

import (
	"testing"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func changes(t *testing.T, r *Record) Changes {
	t.Helper()
	c, err := r.Changes()
	require.NoError(t, err)
	return c
}

func TestChanges(t *testing.T) {
	t.Run("set", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("title", "Bye"))

		c := changes(t, r)
		assert.Equal(t, Item{"title": strAV("Bye")}, c.Set)
		assert.Equal(t, Item{"title": strAV("Hello")}, c.Expected)
		assert.False(t, c.Atomic)
	})

	t.Run("setting the baseline value clears the change", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("title", "Bye"))
		require.NoError(t, r.Set("title", "Hello"))
		assert.False(t, r.Dirty())
	})

	t.Run("delete", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Delete("title"))
		require.NoError(t, r.Delete("score"))

		c := changes(t, r)
		assert.Empty(t, c.Set)
		assert.Equal(t, []string{"title"}, c.Remove)
		assert.Equal(t, Item{"title": strAV("Hello")}, c.Expected)
	})

	t.Run("new attribute expects absence", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("score", 4.5))

		c := changes(t, r)
		assert.Equal(t, Item{"score": numAV("4.5")}, c.Set)
		assert.Contains(t, c.Expected, "score")
		assert.Nil(t, c.Expected["score"])
	})

	t.Run("source of a composite forces atomic", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("category", "tech"))

		c := changes(t, r)
		assert.True(t, c.Atomic)
		assert.Equal(t, Item{"category": strAV("tech"), "catts": strAV("tech:100")}, c.Set)
		assert.Equal(t, Item{"category": strAV("news"), "catts": strAV("news:100")}, c.Expected)
	})

	t.Run("removing a composite source removes the composite", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Delete("ts"))

		c := changes(t, r)
		assert.True(t, c.Atomic)
		assert.Equal(t, []string{"catts", "ts"}, c.Remove)
	})
}

func TestIncr(t *testing.T) {
	t.Run("increments fold", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Incr("views", 1))
		require.NoError(t, r.Incr("views", 1))
		assert.Equal(t, int64(5), r.Get("views"))

		c := changes(t, r)
		assert.Equal(t, Item{"views": numAV("2")}, c.Add)
		assert.Empty(t, c.Set)
		assert.Empty(t, c.Expected, "increments are unconditional")
	})

	t.Run("increments cancelling out", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Incr("views", 2))
		require.NoError(t, r.Incr("views", -2))
		assert.Equal(t, Item{"views": numAV("0")}, changes(t, r).Add)
	})

	t.Run("set after incr replaces it", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Incr("views", 1))
		require.NoError(t, r.Set("views", 10))

		c := changes(t, r)
		assert.Empty(t, c.Add)
		assert.Equal(t, Item{"views": numAV("10")}, c.Set)
	})

	t.Run("incr after set updates the value", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("views", 10))
		require.NoError(t, r.Incr("views", 1))

		c := changes(t, r)
		assert.Empty(t, c.Add)
		assert.Equal(t, Item{"views": numAV("11")}, c.Set)
	})

	t.Run("undeclared attribute", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Incr("likes", 0.5))
		assert.Equal(t, 0.5, r.Get("likes"))
		assert.Equal(t, Item{"likes": numAV("0.5")}, changes(t, r).Add)
	})

	t.Run("composite source", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Incr("ts", 1))

		c := changes(t, r)
		assert.True(t, c.Atomic)
		assert.Equal(t, Item{"ts": numAV("1")}, c.Add)
		assert.Equal(t, Item{"catts": strAV("news:101")}, c.Set)
	})

	t.Run("rejected", func(t *testing.T) {
		r := loadPost(t)
		require.ErrorIs(t, r.Incr("title", 1), ddbtype.ErrTypeMismatch)
		require.ErrorIs(t, r.Incr("author", 1), ErrPrimaryKeyChange)
		require.ErrorIs(t, r.Incr("catts", 1), ErrAttributeImmutable)
		require.ErrorIs(t, r.Incr("views", 0.5), ddbtype.ErrDataLoss)
		assert.Equal(t, int64(3), r.Get("views"))
		assert.False(t, r.Dirty())
	})
}

func TestSetDeltas(t *testing.T) {
	t.Run("add", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.AddToSet("tags", "c"))
		assert.Equal(t, ddbtype.MustSet("a", "b", "c"), r.Get("tags"))

		c := changes(t, r)
		assert.Equal(t, Item{"tags": &types.AttributeValueMemberSS{Value: []string{"c"}}}, c.Add)
		assert.Empty(t, c.Set)
	})

	t.Run("remove", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.RemoveFromSet("tags", "a"))
		assert.Equal(t, ddbtype.MustSet("b"), r.Get("tags"))
		assert.Equal(t, Item{"tags": &types.AttributeValueMemberSS{Value: []string{"a"}}}, changes(t, r).Delete)
	})

	t.Run("opposite actions cancel", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.AddToSet("tags", "c", "d"))
		require.NoError(t, r.RemoveFromSet("tags", "c"))
		assert.Equal(t, Item{"tags": &types.AttributeValueMemberSS{Value: []string{"d"}}}, changes(t, r).Add)

		require.NoError(t, r.RemoveFromSet("tags", "d"))
		assert.False(t, r.Dirty())
	})

	t.Run("conflicting actions", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.AddToSet("tags", "c"))
		require.ErrorIs(t, r.RemoveFromSet("tags", "a"), ErrConflictingUpdate)
		assert.Equal(t, ddbtype.MustSet("a", "b", "c"), r.Get("tags"))
	})

	t.Run("after assignment", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("tags", ddbtype.MustSet("x")))
		require.NoError(t, r.AddToSet("tags", "y"))

		c := changes(t, r)
		assert.Empty(t, c.Add)
		assert.Equal(t, Item{"tags": &types.AttributeValueMemberSS{Value: []string{"x", "y"}}}, c.Set)
	})

	t.Run("not a set", func(t *testing.T) {
		r := loadPost(t)
		require.ErrorIs(t, r.AddToSet("title", "x"), ddbtype.ErrTypeMismatch)
	})
}

func TestMutableInPlace(t *testing.T) {
	r := loadPost(t)
	require.NoError(t, r.Get("tags").(*ddbtype.Set).Add("z"))
	r.Get("attrs").(map[string]any)["draft"] = true

	c := changes(t, r)
	assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"a", "b", "z"}}, c.Set["tags"])
	assert.Equal(t, &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
		"draft": &types.AttributeValueMemberBOOL{Value: true},
	}}, c.Set["attrs"])
	assert.Equal(t, postItem()["tags"], c.Expected["tags"])

	require.NoError(t, r.Reload(postItem()))
	assert.False(t, r.Dirty())
}
