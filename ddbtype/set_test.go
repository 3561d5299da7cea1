package ddbtype

import (
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet(t *testing.T) {
	t.Run("numbers compare by value", func(t *testing.T) {
		s := MustSet(1, int64(2), 3.0)
		assert.Equal(t, 3, s.Len())
		assert.True(t, s.Has(1.0))
		assert.True(t, s.Has(uint8(3)))

		require.NoError(t, s.Add(2.0))
		assert.Equal(t, 3, s.Len())
	})

	t.Run("mixed kinds", func(t *testing.T) {
		s := MustSet("a")
		require.ErrorIs(t, s.Add(1), ErrTypeMismatch)

		_, err := NewSet(true)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("remove", func(t *testing.T) {
		s := MustSet("a", "b")
		s.Remove("a")
		s.Remove("missing")
		assert.Equal(t, []any{"b"}, s.Values())
	})

	t.Run("difference and union", func(t *testing.T) {
		a := MustSet("a", "b", "c")
		b := MustSet("b", "d")
		assert.Equal(t, []any{"a", "c"}, a.Difference(b).Values())
		assert.Equal(t, []any{"d"}, b.Difference(a).Values())
		assert.Equal(t, []any{"a", "b", "c", "d"}, a.Union(b).Values())
		assert.Equal(t, 3, a.Len(), "operands are not modified")
	})

	t.Run("clone and equal", func(t *testing.T) {
		a := MustSet(1, 2)
		c := a.Clone()
		assert.True(t, a.Equal(c))
		require.NoError(t, c.Add(3))
		assert.False(t, a.Equal(c))
		assert.True(t, (&Set{}).Equal(nil))
	})

	t.Run("marshal", func(t *testing.T) {
		av, err := MustSet(2.5, 1).MarshalDynamoDBAttributeValue()
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberNS{Value: []string{"1", "2.5"}}, av)

		av, err = (&Set{}).MarshalDynamoDBAttributeValue()
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberNULL{Value: true}, av)
	})
}

func TestSetOf(t *testing.T) {
	ints := mustSetOf(t, Int)
	assert.Equal(t, "set:int", ints.Name())
	assert.Equal(t, KindNS, ints.Kind())
	assert.True(t, ints.Mutable())

	t.Run("documents cannot be elements", func(t *testing.T) {
		_, err := SetOf(Dict)
		require.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("slice needs force", func(t *testing.T) {
		_, err := ints.Coerce([]int{1, 2, 2}, false)
		require.ErrorIs(t, err, ErrTypeMismatch)

		got, err := ints.Coerce([]int{1, 2, 2}, true)
		require.NoError(t, err)
		assert.Equal(t, MustSet(1, 2), got)
	})

	t.Run("elements are checked", func(t *testing.T) {
		_, err := ints.Coerce(MustSet(1.5), false)
		require.ErrorIs(t, err, ErrTypeMismatch)

		_, err = ints.Coerce(MustSet("a"), false)
		require.ErrorIs(t, err, ErrTypeMismatch)
	})

	t.Run("canonical set keeps its identity", func(t *testing.T) {
		s := MustSet(1, 2)
		got, err := ints.Coerce(s, false)
		require.NoError(t, err)
		assert.Same(t, s, got)
	})

	t.Run("empty set is absent", func(t *testing.T) {
		av, err := ints.Serialize(&Set{})
		require.NoError(t, err)
		assert.Nil(t, av)
	})

	t.Run("serialize", func(t *testing.T) {
		av, err := mustSetOf(t, Str).Serialize(MustSet("b", "a"))
		require.NoError(t, err)
		assert.Equal(t, &types.AttributeValueMemberSS{Value: []string{"a", "b"}}, av)
	})
}
