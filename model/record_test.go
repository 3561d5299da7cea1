package model

import (
	"testing"

	"github.com/acksell/flywheel/ddbtype"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strAV(s string) types.AttributeValue { return &types.AttributeValueMemberS{Value: s} }
func numAV(n string) types.AttributeValue { return &types.AttributeValueMemberN{Value: n} }

func postItem() Item {
	return Item{
		"author":   strAV("ann"),
		"slug":     strAV("hello"),
		"title":    strAV("Hello"),
		"views":    numAV("3"),
		"category": strAV("news"),
		"ts":       numAV("100"),
		"catts":    strAV("news:100"),
		"tags":     &types.AttributeValueMemberSS{Value: []string{"a", "b"}},
		"attrs": &types.AttributeValueMemberM{Value: map[string]types.AttributeValue{
			"draft": &types.AttributeValueMemberBOOL{Value: false},
		}},
	}
}

func loadPost(t *testing.T) *Record {
	t.Helper()
	r, err := postMeta(t).Load(postItem())
	require.NoError(t, err)
	return r
}

func TestNew(t *testing.T) {
	m := postMeta(t)

	r, err := m.New(map[string]any{"author": "ann", "slug": "hello", "title": "Hi"})
	require.NoError(t, err)
	assert.False(t, r.Persisted())
	assert.Equal(t, int64(0), r.Get("views"))
	assert.Equal(t, map[string]any{"draft": true}, r.Get("attrs"))

	c, err := r.Changes()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"title", "views", "attrs"}, keysOf(c.Set))
	assert.Equal(t, Item{"title": nil, "views": nil, "attrs": nil}, c.Expected)
	assert.False(t, c.Atomic)

	key, err := r.Key()
	require.NoError(t, err)
	assert.Equal(t, Item{"author": strAV("ann"), "slug": strAV("hello")}, key)

	t.Run("defaults are not shared", func(t *testing.T) {
		other, err := m.New(nil)
		require.NoError(t, err)
		r.Get("attrs").(map[string]any)["extra"] = int64(1)
		assert.Equal(t, map[string]any{"draft": true}, other.Get("attrs"))
	})

	t.Run("missing key", func(t *testing.T) {
		r, err := m.New(map[string]any{"author": "ann"})
		require.NoError(t, err)
		_, err = r.Key()
		require.ErrorIs(t, err, ErrMissingKey)
	})

	t.Run("default factory", func(t *testing.T) {
		m, err := NewMetadata(Config{Name: "thing", Fields: []*Field{
			NewField("id", ddbtype.Str, HashKey(), WithDefaultFunc(NewUUID)),
		}})
		require.NoError(t, err)
		a, err := m.New(nil)
		require.NoError(t, err)
		b, err := m.New(nil)
		require.NoError(t, err)
		assert.Len(t, a.Get("id"), 36)
		assert.NotEqual(t, a.Get("id"), b.Get("id"))
		assert.False(t, a.Dirty(), "keys are not tracked")
	})
}

func TestLoad(t *testing.T) {
	r := loadPost(t)

	assert.True(t, r.Persisted())
	assert.False(t, r.Dirty())
	assert.Equal(t, "Hello", r.Get("title"))
	assert.Equal(t, int64(3), r.Get("views"))
	assert.Equal(t, ddbtype.MustSet("a", "b"), r.Get("tags"))
	assert.Equal(t, "news:100", r.Get("catts"))
	assert.Nil(t, r.Get("score"))

	item, err := r.Item()
	require.NoError(t, err)
	assert.Equal(t, postItem(), item)
}

func TestRecord_Set(t *testing.T) {
	t.Run("coercible field converts", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("views", "12"))
		assert.Equal(t, int64(12), r.Get("views"))
	})

	t.Run("fractional value into int", func(t *testing.T) {
		r := loadPost(t)
		require.ErrorIs(t, r.Set("views", 1.5), ddbtype.ErrDataLoss)
		assert.Equal(t, int64(3), r.Get("views"))
	})

	t.Run("strict field rejects other types", func(t *testing.T) {
		r := loadPost(t)
		require.ErrorIs(t, r.Set("ts", "5"), ddbtype.ErrTypeMismatch)
	})

	t.Run("composite is read only", func(t *testing.T) {
		r := loadPost(t)
		require.ErrorIs(t, r.Set("catts", "x:1"), ErrAttributeImmutable)
	})

	t.Run("primary key", func(t *testing.T) {
		r := loadPost(t)
		require.ErrorIs(t, r.Set("author", "bob"), ErrPrimaryKeyChange)
		require.NoError(t, r.Set("author", "ann"))
		assert.False(t, r.Dirty())
	})

	t.Run("private values", func(t *testing.T) {
		r := loadPost(t)
		require.NoError(t, r.Set("_cache", []int{1}))
		require.NoError(t, r.Set("seen_", true))
		assert.Equal(t, []int{1}, r.Get("_cache"))
		assert.False(t, r.Dirty())

		item, err := r.Item()
		require.NoError(t, err)
		assert.NotContains(t, item, "_cache")
		assert.NotContains(t, item, "seen_")
	})
}

func TestRecord_Composite(t *testing.T) {
	m := postMeta(t)
	r, err := m.New(map[string]any{"author": "ann", "slug": "s", "category": "news", "ts": 7})
	require.NoError(t, err)
	assert.Equal(t, "news:7", r.Get("catts"))

	require.NoError(t, r.Set("ts", 8))
	assert.Equal(t, "news:8", r.Get("catts"))

	require.NoError(t, r.Delete("category"))
	assert.Nil(t, r.Get("catts"))

	t.Run("custom merge", func(t *testing.T) {
		sum := func(values []any) any {
			var total int64
			for _, v := range values {
				n, _ := v.(int64)
				total += n
			}
			return total
		}
		m, err := NewMetadata(Config{Name: "score", Fields: []*Field{
			NewField("id", ddbtype.Str, HashKey()),
			NewField("a", ddbtype.Int),
			NewField("b", ddbtype.Int),
			NewComposite("total", []string{"a", "b"}, WithMerge(sum), WithType(ddbtype.Int)),
		}})
		require.NoError(t, err)
		r, err := m.New(map[string]any{"id": "x", "a": 2})
		require.NoError(t, err)
		assert.Equal(t, int64(2), r.Get("total"))
		require.NoError(t, r.Set("b", 3))
		assert.Equal(t, int64(5), r.Get("total"))
	})
}

func TestRecord_Validate(t *testing.T) {
	m := postMeta(t)

	r, err := m.New(map[string]any{"author": "ann", "slug": "s"})
	require.NoError(t, err)
	err = r.Validate()
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "title", verr.Field)
	assert.ErrorIs(t, err, errRequired)

	require.NoError(t, r.Set("title", "t"))
	require.NoError(t, r.Set("views", -1))
	err = r.Validate()
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "views", verr.Field)
	assert.Equal(t, int64(-1), verr.Value)
	assert.ErrorIs(t, err, errNegative)

	require.NoError(t, r.Set("views", 1))
	require.NoError(t, r.Validate())
}

func TestRecord_Overflow(t *testing.T) {
	r := loadPost(t)
	require.NoError(t, r.Set("extra", map[string]any{"n": 1, "s": "x"}))
	require.NoError(t, r.Set("count", uint8(5)))
	require.NoError(t, r.Set("nums", ddbtype.MustSet(1, 2)))
	require.NoError(t, r.Set("note", "plain"))

	c, err := r.Changes()
	require.NoError(t, err)
	assert.Equal(t, strAV(`{"n":1,"s":"x"}`), c.Set["extra"])
	assert.Equal(t, numAV("5"), c.Set["count"])
	assert.Equal(t, &types.AttributeValueMemberNS{Value: []string{"1", "2"}}, c.Set["nums"])
	assert.Equal(t, strAV(`"plain"`), c.Set["note"])

	item, err := r.Item()
	require.NoError(t, err)
	loaded, err := r.Meta().Load(item)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"n": int64(1), "s": "x"}, loaded.Get("extra"))
	assert.Equal(t, int64(5), loaded.Get("count"))
	assert.Equal(t, ddbtype.MustSet(1, 2), loaded.Get("nums"))
	assert.Equal(t, "plain", loaded.Get("note"))
	assert.False(t, loaded.Dirty())

	t.Run("raw strings from other writers", func(t *testing.T) {
		item := postItem()
		item["legacy"] = strAV("not json")
		r, err := r.Meta().Load(item)
		require.NoError(t, err)
		assert.Equal(t, "not json", r.Get("legacy"))
		assert.False(t, r.Dirty())
	})

	t.Run("in place change", func(t *testing.T) {
		loaded.Get("extra").(map[string]any)["n"] = int64(2)
		c, err := loaded.Changes()
		require.NoError(t, err)
		assert.Equal(t, strAV(`{"n":2,"s":"x"}`), c.Set["extra"])
	})
}

type post struct {
	Author string   `dynamodbav:"author"`
	Views  int      `dynamodbav:"views"`
	Catts  string   `dynamodbav:"catts"`
	Tags   []string `dynamodbav:"tags,stringset"`
}

func TestRecord_Decode(t *testing.T) {
	r := loadPost(t)
	var p post
	require.NoError(t, r.Decode(&p))
	assert.Equal(t, "ann", p.Author)
	assert.Equal(t, 3, p.Views)
	assert.Equal(t, "news:100", p.Catts)
	assert.ElementsMatch(t, []string{"a", "b"}, p.Tags)
}

func keysOf(item Item) []string {
	out := make([]string, 0, len(item))
	for k := range item {
		out = append(out, k)
	}
	return out
}
