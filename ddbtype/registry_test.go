package ddbtype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Resolve(t *testing.T) {
	reg := Builtins()

	tests := []struct {
		name     string
		wantName string
		wantKind Kind
	}{
		{"int", "int", KindN},
		{"integer", "int", KindN},
		{"int64", "int", KindN},
		{"float64", "float", KindN},
		{"S", "str", KindS},
		{"unicode", "str", KindS},
		{"binary", "bytes", KindB},
		{"boolean", "bool", KindBOOL},
		{"map", "dict", KindM},
		{"list", "list", KindL},
		{"datetime", "datetime", KindN},
		{"set:str", "set:str", KindSS},
		{"set:int", "set:int", KindNS},
		{"SS", "set:str", KindSS},
		{"NS", "set:number", KindNS},
		{"BS", "set:bytes", KindBS},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := reg.Resolve(tt.name)
			require.NoError(t, err)
			assert.Equal(t, tt.wantName, def.Name())
			assert.Equal(t, tt.wantKind, def.Kind())
		})
	}

	t.Run("unknown", func(t *testing.T) {
		_, err := reg.Resolve("uuid")
		require.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("set of a document", func(t *testing.T) {
		_, err := reg.Resolve("set:dict")
		require.ErrorIs(t, err, ErrUnknownType)
	})

	t.Run("nested set", func(t *testing.T) {
		_, err := reg.Resolve("set:set:str")
		require.ErrorIs(t, err, ErrUnknownType)
	})
}

type upperStr struct{ strType }

func (upperStr) Aliases() []string { return []string{"text"} }

func TestRegistry_Register(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Resolve("str")
	require.ErrorIs(t, err, ErrUnknownType)

	reg.Register(Str)
	reg.Register(upperStr{})

	def, err := reg.Resolve("text")
	require.NoError(t, err)
	assert.IsType(t, upperStr{}, def)

	def, err = reg.Resolve("str")
	require.NoError(t, err)
	assert.IsType(t, upperStr{}, def, "later registration wins")

	def, err = reg.Resolve("string")
	require.NoError(t, err)
	assert.IsType(t, strType{}, def, "aliases of the replaced type still resolve")

	assert.ElementsMatch(t, []string{"str", "S", "string", "unicode", "text"}, reg.Names())
}

func TestRegistry_Coerce(t *testing.T) {
	reg := Builtins()

	v, err := reg.Coerce("int", "7", true)
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = reg.Coerce("int", "7", false)
	require.ErrorIs(t, err, ErrTypeMismatch)

	_, err = reg.Coerce("money", 7, true)
	require.ErrorIs(t, err, ErrUnknownType)
}
