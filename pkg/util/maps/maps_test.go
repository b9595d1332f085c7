package maps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet(t *testing.T) {
	m := map[string]interface{}{
		"keyint": 1,
		"keymap": map[string]interface{}{
			"keystr":  "str",
			"keybool": true,
		},
	}

	vInt, isInt := Get(m, "keyint").(int)
	require.True(t, isInt)
	assert.Equal(t, 1, vInt)

	// Subpath through a scalar
	assert.Nil(t, Get(m, "keyint.sub"))

	// Subpath OK
	vBool, isBool := Get(m, "keymap.keybool").(bool)
	require.True(t, isBool)
	assert.True(t, vBool)

	// Missing key
	assert.Nil(t, Get(m, "missing"))
}

func TestMerge(t *testing.T) {
	dst := map[string]interface{}{"a": 1, "b": 2}
	out := Merge(dst, map[string]interface{}{"b": 3, "c": 4})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 3, "c": 4}, out)

	// nil destination
	out = Merge(nil, map[string]interface{}{"x": true})
	assert.Equal(t, map[string]interface{}{"x": true}, out)
}

func TestDecode(t *testing.T) {
	type s struct {
		Name string `mapstructure:"name"`
		N    int    `mapstructure:"n"`
	}
	var v s
	err := Decode(map[string]interface{}{"name": "trim", "n": 2}, &v)
	require.NoError(t, err)
	assert.Equal(t, s{Name: "trim", N: 2}, v)
}
