package proxywasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSecretStorePlainValue(t *testing.T) {
	s := NewSecretStore(map[string]interface{}{"api_key": "plain-value"})
	v, ok := s.Get("api_key", 1000)
	require.True(t, ok)
	assert.Equal(t, "plain-value", v)
}

func TestSecretStoreTimeRotatedValue(t *testing.T) {
	s := NewSecretStore(map[string]interface{}{
		"rotating": []interface{}{
			map[string]interface{}{"value": "old", "effectiveAt": int64(100)},
			map[string]interface{}{"value": "new", "effectiveAt": int64(200)},
		},
	})

	v, ok := s.EffectiveAt("rotating", 150)
	require.True(t, ok)
	assert.Equal(t, "old", v)

	v, ok = s.EffectiveAt("rotating", 250)
	require.True(t, ok)
	assert.Equal(t, "new", v)

	_, ok = s.EffectiveAt("rotating", 50)
	assert.False(t, ok, "no record is effective before the earliest EffectiveAt")
}

func TestSecretStoreMissingKey(t *testing.T) {
	s := NewSecretStore(nil)
	_, ok := s.Get("missing", 0)
	assert.False(t, ok)
}

func TestSecretStoreReplaceSwapsAtomically(t *testing.T) {
	s := NewSecretStore(map[string]interface{}{"k": "v1"})
	s.Replace(map[string]interface{}{"k": "v2"})

	v, ok := s.Get("k", 0)
	require.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestDictionaryGetAndReplace(t *testing.T) {
	d := NewDictionary(map[string]string{"a": "1"})
	v, ok := d.Get("a")
	require.True(t, ok)
	assert.Equal(t, "1", v)

	d.Replace(map[string]string{"b": "2"})
	_, ok = d.Get("a")
	assert.False(t, ok)
	v, ok = d.Get("b")
	require.True(t, ok)
	assert.Equal(t, "2", v)
}
