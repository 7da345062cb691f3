package proxywasm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderMapSetNormalizesAndOverwrites(t *testing.T) {
	h := NewHeaderMap()
	h.Set("Content-Type", "text/plain")
	h.Set("content-type", "application/json")

	v, ok := h.Get("CONTENT-TYPE")
	require.True(t, ok)
	assert.Equal(t, "application/json", v)
	assert.Equal(t, 1, h.Len())
}

func TestHeaderMapAddConcatenates(t *testing.T) {
	h := NewHeaderMap()
	h.Add("x-forwarded-for", "1.1.1.1")
	h.Add("x-forwarded-for", "2.2.2.2")

	v, ok := h.Get("x-forwarded-for")
	require.True(t, ok)
	assert.Equal(t, "1.1.1.1,2.2.2.2", v)
}

func TestHeaderMapRemove(t *testing.T) {
	h := NewHeaderMap()
	h.Set("a", "1")
	h.Set("b", "2")
	h.Remove("a")

	_, ok := h.Get("a")
	assert.False(t, ok)
	assert.Equal(t, 1, h.Len())

	// Removing an absent key is a no-op.
	h.Remove("missing")
	assert.Equal(t, 1, h.Len())
}

func TestHeaderMapCloneIsIndependent(t *testing.T) {
	h := NewHeaderMap()
	h.Set("a", "1")
	clone := h.Clone()
	clone.Set("a", "2")
	clone.Set("b", "3")

	v, _ := h.Get("a")
	assert.Equal(t, "1", v)
	assert.Equal(t, 1, h.Len())
	assert.Equal(t, 2, clone.Len())
}

func TestHeaderMapRangePreservesInsertionOrder(t *testing.T) {
	h := NewHeaderMap()
	h.Set("z", "1")
	h.Set("a", "2")
	h.Set("m", "3")

	var keys []string
	h.Range(func(k, v string) { keys = append(keys, k) })
	assert.Equal(t, []string{"z", "a", "m"}, keys)
}

func TestHeaderMapSerializeRoundTrips(t *testing.T) {
	h := NewHeaderMap()
	h.Set(":status", "200")
	h.Set("content-type", "application/json")

	decoded, err := DeserializeBinary(h.Serialize())
	require.NoError(t, err)
	assert.Equal(t, h.ToMap(), decoded.ToMap())
}

func TestDeserializeBinaryEmptyPayload(t *testing.T) {
	hm, err := DeserializeBinary(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, hm.Len())
}

func TestDeserializeBinaryTruncatedPayloadErrors(t *testing.T) {
	_, err := DeserializeBinary([]byte{1, 0, 0, 0})
	assert.Error(t, err)
}

func TestDeserializeTextAlternatesKeyValue(t *testing.T) {
	hm := DeserializeText("a\x00b\x00c\x00d")
	va, _ := hm.Get("a")
	vc, _ := hm.Get("c")
	assert.Equal(t, "b", va)
	assert.Equal(t, "d", vc)
}

func TestDeserializeTextTrailingLoneKeyGetsEmptyValue(t *testing.T) {
	hm := DeserializeText("a\x00b\x00c")
	vc, ok := hm.Get("c")
	require.True(t, ok)
	assert.Equal(t, "", vc)
}

func TestHeaderMapJSONRoundTripsOrder(t *testing.T) {
	h := NewHeaderMap()
	h.Set("z", "1")
	h.Set("a", "2")

	raw, err := json.Marshal(h)
	require.NoError(t, err)

	var decoded HeaderMap
	require.NoError(t, json.Unmarshal(raw, &decoded))

	var keys []string
	decoded.Range(func(k, v string) { keys = append(keys, k) })
	assert.Equal(t, []string{"z", "a"}, keys)
}
