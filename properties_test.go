package proxywasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractFromURLPopulatesComponents(t *testing.T) {
	p := NewPropertyResolver()
	p.ExtractFromURL("https://example.com:443/path/to/file.tar.gz?a=1&b=2")

	assert.Equal(t, "example.com", p.Host()) // default https port dropped
	assert.Equal(t, "/path/to/file.tar.gz", p.Path())
	assert.Equal(t, "a=1&b=2", p.Query())
	assert.Equal(t, "https", p.Scheme())
	v, ok := p.resolveComputed("request.extension")
	require.True(t, ok)
	assert.Equal(t, "gz", v)
}

func TestExtractFromURLNonDefaultPortIsKept(t *testing.T) {
	p := NewPropertyResolver()
	p.ExtractFromURL("http://example.com:8080/")
	assert.Equal(t, "example.com:8080", p.Host())
}

func TestExtractFromURLParseFailureFallsBack(t *testing.T) {
	p := NewPropertyResolver()
	p.ExtractFromURL("://not a url")
	assert.Equal(t, "localhost", p.Host())
	assert.Equal(t, "/", p.Path())
	assert.Equal(t, "", p.Query())
}

func TestExtractExtensionEdgeCases(t *testing.T) {
	cases := map[string]string{
		"/a/b/file.txt":  "txt",
		"/.bashrc":       "",
		"/foo.":          "",
		"/noext":         "",
		"/a.b/c":         "",
		"/a.b/c.d.e":     "e",
	}
	for path, want := range cases {
		assert.Equal(t, want, extractExtension(path), "path=%s", path)
	}
}

func TestSetRequestMetaPreservesURLExtractedPath(t *testing.T) {
	p := NewPropertyResolver()
	p.ExtractFromURL("http://example.com/already/set")
	p.SetRequestMeta("GET", "", "/", "")
	assert.Equal(t, "/already/set", p.Path())
}

func TestSetRequestMetaOverwritesWithExplicitNonRootPath(t *testing.T) {
	p := NewPropertyResolver()
	p.ExtractFromURL("http://example.com/already/set")
	p.SetRequestMeta("GET", "", "/other", "")
	assert.Equal(t, "/other", p.Path())
}

func TestResolveUserPropertyBeforeComputed(t *testing.T) {
	p := NewPropertyResolver()
	p.Set("request.method", "OVERRIDE")
	v, ok := p.Resolve("request.method")
	require.True(t, ok)
	assert.Equal(t, "OVERRIDE", v)
}

func TestResolveNulPathNormalizesToDots(t *testing.T) {
	p := NewPropertyResolver()
	p.Set("a.b.c", "v")
	v, ok := p.Resolve("a\x00b\x00c")
	require.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestResolveRootIDCandidateOrder(t *testing.T) {
	p := NewPropertyResolver()
	p.Set("name", "fallback")
	p.Set("plugin_name", "preferred")
	v, ok := p.Resolve("root_id")
	require.True(t, ok)
	assert.Equal(t, "preferred", v)
}

func TestResolveNestedLookupDigsIntoMapsAndSlices(t *testing.T) {
	p := NewPropertyResolver()
	p.Set("config", map[string]interface{}{
		"servers": []interface{}{"a", "b"},
	})
	v, ok := p.Resolve("config.servers.1")
	require.True(t, ok)
	assert.Equal(t, "b", v)
}

func TestResolveMissingPropertyMisses(t *testing.T) {
	p := NewPropertyResolver()
	_, ok := p.Resolve("does.not.exist")
	assert.False(t, ok)
}

func TestResolveRequestHeaderProperty(t *testing.T) {
	p := NewPropertyResolver()
	h := NewHeaderMap()
	h.Set("content-type", "application/json")
	p.SetRequestHeaders(h)

	v, ok := p.resolveComputed("request.headers.content-type")
	require.True(t, ok)
	assert.Equal(t, "application/json", v)

	v, ok = p.resolveComputed("request.headers.absent")
	require.True(t, ok)
	assert.Equal(t, "", v)
}

func TestStringifyPassesStringsThroughAndJSONEncodesElse(t *testing.T) {
	assert.Equal(t, "hello", Stringify("hello"))
	assert.Equal(t, "", Stringify(nil))
	assert.Equal(t, "42", Stringify(42))
	assert.JSONEq(t, `{"a":1}`, Stringify(map[string]interface{}{"a": 1}))
}

func TestDeleteAllRemovesOnlyGivenPaths(t *testing.T) {
	p := NewPropertyResolver()
	p.Set("x", "1")
	p.Set("y", "2")
	p.deleteAll([]string{"x"})

	_, ok := p.rawGet("x")
	assert.False(t, ok)
	_, ok = p.rawGet("y")
	assert.True(t, ok)
}

func TestSnapshotIncludesUserAndComputedProperties(t *testing.T) {
	p := NewPropertyResolver()
	p.ExtractFromURL("http://example.com/a")
	p.SetRequestMeta("GET", "", "/a", "")
	p.Set("custom.key", "value")

	snap := p.Snapshot()
	assert.Equal(t, "value", snap["custom.key"])
	assert.Equal(t, "GET", snap["request.method"])
	assert.Equal(t, "/a", snap["request.path"])
}
