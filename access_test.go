package proxywasm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckReadBuiltinReadOnlyAllowedEverywhere(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	for _, hook := range []HookKind{HookRequestHeaders, HookRequestBody, HookResponseHeaders, HookResponseBody} {
		d := CheckRead("request.method", hook, reg)
		assert.True(t, d.Allowed, "hook=%s", hook)
	}
}

func TestCheckReadWriteOnlyDenied(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	d := CheckRead("nginx.log_field1", HookRequestHeaders, reg)
	assert.False(t, d.Allowed)
	assert.Equal(t, StatusNotFound, d.Status)
}

func TestCheckWriteReadOnlyBuiltinDenied(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	d := CheckWrite("request.method", HookRequestHeaders, reg)
	assert.False(t, d.Allowed)
	assert.Equal(t, StatusBadArgument, d.Status)
}

func TestCheckWriteRequestURLOnlyInRequestHeaders(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	assert.True(t, CheckWrite("request.url", HookRequestHeaders, reg).Allowed)
	assert.False(t, CheckWrite("request.url", HookRequestBody, reg).Allowed)
}

func TestCheckReadResponseStatusOnlyAfterResponseHeaders(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	assert.False(t, CheckRead("response.status", HookRequestHeaders, reg).Allowed)
	assert.True(t, CheckRead("response.status", HookResponseHeaders, reg).Allowed)
}

func TestCustomPropertyCreatedInRequestHeadersVisibleOnlyThere(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	reg.RecordWrite("my.custom", HookRequestHeaders)

	assert.True(t, CheckRead("my.custom", HookRequestHeaders, reg).Allowed)
	assert.False(t, CheckRead("my.custom", HookResponseHeaders, reg).Allowed)
}

func TestCustomPropertyCreatedInResponseHeadersVisibleLater(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	reg.RecordWrite("my.custom", HookResponseHeaders)

	assert.True(t, CheckRead("my.custom", HookResponseHeaders, reg).Allowed)
	assert.True(t, CheckRead("my.custom", HookResponseBody, reg).Allowed)
}

func TestRecordWriteKeepsFirstProvenance(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	reg.RecordWrite("p", HookRequestHeaders)
	reg.RecordWrite("p", HookResponseHeaders)

	hook, ok := reg.CreatedIn("p")
	assert.True(t, ok)
	assert.Equal(t, HookRequestHeaders, hook)
}

func TestPurgeRemovesOnlyRequestHeadersScopedProperties(t *testing.T) {
	reg := NewCustomPropertyRegistry()
	reg.RecordWrite("req.scoped", HookRequestHeaders)
	reg.RecordWrite("resp.scoped", HookResponseHeaders)

	purged := reg.Purge()
	assert.Equal(t, []string{"req.scoped"}, purged)

	_, ok := reg.CreatedIn("req.scoped")
	assert.False(t, ok)
	_, ok = reg.CreatedIn("resp.scoped")
	assert.True(t, ok)
}

func TestIsBuiltinDistinguishesCustomProperties(t *testing.T) {
	assert.True(t, IsBuiltin("request.method"))
	assert.False(t, IsBuiltin("my.custom.property"))
}
