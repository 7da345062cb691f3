package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadAppliesDefaultsThenOverridesFromYAML(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
modulePath: /opt/guest.wasm
listenAddr: ":9090"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/opt/guest.wasm", cfg.ModulePath)
	assert.Equal(t, ":9090", cfg.ListenAddr)
	assert.Equal(t, 30*time.Second, cfg.DownstreamTimeout)
	assert.Equal(t, 8100, cfg.OutboundPortBase)
	assert.Equal(t, 100, cfg.OutboundPortRange)
}

func TestLoadOverlaysDotenvWithoutFailing(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "modulePath: /opt/guest.wasm\n")
	writeFile(t, dir, "config.yaml.env", "SOME_VAR=1\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/opt/guest.wasm", cfg.ModulePath)
}

func TestLoadMissingFileReturnsConfigParseFailure(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLoadMalformedYAMLReturnsConfigParseFailure(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "not: [valid: yaml")

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadSecretsParsesPlainAndRotatedEntries(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "secrets.yaml", `
api_key: plain-value
signing_key:
  - value: old
    effectiveAt: 100
  - value: new
    effectiveAt: 200
`)

	raw, err := LoadSecrets(path)
	require.NoError(t, err)
	assert.Equal(t, "plain-value", raw["api_key"])
	assert.NotNil(t, raw["signing_key"])
}

func TestLoadDictionaryParsesFlatKeyValues(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "dict.yaml", "region: us-east-1\ntier: gold\n")

	raw, err := LoadDictionary(path)
	require.NoError(t, err)
	assert.Equal(t, "us-east-1", raw["region"])
	assert.Equal(t, "gold", raw["tier"])
}
