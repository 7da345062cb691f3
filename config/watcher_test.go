package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
)

func TestSecretWatcherReloadsOnFileWrite(t *testing.T) {
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.yaml")
	dictPath := filepath.Join(dir, "dict.yaml")
	require.NoError(t, os.WriteFile(secretsPath, []byte("api_key: first\n"), 0o644))
	require.NoError(t, os.WriteFile(dictPath, []byte("region: us-east-1\n"), 0o644))

	secrets := proxywasm.NewSecretStore(map[string]interface{}{"api_key": "first"})
	dict := proxywasm.NewDictionary(map[string]string{"region": "us-east-1"})

	w, err := NewSecretWatcher(secretsPath, dictPath, secrets, dict, nil)
	require.NoError(t, err)
	defer w.Close()
	w.Start()

	require.NoError(t, os.WriteFile(secretsPath, []byte("api_key: second\n"), 0o644))

	require.Eventually(t, func() bool {
		v, ok := secrets.Get("api_key", time.Now().Unix())
		return ok && v == "second"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestSecretWatcherIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	secretsPath := filepath.Join(dir, "secrets.yaml")
	require.NoError(t, os.WriteFile(secretsPath, []byte("api_key: first\n"), 0o644))

	secrets := proxywasm.NewSecretStore(map[string]interface{}{"api_key": "first"})
	dict := proxywasm.NewDictionary(nil)

	w, err := NewSecretWatcher(secretsPath, "", secrets, dict, nil)
	require.NoError(t, err)
	defer w.Close()
	w.Start()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "unrelated.txt"), []byte("noop"), 0o644))
	time.Sleep(50 * time.Millisecond)

	v, ok := secrets.Get("api_key", time.Now().Unix())
	require.True(t, ok)
	assert.Equal(t, "first", v)
}
