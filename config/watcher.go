package config

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
)

// SecretWatcher watches the secret and dictionary files for out-of-band
// updates (spec §5's "out-of-band configuration updates"), reloading each
// into its store under the single-writer invariant the stores already
// enforce (SecretStore.Replace / Dictionary.Replace swap atomically under a
// mutex).
type SecretWatcher struct {
	watcher        *fsnotify.Watcher
	secretsPath    string
	dictionaryPath string
	secrets        *proxywasm.SecretStore
	dict           *proxywasm.Dictionary
	log            *zap.Logger
}

// NewSecretWatcher builds a watcher over secretsPath and dictionaryPath
// (either may be empty to skip watching that file).
func NewSecretWatcher(secretsPath, dictionaryPath string, secrets *proxywasm.SecretStore, dict *proxywasm.Dictionary, logger *zap.Logger) (*SecretWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &SecretWatcher{
		watcher:        fsw,
		secretsPath:    secretsPath,
		dictionaryPath: dictionaryPath,
		secrets:        secrets,
		dict:           dict,
		log:            logger,
	}
	for _, p := range []string{secretsPath, dictionaryPath} {
		if p == "" {
			continue
		}
		if err := fsw.Add(filepath.Dir(p)); err != nil {
			fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Start launches the watch loop in a goroutine; it returns immediately.
func (w *SecretWatcher) Start() {
	go w.run()
}

func (w *SecretWatcher) run() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			path := event.Name
			debounce = time.AfterFunc(300*time.Millisecond, func() { w.reload(path) })
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *SecretWatcher) reload(path string) {
	switch filepath.Clean(path) {
	case filepath.Clean(w.secretsPath):
		raw, err := LoadSecrets(path)
		if err != nil {
			w.log.Warn("secret reload failed, keeping previous values", zap.Error(err))
			return
		}
		w.secrets.Replace(raw)
		w.log.Info("secrets reloaded", zap.String("path", path))
	case filepath.Clean(w.dictionaryPath):
		raw, err := LoadDictionary(path)
		if err != nil {
			w.log.Warn("dictionary reload failed, keeping previous values", zap.Error(err))
			return
		}
		w.dict.Replace(raw)
		w.log.Info("dictionary reloaded", zap.String("path", path))
	}
}

// Close stops the underlying fsnotify watcher.
func (w *SecretWatcher) Close() error {
	return w.watcher.Close()
}
