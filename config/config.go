// Package config loads the runner's YAML configuration, overlays .env
// values, and watches the secret/dictionary files for out-of-band updates
// (spec §5), matching the loader/watcher idiom of the retrieval pack's
// wudi-gateway config package.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
)

// Config is the runner's top-level configuration: where the guest module
// lives, the VM/plugin config bytes to pass at init, the downstream fetch
// timeout, the outbound HTTP call port range, and the secret/dictionary
// source files.
type Config struct {
	ModulePath         string        `yaml:"modulePath"`
	VMConfigPath       string        `yaml:"vmConfigPath"`
	PluginConfigPath   string        `yaml:"pluginConfigPath"`
	DownstreamTimeout  time.Duration `yaml:"downstreamTimeout"`
	OutboundPortBase   int           `yaml:"outboundPortBase"`
	OutboundPortRange  int           `yaml:"outboundPortRange"`
	SecretsPath        string        `yaml:"secretsPath"`
	DictionaryPath     string        `yaml:"dictionaryPath"`
	ListenAddr         string        `yaml:"listenAddr"`
}

// DefaultConfig returns the spec-mandated defaults: a 30s downstream fetch
// timeout and the 8100-8199 outbound port pool (spec §5).
func DefaultConfig() *Config {
	return &Config{
		DownstreamTimeout: 30 * time.Second,
		OutboundPortBase:  8100,
		OutboundPortRange: 100,
		ListenAddr:        ":8080",
	}
}

// Load reads a YAML config file at path, after overlaying any .env file
// alongside it (spec.md's explicitly out-of-scope "dotenv file parsing",
// carried here as a thin utility per SPEC_FULL.md §2.2). A missing or
// malformed .env file is tolerated, never fatal (spec §7
// CONFIG_PARSE_FAILURE).
func Load(path string) (*Config, error) {
	if err := godotenv.Overload(envPathFor(path)); err != nil && !os.IsNotExist(err) {
		// A malformed .env is ignored: it is neither logged nor returned.
		// Only the YAML read/parse steps below return
		// CONFIG_PARSE_FAILURE-kind errors.
		_ = err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindConfigParseFailure, err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindConfigParseFailure,
			fmt.Errorf("parsing %s: %w", path, err))
	}
	return cfg, nil
}

func envPathFor(configPath string) string {
	return configPath + ".env"
}

// LoadSecrets reads a YAML file mapping secret keys to either a bare string
// or an ordered {value, effectiveAt} list, per spec §6's secret schema.
func LoadSecrets(path string) (map[string]interface{}, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindConfigParseFailure, err)
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindConfigParseFailure,
			fmt.Errorf("parsing secrets %s: %w", path, err))
	}
	return raw, nil
}

// LoadDictionary reads a flat YAML key-value file for proxy_dictionary_get.
func LoadDictionary(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindConfigParseFailure, err)
	}
	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindConfigParseFailure,
			fmt.Errorf("parsing dictionary %s: %w", path, err))
	}
	return raw, nil
}
