// Command runner is the host process: it loads one guest module (proxy-wasm
// core or component-model), wires the ambient stack (config, logging,
// metrics, secret/dictionary hot-reload), and serves HTTP requests through
// the full-flow orchestrator. Flag-based CLI, matching the teacher's
// example/main.go convention rather than a cobra/cli framework.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
	"github.com/fastedge-run/proxy-wasm-runtime/config"
	"github.com/fastedge-run/proxy-wasm-runtime/engines/wazero"
	"github.com/fastedge-run/proxy-wasm-runtime/internal/component"
	"github.com/fastedge-run/proxy-wasm-runtime/logging"
	"github.com/fastedge-run/proxy-wasm-runtime/metrics"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "c", "", "Path to the runner's YAML config file")
	flag.Parse()
	if configPath == "" {
		fmt.Fprintln(os.Stderr, "Must provide -c <config.yaml>")
		flag.PrintDefaults()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(logging.Config{Level: "info", Output: "stderr"})
	logging.SetGlobal(log)
	defer logging.Sync()

	m := metrics.New()

	secretsRaw, _ := config.LoadSecrets(cfg.SecretsPath)
	dictRaw, _ := config.LoadDictionary(cfg.DictionaryPath)
	secrets := proxywasm.NewSecretStore(secretsRaw)
	dict := proxywasm.NewDictionary(dictRaw)

	if cfg.SecretsPath != "" || cfg.DictionaryPath != "" {
		watcher, err := config.NewSecretWatcher(cfg.SecretsPath, cfg.DictionaryPath, secrets, dict, log)
		if err != nil {
			log.Warn("secret watcher disabled", zap.Error(err))
		} else {
			watcher.Start()
			defer watcher.Close()
		}
	}

	code, err := os.ReadFile(cfg.ModulePath)
	if err != nil {
		log.Fatal("reading module", zap.Error(err))
	}

	switch proxywasm.DetectFormat(code) {
	case proxywasm.FormatComponent:
		runner := component.NewRunner(log)
		defer runner.Close()
		serveComponent(ctx, cfg, runner, log)
	default:
		eng, err := wazero.NewEngine(ctx)
		if err != nil {
			log.Fatal("engine init", zap.Error(err))
		}
		defer eng.Close(ctx)

		mod, _, err := proxywasm.Load(ctx, eng, proxywasm.Source{Bytes: code})
		if err != nil {
			log.Fatal("module load", zap.Error(err))
		}
		defer mod.Close(ctx)

		orch := proxywasm.NewOrchestrator(eng, mod, secrets, dict, log).WithMetrics(m)
		orch.VMConfig, _ = os.ReadFile(cfg.VMConfigPath)
		orch.PluginConfig, _ = os.ReadFile(cfg.PluginConfigPath)
		orch.DownstreamTimeout = cfg.DownstreamTimeout

		serveProxyWasm(ctx, cfg, orch, log)
	}
}

func serveProxyWasm(ctx context.Context, cfg *config.Config, orch *proxywasm.Orchestrator, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		var req proxywasm.FullFlowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		result, err := orch.RunFullFlow(r.Context(), &req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", "application/json")
		_ = json.NewEncoder(w).Encode(result)
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info("proxy-wasm runner listening", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server exited", zap.Error(err))
	}
}

func serveComponent(ctx context.Context, cfg *config.Config, runner *component.Runner, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		resp, err := runner.Serve(r.Context(), cfg.ModulePath, r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		for k, vs := range resp.Header {
			for _, v := range vs {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, _ = io.Copy(w, resp.Body)
	})

	srv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}
	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()
	log.Info("component-model runner listening", zap.String("addr", cfg.ListenAddr))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server exited", zap.Error(err))
	}
}
