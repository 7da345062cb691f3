// Package component implements the "second, smaller runner" named in
// spec.md's overview: it executes self-contained component-model HTTP
// guests (detected by loader.go's magic-byte check) by spawning an
// external process and forwarding HTTP requests to it over loopback,
// rather than driving the proxy-wasm ABI directly.
//
// Grounded on wudi-gateway's cluster/dp client reconnect loop for the
// cenkalti/backoff idiom and on the teacher's Pool (generalized in
// pool.go to InstancePool) for warm-instance reuse, adapted here to pool
// live subprocesses instead of wazero instances.
package component

import (
	"context"
	"fmt"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
)

// Runner spawns (or reuses pooled) subprocesses implementing a
// wasmtime-serve-style component for one binary path, and forwards
// requests to them over a loopback HTTP connection bound to a port drawn
// from the Runner's own 8100-8199 port pool (spec §5).
type Runner struct {
	Ports *proxywasm.PortPool

	// Command builds the *exec.Cmd that serves binaryPath on the given
	// loopback port. Exposed for tests; defaults to a wasmtime-serve
	// invocation.
	Command func(binaryPath string, port int) *exec.Cmd

	// StartupTimeout bounds how long a freshly spawned subprocess has to
	// start accepting connections on its loopback port before Serve gives
	// up on it.
	StartupTimeout time.Duration

	// AcquireTimeout bounds how long Serve waits for a subprocess to
	// become free in an already-warm pool before giving up.
	AcquireTimeout time.Duration

	// PoolSize is the number of subprocesses kept warm per binary path.
	PoolSize uint64

	Log *zap.Logger

	mu    sync.Mutex
	pools map[string]*proxywasm.InstancePool[*instance]
}

// instance is one pooled subprocess: a running command bound to a
// reserved loopback port. It satisfies proxywasm.Poolable so InstancePool
// can manage its lifecycle the same way it manages wazero Instances.
type instance struct {
	cmd     *exec.Cmd
	port    int
	release func()
}

// Close kills the subprocess and releases its reserved port back to the
// shared pool.
func (i *instance) Close(ctx context.Context) error {
	var err error
	if i.cmd.Process != nil {
		err = i.cmd.Process.Kill()
	}
	if i.release != nil {
		i.release()
	}
	return err
}

// NewRunner builds a Runner backed by its own port pool, keeping one
// subprocess warm per binary path by default.
func NewRunner(logger *zap.Logger) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		Ports:          proxywasm.NewPortPool(),
		StartupTimeout: 5 * time.Second,
		AcquireTimeout: 5 * time.Second,
		PoolSize:       1,
		Log:            logger,
		pools:          map[string]*proxywasm.InstancePool[*instance]{},
		Command:        defaultCommand,
	}
}

func defaultCommand(binaryPath string, port int) *exec.Cmd {
	return exec.Command("wasmtime", "serve", "--addr", fmt.Sprintf("127.0.0.1:%d", port), binaryPath)
}

// Serve forwards req to the component-model guest at binaryPath, checking
// out a warm subprocess from that path's pool (spawning the pool on first
// use) and returning it once the request completes.
func (r *Runner) Serve(ctx context.Context, binaryPath string, req *http.Request) (*http.Response, error) {
	pool, err := r.poolFor(ctx, binaryPath)
	if err != nil {
		return nil, err
	}

	inst, err := pool.Get(r.AcquireTimeout)
	if err != nil {
		return nil, fmt.Errorf("component runner: acquiring subprocess for %s: %w", binaryPath, err)
	}
	defer pool.Return(inst)

	forwarded := req.Clone(ctx)
	forwarded.URL.Scheme = "http"
	forwarded.URL.Host = fmt.Sprintf("127.0.0.1:%d", inst.port)
	forwarded.RequestURI = ""

	return http.DefaultClient.Do(forwarded)
}

// poolFor returns binaryPath's subprocess pool, creating and warming it on
// first use.
func (r *Runner) poolFor(ctx context.Context, binaryPath string) (*proxywasm.InstancePool[*instance], error) {
	r.mu.Lock()
	pool, ok := r.pools[binaryPath]
	r.mu.Unlock()
	if ok {
		return pool, nil
	}

	pool, err := proxywasm.NewInstancePool(ctx, r.PoolSize, func(ctx context.Context) (*instance, error) {
		return r.spawn(ctx, binaryPath)
	})
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if existing, ok := r.pools[binaryPath]; ok {
		r.mu.Unlock()
		pool.Close(ctx)
		return existing, nil
	}
	r.pools[binaryPath] = pool
	r.mu.Unlock()

	return pool, nil
}

// spawn starts one subprocess serving binaryPath on a freshly reserved
// port and waits for it to become ready, retrying with exponential
// backoff.
func (r *Runner) spawn(ctx context.Context, binaryPath string) (*instance, error) {
	port, err := r.Ports.Acquire()
	if err != nil {
		return nil, err
	}

	cmd := r.Command(binaryPath, port)
	if err := cmd.Start(); err != nil {
		r.Ports.Release(port)
		return nil, fmt.Errorf("component runner: starting %s: %w", binaryPath, err)
	}

	if err := r.waitForPort(ctx, port); err != nil {
		_ = cmd.Process.Kill()
		r.Ports.Release(port)
		return nil, err
	}

	r.Log.Info("component guest started", zap.String("binary", binaryPath), zap.Int("port", port))
	return &instance{cmd: cmd, port: port, release: func() { r.Ports.Release(port) }}, nil
}

// waitForPort polls the subprocess's loopback port with exponential
// backoff until it accepts connections or StartupTimeout elapses.
func (r *Runner) waitForPort(ctx context.Context, port int) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 10 * time.Millisecond
	bo.MaxInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = r.StartupTimeout

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	return backoff.Retry(func() error {
		return dialCheck(ctx, addr)
	}, backoff.WithContext(bo, ctx))
}

// Close terminates every subprocess this Runner started and releases
// their ports.
func (r *Runner) Close() {
	r.mu.Lock()
	pools := r.pools
	r.pools = map[string]*proxywasm.InstancePool[*instance]{}
	r.mu.Unlock()

	for _, pool := range pools {
		pool.Close(context.Background())
	}
}
