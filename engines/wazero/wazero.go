// Package wazero adapts the tetratelabs/wazero runtime to the
// proxywasm.Engine/Module/Instance interfaces. It is the sole WASM engine
// this host runs guests on; every proxy-wasm ABI function it exports under
// the "env" namespace is implemented once, in an engine-agnostic form, by
// proxywasm.HostFunctions -- this package only adapts wazero's calling
// convention (api.Module, numeric stacks) to that dispatcher.
package wazero

import (
	"context"
	"fmt"
	"sync/atomic"

	wz "github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
)

// functionGuestMemoryAllocate and functionMalloc are tried in order by the
// bump-allocator fallback's preferred tiers, per spec §4.2.
const (
	functionGuestMemoryAllocate = "proxy_on_memory_allocate"
	functionMalloc              = "malloc"
)

// Engine wraps one wazero Runtime and the single shared "env" host module
// instantiated against it.
type Engine struct {
	runtime  wz.Runtime
	dispatch *proxywasm.HostFunctions
	closers  []api.Closer
}

// NewEngine builds a wazero-backed Engine: a fresh Runtime, WASI preview1,
// and the proxy-wasm host-function table, all instantiated once and shared
// by every compiled Module.
func NewEngine(ctx context.Context) (*Engine, error) {
	r := wz.NewRuntime(ctx)
	e := &Engine{runtime: r, dispatch: proxywasm.NewHostFunctions()}

	wasiCloser, err := wasi_snapshot_preview1.Instantiate(ctx, r)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wazero: instantiating wasi_snapshot_preview1: %w", err)
	}
	e.closers = append(e.closers, wasiCloser)

	envModule, err := e.buildEnvModule(ctx)
	if err != nil {
		_ = r.Close(ctx)
		return nil, fmt.Errorf("wazero: instantiating env host module: %w", err)
	}
	e.closers = append(e.closers, envModule)

	return e, nil
}

// Name implements proxywasm.Engine.
func (e *Engine) Name() string { return "wazero" }

// Compile implements proxywasm.Engine.
func (e *Engine) Compile(ctx context.Context, code []byte) (proxywasm.Module, error) {
	compiled, err := e.runtime.CompileModule(ctx, code)
	if err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindModuleLoadFailure, err)
	}
	return &Module{engine: e, compiled: compiled}, nil
}

// Close releases the runtime and every host module instantiated against it.
func (e *Engine) Close(ctx context.Context) error {
	for i := len(e.closers) - 1; i >= 0; i-- {
		_ = e.closers[i].Close(ctx)
	}
	return e.runtime.Close(ctx)
}

// Module is a compiled guest, safe to Instantiate repeatedly.
type Module struct {
	engine          *Engine
	compiled        wz.CompiledModule
	instanceCounter uint64
}

// Instantiate implements proxywasm.Module.
func (m *Module) Instantiate(ctx context.Context, sink *proxywasm.LogSink) (proxywasm.Instance, error) {
	id := atomic.AddUint64(&m.instanceCounter, 1)
	name := fmt.Sprintf("guest-%d", id)

	stdio := proxywasm.NewStdioWriter(sink)
	cfg := wz.NewModuleConfig().
		WithName(name).
		WithStdout(stdio).
		WithStderr(stdio)

	mod, err := m.engine.runtime.InstantiateModule(ctx, m.compiled, cfg)
	if err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindInstanceTrap, err)
	}

	return &Instance{mod: mod, stdio: stdio, bumpPtr: mod.Memory().Size()}, nil
}

// Close implements proxywasm.Module.
func (m *Module) Close(ctx context.Context) error {
	return m.compiled.Close(ctx)
}

// Instance wraps one wazero api.Module for the duration of one hook.
type Instance struct {
	mod     api.Module
	stdio   *proxywasm.StdioWriter
	bumpPtr uint32 // host-side bump allocator high-water mark, per spec §4.2
}

// HasExported implements proxywasm.Instance.
func (i *Instance) HasExported(funcName string) bool {
	return i.mod.ExportedFunction(funcName) != nil
}

// Call implements proxywasm.Instance.
func (i *Instance) Call(ctx context.Context, funcName string, args ...uint64) ([]uint64, error) {
	fn := i.mod.ExportedFunction(funcName)
	if fn == nil {
		return nil, fmt.Errorf("wazero: guest does not export %q", funcName)
	}
	results, err := fn.Call(ctx, args...)
	if err != nil {
		return nil, proxywasm.NewHostError(proxywasm.KindInstanceTrap, err)
	}
	return results, nil
}

// Memory implements proxywasm.Instance.
func (i *Instance) Memory() proxywasm.GuestMemory {
	return memoryAdapter{i.mod.Memory()}
}

// Close implements proxywasm.Instance.
func (i *Instance) Close(ctx context.Context) error {
	i.stdio.Flush()
	return i.mod.Close(ctx)
}

// Allocator returns the three-tier guest-memory allocation strategy of
// spec §4.2: the guest's proxy_on_memory_allocate export, then malloc,
// then a host-side bump allocator growing the guest's memory in 64 KiB
// pages.
func (i *Instance) Allocator() proxywasm.Allocator {
	return func(ctx context.Context, size uint32) (uint32, error) {
		if size == 0 {
			size = 1 // still return a distinct, dereferenceable pointer
		}
		if fn := i.mod.ExportedFunction(functionGuestMemoryAllocate); fn != nil {
			if ptr, ok := i.callAllocator(ctx, fn, size); ok {
				return ptr, nil
			}
		}
		if fn := i.mod.ExportedFunction(functionMalloc); fn != nil {
			if ptr, ok := i.callAllocator(ctx, fn, size); ok {
				return ptr, nil
			}
		}
		return i.bumpAllocate(size)
	}
}

func (i *Instance) callAllocator(ctx context.Context, fn api.Function, size uint32) (uint32, bool) {
	results, err := fn.Call(ctx, uint64(size))
	if err != nil || len(results) == 0 {
		return 0, false
	}
	ptr := uint32(results[0])
	return ptr, ptr != 0
}

const wasmPageSize = 65536

// bumpAllocate grows the guest's memory by enough 64 KiB pages to hold
// size bytes past the current high-water mark, per spec §4.2. Per spec
// §9, a grow failure is treated as a fatal hook error.
func (i *Instance) bumpAllocate(size uint32) (uint32, error) {
	ptr := i.bumpPtr
	end := ptr + size
	mem := i.mod.Memory()
	if end > mem.Size() {
		deltaBytes := end - mem.Size()
		deltaPages := deltaBytes / wasmPageSize
		if deltaBytes%wasmPageSize != 0 {
			deltaPages++
		}
		if _, ok := mem.Grow(deltaPages); !ok {
			return 0, proxywasm.NewHostError(proxywasm.KindMemoryOutOfBounds,
				fmt.Errorf("bump allocator: failed to grow guest memory by %d pages", deltaPages))
		}
	}
	i.bumpPtr = end
	return ptr, nil
}

// memoryAdapter implements proxywasm.GuestMemory over wazero's api.Memory.
type memoryAdapter struct {
	mem api.Memory
}

func (m memoryAdapter) Read(offset, byteCount uint32) ([]byte, bool) {
	return m.mem.Read(offset, byteCount)
}

func (m memoryAdapter) Write(offset uint32, data []byte) bool {
	return m.mem.Write(offset, data)
}

func (m memoryAdapter) WriteUint32Le(offset, value uint32) bool {
	return m.mem.WriteUint32Le(offset, value)
}

func (m memoryAdapter) Size() uint32 { return m.mem.Size() }

func (m memoryAdapter) Grow(deltaPages uint32) (uint32, bool) {
	return m.mem.Grow(deltaPages)
}
