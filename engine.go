package proxywasm

import "context"

// Engine compiles guest WebAssembly bytes into a Module. The runner holds
// exactly one Engine implementation at a time (engines/wazero); the
// interface exists so the host-function table and orchestrator never
// reference a specific WASM runtime directly, per spec §9's "engine-plus-
// store model" note.
type Engine interface {
	Name() string
	Compile(ctx context.Context, code []byte) (Module, error)
}

// Module is an immutable compiled guest, safe to Instantiate repeatedly
// (spec §3: "Compilation is expensive and must happen at most once per
// load"). Close releases the compiled code and any engine-wide resources.
type Module interface {
	// Instantiate builds a fresh Instance with its own linear memory. sink
	// receives every line the guest writes to fd 1/2 for the lifetime of
	// the instance (spec §4.1's stdio shim), so it must be supplied up
	// front rather than attached after the fact.
	Instantiate(ctx context.Context, sink *LogSink) (Instance, error)
	Close(ctx context.Context) error
}

// Instance is a transient execution context for exactly one hook
// invocation (spec §3). No two hook calls may share an Instance.
type Instance interface {
	// HasExported reports whether the guest exports funcName.
	HasExported(funcName string) bool
	// Call invokes the guest export funcName with args, returning its
	// results. A guest trap surfaces as a non-nil error.
	Call(ctx context.Context, funcName string, args ...uint64) ([]uint64, error)
	// Memory returns the instance's linear memory.
	Memory() GuestMemory
	Close(ctx context.Context) error
}
