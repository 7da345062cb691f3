package proxywasm

import "context"

// fakeInstance is a minimal Instance double standing in for a real wazero
// instance: onCall lets a test script exactly what a guest export does
// (including mutating the CallState stashed in ctx, the same way a real
// guest's host-function calls would) without needing an actual .wasm binary.
type fakeInstance struct {
	exported  map[string]bool
	onCall    func(ctx context.Context, funcName string, callNum int, args []uint64) (int32, error)
	callCount map[string]int
	mem       *fakeMemory
	closed    bool
}

func newFakeInstance(exported ...string) *fakeInstance {
	set := make(map[string]bool, len(exported))
	for _, e := range exported {
		set[e] = true
	}
	return &fakeInstance{exported: set, mem: newFakeMemory(4096), callCount: map[string]int{}}
}

func (i *fakeInstance) HasExported(funcName string) bool { return i.exported[funcName] }

func (i *fakeInstance) Call(ctx context.Context, funcName string, args ...uint64) ([]uint64, error) {
	i.callCount[funcName]++
	if i.onCall == nil {
		return []uint64{uint64(HookContinue)}, nil
	}
	code, err := i.onCall(ctx, funcName, i.callCount[funcName], args)
	if err != nil {
		return nil, err
	}
	return []uint64{uint64(uint32(code))}, nil
}

func (i *fakeInstance) Memory() GuestMemory { return i.mem }

func (i *fakeInstance) Close(ctx context.Context) error {
	i.closed = true
	return nil
}

// fakeModule hands out fresh fakeInstances, one per Instantiate call, per the
// fresh-instance-per-hook invariant the orchestrator depends on.
type fakeModule struct {
	newInstance func() *fakeInstance
	closed      bool
}

func (m *fakeModule) Instantiate(ctx context.Context, sink *LogSink) (Instance, error) {
	return m.newInstance(), nil
}

func (m *fakeModule) Close(ctx context.Context) error {
	m.closed = true
	return nil
}

// fakeEngine is a no-op Engine double; tests that need one only ever pass it
// through unused fields (the orchestrator never calls Compile itself).
type fakeEngine struct{}

func (fakeEngine) Name() string { return "fake" }
func (fakeEngine) Compile(ctx context.Context, code []byte) (Module, error) {
	return nil, nil
}
