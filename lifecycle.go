package proxywasm

import "context"

// rootContextID is the fixed root context id used for every guest,
// per spec §4.1 step 3.
const rootContextID uint64 = 1

// RunInitSequence executes the four-step (plus _start) initialization
// contract of spec §4.1 against a freshly created Instance. Every step
// except the hook entry point itself is best-effort: a failing call is
// logged and does not abort the hook.
//
// streamContextID is the newly allocated stream context id for step 4; the
// caller (the orchestrator) is responsible for allocating it uniquely.
func RunInitSequence(ctx context.Context, inst Instance, sink *LogSink, streamContextID uint64, vmConfig, pluginConfig []byte) {
	sink.BeginInit()
	defer sink.EndInit()

	if inst.HasExported("_start") {
		if _, err := inst.Call(ctx, "_start"); err != nil {
			sink.Append(LogLevelDebug, "init: _start failed: "+err.Error())
		}
	}

	callBestEffort(ctx, inst, sink, "proxy_on_context_create", rootContextID, 0)
	callBestEffort(ctx, inst, sink, "proxy_on_vm_start", rootContextID, uint64(len(vmConfig)))
	callBestEffort(ctx, inst, sink, "proxy_on_plugin_start", rootContextID, uint64(len(pluginConfig)))
	callBestEffort(ctx, inst, sink, "proxy_on_configure", rootContextID, uint64(len(pluginConfig)))

	callBestEffort(ctx, inst, sink, "proxy_on_context_create", streamContextID, rootContextID)
}

func callBestEffort(ctx context.Context, inst Instance, sink *LogSink, fn string, args ...uint64) {
	if !inst.HasExported(fn) {
		return
	}
	if _, err := inst.Call(ctx, fn, args...); err != nil {
		sink.Append(LogLevelDebug, "init: "+fn+" failed: "+err.Error())
	}
}
