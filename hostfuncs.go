package proxywasm

import (
	"context"
	"time"
)

// HostFunctions implements every import a proxy-wasm guest expects in the
// `env` namespace (spec §4.6). Every method is engine-agnostic: it takes
// a context carrying the calling instance's CallState (whose Marshaler
// reaches guest memory) plus raw i32/i64 arguments and returns raw i32
// results, so engines/wazero only has to register the methods, never
// reimplement ABI semantics.
type HostFunctions struct{}

// NewHostFunctions returns the stateless dispatcher; all per-call state
// lives in the CallState stashed in ctx by the orchestrator.
func NewHostFunctions() *HostFunctions { return &HostFunctions{} }

func (HostFunctions) state(ctx context.Context) *CallState {
	cs := CallStateFrom(ctx)
	if cs == nil {
		panic("proxywasm: host function called with no CallState in context")
	}
	return cs
}

// -- Logging -----------------------------------------------------------

func (h *HostFunctions) ProxyLog(ctx context.Context, level, ptr, length uint32) int32 {
	cs := h.state(ctx)
	msg, err := cs.Marshaler.ReadString(ptr, length)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	cs.Logs.Append(level, msg)
	return StatusOk
}

func (h *HostFunctions) ProxyGetLogLevel(ctx context.Context, ptrOut uint32) int32 {
	cs := h.state(ctx)
	if err := cs.Marshaler.WriteU32(ptrOut, cs.Logs.MinLevel()); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxySetLogLevel(ctx context.Context, level uint32) int32 {
	h.state(ctx).Logs.SetMinLevel(level)
	return StatusOk
}

// -- Properties ----------------------------------------------------------

func (h *HostFunctions) ProxyGetProperty(ctx context.Context, pathPtr, pathLen, ptrOut, lenOut uint32) int32 {
	cs := h.state(ctx)
	path, err := cs.Marshaler.ReadString(pathPtr, pathLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}

	decision := CheckRead(path, cs.Hook, cs.Registry)
	if !decision.Allowed {
		cs.Logs.Append(LogLevelWarn, decision.Message)
		_ = cs.Marshaler.WriteResult(ctx, nil, ptrOut, lenOut)
		return decision.Status
	}

	value, ok := cs.Properties.Resolve(path)
	if !ok {
		if err := cs.Marshaler.WriteResult(ctx, nil, ptrOut, lenOut); err != nil {
			return StatusInvalidMemoryAccess
		}
		return StatusOk
	}
	if err := cs.Marshaler.WriteResult(ctx, []byte(Stringify(value)), ptrOut, lenOut); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxySetProperty(ctx context.Context, pathPtr, pathLen, valPtr, valLen uint32) int32 {
	cs := h.state(ctx)
	path, err := cs.Marshaler.ReadString(pathPtr, pathLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	value, err := cs.Marshaler.ReadString(valPtr, valLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}

	decision := CheckWrite(path, cs.Hook, cs.Registry)
	if !decision.Allowed {
		cs.Logs.Append(LogLevelWarn, decision.Message)
		return decision.Status
	}

	if !IsBuiltin(path) {
		cs.Registry.RecordWrite(normalizePath(path), cs.Hook)
	}
	cs.Properties.Set(path, value)
	return StatusOk
}

// -- Header maps -----------------------------------------------------------

func (h *HostFunctions) ProxyGetHeaderMapValue(ctx context.Context, kind int32, keyPtr, keyLen, ptrOut, lenOut uint32) int32 {
	cs := h.state(ctx)
	m := cs.headerMap(MapKind(kind))
	if m == nil {
		return StatusBadArgument
	}
	key, err := cs.Marshaler.ReadString(keyPtr, keyLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	value, _ := m.Get(key)
	if err := cs.Marshaler.WriteResult(ctx, []byte(value), ptrOut, lenOut); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyGetHeaderMapPairs(ctx context.Context, kind int32, ptrOut, lenOut uint32) int32 {
	cs := h.state(ctx)
	m := cs.headerMap(MapKind(kind))
	if m == nil {
		return StatusBadArgument
	}
	if err := cs.Marshaler.WriteResult(ctx, m.Serialize(), ptrOut, lenOut); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyGetHeaderMapSize(ctx context.Context, kind int32, sizeOut uint32) int32 {
	cs := h.state(ctx)
	m := cs.headerMap(MapKind(kind))
	if m == nil {
		return StatusBadArgument
	}
	if err := cs.Marshaler.WriteU32(sizeOut, uint32(m.Len())); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyAddHeaderMapValue(ctx context.Context, kind int32, keyPtr, keyLen, valPtr, valLen uint32) int32 {
	cs := h.state(ctx)
	m := cs.headerMap(MapKind(kind))
	if m == nil {
		return StatusBadArgument
	}
	key, err := cs.Marshaler.ReadString(keyPtr, keyLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	val, err := cs.Marshaler.ReadString(valPtr, valLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	m.Add(key, val)
	return StatusOk
}

func (h *HostFunctions) ProxyReplaceHeaderMapValue(ctx context.Context, kind int32, keyPtr, keyLen, valPtr, valLen uint32) int32 {
	cs := h.state(ctx)
	m := cs.headerMap(MapKind(kind))
	if m == nil {
		return StatusBadArgument
	}
	key, err := cs.Marshaler.ReadString(keyPtr, keyLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	val, err := cs.Marshaler.ReadString(valPtr, valLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	m.Set(key, val)
	return StatusOk
}

func (h *HostFunctions) ProxyRemoveHeaderMapValue(ctx context.Context, kind int32, keyPtr, keyLen uint32) int32 {
	cs := h.state(ctx)
	m := cs.headerMap(MapKind(kind))
	if m == nil {
		return StatusBadArgument
	}
	key, err := cs.Marshaler.ReadString(keyPtr, keyLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	m.Remove(key)
	return StatusOk
}

func (h *HostFunctions) ProxySetHeaderMapPairs(ctx context.Context, kind int32, ptr, length uint32) int32 {
	cs := h.state(ctx)
	m := cs.headerMap(MapKind(kind))
	if m == nil {
		return StatusBadArgument
	}
	raw, err := cs.Marshaler.ReadBytes(ptr, length)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	if decoded, err := DeserializeBinary(raw); err == nil {
		*m = decoded
		return StatusOk
	}
	*m = DeserializeText(string(raw))
	return StatusOk
}

// -- Buffers -----------------------------------------------------------

func (h *HostFunctions) ProxyGetBufferBytes(ctx context.Context, kind int32, start, length, ptrOut, lenOut uint32) int32 {
	cs := h.state(ctx)
	buf := cs.bodyBuffer(BufferKind(kind))
	if buf == nil {
		return StatusNotFound
	}
	data := *buf
	if int(start) > len(data) {
		start = uint32(len(data))
	}
	end := len(data)
	if length != 0 && int(start)+int(length) < end {
		end = int(start) + int(length)
	}
	if err := cs.Marshaler.WriteResult(ctx, data[start:end], ptrOut, lenOut); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyGetBufferStatus(ctx context.Context, kind int32, lenOut, flagsOut uint32) int32 {
	cs := h.state(ctx)
	buf := cs.bodyBuffer(BufferKind(kind))
	if buf == nil {
		return StatusNotFound
	}
	if err := cs.Marshaler.WriteU32(lenOut, uint32(len(*buf))); err != nil {
		return StatusInvalidMemoryAccess
	}
	if err := cs.Marshaler.WriteU32(flagsOut, 1); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxySetBufferBytes(ctx context.Context, kind int32, start, length, dataPtr, dataLen uint32) int32 {
	cs := h.state(ctx)
	buf := cs.bodyBuffer(BufferKind(kind))
	if buf == nil {
		return StatusNotFound
	}
	if BufferKind(kind) == BufferHTTPCallResponseBody {
		return StatusBadArgument
	}
	data, err := cs.Marshaler.ReadBytes(dataPtr, dataLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}

	existing := *buf
	if int(start) > len(existing) {
		start = uint32(len(existing))
	}
	end := len(existing)
	if length != 0 && int(start)+int(length) < end {
		end = int(start) + int(length)
	}

	out := make([]byte, 0, int(start)+len(data)+(len(existing)-end))
	out = append(out, existing[:start]...)
	out = append(out, data...)
	out = append(out, existing[end:]...)
	*buf = out
	return StatusOk
}

// -- Local response / context ---------------------------------------------

func (h *HostFunctions) ProxySendLocalResponse(ctx context.Context, status uint32, reasonPtr, reasonLen, bodyPtr, bodyLen uint32, grpcStatus int32) int32 {
	cs := h.state(ctx)
	reason, err := cs.Marshaler.ReadString(reasonPtr, reasonLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	cs.Logs.Append(LogLevelInfo, "guest requested local response: status="+Stringify(int(status))+" reason="+reason)
	// Per spec §9 Open Question (a): recorded only, never reflected in the
	// final response -- the hook return code is the only signal the
	// orchestrator observes.
	return StatusOk
}

func (h *HostFunctions) ProxySetEffectiveContext(ctx context.Context, contextID uint64) int32 {
	h.state(ctx).EffectiveContext = contextID
	return StatusOk
}

// -- Outbound HTTP call --------------------------------------------------

func (h *HostFunctions) ProxyHttpCall(ctx context.Context,
	upstreamPtr, upstreamLen, headerPairsPtr, headerPairsLen, bodyPtr, bodyLen, trailerPairsPtr, trailerPairsLen uint32,
	timeoutMillis uint32, tokenOut uint32) int32 {
	cs := h.state(ctx)

	upstream, err := cs.Marshaler.ReadString(upstreamPtr, upstreamLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	headerBytes, err := cs.Marshaler.ReadBytes(headerPairsPtr, headerPairsLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	headers, err := DeserializeBinary(headerBytes)
	if err != nil {
		return StatusBadArgument
	}
	var body []byte
	if bodyLen > 0 {
		body, err = cs.Marshaler.ReadBytes(bodyPtr, bodyLen)
		if err != nil {
			return StatusInvalidMemoryAccess
		}
	}

	token := cs.Tokens.Next()
	cs.Pending = &PendingHttpCall{
		Token:         token,
		Upstream:      upstream,
		Headers:       headers,
		Body:          body,
		TimeoutMillis: timeoutMillis,
	}
	cs.Logs.Append(LogLevelDebug, "dispatching http-call to "+upstream)

	if err := cs.Marshaler.WriteU32(tokenOut, token); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyContinueStream(ctx context.Context, kind int32) int32 {
	return StatusOk
}

func (h *HostFunctions) ProxyCloseStream(ctx context.Context, kind int32) int32 {
	h.state(ctx).StreamClosed = true
	return StatusOk
}

// -- Time, status, queues, gRPC, shared data, timers, foreign functions --
// All return safe stubs per spec §4.6.

func (h *HostFunctions) ProxyGetCurrentTimeNanoseconds(ctx context.Context, ptrOut uint32) int32 {
	cs := h.state(ctx)
	now := time.Now().UnixNano()
	if cs.Now != nil {
		now = cs.Now()
	}
	if err := cs.Marshaler.WriteU32(ptrOut, uint32(now)); err != nil {
		return StatusInvalidMemoryAccess
	}
	if err := cs.Marshaler.WriteU32(ptrOut+4, uint32(now>>32)); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyGetStatus(ctx context.Context, codeOut, ptrOut, lenOut uint32) int32 {
	cs := h.state(ctx)
	if err := cs.Marshaler.WriteU32(codeOut, 0); err != nil {
		return StatusInvalidMemoryAccess
	}
	if err := cs.Marshaler.WriteResult(ctx, nil, ptrOut, lenOut); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxySetTickPeriodMilliseconds(ctx context.Context, period uint32) int32 {
	return StatusOk
}

func (h *HostFunctions) ProxyGetSharedData(ctx context.Context, keyPtr, keyLen, ptrOut, lenOut, casOut uint32) int32 {
	return StatusNotFound
}

func (h *HostFunctions) ProxySetSharedData(ctx context.Context, keyPtr, keyLen, valPtr, valLen, cas uint32) int32 {
	return StatusNotFound
}

func (h *HostFunctions) ProxyRegisterSharedQueue(ctx context.Context, namePtr, nameLen, tokenOut uint32) int32 {
	return StatusNotFound
}

func (h *HostFunctions) ProxyResolveSharedQueue(ctx context.Context, vmIDPtr, vmIDLen, namePtr, nameLen, tokenOut uint32) int32 {
	return StatusNotFound
}

func (h *HostFunctions) ProxyDequeueSharedQueue(ctx context.Context, token, ptrOut, lenOut uint32) int32 {
	return StatusNotFound
}

func (h *HostFunctions) ProxyEnqueueSharedQueue(ctx context.Context, token, ptr, length uint32) int32 {
	return StatusNotFound
}

func (h *HostFunctions) ProxyDefineMetric(ctx context.Context, metricType int32, namePtr, nameLen, idOut uint32) int32 {
	cs := h.state(ctx)
	if err := cs.Marshaler.WriteU32(idOut, 0); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyIncrementMetric(ctx context.Context, id uint32, offset int64) int32 {
	return StatusOk
}

func (h *HostFunctions) ProxyRecordMetric(ctx context.Context, id uint32, value uint64) int32 {
	return StatusOk
}

func (h *HostFunctions) ProxyGetMetric(ctx context.Context, id uint32, valueOut uint32) int32 {
	cs := h.state(ctx)
	if err := cs.Marshaler.WriteU32(valueOut, 0); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyCallForeignFunction(ctx context.Context, namePtr, nameLen, argPtr, argLen, ptrOut, lenOut uint32) int32 {
	return StatusNotFound
}

func (h *HostFunctions) ProxyDone(ctx context.Context) int32 {
	return StatusOk
}

// -- FastEdge extensions --------------------------------------------------

func (h *HostFunctions) proxyGetSecretAt(ctx context.Context, keyPtr, keyLen, ptrOut, lenOut uint32, at int64) int32 {
	cs := h.state(ctx)
	key, err := cs.Marshaler.ReadString(keyPtr, keyLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	value, ok := cs.Secrets.EffectiveAt(key, at)
	if !ok {
		return StatusNotFound
	}
	if err := cs.Marshaler.WriteResult(ctx, []byte(value), ptrOut, lenOut); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

func (h *HostFunctions) ProxyGetSecret(ctx context.Context, keyPtr, keyLen, ptrOut, lenOut uint32) int32 {
	return h.proxyGetSecretAt(ctx, keyPtr, keyLen, ptrOut, lenOut, time.Now().Unix())
}

func (h *HostFunctions) ProxyGetEffectiveAtSecret(ctx context.Context, keyPtr, keyLen uint32, atUnixSeconds int64, ptrOut, lenOut uint32) int32 {
	return h.proxyGetSecretAt(ctx, keyPtr, keyLen, ptrOut, lenOut, atUnixSeconds)
}

func (h *HostFunctions) ProxySecretGet(ctx context.Context, keyPtr, keyLen, ptrOut, lenOut uint32) int32 {
	return h.ProxyGetSecret(ctx, keyPtr, keyLen, ptrOut, lenOut)
}

func (h *HostFunctions) ProxyDictionaryGet(ctx context.Context, keyPtr, keyLen, ptrOut, lenOut uint32) int32 {
	cs := h.state(ctx)
	key, err := cs.Marshaler.ReadString(keyPtr, keyLen)
	if err != nil {
		return StatusInvalidMemoryAccess
	}
	value, ok := cs.Dict.Get(key)
	if !ok {
		return StatusNotFound
	}
	if err := cs.Marshaler.WriteResult(ctx, []byte(value), ptrOut, lenOut); err != nil {
		return StatusInvalidMemoryAccess
	}
	return StatusOk
}

// -- Guest faults ---------------------------------------------------------

// ProxyAbort implements the `abort` import. It logs a detailed error and
// then panics with the failure so the engine surfaces it as a trap to the
// orchestrator (spec §7 HOST_ABORT).
func (h *HostFunctions) ProxyAbort(ctx context.Context, msgPtr, filePtr, line, col uint32) {
	cs := h.state(ctx)
	msg, _ := cs.Marshaler.ReadNulTerminatedString(msgPtr)
	file, _ := cs.Marshaler.ReadNulTerminatedString(filePtr)
	detail := "guest abort: " + msg + " at " + file
	cs.Logs.Append(LogLevelError, detail)
	panic(NewHostError(KindHostAbort, errAbort(detail)))
}

// ProxyTrace implements the `trace` import: a bare-pointer NUL-terminated
// message appended at trace level.
func (h *HostFunctions) ProxyTrace(ctx context.Context, ptr uint32) {
	cs := h.state(ctx)
	msg, _ := cs.Marshaler.ReadNulTerminatedString(ptr)
	cs.Logs.Append(LogLevelTrace, msg)
}

type abortErr string

func (e abortErr) Error() string { return string(e) }

func errAbort(msg string) error { return abortErr(msg) }
