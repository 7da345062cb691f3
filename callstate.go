package proxywasm

import "context"

// CallState is everything a host function can observe or mutate during one
// hook invocation: the maps and buffers the guest is exchanging data
// through, the property resolver, the log sink, and any PendingHttpCall
// recorded mid-call. A fresh CallState is created by the orchestrator for
// every hook call (and reused, not recreated, across a PAUSE/resume loop on
// the same instance), mirroring spec §3's "bounded to a single hook
// invocation" rule.
type CallState struct {
	Hook HookKind

	Marshaler *Marshaler

	ReqHeaders  HeaderMap
	ReqTrailers HeaderMap
	RespHeaders HeaderMap
	RespTrailers HeaderMap

	ReqBody      []byte
	RespBody     []byte
	VMConfig     []byte
	PluginConfig []byte

	HTTPCallRespHeaders  HeaderMap
	HTTPCallRespTrailers HeaderMap
	HTTPCallRespBody     []byte

	Properties *PropertyResolver
	Registry   *CustomPropertyRegistry
	Secrets    *SecretStore
	Dict       *Dictionary

	Logs   *LogSink
	Tokens *TokenAllocator

	EffectiveContext uint64
	StreamClosed     bool

	Pending *PendingHttpCall

	LocalResponse *DownstreamResponse

	Now func() int64 // Unix nanoseconds; overridable in tests
}

// NewCallState returns a CallState with empty maps/buffers ready for one
// hook invocation.
func NewCallState(hook HookKind, tokens *TokenAllocator, resolver *PropertyResolver, registry *CustomPropertyRegistry, secrets *SecretStore, dict *Dictionary) *CallState {
	return &CallState{
		Hook:                 hook,
		ReqHeaders:           NewHeaderMap(),
		ReqTrailers:          NewHeaderMap(),
		RespHeaders:          NewHeaderMap(),
		RespTrailers:         NewHeaderMap(),
		HTTPCallRespHeaders:  NewHeaderMap(),
		HTTPCallRespTrailers: NewHeaderMap(),
		Properties:           resolver,
		Registry:             registry,
		Secrets:              secrets,
		Dict:                 dict,
		Logs:                 NewLogSink(),
		Tokens:               tokens,
	}
}

type callStateKey struct{}

// WithCallState stashes cs in ctx for the duration of one guest call.
func WithCallState(ctx context.Context, cs *CallState) context.Context {
	return context.WithValue(ctx, callStateKey{}, cs)
}

// CallStateFrom retrieves the CallState stashed by WithCallState, or nil.
func CallStateFrom(ctx context.Context) *CallState {
	cs, _ := ctx.Value(callStateKey{}).(*CallState)
	return cs
}

func (cs *CallState) headerMap(kind MapKind) *HeaderMap {
	switch kind {
	case MapHTTPRequestHeaders:
		return &cs.ReqHeaders
	case MapHTTPRequestTrailers:
		return &cs.ReqTrailers
	case MapHTTPResponseHeaders:
		return &cs.RespHeaders
	case MapHTTPResponseTrailers:
		return &cs.RespTrailers
	case MapHTTPCallResponseHeaders:
		return &cs.HTTPCallRespHeaders
	case MapHTTPCallResponseTrailers:
		return &cs.HTTPCallRespTrailers
	default:
		return nil
	}
}

func (cs *CallState) bodyBuffer(kind BufferKind) *[]byte {
	switch kind {
	case BufferHTTPRequestBody:
		return &cs.ReqBody
	case BufferHTTPResponseBody:
		return &cs.RespBody
	case BufferHTTPCallResponseBody:
		return &cs.HTTPCallRespBody
	case BufferVMConfiguration:
		return &cs.VMConfig
	case BufferPluginConfiguration:
		return &cs.PluginConfig
	default:
		return nil
	}
}
