// Package proxywasm is a host runtime for edge/CDN WebAssembly modules that
// implement the proxy-wasm ABI. It loads a compiled guest module, drives it
// through the four HTTP lifecycle hooks, mediates every side effect the
// guest requests through linear memory, and composes the hooks with a real
// downstream HTTP fetch to produce an end-to-end filtered response.
package proxywasm

// HookKind identifies one of the four HTTP lifecycle points the guest runs
// at. The zero value is never a valid hook.
type HookKind int

const (
	HookRequestHeaders HookKind = iota + 1
	HookRequestBody
	HookResponseHeaders
	HookResponseBody
)

// String renders the hook name the way it appears in logs and property
// provenance messages ("created in onRequestHeaders").
func (h HookKind) String() string {
	switch h {
	case HookRequestHeaders:
		return "onRequestHeaders"
	case HookRequestBody:
		return "onRequestBody"
	case HookResponseHeaders:
		return "onResponseHeaders"
	case HookResponseBody:
		return "onResponseBody"
	default:
		return "unknown"
	}
}

// entryPoint is the guest-exported WebAssembly function name invoked for
// this hook.
func (h HookKind) entryPoint() string {
	switch h {
	case HookRequestHeaders:
		return "proxy_on_request_headers"
	case HookRequestBody:
		return "proxy_on_request_body"
	case HookResponseHeaders:
		return "proxy_on_response_headers"
	case HookResponseBody:
		return "proxy_on_response_body"
	default:
		return ""
	}
}

// isRequestHook reports whether this hook runs before the downstream fetch.
func (h HookKind) isRequestHook() bool {
	return h == HookRequestHeaders || h == HookRequestBody
}

// isHeadersHook reports whether this hook carries a pair-count/end-of-stream
// call signature (true) or a byte-length/end-of-stream one (false, body
// hooks), per spec §4.7's "Hook call-argument contract".
func (h HookKind) isHeadersHook() bool {
	return h == HookRequestHeaders || h == HookResponseHeaders
}

// LogEntry is one message the guest emitted via proxy_log during a hook.
type LogEntry struct {
	Level   uint32 `json:"level"`
	Message string `json:"message"`
}

// Log levels as defined by spec §6.
const (
	LogLevelTrace uint32 = iota
	LogLevelDebug
	LogLevelInfo
	LogLevelWarn
	LogLevelError
	LogLevelCritical
)

// ABI status codes returned by host functions, per spec §6.
const (
	StatusOk                  int32 = 0
	StatusNotFound            int32 = 1
	StatusBadArgument         int32 = 2
	StatusSerializationFailed int32 = 7
	StatusInternalFailure     int32 = 10
	StatusInvalidMemoryAccess int32 = 11
)

// Hook return codes observed by the orchestrator, per spec §6.
const (
	HookContinue int32 = 0
	HookPause    int32 = 1
)

// BufferKind identifies one of the addressable byte buffers a guest can read
// or (except for HTTP call responses) splice via proxy_get/set_buffer_bytes.
type BufferKind int32

const (
	BufferHTTPRequestBody BufferKind = iota
	BufferHTTPResponseBody
	BufferDownstreamData
	BufferUpstreamData
	BufferHTTPCallResponseBody
	BufferGRPCReceiveBuffer
	BufferVMConfiguration
	BufferPluginConfiguration
	BufferCallData
)

// MapKind identifies one of the header/trailer maps host functions operate
// on, per spec §4.6's "Map identifiers".
type MapKind int32

const (
	MapHTTPRequestHeaders MapKind = iota
	MapHTTPRequestTrailers
	MapHTTPResponseHeaders
	MapHTTPResponseTrailers
	MapGRPCReceiveInitialMetadata
	MapGRPCReceiveTrailingMetadata
	MapHTTPCallResponseHeaders
	MapHTTPCallResponseTrailers
)

// Snapshot is the headers+body+properties view captured before or after a
// hook invocation, per spec §3's HookResult definition.
type Snapshot struct {
	Headers    HeaderMap              `json:"headers"`
	Body       string                 `json:"body"`
	Properties map[string]interface{} `json:"properties"`
}

// HookResult is the observable output of one hook invocation.
type HookResult struct {
	Hook       HookKind   `json:"hook"`
	ReturnCode *int32     `json:"returnCode"`
	Logs       []LogEntry `json:"logs"`
	Input      Snapshot   `json:"input"`
	Output     Snapshot   `json:"output"`
	Trapped    bool       `json:"trapped"`
	TrapError  string     `json:"trapError,omitempty"`
}

// DownstreamResponse is the final composed response of a full-flow run.
type DownstreamResponse struct {
	Status      int        `json:"status"`
	Reason      string     `json:"reason"`
	Headers     HeaderMap  `json:"headers"`
	Body        string     `json:"body"`
	ContentType string     `json:"contentType"`
	IsBase64    bool       `json:"isBase64,omitempty"`
}

// FullFlowResult is the end-to-end output of one orchestrator run.
type FullFlowResult struct {
	RunID          string                     `json:"runId"`
	HookResults    map[string]*HookResult     `json:"hookResults"`
	FinalResponse  DownstreamResponse         `json:"finalResponse"`
	Properties     map[string]interface{}     `json:"properties"`
}
