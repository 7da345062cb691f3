package wazero

import (
	"context"

	"github.com/tetratelabs/wazero/api"

	proxywasm "github.com/fastedge-run/proxy-wasm-runtime"
)

// buildEnvModule registers every proxy-wasm ABI import under the "env"
// namespace, each one a method of the engine-agnostic
// proxywasm.HostFunctions dispatcher registered directly through wazero's
// reflection-based WithFunc (spec §4.6, §9's "flat set of functions registered under the
// env module namespace"), then instantiates it once for the lifetime of
// the Engine.
func (e *Engine) buildEnvModule(ctx context.Context) (api.Module, error) {
	d := e.dispatch
	return e.runtime.NewHostModuleBuilder("env").
		NewFunctionBuilder().WithFunc(d.ProxyLog).
		WithParameterNames("level", "ptr", "len").Export("proxy_log").

		NewFunctionBuilder().WithFunc(d.ProxyGetLogLevel).
		WithParameterNames("ptr_out").Export("proxy_get_log_level").

		NewFunctionBuilder().WithFunc(d.ProxySetLogLevel).
		WithParameterNames("level").Export("proxy_set_log_level").

		NewFunctionBuilder().WithFunc(d.ProxyGetProperty).
		WithParameterNames("path_ptr", "path_len", "ptr_out", "len_out").Export("proxy_get_property").

		NewFunctionBuilder().WithFunc(d.ProxySetProperty).
		WithParameterNames("path_ptr", "path_len", "val_ptr", "val_len").Export("proxy_set_property").

		NewFunctionBuilder().WithFunc(d.ProxyGetHeaderMapValue).
		WithParameterNames("map", "key_ptr", "key_len", "ptr_out", "len_out").Export("proxy_get_header_map_value").

		NewFunctionBuilder().WithFunc(d.ProxyGetHeaderMapPairs).
		WithParameterNames("map", "ptr_out", "len_out").Export("proxy_get_header_map_pairs").

		NewFunctionBuilder().WithFunc(d.ProxyGetHeaderMapSize).
		WithParameterNames("map", "size_out").Export("proxy_get_header_map_size").

		NewFunctionBuilder().WithFunc(d.ProxyAddHeaderMapValue).
		WithParameterNames("map", "key_ptr", "key_len", "val_ptr", "val_len").Export("proxy_add_header_map_value").

		NewFunctionBuilder().WithFunc(d.ProxyReplaceHeaderMapValue).
		WithParameterNames("map", "key_ptr", "key_len", "val_ptr", "val_len").Export("proxy_replace_header_map_value").

		NewFunctionBuilder().WithFunc(d.ProxyRemoveHeaderMapValue).
		WithParameterNames("map", "key_ptr", "key_len").Export("proxy_remove_header_map_value").

		NewFunctionBuilder().WithFunc(d.ProxySetHeaderMapPairs).
		WithParameterNames("map", "ptr", "len").Export("proxy_set_header_map_pairs").

		NewFunctionBuilder().WithFunc(d.ProxyGetBufferBytes).
		WithParameterNames("type", "start", "length", "ptr_out", "len_out").Export("proxy_get_buffer_bytes").

		NewFunctionBuilder().WithFunc(d.ProxyGetBufferStatus).
		WithParameterNames("type", "len_out", "flags_out").Export("proxy_get_buffer_status").

		NewFunctionBuilder().WithFunc(d.ProxySetBufferBytes).
		WithParameterNames("type", "start", "length", "data_ptr", "data_len").Export("proxy_set_buffer_bytes").

		NewFunctionBuilder().WithFunc(d.ProxySendLocalResponse).
		WithParameterNames("status", "reason_ptr", "reason_len", "body_ptr", "body_len", "grpc_status").Export("proxy_send_local_response").

		NewFunctionBuilder().WithFunc(d.ProxySetEffectiveContext).
		WithParameterNames("context_id").Export("proxy_set_effective_context").

		NewFunctionBuilder().WithFunc(d.ProxyHttpCall).
		WithParameterNames("upstream_ptr", "upstream_len", "header_pairs_ptr", "header_pairs_len",
			"body_ptr", "body_len", "trailer_pairs_ptr", "trailer_pairs_len", "timeout_ms", "token_out").
		Export("proxy_http_call").

		NewFunctionBuilder().WithFunc(d.ProxyContinueStream).
		WithParameterNames("kind").Export("proxy_continue_stream").

		NewFunctionBuilder().WithFunc(d.ProxyCloseStream).
		WithParameterNames("kind").Export("proxy_close_stream").

		NewFunctionBuilder().WithFunc(d.ProxyGetCurrentTimeNanoseconds).
		WithParameterNames("ptr_out").Export("proxy_get_current_time_nanoseconds").

		NewFunctionBuilder().WithFunc(d.ProxyGetStatus).
		WithParameterNames("code_out", "ptr_out", "len_out").Export("proxy_get_status").

		NewFunctionBuilder().WithFunc(d.ProxySetTickPeriodMilliseconds).
		WithParameterNames("period").Export("proxy_set_tick_period_milliseconds").

		NewFunctionBuilder().WithFunc(d.ProxyGetSharedData).
		WithParameterNames("key_ptr", "key_len", "ptr_out", "len_out", "cas_out").Export("proxy_get_shared_data").

		NewFunctionBuilder().WithFunc(d.ProxySetSharedData).
		WithParameterNames("key_ptr", "key_len", "val_ptr", "val_len", "cas").Export("proxy_set_shared_data").

		NewFunctionBuilder().WithFunc(d.ProxyRegisterSharedQueue).
		WithParameterNames("name_ptr", "name_len", "token_out").Export("proxy_register_shared_queue").

		NewFunctionBuilder().WithFunc(d.ProxyResolveSharedQueue).
		WithParameterNames("vm_id_ptr", "vm_id_len", "name_ptr", "name_len", "token_out").Export("proxy_resolve_shared_queue").

		NewFunctionBuilder().WithFunc(d.ProxyDequeueSharedQueue).
		WithParameterNames("token", "ptr_out", "len_out").Export("proxy_dequeue_shared_queue").

		NewFunctionBuilder().WithFunc(d.ProxyEnqueueSharedQueue).
		WithParameterNames("token", "ptr", "len").Export("proxy_enqueue_shared_queue").

		NewFunctionBuilder().WithFunc(d.ProxyDefineMetric).
		WithParameterNames("metric_type", "name_ptr", "name_len", "id_out").Export("proxy_define_metric").

		NewFunctionBuilder().WithFunc(d.ProxyIncrementMetric).
		WithParameterNames("id", "offset").Export("proxy_increment_metric").

		NewFunctionBuilder().WithFunc(d.ProxyRecordMetric).
		WithParameterNames("id", "value").Export("proxy_record_metric").

		NewFunctionBuilder().WithFunc(d.ProxyGetMetric).
		WithParameterNames("id", "value_out").Export("proxy_get_metric").

		NewFunctionBuilder().WithFunc(d.ProxyCallForeignFunction).
		WithParameterNames("name_ptr", "name_len", "arg_ptr", "arg_len", "ptr_out", "len_out").Export("proxy_call_foreign_function").

		NewFunctionBuilder().WithFunc(d.ProxyDone).
		Export("proxy_done").

		NewFunctionBuilder().WithFunc(d.ProxyGetSecret).
		WithParameterNames("key_ptr", "key_len", "ptr_out", "len_out").Export("proxy_get_secret").

		NewFunctionBuilder().WithFunc(d.ProxyGetEffectiveAtSecret).
		WithParameterNames("key_ptr", "key_len", "at_unix_seconds", "ptr_out", "len_out").Export("proxy_get_effective_at_secret").

		NewFunctionBuilder().WithFunc(d.ProxySecretGet).
		WithParameterNames("key_ptr", "key_len", "ptr_out", "len_out").Export("proxy_secret_get").

		NewFunctionBuilder().WithFunc(d.ProxyDictionaryGet).
		WithParameterNames("key_ptr", "key_len", "ptr_out", "len_out").Export("proxy_dictionary_get").

		NewFunctionBuilder().WithFunc(d.ProxyAbort).
		WithParameterNames("msg_ptr", "file_ptr", "line", "col").Export("abort").

		NewFunctionBuilder().WithFunc(d.ProxyTrace).
		WithParameterNames("ptr").Export("trace").

		Instantiate(ctx)
}
