package proxywasm

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// binaryContentTypeMarkers classifies a response as binary when its
// content-type contains any of these substrings, per spec §6.
var binaryContentTypeMarkers = []string{
	"image/", "audio/", "video/",
	"application/octet-stream", "application/pdf", "application/zip", "application/gzip",
}

// FullFlowRequest is the caller's input to one end-to-end run: the target
// URL to extract properties from and fetch downstream, plus the initial
// request headers/body a guest's request-headers hook observes first.
type FullFlowRequest struct {
	Method  string
	URL     string
	Headers map[string]string
	Body    []byte
}

// MetricsRecorder receives ambient observability events from the
// orchestrator. *metrics.Metrics satisfies this structurally, keeping the
// core package free of a direct dependency on the metrics package.
type MetricsRecorder interface {
	ObserveHook(hook string, trapped bool)
	ObserveOutboundCall(outcome string)
	ObserveDownstreamFetch(outcome string)
}

// Orchestrator drives the full-flow sequence of spec §4.7: it owns the
// compiled Module plus the shared stores (secrets, dictionary) a hook can
// read, and is the only component with network egress.
type Orchestrator struct {
	Engine Engine
	Module Module

	Dispatcher        *OutboundDispatcher
	DownstreamClient  *http.Client
	DownstreamTimeout time.Duration

	Secrets *SecretStore
	Dict    *Dictionary

	VMConfig     []byte
	PluginConfig []byte

	Now func() int64 // Unix nanoseconds; nil means time.Now

	Log     *zap.Logger
	Metrics MetricsRecorder
}

// NewOrchestrator builds an Orchestrator with the spec §5 default 30s
// downstream timeout and a logger that discards output if logger is nil.
func NewOrchestrator(eng Engine, mod Module, secrets *SecretStore, dict *Dictionary, logger *zap.Logger) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		Engine:            eng,
		Module:            mod,
		Dispatcher:        NewOutboundDispatcher(),
		DownstreamClient:  &http.Client{},
		DownstreamTimeout: 30 * time.Second,
		Secrets:           secrets,
		Dict:              dict,
		Log:               logger,
	}
}

// WithMetrics attaches a MetricsRecorder, returning the same Orchestrator
// for chaining at construction time.
func (o *Orchestrator) WithMetrics(m MetricsRecorder) *Orchestrator {
	o.Metrics = m
	return o
}

func (o *Orchestrator) observeHook(hook string, trapped bool) {
	if o.Metrics != nil {
		o.Metrics.ObserveHook(hook, trapped)
	}
}

func (o *Orchestrator) observeOutboundCall(outcome string) {
	if o.Metrics != nil {
		o.Metrics.ObserveOutboundCall(outcome)
	}
}

func (o *Orchestrator) observeDownstreamFetch(outcome string) {
	if o.Metrics != nil {
		o.Metrics.ObserveDownstreamFetch(outcome)
	}
}

// runState is the orchestrator-owned state that persists across hooks
// within one full-flow run -- everything CallState seeds from and writes
// back into, per spec §5's "mutations performed by hook N are observable by
// hook N+1 exactly".
type runState struct {
	resolver *PropertyResolver
	registry *CustomPropertyRegistry

	reqHeaders  HeaderMap
	reqTrailers HeaderMap
	reqBody     []byte

	respHeaders  HeaderMap
	respTrailers HeaderMap
	respBody     []byte

	streamContextSeq uint64
}

func (o *Orchestrator) nextStreamContextID(rs *runState) uint64 {
	rs.streamContextSeq++
	return rootContextID + rs.streamContextSeq
}

// RunFullFlow implements the 10-step sequence of spec §4.7.
func (o *Orchestrator) RunFullFlow(ctx context.Context, req *FullFlowRequest) (*FullFlowResult, error) {
	rs := &runState{
		resolver:    NewPropertyResolver(),
		registry:    NewCustomPropertyRegistry(),
		reqHeaders:  HeaderMapFrom(req.Headers),
		reqTrailers: NewHeaderMap(),
		reqBody:     append([]byte(nil), req.Body...),
	}

	// Step 1: extract runtime properties from the target URL.
	rs.resolver.ExtractFromURL(req.URL)
	rs.resolver.SetRequestMeta(req.Method, "", "", rs.resolver.Query())
	rs.resolver.SetRequestHeaders(rs.reqHeaders)

	// Step 2: synthesize a host header from the URL if the caller didn't
	// supply one.
	if _, ok := rs.reqHeaders.Get("host"); !ok {
		rs.reqHeaders.Set("host", rs.resolver.Host())
	}

	result := &FullFlowResult{
		RunID:       uuid.NewString(),
		HookResults: map[string]*HookResult{},
	}

	// Step 3: request-headers hook.
	hr, err := o.runHook(ctx, HookRequestHeaders, rs)
	if err != nil {
		return nil, err
	}
	result.HookResults[HookRequestHeaders.String()] = hr

	// Step 4: request-body hook.
	hr, err = o.runHook(ctx, HookRequestBody, rs)
	if err != nil {
		return nil, err
	}
	result.HookResults[HookRequestBody.String()] = hr

	// Step 5: reconstruct the outbound URL from possibly-mutated request
	// metadata and inject x-forwarded-* headers.
	rs.resolver.SetRequestHeaders(rs.reqHeaders)
	outboundURL := fmt.Sprintf("%s://%s%s", nonEmpty(rs.resolver.Scheme(), "http"), rs.resolver.Host(), rs.resolver.Path())
	if q := rs.resolver.Query(); q != "" {
		outboundURL += "?" + q
	}
	o.injectForwardedHeaders(&rs.reqHeaders, rs.resolver)

	// Step 6: downstream fetch.
	downstream, fetchErr := o.fetchDownstream(ctx, req.Method, outboundURL, rs.reqHeaders, rs.reqBody)

	if fetchErr != nil {
		o.Log.Error("downstream fetch failed", zap.Error(fetchErr), zap.String("url", outboundURL))
		rs.respHeaders = NewHeaderMap()
		rs.respBody = nil
		rs.resolver.SetResponse(0, "Fetch Failed")
		rs.resolver.SetResponseHeaders(rs.respHeaders)

		rs.resolver.deleteAll(rs.registry.Purge())

		hr, err = o.runHook(ctx, HookResponseHeaders, rs)
		if err != nil {
			return nil, err
		}
		result.HookResults[HookResponseHeaders.String()] = hr
		hr, err = o.runHook(ctx, HookResponseBody, rs)
		if err != nil {
			return nil, err
		}
		result.HookResults[HookResponseBody.String()] = hr

		result.FinalResponse = DownstreamResponse{
			Status: 0, Reason: "Fetch Failed",
			Headers: rs.respHeaders, Body: fetchErr.Error(),
		}
		result.Properties = rs.resolver.Snapshot()
		return result, nil
	}

	rs.respHeaders = downstream.Headers
	rs.respBody = downstream.Body
	rs.resolver.SetResponse(downstream.Status, downstream.Reason)
	rs.resolver.SetResponseHeaders(rs.respHeaders)

	// Step 7: classify binary content and base64-encode if needed.
	contentType, _ := rs.respHeaders.Get("content-type")
	isBase64 := isBinaryContentType(contentType)
	bodyForHooks := rs.respBody
	if isBase64 {
		encoded := base64.StdEncoding.EncodeToString(rs.respBody)
		bodyForHooks = []byte(encoded)
	}
	rs.respBody = bodyForHooks

	// Step 8: purge request-headers-scoped custom properties.
	purged := rs.registry.Purge()
	rs.resolver.deleteAll(purged)

	// Step 9: response hooks.
	hr, err = o.runHook(ctx, HookResponseHeaders, rs)
	if err != nil {
		return nil, err
	}
	result.HookResults[HookResponseHeaders.String()] = hr

	hr, err = o.runHook(ctx, HookResponseBody, rs)
	if err != nil {
		return nil, err
	}
	result.HookResults[HookResponseBody.String()] = hr

	// Step 10: assemble the final response from the last output snapshot.
	result.FinalResponse = DownstreamResponse{
		Status:      downstream.Status,
		Reason:      downstream.Reason,
		Headers:     rs.respHeaders,
		Body:        string(rs.respBody),
		ContentType: contentType,
		IsBase64:    isBase64,
	}
	result.Properties = rs.resolver.Snapshot()
	return result, nil
}

func nonEmpty(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

// injectForwardedHeaders implements spec §6's downstream fetch conventions.
func (o *Orchestrator) injectForwardedHeaders(headers *HeaderMap, resolver *PropertyResolver) {
	if host, ok := headers.Get("host"); ok {
		headers.Set("x-forwarded-host", host)
	}
	scheme := resolver.Scheme()
	headers.Set("x-forwarded-proto", nonEmpty(scheme, "http"))
	port := "80"
	if scheme == "https" {
		port = "443"
	}
	headers.Set("x-forwarded-port", port)

	if realIP, ok := resolver.rawGet("request.x_real_ip"); ok {
		if s, ok := realIP.(string); ok && s != "" {
			headers.Set("x-real-ip", s)
			headers.Set("x-forwarded-for", s)
		}
	}
}

// isBinaryContentType implements spec §6's binary content-type
// classification.
func isBinaryContentType(contentType string) bool {
	ct := strings.ToLower(contentType)
	for _, marker := range binaryContentTypeMarkers {
		if strings.Contains(ct, marker) {
			return true
		}
	}
	return false
}

// fetchDownstream performs the real outbound fetch of spec §4.7 step 6,
// bounded by DownstreamTimeout; the request runs as the single goroutine of
// an errgroup whose context carries that deadline.
func (o *Orchestrator) fetchDownstream(ctx context.Context, method, target string, headers HeaderMap, body []byte) (*DownstreamResponse, error) {
	var resp *DownstreamResponse

	err := o.withTimeout(ctx, o.DownstreamTimeout, func(gctx context.Context) error {
		var bodyReader io.Reader
		if method == http.MethodPost || method == http.MethodPut || method == http.MethodPatch {
			bodyReader = strings.NewReader(string(body))
		}

		httpReq, err := http.NewRequestWithContext(gctx, method, target, bodyReader)
		if err != nil {
			return err
		}
		headers.Range(func(k, v string) { httpReq.Header.Set(k, v) })

		r, err := o.DownstreamClient.Do(httpReq)
		if err != nil {
			return err
		}
		defer r.Body.Close()

		raw, err := io.ReadAll(r.Body)
		if err != nil {
			return err
		}

		respHeaders := NewHeaderMap()
		for k, vs := range r.Header {
			respHeaders.Set(k, strings.Join(vs, ","))
		}

		resp = &DownstreamResponse{
			Status:  r.StatusCode,
			Reason:  http.StatusText(r.StatusCode),
			Headers: respHeaders,
			Body:    string(raw),
		}
		return nil
	})
	if err != nil {
		o.observeDownstreamFetch("failed")
		return nil, NewHostError(KindDownstreamFetchFailed, err)
	}
	o.observeDownstreamFetch("ok")
	return resp, nil
}

func (o *Orchestrator) withTimeout(parent context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fn(gctx) })
	return g.Wait()
}

// runHook instantiates a fresh Instance, runs the init sequence, invokes
// hook's entry point, drains any PendingHttpCall PAUSE loop, and captures
// the HookResult -- per spec §4.1, §4.6, §4.7.
func (o *Orchestrator) runHook(ctx context.Context, hook HookKind, rs *runState) (*HookResult, error) {
	sink := NewLogSink()

	inst, err := o.Module.Instantiate(ctx, sink)
	if err != nil {
		return nil, err
	}
	defer inst.Close(ctx)

	streamCtxID := o.nextStreamContextID(rs)
	RunInitSequence(ctx, inst, sink, streamCtxID, o.VMConfig, o.PluginConfig)

	cs := NewCallState(hook, &TokenAllocator{}, rs.resolver, rs.registry, o.Secrets, o.Dict)
	cs.Marshaler = NewMarshaler(inst.Memory(), o.allocatorFor(inst))
	cs.Logs = sink
	cs.EffectiveContext = streamCtxID
	if o.Now != nil {
		cs.Now = o.Now
	}

	cs.ReqHeaders = rs.reqHeaders.Clone()
	cs.ReqTrailers = rs.reqTrailers.Clone()
	cs.RespHeaders = rs.respHeaders.Clone()
	cs.RespTrailers = rs.respTrailers.Clone()
	cs.ReqBody = append([]byte(nil), rs.reqBody...)
	cs.RespBody = append([]byte(nil), rs.respBody...)
	cs.VMConfig = o.VMConfig
	cs.PluginConfig = o.PluginConfig

	input := Snapshot{
		Headers:    activeHeaders(hook, cs).Clone(),
		Body:       string(activeBody(hook, cs)),
		Properties: rs.resolver.Snapshot(),
	}

	hookCtx := WithCallState(ctx, cs)

	result := &HookResult{Hook: hook, Input: input}

	returnCode, trapErr := o.invokeHookLoop(hookCtx, inst, hook, cs, streamCtxID)
	if trapErr != nil {
		var hostErr *HostError
		kind := KindInstanceTrap
		if asHostError(trapErr, &hostErr) {
			kind = hostErr.Kind
		}
		result.Trapped = true
		result.TrapError = trapErr.Error()
		o.Log.Debug("hook trapped", zap.String("hook", hook.String()), zap.String("kind", string(kind)), zap.Error(trapErr))
		o.observeHook(hook.String(), true)
	} else {
		result.ReturnCode = &returnCode
		o.observeHook(hook.String(), false)
	}

	result.Logs = cs.Logs.Entries()

	// Write back mutated state so the next hook observes it.
	rs.reqHeaders = cs.ReqHeaders
	rs.reqTrailers = cs.ReqTrailers
	rs.respHeaders = cs.RespHeaders
	rs.respTrailers = cs.RespTrailers
	rs.reqBody = cs.ReqBody
	rs.respBody = cs.RespBody

	result.Output = Snapshot{
		Headers:    activeHeaders(hook, cs).Clone(),
		Body:       string(activeBody(hook, cs)),
		Properties: rs.resolver.Snapshot(),
	}

	return result, nil
}

func asHostError(err error, out **HostError) bool {
	he, ok := err.(*HostError)
	if ok {
		*out = he
	}
	return ok
}

// activeHeaders/activeBody pick the snapshot view relevant to hook, per
// spec §3's HookResult definition ("headers + body + properties").
func activeHeaders(hook HookKind, cs *CallState) HeaderMap {
	if hook.isRequestHook() {
		return cs.ReqHeaders
	}
	return cs.RespHeaders
}

func activeBody(hook HookKind, cs *CallState) []byte {
	if hook.isRequestHook() {
		return cs.ReqBody
	}
	return cs.RespBody
}

// invokeHookLoop calls hook's entry point and drives the PAUSE/resume
// protocol of spec §4.7/§9: while the hook returns Pause and recorded a
// PendingHttpCall, dispatch it, deliver proxy_on_http_call_response on the
// SAME instance, and re-invoke the entry point.
func (o *Orchestrator) invokeHookLoop(ctx context.Context, inst Instance, hook HookKind, cs *CallState, streamCtxID uint64) (int32, error) {
	entry := hook.entryPoint()
	if !inst.HasExported(entry) {
		return HookContinue, nil
	}

	for {
		arg2, arg3 := o.hookCallArgs(hook, cs)
		results, err := inst.Call(ctx, entry, streamCtxID, arg2, arg3)
		if err != nil {
			return 0, err
		}
		var code int32
		if len(results) > 0 {
			code = int32(results[0])
		}

		if code != HookPause || cs.Pending == nil || cs.StreamClosed {
			cs.Pending = nil
			return code, nil
		}

		pending := cs.Pending
		cs.Pending = nil

		resp := o.Dispatcher.Dispatch(ctx, pending)
		if resp.Failed {
			o.Log.Debug("outbound http-call failed", zap.Uint32("token", pending.Token), zap.String("upstream", pending.Upstream))
			cs.HTTPCallRespHeaders = NewHeaderMap()
			cs.HTTPCallRespTrailers = NewHeaderMap()
			cs.HTTPCallRespBody = nil
			o.observeOutboundCall("failed")
		} else {
			cs.HTTPCallRespHeaders = resp.Headers
			cs.HTTPCallRespTrailers = resp.Trailers
			cs.HTTPCallRespBody = resp.Body
			o.observeOutboundCall("ok")
		}

		if inst.HasExported("proxy_on_http_call_response") {
			_, _ = inst.Call(ctx, "proxy_on_http_call_response",
				streamCtxID, uint64(pending.Token),
				uint64(cs.HTTPCallRespHeaders.Len()), uint64(len(cs.HTTPCallRespBody)), 0)
		}

		if cs.StreamClosed {
			return code, nil
		}
	}
}

func (o *Orchestrator) hookCallArgs(hook HookKind, cs *CallState) (uint64, uint64) {
	switch hook {
	case HookRequestHeaders:
		return uint64(cs.ReqHeaders.Len()), 0
	case HookResponseHeaders:
		return uint64(cs.RespHeaders.Len()), 0
	case HookRequestBody:
		return uint64(len(cs.ReqBody)), 1
	case HookResponseBody:
		return uint64(len(cs.RespBody)), 1
	}
	return 0, 0
}

// allocatorFor adapts an engine Instance's optional Allocator() accessor
// (wazero's three-tier strategy per spec §4.2) into the Allocator type
// Marshaler expects. Engines that don't expose one get a trivial
// always-fails allocator -- in practice every supported engine does.
func (o *Orchestrator) allocatorFor(inst Instance) Allocator {
	type allocatorProvider interface {
		Allocator() Allocator
	}
	if p, ok := inst.(allocatorProvider); ok {
		return p.Allocator()
	}
	return func(ctx context.Context, size uint32) (uint32, error) {
		return 0, fmt.Errorf("proxywasm: instance exposes no guest memory allocator")
	}
}
