package proxywasm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOrchestrator(newInstance func() *fakeInstance) (*Orchestrator, *fakeModule) {
	mod := &fakeModule{newInstance: newInstance}
	orch := NewOrchestrator(fakeEngine{}, mod, NewSecretStore(nil), NewDictionary(nil), nil)
	return orch, mod
}

func TestRunFullFlowBasicContinuePassesThroughDownstreamResponse(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("content-type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("hello"))
	}))
	defer downstream.Close()

	orch, _ := newTestOrchestrator(func() *fakeInstance {
		return newFakeInstance("proxy_on_request_headers", "proxy_on_request_body", "proxy_on_response_headers", "proxy_on_response_body")
	})

	result, err := orch.RunFullFlow(context.Background(), &FullFlowRequest{
		Method: http.MethodGet,
		URL:    downstream.URL + "/path",
	})
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, result.FinalResponse.Status)
	assert.Equal(t, "hello", result.FinalResponse.Body)
	assert.NotEmpty(t, result.RunID)
	assert.Len(t, result.HookResults, 4)
}

func TestRunFullFlowSynthesizesHostHeaderWhenAbsent(t *testing.T) {
	var gotHost string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotHost, _ = "", r.Header.Get("host")
		gotHost = r.Header.Get("x-forwarded-host")
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	orch, _ := newTestOrchestrator(func() *fakeInstance {
		return newFakeInstance("proxy_on_request_headers", "proxy_on_request_body", "proxy_on_response_headers", "proxy_on_response_body")
	})

	_, err := orch.RunFullFlow(context.Background(), &FullFlowRequest{
		Method: http.MethodGet,
		URL:    downstream.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(downstream.URL, "http://"), gotHost)
}

func TestRunFullFlowRequestHeaderMutationReachesDownstream(t *testing.T) {
	var gotInjected string
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotInjected = r.Header.Get("x-injected")
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	orch, _ := newTestOrchestrator(func() *fakeInstance {
		inst := newFakeInstance("proxy_on_request_headers", "proxy_on_request_body", "proxy_on_response_headers", "proxy_on_response_body")
		inst.onCall = func(ctx context.Context, funcName string, callNum int, args []uint64) (int32, error) {
			if funcName == "proxy_on_request_headers" {
				CallStateFrom(ctx).ReqHeaders.Set("x-injected", "yes")
			}
			return HookContinue, nil
		}
		return inst
	})

	_, err := orch.RunFullFlow(context.Background(), &FullFlowRequest{
		Method: http.MethodGet,
		URL:    downstream.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "yes", gotInjected)
}

func TestRunFullFlowPurgesRequestScopedCustomPropertyAtBoundary(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	hf := NewHostFunctions()
	orch, _ := newTestOrchestrator(func() *fakeInstance {
		inst := newFakeInstance("proxy_on_request_headers", "proxy_on_request_body", "proxy_on_response_headers", "proxy_on_response_body")
		inst.onCall = func(ctx context.Context, funcName string, callNum int, args []uint64) (int32, error) {
			if funcName == "proxy_on_request_headers" {
				path, val := "my.custom", "secret"
				require.True(t, inst.mem.Write(0, []byte(path)))
				require.True(t, inst.mem.Write(100, []byte(val)))
				status := hf.ProxySetProperty(ctx, 0, uint32(len(path)), 100, uint32(len(val)))
				require.Equal(t, StatusOk, status)
			}
			return HookContinue, nil
		}
		return inst
	})

	result, err := orch.RunFullFlow(context.Background(), &FullFlowRequest{
		Method: http.MethodGet,
		URL:    downstream.URL,
	})
	require.NoError(t, err)

	_, presentAfterCreate := result.HookResults[HookRequestHeaders.String()].Output.Properties["my.custom"]
	assert.True(t, presentAfterCreate, "property must be visible in the hook that created it")

	_, presentAtResponse := result.HookResults[HookResponseHeaders.String()].Input.Properties["my.custom"]
	assert.False(t, presentAtResponse, "request-headers-scoped property must be purged before response hooks run")
}

func TestRunFullFlowDownstreamFetchFailureReportsFetchFailed(t *testing.T) {
	orch, _ := newTestOrchestrator(func() *fakeInstance {
		return newFakeInstance("proxy_on_request_headers", "proxy_on_request_body", "proxy_on_response_headers", "proxy_on_response_body")
	})

	result, err := orch.RunFullFlow(context.Background(), &FullFlowRequest{
		Method: http.MethodGet,
		URL:    "http://127.0.0.1:1/unreachable",
	})
	require.NoError(t, err)

	assert.Equal(t, 0, result.FinalResponse.Status)
	assert.Equal(t, "Fetch Failed", result.FinalResponse.Reason)
	assert.NotEmpty(t, result.FinalResponse.Body)
	assert.Contains(t, result.HookResults, HookResponseHeaders.String())
	assert.Contains(t, result.HookResults, HookResponseBody.String())
}

func TestRunFullFlowOutboundHttpCallPauseResumeLoop(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("upstream-body"))
	}))
	defer upstream.Close()

	var resumedBody string
	orch, _ := newTestOrchestrator(func() *fakeInstance {
		inst := newFakeInstance("proxy_on_request_headers", "proxy_on_request_body", "proxy_on_response_headers", "proxy_on_response_body", "proxy_on_http_call_response")
		inst.onCall = func(ctx context.Context, funcName string, callNum int, args []uint64) (int32, error) {
			cs := CallStateFrom(ctx)
			if funcName != "proxy_on_request_headers" {
				return HookContinue, nil
			}
			if callNum == 1 {
				headers := NewHeaderMap()
				headers.Set(":method", "GET")
				headers.Set(":path", "/")
				headers.Set(":scheme", "http")
				cs.Pending = &PendingHttpCall{
					Token:    cs.Tokens.Next(),
					Upstream: strings.TrimPrefix(upstream.URL, "http://"),
					Headers:  headers,
				}
				return HookPause, nil
			}
			resumedBody = string(cs.HTTPCallRespBody)
			return HookContinue, nil
		}
		return inst
	})

	result, err := orch.RunFullFlow(context.Background(), &FullFlowRequest{
		Method: http.MethodGet,
		URL:    downstream.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, "upstream-body", resumedBody)
	reqHeadersResult := result.HookResults[HookRequestHeaders.String()]
	require.NotNil(t, reqHeadersResult.ReturnCode)
	assert.Equal(t, HookContinue, *reqHeadersResult.ReturnCode)
}

func TestRunFullFlowInstanceTrapIsReportedNotFatal(t *testing.T) {
	downstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer downstream.Close()

	orch, _ := newTestOrchestrator(func() *fakeInstance {
		inst := newFakeInstance("proxy_on_request_headers", "proxy_on_request_body", "proxy_on_response_headers", "proxy_on_response_body")
		inst.onCall = func(ctx context.Context, funcName string, callNum int, args []uint64) (int32, error) {
			if funcName == "proxy_on_request_headers" {
				return 0, assert.AnError
			}
			return HookContinue, nil
		}
		return inst
	})

	result, err := orch.RunFullFlow(context.Background(), &FullFlowRequest{
		Method: http.MethodGet,
		URL:    downstream.URL,
	})
	require.NoError(t, err)
	hr := result.HookResults[HookRequestHeaders.String()]
	assert.True(t, hr.Trapped)
	assert.Nil(t, hr.ReturnCode)
}
