// Package metrics registers the runner's ambient Prometheus counters: hook
// invocations, outbound http-call dispatches, and module load failures.
// Grounded on the promauto counter/summary idiom used in the retrieval
// pack's amppackager signer.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the runner's small set of ambient counters. Construct once at
// startup with New and hand it to the orchestrator (Orchestrator.WithMetrics).
type Metrics struct {
	HookInvocationsTotal *prometheus.CounterVec
	HookTrapsTotal       *prometheus.CounterVec
	OutboundCallsTotal   *prometheus.CounterVec
	ModuleLoadFailures   prometheus.Counter
	DownstreamFetchTotal *prometheus.CounterVec
}

// New registers and returns the runner's Metrics against the default
// Prometheus registry.
func New() *Metrics {
	return NewWithRegisterer(prometheus.DefaultRegisterer)
}

// NewWithRegisterer registers the runner's Metrics against reg instead of
// the global default registry, so tests can use a throwaway
// prometheus.NewRegistry() and construct more than one Metrics per process.
func NewWithRegisterer(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		HookInvocationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxywasm_hook_invocations_total",
				Help: "Total number of proxy-wasm hook invocations, by hook name.",
			},
			[]string{"hook"},
		),
		HookTrapsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxywasm_hook_traps_total",
				Help: "Total number of hook invocations that trapped, by hook name.",
			},
			[]string{"hook"},
		),
		OutboundCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxywasm_outbound_http_calls_total",
				Help: "Total number of outbound proxy_http_call dispatches, by outcome.",
			},
			[]string{"outcome"},
		),
		ModuleLoadFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "proxywasm_module_load_failures_total",
				Help: "Total number of guest module compile failures.",
			},
		),
		DownstreamFetchTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "proxywasm_downstream_fetch_total",
				Help: "Total number of downstream fetches performed by the orchestrator, by outcome.",
			},
			[]string{"outcome"},
		),
	}
}

// ObserveHook records one hook invocation and whether it trapped.
func (m *Metrics) ObserveHook(hook string, trapped bool) {
	m.HookInvocationsTotal.WithLabelValues(hook).Inc()
	if trapped {
		m.HookTrapsTotal.WithLabelValues(hook).Inc()
	}
}

// ObserveOutboundCall records one outbound http-call dispatch outcome
// ("ok" or "failed").
func (m *Metrics) ObserveOutboundCall(outcome string) {
	m.OutboundCallsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDownstreamFetch records one downstream fetch outcome ("ok" or
// "failed").
func (m *Metrics) ObserveDownstreamFetch(outcome string) {
	m.DownstreamFetchTotal.WithLabelValues(outcome).Inc()
}
