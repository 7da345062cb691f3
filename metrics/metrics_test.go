package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserveHookIncrementsInvocationsAndTrapsByName(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveHook("onRequestHeaders", false)
	m.ObserveHook("onRequestHeaders", true)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.HookInvocationsTotal.WithLabelValues("onRequestHeaders")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HookTrapsTotal.WithLabelValues("onRequestHeaders")))
}

func TestObserveOutboundCallIncrementsByOutcome(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveOutboundCall("ok")
	m.ObserveOutboundCall("ok")
	m.ObserveOutboundCall("failed")

	assert.Equal(t, float64(2), testutil.ToFloat64(m.OutboundCallsTotal.WithLabelValues("ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OutboundCallsTotal.WithLabelValues("failed")))
}

func TestObserveDownstreamFetchIncrementsByOutcome(t *testing.T) {
	m := NewWithRegisterer(prometheus.NewRegistry())

	m.ObserveDownstreamFetch("failed")

	assert.Equal(t, float64(1), testutil.ToFloat64(m.DownstreamFetchTotal.WithLabelValues("failed")))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.DownstreamFetchTotal.WithLabelValues("ok")))
}

func TestNewWithRegistererAllowsMultipleInstancesPerProcess(t *testing.T) {
	require.NotPanics(t, func() {
		NewWithRegisterer(prometheus.NewRegistry())
		NewWithRegisterer(prometheus.NewRegistry())
	})
}
