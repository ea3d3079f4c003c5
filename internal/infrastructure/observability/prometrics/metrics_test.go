package prometrics

import (
	"testing"

	"github.com/Zhima-Mochi/storefront-reconciler/internal/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAllRegistersEverySpecOnce(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := New(reg, "", "")

	counters, histograms := RegisterAll(r)
	require.Len(t, counters, len(observability.CounterSpecs))
	require.Len(t, histograms, len(observability.HistogramSpecs))

	// a second registration reuses the stored collectors instead of panicking
	again := r.Counter(string(observability.MPaymentCallbacks), "dup", "result")
	again.Add(2, observability.L("result", "settled"))
	counters[observability.MPaymentCallbacks].Add(1, observability.L("result", "settled"))

	cv, ok := r.(*registry).counters.Load(string(observability.MPaymentCallbacks))
	require.True(t, ok)
	assert.Equal(t, float64(3), testutil.ToFloat64(cv.(*prometheus.CounterVec).WithLabelValues("settled")))
}
