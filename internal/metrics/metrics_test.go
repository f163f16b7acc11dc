package metrics

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_WriteTextfile(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg, reg)

	m.DecisionsTotal.WithLabelValues("USE_CACHED").Inc()
	m.DecisionsTotal.WithLabelValues("USE_CACHED").Inc()
	m.RunCacheHits.Inc()

	assert.InDelta(t, 2, testutil.ToFloat64(m.DecisionsTotal.WithLabelValues("USE_CACHED")), 1e-9)

	path := filepath.Join(t.TempDir(), "taxflow.prom")
	require.NoError(t, m.WriteTextfile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `taxflow_router_decisions_total{route="USE_CACHED"} 2`)
	assert.Contains(t, string(data), "taxflow_run_cache_hits_total 1")
}

func TestDefault_RegistersOnce(t *testing.T) {
	assert.Same(t, Default(), Default())
}
