package afcp

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkossnick/hearthctl/afcp/afcptest"
)

func TestMetricsExporter_RenderIsOpenMetricsText(t *testing.T) {
	clock := afcptest.NewFakeClock(time.Now())
	reg := newRegistry(clock, zap.NewNop())
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}, LoadAvg: 0.3})

	m := newMetricsExporter(nil, zap.NewNop())
	m.recordRouteOutcome("x", "ok")
	m.observeRouteLatency("x", 15*time.Millisecond)
	m.recordConsensusOutcome("x", true)
	m.recordAdmissionRejection("tokens")

	body, err := m.render(reg)
	require.NoError(t, err)
	text := string(body)

	assert.Contains(t, text, "afcp_agents_total")
	assert.Contains(t, text, "afcp_capabilities_total")
	assert.Contains(t, text, "afcp_route_requests_total")
	assert.Contains(t, text, "afcp_route_latency_seconds")
	assert.Contains(t, text, "afcp_consensus_total")
	assert.Contains(t, text, "afcp_admission_rejections_total")
	assert.Contains(t, text, "afcp_load_avg")
	assert.True(t, strings.HasSuffix(strings.TrimRight(text, "\n"), "# EOF"), "OpenMetrics text exposition must end with the EOF marker")
}

func TestMetricsExporter_SyncSnapshotReflectsLiveRegistry(t *testing.T) {
	clock := afcptest.NewFakeClock(time.Now())
	reg := newRegistry(clock, zap.NewNop())
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x", "y"}, LoadAvg: 0.2})
	mustUpsert(t, reg, Agent{ID: "a2", Capabilities: []string{"x"}, Health: HealthOffline})

	m := newMetricsExporter(nil, zap.NewNop())
	_, err := m.render(reg)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testGaugeValue(t, m.capabilitiesTotal))
	assert.InDelta(t, 0.2, testGaugeVecValue(t, m.loadAvg, "a1"), 1e-9)
}

func TestMetricsExporter_DefaultHistogramBucketsUsedWhenNoneGiven(t *testing.T) {
	m := newMetricsExporter(nil, zap.NewNop())
	assert.NotNil(t, m.routeLatencySeconds)
}

func TestBoolLabel(t *testing.T) {
	assert.Equal(t, "true", boolLabel(true))
	assert.Equal(t, "false", boolLabel(false))
}

func testGaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	return testutil.ToFloat64(g)
}

func testGaugeVecValue(t *testing.T, vec *prometheus.GaugeVec, label string) float64 {
	t.Helper()
	return testutil.ToFloat64(vec.WithLabelValues(label))
}
