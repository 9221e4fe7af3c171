package afcp

import (
	"bytes"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"go.uber.org/zap"
)

// DefaultHistogramBuckets is spec.md §4.7's normative route-latency bucket
// set.
var DefaultHistogramBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}

// metricsExporter owns every Prometheus vector named in spec.md §4.7 and
// renders them as an OpenMetrics text payload on demand. It holds its own
// registry, independent of the global one, so multiple Planes in a test
// process never collide.
type metricsExporter struct {
	registry *prometheus.Registry
	mu       sync.Mutex // guards only the text-rendering snapshot, per spec.md §5

	agentsTotal         *prometheus.GaugeVec
	capabilitiesTotal   prometheus.Gauge
	routeRequestsTotal  *prometheus.CounterVec
	routeLatencySeconds *prometheus.HistogramVec
	consensusTotal      *prometheus.CounterVec
	admissionRejections *prometheus.CounterVec
	loadAvg             *prometheus.GaugeVec

	logger *zap.Logger
}

func newMetricsExporter(histogramBuckets []float64, logger *zap.Logger) *metricsExporter {
	if len(histogramBuckets) == 0 {
		histogramBuckets = DefaultHistogramBuckets
	}

	reg := prometheus.NewRegistry()

	m := &metricsExporter{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics_exporter")),

		agentsTotal: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afcp_agents_total",
			Help: "Number of registered agents by health state.",
		}, []string{"health"}),

		capabilitiesTotal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "afcp_capabilities_total",
			Help: "Number of distinct capabilities currently advertised.",
		}),

		routeRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afcp_route_requests_total",
			Help: "Total Route calls by capability and outcome.",
		}, []string{"capability", "outcome"}),

		routeLatencySeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "afcp_route_latency_seconds",
			Help:    "Route call latency in seconds.",
			Buckets: histogramBuckets,
		}, []string{"capability"}),

		consensusTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afcp_consensus_total",
			Help: "Total Consensus calls by capability and decided outcome.",
		}, []string{"capability", "decided"}),

		admissionRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "afcp_admission_rejections_total",
			Help: "Total admission rejections by reason.",
		}, []string{"reason"}),

		loadAvg: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "afcp_load_avg",
			Help: "Current load average per agent.",
		}, []string{"agent"}),
	}

	reg.MustRegister(
		m.agentsTotal,
		m.capabilitiesTotal,
		m.routeRequestsTotal,
		m.routeLatencySeconds,
		m.consensusTotal,
		m.admissionRejections,
		m.loadAvg,
	)

	return m
}

func (m *metricsExporter) recordRouteOutcome(capability, outcome string) {
	m.routeRequestsTotal.WithLabelValues(capability, outcome).Inc()
}

func (m *metricsExporter) observeRouteLatency(capability string, d time.Duration) {
	m.routeLatencySeconds.WithLabelValues(capability).Observe(d.Seconds())
}

func (m *metricsExporter) recordConsensusOutcome(capability string, decided bool) {
	m.consensusTotal.WithLabelValues(capability, boolLabel(decided)).Inc()
}

func (m *metricsExporter) recordAdmissionRejection(reason string) {
	m.admissionRejections.WithLabelValues(reason).Inc()
}

// recordHealthTick projects one Health Monitor tick's stats into the
// agents-by-health gauge. The tick's load averages (stats.loadAvgs) are not
// exported here; afcp_load_avg is refreshed by syncSnapshot at render time.
// Called with the registry's write lock already released (tick() returns a
// plain struct).
func (m *metricsExporter) recordHealthTick(stats healthTickStats) {
	for _, h := range []Health{HealthActive, HealthDegraded, HealthOffline} {
		m.agentsTotal.WithLabelValues(string(h)).Set(float64(stats.healthCounts[h]))
	}
}

// syncSnapshot projects the registry's current agent set into
// afcp_agents_total, afcp_capabilities_total, and afcp_load_avg, so a
// Metrics() call always reflects live state even between Health Monitor
// ticks.
func (m *metricsExporter) syncSnapshot(reg *registry) {
	agents := reg.list(ListFilter{})

	counts := map[Health]int{HealthActive: 0, HealthDegraded: 0, HealthOffline: 0}
	m.loadAvg.Reset()
	for _, a := range agents {
		counts[a.Health]++
		m.loadAvg.WithLabelValues(a.ID).Set(a.LoadAvg)
	}
	for h, n := range counts {
		m.agentsTotal.WithLabelValues(string(h)).Set(float64(n))
	}

	m.capabilitiesTotal.Set(float64(reg.capabilityCount()))
}

// render produces the OpenMetrics text exposition for every registered
// family, using expfmt's encoder so the exact escaping and "# EOF"
// terminator spec.md §4.7 requires come from a maintained library instead
// of a hand-rolled formatter.
func (m *metricsExporter) render(reg *registry) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.syncSnapshot(reg)

	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeOpenMetrics))
	for _, mf := range families {
		if err := encoder.Encode(mf); err != nil {
			return nil, err
		}
	}
	if closer, ok := encoder.(expfmt.Closer); ok {
		if err := closer.Close(); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}
