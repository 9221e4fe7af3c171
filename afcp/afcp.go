package afcp

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Options configures a Plane at construction. AFCP never reads
// configuration files or the environment itself; a caller (typically
// cmd/hearthctl, via config.Config) translates its own typed config into
// Options before calling New.
type Options struct {
	// Clock is the monotonic time source. Defaults to SystemClock{}.
	Clock Clock
	// Transport is the pluggable agent transport. Required.
	Transport Transport
	// Logger is the base logger every component tags with its own
	// component name. Defaults to zap.NewNop().
	Logger *zap.Logger

	Admission AdmissionOptions
	Health    HealthOptions
	Metrics   MetricsOptions
}

// AdmissionOptions mirrors spec.md §6's admission.* configuration keys.
type AdmissionOptions struct {
	WindowLength time.Duration
	MaxRequests  int
	Burst        int
}

// HealthOptions mirrors spec.md §6's health.* configuration keys.
type HealthOptions struct {
	TickInterval        time.Duration
	OfflineThreshold    time.Duration
	DecayMultiplicative float64
	DecayAdditive       float64
}

// MetricsOptions mirrors spec.md §6's metrics.* configuration keys.
type MetricsOptions struct {
	HistogramBuckets []float64
}

// Plane is the Agent Federation Control Plane's public facade: the seven
// operations of spec.md §6, backed by a Registry, Admission Controller,
// Selector, Dispatcher, Quorum Engine, Health Monitor, and Metrics
// Exporter wired together at construction.
type Plane struct {
	reg       *registry
	sel       *selector
	admission *admissionController
	dispatch  *dispatcher
	quorum    *quorumEngine
	health    *healthMonitor
	metrics   *metricsExporter
	logger    *zap.Logger
}

// New constructs a Plane and starts its Health Monitor and Admission
// Controller GC against ctx; cancel ctx (or call Close) to stop both
// ticker goroutines.
func New(ctx context.Context, opts Options) *Plane {
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	reg := newRegistry(opts.Clock, opts.Logger)
	sel := newSelector(reg)
	admission := newAdmissionController(admissionOptions{
		WindowLength: opts.Admission.WindowLength,
		MaxRequests:  opts.Admission.MaxRequests,
		Burst:        opts.Admission.Burst,
	}, opts.Clock)
	metrics := newMetricsExporter(opts.Metrics.HistogramBuckets, opts.Logger)
	dispatch := newDispatcher(reg, sel, admission, opts.Transport, metrics, opts.Logger)
	quorum := newQuorumEngine(reg, opts.Transport, metrics, opts.Logger)
	health := newHealthMonitor(reg, healthMonitorOptions{
		TickInterval:        opts.Health.TickInterval,
		OfflineThreshold:    opts.Health.OfflineThreshold,
		DecayMultiplicative: opts.Health.DecayMultiplicative,
		DecayAdditive:       opts.Health.DecayAdditive,
	}, opts.Clock, metrics, opts.Logger)

	health.start(ctx)
	admission.startGC(ctx)

	return &Plane{
		reg:       reg,
		sel:       sel,
		admission: admission,
		dispatch:  dispatch,
		quorum:    quorum,
		health:    health,
		metrics:   metrics,
		logger:    opts.Logger.With(zap.String("component", "plane")),
	}
}

// Close stops the Health Monitor's and Admission Controller's ticker
// goroutines. Safe to call once.
func (p *Plane) Close() {
	p.health.stop()
	p.admission.stopGC()
}

// Register is an idempotent upsert: Register(agent), per spec.md §6 op 1.
func (p *Plane) Register(agent Agent) (Agent, error) {
	return p.reg.upsert(agent)
}

// Deregister removes id, returning whether it was present. spec.md §6 op 2.
func (p *Plane) Deregister(id string) bool {
	return p.reg.remove(id)
}

// Heartbeat refreshes id's liveness and, optionally, health/loadAvg. A
// no-op on an unknown id. spec.md §6 op 3.
func (p *Plane) Heartbeat(id string, update HeartbeatUpdate) {
	p.reg.heartbeat(id, update)
}

// List returns a snapshot of agents matching filter, sorted by id.
// spec.md §6 op 4.
func (p *Plane) List(filter ListFilter) []Agent {
	return p.reg.list(filter)
}

// Route selects one agent for capability and issues a single dispatch
// through Transport, applying admission control first. spec.md §6 op 5.
func (p *Plane) Route(ctx context.Context, capability string, payload []byte, opts RouteOptions, clientID string) ([]byte, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultRouteTimeout
	}
	if opts.RequireHealthy == nil {
		requireHealthy := true
		opts.RequireHealthy = &requireHealthy
	}
	return p.dispatch.dispatch(ctx, capability, payload, opts, clientID)
}

// Consensus fans proposal out to every healthy agent advertising
// capability and decides by strict-majority vote. spec.md §6 op 6.
func (p *Plane) Consensus(ctx context.Context, capability string, proposal []byte, opts ConsensusOptions) (ConsensusResult, error) {
	return p.quorum.consensus(ctx, capability, proposal, opts)
}

// Metrics renders the current state as an OpenMetrics text payload.
// spec.md §6 op 7.
func (p *Plane) Metrics() ([]byte, error) {
	return p.metrics.render(p.reg)
}

// AdmissionCheck exposes the Admission Controller's Check directly, for
// callers that want to pre-flight a client id without issuing a Route.
func (p *Plane) AdmissionCheck(clientID string) AdmissionDecision {
	return p.admission.check(clientID)
}

// AdmissionPeek exposes the Admission Controller's Peek directly.
func (p *Plane) AdmissionPeek(clientID string) AdmissionDecision {
	return p.admission.peek(clientID)
}

// AdmissionReset removes clientID's admission record.
func (p *Plane) AdmissionReset(clientID string) {
	p.admission.reset(clientID)
}
