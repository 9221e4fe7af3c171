package afcp

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// healthMonitorOptions parameterizes the Health Monitor ticker.
type healthMonitorOptions struct {
	TickInterval        time.Duration
	OfflineThreshold    time.Duration
	DecayMultiplicative float64
	DecayAdditive       float64
}

// healthMonitor runs on a ticker, ages out stale heartbeats, decays load
// averages, and emits tick metrics. Per spec.md §4.6, it swallows every
// internal error (logs at warn) — it must never fail the process.
type healthMonitor struct {
	reg     *registry
	opts    healthMonitorOptions
	clock   Clock
	metrics *metricsExporter
	logger  *zap.Logger

	mu      sync.Mutex
	ticker  Ticker
	done    chan struct{}
	stopped bool
}

func newHealthMonitor(reg *registry, opts healthMonitorOptions, clock Clock, metrics *metricsExporter, logger *zap.Logger) *healthMonitor {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultHealthTickInterval
	}
	if opts.OfflineThreshold <= 0 {
		opts.OfflineThreshold = DefaultHealthOfflineThreshold
	}
	if opts.DecayMultiplicative <= 0 {
		opts.DecayMultiplicative = DefaultLoadDecayMultiplier
	}
	if opts.DecayAdditive <= 0 {
		opts.DecayAdditive = DefaultLoadDecayAdditive
	}

	return &healthMonitor{
		reg:     reg,
		opts:    opts,
		clock:   clock,
		metrics: metrics,
		logger:  logger.With(zap.String("component", "health_monitor")),
		done:    make(chan struct{}),
	}
}

// start launches the ticker loop in a goroutine. Safe to call once; ctx
// cancellation stops the loop alongside an explicit stop() call.
func (h *healthMonitor) start(ctx context.Context) {
	h.mu.Lock()
	h.ticker = h.clock.NewTicker(h.opts.TickInterval)
	ticker := h.ticker
	h.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.done:
				return
			case <-ticker.C():
				h.runTick()
			}
		}
	}()
}

// stop halts the ticker loop.
func (h *healthMonitor) stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return
	}
	h.stopped = true
	close(h.done)
}

// runTick executes one age/decay pass and reports it to the exporter. Any
// unexpected panic-worthy condition is instead logged at warn, never
// propagated.
func (h *healthMonitor) runTick() {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Warn("health monitor tick recovered from panic", zap.Any("panic", r))
		}
	}()

	now := h.clock.Now()
	stats := h.reg.tick(now, h.opts.OfflineThreshold, h.opts.DecayMultiplicative, h.opts.DecayAdditive)
	h.metrics.recordHealthTick(stats)
}
