package afcp

import (
	"math"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// registry owns the set of known agents and their live state, plus the
// capability index derived from it. A single reader-writer lock guards
// both structures, per spec.md §5's scheduling model.
type registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	index  *capabilityIndex
	clock  Clock
	logger *zap.Logger
}

func newRegistry(clock Clock, logger *zap.Logger) *registry {
	return &registry{
		agents: make(map[string]*Agent),
		index:  newCapabilityIndex(),
		clock:  clock,
		logger: logger.With(zap.String("component", "registry")),
	}
}

// upsert validates, normalizes, and merges agent into the registry,
// preserving LastHeartbeat when the caller doesn't supply one (zero
// value). Returns InvalidInput on malformed records.
func (r *registry) upsert(agent Agent) (Agent, error) {
	if agent.ID == "" {
		return Agent{}, NewError(ErrInvalidInput, "agent id must not be empty")
	}
	if math.IsNaN(agent.LoadAvg) || math.IsInf(agent.LoadAvg, 0) {
		return Agent{}, NewError(ErrInvalidInput, "loadAvg must be finite").WithAgentID(agent.ID)
	}
	if agent.Capabilities == nil {
		agent.Capabilities = []string{}
	}
	switch agent.Health {
	case "":
		agent.Health = HealthActive
	case HealthActive, HealthDegraded, HealthOffline:
	default:
		return Agent{}, NewError(ErrInvalidInput, "health must be active, degraded, or offline").WithAgentID(agent.ID)
	}

	agent.Capabilities = normalizeCapabilities(agent.Capabilities)
	agent.LoadAvg = clampLoad(agent.LoadAvg)

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.agents[agent.ID]
	if exists {
		if agent.LastHeartbeat.IsZero() {
			agent.LastHeartbeat = existing.LastHeartbeat
		}
		r.index.update(agent.ID, existing.Capabilities, agent.Capabilities)
	} else {
		if agent.LastHeartbeat.IsZero() {
			agent.LastHeartbeat = r.clock.Now()
		}
		r.index.add(agent.ID, agent.Capabilities)
	}

	stored := agent
	r.agents[agent.ID] = &stored
	return stored.clone(), nil
}

// remove deletes id from both structures, returning whether it existed.
func (r *registry) remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.agents[id]
	if !ok {
		return false
	}
	r.index.remove(id, existing.Capabilities)
	delete(r.agents, id)
	return true
}

// heartbeat refreshes LastHeartbeat and, if supplied, Health/LoadAvg. A
// no-op for unknown ids.
func (r *registry) heartbeat(id string, update HeartbeatUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, ok := r.agents[id]
	if !ok {
		return
	}

	agent.LastHeartbeat = r.clock.Now()
	if update.Health != nil {
		agent.Health = *update.Health
	}
	if update.LoadAvg != nil {
		agent.LoadAvg = clampLoad(*update.LoadAvg)
	}
}

// list returns agents matching filter, sorted by id, as an independent
// snapshot.
func (r *registry) list(filter ListFilter) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var candidateIDs map[string]struct{}
	if len(filter.Capabilities) > 0 {
		candidateIDs = r.candidateIDsLocked(filter.Capabilities)
	}

	out := make([]Agent, 0, len(r.agents))
	for id, agent := range r.agents {
		if candidateIDs != nil {
			if _, ok := candidateIDs[id]; !ok {
				continue
			}
		}
		if filter.Health != nil && agent.Health != *filter.Health {
			continue
		}
		out = append(out, agent.clone())
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// candidateIDsLocked returns the intersection of agent ids advertising every
// capability in caps. Caller must hold r.mu.
func (r *registry) candidateIDsLocked(caps []string) map[string]struct{} {
	if len(caps) == 0 {
		return nil
	}
	result := make(map[string]struct{})
	for id := range r.index.ids(caps[0]) {
		result[id] = struct{}{}
	}
	for _, c := range caps[1:] {
		set := r.index.ids(c)
		for id := range result {
			if _, ok := set[id]; !ok {
				delete(result, id)
			}
		}
	}
	return result
}

// capabilityCount returns the number of distinct capabilities indexed.
func (r *registry) capabilityCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.index.count()
}

// snapshotFor returns the candidate set for capability c, optionally
// filtered to active health, sorted by id. Used by Selector and Quorum
// Engine, which both need a consistent read of Registry+Index.
func (r *registry) snapshotFor(capability string, requireHealthy bool) []Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.index.ids(capability)
	out := make([]Agent, 0, len(ids))
	for id := range ids {
		agent := r.agents[id]
		if agent == nil {
			continue
		}
		if requireHealthy && agent.Health != HealthActive {
			continue
		}
		out = append(out, agent.clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// applyDispatchFeedback applies the Dispatcher/Quorum success or failure
// feedback rule (spec.md §4.4 steps 5/7, §4.5 step 5) to a single agent.
// No-op for unknown ids; the caller (Dispatcher/Quorum) has already
// checked cancellation before calling this.
func (r *registry) applyDispatchFeedback(id string, ok bool, successDecay float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	agent, exists := r.agents[id]
	if !exists {
		return
	}

	if ok {
		agent.LoadAvg = clampLoad(agent.LoadAvg * successDecay)
		return
	}

	agent.LoadAvg = clampLoad(agent.LoadAvg + dispatchFailurePenalty)
	if agent.Health == HealthActive {
		agent.Health = HealthDegraded
	}
}

// healthTickStats summarizes one Health Monitor tick for metrics.
type healthTickStats struct {
	healthCounts map[Health]int
	loadAvgs     []float64
}

// tick is invoked by the Health Monitor once per interval, under the same
// write lock as every other mutation so List/Select never observe a
// partially-updated agent (spec.md §4.6). It ages out stale heartbeats and
// applies gentle load decay to every agent in one atomic pass.
func (r *registry) tick(now time.Time, offlineThreshold time.Duration, decayMultiplier, decayAdditive float64) healthTickStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := healthTickStats{
		healthCounts: make(map[Health]int, 3),
		loadAvgs:     make([]float64, 0, len(r.agents)),
	}

	for _, agent := range r.agents {
		if agent.Health != HealthOffline && now.Sub(agent.LastHeartbeat) > offlineThreshold {
			agent.Health = HealthOffline
		}
		agent.LoadAvg = math.Max(0, agent.LoadAvg*decayMultiplier-decayAdditive)

		stats.healthCounts[agent.Health]++
		stats.loadAvgs = append(stats.loadAvgs, agent.LoadAvg)
	}

	return stats
}

func normalizeCapabilities(caps []string) []string {
	set := toSet(caps)
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}
