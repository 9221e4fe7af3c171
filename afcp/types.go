package afcp

import "time"

// Health is an agent's tri-state liveness label.
type Health string

const (
	// HealthActive means the agent is eligible for routing.
	HealthActive Health = "active"
	// HealthDegraded means the agent recently failed a dispatch but has
	// not aged out yet.
	HealthDegraded Health = "degraded"
	// HealthOffline means the agent's heartbeat is stale.
	HealthOffline Health = "offline"
)

// Agent is a remote worker advertising one or more capabilities.
type Agent struct {
	// ID is an opaque, unique, stable string.
	ID string
	// Endpoint is an opaque address handed to the Transport; AFCP never
	// parses it.
	Endpoint string
	// Capabilities is the set of capability strings this agent can serve.
	// Normalized (sorted, deduped) by Registry.Upsert.
	Capabilities []string
	// Health is this agent's current liveness.
	Health Health
	// LastHeartbeat is the monotonic timestamp of the last Register or
	// Heartbeat call.
	LastHeartbeat time.Time
	// LoadAvg is a scalar in [0,1] summarizing recent work pressure.
	LoadAvg float64
}

// clone returns a deep-enough copy of a for safe external return (List
// snapshots must be independent of later mutation).
func (a Agent) clone() Agent {
	caps := make([]string, len(a.Capabilities))
	copy(caps, a.Capabilities)
	a.Capabilities = caps
	return a
}

// HeartbeatUpdate is the small tagged update record a Heartbeat call may
// carry. Both fields are optional; supplying neither just refreshes
// LastHeartbeat.
type HeartbeatUpdate struct {
	Health  *Health
	LoadAvg *float64
}

// ListFilter constrains Registry.List to agents matching every clause.
type ListFilter struct {
	// Capabilities, if non-empty, requires the agent to have all of these.
	Capabilities []string
	// Health, if non-nil, requires an exact health match.
	Health *Health
}

// RouteOptions configures a single Route call.
type RouteOptions struct {
	// RequireHealthy filters the candidate set to active agents. A nil
	// value means "unset" and Route defaults it to true before dispatch,
	// same as Timeout; callers that want offline/degraded candidates set
	// it to a non-nil false explicitly.
	RequireHealthy *bool
	// PreferAgents is an ordered set of ids the Selector prefers before
	// falling back to least-load.
	PreferAgents []string
	// StickySessionKey, if non-empty, pins selection to stableHash(key) mod N.
	StickySessionKey string
	// Timeout bounds the Dispatch call; zero means DefaultRouteTimeout.
	Timeout time.Duration
}

// DefaultRouteOptions returns the spec's default options: RequireHealthy
// true, no preference list, no sticky key, DefaultRouteTimeout.
func DefaultRouteOptions() RouteOptions {
	requireHealthy := true
	return RouteOptions{RequireHealthy: &requireHealthy, Timeout: DefaultRouteTimeout}
}

// ConsensusOptions configures a single Consensus call.
type ConsensusOptions struct {
	// Quorum is the fraction in [0,1] of candidates that must succeed;
	// decided = (okCount/N) > Quorum, strict inequality. Zero means
	// DefaultQuorum (0.5).
	Quorum float64
	// Timeout bounds the whole fan-out; zero means DefaultConsensusTimeout.
	Timeout time.Duration
}

// DefaultConsensusOptions returns Quorum 0.5, DefaultConsensusTimeout.
func DefaultConsensusOptions() ConsensusOptions {
	return ConsensusOptions{Quorum: DefaultQuorum, Timeout: DefaultConsensusTimeout}
}

// Decision is one candidate agent's terminal outcome in a Consensus call.
type Decision struct {
	AgentID string
	OK      bool
	Value   []byte
	Err     error
}

// ConsensusResult is the return value of Consensus: whether strict-majority
// was reached, and every candidate's terminal decision in agent-id order.
// DecisionID is an opaque identifier for correlating this round's decisions
// across logs and traces.
type ConsensusResult struct {
	DecisionID string
	Decided    bool
	Decisions  []Decision
}

// AdmissionDecision is the return value of Admission.Check/Peek.
type AdmissionDecision struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
}

// Default tuning constants, per spec.md §6's Configuration table.
const (
	DefaultRouteTimeout     = 30 * time.Second
	DefaultConsensusTimeout = 20 * time.Second
	DefaultQuorum           = 0.5

	DefaultAdmissionWindowLength = 60 * time.Second
	DefaultAdmissionMaxRequests  = 100
	DefaultAdmissionBurst        = 20

	DefaultHealthTickInterval     = 10 * time.Second
	DefaultHealthOfflineThreshold = 60 * time.Second
	DefaultLoadDecayMultiplier    = 0.98
	DefaultLoadDecayAdditive      = 0.01

	// dispatch feedback constants, spec.md §4.4/§4.5.
	dispatchSuccessDecay   = 0.9
	dispatchFailurePenalty = 0.2
	consensusSuccessDecay  = 0.95
)

// clampLoad clamps v into [0, 1].
func clampLoad(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
