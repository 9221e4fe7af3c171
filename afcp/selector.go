package afcp

import "sort"

// selector implements spec.md §4.3's routing policy: pure, side-effect
// free, consulted only by Dispatcher. It never talks to Admission.
type selector struct {
	reg *registry
}

func newSelector(reg *registry) *selector {
	return &selector{reg: reg}
}

// selectAgent picks one agent for capability under opts, or returns (Agent{},
// false) when the candidate set is empty.
func (s *selector) selectAgent(capability string, opts RouteOptions) (Agent, bool) {
	candidates := s.reg.snapshotFor(capability, opts.RequireHealthy == nil || *opts.RequireHealthy)
	if len(candidates) == 0 {
		return Agent{}, false
	}

	// candidates is already sorted by id (snapshotFor's contract).

	if opts.StickySessionKey != "" {
		idx := int(stableHash(opts.StickySessionKey) % uint32(len(candidates)))
		return candidates[idx], true
	}

	if len(opts.PreferAgents) > 0 {
		if agent, ok := s.pickPreferred(candidates, opts.PreferAgents); ok {
			return agent, true
		}
	}

	return leastLoaded(candidates), true
}

// pickPreferred returns the lowest-loadAvg candidate that is also in
// preferAgents, tie-broken by ascending id.
func (s *selector) pickPreferred(candidates []Agent, preferAgents []string) (Agent, bool) {
	prefer := toSet(preferAgents)
	var preferred []Agent
	for _, c := range candidates {
		if _, ok := prefer[c.ID]; ok {
			preferred = append(preferred, c)
		}
	}
	if len(preferred) == 0 {
		return Agent{}, false
	}
	return leastLoaded(preferred), true
}

// leastLoaded returns the candidate with the lowest LoadAvg, breaking ties
// by ascending id. candidates must be non-empty.
func leastLoaded(candidates []Agent) Agent {
	best := candidates[0]
	for _, c := range candidates[1:] {
		if c.LoadAvg < best.LoadAvg || (c.LoadAvg == best.LoadAvg && c.ID < best.ID) {
			best = c
		}
	}
	return best
}

// sortedIDs is a small helper used by tests to assert candidate ordering.
func sortedIDs(agents []Agent) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	sort.Strings(ids)
	return ids
}
