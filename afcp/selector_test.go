package afcp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/dkossnick/hearthctl/afcp/afcptest"
)

func newTestSelector(t *testing.T) (*selector, *registry) {
	t.Helper()
	clock := afcptest.NewFakeClock(time.Now())
	reg := newRegistry(clock, zap.NewNop())
	return newSelector(reg), reg
}

func TestSelector_EmptyCandidateSetReturnsFalse(t *testing.T) {
	sel, _ := newTestSelector(t)
	_, ok := sel.selectAgent("summarize", DefaultRouteOptions())
	assert.False(t, ok)
}

func TestSelector_PicksLeastLoadedByDefault(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}, LoadAvg: 0.9})
	mustUpsert(t, reg, Agent{ID: "a2", Capabilities: []string{"x"}, LoadAvg: 0.1})

	agent, ok := sel.selectAgent("x", DefaultRouteOptions())
	require.True(t, ok)
	assert.Equal(t, "a2", agent.ID)
}

func TestSelector_TiesBreakByAscendingID(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "b", Capabilities: []string{"x"}, LoadAvg: 0.5})
	mustUpsert(t, reg, Agent{ID: "a", Capabilities: []string{"x"}, LoadAvg: 0.5})

	agent, ok := sel.selectAgent("x", DefaultRouteOptions())
	require.True(t, ok)
	assert.Equal(t, "a", agent.ID)
}

func TestSelector_StickySessionIsDeterministic(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}})
	mustUpsert(t, reg, Agent{ID: "a2", Capabilities: []string{"x"}})
	mustUpsert(t, reg, Agent{ID: "a3", Capabilities: []string{"x"}})

	opts := DefaultRouteOptions()
	opts.StickySessionKey = "session-42"

	first, ok := sel.selectAgent("x", opts)
	require.True(t, ok)
	for i := 0; i < 10; i++ {
		again, ok := sel.selectAgent("x", opts)
		require.True(t, ok)
		assert.Equal(t, first.ID, again.ID, "the same sticky key must always route to the same agent")
	}
}

func TestSelector_StickySessionIgnoresPreferenceAndLoad(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}, LoadAvg: 0.0})
	mustUpsert(t, reg, Agent{ID: "a2", Capabilities: []string{"x"}, LoadAvg: 0.9})

	opts := DefaultRouteOptions()
	opts.StickySessionKey = "k"
	opts.PreferAgents = []string{"a1"}
	agent, ok := sel.selectAgent("x", opts)
	require.True(t, ok)
	idx := int(stableHash("k") % 2)
	candidates := []string{"a1", "a2"}
	assert.Equal(t, candidates[idx], agent.ID)
}

func TestSelector_PreferAgentsNarrowsCandidates(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}, LoadAvg: 0.0})
	mustUpsert(t, reg, Agent{ID: "a2", Capabilities: []string{"x"}, LoadAvg: 0.9})

	opts := DefaultRouteOptions()
	opts.PreferAgents = []string{"a2"}

	agent, ok := sel.selectAgent("x", opts)
	require.True(t, ok)
	assert.Equal(t, "a2", agent.ID, "preference list should win over lower load elsewhere")
}

func TestSelector_PreferAgentsFallsBackWhenNoneMatch(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}, LoadAvg: 0.1})

	opts := DefaultRouteOptions()
	opts.PreferAgents = []string{"does-not-exist"}

	agent, ok := sel.selectAgent("x", opts)
	require.True(t, ok)
	assert.Equal(t, "a1", agent.ID)
}

func TestSelector_RequireHealthyExcludesDegraded(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}, Health: HealthDegraded})

	opts := DefaultRouteOptions()
	_, ok := sel.selectAgent("x", opts)
	assert.False(t, ok)

	allowUnhealthy := false
	opts.RequireHealthy = &allowUnhealthy
	agent, ok := sel.selectAgent("x", opts)
	require.True(t, ok)
	assert.Equal(t, "a1", agent.ID)
}

// TestSelector_ZeroValueRouteOptionsDefaultsToRequireHealthy asserts that a
// caller who builds RouteOptions{} directly (never touching RequireHealthy)
// still gets the spec's documented default of true, not the bool zero value.
func TestSelector_ZeroValueRouteOptionsDefaultsToRequireHealthy(t *testing.T) {
	sel, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}, Health: HealthDegraded})

	_, ok := sel.selectAgent("x", RouteOptions{})
	assert.False(t, ok, "a zero-value RouteOptions must still require healthy agents")
}

// TestSelector_CandidatesAreSortedByID asserts snapshotFor's documented
// contract (selector.go relies on candidates already being sorted by id
// rather than re-sorting itself before tie-breaking).
func TestSelector_CandidatesAreSortedByID(t *testing.T) {
	_, reg := newTestSelector(t)
	mustUpsert(t, reg, Agent{ID: "c3", Capabilities: []string{"x"}})
	mustUpsert(t, reg, Agent{ID: "a1", Capabilities: []string{"x"}})
	mustUpsert(t, reg, Agent{ID: "b2", Capabilities: []string{"x"}})

	candidates := reg.snapshotFor("x", true)
	ids := make([]string, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
	}
	assert.Equal(t, sortedIDs(candidates), ids, "snapshotFor must return candidates already sorted by id")
}

// TestProperty_Selector_StickyKeyAlwaysResolvesWithinCandidateSet checks
// that for any non-empty candidate set and any key, the sticky index never
// goes out of range and always names a real candidate.
func TestProperty_Selector_StickyKeyAlwaysResolvesWithinCandidateSet(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		sel, reg := newTestSelector(t)
		n := rapid.IntRange(1, 12).Draw(rt, "numAgents")
		ids := make(map[string]struct{}, n)
		for i := 0; i < n; i++ {
			id := rapid.StringMatching(`[a-z][a-z0-9]{0,6}`).Draw(rt, "id")
			if _, dup := ids[id]; dup {
				continue
			}
			ids[id] = struct{}{}
			mustUpsert(t, reg, Agent{ID: id, Capabilities: []string{"x"}})
		}
		if len(ids) == 0 {
			return
		}

		key := rapid.String().Draw(rt, "stickyKey")
		opts := DefaultRouteOptions()
		opts.StickySessionKey = key

		agent, ok := sel.selectAgent("x", opts)
		require.True(t, ok)
		_, known := ids[agent.ID]
		assert.True(t, known, "sticky selection must resolve to a real candidate")
	})
}
