package afcp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/dkossnick/hearthctl/afcp/afcptest"
)

func newTestAdmission(opts admissionOptions, now time.Time) (*admissionController, *afcptest.FakeClock) {
	clock := afcptest.NewFakeClock(now)
	return newAdmissionController(opts, clock), clock
}

func TestAdmission_PeekUnobservedClientDoesNotCreateRecord(t *testing.T) {
	ac, _ := newTestAdmission(admissionOptions{MaxRequests: 5, Burst: 5, WindowLength: time.Minute}, time.Now())
	decision := ac.peek("new-client")
	assert.True(t, decision.Allowed)
	assert.Equal(t, 5, decision.Remaining)

	shard := ac.shardFor("new-client")
	shard.mu.Lock()
	_, exists := shard.clients["new-client"]
	shard.mu.Unlock()
	assert.False(t, exists)
}

func TestAdmission_CheckConsumesRequestAndToken(t *testing.T) {
	ac, _ := newTestAdmission(admissionOptions{MaxRequests: 2, Burst: 2, WindowLength: time.Minute}, time.Now())
	first := ac.check("c1")
	assert.True(t, first.Allowed)
	assert.Equal(t, 1, first.Remaining)

	second := ac.check("c1")
	assert.True(t, second.Allowed)
	assert.Equal(t, 0, second.Remaining)
}

func TestAdmission_CheckRejectsWhenMaxRequestsExhausted(t *testing.T) {
	ac, _ := newTestAdmission(admissionOptions{MaxRequests: 1, Burst: 10, WindowLength: time.Minute}, time.Now())
	require.True(t, ac.check("c1").Allowed)
	third := ac.check("c1")
	assert.False(t, third.Allowed)
	assert.Greater(t, third.RetryAfter, time.Duration(0))
}

func TestAdmission_CheckRejectsWhenTokensExhausted(t *testing.T) {
	ac, _ := newTestAdmission(admissionOptions{MaxRequests: 100, Burst: 1, WindowLength: time.Minute}, time.Now())
	require.True(t, ac.check("c1").Allowed)
	decision := ac.check("c1")
	assert.False(t, decision.Allowed)
}

func TestAdmission_TokensRefillOverTime(t *testing.T) {
	start := time.Now()
	ac, clock := newTestAdmission(admissionOptions{MaxRequests: 100, Burst: 2, WindowLength: 10 * time.Second}, start)

	require.True(t, ac.check("c1").Allowed)
	require.True(t, ac.check("c1").Allowed)
	assert.False(t, ac.check("c1").Allowed, "both burst tokens consumed")

	clock.Advance(5 * time.Second)
	assert.True(t, ac.check("c1").Allowed, "half the window should refill at least one token")
}

func TestAdmission_WindowResetsRequestCount(t *testing.T) {
	start := time.Now()
	ac, clock := newTestAdmission(admissionOptions{MaxRequests: 1, Burst: 100, WindowLength: time.Minute}, start)

	require.True(t, ac.check("c1").Allowed)
	assert.False(t, ac.check("c1").Allowed)

	clock.Advance(time.Minute + time.Second)
	assert.True(t, ac.check("c1").Allowed, "window should have reset")
}

func TestAdmission_ResetRemovesClientRecord(t *testing.T) {
	ac, _ := newTestAdmission(admissionOptions{MaxRequests: 1, Burst: 1, WindowLength: time.Minute}, time.Now())
	require.True(t, ac.check("c1").Allowed)
	require.False(t, ac.check("c1").Allowed)
	ac.reset("c1")
	assert.True(t, ac.check("c1").Allowed, "reset should clear prior consumption")
}

func TestAdmission_GCPurgesStaleRecords(t *testing.T) {
	start := time.Now()
	ac, clock := newTestAdmission(admissionOptions{MaxRequests: 1, Burst: 1, WindowLength: time.Minute}, start)
	ac.check("c1")

	clock.Advance(3 * time.Minute)
	ac.gc(clock.Now())

	shard := ac.shardFor("c1")
	shard.mu.Lock()
	_, exists := shard.clients["c1"]
	shard.mu.Unlock()
	assert.False(t, exists)
}

func TestAdmission_StartGCPurgesStaleRecordsOnTicker(t *testing.T) {
	start := time.Now()
	ac, clock := newTestAdmission(admissionOptions{MaxRequests: 1, Burst: 1, WindowLength: time.Minute}, start)
	ac.check("c1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ac.startGC(ctx)
	defer ac.stopGC()

	clock.Advance(3 * time.Minute)
	require.Eventually(t, func() bool {
		shard := ac.shardFor("c1")
		shard.mu.Lock()
		defer shard.mu.Unlock()
		_, exists := shard.clients["c1"]
		return !exists
	}, time.Second, time.Millisecond, "GC ticker should purge the stale client record")
}

func TestAdmission_StopGCIsIdempotent(t *testing.T) {
	ac, _ := newTestAdmission(admissionOptions{MaxRequests: 1, Burst: 1, WindowLength: time.Minute}, time.Now())
	ac.startGC(context.Background())
	assert.NotPanics(t, func() {
		ac.stopGC()
		ac.stopGC()
	})
}

func TestAdmission_ClientsAreIsolated(t *testing.T) {
	ac, _ := newTestAdmission(admissionOptions{MaxRequests: 1, Burst: 1, WindowLength: time.Minute}, time.Now())
	require.True(t, ac.check("c1").Allowed)
	assert.False(t, ac.check("c1").Allowed)
	assert.True(t, ac.check("c2").Allowed, "a separate client must not be affected by c1's consumption")
}

// TestProperty_Admission_NeverAllowsMoreThanMaxRequestsPerWindow checks that
// across an arbitrary sequence of Check calls within one window, the
// allowed count never exceeds MaxRequests.
func TestProperty_Admission_NeverAllowsMoreThanMaxRequestsPerWindow(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		maxRequests := rapid.IntRange(1, 20).Draw(rt, "maxRequests")
		burst := rapid.IntRange(maxRequests, maxRequests+20).Draw(rt, "burst")
		start := time.Now()
		ac, _ := newTestAdmission(admissionOptions{
			MaxRequests:  maxRequests,
			Burst:        burst,
			WindowLength: time.Minute,
		}, start)

		allowed := 0
		calls := rapid.IntRange(1, 50).Draw(rt, "calls")
		for i := 0; i < calls; i++ {
			if ac.check("c1").Allowed {
				allowed++
			}
		}
		assert.LessOrEqual(t, allowed, maxRequests, "admitted requests must never exceed MaxRequests within one window")
	})
}
