package afcp

import (
	"context"
	"math"
	"sync"
	"time"
)

// admissionOptions parameterizes an admissionController.
type admissionOptions struct {
	WindowLength time.Duration
	MaxRequests  int
	Burst        int
}

// clientRecord is the per-client sliding-window + token-bucket state,
// spec.md §3's "Admission client record".
type clientRecord struct {
	windowStart time.Time
	requests    int
	tokens      float64
	lastRefill  time.Time
}

// admissionShard is one of the sharded locks over admission.go's client
// records, reducing contention per spec.md §5 (sharded by hashed client id).
type admissionShard struct {
	mu      sync.Mutex
	clients map[string]*clientRecord
}

const admissionShardCount = 32

// admissionController is a per-client sliding-window + token-bucket rate
// limiter, parameterized by {windowLength, maxRequests, burst}.
type admissionController struct {
	opts   admissionOptions
	clock  Clock
	shards [admissionShardCount]*admissionShard

	mu      sync.Mutex
	ticker  Ticker
	done    chan struct{}
	stopped bool
}

func newAdmissionController(opts admissionOptions, clock Clock) *admissionController {
	if opts.WindowLength <= 0 {
		opts.WindowLength = DefaultAdmissionWindowLength
	}
	if opts.MaxRequests <= 0 {
		opts.MaxRequests = DefaultAdmissionMaxRequests
	}
	if opts.Burst <= 0 {
		opts.Burst = DefaultAdmissionBurst
	}

	ac := &admissionController{opts: opts, clock: clock}
	for i := range ac.shards {
		ac.shards[i] = &admissionShard{clients: make(map[string]*clientRecord)}
	}
	return ac
}

// shardFor hashes clientId into one of the fixed shards using the same
// normative stableHash as sticky routing — this also satisfies spec.md
// §4.2 step 1's "hash clientId into an opaque key" requirement, since the
// shard-local map key is the raw id but contention is spread by hash.
func (ac *admissionController) shardFor(clientID string) *admissionShard {
	idx := stableHash(clientID) % admissionShardCount
	return ac.shards[idx]
}

// check implements spec.md §4.2's Check(clientId) semantics: refill,
// window reset, admit-or-reject, consuming state on admit.
func (ac *admissionController) check(clientID string) AdmissionDecision {
	return ac.evaluate(clientID, true)
}

// peek implements spec.md §4.2's Peek: identical semantics but never
// consumes or creates a record.
func (ac *admissionController) peek(clientID string) AdmissionDecision {
	return ac.evaluate(clientID, false)
}

func (ac *admissionController) evaluate(clientID string, consume bool) AdmissionDecision {
	shard := ac.shardFor(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := ac.clock.Now()

	rec, exists := shard.clients[clientID]
	if !exists {
		if !consume {
			// Peek on an unobserved client reports the steady state
			// without creating a record.
			return AdmissionDecision{
				Allowed:   true,
				Remaining: ac.opts.MaxRequests,
				ResetAt:   now.Add(ac.opts.WindowLength),
			}
		}
		rec = &clientRecord{
			windowStart: now,
			tokens:      float64(ac.opts.Burst),
			lastRefill:  now,
		}
		shard.clients[clientID] = rec
	}

	ac.refillLocked(rec, now)
	ac.resetWindowLocked(rec, now)

	allowed := rec.requests < ac.opts.MaxRequests && rec.tokens >= 1
	if allowed && consume {
		rec.requests++
		rec.tokens--
	}

	decision := AdmissionDecision{
		Allowed:   allowed,
		Remaining: max(0, ac.opts.MaxRequests-rec.requests),
		ResetAt:   rec.windowStart.Add(ac.opts.WindowLength),
	}
	if !allowed {
		decision.RetryAfter = ac.retryAfterLocked(rec, now)
	}
	return decision
}

// refillLocked adds tokens earned since lastRefill. Caller holds shard.mu.
func (ac *admissionController) refillLocked(rec *clientRecord, now time.Time) {
	elapsed := now.Sub(rec.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tokensToAdd := math.Floor(elapsed * float64(ac.opts.Burst) / ac.opts.WindowLength.Seconds())
	if tokensToAdd > 0 {
		rec.tokens = math.Min(float64(ac.opts.Burst), rec.tokens+tokensToAdd)
		rec.lastRefill = now
	}
}

// resetWindowLocked resets the sliding window if it has elapsed. Caller
// holds shard.mu.
func (ac *admissionController) resetWindowLocked(rec *clientRecord, now time.Time) {
	if !rec.windowStart.Add(ac.opts.WindowLength).After(now) {
		rec.requests = 0
		rec.windowStart = now
	}
}

// retryAfterLocked estimates how long until the next admit is possible:
// at least 1 second, per spec.md §4.2's fairness contract. Caller holds
// shard.mu.
func (ac *admissionController) retryAfterLocked(rec *clientRecord, now time.Time) time.Duration {
	retryAfter := time.Second

	if rec.requests >= ac.opts.MaxRequests {
		untilWindow := rec.windowStart.Add(ac.opts.WindowLength).Sub(now)
		if untilWindow > retryAfter {
			retryAfter = untilWindow
		}
	}
	if rec.tokens < 1 {
		secondsPerToken := ac.opts.WindowLength.Seconds() / float64(ac.opts.Burst)
		untilToken := time.Duration((1 - rec.tokens) * secondsPerToken * float64(time.Second))
		if untilToken > retryAfter {
			retryAfter = untilToken
		}
	}
	return retryAfter
}

// reset removes clientID's record entirely.
func (ac *admissionController) reset(clientID string) {
	shard := ac.shardFor(clientID)
	shard.mu.Lock()
	defer shard.mu.Unlock()
	delete(shard.clients, clientID)
}

// gc purges records whose windowStart is older than two window lengths,
// per spec.md §4.2. Intended to run on a timer at interval ≥ windowLength.
func (ac *admissionController) gc(now time.Time) {
	cutoff := now.Add(-2 * ac.opts.WindowLength)
	for _, shard := range ac.shards {
		shard.mu.Lock()
		for id, rec := range shard.clients {
			if rec.windowStart.Before(cutoff) {
				delete(shard.clients, id)
			}
		}
		shard.mu.Unlock()
	}
}

// startGC launches a ticker loop that calls gc on an interval equal to
// windowLength, mirroring healthMonitor's start/stop pattern. Safe to call
// once; ctx cancellation stops the loop alongside an explicit stopGC call.
func (ac *admissionController) startGC(ctx context.Context) {
	ac.mu.Lock()
	ac.done = make(chan struct{})
	ac.ticker = ac.clock.NewTicker(ac.opts.WindowLength)
	ticker := ac.ticker
	ac.mu.Unlock()

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ac.done:
				return
			case <-ticker.C():
				ac.gc(ac.clock.Now())
			}
		}
	}()
}

// stopGC halts the GC ticker loop. Safe to call once.
func (ac *admissionController) stopGC() {
	ac.mu.Lock()
	defer ac.mu.Unlock()
	if ac.stopped {
		return
	}
	ac.stopped = true
	close(ac.done)
}
