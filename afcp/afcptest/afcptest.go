// Package afcptest provides fakes for the afcp package's Clock and
// Transport abstractions, plus small agent-fixture builders, so afcp's own
// tests (and any caller's) can drive time and transport outcomes
// deterministically instead of sleeping or hitting the network.
package afcptest

import (
	"context"
	"sync"
	"time"

	"github.com/dkossnick/hearthctl/afcp"
)

// FakeClock is a manually-advanced afcp.Clock. The zero value is not
// usable; construct with NewFakeClock.
type FakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

// NewFakeClock returns a FakeClock starting at start.
func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

// Now returns the clock's current simulated time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d, firing any ticker whose interval
// has elapsed at least once. Tickers that would fire multiple times within
// d only fire once per Advance call, mirroring time.Ticker's "at most one
// pending tick" behavior for a slow consumer.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.maybeFire(now)
	}
}

// NewTicker implements afcp.Clock.
func (c *FakeClock) NewTicker(interval time.Duration) afcp.Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{
		interval: interval,
		last:     c.now,
		ch:       make(chan time.Time, 1),
	}
	c.tickers = append(c.tickers, t)
	return t
}

// fakeTicker implements afcp.Ticker (C() <-chan time.Time, Stop()).
type fakeTicker struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	ch       chan time.Time
	stopped  bool
}

func (t *fakeTicker) maybeFire(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped || t.interval <= 0 {
		return
	}
	if now.Sub(t.last) < t.interval {
		return
	}
	t.last = now
	select {
	case t.ch <- now:
	default:
	}
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }

func (t *fakeTicker) Stop() {
	t.mu.Lock()
	t.stopped = true
	t.mu.Unlock()
}

// FakeTransport is a scriptable afcp.Transport: responses are registered
// per endpoint+capability pair, with optional delay and error injection.
// Concurrency-safe; every Send call is recorded for later assertion.
type FakeTransport struct {
	mu        sync.Mutex
	responses map[string]fakeResponse
	calls     []FakeCall
	defaultFn func(ctx context.Context, endpoint, capability string, payload []byte) ([]byte, error)
}

type fakeResponse struct {
	value []byte
	err   error
	delay time.Duration
}

// FakeCall records one observed Send invocation.
type FakeCall struct {
	Endpoint   string
	Capability string
	Payload    []byte
}

// NewFakeTransport returns an empty FakeTransport; unscripted endpoints
// return a *afcp.TransportError of kind "refused" unless a default is set
// via WithDefault.
func NewFakeTransport() *FakeTransport {
	return &FakeTransport{responses: make(map[string]fakeResponse)}
}

// WithResponse scripts endpoint+capability to return value, nil.
func (f *FakeTransport) WithResponse(endpoint, capability string, value []byte) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key(endpoint, capability)] = fakeResponse{value: value}
	return f
}

// WithError scripts endpoint+capability to return err.
func (f *FakeTransport) WithError(endpoint, capability string, err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key(endpoint, capability)] = fakeResponse{err: err}
	return f
}

// WithDelay scripts endpoint+capability's Send to block for d before
// returning (or until ctx is done, whichever is first).
func (f *FakeTransport) WithDelay(endpoint, capability string, d time.Duration, value []byte, err error) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[key(endpoint, capability)] = fakeResponse{value: value, err: err, delay: d}
	return f
}

// WithDefault installs a fallback used for any endpoint+capability with no
// explicit script.
func (f *FakeTransport) WithDefault(fn func(ctx context.Context, endpoint, capability string, payload []byte) ([]byte, error)) *FakeTransport {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultFn = fn
	return f
}

// Send implements afcp.Transport.
func (f *FakeTransport) Send(ctx context.Context, endpoint, capability string, payload []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls = append(f.calls, FakeCall{Endpoint: endpoint, Capability: capability, Payload: payload})
	resp, ok := f.responses[key(endpoint, capability)]
	fallback := f.defaultFn
	f.mu.Unlock()

	if !ok {
		if fallback != nil {
			return fallback(ctx, endpoint, capability, payload)
		}
		return nil, afcp.NewTransportError(afcp.TransportRefused, "no response scripted for "+endpoint+"/"+capability)
	}

	if resp.delay > 0 {
		select {
		case <-time.After(resp.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return resp.value, resp.err
}

// Calls returns every Send invocation observed so far, in order.
func (f *FakeTransport) Calls() []FakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]FakeCall(nil), f.calls...)
}

// CallCount returns the number of Send invocations observed so far.
func (f *FakeTransport) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func key(endpoint, capability string) string { return endpoint + "\x00" + capability }

// NewAgent returns a minimal, valid afcp.Agent fixture with the given id,
// capabilities, and health active — handy for Register calls in tests.
func NewAgent(id, endpoint string, capabilities ...string) afcp.Agent {
	return afcp.Agent{
		ID:           id,
		Endpoint:     endpoint,
		Capabilities: capabilities,
		Health:       afcp.HealthActive,
	}
}
