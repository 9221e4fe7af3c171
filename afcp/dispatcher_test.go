package afcp

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dkossnick/hearthctl/afcp/afcptest"
)

func newTestDispatcher(t *testing.T, transport *afcptest.FakeTransport) (*dispatcher, *registry, *afcptest.FakeClock) {
	t.Helper()
	clock := afcptest.NewFakeClock(time.Now())
	reg := newRegistry(clock, zap.NewNop())
	sel := newSelector(reg)
	admission := newAdmissionController(admissionOptions{MaxRequests: 100, Burst: 100, WindowLength: time.Minute}, clock)
	metrics := newMetricsExporter(nil, zap.NewNop())
	return newDispatcher(reg, sel, admission, transport, metrics, zap.NewNop()), reg, clock
}

func TestDispatcher_NoAgentAvailable(t *testing.T) {
	transport := afcptest.NewFakeTransport()
	d, _, _ := newTestDispatcher(t, transport)

	_, err := d.dispatch(context.Background(), "summarize", nil, DefaultRouteOptions(), "client-1")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrNoAgentAvailable))
}

func TestDispatcher_SuccessDecaysLoadAndReturnsPayload(t *testing.T) {
	transport := afcptest.NewFakeTransport().WithResponse("ep1", "summarize", []byte("ok"))
	d, reg, _ := newTestDispatcher(t, transport)
	mustUpsert(t, reg, Agent{ID: "a1", Endpoint: "ep1", Capabilities: []string{"summarize"}, LoadAvg: 0.5})

	result, err := d.dispatch(context.Background(), "summarize", []byte("payload"), DefaultRouteOptions(), "client-1")
	require.NoError(t, err)
	assert.Equal(t, []byte("ok"), result)

	got := reg.list(ListFilter{})
	require.Len(t, got, 1)
	assert.InDelta(t, 0.5*dispatchSuccessDecay, got[0].LoadAvg, 1e-9)
}

func TestDispatcher_TransportFailureDegradesAgent(t *testing.T) {
	transport := afcptest.NewFakeTransport().WithError("ep1", "summarize", errors.New("boom"))
	d, reg, _ := newTestDispatcher(t, transport)
	mustUpsert(t, reg, Agent{ID: "a1", Endpoint: "ep1", Capabilities: []string{"summarize"}, Health: HealthActive})

	_, err := d.dispatch(context.Background(), "summarize", nil, DefaultRouteOptions(), "client-1")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrAgentError))

	got := reg.list(ListFilter{})
	require.Len(t, got, 1)
	assert.Equal(t, HealthDegraded, got[0].Health)
}

func TestDispatcher_TimeoutAppliesFailureFeedback(t *testing.T) {
	transport := afcptest.NewFakeTransport().WithDelay("ep1", "summarize", time.Hour, nil, nil)
	d, reg, _ := newTestDispatcher(t, transport)
	mustUpsert(t, reg, Agent{ID: "a1", Endpoint: "ep1", Capabilities: []string{"summarize"}})

	opts := DefaultRouteOptions()
	opts.Timeout = time.Millisecond

	_, err := d.dispatch(context.Background(), "summarize", nil, opts, "client-1")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrTimeout))

	got := reg.list(ListFilter{})
	assert.Equal(t, HealthDegraded, got[0].Health)
}

func TestDispatcher_CallerCancellationSkipsFeedback(t *testing.T) {
	transport := afcptest.NewFakeTransport().WithDelay("ep1", "summarize", time.Hour, nil, nil)
	d, reg, _ := newTestDispatcher(t, transport)
	mustUpsert(t, reg, Agent{ID: "a1", Endpoint: "ep1", Capabilities: []string{"summarize"}, LoadAvg: 0.3})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(5 * time.Millisecond)
		cancel()
	}()

	opts := DefaultRouteOptions()
	opts.Timeout = time.Hour

	_, err := d.dispatch(ctx, "summarize", nil, opts, "client-1")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrCancelled))

	got := reg.list(ListFilter{})
	assert.Equal(t, 0.3, got[0].LoadAvg, "cancellation must skip feedback mutation entirely")
	assert.Equal(t, HealthActive, got[0].Health)
}

func TestDispatcher_RateLimitedBeforeSelection(t *testing.T) {
	transport := afcptest.NewFakeTransport().WithResponse("ep1", "x", []byte("ok"))
	clock := afcptest.NewFakeClock(time.Now())
	reg := newRegistry(clock, zap.NewNop())
	sel := newSelector(reg)
	admission := newAdmissionController(admissionOptions{MaxRequests: 1, Burst: 1, WindowLength: time.Minute}, clock)
	metrics := newMetricsExporter(nil, zap.NewNop())
	d := newDispatcher(reg, sel, admission, transport, metrics, zap.NewNop())
	mustUpsert(t, reg, Agent{ID: "a1", Endpoint: "ep1", Capabilities: []string{"x"}})

	_, err := d.dispatch(context.Background(), "x", nil, DefaultRouteOptions(), "client-1")
	require.NoError(t, err)

	_, err = d.dispatch(context.Background(), "x", nil, DefaultRouteOptions(), "client-1")
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrRateLimited))
}

func TestDispatcher_AnonymousClientIDWhenEmpty(t *testing.T) {
	transport := afcptest.NewFakeTransport().WithResponse("ep1", "x", []byte("ok"))
	d, reg, _ := newTestDispatcher(t, transport)
	mustUpsert(t, reg, Agent{ID: "a1", Endpoint: "ep1", Capabilities: []string{"x"}})

	_, err := d.dispatch(context.Background(), "x", nil, DefaultRouteOptions(), "")
	require.NoError(t, err)
}
