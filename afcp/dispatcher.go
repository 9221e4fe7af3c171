package afcp

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// dispatcher issues a single request via Transport with a deadline and
// folds the outcome back into Registry load/health feedback, per spec.md
// §4.4. It never retries on another agent.
type dispatcher struct {
	reg       *registry
	sel       *selector
	admission *admissionController
	transport Transport
	metrics   *metricsExporter
	logger    *zap.Logger
	tracer    trace.Tracer
}

func newDispatcher(reg *registry, sel *selector, admission *admissionController, transport Transport, metrics *metricsExporter, logger *zap.Logger) *dispatcher {
	return &dispatcher{
		reg:       reg,
		sel:       sel,
		admission: admission,
		transport: transport,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "dispatcher")),
		tracer:    otel.Tracer("hearthctl/afcp"),
	}
}

// dispatch implements Route(capability, payload, options, clientId).
func (d *dispatcher) dispatch(ctx context.Context, capability string, payload []byte, opts RouteOptions, clientID string) ([]byte, error) {
	requestID := uuid.NewString()
	ctx, span := d.tracer.Start(ctx, "afcp.dispatch",
		trace.WithAttributes(
			attribute.String("afcp.capability", capability),
			attribute.String("afcp.request_id", requestID),
		))
	defer span.End()

	if clientID == "" {
		clientID = "anonymous"
	}
	logger := d.logger.With(zap.String("request_id", requestID))

	decision := d.admission.check(clientID)
	if !decision.Allowed {
		d.metrics.recordRouteOutcome(capability, "rate_limited")
		d.metrics.recordAdmissionRejection(rejectionReason(decision))
		err := NewError(ErrRateLimited, "admission denied").WithRetryAfter(decision.RetryAfter)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	agent, ok := d.sel.selectAgent(capability, opts)
	if !ok {
		d.metrics.recordRouteOutcome(capability, "no_agent")
		err := NewError(ErrNoAgentAvailable, "no candidate agent for capability "+capability)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("afcp.agent_id", agent.ID))

	dctx, cancel := deadlineFor(ctx, opts.Timeout, DefaultRouteTimeout)
	defer cancel()

	start := d.reg.clock.Now()
	result, sendErr := d.transport.Send(dctx, agent.Endpoint, capability, payload)
	latency := d.reg.clock.Now().Sub(start)
	d.metrics.observeRouteLatency(capability, latency)

	if sendErr == nil {
		d.reg.applyDispatchFeedback(agent.ID, true, dispatchSuccessDecay)
		d.metrics.recordRouteOutcome(capability, "ok")
		return result, nil
	}

	if ctx.Err() != nil {
		// Caller cancelled, not a timeout: skip feedback mutation entirely
		// (spec.md §5 Cancellation contract).
		d.metrics.recordRouteOutcome(capability, "cancelled")
		err := NewError(ErrCancelled, "route cancelled").WithAgentID(agent.ID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	if errors.Is(dctx.Err(), context.DeadlineExceeded) {
		d.reg.applyDispatchFeedback(agent.ID, false, dispatchSuccessDecay)
		d.metrics.recordRouteOutcome(capability, "timeout")
		err := NewError(ErrTimeout, "route timed out").WithAgentID(agent.ID)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	d.reg.applyDispatchFeedback(agent.ID, false, dispatchSuccessDecay)
	d.metrics.recordRouteOutcome(capability, "agent_error")
	logger.Warn("transport call failed", zap.String("agent_id", agent.ID), zap.Error(sendErr))
	err := NewError(ErrAgentError, "transport call failed").WithAgentID(agent.ID).WithCause(sendErr)
	span.SetStatus(codes.Error, err.Error())
	return nil, err
}

func rejectionReason(decision AdmissionDecision) string {
	// Both the window and token checks can be the binding constraint; the
	// exporter only needs a coarse label, so token exhaustion (the more
	// common steady-state case) is reported unless remaining is already 0,
	// which signals the window is the binding constraint.
	if decision.Remaining == 0 {
		return "window"
	}
	return "tokens"
}
