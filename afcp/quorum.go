package afcp

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// quorumEngine fans a proposal out to every healthy agent advertising a
// capability, collects terminal per-agent outcomes under one shared
// deadline, and decides by strict-majority vote. Per spec.md §4.5.
type quorumEngine struct {
	reg       *registry
	transport Transport
	metrics   *metricsExporter
	logger    *zap.Logger
	tracer    trace.Tracer
}

func newQuorumEngine(reg *registry, transport Transport, metrics *metricsExporter, logger *zap.Logger) *quorumEngine {
	return &quorumEngine{
		reg:       reg,
		transport: transport,
		metrics:   metrics,
		logger:    logger.With(zap.String("component", "quorum")),
		tracer:    otel.Tracer("hearthctl/afcp"),
	}
}

// consensus implements Consensus(capability, proposal, opts).
func (q *quorumEngine) consensus(ctx context.Context, capability string, proposal []byte, opts ConsensusOptions) (ConsensusResult, error) {
	decisionID := uuid.NewString()
	ctx, span := q.tracer.Start(ctx, "afcp.consensus",
		trace.WithAttributes(
			attribute.String("afcp.capability", capability),
			attribute.String("afcp.decision_id", decisionID),
		))
	defer span.End()

	quorum := opts.Quorum
	if quorum == 0 {
		quorum = DefaultQuorum
	}

	candidates := q.reg.snapshotFor(capability, true)
	if len(candidates) == 0 {
		q.metrics.recordConsensusOutcome(capability, false)
		return ConsensusResult{DecisionID: decisionID, Decided: false, Decisions: nil}, nil
	}

	cctx, cancel := deadlineFor(ctx, opts.Timeout, DefaultConsensusTimeout)
	defer cancel()

	decisions := make([]Decision, len(candidates))
	var mu sync.Mutex
	var okCount int

	g, gctx := errgroup.WithContext(cctx)
	for i, candidate := range candidates {
		i, candidate := i, candidate
		g.Go(func() error {
			_, childSpan := q.tracer.Start(gctx, "afcp.consensus.candidate",
				trace.WithAttributes(
					attribute.String("afcp.agent_id", candidate.ID),
					attribute.String("afcp.capability", capability),
				))
			defer childSpan.End()

			value, sendErr := q.transport.Send(cctx, candidate.Endpoint, capability, proposal)

			decision := Decision{AgentID: candidate.ID, OK: sendErr == nil}
			if sendErr == nil {
				decision.Value = value
			} else {
				decision.Err = sendErr
			}

			// cctx is shared across all candidates; only skip feedback
			// mutation if the *caller's* ctx was cancelled, not merely the
			// shared fan-out deadline (which is expected to elapse for
			// slow candidates and is handled as a per-candidate failure).
			if ctx.Err() == nil {
				q.reg.applyDispatchFeedback(candidate.ID, sendErr == nil, consensusSuccessDecay)
			}

			mu.Lock()
			decisions[i] = decision
			if decision.OK {
				okCount++
			}
			mu.Unlock()

			return nil
		})
	}

	// errgroup.Wait never returns an error here: every goroutine always
	// returns nil so that one candidate's transport failure does not
	// cancel its siblings — spec.md §4.5 step 4 requires waiting for every
	// candidate's terminal state, not short-circuiting.
	_ = g.Wait()

	if ctx.Err() != nil {
		q.metrics.recordRouteOutcome(capability, "cancelled")
		return ConsensusResult{DecisionID: decisionID, Decided: false, Decisions: decisions}, NewError(ErrCancelled, "consensus cancelled")
	}

	decided := float64(okCount)/float64(len(candidates)) > quorum
	q.metrics.recordConsensusOutcome(capability, decided)

	logFields := []zap.Field{
		zap.String("decision_id", decisionID),
		zap.String("capability", capability),
		zap.Bool("decided", decided),
		zap.Int("ok_count", okCount),
		zap.Int("candidates", len(candidates)),
	}
	if failures := joinCandidateErrors(decisions); failures != nil {
		logFields = append(logFields, zap.Error(failures))
	}
	q.logger.Info("consensus decided", logFields...)

	return ConsensusResult{DecisionID: decisionID, Decided: decided, Decisions: decisions}, nil
}

// joinCandidateErrors aggregates every failed candidate's error into one
// error via errors.Join, so a single log line can report every failure
// from a fan-out round instead of one line per candidate.
func joinCandidateErrors(decisions []Decision) error {
	var errs []error
	for _, d := range decisions {
		if !d.OK && d.Err != nil {
			errs = append(errs, d.Err)
		}
	}
	return errors.Join(errs...)
}
