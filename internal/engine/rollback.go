package engine

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/executor"
	"github.com/orbitenv/orbit/internal/observability"
)

// rollback compensates completed steps in strictly reverse order. Steps
// without a declared compensating action are skipped: rollback is
// best-effort, not a distributed transaction. The engine holds the
// workspace claim for the whole walk, so step K is never compensated
// before K+1..N already were.
func (e *Engine) rollback(ctx context.Context, ws *core.Workspace, reason string) (*core.Workspace, error) {
	failedAt := ws.Step
	e.log.Info("rolling back",
		zap.String("wsid", ws.WSID),
		zap.Int("from_step", failedAt),
		zap.String("cause", reason))

	for i := ws.Step - 1; i >= 0; i-- {
		spec := ws.Plan.Actions[i]
		if spec.Compensate == "" {
			continue
		}
		if err := e.compensateStep(ctx, ws, i, spec); err != nil {
			// Diagnosed partial state: steps 0..i completed but could not
			// be compensated; the operator sees exactly which.
			boundary := i + 1
			ws.UncompensatedBefore = &boundary
			msg := fmt.Sprintf("%s; rollback aborted: compensation for step %d (%s) failed: %s",
				reason, i, spec.Compensate, err)
			ws.FailureReason = &msg
			ws.FailedStep = &failedAt
			e.transition(ws, core.WorkspaceRolledBack)
			if perr := e.store.UpdateProvisioning(ctx, ws); perr != nil {
				return nil, perr
			}
			e.notifier.ProvisioningFailed(ctx, ws.WSID, msg)
			return ws, nil
		}
	}

	ws.Step = 0
	ws.RetryCount = 0
	ws.LastRetryAt = nil
	return e.fail(ctx, ws, reason, failedAt)
}

// compensateStep retries a compensating action under the same
// max_retries/backoff policy as forward steps (a policy choice; the
// original schema left rollback retries unspecified).
func (e *Engine) compensateStep(ctx context.Context, ws *core.Workspace, step int, spec core.ActionSpec) error {
	log := observability.WorkspaceLogger(e.log, ws.WSID, step, spec.Compensate)
	in := e.input(ws, spec, log)

	for attempt := 0; ; attempt++ {
		actx, cancel := context.WithTimeout(ctx, e.actionTimeout(spec))
		err := e.actions.Compensate(actx, spec.Compensate, in)
		cancel()
		if err == nil {
			observability.RollbackStepTotal.WithLabelValues(spec.Compensate, "success").Inc()
			log.Info("step compensated")
			return nil
		}
		if executor.Classify(err) == executor.KindFatal || attempt >= ws.MaxRetries {
			observability.RollbackStepTotal.WithLabelValues(spec.Compensate, "fatal").Inc()
			return err
		}
		observability.RollbackStepTotal.WithLabelValues(spec.Compensate, "retry").Inc()
		log.Warn("compensation failed, retrying", zap.Error(err), zap.Int("attempt", attempt+1))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(Backoff(e.cfg.BackoffBase, e.cfg.BackoffCap, attempt+1)):
		}
	}
}
