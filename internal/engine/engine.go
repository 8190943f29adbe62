// Package engine implements the provisioning state machine: the sole
// mutating driver of a workspace's provisioning states. All transitions
// happen under the scheduler's per-workspace claim, so no two transitions
// for the same workspace ever run concurrently.
package engine

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/collab"
	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/executor"
	"github.com/orbitenv/orbit/internal/observability"
)

// Store is the slice of the persistence layer the engine needs. Every
// transition is persisted before the next one can be claimed, so
// provisioning resumes exactly where it left off after a restart.
type Store interface {
	GetWorkspace(ctx context.Context, wsid string) (*core.Workspace, error)
	UpdateProvisioning(ctx context.Context, ws *core.Workspace) error
}

// Starter hands a freshly completed workspace to the lifecycle controller
// when its template asks for auto-start.
type Starter interface {
	Start(ctx context.Context, wsid string) error
}

type Config struct {
	BackoffBase          time.Duration `envconfig:"ORBIT_BACKOFF_BASE" default:"2s"`
	BackoffCap           time.Duration `envconfig:"ORBIT_BACKOFF_CAP" default:"5m"`
	DefaultActionTimeout time.Duration `envconfig:"ORBIT_ACTION_TIMEOUT" default:"120s"`
}

type Engine struct {
	store    Store
	actions  *executor.Registry
	starter  Starter
	notifier collab.Notifier
	cfg      Config
	log      *zap.Logger
	now      func() time.Time
}

func New(store Store, actions *executor.Registry, starter Starter, notifier collab.Notifier, cfg Config, log *zap.Logger) *Engine {
	return &Engine{
		store:    store,
		actions:  actions,
		starter:  starter,
		notifier: notifier,
		cfg:      cfg,
		log:      log,
		now:      time.Now,
	}
}

// Advance runs exactly one provisioning transition for the workspace:
// promote out of created, execute the action at the current step, or finish.
// Calling it on a workspace that is already terminal or completed is a
// no-op returning the current state.
func (e *Engine) Advance(ctx context.Context, wsid string) (*core.Workspace, error) {
	ws, err := e.store.GetWorkspace(ctx, wsid)
	if err != nil {
		return nil, fmt.Errorf("load workspace %s: %w", wsid, err)
	}

	switch ws.State {
	case core.WorkspaceCreated:
		// Promote unconditionally; failure states are only reachable from
		// provisioning, so a pending cancel is honored on the next step
		// check rather than short-circuited here.
		e.transition(ws, core.WorkspaceProvisioning)
		ws.NextRunAt = e.now()
		if err := e.store.UpdateProvisioning(ctx, ws); err != nil {
			return nil, err
		}
		return e.advanceStep(ctx, ws)
	case core.WorkspaceProvisioning:
		return e.advanceStep(ctx, ws)
	default:
		// pending_approval waits for an operator; completed/failed/
		// rolled_back are not the engine's to touch.
		return ws, nil
	}
}

func (e *Engine) advanceStep(ctx context.Context, ws *core.Workspace) (*core.Workspace, error) {
	if ws.CancelRequested {
		return e.fail(ctx, ws, "canceled", ws.Step)
	}
	if ws.Plan == nil || ws.TotalSteps != len(ws.Plan.Actions) {
		return e.fail(ctx, ws, "frozen plan is missing or inconsistent", ws.Step)
	}
	if ws.Step >= ws.TotalSteps {
		return e.complete(ctx, ws)
	}

	spec := ws.Plan.Actions[ws.Step]
	log := observability.WorkspaceLogger(e.log, ws.WSID, ws.Step, spec.Name)
	in := e.input(ws, spec, log)

	start := e.now()
	actx, cancel := context.WithTimeout(ctx, e.actionTimeout(spec))
	outputs, err := e.actions.Execute(actx, spec.Name, in)
	cancel()
	observability.StepDuration.WithLabelValues(spec.Name).Observe(time.Since(start).Seconds())

	if err == nil {
		return e.stepSucceeded(ctx, ws, spec, outputs, log)
	}
	return e.stepFailed(ctx, ws, spec, err, log)
}

func (e *Engine) stepSucceeded(ctx context.Context, ws *core.Workspace, spec core.ActionSpec, outputs map[string]string, log *zap.Logger) (*core.Workspace, error) {
	observability.StepTotal.WithLabelValues(spec.Name, "success").Inc()

	if ws.Outputs == nil {
		ws.Outputs = make(map[string]string, len(outputs))
	}
	for k, v := range outputs {
		ws.Outputs[k] = v
	}
	e.captureResources(ws, outputs)

	ws.Step++
	ws.RetryCount = 0
	ws.LastRetryAt = nil
	ws.NextRunAt = e.now()

	if ws.Step == ws.TotalSteps {
		return e.complete(ctx, ws)
	}
	if err := e.store.UpdateProvisioning(ctx, ws); err != nil {
		return nil, err
	}
	log.Info("step completed", zap.Int("next_step", ws.Step))
	return ws, nil
}

func (e *Engine) stepFailed(ctx context.Context, ws *core.Workspace, spec core.ActionSpec, stepErr error, log *zap.Logger) (*core.Workspace, error) {
	kind := executor.Classify(stepErr)
	if spec.Fatal {
		kind = executor.KindFatal
	}

	if kind == executor.KindTransient {
		ws.RetryCount++
		now := e.now()
		ws.LastRetryAt = &now
		if ws.RetryCount <= ws.MaxRetries {
			ws.NextRunAt = now.Add(Backoff(e.cfg.BackoffBase, e.cfg.BackoffCap, ws.RetryCount))
			if err := e.store.UpdateProvisioning(ctx, ws); err != nil {
				return nil, err
			}
			observability.StepTotal.WithLabelValues(spec.Name, "retry").Inc()
			observability.StepRetryTotal.WithLabelValues(spec.Name).Inc()
			log.Warn("step failed, will retry",
				zap.Error(stepErr),
				zap.Int("retry", ws.RetryCount),
				zap.Time("next_run_at", ws.NextRunAt))
			return ws, nil
		}
		stepErr = fmt.Errorf("retries exhausted after %d attempts: %w", ws.RetryCount, stepErr)
	}

	observability.StepTotal.WithLabelValues(spec.Name, "fatal").Inc()
	reason := fmt.Sprintf("step %d (%s): %s", ws.Step, spec.Name, stepErr)
	log.Error("step failed fatally", zap.Error(stepErr))

	if ws.Plan.RollbackOnFatal {
		return e.rollback(ctx, ws, reason)
	}
	return e.fail(ctx, ws, reason, ws.Step)
}

func (e *Engine) complete(ctx context.Context, ws *core.Workspace) (*core.Workspace, error) {
	e.transition(ws, core.WorkspaceCompleted)
	if err := e.store.UpdateProvisioning(ctx, ws); err != nil {
		return nil, err
	}
	e.log.Info("provisioning completed", zap.String("wsid", ws.WSID), zap.Int("steps", ws.TotalSteps))
	e.notifier.WorkspaceReady(ctx, ws.WSID)

	if ws.AutoStart && e.starter != nil {
		if err := e.starter.Start(ctx, ws.WSID); err != nil {
			// Auto-start is a convenience; the workspace is completed
			// either way and can be started manually.
			e.log.Warn("auto-start failed", zap.String("wsid", ws.WSID), zap.Error(err))
		}
	}
	return ws, nil
}

func (e *Engine) fail(ctx context.Context, ws *core.Workspace, reason string, failedStep int) (*core.Workspace, error) {
	ws.FailureReason = &reason
	ws.FailedStep = &failedStep
	e.transition(ws, core.WorkspaceFailed)
	if err := e.store.UpdateProvisioning(ctx, ws); err != nil {
		return nil, err
	}
	e.notifier.ProvisioningFailed(ctx, ws.WSID, reason)
	return ws, nil
}

// Approve moves a pending workspace into provisioning, stamping who
// approved it and when.
func (e *Engine) Approve(ctx context.Context, wsid, approver string) (*core.Workspace, error) {
	ws, err := e.store.GetWorkspace(ctx, wsid)
	if err != nil {
		return nil, err
	}
	if ws.State != core.WorkspacePendingApproval {
		return nil, core.NewAppError(core.ErrPreconditionFailed, "workspace is not pending approval")
	}
	now := e.now()
	ws.ApprovedBy = &approver
	ws.ApprovedAt = &now
	ws.NextRunAt = now
	e.transition(ws, core.WorkspaceProvisioning)
	if err := e.store.UpdateProvisioning(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

// Deny terminally rejects a pending workspace.
func (e *Engine) Deny(ctx context.Context, wsid, approver, reason string) (*core.Workspace, error) {
	ws, err := e.store.GetWorkspace(ctx, wsid)
	if err != nil {
		return nil, err
	}
	if ws.State != core.WorkspacePendingApproval {
		return nil, core.NewAppError(core.ErrPreconditionFailed, "workspace is not pending approval")
	}
	msg := "approval_denied"
	if reason != "" {
		msg = msg + ": " + reason + " (by " + approver + ")"
	}
	return e.fail(ctx, ws, msg, ws.Step)
}

// Requeue is the operator escape hatch out of a terminal failure state:
// counters reset, the frozen plan is kept, and provisioning restarts from
// step 0 (actions are idempotent, so re-running completed steps is safe).
func (e *Engine) Requeue(ctx context.Context, wsid string) (*core.Workspace, error) {
	ws, err := e.store.GetWorkspace(ctx, wsid)
	if err != nil {
		return nil, err
	}
	if !ws.IsTerminal() {
		return nil, core.NewAppError(core.ErrPreconditionFailed, "workspace is not in a failed state")
	}
	ws.Step = 0
	ws.RetryCount = 0
	ws.LastRetryAt = nil
	ws.FailureReason = nil
	ws.FailedStep = nil
	ws.UncompensatedBefore = nil
	ws.CancelRequested = false
	ws.NextRunAt = e.now()
	e.transition(ws, core.WorkspaceProvisioning)
	if err := e.store.UpdateProvisioning(ctx, ws); err != nil {
		return nil, err
	}
	return ws, nil
}

func (e *Engine) transition(ws *core.Workspace, to core.WorkspaceState) {
	observability.WorkspaceStateTransitions.WithLabelValues(string(ws.State), string(to)).Inc()
	ws.State = to
}

func (e *Engine) actionTimeout(spec core.ActionSpec) time.Duration {
	if spec.TimeoutSeconds > 0 {
		return time.Duration(spec.TimeoutSeconds) * time.Second
	}
	return e.cfg.DefaultActionTimeout
}

// input builds the merged parameter set for one action: workspace identity,
// the action's declared params, then every prior step output (later wins).
func (e *Engine) input(ws *core.Workspace, spec core.ActionSpec, log *zap.Logger) executor.Input {
	params := map[string]string{
		"wsid":           ws.WSID,
		"template_id":    ws.TemplateID,
		"company_id":     ws.CompanyID,
		"owner":          ws.Owner,
		"workspace_name": ws.Name,
	}
	for k, v := range spec.Params {
		params[k] = v
	}
	for k, v := range ws.Outputs {
		params[k] = v
	}
	return executor.Input{WSID: ws.WSID, Params: params, Log: log}
}

// captureResources mirrors well-known step outputs into their dedicated
// workspace columns so allocators can be rebuilt after a restart.
func (e *Engine) captureResources(ws *core.Workspace, outputs map[string]string) {
	if v, ok := outputs["port"]; ok {
		if port, err := strconv.Atoi(v); err == nil {
			ws.Port = &port
		}
	}
	if v, ok := outputs["namespace"]; ok {
		ns := v
		ws.Namespace = &ns
	}
}
