package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/orbitenv/orbit/internal/core"
)

const workspaceColumns = `wsid, company_id, owner, name, template_id, state,
	step, total_steps, plan, outputs,
	retry_count, max_retries, last_retry_at, next_run_at,
	requires_approval, approved_by, approved_at,
	failure_reason, failed_step, uncompensated_before, cancel_requested,
	auto_start, is_running, last_started_at, last_stopped_at, last_accessed_at,
	auto_stop_hours, cpu_limit_percent, memory_limit_mb,
	port, namespace, idempotency_key, request_hash, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkspace(row rowScanner) (*core.Workspace, error) {
	var (
		ws         core.Workspace
		planDoc    []byte
		outputsDoc []byte
	)
	err := row.Scan(
		&ws.WSID, &ws.CompanyID, &ws.Owner, &ws.Name, &ws.TemplateID, &ws.State,
		&ws.Step, &ws.TotalSteps, &planDoc, &outputsDoc,
		&ws.RetryCount, &ws.MaxRetries, &ws.LastRetryAt, &ws.NextRunAt,
		&ws.RequiresApproval, &ws.ApprovedBy, &ws.ApprovedAt,
		&ws.FailureReason, &ws.FailedStep, &ws.UncompensatedBefore, &ws.CancelRequested,
		&ws.AutoStart, &ws.IsRunning, &ws.LastStartedAt, &ws.LastStoppedAt, &ws.LastAccessedAt,
		&ws.AutoStopHours, &ws.CPULimitPercent, &ws.MemoryLimitMB,
		&ws.Port, &ws.Namespace, &ws.IdempotencyKey, &ws.RequestHash, &ws.CreatedAt, &ws.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if planDoc != nil {
		plan, err := core.PlanFromDocument(planDoc)
		if err != nil {
			return nil, fmt.Errorf("decode plan for %s: %w", ws.WSID, err)
		}
		ws.Plan = plan
	}
	if outputsDoc != nil {
		if err := json.Unmarshal(outputsDoc, &ws.Outputs); err != nil {
			return nil, fmt.Errorf("decode outputs for %s: %w", ws.WSID, err)
		}
	}
	return &ws, nil
}

func marshalWorkspaceDocs(ws *core.Workspace) (planDoc, outputsDoc []byte, err error) {
	if ws.Plan != nil {
		planDoc, err = ws.Plan.MarshalDocument()
		if err != nil {
			return nil, nil, fmt.Errorf("encode plan: %w", err)
		}
	}
	outputs := ws.Outputs
	if outputs == nil {
		outputs = map[string]string{}
	}
	outputsDoc, err = json.Marshal(outputs)
	if err != nil {
		return nil, nil, fmt.Errorf("encode outputs: %w", err)
	}
	return planDoc, outputsDoc, nil
}

// CreateWorkspace inserts a new workspace row and returns the stored record.
func (s *Store) CreateWorkspace(ctx context.Context, ws *core.Workspace) (*core.Workspace, error) {
	planDoc, outputsDoc, err := marshalWorkspaceDocs(ws)
	if err != nil {
		return nil, err
	}
	row := s.db.QueryRow(ctx, `
		INSERT INTO orbit.workspaces (
			wsid, company_id, owner, name, template_id, state,
			step, total_steps, plan, outputs,
			retry_count, max_retries, next_run_at,
			requires_approval, auto_start,
			auto_stop_hours, cpu_limit_percent, memory_limit_mb,
			idempotency_key, request_hash
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10,
			$11, $12, $13,
			$14, $15,
			$16, $17, $18,
			$19, $20
		)
		RETURNING `+workspaceColumns,
		ws.WSID, ws.CompanyID, ws.Owner, ws.Name, ws.TemplateID, ws.State,
		ws.Step, ws.TotalSteps, planDoc, outputsDoc,
		ws.RetryCount, ws.MaxRetries, ws.NextRunAt,
		ws.RequiresApproval, ws.AutoStart,
		ws.AutoStopHours, ws.CPULimitPercent, ws.MemoryLimitMB,
		ws.IdempotencyKey, ws.RequestHash,
	)
	return scanWorkspace(row)
}

func (s *Store) GetWorkspace(ctx context.Context, wsid string) (*core.Workspace, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM orbit.workspaces WHERE wsid = $1`, wsid)
	return scanWorkspace(row)
}

// GetWorkspaceByIdempotencyKey returns the workspace created by a prior
// request carrying the same Idempotency-Key, if any.
func (s *Store) GetWorkspaceByIdempotencyKey(ctx context.Context, companyID, key string) (*core.Workspace, error) {
	row := s.db.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM orbit.workspaces
		 WHERE company_id = $1 AND idempotency_key = $2`, companyID, key)
	return scanWorkspace(row)
}

func (s *Store) ListWorkspaces(ctx context.Context, limit int, cursor *time.Time) ([]*core.Workspace, error) {
	rows, err := s.db.Query(ctx, `
		SELECT `+workspaceColumns+` FROM orbit.workspaces
		WHERE ($2::timestamptz IS NULL OR created_at < $2)
		ORDER BY created_at DESC
		LIMIT $1`, limit, cursor)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkspaces(rows)
}

// UpdateProvisioning persists every provisioning-owned column in one
// statement. The engine calls it after each side effect completes, so a
// crash between side effect and persist re-runs the step (actions are
// idempotent).
func (s *Store) UpdateProvisioning(ctx context.Context, ws *core.Workspace) error {
	planDoc, outputsDoc, err := marshalWorkspaceDocs(ws)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE orbit.workspaces SET
			state = $2, step = $3, total_steps = $4, plan = $5, outputs = $6,
			retry_count = $7, max_retries = $8, last_retry_at = $9, next_run_at = $10,
			requires_approval = $11, approved_by = $12, approved_at = $13,
			failure_reason = $14, failed_step = $15, uncompensated_before = $16,
			cancel_requested = $17, port = $18, namespace = $19,
			updated_at = now()
		WHERE wsid = $1`,
		ws.WSID,
		ws.State, ws.Step, ws.TotalSteps, planDoc, outputsDoc,
		ws.RetryCount, ws.MaxRetries, ws.LastRetryAt, ws.NextRunAt,
		ws.RequiresApproval, ws.ApprovedBy, ws.ApprovedAt,
		ws.FailureReason, ws.FailedStep, ws.UncompensatedBefore,
		ws.CancelRequested, ws.Port, ws.Namespace,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateRuntime persists the lifecycle-owned runtime flags.
func (s *Store) UpdateRuntime(ctx context.Context, ws *core.Workspace) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orbit.workspaces SET
			is_running = $2, last_started_at = $3, last_stopped_at = $4,
			last_accessed_at = $5, updated_at = now()
		WHERE wsid = $1`,
		ws.WSID, ws.IsRunning, ws.LastStartedAt, ws.LastStoppedAt, ws.LastAccessedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// TouchWorkspace stamps activity without rewriting the other runtime
// columns, so a touch can never clobber a concurrent stop.
func (s *Store) TouchWorkspace(ctx context.Context, wsid string, at time.Time) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE orbit.workspaces SET last_accessed_at = $2, updated_at = now()
		WHERE wsid = $1`, wsid, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// RequestCancel flags an in-flight provisioning for cancellation. The engine
// observes the flag before it starts the next action.
func (s *Store) RequestCancel(ctx context.Context, wsid string) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE orbit.workspaces SET cancel_requested = true, updated_at = now()
		WHERE wsid = $1 AND state IN ('created', 'pending_approval', 'provisioning')`, wsid)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Store) ListRunning(ctx context.Context) ([]*core.Workspace, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+workspaceColumns+` FROM orbit.workspaces WHERE is_running ORDER BY wsid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectWorkspaces(rows)
}

// Allocation is one persisted resource grant, used to rebuild the global
// allocators after a restart.
type Allocation struct {
	WSID      string
	Port      *int
	Namespace *string
}

func (s *Store) ListAllocations(ctx context.Context) ([]Allocation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT wsid, port, namespace FROM orbit.workspaces
		WHERE port IS NOT NULL OR namespace IS NOT NULL`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Allocation
	for rows.Next() {
		var a Allocation
		if err := rows.Scan(&a.WSID, &a.Port, &a.Namespace); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) DeleteWorkspace(ctx context.Context, wsid string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM orbit.workspaces WHERE wsid = $1`, wsid)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// CountDue returns the number of workspaces currently due for a transition.
func (s *Store) CountDue(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRow(ctx, `
		SELECT count(*) FROM orbit.workspaces
		WHERE state IN ('created', 'provisioning') AND next_run_at <= now()`).Scan(&n)
	return n, err
}

// ClaimDue claims the next due workspace by pushing its next_run_at forward
// by the lease duration, so no other claimer sees it while the transition
// runs. The engine overwrites next_run_at with the real schedule when it
// persists the transition outcome.
func (s *Store) ClaimDue(ctx context.Context, lease time.Duration) (*core.Workspace, error) {
	row := s.db.QueryRow(ctx, `
		UPDATE orbit.workspaces w
		SET next_run_at = now() + make_interval(secs => $1), updated_at = now()
		WHERE w.wsid = (
			SELECT wsid FROM orbit.workspaces
			WHERE state IN ('created', 'provisioning') AND next_run_at <= now()
			ORDER BY next_run_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+workspaceColumns, lease.Seconds())
	return scanWorkspace(row)
}

func collectWorkspaces(rows pgx.Rows) ([]*core.Workspace, error) {
	var out []*core.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}
