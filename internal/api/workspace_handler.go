package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
)

type CreateWorkspaceRequest struct {
	TemplateID string            `json:"template_id"`
	CompanyID  string            `json:"company_id"`
	Owner      string            `json:"owner"`
	Name       string            `json:"name"`
	Overrides  map[string]string `json:"overrides,omitempty"`
}

type WorkspaceStatusResponse struct {
	WSID                string  `json:"wsid"`
	State               string  `json:"state"`
	Step                int     `json:"step"`
	TotalSteps          int     `json:"total_steps"`
	RetryCount          int     `json:"retry_count"`
	LastError           *string `json:"last_error,omitempty"`
	FailedStep          *int    `json:"failed_step,omitempty"`
	UncompensatedBefore *int    `json:"uncompensated_before,omitempty"`
	IsRunning           bool    `json:"is_running"`
}

// CreateWorkspace submits a workspace for provisioning. The template is
// resolved into a frozen plan here; provisioning itself is asynchronous.
func (a *API) CreateWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "Idempotency-Key header required"))
		return
	}

	var req CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	if req.TemplateID == "" || req.CompanyID == "" || req.Owner == "" || req.Name == "" {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "template_id, company_id, owner, and name are required"))
		return
	}

	body, _ := json.Marshal(req)
	requestHash := core.ComputeRequestHash(body, "POST", "/v1/workspaces")

	// Replay of a key we have seen: same request returns the original
	// workspace, a different request under the same key is a conflict.
	if existing, err := a.store.GetWorkspaceByIdempotencyKey(ctx, req.CompanyID, idempotencyKey); err == nil {
		if existing.RequestHash == requestHash {
			writeWorkspaceAccepted(w, existing)
			return
		}
		WriteError(w, core.NewAppError(core.ErrConflictIdempotent, "idempotency key reused with a different request"))
		return
	}

	allowed, err := a.billing.Allowed(ctx, req.CompanyID)
	if err != nil {
		a.log.Error("billing check failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "billing check failed"))
		return
	}
	if !allowed {
		WriteError(w, core.NewAppError(core.ErrBillingBlocked, "company is not in good billing standing"))
		return
	}

	tpl, err := a.templates.Get(ctx, req.TemplateID)
	if err != nil {
		writeErr(w, err, "failed to load template")
		return
	}
	plan, err := a.templates.Resolve(ctx, tpl, req.Overrides)
	if err != nil {
		writeErr(w, err, "failed to resolve template")
		return
	}

	state := core.WorkspaceCreated
	requiresApproval := tpl.RequiresApproval || a.approval.RequiresApproval(ctx, req.CompanyID)
	if requiresApproval {
		state = core.WorkspacePendingApproval
	}

	ws := &core.Workspace{
		WSID:             core.NewID(),
		CompanyID:        req.CompanyID,
		Owner:            req.Owner,
		Name:             req.Name,
		TemplateID:       tpl.TemplateID,
		State:            state,
		Plan:             plan,
		TotalSteps:       len(plan.Actions),
		MaxRetries:       tpl.MaxRetries,
		NextRunAt:        a.now(),
		RequiresApproval: requiresApproval,
		AutoStart:        tpl.AutoStart,
		AutoStopHours:    tpl.AutoStopHours,
		CPULimitPercent:  tpl.CPULimitPercent,
		MemoryLimitMB:    tpl.MemoryLimitMB,
		IdempotencyKey:   idempotencyKey,
		RequestHash:      requestHash,
	}

	created, err := a.store.CreateWorkspace(ctx, ws)
	if err != nil {
		// A concurrent request with the same key won the insert race.
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			if existing, gerr := a.store.GetWorkspaceByIdempotencyKey(ctx, req.CompanyID, idempotencyKey); gerr == nil && existing.RequestHash == requestHash {
				writeWorkspaceAccepted(w, existing)
				return
			}
			WriteError(w, core.NewAppError(core.ErrConflictIdempotent, "idempotency key reused with a different request"))
			return
		}
		a.log.Error("create workspace failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to create workspace"))
		return
	}

	a.writeAudit(r, created.WSID, "workspace.create", req)
	writeWorkspaceAccepted(w, created)
}

func writeWorkspaceAccepted(w http.ResponseWriter, ws *core.Workspace) {
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"wsid":        ws.WSID,
		"state":       ws.State,
		"status_href": "/v1/workspaces/" + ws.WSID + "/status",
	})
}

// ListWorkspaces lists workspaces with cursor pagination.
func (a *API) ListWorkspaces(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r.URL.Query().Get("limit"), 20, 100)
	cursor := parseCursor(r.URL.Query().Get("cursor"))

	workspaces, err := a.store.ListWorkspaces(r.Context(), limit, cursor)
	if err != nil {
		a.log.Error("list workspaces failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list workspaces"))
		return
	}

	var nextCursor string
	if len(workspaces) == limit {
		nextCursor = encodeCursor(workspaces[len(workspaces)-1].CreatedAt)
	}

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"workspaces":  workspaces,
		"next_cursor": nextCursor,
	})
}

// GetWorkspace gets a single workspace, frozen plan included.
func (a *API) GetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := a.store.GetWorkspace(r.Context(), chi.URLParam(r, "wsid"))
	if err != nil {
		writeErr(w, err, "failed to get workspace")
		return
	}
	WriteJSON(w, http.StatusOK, ws)
}

// GetWorkspaceStatus returns the provisioning progress summary.
func (a *API) GetWorkspaceStatus(w http.ResponseWriter, r *http.Request) {
	ws, err := a.store.GetWorkspace(r.Context(), chi.URLParam(r, "wsid"))
	if err != nil {
		writeErr(w, err, "failed to get workspace")
		return
	}
	WriteJSON(w, http.StatusOK, WorkspaceStatusResponse{
		WSID:                ws.WSID,
		State:               string(ws.State),
		Step:                ws.Step,
		TotalSteps:          ws.TotalSteps,
		RetryCount:          ws.RetryCount,
		LastError:           ws.FailureReason,
		FailedStep:          ws.FailedStep,
		UncompensatedBefore: ws.UncompensatedBefore,
		IsRunning:           ws.IsRunning,
	})
}

// ApproveWorkspace releases a pending workspace into provisioning.
func (a *API) ApproveWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	ws, err := a.engine.Approve(r.Context(), wsid, actor(r))
	if err != nil {
		writeErr(w, err, "failed to approve workspace")
		return
	}
	a.writeAudit(r, wsid, "workspace.approve", nil)
	WriteJSON(w, http.StatusOK, ws)
}

// DenyWorkspace terminally rejects a pending workspace.
func (a *API) DenyWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		json.NewDecoder(r.Body).Decode(&body)
	}

	ws, err := a.engine.Deny(r.Context(), wsid, actor(r), body.Reason)
	if err != nil {
		writeErr(w, err, "failed to deny workspace")
		return
	}
	a.writeAudit(r, wsid, "workspace.deny", body)
	WriteJSON(w, http.StatusOK, ws)
}

// CancelWorkspace requests cancellation of in-flight provisioning. The
// current action finishes; the workspace fails before the next one starts.
func (a *API) CancelWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	applied, err := a.store.RequestCancel(r.Context(), wsid)
	if err != nil {
		writeErr(w, err, "failed to cancel workspace")
		return
	}
	if !applied {
		WriteError(w, core.NewAppError(core.ErrPreconditionFailed, "workspace is not provisioning"))
		return
	}

	a.writeAudit(r, wsid, "workspace.cancel", nil)
	WriteJSON(w, http.StatusAccepted, map[string]interface{}{
		"wsid":             wsid,
		"cancel_requested": true,
	})
}

// RequeueWorkspace restarts provisioning of a failed workspace from step 0.
func (a *API) RequeueWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	ws, err := a.engine.Requeue(r.Context(), wsid)
	if err != nil {
		writeErr(w, err, "failed to requeue workspace")
		return
	}

	a.writeAudit(r, wsid, "workspace.requeue", nil)
	writeWorkspaceAccepted(w, ws)
}

// DeleteWorkspace removes a workspace and its samples. Refused while the
// workspace is running or provisioning; allocator grants are released.
func (a *API) DeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	wsid := chi.URLParam(r, "wsid")

	ws, err := a.store.GetWorkspace(ctx, wsid)
	if err != nil {
		writeErr(w, err, "failed to get workspace")
		return
	}
	if ws.IsRunning {
		WriteError(w, core.NewAppError(core.ErrPreconditionFailed, "stop the workspace before deleting it"))
		return
	}
	if ws.State == core.WorkspaceProvisioning {
		WriteError(w, core.NewAppError(core.ErrPreconditionFailed, "workspace is provisioning; cancel it first"))
		return
	}

	if err := a.store.DeleteWorkspace(ctx, wsid); err != nil {
		a.log.Error("delete workspace failed", zap.Error(err))
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to delete workspace"))
		return
	}
	if a.ports != nil {
		a.ports.Release(wsid)
	}
	if a.namespaces != nil {
		a.namespaces.Release(wsid)
	}

	a.writeAudit(r, wsid, "workspace.delete", nil)
	w.WriteHeader(http.StatusNoContent)
}

func parseLimit(s string, defaultVal, maxVal int) int {
	if s == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return defaultVal
	}
	if n > maxVal {
		return maxVal
	}
	return n
}

func parseCursor(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := decodeCursor(s)
	if err != nil {
		return nil
	}
	return &t
}
