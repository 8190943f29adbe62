package core

import "time"

type WorkspaceState string

const (
	WorkspaceCreated         WorkspaceState = "created"
	WorkspacePendingApproval WorkspaceState = "pending_approval"
	WorkspaceProvisioning    WorkspaceState = "provisioning"
	WorkspaceCompleted       WorkspaceState = "completed"
	WorkspaceFailed          WorkspaceState = "failed"
	WorkspaceRolledBack      WorkspaceState = "rolled_back"
)

// Workspace is one provisioned (or provisioning) development environment.
// The Plan field is the frozen action snapshot captured when the workspace
// enters provisioning; template edits after that point never affect it.
type Workspace struct {
	WSID       string         `json:"wsid"`
	CompanyID  string         `json:"company_id"`
	Owner      string         `json:"owner"`
	Name       string         `json:"name"`
	TemplateID string         `json:"template_id"`
	State      WorkspaceState `json:"state"`

	Step       int               `json:"step"`
	TotalSteps int               `json:"total_steps"`
	Plan       *Plan             `json:"plan,omitempty"`
	Outputs    map[string]string `json:"outputs,omitempty"`

	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	LastRetryAt *time.Time `json:"last_retry_at,omitempty"`
	NextRunAt   time.Time  `json:"next_run_at"`

	RequiresApproval bool       `json:"requires_approval"`
	ApprovedBy       *string    `json:"approved_by,omitempty"`
	ApprovedAt       *time.Time `json:"approved_at,omitempty"`

	FailureReason       *string `json:"failure_reason,omitempty"`
	FailedStep          *int    `json:"failed_step,omitempty"`
	UncompensatedBefore *int    `json:"uncompensated_before,omitempty"`
	CancelRequested     bool    `json:"cancel_requested"`

	AutoStart      bool       `json:"auto_start"`
	IsRunning      bool       `json:"is_running"`
	LastStartedAt  *time.Time `json:"last_started_at,omitempty"`
	LastStoppedAt  *time.Time `json:"last_stopped_at,omitempty"`
	LastAccessedAt *time.Time `json:"last_accessed_at,omitempty"`

	AutoStopHours   int `json:"auto_stop_hours"`
	CPULimitPercent int `json:"cpu_limit_percent"`
	MemoryLimitMB   int `json:"memory_limit_mb"`

	Port      *int    `json:"port,omitempty"`
	Namespace *string `json:"namespace,omitempty"`

	IdempotencyKey string `json:"idempotency_key"`
	RequestHash    string `json:"request_hash"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsTerminal reports whether provisioning can make no further forward
// progress without an operator requeue.
func (w *Workspace) IsTerminal() bool {
	switch w.State {
	case WorkspaceFailed, WorkspaceRolledBack:
		return true
	}
	return false
}

// Provisionable reports whether the scheduler should claim this workspace.
func (w *Workspace) Provisionable() bool {
	switch w.State {
	case WorkspaceCreated, WorkspaceProvisioning:
		return true
	}
	return false
}
