package core

import "time"

type TemplateVisibility string

const (
	VisibilityOfficial TemplateVisibility = "official"
	VisibilityCompany  TemplateVisibility = "company"
	VisibilityUser     TemplateVisibility = "user"
)

// Template is a reusable blueprint for workspace provisioning. Config holds
// the ordered action list; in-flight workspaces read only their own frozen
// plan, so edits here apply to new workspaces only.
type Template struct {
	TemplateID string             `json:"template_id"`
	Name       string             `json:"name"`
	Visibility TemplateVisibility `json:"visibility"`
	CompanyID  *string            `json:"company_id,omitempty"`
	Config     *Plan              `json:"config"`

	RequiresApproval bool `json:"requires_approval"`
	AutoStart        bool `json:"auto_start"`
	AutoStopHours    int  `json:"auto_stop_hours"`
	CPULimitPercent  int  `json:"cpu_limit_percent"`
	MemoryLimitMB    int  `json:"memory_limit_mb"`
	MaxRetries       int  `json:"max_retries"`

	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
