// Package collab holds the narrow interfaces to external collaborators:
// notification dispatch, billing status, and the company approval policy.
// Their real implementations live outside this service; the defaults here
// are what a standalone deployment runs with.
package collab

import (
	"context"
	"strings"

	"go.uber.org/zap"
)

// Notifier receives fire-and-forget workspace events. Failures to deliver
// are the collaborator's problem; the orchestrator never blocks on it.
type Notifier interface {
	WorkspaceReady(ctx context.Context, wsid string)
	ProvisioningFailed(ctx context.Context, wsid, reason string)
	HealthDegraded(ctx context.Context, wsid string, gaps int)
}

// BillingGate answers whether a company is allowed to start provisioning.
type BillingGate interface {
	Allowed(ctx context.Context, companyID string) (bool, error)
}

// ApprovalPolicy answers whether workspaces for a company require manual
// approval by default (templates can force it regardless).
type ApprovalPolicy interface {
	RequiresApproval(ctx context.Context, companyID string) bool
}

// LogNotifier logs events instead of dispatching them.
type LogNotifier struct {
	Log *zap.Logger
}

func (n *LogNotifier) WorkspaceReady(ctx context.Context, wsid string) {
	n.Log.Info("workspace ready", zap.String("wsid", wsid))
}

func (n *LogNotifier) ProvisioningFailed(ctx context.Context, wsid, reason string) {
	n.Log.Warn("provisioning failed", zap.String("wsid", wsid), zap.String("reason", reason))
}

func (n *LogNotifier) HealthDegraded(ctx context.Context, wsid string, gaps int) {
	n.Log.Warn("workspace health degraded", zap.String("wsid", wsid), zap.Int("gaps", gaps))
}

// AllowAllBilling is the default gate for deployments without a billing
// collaborator.
type AllowAllBilling struct{}

func (AllowAllBilling) Allowed(ctx context.Context, companyID string) (bool, error) {
	return true, nil
}

// StaticApprovalPolicy requires approval for a fixed set of company ids
// (comma-separated in config).
type StaticApprovalPolicy struct {
	companies map[string]bool
}

func NewStaticApprovalPolicy(csv string) *StaticApprovalPolicy {
	p := &StaticApprovalPolicy{companies: make(map[string]bool)}
	for _, raw := range strings.Split(csv, ",") {
		if id := strings.TrimSpace(raw); id != "" {
			p.companies[id] = true
		}
	}
	return p
}

func (p *StaticApprovalPolicy) RequiresApproval(ctx context.Context, companyID string) bool {
	return p.companies[companyID]
}
