// Package registry manages template definitions and resolves them into
// frozen per-workspace provisioning plans.
package registry

import (
	"context"
	"fmt"

	"github.com/orbitenv/orbit/internal/core"
	"github.com/orbitenv/orbit/internal/executor"
)

// Store is the slice of the persistence layer the registry needs.
type Store interface {
	CreateTemplate(ctx context.Context, t *core.Template) (*core.Template, error)
	GetTemplate(ctx context.Context, templateID string) (*core.Template, error)
	ListTemplates(ctx context.Context, activeOnly bool) ([]*core.Template, error)
	UpdateTemplate(ctx context.Context, t *core.Template) (*core.Template, error)
	DeactivateTemplate(ctx context.Context, templateID string) error
}

type Registry struct {
	store   Store
	actions *executor.Registry
}

func New(store Store, actions *executor.Registry) *Registry {
	return &Registry{store: store, actions: actions}
}

// Create validates the action document against the closed action set and
// persists the template. Bad documents are rejected here, never at
// execution time.
func (r *Registry) Create(ctx context.Context, t *core.Template) (*core.Template, error) {
	if err := r.validate(t); err != nil {
		return nil, core.NewAppError(core.ErrBadRequest, err.Error())
	}
	if t.TemplateID == "" {
		t.TemplateID = core.NewID()
	}
	if t.MaxRetries <= 0 {
		t.MaxRetries = 3
	}
	return r.store.CreateTemplate(ctx, t)
}

func (r *Registry) Get(ctx context.Context, templateID string) (*core.Template, error) {
	return r.store.GetTemplate(ctx, templateID)
}

func (r *Registry) List(ctx context.Context, activeOnly bool) ([]*core.Template, error) {
	return r.store.ListTemplates(ctx, activeOnly)
}

// Update replaces a template's definition. Workspaces already provisioning
// keep their frozen plan; only new workspaces see the edit.
func (r *Registry) Update(ctx context.Context, t *core.Template) (*core.Template, error) {
	if err := r.validate(t); err != nil {
		return nil, core.NewAppError(core.ErrBadRequest, err.Error())
	}
	return r.store.UpdateTemplate(ctx, t)
}

func (r *Registry) Deactivate(ctx context.Context, templateID string) error {
	return r.store.DeactivateTemplate(ctx, templateID)
}

// Resolve produces the frozen plan for one workspace: a deep copy of the
// template's action list with the per-workspace overrides merged into every
// action's parameter set.
func (r *Registry) Resolve(ctx context.Context, t *core.Template, overrides map[string]string) (*core.Plan, error) {
	if !t.Active {
		return nil, core.NewAppError(core.ErrPreconditionFailed, fmt.Sprintf("template %s is not active", t.TemplateID))
	}
	plan := t.Config.Clone()
	for i := range plan.Actions {
		if len(overrides) == 0 {
			break
		}
		if plan.Actions[i].Params == nil {
			plan.Actions[i].Params = make(map[string]string, len(overrides))
		}
		for k, v := range overrides {
			plan.Actions[i].Params[k] = v
		}
	}
	if err := r.actions.ValidatePlan(plan); err != nil {
		return nil, core.NewAppError(core.ErrBadRequest, err.Error())
	}
	return plan, nil
}

func (r *Registry) validate(t *core.Template) error {
	if t.Name == "" {
		return fmt.Errorf("template name is required")
	}
	switch t.Visibility {
	case core.VisibilityOfficial, core.VisibilityCompany, core.VisibilityUser:
	case "":
		t.Visibility = core.VisibilityCompany
	default:
		return fmt.Errorf("unknown visibility %q", t.Visibility)
	}
	if t.Visibility != core.VisibilityOfficial && t.CompanyID == nil {
		return fmt.Errorf("%s templates need a company_id", t.Visibility)
	}
	return r.actions.ValidatePlan(t.Config)
}
