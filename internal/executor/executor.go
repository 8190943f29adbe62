// Package executor runs single provisioning actions against
// workspace-scoped parameters. The action set is closed: every action kind
// is a named variant registered here, validated at template-save time, and
// required to be idempotent under retry.
package executor

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
)

// Input carries everything an action may use: the workspace id and the
// merged parameter set (template params, workspace overrides, and the
// outputs of every prior step).
type Input struct {
	WSID   string
	Params map[string]string
	Log    *zap.Logger
}

func (in Input) Param(key string) string {
	return in.Params[key]
}

// Action performs one forward provisioning side effect. Execute must be
// safe to re-run against a partially applied prior attempt.
type Action interface {
	Name() string
	Execute(ctx context.Context, in Input) (map[string]string, error)
}

// CompensatingAction undoes a completed step's side effect during rollback.
type CompensatingAction interface {
	Name() string
	Compensate(ctx context.Context, in Input) error
}

// Registry is the closed tagged-variant action set.
type Registry struct {
	actions       map[string]Action
	compensations map[string]CompensatingAction
}

func NewRegistry() *Registry {
	return &Registry{
		actions:       make(map[string]Action),
		compensations: make(map[string]CompensatingAction),
	}
}

func (r *Registry) Register(a Action) {
	r.actions[a.Name()] = a
}

func (r *Registry) RegisterCompensation(c CompensatingAction) {
	r.compensations[c.Name()] = c
}

func (r *Registry) Has(name string) bool {
	_, ok := r.actions[name]
	return ok
}

func (r *Registry) HasCompensation(name string) bool {
	_, ok := r.compensations[name]
	return ok
}

// Execute dispatches one forward action. An unknown action name is fatal:
// it means the frozen plan references a variant this build does not carry.
func (r *Registry) Execute(ctx context.Context, name string, in Input) (map[string]string, error) {
	a, ok := r.actions[name]
	if !ok {
		return nil, Fatal(fmt.Errorf("unknown action: %s", name))
	}
	return a.Execute(ctx, in)
}

// Compensate dispatches one compensating action.
func (r *Registry) Compensate(ctx context.Context, name string, in Input) error {
	c, ok := r.compensations[name]
	if !ok {
		return Fatal(fmt.Errorf("unknown compensating action: %s", name))
	}
	return c.Compensate(ctx, in)
}

// ValidatePlan checks a template's action document against the registry.
// Called at template-save time so a bad document never reaches execution.
func (r *Registry) ValidatePlan(p *core.Plan) error {
	if p == nil || len(p.Actions) == 0 {
		return fmt.Errorf("plan has no actions")
	}
	for i, a := range p.Actions {
		if a.Name == "" {
			return fmt.Errorf("action %d: missing name", i)
		}
		if !r.Has(a.Name) {
			return fmt.Errorf("action %d: unknown action %q", i, a.Name)
		}
		if a.Compensate != "" && !r.HasCompensation(a.Compensate) {
			return fmt.Errorf("action %d: unknown compensating action %q", i, a.Compensate)
		}
		if a.TimeoutSeconds < 0 {
			return fmt.Errorf("action %d: negative timeout", i)
		}
	}
	return nil
}
