package core

import "encoding/json"

// ActionSpec is one entry in a template's ordered action list. Fatal marks
// actions whose failure is never retried; Compensate names the compensating
// action invoked during rollback (empty means the step is skipped on
// rollback).
type ActionSpec struct {
	Name           string            `json:"name"`
	Params         map[string]string `json:"params,omitempty"`
	Fatal          bool              `json:"fatal,omitempty"`
	Compensate     string            `json:"compensate,omitempty"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty"`
}

// Plan is the frozen, resolved action sequence for one workspace. It is
// deep-copied from the template config at provisioning start so concurrent
// template edits cannot change an in-flight workspace, and it round-trips
// losslessly through the store so provisioning resumes across restarts.
type Plan struct {
	Actions         []ActionSpec `json:"actions"`
	RollbackOnFatal bool         `json:"rollback_on_fatal_error"`
}

// Clone returns a deep copy of the plan.
func (p *Plan) Clone() *Plan {
	out := &Plan{
		Actions:         make([]ActionSpec, len(p.Actions)),
		RollbackOnFatal: p.RollbackOnFatal,
	}
	for i, a := range p.Actions {
		c := a
		if a.Params != nil {
			c.Params = make(map[string]string, len(a.Params))
			for k, v := range a.Params {
				c.Params[k] = v
			}
		}
		out.Actions[i] = c
	}
	return out
}

func (p *Plan) MarshalDocument() ([]byte, error) {
	return json.Marshal(p)
}

func PlanFromDocument(doc []byte) (*Plan, error) {
	var p Plan
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, err
	}
	return &p, nil
}
