package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/orbitenv/orbit/internal/core"
)

// CreateTemplate registers a new workspace template. The action document is
// validated against the closed action set before anything is persisted.
func (a *API) CreateTemplate(w http.ResponseWriter, r *http.Request) {
	var t core.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	t.TemplateID = ""
	t.Active = true

	created, err := a.templates.Create(r.Context(), &t)
	if err != nil {
		a.log.Error("create template failed", zap.Error(err))
		writeErr(w, err, "failed to create template")
		return
	}

	a.writeAudit(r, "", "template.create", map[string]string{"template_id": created.TemplateID})
	WriteJSON(w, http.StatusCreated, created)
}

// ListTemplates lists templates; ?active=true restricts to active ones.
func (a *API) ListTemplates(w http.ResponseWriter, r *http.Request) {
	activeOnly := r.URL.Query().Get("active") == "true"
	templates, err := a.templates.List(r.Context(), activeOnly)
	if err != nil {
		a.log.Error("list templates failed", zap.Error(err))
		writeErr(w, err, "failed to list templates")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{"templates": templates})
}

// GetTemplate gets a single template.
func (a *API) GetTemplate(w http.ResponseWriter, r *http.Request) {
	t, err := a.templates.Get(r.Context(), chi.URLParam(r, "template_id"))
	if err != nil {
		writeErr(w, err, "failed to get template")
		return
	}
	WriteJSON(w, http.StatusOK, t)
}

// UpdateTemplate replaces a template's definition. Workspaces already
// provisioning keep their frozen plan; only new workspaces see the edit.
func (a *API) UpdateTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "template_id")

	var t core.Template
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid request body"))
		return
	}
	t.TemplateID = templateID

	updated, err := a.templates.Update(r.Context(), &t)
	if err != nil {
		writeErr(w, err, "failed to update template")
		return
	}

	a.writeAudit(r, "", "template.update", map[string]string{"template_id": templateID})
	WriteJSON(w, http.StatusOK, updated)
}

// DeactivateTemplate retires a template. Existing workspaces are untouched;
// new workspaces can no longer reference it.
func (a *API) DeactivateTemplate(w http.ResponseWriter, r *http.Request) {
	templateID := chi.URLParam(r, "template_id")

	if err := a.templates.Deactivate(r.Context(), templateID); err != nil {
		writeErr(w, err, "failed to deactivate template")
		return
	}

	a.writeAudit(r, "", "template.deactivate", map[string]string{"template_id": templateID})
	w.WriteHeader(http.StatusNoContent)
}
