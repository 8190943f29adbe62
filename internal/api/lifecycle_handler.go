package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// StartWorkspace starts a completed workspace synchronously. A host with no
// spare capacity answers ORB_RESOURCE_EXHAUSTED; the caller decides whether
// to retry.
func (a *API) StartWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if err := a.lifecycle.Start(r.Context(), wsid); err != nil {
		writeErr(w, err, "failed to start workspace")
		return
	}

	a.writeAudit(r, wsid, "workspace.start", nil)
	a.writeRunState(w, r, wsid)
}

// StopWorkspace stops a running workspace. Idempotent.
func (a *API) StopWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if err := a.lifecycle.Stop(r.Context(), wsid); err != nil {
		writeErr(w, err, "failed to stop workspace")
		return
	}

	a.writeAudit(r, wsid, "workspace.stop", nil)
	a.writeRunState(w, r, wsid)
}

// TouchWorkspace records activity, deferring idle auto-stop.
func (a *API) TouchWorkspace(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")

	if err := a.lifecycle.Touch(r.Context(), wsid); err != nil {
		writeErr(w, err, "failed to touch workspace")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) writeRunState(w http.ResponseWriter, r *http.Request, wsid string) {
	ws, err := a.store.GetWorkspace(r.Context(), wsid)
	if err != nil {
		writeErr(w, err, "failed to get workspace")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"wsid":             ws.WSID,
		"is_running":       ws.IsRunning,
		"port":             ws.Port,
		"last_started_at":  ws.LastStartedAt,
		"last_stopped_at":  ws.LastStoppedAt,
		"last_accessed_at": ws.LastAccessedAt,
	})
}
