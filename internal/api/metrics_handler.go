package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/orbitenv/orbit/internal/core"
)

// ListWorkspaceMetrics returns stored samples for one workspace, oldest
// first, optionally bounded by ?from= and ?to= (RFC3339).
func (a *API) ListWorkspaceMetrics(w http.ResponseWriter, r *http.Request) {
	wsid := chi.URLParam(r, "wsid")
	q := r.URL.Query()

	from, err := parseTimeParam(q.Get("from"))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid from timestamp"))
		return
	}
	to, err := parseTimeParam(q.Get("to"))
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrBadRequest, "invalid to timestamp"))
		return
	}
	limit := parseLimit(q.Get("limit"), 100, 1000)

	// 404 for a workspace that does not exist, empty list for one that has
	// no samples yet.
	if _, err := a.store.GetWorkspace(r.Context(), wsid); err != nil {
		writeErr(w, err, "failed to get workspace")
		return
	}

	samples, err := a.store.ListMetricSamples(r.Context(), wsid, from, to, limit)
	if err != nil {
		WriteError(w, core.NewAppError(core.ErrInternal, "failed to list samples"))
		return
	}
	if samples == nil {
		samples = []*core.MetricSample{}
	}
	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"wsid":    wsid,
		"samples": samples,
	})
}

func parseTimeParam(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
