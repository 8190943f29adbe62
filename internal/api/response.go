package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/jackc/pgx/v5"

	"github.com/orbitenv/orbit/internal/core"
)

// ErrorResponse is the wire shape of every error this API returns.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// WriteError writes an orbit error response.
func WriteError(w http.ResponseWriter, err *core.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code.HTTPStatus())
	json.NewEncoder(w).Encode(ErrorResponse{
		Code:    string(err.Code),
		Message: err.Message,
	})
}

// WriteJSON writes a JSON response.
func WriteJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeErr maps any error onto the wire: AppErrors pass through, a missing
// row is 404, everything else is a 500 with a generic message.
func writeErr(w http.ResponseWriter, err error, fallback string) {
	var appErr *core.AppError
	if errors.As(err, &appErr) {
		WriteError(w, appErr)
		return
	}
	if errors.Is(err, pgx.ErrNoRows) {
		WriteError(w, core.NewAppError(core.ErrNotFound, "not found"))
		return
	}
	WriteError(w, core.NewAppError(core.ErrInternal, fallback))
}
