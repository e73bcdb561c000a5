package response

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/vetle/fleet/internal/core"
)

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}

// WriteServiceError maps the service layer's error types onto HTTP statuses.
func WriteServiceError(w http.ResponseWriter, err error) {
	var validationErr *core.ValidationError
	var preconditionErr *core.PreconditionError
	var connectivityErr *core.ConnectivityError
	var remoteErr *core.RemoteApplyError

	switch {
	case errors.Is(err, core.ErrNotFound):
		WriteError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &validationErr):
		WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &preconditionErr):
		WriteError(w, http.StatusConflict, err.Error())
	case errors.As(err, &connectivityErr), errors.As(err, &remoteErr):
		WriteError(w, http.StatusBadGateway, err.Error())
	default:
		WriteError(w, http.StatusInternalServerError, err.Error())
	}
}

// WriteWithWarning writes a payload, attaching the warning when present.
func WriteWithWarning(w http.ResponseWriter, status int, v any, warning string) {
	if warning == "" {
		WriteJSON(w, status, v)
		return
	}
	WriteJSON(w, status, map[string]any{
		"result":  v,
		"warning": warning,
	})
}
