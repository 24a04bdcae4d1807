package emergencyapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/auth"
	"github.com/linnemanlabs/beacon/internal/contact"
	"github.com/linnemanlabs/beacon/internal/emergency"
	"github.com/linnemanlabs/beacon/internal/user"
)

// envelope is the uniform response shape for every endpoint.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

func respondData(w http.ResponseWriter, status int, data any, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{
		Success: true,
		Data:    data,
		Message: message,
	})
}

func respondError(w http.ResponseWriter, status int, message string, err error) {
	body := envelope{
		Success: false,
		Message: message,
	}
	// Only client errors carry detail; 5xx stays opaque.
	if err != nil && status < http.StatusInternalServerError {
		body.Error = err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondServiceError maps a domain error to a status code. Anything not
// in the taxonomy is logged by the caller and reported as a 500.
func (a *API) respondServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	switch {
	case errors.Is(err, emergency.ErrInvalidLocation),
		errors.Is(err, emergency.ErrInvalidType),
		errors.Is(err, emergency.ErrNoContacts),
		errors.Is(err, alert.ErrInvalidTransition),
		errors.Is(err, contact.ErrDuplicatePhone),
		errors.Is(err, user.ErrInvalidInput),
		errors.Is(err, user.ErrEmailTaken):
		respondError(w, http.StatusBadRequest, err.Error(), nil)
	case errors.Is(err, user.ErrInvalidCredentials):
		respondError(w, http.StatusUnauthorized, "invalid email or password", nil)
	case errors.Is(err, user.ErrAccountDisabled):
		respondError(w, http.StatusForbidden, "account is deactivated", nil)
	case errors.Is(err, alert.ErrNotFound),
		errors.Is(err, contact.ErrNotFound),
		errors.Is(err, user.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", nil)
	default:
		a.logger.Error(r.Context(), err, op+" failed")
		respondError(w, http.StatusInternalServerError, "internal error", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid JSON payload", nil)
		return false
	}
	return true
}

// callerFromContext fetches the authenticated user. The auth middleware
// guarantees it is present on guarded routes; the fallback guards against
// miswired routers.
func callerFromContext(w http.ResponseWriter, r *http.Request) (*user.User, bool) {
	u, ok := auth.FromContext(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "authentication required", nil)
		return nil, false
	}
	return u, true
}
