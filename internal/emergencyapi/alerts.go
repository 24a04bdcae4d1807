package emergencyapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/emergency"
)

type activateRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	Address   string   `json:"address"`
	Accuracy  float64  `json:"accuracy"`
	AlertType string   `json:"alertType"`
	Message   string   `json:"message"`
}

func (a *API) handleActivate(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}

	var req activateRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		respondError(w, http.StatusBadRequest, "latitude and longitude are required", nil)
		return
	}

	summary, err := a.emergency.Activate(r.Context(), u, emergency.ActivateParams{
		Location: alert.Location{
			Latitude:  *req.Latitude,
			Longitude: *req.Longitude,
			Address:   req.Address,
			Accuracy:  req.Accuracy,
		},
		Type:    alert.Type(req.AlertType),
		Message: req.Message,
	})
	if err != nil {
		a.respondServiceError(w, r, err, "activate alert")
		return
	}

	span := trace.SpanFromContext(r.Context())
	span.SetAttributes(attribute.String("beacon.alert.id", summary.AlertID))

	respondData(w, http.StatusCreated, summary, "emergency alert activated")
}

func (a *API) handleHistory(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			respondError(w, http.StatusBadRequest, "limit must be a non-negative integer", nil)
			return
		}
		limit = n
	}

	alerts, err := a.emergency.History(r.Context(), u, limit)
	if err != nil {
		a.respondServiceError(w, r, err, "list alerts")
		return
	}

	respondData(w, http.StatusOK, alerts, "")
}

func (a *API) handleActive(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}

	alerts, err := a.emergency.Active(r.Context(), u)
	if err != nil {
		a.respondServiceError(w, r, err, "list active alerts")
		return
	}

	respondData(w, http.StatusOK, alerts, "")
}

func (a *API) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	al, err := a.emergency.Get(r.Context(), u, id)
	if err != nil {
		a.respondServiceError(w, r, err, "get alert")
		return
	}

	respondData(w, http.StatusOK, al, "")
}

type resolveRequest struct {
	Outcome string `json:"outcome"`
	Notes   string `json:"notes"`
}

func (a *API) handleResolve(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req resolveRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	al, err := a.emergency.Resolve(r.Context(), u, id, req.Outcome, req.Notes)
	if err != nil {
		a.respondServiceError(w, r, err, "resolve alert")
		return
	}

	respondData(w, http.StatusOK, al, "alert resolved")
}

func (a *API) handleFalseAlarm(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	al, err := a.emergency.MarkFalseAlarm(r.Context(), u, id)
	if err != nil {
		a.respondServiceError(w, r, err, "mark false alarm")
		return
	}

	respondData(w, http.StatusOK, al, "alert marked as false alarm")
}
