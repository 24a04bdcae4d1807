// Package emergencyapi exposes the alert, contact and account operations
// over HTTP. Responses use a uniform JSON envelope; error kinds map to
// status codes in respond.go.
package emergencyapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/beacon/internal/alert"
	"github.com/linnemanlabs/beacon/internal/contact"
	"github.com/linnemanlabs/beacon/internal/emergency"
	"github.com/linnemanlabs/beacon/internal/user"
)

// EmergencyService defines the alert lifecycle operations the API needs.
type EmergencyService interface {
	Activate(ctx context.Context, u *user.User, p emergency.ActivateParams) (*emergency.Summary, error)
	Resolve(ctx context.Context, u *user.User, alertID, outcome, notes string) (*alert.Alert, error)
	MarkFalseAlarm(ctx context.Context, u *user.User, alertID string) (*alert.Alert, error)
	Get(ctx context.Context, u *user.User, alertID string) (*alert.Alert, error)
	Active(ctx context.Context, u *user.User) ([]*alert.Alert, error)
	History(ctx context.Context, u *user.User, limit int) ([]*alert.Alert, error)
}

// AccountService defines the account operations the API needs.
type AccountService interface {
	Register(ctx context.Context, p user.RegisterParams) (*user.User, error)
	Login(ctx context.Context, email, password string) (string, *user.User, error)
}

// LiveHub upgrades a request into a live event subscription.
type LiveHub interface {
	ServeWS(w http.ResponseWriter, r *http.Request, userID string)
}

// API holds dependencies for HTTP handlers.
type API struct {
	logger    log.Logger
	emergency EmergencyService
	contacts  contact.Store
	accounts  AccountService
	hub       LiveHub // optional
}

// New creates a new API handler. hub may be nil when live updates are not
// deployed.
func New(logger log.Logger, emergencySvc EmergencyService, contacts contact.Store, accounts AccountService, hub LiveHub) *API {
	if logger == nil {
		logger = log.Nop()
	}
	if emergencySvc == nil {
		panic(xerrors.New("emergency service is required"))
	}
	if contacts == nil {
		panic(xerrors.New("contact store is required"))
	}
	if accounts == nil {
		panic(xerrors.New("account service is required"))
	}
	return &API{
		logger:    logger,
		emergency: emergencySvc,
		contacts:  contacts,
		accounts:  accounts,
		hub:       hub,
	}
}

// RegisterRoutes attaches API endpoints to the router. authn guards
// everything except registration and login.
func (a *API) RegisterRoutes(r chi.Router, authn func(http.Handler) http.Handler) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/register", a.handleRegister)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(authn)
			r.Get("/auth/me", a.handleMe)

			r.Route("/emergency", func(r chi.Router) {
				r.Post("/alert", a.handleActivate)
				r.Get("/alerts", a.handleHistory)
				r.Get("/alerts/active", a.handleActive)
				r.Get("/alerts/{id}", a.handleGetAlert)
				r.Put("/alerts/{id}/resolve", a.handleResolve)
				r.Put("/alerts/{id}/false-alarm", a.handleFalseAlarm)

				r.Post("/contacts", a.handleAddContact)
				r.Get("/contacts", a.handleListContacts)
				r.Put("/contacts/{id}", a.handleUpdateContact)
				r.Delete("/contacts/{id}", a.handleDeleteContact)

				r.Get("/live", a.handleLive)
			})
		})
	})
}

// handleLive hands the connection to the hub for the authenticated user.
func (a *API) handleLive(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	if a.hub == nil {
		respondError(w, http.StatusNotFound, "live updates not available", nil)
		return
	}
	a.hub.ServeWS(w, r, u.ID)
}
