package emergencyapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/beacon/internal/contact"
)

type contactRequest struct {
	Name     string         `json:"name"`
	Phone    string         `json:"phone"`
	Email    string         `json:"email"`
	Relation string         `json:"relationship"`
	Primary  bool           `json:"isPrimary"`
	Prefs    *contact.Prefs `json:"notificationPreferences"`
}

func (a *API) handleAddContact(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}

	var req contactRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Name == "" || req.Phone == "" {
		respondError(w, http.StatusBadRequest, "name and phone are required", nil)
		return
	}
	rel := contact.Relation(req.Relation)
	if rel == "" {
		rel = contact.RelationOther
	}
	if !rel.Valid() {
		respondError(w, http.StatusBadRequest, "unknown relationship", nil)
		return
	}
	// SMS on by default; a contact with every channel off would never be
	// reached.
	prefs := contact.Prefs{SMS: true}
	if req.Prefs != nil {
		prefs = *req.Prefs
	}

	c, err := a.contacts.Add(r.Context(), u.ID, contact.Params{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Relation: rel,
		Primary:  req.Primary,
		Prefs:    prefs,
	})
	if err != nil {
		a.respondServiceError(w, r, err, "add contact")
		return
	}

	respondData(w, http.StatusCreated, c, "contact added")
}

func (a *API) handleListContacts(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}

	contacts, err := a.contacts.ListActive(r.Context(), u.ID)
	if err != nil {
		a.respondServiceError(w, r, err, "list contacts")
		return
	}

	respondData(w, http.StatusOK, contacts, "")
}

type contactPatchRequest struct {
	Name     *string           `json:"name"`
	Phone    *string           `json:"phone"`
	Email    *string           `json:"email"`
	Relation *contact.Relation `json:"relationship"`
	Primary  *bool             `json:"isPrimary"`
	Active   *bool             `json:"isActive"`
	Prefs    *contact.Prefs    `json:"notificationPreferences"`
}

func (a *API) handleUpdateContact(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	var req contactPatchRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Relation != nil && !req.Relation.Valid() {
		respondError(w, http.StatusBadRequest, "unknown relationship", nil)
		return
	}

	c, err := a.contacts.Update(r.Context(), id, u.ID, contact.Patch{
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Relation: req.Relation,
		Primary:  req.Primary,
		Active:   req.Active,
		Prefs:    req.Prefs,
	})
	if err != nil {
		a.respondServiceError(w, r, err, "update contact")
		return
	}

	respondData(w, http.StatusOK, c, "contact updated")
}

func (a *API) handleDeleteContact(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	if err := a.contacts.Delete(r.Context(), id, u.ID); err != nil {
		a.respondServiceError(w, r, err, "delete contact")
		return
	}

	respondData(w, http.StatusOK, nil, "contact removed")
}
