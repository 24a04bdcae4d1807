package emergencyapi

import (
	"net/http"
	"time"

	"github.com/linnemanlabs/beacon/internal/user"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type userView struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}

func viewUser(u *user.User) userView {
	return userView{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Phone:     u.Phone,
		Active:    u.Active,
		CreatedAt: u.CreatedAt,
	}
}

func (a *API) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	u, err := a.accounts.Register(r.Context(), user.RegisterParams{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Password: req.Password,
	})
	if err != nil {
		a.respondServiceError(w, r, err, "register")
		return
	}

	respondData(w, http.StatusCreated, viewUser(u), "account created")
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	token, u, err := a.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		a.respondServiceError(w, r, err, "login")
		return
	}

	respondData(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  viewUser(u),
	}, "")
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	u, ok := callerFromContext(w, r)
	if !ok {
		return
	}
	respondData(w, http.StatusOK, viewUser(u), "")
}
