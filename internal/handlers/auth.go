package handlers

import (
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/middleware"
)

var errSignInDisabled = apperr.New(apperr.PrecheckFailed, "operator sign-in is not configured")

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		middleware.WriteError(w, r, errSignInDisabled)
		return
	}
	// Check if already logged in
	if _, _, ok := h.sessions.GetUser(r); ok {
		http.Redirect(w, r, "/api/v1/me", http.StatusSeeOther)
		return
	}

	state := middleware.GenerateState()
	if err := h.sessions.SetState(r, w, state); err != nil {
		middleware.WriteError(w, r, apperr.Wrap(err, "save session state"))
		return
	}
	http.Redirect(w, r, h.oidc.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

func (h *Handlers) Callback(w http.ResponseWriter, r *http.Request) {
	if h.oidc == nil {
		middleware.WriteError(w, r, errSignInDisabled)
		return
	}
	expected := h.sessions.State(r)
	if expected == "" || r.URL.Query().Get("state") != expected {
		middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "state mismatch"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "no code in callback"))
		return
	}

	claims, err := h.oidc.Exchange(r.Context(), code)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("oidc exchange failed")
		middleware.WriteError(w, r, apperr.New(apperr.Unauthenticated, "sign-in failed"))
		return
	}

	isAdmin := h.oidc.IsAdmin(claims)
	if _, err := h.db.UpsertUser(r.Context(), claims.Subject, claims.Email, claims.Name, isAdmin); err != nil {
		middleware.WriteError(w, r, apperr.Wrap(err, "upsert user"))
		return
	}
	if err := h.sessions.SetUser(r, w, claims.Subject, isAdmin); err != nil {
		middleware.WriteError(w, r, apperr.Wrap(err, "create session"))
		return
	}

	zerolog.Ctx(r.Context()).Info().Str("user_id", claims.Subject).Bool("admin", isAdmin).Msg("operator signed in")
	http.Redirect(w, r, "/api/v1/me", http.StatusSeeOther)
}

func (h *Handlers) Logout(w http.ResponseWriter, r *http.Request) {
	h.sessions.Clear(r, w)
	w.WriteHeader(http.StatusNoContent)
}

type meResponse struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	user := middleware.GetUser(r.Context())
	middleware.WriteJSON(w, http.StatusOK, meResponse{
		ID:      user.ID,
		Email:   user.Email,
		Name:    user.Name,
		IsAdmin: middleware.IsAdmin(r.Context()),
	})
}
