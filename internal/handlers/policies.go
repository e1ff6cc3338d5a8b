package handlers

import (
	"net/http"

	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/middleware"
)

func (h *Handlers) ListPolicies(w http.ResponseWriter, r *http.Request) {
	policies, err := h.mdm.ListPolicies(r.Context(), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, policies)
}

func (h *Handlers) CreatePolicy(w http.ResponseWriter, r *http.Request) {
	var p db.Policy
	if err := decodeJSON(w, r, &p); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	created, err := h.mdm.CreatePolicy(r.Context(), operatorID(r), &p)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, created)
}

func (h *Handlers) GetPolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.mdm.GetPolicy(r.Context(), r.PathValue("id"), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	var p db.Policy
	if err := decodeJSON(w, r, &p); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	updated, err := h.mdm.UpdatePolicy(r.Context(), r.PathValue("id"), operatorID(r), &p)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, updated)
}

func (h *Handlers) DeletePolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.mdm.DeletePolicy(r.Context(), r.PathValue("id"), operatorID(r)); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetDefaultPolicy(w http.ResponseWriter, r *http.Request) {
	if err := h.mdm.SetDefaultPolicy(r.Context(), r.PathValue("id"), operatorID(r)); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
