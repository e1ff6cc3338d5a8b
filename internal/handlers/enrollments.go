package handlers

import (
	"net/http"
	"strconv"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/middleware"
)

type assignPolicyRequest struct {
	PolicyID string `json:"policy_id"`
}

func (h *Handlers) ListEnrollments(w http.ResponseWriter, r *http.Request) {
	views, err := h.mdm.ListEnrollments(r.Context(), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, views)
}

func (h *Handlers) GetEnrollment(w http.ResponseWriter, r *http.Request) {
	v, err := h.mdm.GetEnrollment(r.Context(), r.PathValue("id"), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, v)
}

// DeleteEnrollment removes the enrollment, or with ?wipe=true starts a
// retiring delete and answers 202.
func (h *Handlers) DeleteEnrollment(w http.ResponseWriter, r *http.Request) {
	wipe := false
	if v := r.URL.Query().Get("wipe"); v != "" {
		var err error
		if wipe, err = strconv.ParseBool(v); err != nil {
			middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "wipe must be true or false"))
			return
		}
	}
	if err := h.mdm.DeleteEnrollment(r.Context(), r.PathValue("id"), operatorID(r), wipe); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if wipe {
		w.WriteHeader(http.StatusAccepted)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) AssignPolicy(w http.ResponseWriter, r *http.Request) {
	var req assignPolicyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.mdm.AssignPolicy(r.Context(), r.PathValue("id"), req.PolicyID, operatorID(r)); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SetPingInterval(w http.ResponseWriter, r *http.Request) {
	var req pingIntervalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if err := h.mdm.SetPingInterval(r.Context(), r.PathValue("id"), operatorID(r), req.Minutes); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
