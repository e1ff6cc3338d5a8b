package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/mdm"
	"github.com/jclement/droidmdm/internal/middleware"
)

type createCommandRequest struct {
	Type       string          `json:"type"`
	Parameters json.RawMessage `json:"parameters"`
}

func (h *Handlers) CreateCommand(w http.ResponseWriter, r *http.Request) {
	var req createCommandRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	payload, err := mdm.DecodePayload(req.Type, req.Parameters)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	cmd, err := h.mdm.CreateCommand(r.Context(), r.PathValue("id"), operatorID(r), payload)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, cmd)
}

func (h *Handlers) CommandHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "limit must be a number"))
			return
		}
		limit = n
	}
	cmds, err := h.mdm.CommandHistory(r.Context(), r.PathValue("id"), operatorID(r), limit)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cmds)
}

func (h *Handlers) CancelCommand(w http.ResponseWriter, r *http.Request) {
	cmd, err := h.mdm.CancelCommand(r.Context(), r.PathValue("id"), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cmd)
}
