package handlers

import (
	"math"
	"net/http"
	"time"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/middleware"
	"github.com/jclement/droidmdm/internal/provisioning"
)

// maxTTLSeconds is the largest TTL that still fits in a time.Duration.
const maxTTLSeconds = math.MaxInt64 / int64(time.Second)

type createTokenRequest struct {
	PolicyID   string `json:"policy_id"`
	TTLSeconds int64  `json:"ttl_seconds"`
}

func (h *Handlers) ListTokens(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.mdm.ListTokens(r.Context(), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, tokens)
}

func (h *Handlers) CreateToken(w http.ResponseWriter, r *http.Request) {
	var req createTokenRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	if req.TTLSeconds < 0 {
		middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "ttl_seconds must not be negative"))
		return
	}
	if req.TTLSeconds > maxTTLSeconds {
		middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "ttl_seconds must be at most %d", maxTTLSeconds))
		return
	}
	t, err := h.mdm.CreateToken(r.Context(), operatorID(r), req.PolicyID, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, t)
}

func (h *Handlers) DeleteToken(w http.ResponseWriter, r *http.Request) {
	if err := h.mdm.DeleteToken(r.Context(), r.PathValue("id"), operatorID(r)); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) TokenPayload(w http.ResponseWriter, r *http.Request) {
	payload, err := h.mdm.ProvisioningPayload(r.Context(), r.PathValue("id"), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, payload)
}

func (h *Handlers) TokenQRCode(w http.ResponseWriter, r *http.Request) {
	payload, err := h.mdm.ProvisioningPayload(r.Context(), r.PathValue("id"), operatorID(r))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	png, err := payload.QRCode(provisioning.DefaultQRSize)
	if err != nil {
		middleware.WriteError(w, r, apperr.Wrap(err, "render qr code"))
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(png)
}
