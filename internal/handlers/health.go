package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jclement/droidmdm/internal/middleware"
)

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("database ping failed")
		middleware.WriteJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", Version: h.version})
		return
	}
	middleware.WriteJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: h.version})
}
