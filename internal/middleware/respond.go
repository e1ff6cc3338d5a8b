package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/jclement/droidmdm/internal/apperr"
)

type errorBody struct {
	Error     apperr.Kind `json:"error"`
	Message   string      `json:"message"`
	Reason    string      `json:"reason,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// WriteError answers with the kind, caller-safe message and request id of
// err. Internal causes are logged, never sent.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)

	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Msg("request failed")
	} else {
		logger.Debug().Str("kind", string(kind)).Msg(apperr.Message(err))
	}

	WriteJSON(w, status, errorBody{
		Error:     kind,
		Message:   apperr.Message(err),
		Reason:    apperr.ReasonOf(err),
		RequestID: RequestID(r.Context()),
	})
}
