// Package handlers exposes the MDM core over HTTP: the device protocol
// under /api/v1/device, the operator JSON API under /api/v1 and the APK
// download routes.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/jclement/droidmdm/internal/apkstore"
	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/auth"
	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/mdm"
	"github.com/jclement/droidmdm/internal/metrics"
	"github.com/jclement/droidmdm/internal/middleware"
)

const maxJSONBody = 1 << 20

type Handlers struct {
	mdm      *mdm.Service
	db       *db.DB
	oidc     *auth.OIDCProvider
	sessions *middleware.SessionStore
	auth     *middleware.AuthMiddleware
	files    *apkstore.Local
	metrics  *metrics.Metrics
	version  string
}

// New wires the handlers. oidc may be nil when operator sign-in is not
// configured; files is nil unless APKs are kept in a local directory.
func New(svc *mdm.Service, database *db.DB, oidc *auth.OIDCProvider, sessions *middleware.SessionStore,
	files *apkstore.Local, m *metrics.Metrics, version string) *Handlers {
	return &Handlers{
		mdm:      svc,
		db:       database,
		oidc:     oidc,
		sessions: sessions,
		auth:     middleware.NewAuthMiddleware(sessions, database, svc),
		files:    files,
		metrics:  m,
		version:  version,
	}
}

// Routes returns the mux serving every route.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	handle := func(pattern, name string, fn http.Handler) {
		mux.Handle(pattern, h.metrics.Instrument(name, fn))
	}
	device := func(fn http.HandlerFunc) http.Handler { return h.auth.RequireDevice(fn) }
	operator := func(fn http.HandlerFunc) http.Handler { return h.auth.RequireAuth(fn) }

	// Device protocol
	handle("GET /api/v1/device/tokens/{token}", "device_token", http.HandlerFunc(h.ValidateToken))
	handle("POST /api/v1/device/provision", "device_provision", http.HandlerFunc(h.Provision))
	handle("POST /api/v1/device/register", "device_register", h.auth.OptionalAuth(http.HandlerFunc(h.Register)))
	handle("POST /api/v1/device/heartbeat", "device_heartbeat", device(h.Heartbeat))
	handle("GET /api/v1/device/commands", "device_commands", device(h.PendingCommands))
	handle("POST /api/v1/device/commands/{id}/status", "device_command_status", device(h.CommandStatus))
	handle("GET /api/v1/device/policy", "device_policy", device(h.DevicePolicy))
	handle("POST /api/v1/device/ping-interval", "device_ping_interval", device(h.DevicePingInterval))

	// APK delivery
	handle("GET /apk/download", "apk_download", http.HandlerFunc(h.DownloadAPK))
	handle("GET /apk/files/{key}", "apk_file", http.HandlerFunc(h.ServeAPKFile))

	// Operator API
	handle("GET /api/v1/me", "me", operator(h.Me))

	handle("GET /api/v1/tokens", "tokens", operator(h.ListTokens))
	handle("POST /api/v1/tokens", "tokens", operator(h.CreateToken))
	handle("DELETE /api/v1/tokens/{id}", "token", operator(h.DeleteToken))
	handle("GET /api/v1/tokens/{id}/payload", "token_payload", operator(h.TokenPayload))
	handle("GET /api/v1/tokens/{id}/qr.png", "token_qr", operator(h.TokenQRCode))

	handle("GET /api/v1/policies", "policies", operator(h.ListPolicies))
	handle("POST /api/v1/policies", "policies", operator(h.CreatePolicy))
	handle("GET /api/v1/policies/{id}", "policy", operator(h.GetPolicy))
	handle("PUT /api/v1/policies/{id}", "policy", operator(h.UpdatePolicy))
	handle("DELETE /api/v1/policies/{id}", "policy", operator(h.DeletePolicy))
	handle("POST /api/v1/policies/{id}/default", "policy_default", operator(h.SetDefaultPolicy))

	handle("GET /api/v1/enrollments", "enrollments", operator(h.ListEnrollments))
	handle("GET /api/v1/enrollments/{id}", "enrollment", operator(h.GetEnrollment))
	handle("DELETE /api/v1/enrollments/{id}", "enrollment", operator(h.DeleteEnrollment))
	handle("PUT /api/v1/enrollments/{id}/policy", "enrollment_policy", operator(h.AssignPolicy))
	handle("PUT /api/v1/enrollments/{id}/ping-interval", "enrollment_ping_interval", operator(h.SetPingInterval))
	handle("POST /api/v1/enrollments/{id}/commands", "enrollment_commands", operator(h.CreateCommand))
	handle("GET /api/v1/enrollments/{id}/commands", "enrollment_commands", operator(h.CommandHistory))
	handle("POST /api/v1/commands/{id}/cancel", "command_cancel", operator(h.CancelCommand))

	handle("GET /api/v1/apks", "apks", operator(h.ListAPKs))
	handle("GET /api/v1/apks/current", "apk_current", operator(h.CurrentAPK))
	handle("POST /api/v1/apks", "apks", h.auth.RequireAdmin(http.HandlerFunc(h.UploadAPK)))

	// Auth routes
	mux.HandleFunc("GET /auth/login", h.Login)
	mux.HandleFunc("GET /auth/callback", h.Callback)
	mux.HandleFunc("GET /auth/logout", h.Logout)

	mux.HandleFunc("GET /healthz", h.Health)
	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics.Handler())
	}
	return mux
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return apperr.New(apperr.InvalidArgument, "request body too large")
		case errors.Is(err, io.EOF):
			return apperr.New(apperr.InvalidArgument, "request body is empty")
		default:
			return apperr.New(apperr.InvalidArgument, "invalid JSON body")
		}
	}
	return nil
}

func operatorID(r *http.Request) string {
	if user := middleware.GetUser(r.Context()); user != nil {
		return user.ID
	}
	return ""
}
