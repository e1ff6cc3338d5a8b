package handlers

import (
	"net/http"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/mdm"
	"github.com/jclement/droidmdm/internal/middleware"
)

type provisionRequest struct {
	Token    string `json:"token"`
	DeviceID string `json:"device_id"`
}

type commandStatusRequest struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}

type pingIntervalRequest struct {
	Minutes int `json:"minutes"`
}

// ValidateToken answers pre-provisioning token checks. An unusable token is
// still a 200 with the reason.
func (h *Handlers) ValidateToken(w http.ResponseWriter, r *http.Request) {
	v, err := h.mdm.ValidateToken(r.Context(), r.PathValue("token"))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, v)
}

func (h *Handlers) Provision(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	res, err := h.mdm.Provision(r.Context(), req.Token, req.DeviceID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// Register enrolls or re-enrolls a device. A signed-in operator's session,
// when present, is used to bind an otherwise unowned device.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	var req mdm.RegisterRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	req.OperatorID = operatorID(r)

	reg, err := h.mdm.RegisterOrUpdate(r.Context(), req)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	status := http.StatusOK
	if reg.Created {
		status = http.StatusCreated
	}
	middleware.WriteJSON(w, status, reg)
}

func (h *Handlers) Heartbeat(w http.ResponseWriter, r *http.Request) {
	e := middleware.GetEnrollment(r.Context())
	res, err := h.mdm.Heartbeat(r.Context(), e.ID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (h *Handlers) PendingCommands(w http.ResponseWriter, r *http.Request) {
	e := middleware.GetEnrollment(r.Context())
	cmds, err := h.mdm.ListPendingCommands(r.Context(), e.ID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cmds)
}

func (h *Handlers) CommandStatus(w http.ResponseWriter, r *http.Request) {
	var req commandStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	e := middleware.GetEnrollment(r.Context())
	cmd, err := h.mdm.UpdateCommandStatus(r.Context(), e.ID, r.PathValue("id"), db.CommandStatus(req.Status), req.Error)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, cmd)
}

func (h *Handlers) DevicePolicy(w http.ResponseWriter, r *http.Request) {
	p, err := h.mdm.PolicyForEnrollment(r.Context(), middleware.GetEnrollment(r.Context()))
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, p)
}

func (h *Handlers) DevicePingInterval(w http.ResponseWriter, r *http.Request) {
	var req pingIntervalRequest
	if err := decodeJSON(w, r, &req); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	e := middleware.GetEnrollment(r.Context())
	if err := h.mdm.UpdatePingInterval(r.Context(), e.ID, req.Minutes); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"ping_interval_minutes": req.Minutes})
}

// DownloadAPK redirects a provisioning device to the current DPC build.
func (h *Handlers) DownloadAPK(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		middleware.WriteError(w, r, apperr.New(apperr.Unauthenticated, "invalid or expired enrollment token"))
		return
	}
	u, err := h.mdm.AuthorizeAPKDownload(r.Context(), token)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	http.Redirect(w, r, u, http.StatusFound)
}

// ServeAPKFile serves APKs kept by the local store.
func (h *Handlers) ServeAPKFile(w http.ResponseWriter, r *http.Request) {
	if h.files == nil {
		http.NotFound(w, r)
		return
	}
	path, err := h.files.Path(r.PathValue("key"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/vnd.android.package-archive")
	http.ServeFile(w, r, path)
}
