package handlers

import (
	"errors"
	"net/http"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/mdm"
	"github.com/jclement/droidmdm/internal/middleware"
)

const (
	maxAPKSize      = 256 << 20
	multipartMemory = 32 << 20
)

func (h *Handlers) ListAPKs(w http.ResponseWriter, r *http.Request) {
	apks, err := h.mdm.ListAPKs(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, apks)
}

func (h *Handlers) CurrentAPK(w http.ResponseWriter, r *http.Request) {
	a, err := h.mdm.CurrentAPK(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, a)
}

// UploadAPK takes a multipart form with the build in the "apk" field.
func (h *Handlers) UploadAPK(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxAPKSize)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "apk exceeds %d bytes", int64(maxAPKSize)))
			return
		}
		middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "expected a multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("apk")
	if err != nil {
		middleware.WriteError(w, r, apperr.New(apperr.InvalidArgument, "apk file is required"))
		return
	}
	defer file.Close()

	a, err := h.mdm.UploadAPK(r.Context(), operatorID(r), mdm.APKUpload{
		Version:           r.FormValue("version"),
		PackageName:       r.FormValue("package_name"),
		SignatureChecksum: r.FormValue("signature_checksum"),
		Content:           file,
	})
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, a)
}
