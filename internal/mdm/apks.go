package mdm

import (
	"context"
	"io"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

// Android provisioning expects the checksum as URL-safe base64 without
// padding.
var checksumPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{16,}$`)

type APKUpload struct {
	Version           string
	PackageName       string
	SignatureChecksum string
	Content           io.Reader
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

// UploadAPK stores a DPC build and makes it the current one. Outstanding
// tokens keep the version they were issued with.
func (s *Service) UploadAPK(ctx context.Context, uploaderID string, up APKUpload) (*db.APK, error) {
	up.Version = strings.TrimSpace(up.Version)
	up.PackageName = strings.TrimSpace(up.PackageName)
	up.SignatureChecksum = strings.TrimSpace(up.SignatureChecksum)
	switch {
	case up.Version == "" || up.PackageName == "":
		return nil, apperr.New(apperr.InvalidArgument, "version and package name are required")
	case !checksumPattern.MatchString(up.SignatureChecksum):
		return nil, apperr.New(apperr.InvalidArgument, "signature checksum must be URL-safe base64")
	case up.Content == nil:
		return nil, apperr.New(apperr.InvalidArgument, "apk content is required")
	}

	id := uuid.NewString()
	key := id + ".apk"
	body := &countingReader{r: up.Content}
	if err := s.apks.Put(ctx, key, body); err != nil {
		return nil, apperr.Wrap(err, "store apk")
	}
	if body.n == 0 {
		return nil, apperr.New(apperr.InvalidArgument, "apk content is empty")
	}

	a := &db.APK{
		ID:                id,
		Version:           up.Version,
		PackageName:       up.PackageName,
		StorageKey:        key,
		SignatureChecksum: up.SignatureChecksum,
		SizeBytes:         body.n,
		UploadedBy:        uploaderID,
		CreatedAt:         s.clock(),
	}
	if err := s.db.CreateAPK(ctx, a); err != nil {
		return nil, apperr.Wrap(err, "record apk")
	}
	s.logger(ctx).Info().Str("apk_id", id).Str("version", a.Version).Int64("size", a.SizeBytes).Msg("dpc apk uploaded")
	return a, nil
}

func (s *Service) CurrentAPK(ctx context.Context) (*db.APK, error) {
	a, err := s.db.GetCurrentAPK(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "load current apk")
	}
	if a == nil {
		return nil, apperr.New(apperr.NotFound, "no DPC APK has been uploaded")
	}
	return a, nil
}

func (s *Service) ListAPKs(ctx context.Context) ([]db.APK, error) {
	apks, err := s.db.GetAPKs(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "list apks")
	}
	if apks == nil {
		apks = []db.APK{}
	}
	return apks, nil
}
