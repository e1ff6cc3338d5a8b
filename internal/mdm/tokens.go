package mdm

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

// Token validation reasons.
const (
	ReasonNotFound    = "not_found"
	ReasonAlreadyUsed = "already_used"
	ReasonExpired     = "expired"
)

type TokenValidation struct {
	Valid      bool       `json:"valid"`
	Reason     string     `json:"reason,omitempty"`
	PolicyID   string     `json:"policy_id,omitempty"`
	ServerURL  string     `json:"server_url,omitempty"`
	OperatorID string     `json:"operator_id,omitempty"`
	APKVersion string     `json:"apk_version,omitempty"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
}

// tokenExpired is strict: a token is still good at exactly ExpiresAt.
func tokenExpired(t *db.EnrollmentToken, now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// CreateToken issues an enrollment token bound to one of the operator's
// policies. A zero ttl selects the configured default.
func (s *Service) CreateToken(ctx context.Context, operatorID, policyID string, ttl time.Duration) (*db.EnrollmentToken, error) {
	if ttl == 0 {
		ttl = s.tokenDefaultTTL
	}
	if ttl < time.Second || (s.tokenMaxTTL > 0 && ttl > s.tokenMaxTTL) {
		return nil, apperr.New(apperr.InvalidArgument, "token ttl must be between 1s and %s", s.tokenMaxTTL)
	}

	p, err := s.db.GetPolicy(ctx, policyID)
	if err != nil {
		return nil, apperr.Wrap(err, "load policy")
	}
	if p == nil || p.UserID != operatorID {
		return nil, apperr.New(apperr.NotFound, "policy not found")
	}

	apk, err := s.db.GetCurrentAPK(ctx)
	if err != nil {
		return nil, apperr.Wrap(err, "load current apk")
	}
	if apk == nil {
		return nil, apperr.New(apperr.PrecheckFailed, "no DPC APK has been uploaded")
	}

	now := s.clock()
	t := &db.EnrollmentToken{
		ID:         uuid.NewString(),
		Token:      uuid.NewString(),
		UserID:     operatorID,
		PolicyID:   policyID,
		ServerURL:  s.baseURL,
		APKVersion: apk.Version,
		APKID:      apk.ID,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := s.db.CreateToken(ctx, t); err != nil {
		return nil, apperr.Wrap(err, "create token")
	}

	s.logger(ctx).Info().
		Str("token_id", t.ID).
		Str("policy_id", policyID).
		Time("expires_at", t.ExpiresAt).
		Msg("enrollment token created")
	return t, nil
}

// ValidateToken reports whether value may be used for enrollment. It never
// fails for a bad token; the reason says why it is unusable.
func (s *Service) ValidateToken(ctx context.Context, value string) (*TokenValidation, error) {
	t, err := s.db.GetTokenByValue(ctx, value)
	if err != nil {
		return nil, apperr.Wrap(err, "load token")
	}
	if t == nil {
		return &TokenValidation{Reason: ReasonNotFound}, nil
	}

	v := &TokenValidation{
		PolicyID:   t.PolicyID,
		ServerURL:  t.ServerURL,
		OperatorID: t.UserID,
		APKVersion: t.APKVersion,
		ExpiresAt:  &t.ExpiresAt,
	}
	switch {
	case t.Used:
		v.Reason = ReasonAlreadyUsed
	case tokenExpired(t, s.clock()):
		v.Reason = ReasonExpired
	default:
		v.Valid = true
	}
	return v, nil
}

// ConsumeToken marks the token used by deviceID. Consuming a used token is a
// no-op so retried registrations succeed; the first consumer is kept.
func (s *Service) ConsumeToken(ctx context.Context, value, deviceID string) error {
	t, err := s.db.GetTokenByValue(ctx, value)
	if err != nil {
		return apperr.Wrap(err, "load token")
	}
	if t == nil {
		return apperr.New(apperr.NotFound, "enrollment token not found")
	}
	if t.Used {
		return nil
	}

	changed, err := s.db.ConsumeToken(ctx, value, deviceID, s.clock())
	if err != nil {
		return apperr.Wrap(err, "consume token")
	}
	if changed {
		s.metrics.TokenConsumed()
		s.logger(ctx).Info().Str("token_id", t.ID).Str("device_id", deviceID).Msg("enrollment token consumed")
	}
	return nil
}

// claimToken is the single-use gate for provisioning and registration: it
// consumes t for deviceID, or fails with already_used when another device
// got there first. The same device claiming again succeeds.
func (s *Service) claimToken(ctx context.Context, t *db.EnrollmentToken, deviceID string) error {
	claimed, err := s.db.ClaimToken(ctx, t.Token, deviceID, s.clock())
	switch {
	case errors.Is(err, db.ErrConflict):
		return apperr.WithReason(apperr.InvalidState, ReasonAlreadyUsed, "enrollment token already used")
	case errors.Is(err, sql.ErrNoRows):
		return apperr.WithReason(apperr.NotFound, ReasonNotFound, "enrollment token not found")
	case err != nil:
		return apperr.Wrap(err, "claim token")
	}
	if claimed {
		s.metrics.TokenConsumed()
		s.logger(ctx).Info().Str("token_id", t.ID).Str("device_id", deviceID).Msg("enrollment token consumed")
	}
	return nil
}

// tokenAPK returns the APK build a token was issued against. Tokens from
// before builds were recorded on them fall back to the current build.
func (s *Service) tokenAPK(ctx context.Context, t *db.EnrollmentToken) (*db.APK, error) {
	var apk *db.APK
	var err error
	if t.APKID != "" {
		apk, err = s.db.GetAPK(ctx, t.APKID)
	} else {
		apk, err = s.db.GetCurrentAPK(ctx)
	}
	if err != nil {
		return nil, apperr.Wrap(err, "load apk")
	}
	if apk == nil {
		return nil, apperr.New(apperr.PrecheckFailed, "no DPC APK has been uploaded")
	}
	return apk, nil
}

func (s *Service) ListTokens(ctx context.Context, operatorID string) ([]db.EnrollmentToken, error) {
	tokens, err := s.db.GetTokensByUser(ctx, operatorID)
	if err != nil {
		return nil, apperr.Wrap(err, "list tokens")
	}
	if tokens == nil {
		tokens = []db.EnrollmentToken{}
	}
	return tokens, nil
}

func (s *Service) GetToken(ctx context.Context, id, operatorID string) (*db.EnrollmentToken, error) {
	t, err := s.db.GetToken(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "load token")
	}
	if t == nil {
		return nil, apperr.New(apperr.NotFound, "enrollment token not found")
	}
	if t.UserID != operatorID {
		return nil, apperr.New(apperr.Unauthorized, "enrollment token belongs to another operator")
	}
	return t, nil
}

func (s *Service) DeleteToken(ctx context.Context, id, operatorID string) error {
	if _, err := s.GetToken(ctx, id, operatorID); err != nil {
		return err
	}
	if err := s.db.DeleteToken(ctx, id); err != nil {
		return apperr.Wrap(err, "delete token")
	}
	s.logger(ctx).Info().Str("token_id", id).Msg("enrollment token deleted")
	return nil
}

// AuthorizeAPKDownload checks value under the download rule (the token exists
// and has not expired; a used token still downloads so a factory-reset device
// can scan the same QR code again), counts the download and returns the URL
// of the build the token was issued with.
func (s *Service) AuthorizeAPKDownload(ctx context.Context, value string) (string, error) {
	t, err := s.db.GetTokenByValue(ctx, value)
	if err != nil {
		return "", apperr.Wrap(err, "load token")
	}
	if t == nil || tokenExpired(t, s.clock()) {
		return "", apperr.New(apperr.Unauthenticated, "invalid or expired enrollment token")
	}

	apk, err := s.tokenAPK(ctx, t)
	if err != nil {
		return "", err
	}

	u, err := s.apks.URL(ctx, apk.StorageKey)
	if err != nil {
		return "", apperr.Wrap(err, "resolve apk url")
	}
	if err := s.db.IncrementAPKDownloads(ctx, apk.ID); err != nil {
		return "", apperr.Wrap(err, "count apk download")
	}
	s.metrics.APKDownload()
	return u, nil
}
