package mdm

import (
	"context"
	"strings"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/provisioning"
)

// ProvisionResult is what a provisioning device receives for its token.
type ProvisionResult struct {
	Policy              *db.Policy `json:"policy"`
	ServerURL           string     `json:"server_url"`
	OperatorID          string     `json:"operator_id"`
	APKVersion          string     `json:"apk_version"`
	PingIntervalMinutes int        `json:"ping_interval_minutes"`
}

// Provision exchanges an enrollment token for its policy and server
// configuration and consumes the token. A device retrying with a token it
// already consumed gets the same answer.
func (s *Service) Provision(ctx context.Context, value, deviceID string) (*ProvisionResult, error) {
	deviceID = strings.TrimSpace(deviceID)
	if value == "" || deviceID == "" {
		return nil, apperr.New(apperr.InvalidArgument, "token and device_id are required")
	}

	t, err := s.db.GetTokenByValue(ctx, value)
	if err != nil {
		return nil, apperr.Wrap(err, "load token")
	}
	switch {
	case t == nil:
		return nil, apperr.WithReason(apperr.NotFound, ReasonNotFound, "enrollment token not found")
	case tokenExpired(t, s.clock()):
		return nil, apperr.WithReason(apperr.InvalidState, ReasonExpired, "enrollment token expired")
	case t.Used && t.UsedBy != deviceID:
		return nil, apperr.WithReason(apperr.InvalidState, ReasonAlreadyUsed, "enrollment token already used")
	}

	p, err := s.db.GetPolicy(ctx, t.PolicyID)
	if err != nil {
		return nil, apperr.Wrap(err, "load policy")
	}
	if p == nil {
		return nil, apperr.New(apperr.NotFound, "policy not found")
	}

	if err := s.claimToken(ctx, t, deviceID); err != nil {
		return nil, err
	}

	s.logger(ctx).Info().Str("token_id", t.ID).Str("device_id", deviceID).Msg("device provisioned")
	return &ProvisionResult{
		Policy:              p,
		ServerURL:           t.ServerURL,
		OperatorID:          t.UserID,
		APKVersion:          t.APKVersion,
		PingIntervalMinutes: db.DefaultPingInterval,
	}, nil
}

// ProvisioningPayload builds the QR payload for one of the operator's
// tokens against the APK build the token was issued with.
func (s *Service) ProvisioningPayload(ctx context.Context, tokenID, operatorID string) (*provisioning.Payload, error) {
	t, err := s.GetToken(ctx, tokenID, operatorID)
	if err != nil {
		return nil, err
	}
	apk, err := s.tokenAPK(ctx, t)
	if err != nil {
		return nil, err
	}

	payload, err := provisioning.Build(provisioning.Params{
		ComponentName:     s.dpcComponent,
		ServerURL:         t.ServerURL,
		Token:             t.Token,
		APKVersion:        t.APKVersion,
		SignatureChecksum: apk.SignatureChecksum,
	})
	if err != nil {
		return nil, apperr.Wrap(err, "build provisioning payload")
	}
	return payload, nil
}
