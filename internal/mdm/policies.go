package mdm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

const maxPasswordLength = 16

var passwordQualities = map[string]bool{
	"unspecified":     true,
	"something":       true,
	"numeric":         true,
	"numeric_complex": true,
	"alphabetic":      true,
	"alphanumeric":    true,
	"complex":         true,
}

var wifiSecurity = map[string]bool{
	"NONE": true,
	"WEP":  true,
	"WPA":  true,
	"WPA2": true,
	"WPA3": true,
}

// normalizePolicy trims and canonicalises p in place and reports the first
// problem found.
func normalizePolicy(p *db.Policy) error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return apperr.New(apperr.InvalidArgument, "policy name is required")
	}

	p.PasswordQuality = strings.ToLower(strings.TrimSpace(p.PasswordQuality))
	if p.PasswordQuality == "" {
		p.PasswordQuality = "unspecified"
	}
	if !passwordQualities[p.PasswordQuality] {
		return apperr.New(apperr.InvalidArgument, "unknown password quality %q", p.PasswordQuality)
	}
	if p.PasswordMinLength < 0 || p.PasswordMinLength > maxPasswordLength {
		return apperr.New(apperr.InvalidArgument, "password minimum length must be between 0 and %d", maxPasswordLength)
	}

	for i := range p.WifiConfigs {
		w := &p.WifiConfigs[i]
		w.SSID = strings.TrimSpace(w.SSID)
		w.Security = strings.ToUpper(strings.TrimSpace(w.Security))
		if w.Security == "" {
			w.Security = "WPA2"
		}
		if w.SSID == "" {
			return apperr.New(apperr.InvalidArgument, "wifi config %d: ssid is required", i+1)
		}
		if !wifiSecurity[w.Security] {
			return apperr.New(apperr.InvalidArgument, "wifi config %q: unknown security %q", w.SSID, w.Security)
		}
		if w.Security != "NONE" && w.Password == "" {
			return apperr.New(apperr.InvalidArgument, "wifi config %q: password is required", w.SSID)
		}
	}

	packages := p.Kiosk.Packages[:0]
	for _, pkg := range p.Kiosk.Packages {
		if pkg = strings.TrimSpace(pkg); pkg != "" {
			packages = append(packages, pkg)
		}
	}
	p.Kiosk.Packages = packages
	if p.Kiosk.Enabled && len(p.Kiosk.Packages) == 0 {
		return apperr.New(apperr.InvalidArgument, "kiosk mode needs at least one package")
	}
	return nil
}

// CreatePolicy stores a new policy for the operator. Making it the default
// clears the operator's previous default.
func (s *Service) CreatePolicy(ctx context.Context, operatorID string, p *db.Policy) (*db.Policy, error) {
	if err := normalizePolicy(p); err != nil {
		return nil, err
	}
	now := s.clock()
	p.ID = uuid.NewString()
	p.UserID = operatorID
	p.CreatedAt = now
	p.UpdatedAt = now
	if err := s.db.CreatePolicy(ctx, p); err != nil {
		return nil, apperr.Wrap(err, "create policy")
	}
	s.logger(ctx).Info().Str("policy_id", p.ID).Str("name", p.Name).Bool("default", p.IsDefault).Msg("policy created")
	return s.reloadPolicy(ctx, p.ID)
}

// UpdatePolicy replaces the editable fields of one of the operator's
// policies. Enrollments using it are not notified; use AssignPolicy for that.
func (s *Service) UpdatePolicy(ctx context.Context, id, operatorID string, p *db.Policy) (*db.Policy, error) {
	current, err := s.ownedPolicy(ctx, id, operatorID)
	if err != nil {
		return nil, err
	}
	if err := normalizePolicy(p); err != nil {
		return nil, err
	}
	p.ID = current.ID
	p.UserID = current.UserID
	p.CreatedAt = current.CreatedAt
	p.UpdatedAt = s.clock()
	if err := s.db.UpdatePolicy(ctx, p); err != nil {
		return nil, apperr.Wrap(err, "update policy")
	}
	s.logger(ctx).Info().Str("policy_id", id).Msg("policy updated")
	return s.reloadPolicy(ctx, id)
}

func (s *Service) reloadPolicy(ctx context.Context, id string) (*db.Policy, error) {
	p, err := s.db.GetPolicy(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "load policy")
	}
	return p, nil
}

func (s *Service) GetPolicy(ctx context.Context, id, operatorID string) (*db.Policy, error) {
	return s.ownedPolicy(ctx, id, operatorID)
}

func (s *Service) ListPolicies(ctx context.Context, operatorID string) ([]db.Policy, error) {
	policies, err := s.db.GetPoliciesByUser(ctx, operatorID)
	if err != nil {
		return nil, apperr.Wrap(err, "list policies")
	}
	if policies == nil {
		policies = []db.Policy{}
	}
	return policies, nil
}

// DeletePolicy removes a policy no enrollment uses, along with its tokens.
func (s *Service) DeletePolicy(ctx context.Context, id, operatorID string) error {
	if _, err := s.ownedPolicy(ctx, id, operatorID); err != nil {
		return err
	}
	err := s.db.DeletePolicy(ctx, id)
	if errors.Is(err, db.ErrPolicyInUse) {
		return apperr.New(apperr.InvalidState, "policy is assigned to enrollments")
	}
	if err != nil {
		return apperr.Wrap(err, "delete policy")
	}
	s.logger(ctx).Info().Str("policy_id", id).Msg("policy deleted")
	return nil
}

// SetDefaultPolicy makes id the operator's only default policy.
func (s *Service) SetDefaultPolicy(ctx context.Context, id, operatorID string) error {
	if _, err := s.ownedPolicy(ctx, id, operatorID); err != nil {
		return err
	}
	if err := s.db.SetDefaultPolicy(ctx, operatorID, id); err != nil {
		return apperr.Wrap(err, "set default policy")
	}
	s.logger(ctx).Info().Str("policy_id", id).Msg("default policy changed")
	return nil
}

// PolicyForEnrollment returns the policy a device must apply.
func (s *Service) PolicyForEnrollment(ctx context.Context, e *db.Enrollment) (*db.Policy, error) {
	if e.PolicyID == "" {
		return nil, apperr.New(apperr.NotFound, "no policy assigned")
	}
	p, err := s.db.GetPolicy(ctx, e.PolicyID)
	if err != nil {
		return nil, apperr.Wrap(err, "load policy")
	}
	if p == nil {
		return nil, apperr.New(apperr.NotFound, "no policy assigned")
	}
	return p, nil
}
