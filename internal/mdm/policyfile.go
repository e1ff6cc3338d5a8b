package mdm

import (
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

// policyDoc is one entry of a policy file. Field names match the JSON API.
type policyDoc struct {
	Name               string          `yaml:"name"`
	Description        string          `yaml:"description"`
	PasswordRequired   bool            `yaml:"password_required"`
	PasswordMinLength  int             `yaml:"password_min_length"`
	PasswordQuality    string          `yaml:"password_quality"`
	Restrictions       db.Restrictions `yaml:"restrictions"`
	WifiConfigs        []db.WifiConfig `yaml:"wifi_configs"`
	Kiosk              db.KioskMode    `yaml:"kiosk"`
	StatusBarDisabled  bool            `yaml:"status_bar_disabled"`
	DisabledSystemApps []string        `yaml:"disabled_system_apps"`
	IsDefault          bool            `yaml:"is_default"`
}

func (d policyDoc) policy() *db.Policy {
	return &db.Policy{
		Name:               d.Name,
		Description:        d.Description,
		PasswordRequired:   d.PasswordRequired,
		PasswordMinLength:  d.PasswordMinLength,
		PasswordQuality:    d.PasswordQuality,
		Restrictions:       d.Restrictions,
		WifiConfigs:        d.WifiConfigs,
		Kiosk:              d.Kiosk,
		StatusBarDisabled:  d.StatusBarDisabled,
		DisabledSystemApps: d.DisabledSystemApps,
		IsDefault:          d.IsDefault,
	}
}

// ParsePolicyFile decodes and validates a YAML list of policies.
func ParsePolicyFile(r io.Reader) ([]*db.Policy, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var docs []policyDoc
	if err := dec.Decode(&docs); err != nil && !errors.Is(err, io.EOF) {
		return nil, apperr.New(apperr.InvalidArgument, "parse policy file: %v", err)
	}

	policies := make([]*db.Policy, 0, len(docs))
	defaults := 0
	for i, d := range docs {
		p := d.policy()
		if err := normalizePolicy(p); err != nil {
			return nil, fmt.Errorf("policy %d: %w", i+1, err)
		}
		if p.IsDefault {
			defaults++
		}
		policies = append(policies, p)
	}
	if defaults > 1 {
		return nil, apperr.New(apperr.InvalidArgument, "policy file marks %d policies as default", defaults)
	}
	return policies, nil
}

// ImportPolicies creates or updates, by name, the operator's policies from a
// policy file. Nothing is written unless the whole file is valid.
func (s *Service) ImportPolicies(ctx context.Context, operatorID string, r io.Reader) ([]*db.Policy, error) {
	user, err := s.db.GetUser(ctx, operatorID)
	if err != nil {
		return nil, apperr.Wrap(err, "load operator")
	}
	if user == nil {
		return nil, apperr.New(apperr.NotFound, "operator %s has never signed in", operatorID)
	}

	policies, err := ParsePolicyFile(r)
	if err != nil {
		return nil, err
	}

	out := make([]*db.Policy, 0, len(policies))
	for _, p := range policies {
		existing, err := s.db.GetPolicyByName(ctx, operatorID, p.Name)
		if err != nil {
			return nil, apperr.Wrap(err, "load policy by name")
		}
		var saved *db.Policy
		if existing != nil {
			saved, err = s.UpdatePolicy(ctx, existing.ID, operatorID, p)
		} else {
			saved, err = s.CreatePolicy(ctx, operatorID, p)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, saved)
	}
	return out, nil
}
