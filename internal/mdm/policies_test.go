package mdm

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

func TestDefaultPolicyExclusivity(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	a := env.operator(t, "op-a")
	b := env.operator(t, "op-b")

	p1 := env.policy(t, a, "P1", true)
	bDefault := env.policy(t, b, "B", true)
	p2 := env.policy(t, a, "P2", false)

	require.NoError(t, env.svc.SetDefaultPolicy(ctx, p2.ID, a))

	policies, err := env.svc.ListPolicies(ctx, a)
	require.NoError(t, err)
	defaults := 0
	for _, p := range policies {
		if p.IsDefault {
			defaults++
			assert.Equal(t, p2.ID, p.ID)
		}
	}
	assert.Equal(t, 1, defaults)

	got, err := env.svc.GetPolicy(ctx, p1.ID, a)
	require.NoError(t, err)
	assert.False(t, got.IsDefault)

	got, err = env.svc.GetPolicy(ctx, bDefault.ID, b)
	require.NoError(t, err)
	assert.True(t, got.IsDefault)
}

func TestPolicyValidation(t *testing.T) {
	tests := []struct {
		name string
		p    db.Policy
		ok   bool
	}{
		{"minimal", db.Policy{Name: "Basic"}, true},
		{"no name", db.Policy{Name: "  "}, false},
		{"bad quality", db.Policy{Name: "P", PasswordQuality: "emoji"}, false},
		{"too long", db.Policy{Name: "P", PasswordMinLength: 17}, false},
		{"wifi no ssid", db.Policy{Name: "P", WifiConfigs: []db.WifiConfig{{Security: "NONE"}}}, false},
		{"wifi open", db.Policy{Name: "P", WifiConfigs: []db.WifiConfig{{SSID: "guest", Security: "none"}}}, true},
		{"wifi no password", db.Policy{Name: "P", WifiConfigs: []db.WifiConfig{{SSID: "corp", Security: "WPA2"}}}, false},
		{"wifi bad security", db.Policy{Name: "P", WifiConfigs: []db.WifiConfig{{SSID: "corp", Security: "WPA9", Password: "x"}}}, false},
		{"kiosk empty", db.Policy{Name: "P", Kiosk: db.KioskMode{Enabled: true, Packages: []string{" "}}}, false},
		{"kiosk", db.Policy{Name: "P", Kiosk: db.KioskMode{Enabled: true, Packages: []string{"com.example.pos"}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := normalizePolicy(&tt.p)
			if tt.ok {
				assert.NoError(t, err)
			} else {
				requireKind(t, err, apperr.InvalidArgument)
			}
		})
	}
}

func TestUpdatePolicyKeepsIdentity(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	op := env.operator(t, "op-a")
	p := env.policy(t, op, "Before", false)

	updated, err := env.svc.UpdatePolicy(ctx, p.ID, op, &db.Policy{
		Name:             "After",
		PasswordRequired: true,
		PasswordQuality:  "NUMERIC",
		Restrictions:     db.Restrictions{CameraDisabled: true},
	})
	require.NoError(t, err)
	assert.Equal(t, p.ID, updated.ID)
	assert.Equal(t, op, updated.UserID)
	assert.Equal(t, "numeric", updated.PasswordQuality)
	assert.True(t, updated.Restrictions.CameraDisabled)
	assert.True(t, updated.CreatedAt.Equal(p.CreatedAt))
}

func TestDeletePolicy(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	op := env.operator(t, "op-a")
	p := env.policy(t, op, "Doomed", false)

	require.NoError(t, env.svc.DeletePolicy(ctx, p.ID, op))
	_, err := env.svc.GetPolicy(ctx, p.ID, op)
	requireKind(t, err, apperr.NotFound)
}

const policyYAML = `
- name: Warehouse scanners
  description: Zebra TC52 fleet
  password_required: true
  password_min_length: 6
  password_quality: numeric
  restrictions:
    camera_disabled: true
    factory_reset_disabled: true
  wifi_configs:
    - ssid: wh-floor
      password: hunter22
      security: WPA2
  kiosk:
    enabled: true
    packages: [com.example.scanner]
  is_default: true
- name: Office phones
  disabled_system_apps: [com.android.chrome]
`

func TestImportPolicies(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	op := env.operator(t, "op-a")

	imported, err := env.svc.ImportPolicies(ctx, op, strings.NewReader(policyYAML))
	require.NoError(t, err)
	require.Len(t, imported, 2)
	assert.True(t, imported[0].IsDefault)
	assert.Equal(t, []string{"com.example.scanner"}, imported[0].Kiosk.Packages)
	assert.Equal(t, "WPA2", imported[0].WifiConfigs[0].Security)
	assert.Equal(t, []string{"com.android.chrome"}, imported[1].DisabledSystemApps)

	// Importing again updates by name instead of duplicating.
	again, err := env.svc.ImportPolicies(ctx, op, strings.NewReader(policyYAML))
	require.NoError(t, err)
	assert.Equal(t, imported[0].ID, again[0].ID)

	policies, err := env.svc.ListPolicies(ctx, op)
	require.NoError(t, err)
	assert.Len(t, policies, 2)
}

func TestImportPoliciesRejectsBadFiles(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	op := env.operator(t, "op-a")

	_, err := env.svc.ImportPolicies(ctx, op, strings.NewReader("- name: P\n  colour: blue\n"))
	requireKind(t, err, apperr.InvalidArgument)

	_, err = env.svc.ImportPolicies(ctx, op, strings.NewReader("- name: A\n  is_default: true\n- name: B\n  is_default: true\n"))
	requireKind(t, err, apperr.InvalidArgument)

	_, err = env.svc.ImportPolicies(ctx, op, strings.NewReader("- name: A\n- description: no name\n"))
	requireKind(t, err, apperr.InvalidArgument)

	_, err = env.svc.ImportPolicies(ctx, "ghost", strings.NewReader(policyYAML))
	requireKind(t, err, apperr.NotFound)

	policies, err := env.svc.ListPolicies(ctx, op)
	require.NoError(t, err)
	assert.Empty(t, policies)
}
