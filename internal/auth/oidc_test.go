package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclement/droidmdm/internal/config"
)

func TestHasRole(t *testing.T) {
	claims := &Claims{Subject: "op-1", Roles: []string{"Reader", "mdmadmin"}}

	assert.True(t, HasRole(claims, "MDMAdmin"))
	assert.False(t, HasRole(claims, "Owner"))
	assert.False(t, HasRole(claims, ""))
	assert.False(t, HasRole(&Claims{}, "MDMAdmin"))
}

func TestNewOIDCProviderRequiresCredentials(t *testing.T) {
	cfg := config.OIDCConfig{TenantID: "tenant", ClientID: "client"}
	assert.False(t, Enabled(cfg))

	_, err := NewOIDCProvider(context.Background(), cfg, "http://localhost:8080")
	require.Error(t, err)
}

func TestIssuerURL(t *testing.T) {
	assert.Equal(t, "https://login.microsoftonline.com/abc/v2.0", IssuerURL("abc"))
}
