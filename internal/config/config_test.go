package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("AZURE_TENANT_ID", "tenant-1")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:9090", cfg.BaseURL)
	assert.Equal(t, "./droidmdm.db", cfg.DatabasePath)
	assert.Equal(t, "tenant-1", cfg.OIDC.TenantID)
	assert.Equal(t, "MDMAdmin", cfg.OIDC.AdminRole)
	assert.Equal(t, "local", cfg.APKStore.Backend)
	assert.Equal(t, 15*time.Minute, cfg.APKStore.URLTTL)
	assert.Equal(t, 24*time.Hour, cfg.TokenDefaultTTL)
	assert.Equal(t, 30, cfg.CommandRetentionDays)
	assert.NotEmpty(t, cfg.SessionSecret)
	assert.False(t, cfg.SecureCookies())
}

func TestLoadTrimsBaseURL(t *testing.T) {
	t.Setenv("BASE_URL", "https://mdm.example.com/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "https://mdm.example.com", cfg.BaseURL)
	assert.True(t, cfg.SecureCookies())
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"unknown backend", map[string]string{"APK_STORE_BACKEND": "ftp"}},
		{"s3 without bucket", map[string]string{"APK_STORE_BACKEND": "s3"}},
		{"zero retention", map[string]string{"COMMAND_RETENTION_DAYS": "0"}},
		{"ttl above max", map[string]string{"TOKEN_DEFAULT_TTL": "1000h"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestLoadS3(t *testing.T) {
	t.Setenv("APK_STORE_BACKEND", "s3")
	t.Setenv("APK_S3_BUCKET", "dpc-binaries")
	t.Setenv("APK_S3_PREFIX", "releases/")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "dpc-binaries", cfg.APKStore.Bucket)
	assert.Equal(t, "releases/", cfg.APKStore.Prefix)
}
