package config

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port          string `envconfig:"PORT" default:"8080"`
	BaseURL       string `envconfig:"BASE_URL"`
	DatabasePath  string `envconfig:"DATABASE_PATH" default:"./droidmdm.db"`
	SessionSecret string `envconfig:"SESSION_SECRET"`

	LogLevel  string `envconfig:"LOG_LEVEL" default:"info"`
	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	OIDC     OIDCConfig
	APKStore APKStoreConfig

	DPCComponentName string `envconfig:"DPC_COMPONENT_NAME" default:"com.droidmdm.dpc/.AdminReceiver"`

	TokenDefaultTTL      time.Duration `envconfig:"TOKEN_DEFAULT_TTL" default:"24h"`
	TokenMaxTTL          time.Duration `envconfig:"TOKEN_MAX_TTL" default:"720h"`
	CommandRetentionDays int           `envconfig:"COMMAND_RETENTION_DAYS" default:"30"`
	CleanupInterval      time.Duration `envconfig:"CLEANUP_INTERVAL" default:"1h"`
	MetricsEnabled       bool          `envconfig:"METRICS_ENABLED" default:"true"`
}

// OIDCConfig keeps the Azure AD variable names operators already use.
type OIDCConfig struct {
	TenantID     string `envconfig:"AZURE_TENANT_ID"`
	ClientID     string `envconfig:"AZURE_CLIENT_ID"`
	ClientSecret string `envconfig:"AZURE_CLIENT_SECRET"`
	AdminRole    string `envconfig:"AZURE_ADMIN_ROLE" default:"MDMAdmin"`
}

type APKStoreConfig struct {
	Backend         string        `envconfig:"APK_STORE_BACKEND" default:"local"`
	Dir             string        `envconfig:"APK_STORE_DIR" default:"./apks"`
	Bucket          string        `envconfig:"APK_S3_BUCKET"`
	Prefix          string        `envconfig:"APK_S3_PREFIX"`
	Region          string        `envconfig:"APK_S3_REGION"`
	Endpoint        string        `envconfig:"APK_S3_ENDPOINT"`
	AccessKeyID     string        `envconfig:"APK_S3_ACCESS_KEY_ID"`
	SecretAccessKey string        `envconfig:"APK_S3_SECRET_ACCESS_KEY"`
	URLTTL          time.Duration `envconfig:"APK_URL_TTL" default:"15m"`
}

// Load reads the configuration from the environment and fills derived
// defaults.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to read environment: %w", err)
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:" + cfg.Port
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if cfg.SessionSecret == "" {
		// Generate a random secret for development
		b := make([]byte, 32)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		cfg.SessionSecret = base64.StdEncoding.EncodeToString(b)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	switch c.APKStore.Backend {
	case "local":
		if c.APKStore.Dir == "" {
			return fmt.Errorf("APK_STORE_DIR is required for the local APK store")
		}
	case "s3":
		if c.APKStore.Bucket == "" {
			return fmt.Errorf("APK_S3_BUCKET is required for the s3 APK store")
		}
	default:
		return fmt.Errorf("unknown APK_STORE_BACKEND %q (want local or s3)", c.APKStore.Backend)
	}
	if c.CommandRetentionDays < 1 {
		return fmt.Errorf("COMMAND_RETENTION_DAYS must be at least 1")
	}
	if c.TokenDefaultTTL <= 0 || c.TokenMaxTTL < c.TokenDefaultTTL {
		return fmt.Errorf("TOKEN_DEFAULT_TTL must be positive and not exceed TOKEN_MAX_TTL")
	}
	return nil
}

// SecureCookies reports whether session cookies must be marked Secure.
func (c *Config) SecureCookies() bool {
	return strings.HasPrefix(c.BaseURL, "https://")
}
