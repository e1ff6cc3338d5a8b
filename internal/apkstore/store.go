// Package apkstore holds DPC APK binaries and hands out URLs devices can
// fetch them from.
package apkstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jclement/droidmdm/internal/config"
)

// Store is an object store for APK binaries.
type Store interface {
	// Put stores the content under key, replacing any previous object.
	Put(ctx context.Context, key string, content io.Reader) error
	// URL returns a location the device can download key from.
	URL(ctx context.Context, key string) (string, error)
}

var ErrInvalidKey = errors.New("invalid storage key")

// ValidKey reports whether key is a flat object name safe for both backends.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.HasPrefix(key, ".")
}

// New builds the store selected by cfg.Backend.
func New(cfg config.APKStoreConfig, baseURL string) (Store, error) {
	switch cfg.Backend {
	case "local":
		return NewLocal(cfg.Dir, baseURL)
	case "s3":
		return NewS3(cfg)
	default:
		return nil, fmt.Errorf("unknown APK store backend %q", cfg.Backend)
	}
}
