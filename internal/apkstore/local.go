package apkstore

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
)

// Local keeps APKs in a directory and serves them through the server's
// /apk/files/ route.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, baseURL string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create apk directory: %w", err)
	}
	return &Local{dir: dir, baseURL: baseURL}, nil
}

func (l *Local) Put(ctx context.Context, key string, content io.Reader) error {
	if !ValidKey(key) {
		return ErrInvalidKey
	}

	// Write to a temp file and rename so a half-written APK is never served.
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, content); err != nil {
		tmp.Close()
		return fmt.Errorf("write apk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close apk: %w", err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), filepath.Join(l.dir, key))
}

func (l *Local) URL(_ context.Context, key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	return l.baseURL + "/apk/files/" + url.PathEscape(key), nil
}

// Path returns the file backing key, or ErrInvalidKey.
func (l *Local) Path(key string) (string, error) {
	if !ValidKey(key) {
		return "", ErrInvalidKey
	}
	return filepath.Join(l.dir, key), nil
}
