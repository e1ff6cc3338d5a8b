package mdm

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/jclement/droidmdm/internal/apkstore"
	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/config"
	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/metrics"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type testEnv struct {
	svc   *Service
	db    *db.DB
	clock *testClock
}

func setupService(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "mdm.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	store, err := apkstore.NewLocal(filepath.Join(dir, "apks"), "https://mdm.example.com")
	require.NoError(t, err)

	cfg := &config.Config{
		BaseURL:          "https://mdm.example.com",
		DPCComponentName: "com.droidmdm.dpc/.AdminReceiver",
		TokenDefaultTTL:  24 * time.Hour,
		TokenMaxTTL:      720 * time.Hour,
	}
	clock := &testClock{now: time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)}
	svc := New(database, store, cfg, WithClock(clock.Now), WithMetrics(metrics.New()))
	return &testEnv{svc: svc, db: database, clock: clock}
}

func (e *testEnv) operator(t *testing.T, id string) string {
	t.Helper()
	_, err := e.db.UpsertUser(context.Background(), id, id+"@example.com", strings.ToUpper(id), false)
	require.NoError(t, err)
	return id
}

func (e *testEnv) policy(t *testing.T, operatorID, name string, isDefault bool) *db.Policy {
	t.Helper()
	p, err := e.svc.CreatePolicy(context.Background(), operatorID, &db.Policy{Name: name, IsDefault: isDefault})
	require.NoError(t, err)
	return p
}

func (e *testEnv) apk(t *testing.T, version string) *db.APK {
	t.Helper()
	a, err := e.svc.UploadAPK(context.Background(), "admin", APKUpload{
		Version:           version,
		PackageName:       "com.droidmdm.dpc",
		SignatureChecksum: "gJD2YwtOiWJHkSMkkIfLRlj-quNqG1fb6v100QmzM9w",
		Content:           strings.NewReader("PK\x03\x04 fake apk " + version),
	})
	require.NoError(t, err)
	return a
}

func (e *testEnv) token(t *testing.T, operatorID, policyID string, ttl time.Duration) *db.EnrollmentToken {
	t.Helper()
	tok, err := e.svc.CreateToken(context.Background(), operatorID, policyID, ttl)
	require.NoError(t, err)
	return tok
}

func (e *testEnv) register(t *testing.T, req RegisterRequest) *Registration {
	t.Helper()
	if req.Model == "" {
		req.Model = "Pixel 7"
	}
	if req.Manufacturer == "" {
		req.Manufacturer = "Google"
	}
	reg, err := e.svc.RegisterOrUpdate(context.Background(), req)
	require.NoError(t, err)
	return reg
}

func requireKind(t *testing.T, err error, kind apperr.Kind) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, kind, apperr.KindOf(err), "error: %v", err)
}
