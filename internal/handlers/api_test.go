package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclement/droidmdm/internal/apkstore"
	"github.com/jclement/droidmdm/internal/config"
	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/mdm"
	"github.com/jclement/droidmdm/internal/metrics"
	"github.com/jclement/droidmdm/internal/middleware"
)

const testBaseURL = "https://mdm.example.com"

var testAPK = []byte("PK\x03\x04 not really an apk")

type testEnv struct {
	handler  http.Handler
	db       *db.DB
	sessions *middleware.SessionStore
}

func setupTestHandlers(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()

	database, err := db.New(filepath.Join(dir, "handlers.db"))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	files, err := apkstore.NewLocal(filepath.Join(dir, "apks"), testBaseURL)
	require.NoError(t, err)

	cfg := &config.Config{
		BaseURL:          testBaseURL,
		DPCComponentName: "com.droidmdm.dpc/.AdminReceiver",
		TokenDefaultTTL:  24 * time.Hour,
		TokenMaxTTL:      720 * time.Hour,
	}
	m := metrics.New()
	svc := mdm.New(database, files, cfg, mdm.WithMetrics(m))
	sessions := middleware.NewSessionStore("handlers-test-session-secret-0001", false)
	h := New(svc, database, nil, sessions, files, m, "test")

	return &testEnv{
		handler:  middleware.RequestContext(zerolog.Nop())(h.Routes()),
		db:       database,
		sessions: sessions,
	}
}

// signIn creates the operator and returns a session cookie for it.
func (e *testEnv) signIn(t *testing.T, userID string, isAdmin bool) *http.Cookie {
	t.Helper()
	_, err := e.db.UpsertUser(context.Background(), userID, userID+"@example.com", userID, isAdmin)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	require.NoError(t, e.sessions.SetUser(httptest.NewRequest(http.MethodGet, "/", nil), rec, userID, isAdmin))
	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

type requestOption func(*http.Request)

func withCookie(c *http.Cookie) requestOption {
	return func(r *http.Request) { r.AddCookie(c) }
}

func withBearer(token string) requestOption {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (e *testEnv) do(t *testing.T, method, path string, body any, opts ...requestOption) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, opt := range opts {
		opt(req)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) uploadAPK(t *testing.T, cookie *http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("version", "1.4.0"))
	require.NoError(t, mw.WriteField("package_name", "com.droidmdm.dpc"))
	require.NoError(t, mw.WriteField("signature_checksum", "gJD2YwtOiWJHkSMkkIfLRlj-quNqG1fb6v100QmzM9w"))
	fw, err := mw.CreateFormFile("apk", "dpc.apk")
	require.NoError(t, err)
	_, err = fw.Write(testAPK)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/apks", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	Reason    string `json:"reason"`
	RequestID string `json:"request_id"`
}

func TestCreateTokenRejectsBadTTL(t *testing.T) {
	env := setupTestHandlers(t)
	admin := env.signIn(t, "op-1", true)
	rec := env.uploadAPK(t, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPost, "/api/v1/policies", map[string]any{"name": "Standard"}, withCookie(admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	policy := decode[db.Policy](t, rec)

	for _, ttl := range []int64{-1, 9223372037, 18446744075} {
		rec = env.do(t, http.MethodPost, "/api/v1/tokens", map[string]any{"policy_id": policy.ID, "ttl_seconds": ttl}, withCookie(admin))
		assert.Equal(t, http.StatusBadRequest, rec.Code, "ttl %d: %s", ttl, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/api/v1/tokens", map[string]any{"policy_id": policy.ID, "ttl_seconds": 3600}, withCookie(admin))
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestEndToEndEnrollment(t *testing.T) {
	env := setupTestHandlers(t)
	admin := env.signIn(t, "op-1", true)

	rec := env.uploadAPK(t, admin)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/policies", map[string]any{"name": "Standard", "is_default": true}, withCookie(admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	policy := decode[db.Policy](t, rec)
	assert.True(t, policy.IsDefault)

	rec = env.do(t, http.MethodPost, "/api/v1/tokens", map[string]any{"policy_id": policy.ID, "ttl_seconds": 3600}, withCookie(admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	token := decode[db.EnrollmentToken](t, rec)
	assert.Equal(t, "1.4.0", token.APKVersion)

	rec = env.do(t, http.MethodGet, "/api/v1/device/tokens/"+token.Token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[mdm.TokenValidation](t, rec).Valid)

	rec = env.do(t, http.MethodPost, "/api/v1/device/provision", map[string]string{"token": token.Token, "device_id": "SN1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	provisioned := decode[mdm.ProvisionResult](t, rec)
	assert.Equal(t, policy.ID, provisioned.Policy.ID)
	assert.Equal(t, testBaseURL, provisioned.ServerURL)

	rec = env.do(t, http.MethodPost, "/api/v1/device/register", map[string]any{
		"serial_number":    "SN1",
		"android_id":       "9774d56d682e549c",
		"brand":            "google",
		"model":            "Pixel 8",
		"manufacturer":     "Google",
		"android_version":  "15",
		"is_device_owner":  true,
		"enrollment_token": token.Token,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decode[mdm.Registration](t, rec)
	assert.Equal(t, "SN1", reg.EnrollmentID)
	assert.Equal(t, "op-1", reg.OwnerID)
	assert.Equal(t, policy.ID, reg.PolicyID)
	require.NotEmpty(t, reg.APIToken)

	rec = env.do(t, http.MethodPost, "/api/v1/device/heartbeat", nil, withBearer(reg.APIToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	hb := decode[mdm.HeartbeatResponse](t, rec)
	assert.Equal(t, mdm.StatusOnline, hb.Status)
	assert.Equal(t, 15, hb.PingIntervalMinutes)

	rec = env.do(t, http.MethodGet, "/api/v1/enrollments/SN1", nil, withCookie(admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mdm.StatusOnline, decode[mdm.EnrollmentView](t, rec).Status)

	rec = env.do(t, http.MethodPost, "/api/v1/enrollments/SN1/commands", map[string]string{"type": "lock"}, withCookie(admin))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	lock := decode[db.Command](t, rec)

	rec = env.do(t, http.MethodGet, "/api/v1/device/commands", nil, withBearer(reg.APIToken))
	require.Equal(t, http.StatusOK, rec.Code)
	pending := decode[[]db.Command](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, lock.ID, pending[0].ID)
	assert.Equal(t, "lock", pending[0].Type)

	for _, status := range []string{"executing", "completed"} {
		rec = env.do(t, http.MethodPost, "/api/v1/device/commands/"+lock.ID+"/status",
			map[string]string{"status": status}, withBearer(reg.APIToken))
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodGet, "/api/v1/enrollments/SN1/commands", nil, withCookie(admin))
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode[[]db.Command](t, rec)
	require.Len(t, history, 1)
	assert.Equal(t, "lock", history[0].Type)
	assert.Equal(t, db.CommandCompleted, history[0].Status)
	assert.NotNil(t, history[0].CompletedAt)

	rec = env.do(t, http.MethodGet, "/api/v1/device/policy", nil, withBearer(reg.APIToken))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Standard", decode[db.Policy](t, rec).Name)
}

func TestDeviceAuthIsUniform(t *testing.T) {
	env := setupTestHandlers(t)

	tests := []struct {
		name   string
		header string
	}{
		{name: "missing header", header: ""},
		{name: "wrong scheme", header: "Basic dXNlcjpwYXNz"},
		{name: "empty bearer", header: "Bearer "},
		{name: "unknown token", header: "Bearer no-such-token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/device/heartbeat", nil, func(r *http.Request) {
				if tt.header != "" {
					r.Header.Set("Authorization", tt.header)
				}
			})
			require.Equal(t, http.StatusUnauthorized, rec.Code)
			body := decode[errorResponse](t, rec)
			assert.Equal(t, "unauthenticated", body.Error)
			assert.Equal(t, "invalid credentials", body.Message)
			assert.NotEmpty(t, body.RequestID)
			assert.Equal(t, body.RequestID, rec.Header().Get(middleware.RequestIDHeader))
		})
	}
}

func TestOperatorRoutesRequireSession(t *testing.T) {
	env := setupTestHandlers(t)

	rec := env.do(t, http.MethodGet, "/api/v1/tokens", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/enrollments", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	operator := env.signIn(t, "op-1", false)
	rec = env.uploadAPK(t, operator)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/me", nil, withCookie(operator))
	require.Equal(t, http.StatusOK, rec.Code)
	me := decode[meResponse](t, rec)
	assert.Equal(t, "op-1", me.ID)
	assert.False(t, me.IsAdmin)
}

func TestTokenCreationNeedsAPK(t *testing.T) {
	env := setupTestHandlers(t)
	operator := env.signIn(t, "op-1", false)

	rec := env.do(t, http.MethodPost, "/api/v1/policies", map[string]any{"name": "Base"}, withCookie(operator))
	require.Equal(t, http.StatusCreated, rec.Code)
	policy := decode[db.Policy](t, rec)

	rec = env.do(t, http.MethodPost, "/api/v1/tokens", map[string]any{"policy_id": policy.ID}, withCookie(operator))
	require.Equal(t, http.StatusPreconditionFailed, rec.Code)
	assert.Equal(t, "precheck_failed", decode[errorResponse](t, rec).Error)
}

func TestAPKDownload(t *testing.T) {
	env := setupTestHandlers(t)
	admin := env.signIn(t, "op-1", true)
	require.Equal(t, http.StatusCreated, env.uploadAPK(t, admin).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/policies", map[string]any{"name": "Base"}, withCookie(admin))
	policy := decode[db.Policy](t, rec)
	rec = env.do(t, http.MethodPost, "/api/v1/tokens", map[string]any{"policy_id": policy.ID}, withCookie(admin))
	require.Equal(t, http.StatusCreated, rec.Code)
	token := decode[db.EnrollmentToken](t, rec)

	rec = env.do(t, http.MethodGet, "/apk/download?token="+url.QueryEscape(token.Token), nil)
	require.Equal(t, http.StatusFound, rec.Code)
	location := rec.Header().Get("Location")
	require.True(t, strings.HasPrefix(location, testBaseURL+"/apk/files/"), location)

	rec = env.do(t, http.MethodGet, strings.TrimPrefix(location, testBaseURL), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, testAPK, rec.Body.Bytes())

	rec = env.do(t, http.MethodGet, "/api/v1/apks/current", nil, withCookie(admin))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, decode[db.APK](t, rec).DownloadCount)

	rec = env.do(t, http.MethodGet, "/apk/download?token=bogus", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodGet, "/apk/download", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProvisionReportsReason(t *testing.T) {
	env := setupTestHandlers(t)

	rec := env.do(t, http.MethodPost, "/api/v1/device/provision", map[string]string{"token": "missing", "device_id": "SN9"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, mdm.ReasonNotFound, decode[errorResponse](t, rec).Reason)

	rec = env.do(t, http.MethodGet, "/api/v1/device/tokens/missing", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	v := decode[mdm.TokenValidation](t, rec)
	assert.False(t, v.Valid)
	assert.Equal(t, mdm.ReasonNotFound, v.Reason)
}

func TestRetiringDelete(t *testing.T) {
	env := setupTestHandlers(t)
	operator := env.signIn(t, "op-1", false)

	rec := env.do(t, http.MethodPost, "/api/v1/device/register", map[string]any{
		"serial_number": "R58M123456",
		"model":         "Galaxy A54",
		"manufacturer":  "samsung",
	}, withCookie(operator))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	reg := decode[mdm.Registration](t, rec)
	assert.Equal(t, "op-1", reg.OwnerID)

	rec = env.do(t, http.MethodDelete, "/api/v1/enrollments/R58M123456?wipe=true", nil, withCookie(operator))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/enrollments/R58M123456", nil, withCookie(operator))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, mdm.StatusRemoving, decode[mdm.EnrollmentView](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/api/v1/device/commands", nil, withBearer(reg.APIToken))
	pending := decode[[]db.Command](t, rec)
	require.Len(t, pending, 1)
	assert.Equal(t, "wipe", pending[0].Type)

	rec = env.do(t, http.MethodPost, "/api/v1/device/commands/"+pending[0].ID+"/status",
		map[string]string{"status": "executing"}, withBearer(reg.APIToken))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/v1/enrollments/R58M123456", nil, withCookie(operator))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/device/heartbeat", nil, withBearer(reg.APIToken))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealth(t *testing.T) {
	env := setupTestHandlers(t)

	rec := env.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[healthResponse](t, rec).Status)

	rec = env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "droidmdm_")
}
