package mdm

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

func TestProvision(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	op := env.operator(t, "op-a")
	env.apk(t, "2.0.0")
	p := env.policy(t, op, "Kiosk", true)
	tok := env.token(t, op, p.ID, time.Hour)

	res, err := env.svc.Provision(ctx, tok.Token, "SN1")
	require.NoError(t, err)
	assert.Equal(t, p.ID, res.Policy.ID)
	assert.Equal(t, "https://mdm.example.com", res.ServerURL)
	assert.Equal(t, op, res.OperatorID)
	assert.Equal(t, "2.0.0", res.APKVersion)
	assert.Equal(t, db.DefaultPingInterval, res.PingIntervalMinutes)

	// A retry from the same device still works.
	_, err = env.svc.Provision(ctx, tok.Token, "SN1")
	require.NoError(t, err)

	_, err = env.svc.Provision(ctx, tok.Token, "SN2")
	requireKind(t, err, apperr.InvalidState)
	assert.Equal(t, ReasonAlreadyUsed, apperr.ReasonOf(err))

	_, err = env.svc.Provision(ctx, "missing", "SN1")
	requireKind(t, err, apperr.NotFound)
	assert.Equal(t, ReasonNotFound, apperr.ReasonOf(err))

	_, err = env.svc.Provision(ctx, tok.Token, "")
	requireKind(t, err, apperr.InvalidArgument)

	fresh := env.token(t, op, p.ID, time.Hour)
	env.clock.Advance(time.Hour + time.Millisecond)
	_, err = env.svc.Provision(ctx, fresh.Token, "SN3")
	requireKind(t, err, apperr.InvalidState)
	assert.Equal(t, ReasonExpired, apperr.ReasonOf(err))
}

func TestConcurrentProvisionSingleUse(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	op := env.operator(t, "op-a")
	env.apk(t, "2.0.0")
	p := env.policy(t, op, "Kiosk", true)
	tok := env.token(t, op, p.ID, time.Hour)

	const n = 16
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = env.svc.Provision(ctx, tok.Token, fmt.Sprintf("SN-%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		requireKind(t, err, apperr.InvalidState)
		assert.Equal(t, ReasonAlreadyUsed, apperr.ReasonOf(err))
	}
	assert.Equal(t, 1, succeeded)
}

func TestProvisioningPayload(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	a := env.operator(t, "op-a")
	b := env.operator(t, "op-b")
	env.apk(t, "2.0.0")
	p := env.policy(t, a, "Kiosk", false)
	tok := env.token(t, a, p.ID, time.Hour)

	payload, err := env.svc.ProvisioningPayload(ctx, tok.ID, a)
	require.NoError(t, err)
	assert.Equal(t, "com.droidmdm.dpc/.AdminReceiver", payload.AdminComponentName)
	assert.Equal(t, "https://mdm.example.com/apk/download?token="+tok.Token, payload.PackageDownloadLocation)
	assert.Equal(t, tok.Token, payload.AdminExtras.EnrollmentToken)
	assert.Equal(t, "2.0.0", payload.AdminExtras.APKVersion)

	_, err = env.svc.ProvisioningPayload(ctx, tok.ID, b)
	requireKind(t, err, apperr.Unauthorized)
}

func TestUploadAPKValidation(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	_, err := env.svc.CurrentAPK(ctx)
	requireKind(t, err, apperr.NotFound)

	_, err = env.svc.UploadAPK(ctx, "admin", APKUpload{Version: "1", PackageName: "com.droidmdm.dpc", SignatureChecksum: "not base64!"})
	requireKind(t, err, apperr.InvalidArgument)

	first := env.apk(t, "1.0.0")
	env.clock.Advance(time.Minute)
	second := env.apk(t, "1.1.0")
	assert.Positive(t, second.SizeBytes)

	current, err := env.svc.CurrentAPK(ctx)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)

	all, err := env.svc.ListAPKs(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, first.ID, all[1].ID)
}
