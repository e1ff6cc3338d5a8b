package mdm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidSerial(t *testing.T) {
	tests := []struct {
		serial, ssaid string
		want          bool
	}{
		{"R58M12ABCDE", "", true},
		{"", "", false},
		{"unknown", "", false},
		{"UNKNOWN", "", false},
		{"0", "", false},
		{"000000", "", false},
		{"0000000000000000", "", false},
		{"9774d56d682e549c", "", false},
		{"ABCDEF0123456789", "", false},
		{"ABCDEF01234567890", "", true},
		{"SN1", "SN1", false},
		{"SN1", "a1b2", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, validSerial(tt.serial, tt.ssaid), "serial=%q ssaid=%q", tt.serial, tt.ssaid)
	}
}

func TestValidSSAID(t *testing.T) {
	assert.True(t, validSSAID("9774d56d682e549c"))
	assert.False(t, validSSAID(""))
	assert.False(t, validSSAID("0"))
	assert.False(t, validSSAID("unknown"))
	assert.False(t, validSSAID("  "))
}

func TestResolveSameSSAIDIsIdempotent(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()
	sig := DeviceSignals{SSAID: "9774d56d682e549c", Brand: "google", Model: "Pixel 7", Manufacturer: "Google"}

	first, err := env.svc.ResolvePhysicalDevice(ctx, sig)
	require.NoError(t, err)
	second, err := env.svc.ResolvePhysicalDevice(ctx, sig)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	n, err := env.db.CountPhysicalDevices(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestResolveSkipsPlaceholderSerials(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	placeholder := DeviceSignals{SerialNumber: "0000000000000000", Brand: "acme", Model: "X1"}
	first, err := env.svc.ResolvePhysicalDevice(ctx, placeholder)
	require.NoError(t, err)
	second, err := env.svc.ResolvePhysicalDevice(ctx, placeholder)
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "placeholder serial must not match")

	pd, err := env.db.GetPhysicalDevice(ctx, first)
	require.NoError(t, err)
	assert.Empty(t, pd.SerialNumber)

	// A serial equal to the SSAID is a collision artifact: only the SSAID
	// path may match.
	collided := DeviceSignals{SSAID: "R58M12ABCDE", SerialNumber: "R58M12ABCDE", Brand: "samsung", Model: "SM-A525F"}
	id, err := env.svc.ResolvePhysicalDevice(ctx, collided)
	require.NoError(t, err)
	pd, err = env.db.GetPhysicalDevice(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "R58M12ABCDE", pd.SSAID)
	assert.Empty(t, pd.SerialNumber)
}

func TestResolveSerialNeedsMatchingHardware(t *testing.T) {
	env := setupService(t)
	ctx := context.Background()

	first, err := env.svc.ResolvePhysicalDevice(ctx, DeviceSignals{SerialNumber: "R58M12ABCDE", Brand: "samsung", Model: "SM-A525F"})
	require.NoError(t, err)

	same, err := env.svc.ResolvePhysicalDevice(ctx, DeviceSignals{SSAID: "1234abcd", SerialNumber: "R58M12ABCDE", Brand: "samsung", Model: "SM-A525F"})
	require.NoError(t, err)
	assert.Equal(t, first, same)

	other, err := env.svc.ResolvePhysicalDevice(ctx, DeviceSignals{SerialNumber: "R58M12ABCDE", Brand: "acme", Model: "X1"})
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}
