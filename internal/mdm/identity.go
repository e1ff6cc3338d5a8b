package mdm

import (
	"context"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

// DeviceSignals are the identifiers a device reports about itself.
type DeviceSignals struct {
	SSAID            string
	SerialNumber     string
	Brand            string
	Model            string
	Manufacturer     string
	BuildFingerprint string
}

// androidIDPattern matches a 64-bit Android ID, which some OEMs report in
// place of the serial number.
var androidIDPattern = regexp.MustCompile(`^[0-9a-fA-F]{16}$`)

func validSSAID(ssaid string) bool {
	ssaid = strings.TrimSpace(ssaid)
	return ssaid != "" && ssaid != "0" && !strings.EqualFold(ssaid, "unknown")
}

func validSerial(serial, ssaid string) bool {
	serial = strings.TrimSpace(serial)
	switch {
	case serial == "", strings.EqualFold(serial, "unknown"):
		return false
	case strings.Trim(serial, "0") == "":
		return false
	case androidIDPattern.MatchString(serial):
		return false
	case serial == strings.TrimSpace(ssaid):
		return false
	}
	return true
}

// ResolvePhysicalDevice maps device signals to a stable physical device id,
// matching on SSAID first and then on serial number corroborated by brand
// and model. Placeholder identifiers never take part in matching and are
// not stored.
func (s *Service) ResolvePhysicalDevice(ctx context.Context, sig DeviceSignals) (string, error) {
	d := &db.PhysicalDevice{
		ID:               uuid.NewString(),
		Brand:            strings.TrimSpace(sig.Brand),
		Model:            strings.TrimSpace(sig.Model),
		Manufacturer:     strings.TrimSpace(sig.Manufacturer),
		BuildFingerprint: strings.TrimSpace(sig.BuildFingerprint),
	}
	if validSSAID(sig.SSAID) {
		d.SSAID = strings.TrimSpace(sig.SSAID)
	}
	if validSerial(sig.SerialNumber, sig.SSAID) {
		d.SerialNumber = strings.TrimSpace(sig.SerialNumber)
	}

	id, created, err := s.db.ResolvePhysicalDevice(ctx, d, s.clock())
	if err != nil {
		return "", apperr.Wrap(err, "resolve physical device")
	}
	if created {
		s.logger(ctx).Info().
			Str("physical_device_id", id).
			Bool("has_ssaid", d.SSAID != "").
			Bool("has_serial", d.SerialNumber != "").
			Msg("new physical device")
	}
	return id, nil
}
