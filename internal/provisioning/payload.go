// Package provisioning builds the Android QR-code provisioning payload that
// installs the DPC and hands it an enrollment token.
package provisioning

import (
	"encoding/json"
	"errors"
	"net/url"
)

// Extras keys read by the Android setup wizard.
const (
	extraPrefix = "android.app.extra."

	KeyAdminComponentName        = extraPrefix + "PROVISIONING_DEVICE_ADMIN_COMPONENT_NAME"
	KeyPackageDownloadLocation   = extraPrefix + "PROVISIONING_DEVICE_ADMIN_PACKAGE_DOWNLOAD_LOCATION"
	KeySignatureChecksum         = extraPrefix + "PROVISIONING_DEVICE_ADMIN_SIGNATURE_CHECKSUM"
	KeySkipEncryption            = extraPrefix + "PROVISIONING_SKIP_ENCRYPTION"
	KeyLeaveAllSystemAppsEnabled = extraPrefix + "PROVISIONING_LEAVE_ALL_SYSTEM_APPS_ENABLED"
	KeyAdminExtrasBundle         = extraPrefix + "PROVISIONING_ADMIN_EXTRAS_BUNDLE"
)

// Params is what the payload is built from.
type Params struct {
	ComponentName     string
	ServerURL         string
	Token             string
	APKVersion        string
	SignatureChecksum string
}

// AdminExtras is passed through to the DPC on first launch.
type AdminExtras struct {
	EnrollmentToken string `json:"enrollment_token"`
	ServerURL       string `json:"server_url"`
	APKVersion      string `json:"apk_version"`
}

type Payload struct {
	AdminComponentName        string      `json:"android.app.extra.PROVISIONING_DEVICE_ADMIN_COMPONENT_NAME"`
	PackageDownloadLocation   string      `json:"android.app.extra.PROVISIONING_DEVICE_ADMIN_PACKAGE_DOWNLOAD_LOCATION"`
	SignatureChecksum         string      `json:"android.app.extra.PROVISIONING_DEVICE_ADMIN_SIGNATURE_CHECKSUM"`
	SkipEncryption            bool        `json:"android.app.extra.PROVISIONING_SKIP_ENCRYPTION"`
	LeaveAllSystemAppsEnabled bool        `json:"android.app.extra.PROVISIONING_LEAVE_ALL_SYSTEM_APPS_ENABLED"`
	AdminExtras               AdminExtras `json:"android.app.extra.PROVISIONING_ADMIN_EXTRAS_BUNDLE"`
}

// DownloadURL is where a provisioning device fetches the DPC for token.
func DownloadURL(serverURL, token string) string {
	return serverURL + "/apk/download?token=" + url.QueryEscape(token)
}

func Build(p Params) (*Payload, error) {
	switch {
	case p.ComponentName == "":
		return nil, errors.New("device admin component name is required")
	case p.ServerURL == "" || p.Token == "":
		return nil, errors.New("server URL and token are required")
	case p.SignatureChecksum == "":
		return nil, errors.New("signature checksum is required")
	}

	return &Payload{
		AdminComponentName:        p.ComponentName,
		PackageDownloadLocation:   DownloadURL(p.ServerURL, p.Token),
		SignatureChecksum:         p.SignatureChecksum,
		SkipEncryption:            false,
		LeaveAllSystemAppsEnabled: true,
		AdminExtras: AdminExtras{
			EnrollmentToken: p.Token,
			ServerURL:       p.ServerURL,
			APKVersion:      p.APKVersion,
		},
	}, nil
}

// Encode returns the compact JSON the QR code carries.
func (p *Payload) Encode() ([]byte, error) {
	return json.Marshal(p)
}
