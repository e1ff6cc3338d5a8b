package db

import (
	"encoding/json"
	"time"
)

// UnassignedOwner is the owner recorded for enrollments that registered
// without any operator context.
const UnassignedOwner = "unassigned"

type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	IsAdmin   bool      `json:"is_admin"`
	CreatedAt time.Time `json:"created_at"`
}

type Restrictions struct {
	CameraDisabled          bool `json:"camera_disabled" yaml:"camera_disabled"`
	ScreenCaptureDisabled   bool `json:"screen_capture_disabled" yaml:"screen_capture_disabled"`
	BluetoothDisabled       bool `json:"bluetooth_disabled" yaml:"bluetooth_disabled"`
	USBFileTransferDisabled bool `json:"usb_file_transfer_disabled" yaml:"usb_file_transfer_disabled"`
	FactoryResetDisabled    bool `json:"factory_reset_disabled" yaml:"factory_reset_disabled"`
}

type WifiConfig struct {
	SSID     string `json:"ssid" yaml:"ssid"`
	Password string `json:"password,omitempty" yaml:"password"`
	Security string `json:"security" yaml:"security"`
}

type KioskMode struct {
	Enabled  bool     `json:"enabled" yaml:"enabled"`
	Packages []string `json:"packages" yaml:"packages"`
}

type Policy struct {
	ID                 string       `json:"id"`
	UserID             string       `json:"user_id"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	PasswordRequired   bool         `json:"password_required"`
	PasswordMinLength  int          `json:"password_min_length"`
	PasswordQuality    string       `json:"password_quality"`
	Restrictions       Restrictions `json:"restrictions"`
	WifiConfigs        []WifiConfig `json:"wifi_configs"`
	Kiosk              KioskMode    `json:"kiosk"`
	StatusBarDisabled  bool         `json:"status_bar_disabled"`
	DisabledSystemApps []string     `json:"disabled_system_apps"`
	IsDefault          bool         `json:"is_default"`
	CreatedAt          time.Time    `json:"created_at"`
	UpdatedAt          time.Time    `json:"updated_at"`
}

type EnrollmentToken struct {
	ID         string     `json:"id"`
	Token      string     `json:"token"`
	UserID     string     `json:"user_id"`
	PolicyID   string     `json:"policy_id"`
	ServerURL  string     `json:"server_url"`
	APKVersion string     `json:"apk_version"`
	APKID      string     `json:"apk_id,omitempty"`
	Used       bool       `json:"used"`
	UsedAt     *time.Time `json:"used_at,omitempty"`
	UsedBy     string     `json:"used_by,omitempty"`
	ExpiresAt  time.Time  `json:"expires_at"`
	CreatedAt  time.Time  `json:"created_at"`
}

type PhysicalDevice struct {
	ID               string    `json:"id"`
	SSAID            string    `json:"ssaid,omitempty"`
	SerialNumber     string    `json:"serial_number,omitempty"`
	Brand            string    `json:"brand"`
	Model            string    `json:"model"`
	Manufacturer     string    `json:"manufacturer"`
	BuildFingerprint string    `json:"build_fingerprint,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// Enrollment is one managed instance of a physical device. ID is the device
// serial number (or Android ID when no serial is readable).
type Enrollment struct {
	ID                  string     `json:"id"`
	UserID              string     `json:"user_id"`
	AndroidID           string     `json:"android_id,omitempty"`
	Model               string     `json:"model"`
	Manufacturer        string     `json:"manufacturer"`
	AndroidVersion      string     `json:"android_version"`
	IsDeviceOwner       bool       `json:"is_device_owner"`
	PolicyID            string     `json:"policy_id,omitempty"`
	APIToken            string     `json:"-"`
	PingIntervalMinutes int        `json:"ping_interval_minutes"`
	LastHeartbeat       *time.Time `json:"last_heartbeat,omitempty"`
	PhysicalDeviceID    string     `json:"physical_device_id,omitempty"`
	PendingRemoval      bool       `json:"pending_removal"`
	RegisteredAt        time.Time  `json:"registered_at"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

type CommandStatus string

const (
	CommandPending   CommandStatus = "pending"
	CommandExecuting CommandStatus = "executing"
	CommandCompleted CommandStatus = "completed"
	CommandFailed    CommandStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s CommandStatus) Terminal() bool {
	return s == CommandCompleted || s == CommandFailed
}

type Command struct {
	ID           string          `json:"id"`
	EnrollmentID string          `json:"enrollment_id"`
	Type         string          `json:"type"`
	Parameters   json.RawMessage `json:"parameters,omitempty"`
	Status       CommandStatus   `json:"status"`
	Error        string          `json:"error,omitempty"`
	CreatedBy    string          `json:"created_by"`
	CreatedAt    time.Time       `json:"created_at"`
	ExecutedAt   *time.Time      `json:"executed_at,omitempty"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// APK is one uploaded build of the device policy controller.
type APK struct {
	ID                string    `json:"id"`
	Version           string    `json:"version"`
	PackageName       string    `json:"package_name"`
	StorageKey        string    `json:"storage_key"`
	SignatureChecksum string    `json:"signature_checksum"`
	SizeBytes         int64     `json:"size_bytes"`
	IsCurrent         bool      `json:"is_current"`
	DownloadCount     int64     `json:"download_count"`
	UploadedBy        string    `json:"uploaded_by"`
	CreatedAt         time.Time `json:"created_at"`
}
