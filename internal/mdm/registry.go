package mdm

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

// Ping interval bounds, in minutes.
const (
	MinPingInterval = 1
	MaxPingInterval = 180
)

// Connection states derived from heartbeat age.
const (
	StatusOnline    = "online"
	StatusOffline   = "offline"
	StatusNeverSeen = "never_seen"
	StatusRemoving  = "removing"
)

type RegisterRequest struct {
	SerialNumber     string `json:"serial_number"`
	AndroidID        string `json:"android_id"`
	Brand            string `json:"brand"`
	Model            string `json:"model"`
	Manufacturer     string `json:"manufacturer"`
	AndroidVersion   string `json:"android_version"`
	BuildFingerprint string `json:"build_fingerprint"`
	IsDeviceOwner    bool   `json:"is_device_owner"`
	PolicyID         string `json:"policy_id"`
	EnrollmentToken  string `json:"enrollment_token"`

	// OperatorID is the operator whose web session made the call, if any.
	OperatorID string `json:"-"`
}

type Registration struct {
	EnrollmentID        string `json:"enrollment_id"`
	APIToken            string `json:"api_token"`
	OwnerID             string `json:"owner_id"`
	PolicyID            string `json:"policy_id,omitempty"`
	PingIntervalMinutes int    `json:"ping_interval_minutes"`
	Created             bool   `json:"created"`
}

// EnrollmentView is an enrollment with its derived connection status.
type EnrollmentView struct {
	db.Enrollment
	Status string `json:"status"`
}

func connectionStatus(e *db.Enrollment, now time.Time) string {
	switch {
	case e.PendingRemoval:
		return StatusRemoving
	case e.LastHeartbeat == nil:
		return StatusNeverSeen
	case now.Sub(*e.LastHeartbeat) <= 2*time.Duration(e.PingIntervalMinutes)*time.Minute:
		return StatusOnline
	default:
		return StatusOffline
	}
}

func (s *Service) view(e *db.Enrollment, now time.Time) EnrollmentView {
	return EnrollmentView{Enrollment: *e, Status: connectionStatus(e, now)}
}

// enrollmentID picks the externally visible device id: the serial number
// when it is usable, otherwise the Android ID.
func enrollmentID(serial, androidID string) string {
	if validSerial(serial, androidID) {
		return strings.TrimSpace(serial)
	}
	return strings.TrimSpace(androidID)
}

// RegisterOrUpdate upserts the enrollment for a device. The owner and policy
// come from, in order: the supplied enrollment token, a token this device
// consumed during provisioning, the operator's web session. A session may
// only bind a device that is new, unassigned or already its own. Without any
// of those the enrollment keeps its owner, or is unassigned when new. The API
// token of an existing enrollment is returned unchanged.
func (s *Service) RegisterOrUpdate(ctx context.Context, req RegisterRequest) (*Registration, error) {
	if strings.TrimSpace(req.Model) == "" || strings.TrimSpace(req.Manufacturer) == "" {
		return nil, apperr.New(apperr.InvalidArgument, "model and manufacturer are required")
	}
	id := enrollmentID(req.SerialNumber, req.AndroidID)
	if id == "" {
		return nil, apperr.New(apperr.InvalidArgument, "a serial number or android id is required")
	}
	now := s.clock()

	existing, err := s.db.GetEnrollment(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "load enrollment")
	}

	owner, policyID, claim, err := s.bindOwner(ctx, id, req, existing, now)
	if err != nil {
		return nil, err
	}

	if req.PolicyID != "" {
		p, err := s.db.GetPolicy(ctx, req.PolicyID)
		if err != nil {
			return nil, apperr.Wrap(err, "load policy")
		}
		if p == nil || p.UserID != owner {
			return nil, apperr.New(apperr.NotFound, "policy not found")
		}
		policyID = p.ID
	}
	if policyID == "" && owner != db.UnassignedOwner && (existing == nil || existing.PolicyID == "") {
		def, err := s.db.GetDefaultPolicy(ctx, owner)
		if err != nil {
			return nil, apperr.Wrap(err, "load default policy")
		}
		if def != nil {
			policyID = def.ID
		}
	}

	physicalID, err := s.ResolvePhysicalDevice(ctx, DeviceSignals{
		SSAID:            req.AndroidID,
		SerialNumber:     req.SerialNumber,
		Brand:            req.Brand,
		Model:            req.Model,
		Manufacturer:     req.Manufacturer,
		BuildFingerprint: req.BuildFingerprint,
	})
	if err != nil {
		return nil, err
	}

	// The token is claimed before the enrollment is written so a device that
	// loses the race never gets an enrollment under the token's owner.
	if claim != nil {
		if err := s.claimToken(ctx, claim, id); err != nil {
			return nil, err
		}
	}

	e, created, err := s.db.UpsertEnrollment(ctx, &db.Enrollment{
		ID:               id,
		UserID:           owner,
		AndroidID:        strings.TrimSpace(req.AndroidID),
		Model:            strings.TrimSpace(req.Model),
		Manufacturer:     strings.TrimSpace(req.Manufacturer),
		AndroidVersion:   strings.TrimSpace(req.AndroidVersion),
		IsDeviceOwner:    req.IsDeviceOwner,
		PolicyID:         policyID,
		PhysicalDeviceID: physicalID,
	}, now)
	if err != nil {
		return nil, apperr.Wrap(err, "upsert enrollment")
	}

	s.metrics.Registration(created)
	s.logger(ctx).Info().
		Str("enrollment_id", id).
		Str("owner_id", e.UserID).
		Str("physical_device_id", physicalID).
		Bool("created", created).
		Msg("device registered")

	return &Registration{
		EnrollmentID:        e.ID,
		APIToken:            e.APIToken,
		OwnerID:             e.UserID,
		PolicyID:            e.PolicyID,
		PingIntervalMinutes: e.PingIntervalMinutes,
		Created:             created,
	}, nil
}

// bindOwner resolves the owner and policy for a registration. claim is the
// token to consume before the enrollment is written. An operator session
// only binds a device that is new, unassigned or already the operator's.
func (s *Service) bindOwner(ctx context.Context, deviceID string, req RegisterRequest, existing *db.Enrollment,
	now time.Time) (owner, policyID string, claim *db.EnrollmentToken, err error) {
	if req.EnrollmentToken != "" {
		t, err := s.db.GetTokenByValue(ctx, req.EnrollmentToken)
		if err != nil {
			return "", "", nil, apperr.Wrap(err, "load token")
		}
		switch {
		case t == nil:
			return "", "", nil, apperr.WithReason(apperr.NotFound, ReasonNotFound, "enrollment token not found")
		case tokenExpired(t, now):
			return "", "", nil, apperr.WithReason(apperr.InvalidState, ReasonExpired, "enrollment token expired")
		case t.Used && t.UsedBy != deviceID:
			return "", "", nil, apperr.WithReason(apperr.InvalidState, ReasonAlreadyUsed, "enrollment token already used")
		}
		return t.UserID, t.PolicyID, t, nil
	}

	t, err := s.db.GetTokenConsumedBy(ctx, deviceID)
	if err != nil {
		return "", "", nil, apperr.Wrap(err, "load consumed token")
	}
	if t != nil {
		return t.UserID, t.PolicyID, nil, nil
	}

	current := db.UnassignedOwner
	if existing != nil {
		current = existing.UserID
	}
	if req.OperatorID != "" {
		if current != db.UnassignedOwner && current != req.OperatorID {
			return "", "", nil, apperr.New(apperr.Unauthorized, "device is enrolled by another operator")
		}
		return req.OperatorID, "", nil, nil
	}
	return current, "", nil, nil
}

// UpdateHeartbeat records that the enrollment checked in now.
func (s *Service) UpdateHeartbeat(ctx context.Context, enrollmentID string) error {
	if err := s.db.UpdateHeartbeat(ctx, enrollmentID, s.clock()); err != nil {
		return apperr.Wrap(err, "update heartbeat")
	}
	return nil
}

func validPingInterval(minutes int) error {
	if minutes < MinPingInterval || minutes > MaxPingInterval {
		return apperr.New(apperr.InvalidArgument, "ping interval must be between %d and %d minutes",
			MinPingInterval, MaxPingInterval)
	}
	return nil
}

// UpdatePingInterval is the device-initiated interval change.
func (s *Service) UpdatePingInterval(ctx context.Context, enrollmentID string, minutes int) error {
	if err := validPingInterval(minutes); err != nil {
		return err
	}
	e, err := s.db.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return apperr.Wrap(err, "load enrollment")
	}
	if e == nil {
		return apperr.New(apperr.NotFound, "enrollment not found")
	}
	if err := s.db.UpdatePingInterval(ctx, enrollmentID, minutes, s.clock()); err != nil {
		return apperr.Wrap(err, "update ping interval")
	}
	s.logger(ctx).Info().Str("enrollment_id", enrollmentID).Int("minutes", minutes).Msg("ping interval changed")
	return nil
}

// SetPingInterval is the operator-initiated interval change. It takes effect
// at the device's next heartbeat.
func (s *Service) SetPingInterval(ctx context.Context, enrollmentID, operatorID string, minutes int) error {
	if err := validPingInterval(minutes); err != nil {
		return err
	}
	if _, err := s.ownedEnrollment(ctx, enrollmentID, operatorID); err != nil {
		return err
	}
	if err := s.db.UpdatePingInterval(ctx, enrollmentID, minutes, s.clock()); err != nil {
		return apperr.Wrap(err, "update ping interval")
	}
	s.logger(ctx).Info().Str("enrollment_id", enrollmentID).Int("minutes", minutes).Msg("ping interval changed")
	return nil
}

// ValidateBearerToken returns the enrollment owning token, or nil when the
// token is unknown.
func (s *Service) ValidateBearerToken(ctx context.Context, token string) (*db.Enrollment, error) {
	if token == "" {
		return nil, nil
	}
	e, err := s.db.GetEnrollmentByAPIToken(ctx, token)
	if err != nil {
		return nil, apperr.Wrap(err, "load enrollment by token")
	}
	return e, nil
}

func (s *Service) GetEnrollment(ctx context.Context, id, operatorID string) (*EnrollmentView, error) {
	e, err := s.ownedEnrollment(ctx, id, operatorID)
	if err != nil {
		return nil, err
	}
	v := s.view(e, s.clock())
	return &v, nil
}

func (s *Service) ListEnrollments(ctx context.Context, operatorID string) ([]EnrollmentView, error) {
	enrollments, err := s.db.GetEnrollmentsByUser(ctx, operatorID)
	if err != nil {
		return nil, apperr.Wrap(err, "list enrollments")
	}
	now := s.clock()
	views := make([]EnrollmentView, 0, len(enrollments))
	for i := range enrollments {
		views = append(views, s.view(&enrollments[i], now))
	}
	return views, nil
}

// DeleteEnrollment removes an enrollment. With wipe set, a wipe command is
// queued instead and the enrollment is removed once the device reports the
// wipe under way.
func (s *Service) DeleteEnrollment(ctx context.Context, id, operatorID string, wipe bool) error {
	e, err := s.ownedEnrollment(ctx, id, operatorID)
	if err != nil {
		return err
	}
	log := s.logger(ctx).With().Str("enrollment_id", id).Logger()

	if !wipe {
		if err := s.db.DeleteEnrollment(ctx, id); err != nil {
			return apperr.Wrap(err, "delete enrollment")
		}
		log.Info().Msg("enrollment deleted")
		return nil
	}

	if e.PendingRemoval {
		return apperr.New(apperr.InvalidState, "enrollment removal already pending")
	}
	now := s.clock()
	cmd := &db.Command{
		ID:           uuid.NewString(),
		EnrollmentID: id,
		Type:         string(CommandWipe),
		Parameters:   []byte("{}"),
		Status:       db.CommandPending,
		CreatedBy:    operatorID,
		CreatedAt:    now,
	}
	if err := s.db.RetireEnrollment(ctx, id, cmd, now); err != nil {
		return apperr.Wrap(err, "retire enrollment")
	}
	s.metrics.CommandCreated(cmd.Type)
	log.Info().Str("command_id", cmd.ID).Msg("enrollment retiring, wipe queued")
	return nil
}

// AssignPolicy sets the enrollment's policy and queues update_policy so the
// device picks it up at its next check-in. An empty policyID clears it.
func (s *Service) AssignPolicy(ctx context.Context, enrollmentID, policyID, operatorID string) error {
	if _, err := s.ownedEnrollment(ctx, enrollmentID, operatorID); err != nil {
		return err
	}
	if policyID != "" {
		if _, err := s.ownedPolicy(ctx, policyID, operatorID); err != nil {
			return err
		}
	}

	now := s.clock()
	cmd := &db.Command{
		ID:           uuid.NewString(),
		EnrollmentID: enrollmentID,
		Type:         string(CommandUpdatePolicy),
		Parameters:   []byte("{}"),
		Status:       db.CommandPending,
		CreatedBy:    operatorID,
		CreatedAt:    now,
	}
	if err := s.db.SetEnrollmentPolicy(ctx, enrollmentID, policyID, cmd, now); err != nil {
		return apperr.Wrap(err, "assign policy")
	}
	s.metrics.CommandCreated(cmd.Type)
	s.logger(ctx).Info().Str("enrollment_id", enrollmentID).Str("policy_id", policyID).Msg("policy assigned")
	return nil
}
