package mdm

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"time"

	"github.com/codeGROOVE-dev/retry"
	"github.com/google/uuid"

	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/db"
)

type CommandType string

const (
	CommandLock         CommandType = "lock"
	CommandWipe         CommandType = "wipe"
	CommandReboot       CommandType = "reboot"
	CommandUpdatePolicy CommandType = "update_policy"
	CommandInstallAPK   CommandType = "install_apk"
)

// CancelledByUser is the error recorded on a cancelled command.
const CancelledByUser = "cancelled by user"

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500

	transitionRetries = 4
)

// Payload is one of the command kinds a device understands. The set is
// closed: add a type here and to DecodePayload together.
type Payload interface {
	Type() CommandType
	validate() error
}

type LockCommand struct{}

type WipeCommand struct{}

type RebootCommand struct{}

type UpdatePolicyCommand struct{}

type InstallAPKCommand struct {
	APKURL      string `json:"apk_url"`
	PackageName string `json:"package_name"`
}

func (LockCommand) Type() CommandType         { return CommandLock }
func (WipeCommand) Type() CommandType         { return CommandWipe }
func (RebootCommand) Type() CommandType       { return CommandReboot }
func (UpdatePolicyCommand) Type() CommandType { return CommandUpdatePolicy }
func (InstallAPKCommand) Type() CommandType   { return CommandInstallAPK }

func (LockCommand) validate() error         { return nil }
func (WipeCommand) validate() error         { return nil }
func (RebootCommand) validate() error       { return nil }
func (UpdatePolicyCommand) validate() error { return nil }

func (c InstallAPKCommand) validate() error {
	u, err := url.Parse(c.APKURL)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return apperr.New(apperr.InvalidArgument, "install_apk requires an http(s) apk_url")
	}
	if strings.TrimSpace(c.PackageName) == "" {
		return apperr.New(apperr.InvalidArgument, "install_apk requires package_name")
	}
	return nil
}

// DecodePayload builds the typed payload for a command type and its JSON
// parameters.
func DecodePayload(commandType string, params json.RawMessage) (Payload, error) {
	var p Payload
	switch CommandType(commandType) {
	case CommandLock:
		p = &LockCommand{}
	case CommandWipe:
		p = &WipeCommand{}
	case CommandReboot:
		p = &RebootCommand{}
	case CommandUpdatePolicy:
		p = &UpdatePolicyCommand{}
	case CommandInstallAPK:
		p = &InstallAPKCommand{}
	default:
		return nil, apperr.New(apperr.InvalidArgument, "unknown command type %q", commandType)
	}
	if len(params) > 0 && string(params) != "null" {
		if err := json.Unmarshal(params, p); err != nil {
			return nil, apperr.New(apperr.InvalidArgument, "invalid %s parameters", commandType)
		}
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// CreateCommand queues a command for one of the operator's enrollments.
func (s *Service) CreateCommand(ctx context.Context, enrollmentID, operatorID string, p Payload) (*db.Command, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	e, err := s.ownedEnrollment(ctx, enrollmentID, operatorID)
	if err != nil {
		return nil, err
	}
	if e.PendingRemoval {
		return nil, apperr.New(apperr.InvalidState, "enrollment is being removed")
	}

	params, err := json.Marshal(p)
	if err != nil {
		return nil, apperr.Wrap(err, "encode command parameters")
	}
	cmd := &db.Command{
		ID:           uuid.NewString(),
		EnrollmentID: enrollmentID,
		Type:         string(p.Type()),
		Parameters:   params,
		Status:       db.CommandPending,
		CreatedBy:    operatorID,
		CreatedAt:    s.clock(),
	}
	if err := s.db.CreateCommand(ctx, cmd); err != nil {
		return nil, apperr.Wrap(err, "create command")
	}

	s.metrics.CommandCreated(cmd.Type)
	s.logger(ctx).Info().
		Str("enrollment_id", enrollmentID).
		Str("command_id", cmd.ID).
		Str("type", cmd.Type).
		Msg("command queued")
	return cmd, nil
}

// ListPendingCommands returns the enrollment's pending commands, oldest
// first.
func (s *Service) ListPendingCommands(ctx context.Context, enrollmentID string) ([]db.Command, error) {
	cmds, err := s.db.GetPendingCommands(ctx, enrollmentID)
	if err != nil {
		return nil, apperr.Wrap(err, "list pending commands")
	}
	return cmds, nil
}

func transitionAllowed(from, to db.CommandStatus) bool {
	switch from {
	case db.CommandPending:
		return to == db.CommandExecuting || to == db.CommandCompleted || to == db.CommandFailed
	case db.CommandExecuting:
		return to == db.CommandCompleted || to == db.CommandFailed
	}
	return false
}

// UpdateCommandStatus applies a device-reported status. Reporting the
// status the command already has is a no-op.
func (s *Service) UpdateCommandStatus(ctx context.Context, enrollmentID, commandID string, status db.CommandStatus, errMsg string) (*db.Command, error) {
	switch status {
	case db.CommandExecuting, db.CommandCompleted, db.CommandFailed:
	default:
		return nil, apperr.New(apperr.InvalidArgument, "status must be executing, completed or failed")
	}

	var cmd *db.Command
	var changed bool
	var final error
	err := retry.Do(func() error {
		var err error
		cmd, changed, err = s.transitionOnce(ctx, enrollmentID, commandID, status, errMsg)
		if errors.Is(err, db.ErrConflict) {
			return err
		}
		final = err
		return nil
	}, retry.Attempts(transitionRetries), retry.Delay(5*time.Millisecond), retry.MaxDelay(50*time.Millisecond))
	if err != nil {
		return nil, apperr.Wrap(err, "update command status")
	}
	if final != nil {
		return nil, final
	}
	if !changed {
		return cmd, nil
	}

	s.metrics.CommandTransition(string(status))
	s.logger(ctx).Info().
		Str("enrollment_id", enrollmentID).
		Str("command_id", commandID).
		Str("type", cmd.Type).
		Str("status", string(status)).
		Msg("command status updated")

	if cmd.Type == string(CommandWipe) && (status == db.CommandExecuting || status == db.CommandCompleted) {
		if err := s.finishRetirement(ctx, enrollmentID); err != nil {
			return nil, err
		}
	}
	return cmd, nil
}

// transitionOnce reads the command and applies one conditional update.
// db.ErrConflict means the command moved underneath us.
func (s *Service) transitionOnce(ctx context.Context, enrollmentID, commandID string, status db.CommandStatus, errMsg string) (*db.Command, bool, error) {
	cmd, err := s.db.GetCommand(ctx, commandID)
	if err != nil {
		return nil, false, apperr.Wrap(err, "load command")
	}
	// Another enrollment's command looks the same as a missing one.
	if cmd == nil || cmd.EnrollmentID != enrollmentID {
		return nil, false, apperr.New(apperr.NotFound, "command not found")
	}
	if cmd.Status == status {
		return cmd, false, nil
	}
	if !transitionAllowed(cmd.Status, status) {
		return nil, false, apperr.New(apperr.InvalidState, "command cannot move from %s to %s", cmd.Status, status)
	}

	now := s.clock()
	var executedAt, completedAt *time.Time
	if status == db.CommandExecuting {
		executedAt = &now
	} else {
		completedAt = &now
	}
	if status != db.CommandFailed {
		errMsg = ""
	}
	if err := s.db.TransitionCommand(ctx, commandID, cmd.Status, status, errMsg, executedAt, completedAt); err != nil {
		if errors.Is(err, db.ErrConflict) {
			return nil, false, err
		}
		return nil, false, apperr.Wrap(err, "transition command")
	}

	cmd.Status = status
	cmd.Error = errMsg
	if executedAt != nil {
		cmd.ExecutedAt = executedAt
	}
	cmd.CompletedAt = completedAt
	return cmd, true, nil
}

// finishRetirement deletes an enrollment whose retiring wipe has started.
func (s *Service) finishRetirement(ctx context.Context, enrollmentID string) error {
	e, err := s.db.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return apperr.Wrap(err, "load enrollment")
	}
	if e == nil || !e.PendingRemoval {
		return nil
	}
	if err := s.db.DeleteEnrollment(ctx, enrollmentID); err != nil {
		return apperr.Wrap(err, "delete retired enrollment")
	}
	s.logger(ctx).Info().Str("enrollment_id", enrollmentID).Msg("enrollment removed after wipe")
	return nil
}

// CancelCommand withdraws a command the device has not started.
func (s *Service) CancelCommand(ctx context.Context, commandID, operatorID string) (*db.Command, error) {
	cmd, err := s.db.GetCommand(ctx, commandID)
	if err != nil {
		return nil, apperr.Wrap(err, "load command")
	}
	if cmd == nil {
		return nil, apperr.New(apperr.NotFound, "command not found")
	}
	e, err := s.ownedEnrollment(ctx, cmd.EnrollmentID, operatorID)
	if err != nil {
		return nil, err
	}
	if cmd.Status != db.CommandPending {
		return nil, apperr.New(apperr.InvalidState, "only pending commands can be cancelled")
	}

	now := s.clock()
	err = s.db.TransitionCommand(ctx, commandID, db.CommandPending, db.CommandFailed, CancelledByUser, nil, &now)
	if errors.Is(err, db.ErrConflict) {
		return nil, apperr.New(apperr.InvalidState, "only pending commands can be cancelled")
	}
	if err != nil {
		return nil, apperr.Wrap(err, "cancel command")
	}

	// Cancelling the retiring wipe keeps the enrollment.
	if cmd.Type == string(CommandWipe) && e.PendingRemoval {
		if err := s.db.ClearPendingRemoval(ctx, e.ID, now); err != nil {
			return nil, apperr.Wrap(err, "clear pending removal")
		}
	}

	cmd.Status = db.CommandFailed
	cmd.Error = CancelledByUser
	cmd.CompletedAt = &now
	s.metrics.CommandTransition(string(db.CommandFailed))
	s.logger(ctx).Info().Str("command_id", commandID).Str("enrollment_id", cmd.EnrollmentID).Msg("command cancelled")
	return cmd, nil
}

// CommandHistory returns the enrollment's commands, most recent first. A
// zero limit selects the default.
func (s *Service) CommandHistory(ctx context.Context, enrollmentID, operatorID string, limit int) ([]db.Command, error) {
	if limit < 0 {
		return nil, apperr.New(apperr.InvalidArgument, "limit must not be negative")
	}
	if limit == 0 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	if _, err := s.ownedEnrollment(ctx, enrollmentID, operatorID); err != nil {
		return nil, err
	}
	cmds, err := s.db.GetCommandHistory(ctx, enrollmentID, limit)
	if err != nil {
		return nil, apperr.Wrap(err, "command history")
	}
	return cmds, nil
}

// CleanupCommands deletes completed commands finished more than olderThanDays
// ago. Failed commands are kept.
func (s *Service) CleanupCommands(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 1 {
		return 0, apperr.New(apperr.InvalidArgument, "retention must be at least one day")
	}
	cutoff := s.clock().Add(-time.Duration(olderThanDays) * 24 * time.Hour)
	n, err := s.db.DeleteCompletedCommandsBefore(ctx, cutoff)
	if err != nil {
		return 0, apperr.Wrap(err, "cleanup commands")
	}
	s.metrics.CommandsCleaned(n)
	s.logger(ctx).Info().Int64("deleted", n).Time("cutoff", cutoff).Msg("command cleanup finished")
	return n, nil
}

// RunCleanup calls CleanupCommands every interval until ctx is done.
func (s *Service) RunCleanup(ctx context.Context, interval time.Duration, olderThanDays int) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.CleanupCommands(ctx, olderThanDays); err != nil {
				s.log.Error().Err(err).Msg("command cleanup failed")
			}
		}
	}
}
