package mdm

import (
	"context"
	"time"

	"github.com/jclement/droidmdm/internal/apperr"
)

// HeartbeatResponse tells the device when to check in next and whether it
// has work waiting.
type HeartbeatResponse struct {
	Status              string    `json:"status"`
	PingIntervalMinutes int       `json:"ping_interval_minutes"`
	PendingCommands     int       `json:"pending_commands"`
	ServerTime          time.Time `json:"server_time"`
}

// Heartbeat records a device check-in. The interval returned is the one the
// device must use until its next heartbeat.
func (s *Service) Heartbeat(ctx context.Context, enrollmentID string) (*HeartbeatResponse, error) {
	if err := s.UpdateHeartbeat(ctx, enrollmentID); err != nil {
		return nil, err
	}
	e, err := s.db.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, apperr.Wrap(err, "load enrollment")
	}
	if e == nil {
		return nil, apperr.New(apperr.NotFound, "enrollment not found")
	}
	pending, err := s.db.CountPendingCommands(ctx, enrollmentID)
	if err != nil {
		return nil, apperr.Wrap(err, "count pending commands")
	}

	s.metrics.Heartbeat()
	now := s.clock()
	s.logger(ctx).Debug().Str("enrollment_id", enrollmentID).Int("pending", pending).Msg("heartbeat")
	return &HeartbeatResponse{
		Status:              connectionStatus(e, now),
		PingIntervalMinutes: e.PingIntervalMinutes,
		PendingCommands:     pending,
		ServerTime:          now,
	}, nil
}
