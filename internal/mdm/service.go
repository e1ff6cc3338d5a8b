// Package mdm implements the enrollment and command-dispatch core: enrollment
// tokens, device identity resolution, the device registry, the command queue
// and the heartbeat check-in, plus the policies, provisioning payloads and
// DPC APK catalogue they depend on.
//
// Every operator-facing call is scoped by the operator id; device-facing
// calls are scoped by the enrollment resolved from the bearer token.
package mdm

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/jclement/droidmdm/internal/apkstore"
	"github.com/jclement/droidmdm/internal/apperr"
	"github.com/jclement/droidmdm/internal/config"
	"github.com/jclement/droidmdm/internal/db"
	"github.com/jclement/droidmdm/internal/metrics"
)

type Service struct {
	db      *db.DB
	apks    apkstore.Store
	metrics *metrics.Metrics
	log     zerolog.Logger
	now     func() time.Time

	baseURL         string
	dpcComponent    string
	tokenDefaultTTL time.Duration
	tokenMaxTTL     time.Duration
}

type Option func(*Service)

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

func New(database *db.DB, store apkstore.Store, cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		db:              database,
		apks:            store,
		log:             zerolog.Nop(),
		now:             time.Now,
		baseURL:         cfg.BaseURL,
		dpcComponent:    cfg.DPCComponentName,
		tokenDefaultTTL: cfg.TokenDefaultTTL,
		tokenMaxTTL:     cfg.TokenMaxTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// clock returns the current time as stored: UTC at millisecond precision.
func (s *Service) clock() time.Time {
	return s.now().UTC().Truncate(time.Millisecond)
}

// logger prefers the request logger carried by ctx.
func (s *Service) logger(ctx context.Context) *zerolog.Logger {
	if l := zerolog.Ctx(ctx); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &s.log
}

// ownedEnrollment loads an enrollment and checks that operatorID owns it.
func (s *Service) ownedEnrollment(ctx context.Context, id, operatorID string) (*db.Enrollment, error) {
	e, err := s.db.GetEnrollment(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "load enrollment")
	}
	if e == nil {
		return nil, apperr.New(apperr.NotFound, "enrollment not found")
	}
	if e.UserID != operatorID {
		return nil, apperr.New(apperr.Unauthorized, "enrollment belongs to another operator")
	}
	return e, nil
}

func (s *Service) ownedPolicy(ctx context.Context, id, operatorID string) (*db.Policy, error) {
	p, err := s.db.GetPolicy(ctx, id)
	if err != nil {
		return nil, apperr.Wrap(err, "load policy")
	}
	if p == nil {
		return nil, apperr.New(apperr.NotFound, "policy not found")
	}
	if p.UserID != operatorID {
		return nil, apperr.New(apperr.Unauthorized, "policy belongs to another operator")
	}
	return p, nil
}
