// Package configservice is the versioned source of truth for thresholds,
// risk limits, scheduling intervals, and the global-enable flag. It is
// grounded on the teacher's internal/config (layered defaults) and
// internal/store/postgres/arb_store.go's insert-then-list pattern
// (versioning itself is a new concern the teacher's config layer doesn't
// have).
package configservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/fundarb/fundarb/internal/domain"
)

// PutOptions are the recognised fields of a PUT /config/current request.
// Absent fields are filled from the previous profile.
type PutOptions struct {
	Thresholds           *domain.Thresholds
	RiskLimits           *domain.RiskLimits
	GlobalEnable         *bool
	ScanIntervalSeconds  *int
	CloseIntervalSeconds *int
	OpenIntervalSeconds  *int
	Operator             string
}

// Service implements the Config-Service operations.
type Service struct {
	store    domain.ConfigStore
	bus      domain.SignalBus
	channel  string
	auditChannel string
	defaults domain.ConfigProfile
	logger   *slog.Logger
}

// New creates a Service. defaults seeds version 1 on first bootstrap.
func New(store domain.ConfigStore, bus domain.SignalBus, channel, auditChannel string, defaults domain.ConfigProfile, logger *slog.Logger) *Service {
	return &Service{
		store:        store,
		bus:          bus,
		channel:      channel,
		auditChannel: auditChannel,
		defaults:     defaults,
		logger:       logger.With(slog.String("component", "config_service")),
	}
}

// Bootstrap ensures a profile exists: if none does, it creates an initial
// version-1 profile from defaults and logs INITIALIZE (the canonical
// bootstrap behaviour per the spec).
func (s *Service) Bootstrap(ctx context.Context) error {
	_, err := s.store.Current(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return fmt.Errorf("config_service: bootstrap check: %w", err)
	}

	initial := s.defaults
	initial.Version = 1
	initial.CreatedBy = "system"

	audit := domain.ConfigAuditLog{
		Version:  1,
		Operator: "system",
		Delta:    map[string]any{"event": "INITIALIZE"},
	}

	if err := s.store.Create(ctx, initial, audit); err != nil {
		return fmt.Errorf("config_service: bootstrap create: %w", err)
	}

	s.logger.InfoContext(ctx, "INITIALIZE", slog.Int64("version", initial.Version))
	s.publishAudit(ctx, audit)
	return s.publish(ctx, initial)
}

// Current returns the active (highest-version) profile.
func (s *Service) Current(ctx context.Context) (domain.ConfigProfile, error) {
	profile, err := s.store.Current(ctx)
	if err != nil {
		return domain.ConfigProfile{}, fmt.Errorf("config_service: current: %w", err)
	}
	return profile, nil
}

// Put applies opts over the previous profile (or defaults if none exists),
// persists the new version plus its audit log, and publishes the new
// profile on the config channel.
func (s *Service) Put(ctx context.Context, opts PutOptions) (domain.ConfigProfile, error) {
	prev, err := s.store.Current(ctx)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			return domain.ConfigProfile{}, fmt.Errorf("config_service: put load previous: %w", err)
		}
		prev = s.defaults
		prev.Version = 0
	}

	next := mergeProfile(prev, opts)
	next.Version = prev.Version + 1
	if opts.Operator != "" {
		next.CreatedBy = opts.Operator
	} else {
		next.CreatedBy = "console"
	}

	audit := domain.ConfigAuditLog{
		Version:  next.Version,
		Operator: next.CreatedBy,
		Delta:    delta(opts),
	}

	if err := s.store.Create(ctx, next, audit); err != nil {
		return domain.ConfigProfile{}, fmt.Errorf("config_service: put create: %w", err)
	}

	s.logger.InfoContext(ctx, "config updated", slog.Int64("version", next.Version), slog.String("operator", next.CreatedBy))

	s.publishAudit(ctx, audit)
	if err := s.publish(ctx, next); err != nil {
		s.logger.WarnContext(ctx, "config publish failed", slog.String("error", err.Error()))
	}

	return next, nil
}

func (s *Service) publish(ctx context.Context, profile domain.ConfigProfile) error {
	payload, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("config_service: marshal profile: %w", err)
	}
	return s.bus.Publish(ctx, s.channel, payload)
}

// publishAudit fire-and-forgets the audit log entry on config:audit. This is
// a secondary notification channel; the durable record is the
// ConfigAuditLog row s.store.Create already wrote in the same transaction.
func (s *Service) publishAudit(ctx context.Context, audit domain.ConfigAuditLog) {
	payload, err := json.Marshal(audit)
	if err != nil {
		s.logger.WarnContext(ctx, "audit marshal failed", slog.String("error", err.Error()))
		return
	}
	if err := s.bus.Publish(ctx, s.auditChannel, payload); err != nil {
		s.logger.WarnContext(ctx, "audit publish failed", slog.String("error", err.Error()))
	}
}

// mergeProfile fills any absent opts field from prev, and merges a partial
// RiskLimits over prev's risk limits so older rows gain new fields.
func mergeProfile(prev domain.ConfigProfile, opts PutOptions) domain.ConfigProfile {
	next := prev

	if opts.Thresholds != nil {
		next.Thresholds = *opts.Thresholds
	}
	if opts.RiskLimits != nil {
		next.RiskLimits = mergeRiskLimits(prev.RiskLimits, *opts.RiskLimits)
	}
	if opts.GlobalEnable != nil {
		next.GlobalEnable = *opts.GlobalEnable
	}
	if opts.ScanIntervalSeconds != nil {
		next.ScanIntervalSeconds = *opts.ScanIntervalSeconds
	}
	if opts.CloseIntervalSeconds != nil {
		next.CloseIntervalSeconds = *opts.CloseIntervalSeconds
	}
	if opts.OpenIntervalSeconds != nil {
		next.OpenIntervalSeconds = *opts.OpenIntervalSeconds
	}

	return next
}

func mergeRiskLimits(base, overlay domain.RiskLimits) domain.RiskLimits {
	merged := base
	if overlay.GroupMax != 0 {
		merged.GroupMax = overlay.GroupMax
	}
	if overlay.DuplicateMax != 0 {
		merged.DuplicateMax = overlay.DuplicateMax
	}
	if overlay.LeverageMax != 0 {
		merged.LeverageMax = overlay.LeverageMax
	}
	if overlay.MarginPerLeg != 0 {
		merged.MarginPerLeg = overlay.MarginPerLeg
	}
	if overlay.TakerFee != 0 {
		merged.TakerFee = overlay.TakerFee
	}
	if overlay.MakerFee != 0 {
		merged.MakerFee = overlay.MakerFee
	}
	if overlay.TradeFee != 0 {
		merged.TradeFee = overlay.TradeFee
	}
	return merged
}

func delta(opts PutOptions) map[string]any {
	d := map[string]any{}
	if opts.Thresholds != nil {
		d["thresholds"] = *opts.Thresholds
	}
	if opts.RiskLimits != nil {
		d["risk_limits"] = *opts.RiskLimits
	}
	if opts.GlobalEnable != nil {
		d["global_enable"] = *opts.GlobalEnable
	}
	if opts.ScanIntervalSeconds != nil {
		d["scan_interval_seconds"] = *opts.ScanIntervalSeconds
	}
	if opts.CloseIntervalSeconds != nil {
		d["close_interval_seconds"] = *opts.CloseIntervalSeconds
	}
	if opts.OpenIntervalSeconds != nil {
		d["open_interval_seconds"] = *opts.OpenIntervalSeconds
	}
	return d
}
