package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/psychometric-engine/internal/adapter/observability"
	"github.com/fairyhunter13/psychometric-engine/internal/domain"
)

// ExpirySweeper bulk-marks overdue active sessions expired. Reads already
// treat overdue sessions as expired; the sweep keeps the stored state honest
// and frees the one-active-session slot for idle users.
type ExpirySweeper struct {
	sessions domain.SessionRepository
	interval time.Duration
	now      func() time.Time
}

func NewExpirySweeper(sessions domain.SessionRepository, interval time.Duration) *ExpirySweeper {
	if sessions == nil {
		return nil
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &ExpirySweeper{sessions: sessions, interval: interval, now: func() time.Time { return time.Now().UTC() }}
}

func (s *ExpirySweeper) Run(ctx context.Context) {
	if s == nil {
		return
	}
	runEvery(ctx, s.interval, "expiry sweeper", s.sweepOnce)
}

func (s *ExpirySweeper) sweepOnce(ctx context.Context) {
	ctx, span := otel.Tracer("sessions.sweeper").Start(ctx, "ExpirySweeper.sweepOnce")
	defer span.End()
	n, err := s.sessions.ExpireOverdue(ctx, s.now())
	if err != nil {
		span.RecordError(err)
		slog.Error("expiry sweep failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int64("sessions.expired", n))
	observability.SessionsExpired(n)
	if n > 0 {
		slog.Info("expired overdue sessions", slog.Int64("count", n))
	}
}

// RetentionCleaner purges abandoned and expired sessions that never produced
// a result once they are older than the retention window.
type RetentionCleaner struct {
	sessions  domain.SessionRepository
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

func NewRetentionCleaner(sessions domain.SessionRepository, retention, interval time.Duration) *RetentionCleaner {
	if sessions == nil || retention <= 0 {
		return nil
	}
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionCleaner{sessions: sessions, retention: retention, interval: interval, now: func() time.Time { return time.Now().UTC() }}
}

func (c *RetentionCleaner) Run(ctx context.Context) {
	if c == nil {
		return
	}
	runEvery(ctx, c.interval, "retention cleaner", c.cleanOnce)
}

func (c *RetentionCleaner) cleanOnce(ctx context.Context) {
	ctx, span := otel.Tracer("sessions.cleanup").Start(ctx, "RetentionCleaner.cleanOnce")
	defer span.End()
	cutoff := c.now().Add(-c.retention)
	n, err := c.sessions.PurgeInactive(ctx, cutoff)
	if err != nil {
		span.RecordError(err)
		slog.Error("retention cleanup failed", slog.Any("error", err))
		return
	}
	span.SetAttributes(attribute.Int64("sessions.purged", n))
	slog.Info("data cleanup completed", slog.Int64("purged_sessions", n), slog.Time("cutoff", cutoff))
}

func runEvery(ctx context.Context, interval time.Duration, name string, fn func(context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	fn(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info(name + " stopping")
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
