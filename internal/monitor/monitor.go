// Package monitor runs the periodic custody sweep: it refreshes the custody
// gauges and sends the one-time notification for records that became
// delayed.
package monitor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"equipment-custody-backend/config"
	"equipment-custody-backend/internal/custody"
	"equipment-custody-backend/internal/metrics"
	"equipment-custody-backend/internal/model"
	"equipment-custody-backend/internal/store"
)

// RecordStore is the part of the store the sweep needs.
type RecordStore interface {
	List(ctx context.Context, opts store.ListOptions) ([]model.EquipmentRecord, error)
	UpdateMany(ctx context.Context, ids []string, fields store.Fields) (int64, error)
}

// DelayNotifier queues a delayed notification and reports whether it was
// accepted.
type DelayNotifier interface {
	NotifyDelayed(rec model.EquipmentRecord) bool
}

// Service orchestrates the sweep loop.
type Service struct {
	cfg      config.MonitorConfig
	store    RecordStore
	notifier DelayNotifier
	log      *zap.Logger
	now      func() time.Time
}

// NewService creates a monitor. notifier may be nil when push is disabled;
// the sweep then only refreshes gauges.
func NewService(cfg config.MonitorConfig, st RecordStore, notifier DelayNotifier, log *zap.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    st,
		notifier: notifier,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then every configured interval until ctx
// is cancelled.
func (s *Service) Run(ctx context.Context) {
	if !s.cfg.Enabled {
		s.log.Info("custody monitor is disabled, not starting")
		return
	}
	s.log.Info("starting custody monitor", zap.Duration("interval", s.cfg.Interval))

	s.SweepOnce(ctx)

	timer := time.NewTimer(s.cfg.Interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info("custody monitor shutting down")
			return
		case <-timer.C:
			s.SweepOnce(ctx)
			timer.Reset(s.cfg.Interval)
		}
	}
}

// SweepOnce performs a single sweep and returns how many delayed
// notifications were queued.
func (s *Service) SweepOnce(ctx context.Context) int {
	now := s.now()

	records, err := s.store.List(ctx, store.ListOptions{ActiveOnly: true})
	if err != nil {
		s.log.Error("sweep aborted: failed to list active records", zap.Error(err))
		return 0
	}

	stats := custody.ComputeStats(records, now)
	metrics.ObserveStats(stats)

	if s.notifier == nil {
		return 0
	}

	var notified []string
	for _, rec := range records {
		if rec.DelayNotifiedAt != nil || !rec.Active() {
			continue
		}
		days := custody.CustodyDays(rec.IntakeAt, rec.ExitAt, now)
		if custody.DeriveStatus(&rec, days) != custody.StatusDelayed {
			continue
		}
		if s.notifier.NotifyDelayed(rec) {
			notified = append(notified, rec.ID)
		}
	}

	if len(notified) > 0 {
		if _, err := s.store.UpdateMany(ctx, notified, store.Fields{"delay_notified_at": now}); err != nil {
			s.log.Error("failed to record delayed notifications", zap.Int("records", len(notified)), zap.Error(err))
		}
	}

	s.log.Debug("sweep finished",
		zap.Int("active", stats.InPreparation),
		zap.Int("delayed", stats.Delayed),
		zap.Int("notified", len(notified)))
	return len(notified)
}
