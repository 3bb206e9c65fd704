package subscription

import (
	"context"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-vpnshop/apperr"
	"go-vpnshop/web/db"
)

// Sweeper periodically cancels subscriptions past their expiry.
type Sweeper struct {
	db       *gorm.DB
	manager  *Manager
	interval time.Duration
	log      *zap.SugaredLogger
}

func NewSweeper(conn *gorm.DB, m *Manager, interval time.Duration, log *zap.SugaredLogger) *Sweeper {
	return &Sweeper{db: conn, manager: m, interval: interval, log: log}
}

// Start runs sweep passes on a fixed interval until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.SweepOnce(ctx); err != nil {
					s.log.Errorw("sweep pass failed", "error", err)
				}
			}
		}
	}()
}

// SweepOnce cancels every active subscription whose expiry has passed. Rows
// are processed independently: a deprovisioning failure is logged for the
// operator and does not block the rest of the pass.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	var expired []db.Subscription
	err := s.db.Where("status = ? AND expires_at <= ?", db.SubscriptionActive, time.Now()).
		Find(&expired).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "list expired subscriptions", err)
	}

	cancelled := 0
	for i := range expired {
		sub := &expired[i]
		if err := s.manager.CancelExpired(ctx, sub); err != nil {
			s.log.Errorw("failed to deactivate expired subscription",
				"subscription_id", sub.ID, "telegram_id", sub.TelegramID, "error", err)
			continue
		}
		cancelled++
	}

	if cancelled > 0 {
		s.log.Infow("sweep pass finished", "expired", len(expired), "cancelled", cancelled)
	}
	return cancelled, nil
}
