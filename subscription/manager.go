// Package subscription orchestrates the VPN subscription lifecycle against
// the provisioning panel and the store.
package subscription

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-vpnshop/apperr"
	"go-vpnshop/plan"
	"go-vpnshop/web/db"
)

// Panel is the provisioning side the manager depends on. The concrete
// implementation lives in the panel package; tests substitute a fake.
type Panel interface {
	// Provision creates a remote account expiring at expiresAt and returns
	// its username and subscription URL.
	Provision(ctx context.Context, telegramID int64, expiresAt time.Time) (username, subscriptionURL string, err error)
	Extend(ctx context.Context, username string, newExpiry time.Time) error
	Deprovision(ctx context.Context, username string) error
}

type Manager struct {
	db    *gorm.DB
	panel Panel
	log   *zap.SugaredLogger
}

func NewManager(conn *gorm.DB, p Panel, log *zap.SugaredLogger) *Manager {
	return &Manager{db: conn, panel: p, log: log}
}

// WithTx returns a copy of the manager bound to an open transaction.
func (m *Manager) WithTx(tx *gorm.DB) *Manager {
	return &Manager{db: tx, panel: m.panel, log: m.log}
}

// Create provisions a remote account and persists a new ACTIVE subscription.
// The panel call comes first: on failure nothing is written locally.
func (m *Manager) Create(ctx context.Context, telegramID int64, p plan.Type) (*db.Subscription, error) {
	return m.createFor(ctx, telegramID, p, p.Duration())
}

// CreateFor is the bonus-days variant: a subscription of an arbitrary
// duration recorded under the given plan type.
func (m *Manager) CreateFor(ctx context.Context, telegramID int64, p plan.Type, d time.Duration) (*db.Subscription, error) {
	return m.createFor(ctx, telegramID, p, d)
}

func (m *Manager) createFor(ctx context.Context, telegramID int64, p plan.Type, d time.Duration) (*db.Subscription, error) {
	now := time.Now()
	expiresAt := now.Add(d)

	username, subURL, err := m.panel.Provision(ctx, telegramID, expiresAt)
	if err != nil {
		return nil, err
	}

	var acc db.Account
	if err := m.db.Where("telegram_id = ?", telegramID).First(&acc).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup account for subscription", err)
	}

	sub := db.Subscription{
		AccountID:       acc.ID,
		TelegramID:      telegramID,
		RemoteUsername:  username,
		SubscriptionURL: subURL,
		PlanType:        p,
		Status:          db.SubscriptionActive,
		StartedAt:       now,
		ExpiresAt:       expiresAt,
	}
	if err := m.db.Create(&sub).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "persist subscription", err)
	}

	m.log.Infow("subscription created", "telegram_id", telegramID, "plan", p, "expires", expiresAt)
	return &sub, nil
}

// Extend pushes the new expiry to the panel first, then persists it with a
// conditional update so a concurrently cancelled row is never resurrected.
// An expired-but-still-active subscription restarts from now; an unexpired
// one stacks the plan's duration on top of the current expiry.
func (m *Manager) Extend(ctx context.Context, sub *db.Subscription, p plan.Type) (*db.Subscription, error) {
	return m.ExtendFor(ctx, sub, p, p.Duration())
}

// ExtendFor extends by an arbitrary duration (bonus days).
func (m *Manager) ExtendFor(ctx context.Context, sub *db.Subscription, p plan.Type, d time.Duration) (*db.Subscription, error) {
	now := time.Now()
	startedAt := sub.StartedAt
	var expiresAt time.Time
	if !sub.ExpiresAt.After(now) {
		startedAt = now
		expiresAt = now.Add(d)
	} else {
		expiresAt = sub.ExpiresAt.Add(d)
	}

	if err := m.panel.Extend(ctx, sub.RemoteUsername, expiresAt); err != nil {
		return nil, err
	}

	res := m.db.Model(&db.Subscription{}).
		Where("id = ? AND status = ?", sub.ID, db.SubscriptionActive).
		Updates(map[string]any{
			"plan_type":  p,
			"started_at": startedAt,
			"expires_at": expiresAt,
		})
	if res.Error != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "persist extension", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Newf(apperr.KindConflict, "subscription %d is no longer active", sub.ID)
	}

	sub.PlanType = p
	sub.StartedAt = startedAt
	sub.ExpiresAt = expiresAt
	m.log.Infow("subscription extended", "telegram_id", sub.TelegramID, "plan", p, "expires", expiresAt)
	return sub, nil
}

// Cancel is idempotent: a subscription already out of ACTIVE is a no-op, and
// a remote account already gone counts as deprovisioned.
func (m *Manager) Cancel(ctx context.Context, sub *db.Subscription) error {
	return m.cancel(ctx, sub, false)
}

// CancelExpired is the sweep variant: the status flip re-checks expires_at so
// a just-extended subscription survives.
func (m *Manager) CancelExpired(ctx context.Context, sub *db.Subscription) error {
	return m.cancel(ctx, sub, true)
}

func (m *Manager) cancel(ctx context.Context, sub *db.Subscription, requireExpired bool) error {
	q := m.db.Model(&db.Subscription{}).Where("id = ? AND status = ?", sub.ID, db.SubscriptionActive)
	if requireExpired {
		q = q.Where("expires_at <= ?", time.Now())
	}
	res := q.Update("status", db.SubscriptionCancelled)
	if res.Error != nil {
		return apperr.Wrap(apperr.KindPersistence, "cancel subscription", res.Error)
	}
	if res.RowsAffected == 0 {
		// Already terminal, or extended since we looked. Nothing to undo.
		return nil
	}
	sub.Status = db.SubscriptionCancelled

	if err := m.panel.Deprovision(ctx, sub.RemoteUsername); err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			m.log.Infow("remote account already absent", "username", sub.RemoteUsername)
			return nil
		}
		return err
	}
	m.log.Infow("subscription cancelled", "telegram_id", sub.TelegramID, "username", sub.RemoteUsername)
	return nil
}

// ActiveByTelegramID returns the account's single active, unexpired
// subscription, or nil. Two matching rows is a data-integrity violation and
// is reported as such rather than resolved by picking one.
func (m *Manager) ActiveByTelegramID(telegramID int64) (*db.Subscription, error) {
	var subs []db.Subscription
	err := m.db.Where("telegram_id = ? AND status = ? AND expires_at > ?",
		telegramID, db.SubscriptionActive, time.Now()).Find(&subs).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup active subscription", err)
	}
	switch len(subs) {
	case 0:
		return nil, nil
	case 1:
		return &subs[0], nil
	default:
		return nil, apperr.Newf(apperr.KindPersistence,
			"integrity violation: %d active subscriptions for account %d", len(subs), telegramID)
	}
}

// ActiveByTelegramIDLocked is ActiveByTelegramID with a row lock, for use
// inside reconciliation transactions.
func (m *Manager) ActiveByTelegramIDLocked(telegramID int64) (*db.Subscription, error) {
	locked := m.WithTx(m.db.Clauses(clause.Locking{Strength: "UPDATE"}))
	return locked.ActiveByTelegramID(telegramID)
}

// ByRemoteUsername resolves a subscription by its panel username.
func (m *Manager) ByRemoteUsername(username string) (*db.Subscription, error) {
	var sub db.Subscription
	err := m.db.Where("remote_username = ?", username).First(&sub).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "subscription for %q not found", username)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup subscription", err)
	}
	return &sub, nil
}

// HasUsedTrial reports whether the account ever held a trial subscription,
// in any status. Trial eligibility never comes back.
func (m *Manager) HasUsedTrial(telegramID int64) (bool, error) {
	var count int64
	err := m.db.Model(&db.Subscription{}).
		Where("telegram_id = ? AND plan_type = ?", telegramID, plan.Trial).
		Count(&count).Error
	if err != nil {
		return false, apperr.Wrap(apperr.KindPersistence, "count trial subscriptions", err)
	}
	return count > 0, nil
}
