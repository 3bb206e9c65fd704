// Package payment creates payment intents and reconciles gateway state with
// the local ledger exactly once.
package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-vpnshop/apperr"
	"go-vpnshop/gateway"
	"go-vpnshop/plan"
	"go-vpnshop/promocode"
	"go-vpnshop/referral"
	"go-vpnshop/subscription"
	"go-vpnshop/web/db"
)

const currency = "RUB"

// Gateway is the processor side the engine depends on; tests substitute a
// fake.
type Gateway interface {
	CreateIntent(ctx context.Context, amount int64, currency, description string, telegramID int64, planType string) (*gateway.Intent, error)
	FetchStatus(ctx context.Context, remoteID string) (string, error)
}

type Engine struct {
	db      *gorm.DB
	gw      Gateway
	subs    *subscription.Manager
	refs    *referral.Service
	promos  *promocode.Service
	catalog *plan.Catalog
	log     *zap.SugaredLogger
}

func NewEngine(conn *gorm.DB, gw Gateway, subs *subscription.Manager, refs *referral.Service,
	promos *promocode.Service, catalog *plan.Catalog, log *zap.SugaredLogger) *Engine {
	return &Engine{db: conn, gw: gw, subs: subs, refs: refs, promos: promos, catalog: catalog, log: log}
}

// CreateIntent prices the plan, registers the intent with the gateway and
// persists a PENDING payment carrying the confirmation handle. An optional
// promocode discounts the charged amount; its redemption is recorded only
// when the payment later succeeds.
func (e *Engine) CreateIntent(ctx context.Context, telegramID int64, p plan.Type, promoCode string) (*db.Payment, error) {
	if p == plan.Trial {
		return nil, apperr.New(apperr.KindValidation, "trial is not purchasable")
	}
	amount, err := e.catalog.Price(p)
	if err != nil {
		return nil, err
	}

	if promoCode != "" {
		res, err := e.promos.Validate(promoCode, telegramID, p)
		if err != nil {
			return nil, err
		}
		if !res.Valid {
			return nil, apperr.Newf(apperr.KindValidation, "promocode rejected: %s", res.Reason)
		}
		switch res.Promocode.DiscountType {
		case db.DiscountPercent:
			amount -= amount * res.Promocode.DiscountValue / 100
		case db.DiscountFixed:
			amount -= min(res.Promocode.DiscountValue, amount)
		case db.DiscountBonusDays:
			return nil, apperr.New(apperr.KindValidation, "bonus-days codes are redeemed directly, not at checkout")
		}
		if amount <= 0 {
			return nil, apperr.New(apperr.KindValidation, "discount covers the full price, redeem the code instead")
		}
	}

	description := fmt.Sprintf("VPN subscription: %s", p.Name())
	intent, err := e.gw.CreateIntent(ctx, amount, currency, description, telegramID, string(p))
	if err != nil {
		return nil, err
	}

	pay := db.Payment{
		TelegramID:      telegramID,
		RemoteID:        intent.RemoteID,
		Amount:          amount,
		Currency:        currency,
		PlanType:        p,
		Status:          db.PaymentPending,
		Promocode:       promoCode,
		Description:     description,
		ConfirmationURL: intent.ConfirmationURL,
	}
	if err := e.db.Create(&pay).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "persist payment", err)
	}

	e.log.Infow("payment intent created", "remote_id", pay.RemoteID, "telegram_id", telegramID,
		"plan", p, "amount", amount)
	return &pay, nil
}

// Reconcile is the single path both the poll handler and the webhook handler
// go through. The conditional status flip is the gate: only the caller whose
// update affects a row runs side effects; everyone else is an idempotent
// no-op. Side effects and the flip share one transaction, and the panel call
// happens inside it, so a provisioning failure rolls the flip back and the
// payment stays PENDING for a later attempt.
func (e *Engine) Reconcile(ctx context.Context, remoteID, observedStatus string) error {
	switch observedStatus {
	case gateway.StatusPending:
		return nil
	case gateway.StatusSucceeded:
		return e.reconcileSucceeded(ctx, remoteID)
	case gateway.StatusCancelled:
		return e.flip(remoteID, db.PaymentPending, db.PaymentCancelled)
	case gateway.StatusRefunded:
		return e.flip(remoteID, db.PaymentSucceeded, db.PaymentRefunded)
	default:
		return apperr.Newf(apperr.KindValidation, "unknown remote payment status %q", observedStatus)
	}
}

func (e *Engine) reconcileSucceeded(ctx context.Context, remoteID string) error {
	return e.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Payment{}).
			Where("remote_id = ? AND status = ?", remoteID, db.PaymentPending).
			Update("status", db.PaymentSucceeded)
		if res.Error != nil {
			return apperr.Wrap(apperr.KindPersistence, "flip payment status", res.Error)
		}
		if res.RowsAffected == 0 {
			// Lost the race, or the payment is unknown. Distinguish so a
			// bogus remote id is not silently swallowed.
			var count int64
			if err := tx.Model(&db.Payment{}).Where("remote_id = ?", remoteID).Count(&count).Error; err != nil {
				return apperr.Wrap(apperr.KindPersistence, "check payment existence", err)
			}
			if count == 0 {
				return apperr.Newf(apperr.KindNotFound, "payment %s not found", remoteID)
			}
			e.log.Infow("payment already reconciled", "remote_id", remoteID)
			return nil
		}

		var pay db.Payment
		if err := tx.Where("remote_id = ?", remoteID).First(&pay).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, "load payment", err)
		}

		if err := e.applySubscription(ctx, tx, pay.TelegramID, pay.PlanType); err != nil {
			return err
		}

		if _, err := e.refs.WithTx(tx).Accrue(pay.TelegramID, pay.ID, pay.Amount); err != nil {
			if apperr.Is(err, apperr.KindConflict) {
				e.log.Warnw("referral already accrued", "payment_id", pay.ID)
			} else {
				return err
			}
		}

		if pay.Promocode != "" {
			if err := e.redeemPending(tx, &pay); err != nil {
				return err
			}
		}

		e.log.Infow("payment reconciled", "remote_id", remoteID, "telegram_id", pay.TelegramID, "plan", pay.PlanType)
		return nil
	})
}

// applySubscription extends the active subscription or creates a fresh one.
// An extension that loses to a concurrent sweep falls back to creating.
func (e *Engine) applySubscription(ctx context.Context, tx *gorm.DB, telegramID int64, p plan.Type) error {
	subs := e.subs.WithTx(tx)
	existing, err := subs.ActiveByTelegramIDLocked(telegramID)
	if err != nil {
		return err
	}
	if existing != nil {
		_, err = subs.Extend(ctx, existing, p)
		if err == nil {
			return nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return err
		}
	}
	_, err = subs.Create(ctx, telegramID, p)
	return err
}

// redeemPending records the promocode usage that was priced into the intent.
// A code that stopped validating since checkout (expired, exhausted, already
// used) is logged and skipped: the discount was already granted at intent
// time. A Redeem error means a concurrent writer raced us inside this very
// transaction, so it propagates and rolls the reconciliation back; the next
// attempt sees the committed state through Validate and converges.
func (e *Engine) redeemPending(tx *gorm.DB, pay *db.Payment) error {
	promos := e.promos.WithTx(tx)
	res, err := promos.Validate(pay.Promocode, pay.TelegramID, pay.PlanType)
	if err != nil {
		return err
	}
	if !res.Valid {
		e.log.Warnw("pending promocode no longer valid", "code", pay.Promocode, "reason", res.Reason)
		return nil
	}
	if _, err := promos.Redeem(res.Promocode, pay.TelegramID, pay.Amount, &pay.ID); err != nil {
		return err
	}
	return nil
}

// flip is the side-effect-free status transition. Like reconcileSucceeded, a
// zero-row update distinguishes an unknown remote id from a lost race: the
// former is an error, the latter an idempotent no-op.
func (e *Engine) flip(remoteID string, from, to db.PaymentStatus) error {
	res := e.db.Model(&db.Payment{}).
		Where("remote_id = ? AND status = ?", remoteID, from).
		Update("status", to)
	if res.Error != nil {
		return apperr.Wrap(apperr.KindPersistence, "flip payment status", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := e.db.Model(&db.Payment{}).Where("remote_id = ?", remoteID).Count(&count).Error; err != nil {
			return apperr.Wrap(apperr.KindPersistence, "check payment existence", err)
		}
		if count == 0 {
			return apperr.Newf(apperr.KindNotFound, "payment %s not found", remoteID)
		}
		return nil
	}
	e.log.Infow("payment status updated", "remote_id", remoteID, "status", to)
	return nil
}

// CheckStatus is the poll path: fetch the authoritative status, reconcile,
// and return the refreshed local row.
func (e *Engine) CheckStatus(ctx context.Context, remoteID string) (*db.Payment, error) {
	status, err := e.gw.FetchStatus(ctx, remoteID)
	if err != nil {
		return nil, err
	}
	if err := e.Reconcile(ctx, remoteID, status); err != nil {
		return nil, err
	}
	return e.ByRemoteID(remoteID)
}

// ByRemoteID loads the local payment row.
func (e *Engine) ByRemoteID(remoteID string) (*db.Payment, error) {
	var pay db.Payment
	err := e.db.Where("remote_id = ?", remoteID).First(&pay).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "payment %s not found", remoteID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup payment", err)
	}
	return &pay, nil
}

// PurchaseWithBalance funds a plan from the account balance: a conditional
// decrement guards against overdraft, then the subscription is created or
// extended inside the same transaction. No gateway payment exists, so no
// referral bonus can ever accrue for it.
func (e *Engine) PurchaseWithBalance(ctx context.Context, telegramID int64, p plan.Type) error {
	if p == plan.Trial {
		return apperr.New(apperr.KindValidation, "trial is not purchasable")
	}
	price, err := e.catalog.Price(p)
	if err != nil {
		return err
	}

	return e.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Account{}).
			Where("telegram_id = ? AND balance >= ?", telegramID, price).
			Update("balance", gorm.Expr("balance - ?", price))
		if res.Error != nil {
			return apperr.Wrap(apperr.KindPersistence, "debit balance", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.New(apperr.KindValidation, "insufficient balance")
		}

		if err := e.applySubscription(ctx, tx, telegramID, p); err != nil {
			return err
		}

		e.log.Infow("balance purchase", "telegram_id", telegramID, "plan", p, "price", price)
		return nil
	})
}

// RedeemBonusDays consumes a bonus-days promocode and grants the days
// directly, bypassing payment. Discount codes are redirected to checkout.
func (e *Engine) RedeemBonusDays(ctx context.Context, telegramID int64, code string) (*db.Subscription, error) {
	var granted *db.Subscription
	err := e.db.Transaction(func(tx *gorm.DB) error {
		promos := e.promos.WithTx(tx)
		res, err := promos.Validate(code, telegramID, plan.Day)
		if err != nil {
			return err
		}
		if !res.Valid {
			return apperr.Newf(apperr.KindValidation, "promocode rejected: %s", res.Reason)
		}
		if res.Promocode.DiscountType != db.DiscountBonusDays {
			return apperr.New(apperr.KindValidation, "discount codes apply at checkout, not here")
		}

		red, err := promos.Redeem(res.Promocode, telegramID, 0, nil)
		if err != nil {
			return err
		}

		d := time.Duration(red.BonusDays) * 24 * time.Hour
		subs := e.subs.WithTx(tx)
		existing, err := subs.ActiveByTelegramIDLocked(telegramID)
		if err != nil {
			return err
		}
		if existing != nil {
			granted, err = subs.ExtendFor(ctx, existing, existing.PlanType, d)
			return err
		}
		granted, err = subs.CreateFor(ctx, telegramID, plan.Day, d)
		return err
	})
	if err != nil {
		return nil, err
	}
	return granted, nil
}
