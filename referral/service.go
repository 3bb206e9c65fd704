// Package referral maintains the append-only bonus ledger.
package referral

import (
	"errors"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"go-vpnshop/apperr"
	"go-vpnshop/web/db"
)

var hundred = decimal.NewFromInt(100)

type Service struct {
	db   *gorm.DB
	rate decimal.Decimal // percentage, e.g. 15.0
	log  *zap.SugaredLogger
}

// NewService builds the ledger with the configured bonus rate in percent.
func NewService(conn *gorm.DB, ratePercent string, log *zap.SugaredLogger) (*Service, error) {
	rate, err := decimal.NewFromString(ratePercent)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindValidation, "malformed referral rate "+ratePercent, err)
	}
	return &Service{db: conn, rate: rate, log: log}, nil
}

// WithTx returns a copy of the service bound to an open transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx, rate: s.rate, log: s.log}
}

// Bonus computes the referral bonus for a payment amount in minor units,
// truncated to a whole kopeck.
func (s *Service) Bonus(amount int64) int64 {
	return decimal.NewFromInt(amount).Mul(s.rate).Div(hundred).IntPart()
}

// Accrue credits the payer's referrer for one gateway-funded payment. A
// payer without a referrer is a no-op. The unique index on the payment id
// makes a duplicate accrual fail at the store; that surfaces as a conflict
// so a racing caller can treat it as already done.
func (s *Service) Accrue(payerTelegramID int64, paymentID uint, amount int64) (int64, error) {
	var payer db.Account
	err := s.db.Where("telegram_id = ?", payerTelegramID).First(&payer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, apperr.Newf(apperr.KindNotFound, "payer %d not found", payerTelegramID)
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "lookup payer", err)
	}
	if payer.ReferrerID == nil {
		return 0, nil
	}

	var referrer db.Account
	err = s.db.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("telegram_id = ?", *payer.ReferrerID).First(&referrer).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Warnw("referrer vanished, skipping accrual",
			"payer", payerTelegramID, "referrer", *payer.ReferrerID)
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "lookup referrer", err)
	}

	bonus := s.Bonus(amount)
	entry := db.ReferralEntry{
		ReferrerID: referrer.TelegramID,
		ReferredID: payerTelegramID,
		PaymentID:  paymentID,
		Amount:     bonus,
		Rate:       s.rate.String(),
	}
	if err := s.db.Create(&entry).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return 0, apperr.Newf(apperr.KindConflict, "payment %d already accrued", paymentID)
		}
		return 0, apperr.Wrap(apperr.KindPersistence, "append ledger entry", err)
	}

	var referred int64
	if err := s.db.Model(&db.Account{}).Where("referrer_id = ?", referrer.TelegramID).Count(&referred).Error; err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "count referred accounts", err)
	}

	err = s.db.Model(&db.Account{}).Where("id = ?", referrer.ID).Updates(map[string]any{
		"balance":         gorm.Expr("balance + ?", bonus),
		"total_earned":    gorm.Expr("total_earned + ?", bonus),
		"total_referrals": referred,
	}).Error
	if err != nil {
		return 0, apperr.Wrap(apperr.KindPersistence, "credit referrer", err)
	}

	s.log.Infow("referral bonus accrued",
		"referrer", referrer.TelegramID, "payer", payerTelegramID,
		"payment_id", paymentID, "bonus", bonus, "rate", s.rate.String())
	return bonus, nil
}

// Stats summarises an account's referral activity. Earnings are derived from
// the ledger, not from the cached counter.
type Stats struct {
	ReferralCode string       `json:"referralCode"`
	Referrals    int64        `json:"referrals"`
	TotalEarned  int64        `json:"totalEarned"`
	Balance      int64        `json:"balance"`
	Recent       []db.Account `json:"-"`
}

func (s *Service) Stats(telegramID int64) (*Stats, error) {
	var acc db.Account
	err := s.db.Where("telegram_id = ?", telegramID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "account %d not found", telegramID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup account", err)
	}

	var referred int64
	if err := s.db.Model(&db.Account{}).Where("referrer_id = ?", telegramID).Count(&referred).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "count referred accounts", err)
	}

	var entries []db.ReferralEntry
	if err := s.db.Where("referrer_id = ?", telegramID).Find(&entries).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load ledger entries", err)
	}
	var earned int64
	for _, e := range entries {
		earned += e.Amount
	}

	var recent []db.Account
	if err := s.db.Where("referrer_id = ?", telegramID).
		Order("created_at DESC").Limit(5).Find(&recent).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load recent referrals", err)
	}

	return &Stats{
		ReferralCode: acc.ReferralCode,
		Referrals:    referred,
		TotalEarned:  earned,
		Balance:      acc.Balance,
		Recent:       recent,
	}, nil
}
