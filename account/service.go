// Package account manages identities, referral codes and balances.
package account

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-vpnshop/apperr"
	"go-vpnshop/web/db"
)

type Service struct {
	db  *gorm.DB
	log *zap.SugaredLogger
}

func NewService(conn *gorm.DB, log *zap.SugaredLogger) *Service {
	return &Service{db: conn, log: log}
}

// WithTx returns a copy of the service bound to an open transaction.
func (s *Service) WithTx(tx *gorm.DB) *Service {
	return &Service{db: tx, log: s.log}
}

// GenerateReferralCode derives a shareable code: ref_<6 random>_<last 4 of id>.
func GenerateReferralCode(telegramID int64) string {
	random := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	id := fmt.Sprintf("%d", telegramID)
	if len(id) > 4 {
		id = id[len(id)-4:]
	}
	return fmt.Sprintf("ref_%s_%s", random, id)
}

// GetOrCreate registers an account on first contact. referralCode, when
// present and resolvable, binds the new account to its referrer; it is
// ignored for accounts that already exist.
func (s *Service) GetOrCreate(telegramID int64, username, firstName, lastName, referralCode string) (*db.Account, error) {
	var acc db.Account
	err := s.db.Where("telegram_id = ?", telegramID).First(&acc).Error
	if err == nil {
		acc.Username = username
		acc.FirstName = firstName
		acc.LastName = lastName
		if err := s.db.Save(&acc).Error; err != nil {
			return nil, apperr.Wrap(apperr.KindPersistence, "update account", err)
		}
		return &acc, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup account", err)
	}

	var referrerID *int64
	if referralCode != "" {
		referrer, err := s.ByReferralCode(referralCode)
		if err == nil && referrer.TelegramID != telegramID {
			referrerID = &referrer.TelegramID
		}
	}

	acc = db.Account{
		TelegramID: telegramID,
		Username:   username,
		FirstName:  firstName,
		LastName:   lastName,
		ReferrerID: referrerID,
	}

	// The unique index can reject a generated code; retry with a fresh one.
	// A duplicate can also mean a concurrent first contact beat us on
	// telegram_id, so re-read before blaming the code.
	for attempt := 0; attempt < 5; attempt++ {
		acc.ReferralCode = GenerateReferralCode(telegramID)
		err = s.db.Create(&acc).Error
		if err == nil {
			s.log.Infow("account created", "telegram_id", telegramID, "referrer", referrerID)
			return &acc, nil
		}
		if !errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Wrap(apperr.KindPersistence, "create account", err)
		}
		var existing db.Account
		if lookupErr := s.db.Where("telegram_id = ?", telegramID).First(&existing).Error; lookupErr == nil {
			return &existing, nil
		}
	}
	return nil, apperr.Wrap(apperr.KindPersistence, "create account: referral code collisions", err)
}

// ByTelegramID fetches one account.
func (s *Service) ByTelegramID(telegramID int64) (*db.Account, error) {
	var acc db.Account
	err := s.db.Where("telegram_id = ?", telegramID).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "account %d not found", telegramID)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup account", err)
	}
	return &acc, nil
}

// ByReferralCode resolves a referral code to its owner.
func (s *Service) ByReferralCode(code string) (*db.Account, error) {
	var acc db.Account
	err := s.db.Where("referral_code = ?", code).First(&acc).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "referral code %q not found", code)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup referral code", err)
	}
	return &acc, nil
}

// SetReferrer binds a referrer once. Self-referral and re-binding are
// rejected as validation errors.
func (s *Service) SetReferrer(telegramID, referrerID int64) error {
	if telegramID == referrerID {
		return apperr.New(apperr.KindValidation, "cannot refer yourself")
	}
	acc, err := s.ByTelegramID(telegramID)
	if err != nil {
		return err
	}
	if acc.ReferrerID != nil {
		return apperr.New(apperr.KindValidation, "referrer already set")
	}
	acc.ReferrerID = &referrerID
	if err := s.db.Save(acc).Error; err != nil {
		return apperr.Wrap(apperr.KindPersistence, "set referrer", err)
	}
	s.log.Infow("referrer set", "telegram_id", telegramID, "referrer", referrerID)
	return nil
}
