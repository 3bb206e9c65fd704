// Package promocode validates and redeems promotional codes.
package promocode

import (
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-vpnshop/apperr"
	"go-vpnshop/plan"
	"go-vpnshop/web/db"
)

// Reason enumerates why a code failed validation.
type Reason string

const (
	ReasonNotFound          Reason = "not_found"
	ReasonExpired           Reason = "expired"
	ReasonExhausted         Reason = "exhausted"
	ReasonPlanNotApplicable Reason = "plan_not_applicable"
	ReasonAlreadyUsed       Reason = "already_used"
)

// ValidationResult carries either the code or the rejection reason.
type ValidationResult struct {
	Valid     bool
	Reason    Reason
	Promocode *db.Promocode
}

// RedemptionResult is the outcome of applying a code to an amount.
type RedemptionResult struct {
	DiscountAmount int64
	FinalAmount    int64
	BonusDays      int
}

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

// Validate checks a code for an account and plan. The answer is advisory:
// the store-level uniqueness constraint in Redeem is the actual gate.
func (s *Service) Validate(code string, telegramID int64, planType plan.Type) (*ValidationResult, error) {
	var promo db.Promocode
	err := s.db.Where("code = ? AND is_active = ?", normalize(code), true).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &ValidationResult{Valid: false, Reason: ReasonNotFound}, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup promocode", err)
	}

	if promo.ExpiresAt != nil && promo.ExpiresAt.Before(time.Now()) {
		return &ValidationResult{Valid: false, Reason: ReasonExpired}, nil
	}
	if promo.MaxUses != nil && promo.CurrentUses >= *promo.MaxUses {
		return &ValidationResult{Valid: false, Reason: ReasonExhausted}, nil
	}
	// Bonus-days codes extend whatever the account already has, so a plan
	// restriction only applies to discount codes.
	if promo.DiscountType != db.DiscountBonusDays &&
		promo.ApplicablePlans != "" && !planApplies(promo.ApplicablePlans, planType) {
		return &ValidationResult{Valid: false, Reason: ReasonPlanNotApplicable}, nil
	}

	var used int64
	err = s.db.Model(&db.PromocodeUsage{}).
		Where("promocode_id = ? AND telegram_id = ?", promo.ID, telegramID).
		Count(&used).Error
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "check prior usage", err)
	}
	if used > 0 {
		return &ValidationResult{Valid: false, Reason: ReasonAlreadyUsed}, nil
	}

	return &ValidationResult{Valid: true, Promocode: &promo}, nil
}

// Redeem consumes the code for the account. The conditional usage-counter
// bump runs first and is the cap gate: when it affects zero rows the code is
// exhausted and nothing has been written yet. The insert into
// promocode_usages is the per-account gate: a concurrent duplicate fails on
// the (code, account) unique index and surfaces as a conflict, which callers
// report exactly like "already used".
func (s *Service) Redeem(promo *db.Promocode, telegramID int64, originalAmount int64, paymentID *uint) (*RedemptionResult, error) {
	result := &RedemptionResult{FinalAmount: originalAmount}

	switch promo.DiscountType {
	case db.DiscountPercent:
		result.DiscountAmount = originalAmount * promo.DiscountValue / 100
		result.FinalAmount = originalAmount - result.DiscountAmount
	case db.DiscountFixed:
		result.DiscountAmount = min(promo.DiscountValue, originalAmount)
		result.FinalAmount = originalAmount - result.DiscountAmount
	case db.DiscountBonusDays:
		result.BonusDays = int(promo.DiscountValue)
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown discount type %q", promo.DiscountType)
	}

	// Counter bump and usage row commit or vanish together; when the caller
	// already holds a transaction this becomes a savepoint.
	err := s.db.Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&db.Promocode{}).
			Where("id = ? AND (max_uses IS NULL OR current_uses < max_uses)", promo.ID).
			Update("current_uses", gorm.Expr("current_uses + 1"))
		if res.Error != nil {
			return apperr.Wrap(apperr.KindPersistence, "bump usage counter", res.Error)
		}
		if res.RowsAffected == 0 {
			return apperr.Newf(apperr.KindConflict, "promocode %s exhausted", promo.Code)
		}

		usage := db.PromocodeUsage{
			PromocodeID:    promo.ID,
			TelegramID:     telegramID,
			PaymentID:      paymentID,
			DiscountAmount: result.DiscountAmount,
		}
		if err := tx.Create(&usage).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return apperr.Newf(apperr.KindConflict, "promocode %s already used", promo.Code)
			}
			return apperr.Wrap(apperr.KindPersistence, "record promocode usage", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Infow("promocode redeemed",
		"code", promo.Code, "telegram_id", telegramID,
		"discount", result.DiscountAmount, "bonus_days", result.BonusDays)
	return result, nil
}

// CreateParams describes an operator-created code.
type CreateParams struct {
	Code            string
	DiscountType    db.DiscountType
	DiscountValue   int64
	MaxUses         *int
	ExpiresAt       *time.Time
	ApplicablePlans []plan.Type
}

// Create registers a new promocode.
func (s *Service) Create(p CreateParams) (*db.Promocode, error) {
	switch p.DiscountType {
	case db.DiscountPercent:
		if p.DiscountValue <= 0 || p.DiscountValue > 100 {
			return nil, apperr.New(apperr.KindValidation, "percent discount must be 1..100")
		}
	case db.DiscountFixed, db.DiscountBonusDays:
		if p.DiscountValue <= 0 {
			return nil, apperr.New(apperr.KindValidation, "discount value must be positive")
		}
	default:
		return nil, apperr.Newf(apperr.KindValidation, "unknown discount type %q", p.DiscountType)
	}

	plans := make([]string, 0, len(p.ApplicablePlans))
	for _, pl := range p.ApplicablePlans {
		plans = append(plans, string(pl))
	}

	promo := db.Promocode{
		Code:            normalize(p.Code),
		DiscountType:    p.DiscountType,
		DiscountValue:   p.DiscountValue,
		MaxUses:         p.MaxUses,
		ExpiresAt:       p.ExpiresAt,
		ApplicablePlans: strings.Join(plans, ","),
		IsActive:        true,
	}
	if err := s.db.Create(&promo).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apperr.Newf(apperr.KindConflict, "promocode %s already exists", promo.Code)
		}
		return nil, apperr.Wrap(apperr.KindPersistence, "create promocode", err)
	}

	s.log.Infow("promocode created", "code", promo.Code, "type", promo.DiscountType, "value", promo.DiscountValue)
	return &promo, nil
}

// CodeStats reports usage for the operator view.
type CodeStats struct {
	Code          string          `json:"code"`
	DiscountType  db.DiscountType `json:"discountType"`
	DiscountValue int64           `json:"discountValue"`
	CurrentUses   int             `json:"currentUses"`
	MaxUses       *int            `json:"maxUses"`
	TotalDiscount int64           `json:"totalDiscount"`
	IsActive      bool            `json:"isActive"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
}

func (s *Service) StatsByCode(code string) (*CodeStats, error) {
	var promo db.Promocode
	err := s.db.Where("code = ?", normalize(code)).First(&promo).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.Newf(apperr.KindNotFound, "promocode %s not found", normalize(code))
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "lookup promocode", err)
	}

	var usages []db.PromocodeUsage
	if err := s.db.Where("promocode_id = ?", promo.ID).Find(&usages).Error; err != nil {
		return nil, apperr.Wrap(apperr.KindPersistence, "load usages", err)
	}
	var total int64
	for _, u := range usages {
		total += u.DiscountAmount
	}

	return &CodeStats{
		Code:          promo.Code,
		DiscountType:  promo.DiscountType,
		DiscountValue: promo.DiscountValue,
		CurrentUses:   promo.CurrentUses,
		MaxUses:       promo.MaxUses,
		TotalDiscount: total,
		IsActive:      promo.IsActive,
		ExpiresAt:     promo.ExpiresAt,
	}, nil
}

func normalize(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

func planApplies(csv string, p plan.Type) bool {
	for _, item := range strings.Split(csv, ",") {
		if strings.TrimSpace(item) == string(p) {
			return true
		}
	}
	return false
}
