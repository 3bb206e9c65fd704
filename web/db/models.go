package db

import (
	"time"

	"gorm.io/gorm"

	"go-vpnshop/plan"
)

type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionExpired   SubscriptionStatus = "expired"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentSucceeded PaymentStatus = "succeeded"
	PaymentCancelled PaymentStatus = "cancelled"
	PaymentRefunded  PaymentStatus = "refunded"
)

type DiscountType string

const (
	DiscountPercent   DiscountType = "percent"
	DiscountFixed     DiscountType = "fixed"
	DiscountBonusDays DiscountType = "bonus_days"
)

// Account is created on first contact and never deleted. Balance and the
// earned counters are mutated only by the referral accrual path; reports
// derive totals from ReferralEntry rows.
type Account struct {
	gorm.Model
	TelegramID int64  `gorm:"uniqueIndex"`
	Username   string `gorm:"size:255"`
	FirstName  string `gorm:"size:255"`
	LastName   string `gorm:"size:255"`

	ReferrerID   *int64 `gorm:"index"` // telegram id of the referrer, weak reference
	ReferralCode string `gorm:"size:50;uniqueIndex"`

	Balance        int64 // minor units
	TotalReferrals int
	TotalEarned    int64 // minor units

	IsAdmin bool
}

// Subscription rows are never physically deleted; cancelled and expired are
// terminal states. At most one row per account may be active with a future
// expiry.
type Subscription struct {
	gorm.Model
	AccountID  uint  `gorm:"index"`
	TelegramID int64 `gorm:"index"`

	RemoteUsername  string `gorm:"size:255;uniqueIndex"`
	SubscriptionURL string `gorm:"size:500"`

	PlanType plan.Type          `gorm:"size:50"`
	Status   SubscriptionStatus `gorm:"size:20;index"`

	StartedAt time.Time
	ExpiresAt time.Time `gorm:"index"`
}

// Payment mirrors one gateway intent. Status moves pending -> succeeded or
// cancelled, and succeeded -> refunded; the reconciliation engine is the only
// writer after creation.
type Payment struct {
	gorm.Model
	TelegramID int64 `gorm:"index"`

	RemoteID string `gorm:"size:255;uniqueIndex"`
	Amount   int64  // minor units
	Currency string `gorm:"size:10"`

	PlanType plan.Type     `gorm:"size:50"`
	Status   PaymentStatus `gorm:"size:20;index"`

	Promocode string `gorm:"size:50"` // pending discount context, redeemed on success

	Description     string `gorm:"size:500"`
	ConfirmationURL string `gorm:"size:500"`
}

type Promocode struct {
	gorm.Model
	Code string `gorm:"size:50;uniqueIndex"`

	DiscountType  DiscountType `gorm:"size:20"`
	DiscountValue int64        // percent points, minor units or days depending on type

	MaxUses     *int
	CurrentUses int
	ExpiresAt   *time.Time

	ApplicablePlans string `gorm:"size:255"` // comma-separated, empty = all

	IsActive bool
}

// PromocodeUsage is append-only. The composite unique index is the actual
// redemption gate: a concurrent duplicate insert fails at the store.
type PromocodeUsage struct {
	gorm.Model
	PromocodeID uint  `gorm:"index;uniqueIndex:idx_promocode_account"`
	TelegramID  int64 `gorm:"index;uniqueIndex:idx_promocode_account"`
	PaymentID   *uint

	DiscountAmount int64 // minor units
}

// ReferralEntry is append-only; the unique PaymentID index guarantees at
// most one bonus per payment.
type ReferralEntry struct {
	gorm.Model
	ReferrerID int64 `gorm:"index"` // telegram id receiving the bonus
	ReferredID int64 `gorm:"index"` // telegram id whose payment triggered it
	PaymentID  uint  `gorm:"uniqueIndex"`

	Amount int64  // minor units
	Rate   string `gorm:"size:20"` // percentage used, e.g. "15.0"
}
