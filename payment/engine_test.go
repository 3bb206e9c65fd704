package payment_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-vpnshop/apperr"
	"go-vpnshop/gateway"
	"go-vpnshop/payment"
	"go-vpnshop/plan"
	"go-vpnshop/promocode"
	"go-vpnshop/referral"
	"go-vpnshop/subscription"
	"go-vpnshop/web/db"
	"go-vpnshop/web/db/dbtest"
)

type fakePanel struct {
	provisions   int
	extends      int
	deprovisions int
	provisionErr error
}

func (f *fakePanel) Provision(ctx context.Context, telegramID int64, expiresAt time.Time) (string, string, error) {
	f.provisions++
	if f.provisionErr != nil {
		return "", "", f.provisionErr
	}
	username := fmt.Sprintf("fake_%d_%d", telegramID, f.provisions)
	return username, "https://panel.test/sub/" + username, nil
}

func (f *fakePanel) Extend(ctx context.Context, username string, newExpiry time.Time) error {
	f.extends++
	return nil
}

func (f *fakePanel) Deprovision(ctx context.Context, username string) error {
	f.deprovisions++
	return nil
}

type fakeGateway struct {
	intents int
	status  string
}

func (f *fakeGateway) CreateIntent(ctx context.Context, amount int64, currency, description string, telegramID int64, planType string) (*gateway.Intent, error) {
	f.intents++
	return &gateway.Intent{
		RemoteID:        fmt.Sprintf("yk-%d", f.intents),
		Status:          gateway.StatusPending,
		ConfirmationURL: "https://gateway.test/confirm",
	}, nil
}

func (f *fakeGateway) FetchStatus(ctx context.Context, remoteID string) (string, error) {
	return f.status, nil
}

type fixture struct {
	conn   *gorm.DB
	panel  *fakePanel
	gw     *fakeGateway
	subs   *subscription.Manager
	promos *promocode.Service
	engine *payment.Engine
}

func newFixture(t *testing.T) *fixture {
	conn := dbtest.New(t)
	log := zap.NewNop().Sugar()

	panel := &fakePanel{}
	gw := &fakeGateway{status: gateway.StatusPending}
	subs := subscription.NewManager(conn, panel, log)
	refs, err := referral.NewService(conn, "15.0", log)
	require.NoError(t, err)
	promos := promocode.NewService(conn, log)
	engine := payment.NewEngine(conn, gw, subs, refs, promos, plan.NewCatalog(nil), log)

	return &fixture{conn: conn, panel: panel, gw: gw, subs: subs, promos: promos, engine: engine}
}

func (f *fixture) seedAccount(t *testing.T, telegramID int64, referrerID *int64) {
	t.Helper()
	acc := db.Account{
		TelegramID:   telegramID,
		ReferralCode: fmt.Sprintf("ref_test_%d", telegramID),
		ReferrerID:   referrerID,
	}
	require.NoError(t, f.conn.Create(&acc).Error)
}

func TestCreateIntent(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "")
	require.NoError(t, err)

	assert.Equal(t, db.PaymentPending, pay.Status)
	assert.Equal(t, int64(14900), pay.Amount)
	assert.Equal(t, "RUB", pay.Currency)
	assert.Equal(t, "yk-1", pay.RemoteID)
	assert.Equal(t, "https://gateway.test/confirm", pay.ConfirmationURL)
}

func TestCreateIntentTrialRejected(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.CreateIntent(context.Background(), 42, plan.Trial, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateIntentWithPercentPromocode(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	_, err := f.promos.Create(promocode.CreateParams{
		Code: "P20", DiscountType: db.DiscountPercent, DiscountValue: 20,
	})
	require.NoError(t, err)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "P20")
	require.NoError(t, err)

	assert.Equal(t, int64(11920), pay.Amount)
	assert.Equal(t, "P20", pay.Promocode)

	// Redemption is deferred to success: no usage row yet.
	var used int64
	require.NoError(t, f.conn.Model(&db.PromocodeUsage{}).Count(&used).Error)
	assert.Zero(t, used)
}

func TestCreateIntentRejectsBonusDaysCode(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	_, err := f.promos.Create(promocode.CreateParams{
		Code: "DAYS7", DiscountType: db.DiscountBonusDays, DiscountValue: 7,
	})
	require.NoError(t, err)

	_, err = f.engine.CreateIntent(context.Background(), 42, plan.Month, "DAYS7")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCreateIntentRejectsFullDiscount(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	_, err := f.promos.Create(promocode.CreateParams{
		Code: "FREE", DiscountType: db.DiscountFixed, DiscountValue: 20000,
	})
	require.NoError(t, err)

	_, err = f.engine.CreateIntent(context.Background(), 42, plan.Month, "FREE")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestReconcileSucceededCreatesSubscription(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "")
	require.NoError(t, err)

	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))

	fresh, err := f.engine.ByRemoteID(pay.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentSucceeded, fresh.Status)

	sub, err := f.subs.ActiveByTelegramID(42)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, plan.Month, sub.PlanType)
	assert.Equal(t, 1, f.panel.provisions)
}

func TestReconcileDuplicateIsNoop(t *testing.T) {
	f := newFixture(t)
	referrer := int64(100)
	f.seedAccount(t, referrer, nil)
	f.seedAccount(t, 42, &referrer)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Year, "")
	require.NoError(t, err)

	// Webhook and poll race: both observe succeeded.
	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))
	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))

	// Exactly one provision, one ledger entry, one credit.
	assert.Equal(t, 1, f.panel.provisions)
	assert.Zero(t, f.panel.extends)

	var entries int64
	require.NoError(t, f.conn.Model(&db.ReferralEntry{}).Count(&entries).Error)
	assert.Equal(t, int64(1), entries)

	var acc db.Account
	require.NoError(t, f.conn.Where("telegram_id = ?", referrer).First(&acc).Error)
	assert.Equal(t, int64(22485), acc.Balance)
}

func TestReconcileSucceededExtendsActiveSubscription(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	existing, err := f.subs.Create(context.Background(), 42, plan.Week)
	require.NoError(t, err)
	firstExpiry := existing.ExpiresAt

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "")
	require.NoError(t, err)
	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))

	sub, err := f.subs.ActiveByTelegramID(42)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, existing.ID, sub.ID)
	assert.Equal(t, plan.Month, sub.PlanType)
	assert.WithinDuration(t, firstExpiry.Add(plan.Month.Duration()), sub.ExpiresAt, time.Second)
	assert.Equal(t, 1, f.panel.provisions)
	assert.Equal(t, 1, f.panel.extends)
}

func TestReconcileSucceededRollsBackOnPanelFailure(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "")
	require.NoError(t, err)

	f.panel.provisionErr = apperr.New(apperr.KindProvisioning, "panel down")
	err = f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded)
	require.Error(t, err)

	// The flip rolled back: the payment stays pending for a later attempt.
	fresh, err := f.engine.ByRemoteID(pay.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentPending, fresh.Status)

	f.panel.provisionErr = nil
	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))
	fresh, err = f.engine.ByRemoteID(pay.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentSucceeded, fresh.Status)
}

func TestReconcileSucceededRedeemsPendingPromocode(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	promo, err := f.promos.Create(promocode.CreateParams{
		Code: "P10", DiscountType: db.DiscountPercent, DiscountValue: 10,
	})
	require.NoError(t, err)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "P10")
	require.NoError(t, err)
	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))

	var used int64
	require.NoError(t, f.conn.Model(&db.PromocodeUsage{}).
		Where("promocode_id = ? AND telegram_id = ?", promo.ID, 42).Count(&used).Error)
	assert.Equal(t, int64(1), used)

	var fresh db.Promocode
	require.NoError(t, f.conn.First(&fresh, promo.ID).Error)
	assert.Equal(t, 1, fresh.CurrentUses)
}

func TestReconcileSkipsExhaustedPromocode(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)
	f.seedAccount(t, 43, nil)

	promo, err := f.promos.Create(promocode.CreateParams{
		Code: "LAST1", DiscountType: db.DiscountPercent, DiscountValue: 10,
		MaxUses: intPtr(1),
	})
	require.NoError(t, err)

	// Account 42 prices the code into an intent, then account 43 takes the
	// last slot before the payment settles.
	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "LAST1")
	require.NoError(t, err)
	_, err = f.promos.Redeem(promo, 43, 1000, nil)
	require.NoError(t, err)

	// The payment still settles; the stale redemption is skipped and the
	// counter stays in step with the usage rows.
	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))

	fresh, err := f.engine.ByRemoteID(pay.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentSucceeded, fresh.Status)

	var usages int64
	require.NoError(t, f.conn.Model(&db.PromocodeUsage{}).Where("promocode_id = ?", promo.ID).Count(&usages).Error)
	assert.Equal(t, int64(1), usages)

	var freshPromo db.Promocode
	require.NoError(t, f.conn.First(&freshPromo, promo.ID).Error)
	assert.Equal(t, 1, freshPromo.CurrentUses)
}

func intPtr(v int) *int { return &v }

func TestReconcileCancelled(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "")
	require.NoError(t, err)

	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusCancelled))

	fresh, err := f.engine.ByRemoteID(pay.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentCancelled, fresh.Status)
	assert.Zero(t, f.panel.provisions)

	// A late success observation cannot resurrect a cancelled payment.
	require.NoError(t, f.engine.Reconcile(context.Background(), pay.RemoteID, gateway.StatusSucceeded))
	fresh, err = f.engine.ByRemoteID(pay.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentCancelled, fresh.Status)
}

func TestReconcileUnknownPayment(t *testing.T) {
	f := newFixture(t)

	// All observed statuses agree that an unknown remote id is an error.
	for _, status := range []string{gateway.StatusSucceeded, gateway.StatusCancelled, gateway.StatusRefunded} {
		err := f.engine.Reconcile(context.Background(), "ghost", status)
		assert.True(t, apperr.Is(err, apperr.KindNotFound), "status %s", status)
	}
}

func TestReconcileUnknownStatus(t *testing.T) {
	f := newFixture(t)

	err := f.engine.Reconcile(context.Background(), "yk-1", "mystery")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCheckStatusPollPath(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	pay, err := f.engine.CreateIntent(context.Background(), 42, plan.Month, "")
	require.NoError(t, err)

	f.gw.status = gateway.StatusSucceeded
	fresh, err := f.engine.CheckStatus(context.Background(), pay.RemoteID)
	require.NoError(t, err)
	assert.Equal(t, db.PaymentSucceeded, fresh.Status)

	sub, err := f.subs.ActiveByTelegramID(42)
	require.NoError(t, err)
	assert.NotNil(t, sub)
}

func TestPurchaseWithBalance(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)
	require.NoError(t, f.conn.Model(&db.Account{}).
		Where("telegram_id = ?", 42).Update("balance", 20000).Error)

	require.NoError(t, f.engine.PurchaseWithBalance(context.Background(), 42, plan.Month))

	var acc db.Account
	require.NoError(t, f.conn.Where("telegram_id = ?", 42).First(&acc).Error)
	assert.Equal(t, int64(5100), acc.Balance)

	sub, err := f.subs.ActiveByTelegramID(42)
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.Equal(t, plan.Month, sub.PlanType)

	// No gateway payment backs the purchase, so no referral accrual exists.
	var entries int64
	require.NoError(t, f.conn.Model(&db.ReferralEntry{}).Count(&entries).Error)
	assert.Zero(t, entries)
}

func TestPurchaseWithBalanceInsufficient(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)
	require.NoError(t, f.conn.Model(&db.Account{}).
		Where("telegram_id = ?", 42).Update("balance", 100).Error)

	err := f.engine.PurchaseWithBalance(context.Background(), 42, plan.Month)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	var acc db.Account
	require.NoError(t, f.conn.Where("telegram_id = ?", 42).First(&acc).Error)
	assert.Equal(t, int64(100), acc.Balance)
	assert.Zero(t, f.panel.provisions)
}

func TestRedeemBonusDaysNewSubscription(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	promo, err := f.promos.Create(promocode.CreateParams{
		Code: "GIFT7", DiscountType: db.DiscountBonusDays, DiscountValue: 7,
	})
	require.NoError(t, err)

	sub, err := f.engine.RedeemBonusDays(context.Background(), 42, "GIFT7")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.WithinDuration(t, time.Now().Add(7*24*time.Hour), sub.ExpiresAt, 5*time.Second)

	var used int64
	require.NoError(t, f.conn.Model(&db.PromocodeUsage{}).
		Where("promocode_id = ?", promo.ID).Count(&used).Error)
	assert.Equal(t, int64(1), used)

	var fresh db.Promocode
	require.NoError(t, f.conn.First(&fresh, promo.ID).Error)
	assert.Equal(t, 1, fresh.CurrentUses)
}

func TestRedeemBonusDaysExtendsExisting(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	existing, err := f.subs.Create(context.Background(), 42, plan.Month)
	require.NoError(t, err)
	firstExpiry := existing.ExpiresAt

	_, err = f.promos.Create(promocode.CreateParams{
		Code: "GIFT3", DiscountType: db.DiscountBonusDays, DiscountValue: 3,
	})
	require.NoError(t, err)

	sub, err := f.engine.RedeemBonusDays(context.Background(), 42, "GIFT3")
	require.NoError(t, err)
	assert.Equal(t, existing.ID, sub.ID)
	assert.Equal(t, plan.Month, sub.PlanType)
	assert.WithinDuration(t, firstExpiry.Add(3*24*time.Hour), sub.ExpiresAt, time.Second)
}

func TestRedeemBonusDaysRejectsDiscountCode(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	_, err := f.promos.Create(promocode.CreateParams{
		Code: "P10", DiscountType: db.DiscountPercent, DiscountValue: 10,
	})
	require.NoError(t, err)

	_, err = f.engine.RedeemBonusDays(context.Background(), 42, "P10")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestRedeemBonusDaysPlanRestrictedCode(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	// A plan restriction on a bonus-days code does not block redemption: the
	// days extend whatever the account has.
	_, err := f.promos.Create(promocode.CreateParams{
		Code: "GIFT5", DiscountType: db.DiscountBonusDays, DiscountValue: 5,
		ApplicablePlans: []plan.Type{plan.Month},
	})
	require.NoError(t, err)

	sub, err := f.engine.RedeemBonusDays(context.Background(), 42, "GIFT5")
	require.NoError(t, err)
	require.NotNil(t, sub)
	assert.WithinDuration(t, time.Now().Add(5*24*time.Hour), sub.ExpiresAt, 5*time.Second)
}

func TestRedeemBonusDaysTwiceRejected(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, 42, nil)

	_, err := f.promos.Create(promocode.CreateParams{
		Code: "GIFT7", DiscountType: db.DiscountBonusDays, DiscountValue: 7,
	})
	require.NoError(t, err)

	_, err = f.engine.RedeemBonusDays(context.Background(), 42, "GIFT7")
	require.NoError(t, err)

	_, err = f.engine.RedeemBonusDays(context.Background(), 42, "GIFT7")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}
