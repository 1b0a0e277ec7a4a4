package subscription

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-saas-go/internal/database/dbtest"
	"finance-saas-go/internal/models"
	"finance-saas-go/internal/payments"
)

type fakeLinker struct {
	got  payments.LinkRequest
	link *payments.PaymentLink
	err  error
}

func (f *fakeLinker) CreatePaymentLink(_ context.Context, in payments.LinkRequest) (*payments.PaymentLink, error) {
	f.got = in
	return f.link, f.err
}

func newService(t *testing.T) (*Service, *fakeLinker) {
	t.Helper()
	linker := &fakeLinker{link: &payments.PaymentLink{ID: "pl_1", URL: "https://pay.example/pl_1"}}
	return NewService(dbtest.Open(t), linker, "http://app.example/"), linker
}

func TestGate_PersistsExpiry(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acct := dbtest.CreateAccount(t, svc.db, "a@example.com", created)

	later := created.Add(10 * 24 * time.Hour)
	err := svc.Gate(ctx, acct, later)
	require.ErrorIs(t, err, ErrQuotaExceeded)
	assert.Equal(t, models.StatusExpired, acct.Subscription.Status)

	stored, err := svc.Load(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExpired, stored.Subscription.Status)

	// Repeated checks stay denied and expired.
	require.ErrorIs(t, svc.Gate(ctx, stored, later), ErrQuotaExceeded)
	assert.Equal(t, models.StatusExpired, stored.Subscription.Status)
}

func TestGate_Allows(t *testing.T) {
	svc, _ := newService(t)
	acct := dbtest.CreateAccount(t, svc.db, "a@example.com", created)

	require.NoError(t, svc.Gate(context.Background(), acct, created.Add(time.Hour)))
	assert.Equal(t, models.StatusFreeTrial, acct.Subscription.Status)
}

func TestStatus(t *testing.T) {
	acct := trialAccount(12)

	v := Status(*acct, created.Add(time.Hour))
	assert.Equal(t, models.StatusFreeTrial, v.Status)
	assert.True(t, v.CanAddTransactions)
	require.NotNil(t, v.RemainingTransactions)
	assert.Equal(t, int64(38), *v.RemainingTransactions)
	require.NotNil(t, v.TrialEndsAt)

	v = Status(*acct, created.Add(8*24*time.Hour))
	assert.Equal(t, models.StatusExpired, v.Status)
	assert.False(t, v.CanAddTransactions)
	assert.Nil(t, v.RemainingTransactions)
	assert.Equal(t, models.StatusFreeTrial, acct.Subscription.Status, "status reads never write")

	over := trialAccount(70)
	assert.Equal(t, int64(0), *Status(*over, created).RemainingTransactions)
}

func TestStartCheckout(t *testing.T) {
	svc, linker := newService(t)
	ctx := context.Background()
	acct := dbtest.CreateAccount(t, svc.db, "buyer@example.com", created)

	link, err := svc.StartCheckout(ctx, acct, models.PlanMonthly)
	require.NoError(t, err)
	assert.Equal(t, "pl_1", link.ID)
	assert.Equal(t, "AED", linker.got.Currency)
	assert.Equal(t, "36.5", linker.got.Amount.String())
	assert.Equal(t, "http://app.example/dashboard?checkout=success&plan=monthly", linker.got.SuccessURL)
	assert.Equal(t, "monthly", linker.got.Metadata["plan"])

	stored, err := svc.Load(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, "pl_1", stored.Subscription.PaymentReference)

	_, err = svc.StartCheckout(ctx, acct, "weekly")
	require.ErrorIs(t, err, ErrInvalidPlan)

	linker.err = errors.New("provider down")
	_, err = svc.StartCheckout(ctx, acct, models.PlanYearly)
	require.ErrorIs(t, err, ErrCheckoutFailed)
	require.ErrorIs(t, err, linker.err)
}

func TestApplyEvent_Lifecycle(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acct := dbtest.CreateAccount(t, svc.db, "payer@example.com", created)
	id := strconv.FormatUint(uint64(acct.ID), 10)

	now := created.Add(2 * time.Hour)
	handled, err := svc.ApplyEvent(ctx, &payments.Event{
		Type: payments.EventPaymentSucceeded,
		Data: payments.EventData{ID: "pay_1", Metadata: payments.EventMetadata{UserID: id, Plan: "yearly"}},
	}, now)
	require.NoError(t, err)
	assert.True(t, handled)

	stored, err := svc.Load(ctx, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, stored.Subscription.Status)
	assert.Equal(t, models.PlanYearly, stored.Subscription.Plan)
	assert.Equal(t, "pay_1", stored.Subscription.PaymentReference)
	require.NotNil(t, stored.Subscription.CurrentPeriodEnd)
	assert.True(t, stored.Subscription.CurrentPeriodEnd.Equal(now.AddDate(1, 0, 0)))

	handled, err = svc.ApplyEvent(ctx, &payments.Event{
		Type: payments.EventPaymentRefunded,
		Data: payments.EventData{Metadata: payments.EventMetadata{UserID: id}},
	}, now)
	require.NoError(t, err)
	assert.True(t, handled)
	stored, _ = svc.Load(ctx, acct.ID)
	assert.Equal(t, models.StatusCancelled, stored.Subscription.Status)
	assert.Equal(t, models.PlanTrial, stored.Subscription.Plan)

	handled, err = svc.ApplyEvent(ctx, &payments.Event{
		Type: payments.EventPaymentFailed,
		Data: payments.EventData{Metadata: payments.EventMetadata{UserID: id}},
	}, now)
	require.NoError(t, err)
	assert.True(t, handled)
	stored, _ = svc.Load(ctx, acct.ID)
	assert.Equal(t, models.StatusExpired, stored.Subscription.Status)
}

func TestApplyEvent_Ignored(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	handled, err := svc.ApplyEvent(ctx, &payments.Event{Type: "payment.pending", Data: payments.EventData{Metadata: payments.EventMetadata{UserID: "1"}}}, created)
	require.NoError(t, err)
	assert.False(t, handled)

	handled, err = svc.ApplyEvent(ctx, &payments.Event{Type: payments.EventPaymentFailed}, created)
	require.NoError(t, err)
	assert.False(t, handled)

	_, err = svc.ApplyEvent(ctx, &payments.Event{
		Type: payments.EventPaymentFailed,
		Data: payments.EventData{Metadata: payments.EventMetadata{UserID: "999"}},
	}, created)
	require.ErrorIs(t, err, ErrAccountNotFound)
}

func TestCancelAndReactivate(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	acct := dbtest.CreateAccount(t, svc.db, "c@example.com", created)

	_, err := svc.Cancel(ctx, acct)
	require.ErrorIs(t, err, ErrNoActiveSubscription)
	require.NoError(t, svc.Reactivate(*acct))

	end := created.AddDate(0, 1, 0)
	require.NoError(t, svc.db.Model(acct).Updates(map[string]any{
		"subscription_status":             models.StatusActive,
		"subscription_current_period_end": end,
	}).Error)
	acct, err = svc.Load(ctx, acct.ID)
	require.NoError(t, err)
	require.ErrorIs(t, svc.Reactivate(*acct), ErrAlreadyActive)

	periodEnd, err := svc.Cancel(ctx, acct)
	require.NoError(t, err)
	require.NotNil(t, periodEnd)
	assert.True(t, periodEnd.Equal(end))
	assert.Equal(t, models.StatusCancelled, acct.Subscription.Status)
}

func TestSweepExpired(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()

	old := dbtest.CreateAccount(t, svc.db, "old@example.com", created)
	fresh := dbtest.CreateAccount(t, svc.db, "fresh@example.com", created.Add(6*24*time.Hour))
	paid := dbtest.CreateAccount(t, svc.db, "paid@example.com", created)
	lapsed := created.Add(24 * time.Hour)
	require.NoError(t, svc.db.Model(paid).Updates(map[string]any{
		"subscription_status":             models.StatusActive,
		"subscription_current_period_end": lapsed,
	}).Error)

	n, err := svc.SweepExpired(ctx, created.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, tc := range []struct {
		id   uint
		want models.SubscriptionStatus
	}{
		{old.ID, models.StatusExpired},
		{fresh.ID, models.StatusFreeTrial},
		{paid.ID, models.StatusExpired},
	} {
		acct, err := svc.Load(ctx, tc.id)
		require.NoError(t, err)
		assert.Equal(t, tc.want, acct.Subscription.Status)
	}
}

func TestLoad_Missing(t *testing.T) {
	svc, _ := newService(t)
	_, err := svc.Load(context.Background(), 404)
	require.ErrorIs(t, err, ErrAccountNotFound)
}
