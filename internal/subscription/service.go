package subscription

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"finance-saas-go/internal/models"
	"finance-saas-go/internal/payments"
)

// PaymentLinker creates hosted checkout links.
type PaymentLinker interface {
	CreatePaymentLink(ctx context.Context, in payments.LinkRequest) (*payments.PaymentLink, error)
}

type Service struct {
	db        *gorm.DB
	payments  PaymentLinker
	clientURL string
}

func NewService(db *gorm.DB, linker PaymentLinker, clientURL string) *Service {
	return &Service{db: db, payments: linker, clientURL: strings.TrimRight(clientURL, "/")}
}

// Gate evaluates acct for a write at now. A due expiry is persisted and
// applied to acct before the decision is returned.
func (s *Service) Gate(ctx context.Context, acct *models.Account, now time.Time) error {
	d := Evaluate(*acct, now)
	if d.Expire {
		if err := s.expire(ctx, acct.ID, acct.Subscription.Status); err != nil {
			return err
		}
		acct.Subscription.Status = models.StatusExpired
	}
	if !d.Allowed {
		return Deny(*acct, d)
	}
	return nil
}

func (s *Service) expire(ctx context.Context, accountID uint, from models.SubscriptionStatus) error {
	err := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND subscription_status = ?", accountID, from).
		Update("subscription_status", models.StatusExpired).Error
	if err != nil {
		return fmt.Errorf("expire subscription: %w", err)
	}
	return nil
}

// StatusView is the subscription summary shown to the account holder.
type StatusView struct {
	Status                models.SubscriptionStatus `json:"status"`
	Plan                  models.PlanID             `json:"plan"`
	TransactionCount      int64                     `json:"transactionCount"`
	CanAddTransactions    bool                      `json:"canAddTransactions"`
	TrialEndsAt           *time.Time                `json:"trialEndsAt,omitempty"`
	RemainingTransactions *int64                    `json:"remainingTransactions,omitempty"`
	CurrentPeriodEnd      *time.Time                `json:"currentPeriodEnd,omitempty"`
	PaymentID             string                    `json:"paymentId,omitempty"`
}

// Status describes acct at now without changing anything.
func Status(acct models.Account, now time.Time) StatusView {
	sub := acct.Subscription
	v := StatusView{
		Status:             EffectiveStatus(acct, now),
		Plan:               sub.Plan,
		TransactionCount:   acct.TransactionCount,
		CanAddTransactions: Evaluate(acct, now).Allowed,
		CurrentPeriodEnd:   sub.CurrentPeriodEnd,
		PaymentID:          sub.PaymentReference,
	}
	if v.Status == models.StatusFreeTrial {
		trialEnd := sub.TrialEndsAt
		remaining := max(0, TrialTransactionLimit-acct.TransactionCount)
		v.TrialEndsAt = &trialEnd
		v.RemainingTransactions = &remaining
	}
	return v
}

// StartCheckout creates a payment link for plan and remembers its id on the
// account.
func (s *Service) StartCheckout(ctx context.Context, acct *models.Account, planID models.PlanID) (*payments.PaymentLink, error) {
	plan, err := PaidPlan(planID)
	if err != nil {
		return nil, err
	}

	link, err := s.payments.CreatePaymentLink(ctx, payments.LinkRequest{
		Amount:      plan.Price,
		Currency:    plan.Currency,
		Description: plan.Name + " - Finance SaaS Subscription",
		SuccessURL:  fmt.Sprintf("%s/dashboard?checkout=success&plan=%s", s.clientURL, plan.ID),
		CancelURL:   s.clientURL + "/pricing?checkout=cancelled",
		Metadata: map[string]string{
			"userId":    strconv.FormatUint(uint64(acct.ID), 10),
			"userEmail": acct.Email,
			"plan":      string(plan.ID),
			"planName":  plan.Name,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCheckoutFailed, err)
	}

	err = s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ?", acct.ID).
		Update("subscription_payment_reference", link.ID).Error
	if err != nil {
		return nil, fmt.Errorf("store payment reference: %w", err)
	}
	return link, nil
}

// ApplyEvent applies a verified webhook event. handled is false for event
// types or payloads that carry nothing to act on.
func (s *Service) ApplyEvent(ctx context.Context, ev *payments.Event, now time.Time) (handled bool, err error) {
	accountID, err := strconv.ParseUint(ev.Data.Metadata.UserID, 10, 64)
	if err != nil {
		return false, nil
	}

	var updates map[string]any
	switch ev.Type {
	case payments.EventPaymentSucceeded:
		plan := models.PlanID(ev.Data.Metadata.Plan)
		end, err := PeriodEnd(plan, now)
		if err != nil {
			return false, nil
		}
		updates = map[string]any{
			"subscription_status":             models.StatusActive,
			"subscription_plan":               plan,
			"subscription_payment_reference":  ev.Data.ID,
			"subscription_current_period_end": end,
		}
	case payments.EventPaymentFailed:
		updates = map[string]any{"subscription_status": models.StatusExpired}
	case payments.EventPaymentRefunded:
		updates = map[string]any{
			"subscription_status": models.StatusCancelled,
			"subscription_plan":   models.PlanTrial,
		}
	default:
		return false, nil
	}

	res := s.db.WithContext(ctx).Model(&models.Account{}).Where("id = ?", accountID).Updates(updates)
	if res.Error != nil {
		return false, fmt.Errorf("apply %s: %w", ev.Type, res.Error)
	}
	if res.RowsAffected == 0 {
		return false, ErrAccountNotFound
	}
	return true, nil
}

// Cancel ends an active subscription and returns the period end it had.
func (s *Service) Cancel(ctx context.Context, acct *models.Account) (*time.Time, error) {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("id = ? AND subscription_status = ?", acct.ID, models.StatusActive).
		Update("subscription_status", models.StatusCancelled)
	if res.Error != nil {
		return nil, fmt.Errorf("cancel subscription: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNoActiveSubscription
	}
	acct.Subscription.Status = models.StatusCancelled
	return acct.Subscription.CurrentPeriodEnd, nil
}

// Reactivate checks that acct can start a new paid period. Reactivation
// itself happens through a new checkout.
func (s *Service) Reactivate(acct models.Account) error {
	if acct.Subscription.Status == models.StatusActive {
		return ErrAlreadyActive
	}
	return nil
}

// SweepExpired moves every lapsed trial and paid period to expired.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.Account{}).
		Where("(subscription_status = ? AND subscription_trial_ends_at < ?) OR "+
			"(subscription_status = ? AND subscription_current_period_end IS NOT NULL AND subscription_current_period_end < ?)",
			models.StatusFreeTrial, now, models.StatusActive, now).
		Update("subscription_status", models.StatusExpired)
	if res.Error != nil {
		return 0, fmt.Errorf("sweep expired subscriptions: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// Load fetches an account by id.
func (s *Service) Load(ctx context.Context, id uint) (*models.Account, error) {
	var acct models.Account
	err := s.db.WithContext(ctx).First(&acct, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load account: %w", err)
	}
	return &acct, nil
}
