// Package subscription decides whether an account may record transactions and
// drives the subscription lifecycle (checkout, webhook events, cancellation,
// expiry).
package subscription

import (
	"errors"
	"fmt"
	"time"

	"finance-saas-go/internal/models"
)

// TrialTransactionLimit caps how many transactions a free trial may hold.
const TrialTransactionLimit = 50

var (
	ErrQuotaExceeded        = errors.New("subscription limit reached")
	ErrNoActiveSubscription = errors.New("no active subscription found")
	ErrAlreadyActive        = errors.New("subscription is already active")
	ErrInvalidPlan          = errors.New("invalid plan selected")
	ErrAccountNotFound      = errors.New("account not found")
	// ErrCheckoutFailed wraps errors from the payment provider.
	ErrCheckoutFailed = errors.New("error creating payment link")
)

// Reasons reported with a denied Decision.
const (
	ReasonTrialLimit    = "trial_limit_reached"
	ReasonTrialExpired  = "trial_expired"
	ReasonPeriodExpired = "subscription_expired"
	ReasonInactive      = "subscription_inactive"
)

// QuotaError is returned when the gate denies a write. It matches
// ErrQuotaExceeded under errors.Is.
type QuotaError struct {
	Status models.SubscriptionStatus
	Reason string
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("%s (%s, status %s)", ErrQuotaExceeded, e.Reason, e.Status)
}

func (e *QuotaError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// Decision is the outcome of evaluating an account at a point in time.
type Decision struct {
	Allowed bool
	// Expire is set when a trial or paid period boundary has passed and the
	// stored status should become expired.
	Expire bool
	Reason string
}

// Evaluate decides whether acct may record a new transaction at now. It does
// not modify acct.
func Evaluate(acct models.Account, now time.Time) Decision {
	sub := acct.Subscription
	switch sub.Status {
	case models.StatusFreeTrial:
		if acct.TransactionCount >= TrialTransactionLimit {
			return Decision{Reason: ReasonTrialLimit}
		}
		if now.After(sub.TrialEndsAt) {
			return Decision{Expire: true, Reason: ReasonTrialExpired}
		}
		return Decision{Allowed: true}
	case models.StatusActive:
		if sub.CurrentPeriodEnd != nil && now.After(*sub.CurrentPeriodEnd) {
			return Decision{Expire: true, Reason: ReasonPeriodExpired}
		}
		return Decision{Allowed: true}
	default:
		return Decision{Reason: ReasonInactive}
	}
}

// EffectiveStatus is the status acct would have after applying any due
// expiry at now.
func EffectiveStatus(acct models.Account, now time.Time) models.SubscriptionStatus {
	if Evaluate(acct, now).Expire {
		return models.StatusExpired
	}
	return acct.Subscription.Status
}

// CanRecord evaluates acct and applies a due expiry to it in memory.
// Callers that hold a persisted account must save the transition themselves;
// Service.Gate does both.
func CanRecord(acct *models.Account, now time.Time) bool {
	d := Evaluate(*acct, now)
	if d.Expire {
		acct.Subscription.Status = models.StatusExpired
	}
	return d.Allowed
}

// Admit returns a write admission check evaluated at now. It is meant to run
// inside the ledger's write transaction against the live row count.
func Admit(now time.Time) func(models.Account) error {
	return func(acct models.Account) error {
		if d := Evaluate(acct, now); !d.Allowed {
			return Deny(acct, d)
		}
		return nil
	}
}

// Deny converts a denied decision into the error surfaced to callers.
func Deny(acct models.Account, d Decision) error {
	status := acct.Subscription.Status
	if d.Expire {
		status = models.StatusExpired
	}
	return &QuotaError{Status: status, Reason: d.Reason}
}

// PeriodEnd returns when a paid period bought at from ends.
func PeriodEnd(plan models.PlanID, from time.Time) (time.Time, error) {
	switch plan {
	case models.PlanMonthly:
		return from.AddDate(0, 1, 0), nil
	case models.PlanYearly:
		return from.AddDate(1, 0, 0), nil
	default:
		return time.Time{}, ErrInvalidPlan
	}
}
