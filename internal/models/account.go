package models

import (
	"strings"
	"time"
)

type SubscriptionStatus string

const (
	StatusFreeTrial SubscriptionStatus = "free_trial"
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
	StatusExpired   SubscriptionStatus = "expired"
)

type PlanID string

const (
	PlanTrial   PlanID = "trial"
	PlanMonthly PlanID = "monthly"
	PlanYearly  PlanID = "yearly"
)

// TrialPeriod is how long a new account may record for free.
const TrialPeriod = 7 * 24 * time.Hour

// Subscription is stored inline on the account row.
type Subscription struct {
	Status           SubscriptionStatus `gorm:"type:varchar(16);default:free_trial;index" json:"status"`
	Plan             PlanID             `gorm:"type:varchar(16);default:trial" json:"plan"`
	PaymentReference string             `json:"paymentReference,omitempty"`
	CurrentPeriodEnd *time.Time         `json:"currentPeriodEnd,omitempty"`
	TrialEndsAt      time.Time          `json:"trialEndsAt"`
}

type Account struct {
	ID               uint         `gorm:"primaryKey" json:"id"`
	Name             string       `gorm:"not null" json:"name"`
	Email            string       `gorm:"uniqueIndex;not null" json:"email"`
	PasswordHash     string       `gorm:"not null" json:"-"`
	Subscription     Subscription `gorm:"embedded;embeddedPrefix:subscription_" json:"subscription"`
	TransactionCount int64        `gorm:"not null;default:0" json:"transactionCount"`
	CreatedAt        time.Time    `json:"createdAt"`
	UpdatedAt        time.Time    `json:"updatedAt"`
}

// NewAccount builds an account on a fresh trial starting at now.
func NewAccount(name, email, passwordHash string, now time.Time) *Account {
	return &Account{
		Name:         strings.TrimSpace(name),
		Email:        NormalizeEmail(email),
		PasswordHash: passwordHash,
		Subscription: Subscription{
			Status:      StatusFreeTrial,
			Plan:        PlanTrial,
			TrialEndsAt: now.Add(TrialPeriod),
		},
	}
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
