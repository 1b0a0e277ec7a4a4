package subscription

import (
	"github.com/shopspring/decimal"

	"finance-saas-go/internal/models"
)

// Currency plans are billed in.
const Currency = "AED"

type Plan struct {
	ID       models.PlanID    `json:"id"`
	Name     string           `json:"name"`
	Price    decimal.Decimal  `json:"price"`
	Currency string           `json:"currency"`
	PriceUSD *decimal.Decimal `json:"priceUSD,omitempty"`
	Interval string           `json:"interval"`
	Savings  string           `json:"savings,omitempty"`
	// TransactionLimit is zero for unlimited plans.
	TransactionLimit int      `json:"transactionLimit,omitempty"`
	Features         []string `json:"features"`
}

func usd(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

var catalog = []Plan{
	{
		ID:               models.PlanTrial,
		Name:             "Free Trial",
		Price:            decimal.Zero,
		Currency:         Currency,
		Interval:         "7 days",
		TransactionLimit: TrialTransactionLimit,
		Features: []string{
			"Up to 50 transactions",
			"Basic analytics",
			"CSV import",
			"AI receipt scanning",
		},
	},
	{
		ID:       models.PlanMonthly,
		Name:     "Monthly Plan",
		Price:    decimal.RequireFromString("36.50"),
		Currency: Currency,
		PriceUSD: usd("9.99"),
		Interval: "month",
		Features: []string{
			"Unlimited transactions",
			"Advanced analytics",
			"AI-powered insights",
			"CSV import",
			"AI receipt scanning",
			"Priority support",
		},
	},
	{
		ID:       models.PlanYearly,
		Name:     "Yearly Plan",
		Price:    decimal.RequireFromString("365.00"),
		Currency: Currency,
		PriceUSD: usd("99.99"),
		Interval: "year",
		Savings:  "17% savings",
		Features: []string{
			"Unlimited transactions",
			"Advanced analytics",
			"AI-powered insights",
			"CSV import",
			"AI receipt scanning",
			"Priority support",
			"Early access to new features",
		},
	},
}

func (p Plan) clone() Plan {
	p.Features = append([]string(nil), p.Features...)
	if p.PriceUSD != nil {
		price := *p.PriceUSD
		p.PriceUSD = &price
	}
	return p
}

// Plans returns a copy of the static plan catalog.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	for i, p := range catalog {
		out[i] = p.clone()
	}
	return out
}

// PaidPlan looks up a plan that can be bought at checkout.
func PaidPlan(id models.PlanID) (Plan, error) {
	for _, p := range catalog {
		if p.ID == id && p.ID != models.PlanTrial {
			return p.clone(), nil
		}
	}
	return Plan{}, ErrInvalidPlan
}
