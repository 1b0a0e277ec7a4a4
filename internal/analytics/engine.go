// Package analytics computes read-only aggregates over an account's
// transactions. Nothing is cached; every call recomputes from the store.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"finance-saas-go/internal/ai"
	"finance-saas-go/internal/ledger"
	"finance-saas-go/internal/logger"
	"finance-saas-go/internal/models"
)

const TopCategoryLimit = 5

// InsightGenerator writes the narrative part of a monthly report.
type InsightGenerator interface {
	MonthlyInsights(ctx context.Context, facts ai.MonthlyFacts) (*ai.Insights, error)
}

// Range bounds a query by transaction date, both ends inclusive. Nil means
// unbounded.
type Range struct {
	Start *time.Time
	End   *time.Time
}

func (r Range) filter() ledger.Filter {
	return ledger.Filter{Start: r.Start, End: r.End}
}

type Summary struct {
	TotalIncome      decimal.Decimal `json:"totalIncome"`
	TotalExpenses    decimal.Decimal `json:"totalExpenses"`
	Balance          decimal.Decimal `json:"balance"`
	IncomeCount      int64           `json:"incomeCount"`
	ExpenseCount     int64           `json:"expenseCount"`
	TransactionCount int64           `json:"transactionCount"`
}

type CategoryTotal struct {
	Type     models.TransactionType `json:"type"`
	Category models.Category        `json:"category"`
	Total    decimal.Decimal        `json:"total"`
	Count    int64                  `json:"count"`
}

type MonthPoint struct {
	Year  int                    `json:"year"`
	Month int                    `json:"month"`
	Type  models.TransactionType `json:"type"`
	Total decimal.Decimal        `json:"total"`
}

type DayPoint struct {
	Date  string                 `json:"date"`
	Type  models.TransactionType `json:"type"`
	Total decimal.Decimal        `json:"total"`
}

type Report struct {
	Summary      Summary         `json:"summary"`
	ByCategory   []CategoryTotal `json:"byCategory"`
	MonthlyTrend []MonthPoint    `json:"monthlyTrend"`
	DailyTrend   []DayPoint      `json:"dailyTrend"`
}

type Engine struct {
	db       *gorm.DB
	insights InsightGenerator
}

// NewEngine builds an Engine. insights may be nil, in which case monthly
// reports carry no narrative.
func NewEngine(db *gorm.DB, insights InsightGenerator) *Engine {
	return &Engine{db: db, insights: insights}
}

func (e *Engine) scoped(ctx context.Context, owner uint, f ledger.Filter) *gorm.DB {
	return e.db.WithContext(ctx).Model(&models.Transaction{}).Scopes(ledger.Owned(owner, f))
}

type typeTotal struct {
	Type  models.TransactionType
	Total decimal.Decimal
	Count int64
}

func (e *Engine) Summary(ctx context.Context, owner uint, r Range) (Summary, error) {
	var rows []typeTotal
	err := e.scoped(ctx, owner, r.filter()).
		Select("type, SUM(amount) AS total, COUNT(*) AS count").
		Group("type").
		Scan(&rows).Error
	if err != nil {
		return Summary{}, fmt.Errorf("summary: %w", err)
	}

	s := Summary{TotalIncome: decimal.Zero, TotalExpenses: decimal.Zero}
	for _, row := range rows {
		switch row.Type {
		case models.TypeIncome:
			s.TotalIncome = row.Total.Round(2)
			s.IncomeCount = row.Count
		case models.TypeExpense:
			s.TotalExpenses = row.Total.Round(2)
			s.ExpenseCount = row.Count
		}
	}
	s.Balance = s.TotalIncome.Sub(s.TotalExpenses)
	s.TransactionCount = s.IncomeCount + s.ExpenseCount
	return s, nil
}

// ByCategory groups by (type, category), largest total first.
func (e *Engine) ByCategory(ctx context.Context, owner uint, r Range) ([]CategoryTotal, error) {
	return e.categoryTotals(ctx, owner, r.filter(), 0)
}

func (e *Engine) categoryTotals(ctx context.Context, owner uint, f ledger.Filter, limit int) ([]CategoryTotal, error) {
	out := []CategoryTotal{}
	q := e.scoped(ctx, owner, f).
		Select("type, category, SUM(amount) AS total, COUNT(*) AS count").
		Group("type, category").
		Order("total desc, category asc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(&out).Error; err != nil {
		return nil, fmt.Errorf("category totals: %w", err)
	}
	for i := range out {
		out[i].Total = out[i].Total.Round(2)
	}
	// Sorting again keeps the order exact when the driver returned floats.
	sort.SliceStable(out, func(i, j int) bool { return out[i].Total.GreaterThan(out[j].Total) })
	return out, nil
}

type periodTotal struct {
	Period string
	Type   models.TransactionType
	Total  decimal.Decimal
}

func (e *Engine) trend(ctx context.Context, owner uint, r Range, daily bool) ([]periodTotal, error) {
	var rows []periodTotal
	err := e.scoped(ctx, owner, r.filter()).
		Select(e.periodExpr(daily) + " AS period, type, SUM(amount) AS total").
		Group("period, type").
		Order("period asc, type asc").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("trend: %w", err)
	}
	return rows, nil
}

// periodExpr buckets the UTC transaction date by month or day.
func (e *Engine) periodExpr(daily bool) string {
	if e.db.Dialector.Name() == "postgres" {
		if daily {
			return "to_char(date AT TIME ZONE 'UTC', 'YYYY-MM-DD')"
		}
		return "to_char(date AT TIME ZONE 'UTC', 'YYYY-MM')"
	}
	if daily {
		return "strftime('%Y-%m-%d', date)"
	}
	return "strftime('%Y-%m', date)"
}

func (e *Engine) MonthlyTrend(ctx context.Context, owner uint, r Range) ([]MonthPoint, error) {
	rows, err := e.trend(ctx, owner, r, false)
	if err != nil {
		return nil, err
	}
	out := make([]MonthPoint, 0, len(rows))
	for _, row := range rows {
		year, month, ok := splitPeriod(row.Period)
		if !ok {
			return nil, fmt.Errorf("trend: unexpected period %q", row.Period)
		}
		out = append(out, MonthPoint{Year: year, Month: month, Type: row.Type, Total: row.Total.Round(2)})
	}
	return out, nil
}

func (e *Engine) DailyTrend(ctx context.Context, owner uint, r Range) ([]DayPoint, error) {
	rows, err := e.trend(ctx, owner, r, true)
	if err != nil {
		return nil, err
	}
	out := make([]DayPoint, 0, len(rows))
	for _, row := range rows {
		out = append(out, DayPoint{Date: row.Period, Type: row.Type, Total: row.Total.Round(2)})
	}
	return out, nil
}

func splitPeriod(p string) (int, int, bool) {
	y, m, found := strings.Cut(p, "-")
	if !found {
		return 0, 0, false
	}
	year, err1 := strconv.Atoi(y)
	month, err2 := strconv.Atoi(m)
	return year, month, err1 == nil && err2 == nil
}

// Analytics runs every aggregate for the same range.
func (e *Engine) Analytics(ctx context.Context, owner uint, r Range) (*Report, error) {
	var (
		rep Report
		err error
	)
	if rep.Summary, err = e.Summary(ctx, owner, r); err != nil {
		return nil, err
	}
	if rep.ByCategory, err = e.ByCategory(ctx, owner, r); err != nil {
		return nil, err
	}
	if rep.MonthlyTrend, err = e.MonthlyTrend(ctx, owner, r); err != nil {
		return nil, err
	}
	if rep.DailyTrend, err = e.DailyTrend(ctx, owner, r); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Reasons reported when a monthly report has no narrative.
const (
	ReasonNotConfigured   = "not_configured"
	ReasonNoTransactions  = "no_transactions"
	ReasonUpstreamError   = "upstream_error"
	ReasonInvalidResponse = "invalid_response"
)

// InsightsResult says whether narrative insights are present, and if not, why.
type InsightsResult struct {
	Available bool         `json:"available"`
	Reason    string       `json:"reason,omitempty"`
	Insights  *ai.Insights `json:"insights,omitempty"`
}

type Period struct {
	Year      int       `json:"year"`
	Month     int       `json:"month"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

type TopCategory struct {
	Category models.Category `json:"category"`
	Total    decimal.Decimal `json:"total"`
	Count    int64           `json:"count"`
}

type MonthlyReport struct {
	Period        Period         `json:"period"`
	Summary       Summary        `json:"summary"`
	TopCategories []TopCategory  `json:"topCategories"`
	Insights      InsightsResult `json:"insights"`
	// AIInsights mirrors Insights.Insights and is null when unavailable.
	AIInsights *ai.Insights `json:"aiInsights"`
}

// MonthRange returns the first and last instant of year/month in loc.
func MonthRange(year int, month time.Month, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	start := time.Date(year, month, 1, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 1, 0).Add(-time.Microsecond)
}

// MonthlyReport summarizes one calendar month and asks the insight generator
// for a narrative. A failing generator never fails the report.
func (e *Engine) MonthlyReport(ctx context.Context, owner uint, year int, month time.Month, loc *time.Location) (*MonthlyReport, error) {
	if month < time.January || month > time.December {
		return nil, fmt.Errorf("month %d out of range", month)
	}
	start, end := MonthRange(year, month, loc)
	r := Range{Start: &start, End: &end}

	sum, err := e.Summary(ctx, owner, r)
	if err != nil {
		return nil, err
	}
	totals, err := e.categoryTotals(ctx, owner, ledger.Filter{Type: models.TypeExpense, Start: &start, End: &end}, TopCategoryLimit)
	if err != nil {
		return nil, err
	}

	rep := &MonthlyReport{
		Period:        Period{Year: year, Month: int(month), StartDate: start, EndDate: end},
		Summary:       sum,
		TopCategories: make([]TopCategory, 0, len(totals)),
	}
	facts := ai.MonthlyFacts{
		TotalIncome:   sum.TotalIncome,
		TotalExpenses: sum.TotalExpenses,
		Balance:       sum.Balance,
		Transactions:  sum.TransactionCount,
	}
	for _, t := range totals {
		rep.TopCategories = append(rep.TopCategories, TopCategory{Category: t.Category, Total: t.Total, Count: t.Count})
		facts.TopCategories = append(facts.TopCategories, ai.CategoryTotal{Category: string(t.Category), Total: t.Total})
	}

	rep.Insights = e.narrate(ctx, facts)
	rep.AIInsights = rep.Insights.Insights
	return rep, nil
}

func (e *Engine) narrate(ctx context.Context, facts ai.MonthlyFacts) InsightsResult {
	if e.insights == nil {
		return InsightsResult{Reason: ReasonNotConfigured}
	}
	if facts.Transactions == 0 {
		return InsightsResult{Reason: ReasonNoTransactions}
	}

	out, err := e.insights.MonthlyInsights(ctx, facts)
	if err == nil {
		return InsightsResult{Available: true, Insights: out}
	}

	reason := ReasonUpstreamError
	switch {
	case errors.Is(err, ai.ErrNotConfigured):
		reason = ReasonNotConfigured
	case errors.Is(err, ai.ErrExtraction):
		reason = ReasonInvalidResponse
	}
	log := logger.FromContext(ctx)
	log.Warn().Err(err).Str("reason", reason).Msg("monthly insights unavailable")
	return InsightsResult{Reason: reason}
}
