package ledger

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finance-saas-go/internal/models"
)

// Amounts are stored as numeric(14,2).
const AmountScale = 2

// MaxAmount is the smallest amount the amount column cannot hold.
var MaxAmount = decimal.New(1, 12)

var (
	ErrNotFound = errors.New("transaction not found")
)

// ValidationError lists field problems keyed by JSON field name.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+" "+e.Fields[k])
	}
	return "invalid transaction: " + strings.Join(parts, "; ")
}

// Add records msg for field unless field already has a message.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = map[string]string{}
	}
	if _, ok := e.Fields[field]; !ok {
		e.Fields[field] = msg
	}
}

// Merge copies the fields of a ValidationError in err. Other errors are
// returned unchanged.
func (e *ValidationError) Merge(err error) error {
	var other *ValidationError
	if !errors.As(err, &other) {
		return err
	}
	for k, msg := range other.Fields {
		e.Add(k, msg)
	}
	return nil
}

// Err returns e, or nil when no field failed.
func (e *ValidationError) Err() error {
	if len(e.Fields) == 0 {
		return nil
	}
	return e
}

// Validate checks the invariants every stored transaction must hold: a known
// type, a category from that type's set and a non-negative amount that fits
// the amount column.
func Validate(tx *models.Transaction) error {
	verr := &ValidationError{}

	if tx.AccountID == 0 {
		verr.Add("accountId", "is required")
	}
	if !tx.Type.Valid() {
		verr.Add("type", "must be income or expense")
	}
	switch {
	case tx.Category == "":
		verr.Add("category", "is required")
	case !tx.Category.Valid():
		verr.Add("category", "is not a known category")
	case tx.Type.Valid() && !tx.Category.BelongsTo(tx.Type):
		verr.Add("category", fmt.Sprintf("is not allowed for %s transactions", tx.Type))
	}
	switch {
	case tx.Amount.IsNegative():
		verr.Add("amount", "must be zero or greater")
	case tx.Amount.GreaterThanOrEqual(MaxAmount):
		verr.Add("amount", "must be less than "+MaxAmount.String())
	case !tx.Amount.Equal(tx.Amount.Round(AmountScale)):
		verr.Add("amount", fmt.Sprintf("must have at most %d decimal places", AmountScale))
	}
	if tx.Date.IsZero() {
		verr.Add("date", "is required")
	}
	return verr.Err()
}

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"01/02/2006",
}

// ParseDate accepts ISO 8601 dates and timestamps. Values without a zone are
// read as UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", s)
}
