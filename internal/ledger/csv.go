package ledger

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"finance-saas-go/internal/models"
)

// CSVHeader documents the expected import columns. Column order is free and
// only type, category and amount are required.
const CSVHeader = "type,category,amount,description,date"

var requiredColumns = []string{"type", "category", "amount"}

// ErrBadCSV is returned when the file as a whole cannot be imported.
var ErrBadCSV = errors.New("invalid CSV file")

// RowError reports why one CSV row was skipped. Row counts the header as 1.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"error"`
}

func (e RowError) String() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

type Import struct {
	Transactions []models.Transaction
	Errors       []RowError
}

// ParseCSV decodes r row by row. Valid rows are returned ready for
// InsertBatch; invalid rows are skipped and listed in Errors. Rows without a
// date are dated now.
func ParseCSV(r io.Reader, accountID uint, now time.Time) (*Import, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrBadCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: reading header: %v", ErrBadCSV, err)
	}

	cols := map[string]int{}
	for i, name := range header {
		name = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
		cols[name] = i
	}
	for _, name := range requiredColumns {
		if _, ok := cols[name]; !ok {
			return nil, fmt.Errorf("%w: missing %q column, expected %s", ErrBadCSV, name, CSVHeader)
		}
	}

	out := &Import{}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		var perr *csv.ParseError
		if errors.As(err, &perr) {
			out.Errors = append(out.Errors, RowError{Row: line, Message: perr.Err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBadCSV, err)
		}

		field := func(name string) string {
			i, ok := cols[name]
			if !ok || i >= len(rec) {
				return ""
			}
			return strings.TrimSpace(rec[i])
		}

		tx, msg := parseRow(field, accountID, now)
		if msg != "" {
			out.Errors = append(out.Errors, RowError{Row: line, Message: msg})
			continue
		}
		out.Transactions = append(out.Transactions, tx)
	}
	return out, nil
}

func parseRow(field func(string) string, accountID uint, now time.Time) (models.Transaction, string) {
	tx := models.Transaction{
		AccountID:   accountID,
		Type:        models.TransactionType(strings.ToLower(field("type"))),
		Category:    models.Category(strings.ToLower(field("category"))),
		Description: field("description"),
		Date:        now.UTC(),
	}

	raw := field("amount")
	if raw == "" {
		return tx, "amount is required"
	}
	amount, err := decimal.NewFromString(raw)
	if err != nil {
		return tx, fmt.Sprintf("amount %q is not a number", raw)
	}
	tx.Amount = amount

	if d := field("date"); d != "" {
		parsed, err := ParseDate(d)
		if err != nil {
			return tx, err.Error()
		}
		tx.Date = parsed
	}

	if err := Validate(&tx); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return tx, strings.TrimPrefix(verr.Error(), "invalid transaction: ")
		}
		return tx, err.Error()
	}
	return tx, ""
}
