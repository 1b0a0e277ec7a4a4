package ledger

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"finance-saas-go/internal/models"
)

func TestParseCSV_ValidAndInvalidRows(t *testing.T) {
	input := strings.Join([]string{
		"type,category,amount,description,date",
		"expense,food,12.50,Lunch,2025-01-05",
		"INCOME,Salary,3000,January pay,2025-01-01T08:00:00Z",
		"expense,salary,10,wrong category,",
		"expense,food,abc,bad amount,",
		"transfer,food,5,bad type,",
		"expense,rent,800,,not-a-date",
		"expense,transport,4.20,,",
	}, "\n")

	imp, err := ParseCSV(strings.NewReader(input), 7, t0)
	require.NoError(t, err)

	require.Len(t, imp.Transactions, 3)
	require.Len(t, imp.Errors, 4)

	first := imp.Transactions[0]
	assert.Equal(t, uint(7), first.AccountID)
	assert.Equal(t, models.TypeExpense, first.Type)
	assert.Equal(t, models.CategoryFood, first.Category)
	assert.True(t, first.Amount.Equal(dec("12.5")))
	assert.Equal(t, "Lunch", first.Description)
	assert.True(t, first.Date.Equal(time.Date(2025, 1, 5, 0, 0, 0, 0, time.UTC)))

	assert.Equal(t, models.TypeIncome, imp.Transactions[1].Type, "type and category are case-insensitive")
	assert.True(t, imp.Transactions[2].Date.Equal(t0), "missing date defaults to now")

	rows := []int{}
	for _, e := range imp.Errors {
		rows = append(rows, e.Row)
	}
	assert.Equal(t, []int{4, 5, 6, 7}, rows)
	assert.Contains(t, imp.Errors[0].Message, "category")
	assert.Equal(t, `row 5: amount "abc" is not a number`, imp.Errors[1].String())
}

func TestParseCSV_HeaderOrderAndBOM(t *testing.T) {
	input := "\ufeffAmount, Type ,category\n9,expense,shopping\n"

	imp, err := ParseCSV(strings.NewReader(input), 1, t0)
	require.NoError(t, err)
	require.Len(t, imp.Transactions, 1)
	assert.Empty(t, imp.Errors)
	assert.Equal(t, models.CategoryShopping, imp.Transactions[0].Category)
}

func TestParseCSV_BadFiles(t *testing.T) {
	_, err := ParseCSV(strings.NewReader(""), 1, t0)
	require.ErrorIs(t, err, ErrBadCSV)

	_, err = ParseCSV(strings.NewReader("type,category,description\nexpense,food,x\n"), 1, t0)
	require.ErrorIs(t, err, ErrBadCSV)
	assert.Contains(t, err.Error(), `"amount"`)
}

func TestParseCSV_ShortRows(t *testing.T) {
	imp, err := ParseCSV(strings.NewReader("type,category,amount,description\nexpense,food\n"), 1, t0)
	require.NoError(t, err)
	assert.Empty(t, imp.Transactions)
	require.Len(t, imp.Errors, 1)
	assert.Equal(t, "amount is required", imp.Errors[0].Message)
}
