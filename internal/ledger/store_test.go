package ledger

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"finance-saas-go/internal/database/dbtest"
	"finance-saas-go/internal/models"
)

var (
	t0  = time.Date(2025, 1, 10, 12, 0, 0, 0, time.UTC)
	ctx = context.Background()
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newStore(t *testing.T) (*Store, *gorm.DB) {
	t.Helper()
	db := dbtest.Open(t)
	s := NewStore(db)
	s.now = func() time.Time { return t0 }
	return s, db
}

func expense(owner uint, amount string, day int) *models.Transaction {
	return &models.Transaction{
		AccountID: owner,
		Type:      models.TypeExpense,
		Category:  models.CategoryFood,
		Amount:    dec(amount),
		Date:      time.Date(2025, 1, day, 9, 0, 0, 0, time.UTC),
	}
}

func storedCount(t *testing.T, db *gorm.DB, id uint) int64 {
	t.Helper()
	var acct models.Account
	require.NoError(t, db.First(&acct, id).Error)
	return acct.TransactionCount
}

func TestInsert_DefaultsAndCounter(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)

	tx := &models.Transaction{
		AccountID: acct.ID,
		Type:      models.TypeIncome,
		Category:  models.CategorySalary,
		Amount:    dec("2500.00"),
		Tags:      models.StringArray{"work"},
	}
	require.NoError(t, s.Insert(ctx, tx, nil))
	assert.NotZero(t, tx.ID)
	assert.True(t, tx.Date.Equal(t0))
	assert.Equal(t, int64(1), storedCount(t, db, acct.ID))

	got, err := s.Get(ctx, tx.ID, acct.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("2500")))
	assert.Equal(t, models.StringArray{"work"}, got.Tags)
}

func TestInsert_Validation(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)

	tx := &models.Transaction{
		AccountID: acct.ID,
		Type:      models.TypeIncome,
		Category:  models.CategoryFood,
		Amount:    dec("-1"),
	}
	err := s.Insert(ctx, tx, nil)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "category")
	assert.Contains(t, verr.Fields, "amount")
	assert.Equal(t, int64(0), storedCount(t, db, acct.ID))
}

func TestInsert_AdmissionSeesLiveCount(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)
	require.NoError(t, s.Insert(ctx, expense(acct.ID, "1", 1), nil))

	// A drifted counter does not fool admission.
	require.NoError(t, db.Model(acct).UpdateColumn("transaction_count", 40).Error)

	var seen int64
	denied := errors.New("denied")
	err := s.Insert(ctx, expense(acct.ID, "1", 2), func(a models.Account) error {
		seen = a.TransactionCount
		return denied
	})
	require.ErrorIs(t, err, denied)
	assert.Equal(t, int64(1), seen)

	n, err := s.Count(ctx, acct.ID, Filter{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n, "denied insert writes nothing")
}

func TestCreateThenDeleteRestoresCounter(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)
	require.NoError(t, s.Insert(ctx, expense(acct.ID, "5", 1), nil))
	before := storedCount(t, db, acct.ID)

	tx := expense(acct.ID, "7", 2)
	require.NoError(t, s.Insert(ctx, tx, nil))
	require.NoError(t, s.Delete(ctx, tx.ID, acct.ID))

	assert.Equal(t, before, storedCount(t, db, acct.ID))
	_, err := s.Get(ctx, tx.ID, acct.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestOwnership(t *testing.T) {
	s, db := newStore(t)
	owner := dbtest.CreateAccount(t, db, "owner@example.com", t0)
	other := dbtest.CreateAccount(t, db, "other@example.com", t0)

	tx := expense(owner.ID, "12.50", 3)
	require.NoError(t, s.Insert(ctx, tx, nil))

	amount := dec("999")
	_, err := s.Update(ctx, tx.ID, other.ID, Patch{Amount: &amount})
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.Delete(ctx, tx.ID, other.ID), ErrNotFound)
	require.ErrorIs(t, s.Delete(ctx, 9999, owner.ID), ErrNotFound)

	_, err = s.Get(ctx, tx.ID, other.ID)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := s.Get(ctx, tx.ID, owner.ID)
	require.NoError(t, err)
	assert.True(t, got.Amount.Equal(dec("12.5")))
	assert.Equal(t, int64(1), storedCount(t, db, owner.ID))
	assert.Equal(t, int64(0), storedCount(t, db, other.ID))
}

func TestUpdate(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)
	tx := expense(acct.ID, "20", 4)
	require.NoError(t, s.Insert(ctx, tx, nil))

	desc := "groceries"
	amount := dec("22.40")
	updated, err := s.Update(ctx, tx.ID, acct.ID, Patch{Description: &desc, Amount: &amount})
	require.NoError(t, err)
	assert.Equal(t, "groceries", updated.Description)
	assert.True(t, updated.Amount.Equal(amount))
	assert.Equal(t, models.CategoryFood, updated.Category)

	// Changing type without a matching category is rejected.
	income := models.TypeIncome
	_, err = s.Update(ctx, tx.ID, acct.ID, Patch{Type: &income})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "category")

	salary := models.CategorySalary
	updated, err = s.Update(ctx, tx.ID, acct.ID, Patch{Type: &income, Category: &salary})
	require.NoError(t, err)
	assert.Equal(t, models.TypeIncome, updated.Type)

	got, err := s.Get(ctx, tx.ID, acct.ID)
	require.NoError(t, err)
	assert.Equal(t, models.CategorySalary, got.Category)
}

func TestFind_FiltersSortAndPaging(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)
	other := dbtest.CreateAccount(t, db, "b@example.com", t0)

	for day := 1; day <= 5; day++ {
		require.NoError(t, s.Insert(ctx, expense(acct.ID, "10", day), nil))
	}
	require.NoError(t, s.Insert(ctx, &models.Transaction{
		AccountID: acct.ID, Type: models.TypeIncome, Category: models.CategorySalary,
		Amount: dec("100"), Date: time.Date(2025, 1, 6, 9, 0, 0, 0, time.UTC),
	}, nil))
	require.NoError(t, s.Insert(ctx, expense(other.ID, "10", 3), nil))

	res, err := s.Find(ctx, acct.ID, Filter{}, Page{Limit: 4, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, int64(6), res.TotalTransactions)
	assert.Equal(t, 2, res.TotalPages)
	require.Len(t, res.Transactions, 4)
	assert.Equal(t, models.TypeIncome, res.Transactions[0].Type, "newest first")
	for i := 1; i < len(res.Transactions); i++ {
		assert.False(t, res.Transactions[i].Date.After(res.Transactions[i-1].Date))
	}

	res, err = s.Find(ctx, acct.ID, Filter{}, Page{Limit: 4, Page: 2})
	require.NoError(t, err)
	assert.Len(t, res.Transactions, 2)
	assert.Equal(t, 2, res.CurrentPage)

	res, err = s.Find(ctx, acct.ID, Filter{Type: models.TypeExpense}, Page{})
	require.NoError(t, err)
	assert.Equal(t, int64(5), res.TotalTransactions)
	assert.Equal(t, 1, res.TotalPages)

	start := time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 1, 4, 23, 59, 59, 0, time.UTC)
	n, err := s.Count(ctx, acct.ID, Filter{Category: models.CategoryFood, Start: &start, End: &end})
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	res, err = s.Find(ctx, acct.ID, Filter{Category: models.CategoryRent}, Page{})
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	assert.Equal(t, 0, res.TotalPages)
}

func TestFind_RejectsOutOfRangePages(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)
	require.NoError(t, s.Insert(ctx, expense(acct.ID, "10", 1), nil))

	var verr *ValidationError
	_, err := s.Find(ctx, acct.ID, Filter{}, Page{Limit: MaxLimit + 1})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "limit")

	_, err = s.Find(ctx, acct.ID, Filter{}, Page{Limit: MaxLimit, Page: math.MaxInt / 2})
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Fields, "page")

	res, err := s.Find(ctx, acct.ID, Filter{}, Page{Limit: MaxLimit, Page: MaxPage})
	require.NoError(t, err)
	assert.Empty(t, res.Transactions)
	assert.Equal(t, MaxPage, res.CurrentPage)
	assert.Equal(t, 1, res.TotalPages)
}

func TestInsertBatch(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)
	require.NoError(t, s.Insert(ctx, expense(acct.ID, "1", 1), nil))

	batch := []models.Transaction{*expense(0, "2", 2), *expense(0, "3", 3), *expense(0, "4", 4)}
	n, err := s.InsertBatch(ctx, acct.ID, batch, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, int64(4), storedCount(t, db, acct.ID))
	for _, tx := range batch {
		assert.NotZero(t, tx.ID)
	}

	n, err = s.InsertBatch(ctx, acct.ID, nil, nil)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcile(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)
	clean := dbtest.CreateAccount(t, db, "b@example.com", t0)
	require.NoError(t, s.Insert(ctx, expense(acct.ID, "1", 1), nil))
	require.NoError(t, db.Model(acct).UpdateColumn("transaction_count", 17).Error)

	fixed, err := s.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), fixed)
	assert.Equal(t, int64(1), storedCount(t, db, acct.ID))
	assert.Equal(t, int64(0), storedCount(t, db, clean.ID))
}

func TestValidate(t *testing.T) {
	ok := expense(1, "0", 1)
	require.NoError(t, Validate(ok), "zero amounts are allowed")

	err := Validate(&models.Transaction{})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, map[string]string{
		"accountId": "is required",
		"type":      "must be income or expense",
		"category":  "is required",
		"date":      "is required",
	}, verr.Fields)

	bad := expense(1, "1", 1)
	bad.Category = "pets"
	require.ErrorAs(t, Validate(bad), &verr)
	assert.Equal(t, "is not a known category", verr.Fields["category"])
}

func TestValidate_AmountFitsColumn(t *testing.T) {
	for _, amount := range []string{"0.01", "10.5", "10.500", "999999999999.99"} {
		require.NoError(t, Validate(expense(1, amount, 1)), amount)
	}

	var verr *ValidationError
	for amount, msg := range map[string]string{
		"10.005":        "must have at most 2 decimal places",
		"0.001":         "must have at most 2 decimal places",
		"1000000000000": "must be less than 1000000000000",
		"-0.01":         "must be zero or greater",
	} {
		require.ErrorAs(t, Validate(expense(1, amount, 1)), &verr, amount)
		assert.Equal(t, msg, verr.Fields["amount"], amount)
	}
}

func TestInsert_RejectsUnstorableAmount(t *testing.T) {
	s, db := newStore(t)
	acct := dbtest.CreateAccount(t, db, "a@example.com", t0)

	var verr *ValidationError
	require.ErrorAs(t, s.Insert(ctx, expense(acct.ID, "10.005", 1), nil), &verr)
	assert.Contains(t, verr.Fields, "amount")
	assert.Zero(t, storedCount(t, db, acct.ID))
}

func TestParseDate(t *testing.T) {
	for _, in := range []string{"2025-02-03", "2025-02-03T00:00:00Z", "2025-02-03T04:00:00+04:00", "02/03/2025"} {
		got, err := ParseDate(in)
		require.NoError(t, err, in)
		assert.True(t, got.Equal(time.Date(2025, 2, 3, 0, 0, 0, 0, time.UTC)), in)
	}
	_, err := ParseDate("yesterday")
	require.Error(t, err)
}
