// Package ledger stores transactions. Every read and write is scoped to the
// owning account, and the account's transaction counter moves in the same
// database transaction as the rows it counts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"finance-saas-go/internal/models"
)

const (
	DefaultLimit = 100
	MaxLimit     = 500
	MaxPage      = 1_000_000
)

// Admission decides, inside the write transaction, whether an account may
// add rows. The account it receives carries the live row count.
type Admission func(acct models.Account) error

type Filter struct {
	Type     models.TransactionType
	Category models.Category
	Start    *time.Time
	End      *time.Time
}

type Page struct {
	Limit int
	Page  int
}

// Validate rejects pages outside [1, MaxPage] and limits outside
// [1, MaxLimit]. Zero values mean the defaults.
func (p Page) Validate() error {
	verr := &ValidationError{}
	if p.Limit < 0 || p.Limit > MaxLimit {
		verr.Add("limit", fmt.Sprintf("must be between 1 and %d", MaxLimit))
	}
	if p.Page < 0 || p.Page > MaxPage {
		verr.Add("page", fmt.Sprintf("must be between 1 and %d", MaxPage))
	}
	return verr.Err()
}

func (p Page) normalize() Page {
	if p.Limit == 0 {
		p.Limit = DefaultLimit
	}
	if p.Page == 0 {
		p.Page = 1
	}
	return p
}

type PageResult struct {
	Transactions      []models.Transaction `json:"transactions"`
	CurrentPage       int                  `json:"currentPage"`
	TotalPages        int                  `json:"totalPages"`
	TotalTransactions int64                `json:"totalTransactions"`
}

// Patch holds the fields of an update; nil fields are left unchanged.
type Patch struct {
	Type        *models.TransactionType
	Category    *models.Category
	Amount      *decimal.Decimal
	Description *string
	Date        *time.Time
	Tags        *[]string
	IsRecurring *bool
}

func (p Patch) apply(tx *models.Transaction) {
	if p.Type != nil {
		tx.Type = *p.Type
	}
	if p.Category != nil {
		tx.Category = *p.Category
	}
	if p.Amount != nil {
		tx.Amount = *p.Amount
	}
	if p.Description != nil {
		tx.Description = *p.Description
	}
	if p.Date != nil {
		tx.Date = p.Date.UTC()
	}
	if p.Tags != nil {
		tx.Tags = models.StringArray(*p.Tags)
	}
	if p.IsRecurring != nil {
		tx.IsRecurring = *p.IsRecurring
	}
}

type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Owned scopes a query to ownerID's transactions matching f.
func Owned(ownerID uint, f Filter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		q = q.Where("account_id = ?", ownerID)
		if f.Type != "" {
			q = q.Where("type = ?", f.Type)
		}
		if f.Category != "" {
			q = q.Where("category = ?", f.Category)
		}
		if f.Start != nil {
			q = q.Where("date >= ?", f.Start.UTC())
		}
		if f.End != nil {
			q = q.Where("date <= ?", f.End.UTC())
		}
		return q
	}
}

func (s *Store) prepare(tx *models.Transaction) error {
	if tx.Date.IsZero() {
		tx.Date = s.now()
	}
	tx.Date = tx.Date.UTC()
	return Validate(tx)
}

// Insert stores tx for tx.AccountID when admit allows it.
func (s *Store) Insert(ctx context.Context, tx *models.Transaction, admit Admission) error {
	if err := s.prepare(tx); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		live, err := admitAccount(db, tx.AccountID, admit)
		if err != nil {
			return err
		}
		if err := db.Omit(clause.Associations).Create(tx).Error; err != nil {
			return fmt.Errorf("insert transaction: %w", err)
		}
		return setCount(db, tx.AccountID, live+1)
	})
}

// InsertBatch stores txs for accountID in one unit of work and returns how
// many rows were written.
func (s *Store) InsertBatch(ctx context.Context, accountID uint, txs []models.Transaction, admit Admission) (int, error) {
	if len(txs) == 0 {
		return 0, nil
	}
	for i := range txs {
		txs[i].AccountID = accountID
		if err := s.prepare(&txs[i]); err != nil {
			return 0, fmt.Errorf("batch row %d: %w", i+1, err)
		}
	}

	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		live, err := admitAccount(db, accountID, admit)
		if err != nil {
			return err
		}
		if err := db.Omit(clause.Associations).CreateInBatches(&txs, 100).Error; err != nil {
			return fmt.Errorf("insert batch: %w", err)
		}
		return setCount(db, accountID, live+int64(len(txs)))
	})
	if err != nil {
		return 0, err
	}
	return len(txs), nil
}

// admitAccount locks the account row, derives its live row count and runs
// admit against it.
func admitAccount(db *gorm.DB, accountID uint, admit Admission) (int64, error) {
	var acct models.Account
	err := db.Clauses(clause.Locking{Strength: "UPDATE"}).First(&acct, accountID).Error
	if err != nil {
		return 0, fmt.Errorf("lock account %d: %w", accountID, err)
	}

	live, err := liveCount(db, accountID)
	if err != nil {
		return 0, err
	}
	acct.TransactionCount = live

	if admit != nil {
		if err := admit(acct); err != nil {
			return 0, err
		}
	}
	return live, nil
}

func liveCount(db *gorm.DB, accountID uint) (int64, error) {
	var n int64
	if err := db.Model(&models.Transaction{}).Where("account_id = ?", accountID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

func setCount(db *gorm.DB, accountID uint, n int64) error {
	err := db.Model(&models.Account{}).Where("id = ?", accountID).
		UpdateColumn("transaction_count", n).Error
	if err != nil {
		return fmt.Errorf("update transaction count: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, id, ownerID uint) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, ownerID).First(&tx).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return &tx, nil
}

// Update applies patch to the transaction id owned by ownerID. The result is
// validated as a whole, so a type change must come with a matching category.
func (s *Store) Update(ctx context.Context, id, ownerID uint, patch Patch) (*models.Transaction, error) {
	var tx models.Transaction
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		err := db.Where("id = ? AND account_id = ?", id, ownerID).First(&tx).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("load transaction: %w", err)
		}

		patch.apply(&tx)
		if err := Validate(&tx); err != nil {
			return err
		}
		if err := db.Omit(clause.Associations).Save(&tx).Error; err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// Delete removes the transaction id owned by ownerID.
func (s *Store) Delete(ctx context.Context, id, ownerID uint) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		res := db.Where("id = ? AND account_id = ?", id, ownerID).Delete(&models.Transaction{})
		if res.Error != nil {
			return fmt.Errorf("delete transaction: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		live, err := liveCount(db, ownerID)
		if err != nil {
			return err
		}
		return setCount(db, ownerID, live)
	})
}

// Find lists ownerID's transactions newest first.
func (s *Store) Find(ctx context.Context, ownerID uint, f Filter, p Page) (*PageResult, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	p = p.normalize()

	total, err := s.Count(ctx, ownerID, f)
	if err != nil {
		return nil, err
	}

	txs := []models.Transaction{}
	err = s.db.WithContext(ctx).Scopes(Owned(ownerID, f)).
		Order("date desc, id desc").
		Limit(p.Limit).Offset((p.Page-1)*p.Limit).
		Find(&txs).Error
	if err != nil {
		return nil, fmt.Errorf("find transactions: %w", err)
	}

	return &PageResult{
		Transactions:      txs,
		CurrentPage:       p.Page,
		TotalPages:        int((total + int64(p.Limit) - 1) / int64(p.Limit)),
		TotalTransactions: total,
	}, nil
}

func (s *Store) Count(ctx context.Context, ownerID uint, f Filter) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).Scopes(Owned(ownerID, f)).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count transactions: %w", err)
	}
	return n, nil
}

// Reconcile rewrites every account's transaction counter that disagrees with
// its live row count and returns how many were fixed.
func (s *Store) Reconcile(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Exec(
		`UPDATE accounts SET transaction_count = (
			SELECT COUNT(*) FROM transactions WHERE transactions.account_id = accounts.id
		) WHERE transaction_count <> (
			SELECT COUNT(*) FROM transactions WHERE transactions.account_id = accounts.id
		)`)
	if res.Error != nil {
		return 0, fmt.Errorf("reconcile transaction counts: %w", res.Error)
	}
	return res.RowsAffected, nil
}
