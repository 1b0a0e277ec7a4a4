package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Amounts go over the wire as JSON numbers, the way clients send them.
	decimal.MarshalJSONWithoutQuotes = true
}

type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

func (t TransactionType) Valid() bool {
	return t == TypeIncome || t == TypeExpense
}

type Category string

const (
	CategorySalary      Category = "salary"
	CategoryFreelance   Category = "freelance"
	CategoryInvestment  Category = "investment"
	CategoryOtherIncome Category = "other_income"

	CategoryFood          Category = "food"
	CategoryTransport     Category = "transport"
	CategoryUtilities     Category = "utilities"
	CategoryEntertainment Category = "entertainment"
	CategoryHealthcare    Category = "healthcare"
	CategoryShopping      Category = "shopping"
	CategoryRent          Category = "rent"
	CategoryEducation     Category = "education"
	CategoryOtherExpense  Category = "other_expense"
)

var categoriesByType = map[TransactionType][]Category{
	TypeIncome: {
		CategorySalary, CategoryFreelance, CategoryInvestment, CategoryOtherIncome,
	},
	TypeExpense: {
		CategoryFood, CategoryTransport, CategoryUtilities, CategoryEntertainment,
		CategoryHealthcare, CategoryShopping, CategoryRent, CategoryEducation, CategoryOtherExpense,
	},
}

// CategoriesFor returns the categories allowed for a transaction type.
func CategoriesFor(t TransactionType) []Category {
	out := make([]Category, len(categoriesByType[t]))
	copy(out, categoriesByType[t])
	return out
}

func (c Category) Valid() bool {
	return c.BelongsTo(TypeIncome) || c.BelongsTo(TypeExpense)
}

func (c Category) BelongsTo(t TransactionType) bool {
	for _, known := range categoriesByType[t] {
		if known == c {
			return true
		}
	}
	return false
}

// Transaction is one ledger row. Every row belongs to exactly one account.
type Transaction struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	AccountID   uint            `gorm:"not null;index:idx_tx_account_date,priority:1;index:idx_tx_account_type_date,priority:1" json:"accountId"`
	Type        TransactionType `gorm:"type:varchar(16);not null;index:idx_tx_account_type_date,priority:2" json:"type"`
	Category    Category        `gorm:"type:varchar(32);not null" json:"category"`
	Amount      decimal.Decimal `gorm:"type:numeric(14,2);not null" json:"amount"`
	Description string          `json:"description"`
	Date        time.Time       `gorm:"not null;index:idx_tx_account_date,priority:2,sort:desc;index:idx_tx_account_type_date,priority:3,sort:desc" json:"date"`
	ReceiptURL  string          `json:"receiptUrl,omitempty"`
	Tags        StringArray     `gorm:"type:jsonb" json:"tags"`
	IsRecurring bool            `gorm:"default:false" json:"isRecurring"`

	Account Account `json:"-" gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type StringArray []string

func (sa StringArray) Value() (driver.Value, error) {
	if len(sa) == 0 {
		return []byte("[]"), nil
	}
	return json.Marshal(sa)
}

func (sa *StringArray) Scan(value interface{}) error {
	if value == nil {
		*sa = nil
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type for StringArray: %T", value)
	}
	if len(data) == 0 {
		*sa = nil
		return nil
	}
	return json.Unmarshal(data, sa)
}
