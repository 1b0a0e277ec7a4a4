// Package dbtest opens throwaway migrated databases for tests.
package dbtest

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"finance-saas-go/internal/database"
	"finance-saas-go/internal/models"
)

// Open returns a migrated SQLite database stored under t.TempDir().
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")
	db, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)"), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, database.Migrate(db))
	return db
}

// CreateAccount inserts a trial account created at now.
func CreateAccount(t *testing.T, db *gorm.DB, email string, now time.Time) *models.Account {
	t.Helper()

	acct := models.NewAccount("Test User", email, "hash", now)
	require.NoError(t, db.Create(acct).Error)
	return acct
}
