// Package directory stores internal accounts and the subscriptions linking
// processor customers to them, in SQLite through gorm.
package directory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/arkantrust/charge-ledger/models"
)

var (
	// Error wraps database failures.
	Error = errs.Class("directory")

	// ErrNotFound is returned when no matching account or subscription exists.
	ErrNotFound = errors.New("not found")
)

// Config selects the SQLite database file.
type Config struct {
	Path    string
	LogMode bool
}

// Open creates a SQLite connection and migrates the directory tables.
func Open(cfg Config) (*gorm.DB, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	gormLogger := logger.Default
	if !cfg.LogMode {
		gormLogger = gormLogger.LogMode(logger.Silent)
	}

	db, err := gorm.Open(sqlite.Open(cfg.Path), &gorm.Config{
		Logger: gormLogger,
	})
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("open database: %w", err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, Error.Wrap(fmt.Errorf("get sql db: %w", err))
	}
	sqlDB.SetMaxOpenConns(10)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(time.Hour)

	_, _ = sqlDB.Exec("PRAGMA journal_mode = WAL;")
	_, _ = sqlDB.Exec("PRAGMA synchronous = NORMAL;")

	if err := db.AutoMigrate(&models.Account{}, &models.Subscription{}); err != nil {
		return nil, Error.Wrap(fmt.Errorf("migrate: %w", err))
	}
	return db, nil
}

// Accounts looks up internal accounts.
type Accounts struct {
	db *gorm.DB
}

// NewAccounts returns an account directory backed by db.
func NewAccounts(db *gorm.DB) *Accounts {
	return &Accounts{db: db}
}

// FindByID returns the account with the given id.
func (a *Accounts) FindByID(ctx context.Context, id string) (*models.Account, error) {
	var acct models.Account
	if err := a.db.WithContext(ctx).Where("id = ?", id).First(&acct).Error; err != nil {
		return nil, mapError(err)
	}
	return &acct, nil
}

// FindByEmail returns the account registered with email. Matching ignores
// case.
func (a *Accounts) FindByEmail(ctx context.Context, email string) (*models.Account, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return nil, ErrNotFound
	}
	var acct models.Account
	if err := a.db.WithContext(ctx).Where("LOWER(email) = LOWER(?)", email).First(&acct).Error; err != nil {
		return nil, mapError(err)
	}
	return &acct, nil
}

// Save creates or updates an account.
func (a *Accounts) Save(ctx context.Context, acct *models.Account) error {
	return Error.Wrap(a.db.WithContext(ctx).Save(acct).Error)
}

// Subscriptions maps processor customers to accounts.
type Subscriptions struct {
	db *gorm.DB
}

// NewSubscriptions returns a subscription registry backed by db.
func NewSubscriptions(db *gorm.DB) *Subscriptions {
	return &Subscriptions{db: db}
}

// FindByProcessorCustomerID returns the subscription of a processor customer.
func (s *Subscriptions) FindByProcessorCustomerID(ctx context.Context, customerID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := s.db.WithContext(ctx).Where("processor_customer_id = ?", customerID).First(&sub).Error
	if err != nil {
		return nil, mapError(err)
	}
	return &sub, nil
}

// Save creates or updates a subscription.
func (s *Subscriptions) Save(ctx context.Context, sub *models.Subscription) error {
	return Error.Wrap(s.db.WithContext(ctx).Save(sub).Error)
}

func mapError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return Error.Wrap(err)
}
