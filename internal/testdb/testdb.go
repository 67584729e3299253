// Package testdb opens an in-memory sqlite database with the billing schema
// for repository and service tests.
package testdb

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/bodyf1rst/billing-backend/pkg/db/models"
	"github.com/bodyf1rst/billing-backend/pkg/enums"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  first_name TEXT NOT NULL DEFAULT '',
  last_name TEXT NOT NULL DEFAULT '',
  role TEXT NOT NULL DEFAULT 'member',
  stripe_customer_id TEXT UNIQUE,
  stripe_connect_account_id TEXT UNIQUE,
  billing_status TEXT NOT NULL DEFAULT 'none',
  created_at DATETIME,
  updated_at DATETIME
);
CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  stripe_subscription_id TEXT NOT NULL,
  stripe_customer_id TEXT NOT NULL,
  plan_id TEXT NOT NULL,
  price_id TEXT,
  status TEXT NOT NULL DEFAULT 'incomplete',
  current_period_start DATETIME,
  current_period_end DATETIME,
  cancel_at_period_end INTEGER NOT NULL DEFAULT 0,
  cancelled_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (environment, stripe_subscription_id)
);
CREATE TABLE IF NOT EXISTS invoices (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  stripe_invoice_id TEXT NOT NULL,
  stripe_subscription_id TEXT,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  status TEXT NOT NULL DEFAULT 'pending',
  invoice_date DATETIME,
  paid_at DATETIME,
  pdf_url TEXT,
  hosted_url TEXT,
  document_path TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (environment, stripe_invoice_id)
);
CREATE TABLE IF NOT EXISTS payment_methods (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  stripe_payment_method_id TEXT NOT NULL,
  type TEXT NOT NULL DEFAULT 'card',
  brand TEXT,
  last4 TEXT,
  exp_month INTEGER,
  exp_year INTEGER,
  is_default INTEGER NOT NULL DEFAULT 0,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (environment, stripe_payment_method_id)
);
CREATE UNIQUE INDEX IF NOT EXISTS payment_methods_one_default_idx ON payment_methods (user_id) WHERE is_default;
CREATE TABLE IF NOT EXISTS payments (
  id TEXT PRIMARY KEY,
  user_id TEXT NOT NULL,
  coach_id TEXT,
  environment TEXT NOT NULL,
  stripe_payment_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  status TEXT NOT NULL DEFAULT 'pending',
  description TEXT,
  failure_message TEXT,
  payment_date DATETIME,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (environment, stripe_payment_id)
);
CREATE TABLE IF NOT EXISTS payout_requests (
  id TEXT PRIMARY KEY,
  coach_id TEXT NOT NULL,
  environment TEXT NOT NULL,
  stripe_account_id TEXT NOT NULL,
  stripe_payout_id TEXT NOT NULL,
  amount_cents INTEGER NOT NULL,
  currency TEXT NOT NULL DEFAULT 'usd',
  method TEXT NOT NULL DEFAULT 'instant',
  status TEXT NOT NULL DEFAULT 'pending',
  arrival_date DATETIME,
  failure_message TEXT,
  created_at DATETIME,
  updated_at DATETIME,
  UNIQUE (environment, stripe_payout_id)
);
CREATE TABLE IF NOT EXISTS admin_actions (
  id TEXT PRIMARY KEY,
  admin_id TEXT NOT NULL,
  action TEXT NOT NULL,
  target_type TEXT NOT NULL,
  target_id TEXT NOT NULL,
  details TEXT,
  created_at DATETIME
);
CREATE TABLE IF NOT EXISTS outbox_events (
  id TEXT PRIMARY KEY,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload TEXT NOT NULL,
  created_at DATETIME,
  published_at DATETIME,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  last_error TEXT
);
CREATE TABLE IF NOT EXISTS outbox_dlq (
  id TEXT PRIMARY KEY,
  event_id TEXT NOT NULL,
  event_type TEXT NOT NULL,
  aggregate_type TEXT NOT NULL,
  aggregate_id TEXT NOT NULL,
  payload_json TEXT NOT NULL,
  error_reason TEXT NOT NULL,
  error_message TEXT,
  attempt_count INTEGER NOT NULL DEFAULT 0,
  failed_at DATETIME,
  created_at DATETIME
);
`

// Open returns a fresh database private to the calling test.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s_%s?mode=memory&cache=shared", name, uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	for _, stmt := range strings.Split(schema, ";") {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		require.NoError(t, db.Exec(stmt).Error)
	}

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

// CreateUser inserts a user with the given role.
func CreateUser(t *testing.T, db *gorm.DB, role enums.Role) *models.User {
	t.Helper()
	user := &models.User{
		ID:            uuid.New(),
		Email:         fmt.Sprintf("bf_test_%s@example.com", uuid.NewString()),
		FirstName:     "Test",
		LastName:      "User",
		Role:          role,
		BillingStatus: enums.BillingStatusNone,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

// CreateCustomer inserts a member that already has a gateway customer ID.
func CreateCustomer(t *testing.T, db *gorm.DB, customerID string) *models.User {
	t.Helper()
	user := CreateUser(t, db, enums.RoleMember)
	require.NoError(t, db.Model(user).Update("stripe_customer_id", customerID).Error)
	user.StripeCustomerID = &customerID
	return user
}

// Count returns the number of rows in table matching where.
func Count(t *testing.T, db *gorm.DB, table string, where string, args ...any) int64 {
	t.Helper()
	var n int64
	query := db.Table(table)
	if where != "" {
		query = query.Where(where, args...)
	}
	require.NoError(t, query.Count(&n).Error)
	return n
}
