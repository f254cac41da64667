package gormstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Account represents the accounts table: one row per (user, credit type) pair.
type Account struct {
	AccountID  string    `gorm:"type:uuid;primaryKey"`
	UserID     string    `gorm:"not null;index:idx_accounts_user_credit_type,unique,priority:1"`
	CreditType string    `gorm:"not null;index:idx_accounts_user_credit_type,unique,priority:2"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (Account) TableName() string { return "accounts" }

func (account *Account) BeforeCreate(tx *gorm.DB) error {
	if account.AccountID == "" {
		account.AccountID = uuid.NewString()
	}
	return nil
}

// CreditTransaction mirrors the credit_transactions table. Rows are
// append-only; nothing updates or deletes them.
type CreditTransaction struct {
	TransactionID string         `gorm:"type:uuid;primaryKey"`
	AccountID     string         `gorm:"type:uuid;not null;index:idx_transactions_account_created,priority:1"`
	Source        string         `gorm:"not null"`
	Amount        int64          `gorm:"not null"`
	ReferenceID   *string        `gorm:"index:idx_transactions_reference"`
	Description   string         `gorm:""`
	Metadata      datatypes.JSON `gorm:"not null"`
	CreatedAt     time.Time      `gorm:"not null;index:idx_transactions_account_created,priority:2"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }

func (transaction *CreditTransaction) BeforeCreate(tx *gorm.DB) error {
	if transaction.TransactionID == "" {
		transaction.TransactionID = uuid.NewString()
	}
	return nil
}

// Hold mirrors the holds table.
type Hold struct {
	HoldID      string     `gorm:"type:uuid;primaryKey"`
	AccountID   string     `gorm:"type:uuid;not null;index:idx_holds_account_status,priority:1"`
	Amount      int64      `gorm:"not null"`
	ReferenceID string     `gorm:"not null"`
	Status      string     `gorm:"not null;index:idx_holds_account_status,priority:2;index:idx_holds_status_expires,priority:1"`
	ExpiresAt   time.Time  `gorm:"not null;index:idx_holds_status_expires,priority:2"`
	CreatedAt   time.Time  `gorm:"not null"`
	ResolvedAt  *time.Time `gorm:""`
}

func (Hold) TableName() string { return "holds" }

func (hold *Hold) BeforeCreate(tx *gorm.DB) error {
	if hold.HoldID == "" {
		hold.HoldID = uuid.NewString()
	}
	return nil
}
