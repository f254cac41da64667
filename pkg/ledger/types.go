package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Credits is a signed integer amount of consumable credits.
type Credits int64

// Int64 returns the raw signed value.
func (amount Credits) Int64() int64 {
	return int64(amount)
}

// NewCreditAmount validates an amount used for holds and grants; it must be strictly positive.
func NewCreditAmount(raw int64) (Credits, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Credits(raw), nil
}

// UserID identifies an account owner.
type UserID struct {
	value string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// CreditType is a closed enumeration of consumable balance categories.
// Free-text types are rejected so a typo cannot fragment a balance.
type CreditType string

const (
	CreditTypeInteraction CreditType = "interaction"
	CreditTypeScraper     CreditType = "scraper"
)

// ParseCreditType validates a raw credit type against the closed set.
func ParseCreditType(raw string) (CreditType, error) {
	switch CreditType(strings.TrimSpace(raw)) {
	case CreditTypeInteraction:
		return CreditTypeInteraction, nil
	case CreditTypeScraper:
		return CreditTypeScraper, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidCreditType, raw)
	}
}

// String returns the credit type tag.
func (creditType CreditType) String() string {
	return string(creditType)
}

// HoldID identifies a hold.
type HoldID struct {
	value string
}

// NewHoldID validates and normalizes a hold id.
func NewHoldID(raw string) (HoldID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return HoldID{}, fmt.Errorf("%w: empty value", ErrInvalidHoldID)
	}
	return HoldID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id HoldID) String() string {
	return id.value
}

// ReferenceID is the caller-supplied correlation key attached to a hold.
type ReferenceID struct {
	value string
}

// NewReferenceID validates and normalizes a reference id.
func NewReferenceID(raw string) (ReferenceID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ReferenceID{}, fmt.Errorf("%w: empty value", ErrInvalidReferenceID)
	}
	return ReferenceID{value: trimmed}, nil
}

// String returns the normalized key.
func (id ReferenceID) String() string {
	return id.value
}

// MetadataJSON stores arbitrary request metadata.
type MetadataJSON struct {
	value string
}

// NewMetadataJSON validates metadata string (defaulting to "{}" for empty inputs).
func NewMetadataJSON(raw string) (MetadataJSON, error) {
	normalized := strings.TrimSpace(raw)
	if normalized == "" {
		normalized = "{}"
	}
	if !json.Valid([]byte(normalized)) {
		return MetadataJSON{}, fmt.Errorf("%w: must be valid json", ErrInvalidMetadataJSON)
	}
	return MetadataJSON{value: normalized}, nil
}

// String returns the normalized JSON blob.
func (metadata MetadataJSON) String() string {
	return metadata.value
}

// TransactionSource enumerates the origins of balance-affecting transactions.
type TransactionSource string

const (
	SourceMonthlyAllocation TransactionSource = "monthly_allocation"
	SourceTopupPurchase     TransactionSource = "topup_purchase"
	SourceDeduction         TransactionSource = "deduction"
	SourceRefund            TransactionSource = "refund"
	SourceAdjustment        TransactionSource = "adjustment"
)

// ParseTransactionSource validates a raw source tag.
func ParseTransactionSource(raw string) (TransactionSource, error) {
	switch TransactionSource(strings.TrimSpace(raw)) {
	case SourceMonthlyAllocation:
		return SourceMonthlyAllocation, nil
	case SourceTopupPurchase:
		return SourceTopupPurchase, nil
	case SourceDeduction:
		return SourceDeduction, nil
	case SourceRefund:
		return SourceRefund, nil
	case SourceAdjustment:
		return SourceAdjustment, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
}

// String returns the source tag.
func (source TransactionSource) String() string {
	return string(source)
}

// Grantable reports whether a source may be appended directly by callers.
// Deductions and refunds are settlement-only.
func (source TransactionSource) Grantable() bool {
	switch source {
	case SourceMonthlyAllocation, SourceTopupPurchase, SourceAdjustment:
		return true
	default:
		return false
	}
}

// HoldStatus defines the hold lifecycle.
type HoldStatus string

const (
	HoldStatusActive    HoldStatus = "active"
	HoldStatusConverted HoldStatus = "converted"
	HoldStatusReleased  HoldStatus = "released"
	HoldStatusExpired   HoldStatus = "expired"
)

// ParseHoldStatus validates a raw hold status.
func ParseHoldStatus(raw string) (HoldStatus, error) {
	switch HoldStatus(strings.TrimSpace(raw)) {
	case HoldStatusActive:
		return HoldStatusActive, nil
	case HoldStatusConverted:
		return HoldStatusConverted, nil
	case HoldStatusReleased:
		return HoldStatusReleased, nil
	case HoldStatusExpired:
		return HoldStatusExpired, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidHoldStatus, raw)
	}
}

// String returns the status tag.
func (status HoldStatus) String() string {
	return string(status)
}

// Terminal reports whether the status admits no further transitions.
func (status HoldStatus) Terminal() bool {
	return status != HoldStatusActive
}

// Hold is a provisional, time-limited claim on credits. Amount is fixed at
// creation; settlement may deduct less but never more.
type Hold struct {
	HoldID            string
	AccountID         string
	Amount            Credits
	ReferenceID       string
	Status            HoldStatus
	ExpiresAtUnixUTC  int64
	CreatedAtUnixUTC  int64
	ResolvedAtUnixUTC int64
}

// ExpiredAt reports whether the hold's expiry has logically passed, regardless
// of whether the sweeper has physically marked it expired yet.
func (hold Hold) ExpiredAt(nowUnixUTC int64) bool {
	return hold.ExpiresAtUnixUTC <= nowUnixUTC
}

// Transaction is a single immutable line in the ledger. The sum of all
// transaction amounts for an account is its total balance.
type Transaction struct {
	TransactionID    string
	AccountID        string
	Source           TransactionSource
	Amount           Credits
	ReferenceID      string
	Description      string
	MetadataJSON     string
	CreatedAtUnixUTC int64
}

// Balance view for a (user, credit type) account.
type Balance struct {
	Total     Credits
	Held      Credits
	Available Credits
}

// HoldPage is one page of a hold listing.
type HoldPage struct {
	Holds      []Hold
	TotalCount int64
	HasMore    bool
}

// Settlement describes the outcome of converting a hold.
type Settlement struct {
	TransactionID       string
	RefundTransactionID string
	AmountDeducted      Credits
	AmountRefunded      Credits
}

// Store is the persistence contract used by Service. All multi-step
// mutations run inside WithTx; UpdateHoldStatus is a compare-and-swap on the
// current status so settlement and the sweeper can race safely.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccountID(ctx context.Context, userID UserID, creditType CreditType) (string, error)
	LockAccount(ctx context.Context, accountID string) error
	AppendTransaction(ctx context.Context, transaction Transaction) (string, error)
	SumTransactions(ctx context.Context, accountID string) (Credits, error)
	SumActiveHolds(ctx context.Context, accountID string, asOfUnixUTC int64) (Credits, error)
	CreateHold(ctx context.Context, hold Hold) (string, error)
	GetHold(ctx context.Context, holdID string) (Hold, error)
	UpdateHoldStatus(ctx context.Context, holdID string, from, to HoldStatus, resolvedAtUnixUTC int64) error
	ListHolds(ctx context.Context, accountID string, status *HoldStatus, limit, offset int) ([]Hold, int64, error)
	ListExpiredHoldIDs(ctx context.Context, asOfUnixUTC int64, limit int) ([]string, error)
	ListTransactions(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Transaction, error)
}
