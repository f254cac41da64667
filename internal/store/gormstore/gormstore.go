package gormstore

import (
	"context"
	"errors"
	"strings"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/leadpilot/creditledger/pkg/ledger"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	defaultMetadataJSON        = "{}"
	pgConnectionExceptionClass = "08"
	sqliteBusyCode             = 5
	sqliteLockedCode           = 6
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectHold           = "hold"
	errorSubjectTransaction    = "transaction"
	errorCodeAppend            = "append"
	errorCodeCreate            = "create"
	errorCodeGet               = "get"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeLookup            = "lookup"
	errorCodeSumActiveHolds    = "sum_active_holds"
	errorCodeSumTransactions   = "sum_transactions"
	errorCodeUnavailable       = "unavailable"
	errorCodeUpdateStatus      = "update_status"
)

// Store implements ledger.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// AutoMigrate creates the schema. Intended for sqlite dev mode; postgres
// schemas are managed externally.
func (store *Store) AutoMigrate() error {
	return store.db.AutoMigrate(&Account{}, &CreditTransaction{}, &Hold{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

func (store *Store) GetOrCreateAccountID(ctx context.Context, userID ledger.UserID, creditType ledger.CreditType) (string, error) {
	var account Account
	err := store.db.WithContext(ctx).
		Where(Account{UserID: userID.String(), CreditType: creditType.String()}).
		FirstOrCreate(&account).Error
	if err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return account.AccountID, nil
}

// LockAccount takes a row lock on the account so concurrent hold placements
// on the same (user, credit type) pair serialize. SQLite has no row locks;
// its single-writer transactions already serialize writes.
func (store *Store) LockAccount(ctx context.Context, accountID string) error {
	query := store.db.WithContext(ctx)
	if store.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var account Account
	if err := query.Where("account_id = ?", accountID).Take(&account).Error; err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, transaction ledger.Transaction) (string, error) {
	var referenceID *string
	if transaction.ReferenceID != "" {
		value := transaction.ReferenceID
		referenceID = &value
	}
	row := CreditTransaction{
		AccountID:   transaction.AccountID,
		Source:      transaction.Source.String(),
		Amount:      transaction.Amount.Int64(),
		ReferenceID: referenceID,
		Description: transaction.Description,
		Metadata:    datatypesJSON(transaction.MetadataJSON),
		CreatedAt:   time.Unix(transaction.CreatedAtUnixUTC, 0).UTC(),
	}
	if transaction.CreatedAtUnixUTC == 0 {
		row.CreatedAt = time.Now().UTC()
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeAppend, err)
	}
	return row.TransactionID, nil
}

func (store *Store) SumTransactions(ctx context.Context, accountID string) (ledger.Credits, error) {
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&CreditTransaction{}).
		Select("coalesce(sum(amount),0) as total").
		Where("account_id = ?", accountID).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumTransactions, err)
	}
	return ledger.Credits(sum.Total), nil
}

func (store *Store) SumActiveHolds(ctx context.Context, accountID string, asOfUnixUTC int64) (ledger.Credits, error) {
	asOf := time.Unix(asOfUnixUTC, 0).UTC()
	var sum sqlSum
	err := store.db.WithContext(ctx).
		Model(&Hold{}).
		Select("coalesce(sum(amount),0) as total").
		Where("account_id = ? AND status = ? AND expires_at > ?", accountID, ledger.HoldStatusActive.String(), asOf).
		Scan(&sum).Error
	if err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumActiveHolds, err)
	}
	return ledger.Credits(sum.Total), nil
}

func (store *Store) CreateHold(ctx context.Context, hold ledger.Hold) (string, error) {
	row := Hold{
		AccountID:   hold.AccountID,
		Amount:      hold.Amount.Int64(),
		ReferenceID: hold.ReferenceID,
		Status:      hold.Status.String(),
		ExpiresAt:   time.Unix(hold.ExpiresAtUnixUTC, 0).UTC(),
		CreatedAt:   time.Unix(hold.CreatedAtUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&row).Error; err != nil {
		return "", wrapStoreError(errorSubjectHold, errorCodeCreate, err)
	}
	return row.HoldID, nil
}

func (store *Store) GetHold(ctx context.Context, holdID string) (ledger.Hold, error) {
	query := store.db.WithContext(ctx)
	if store.db.Dialector.Name() == "postgres" {
		query = query.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row Hold
	err := query.Where("hold_id = ?", holdID).Take(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ledger.Hold{}, wrapStoreError(errorSubjectHold, errorCodeGet, ledger.ErrHoldNotFound)
		}
		return ledger.Hold{}, wrapStoreError(errorSubjectHold, errorCodeGet, err)
	}
	hold, err := mapHold(row)
	if err != nil {
		return ledger.Hold{}, wrapStoreError(errorSubjectHold, errorCodeInvalid, err)
	}
	return hold, nil
}

// UpdateHoldStatus is a compare-and-swap on the hold's current status. At
// most one terminal transition can ever win.
func (store *Store) UpdateHoldStatus(ctx context.Context, holdID string, from, to ledger.HoldStatus, resolvedAtUnixUTC int64) error {
	resolvedAt := time.Unix(resolvedAtUnixUTC, 0).UTC()
	result := store.db.WithContext(ctx).
		Model(&Hold{}).
		Where("hold_id = ? AND status = ?", holdID, from.String()).
		Updates(map[string]interface{}{"status": to.String(), "resolved_at": resolvedAt})
	if result.Error != nil {
		return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		var row Hold
		err := store.db.WithContext(ctx).Where("hold_id = ?", holdID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, ledger.ErrHoldNotFound)
		}
		if err != nil {
			return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, err)
		}
		status, parseErr := ledger.ParseHoldStatus(row.Status)
		if parseErr != nil {
			return wrapStoreError(errorSubjectHold, errorCodeInvalid, parseErr)
		}
		return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, ledger.HoldStateError{HoldID: holdID, Status: status})
	}
	return nil
}

func (store *Store) ListHolds(ctx context.Context, accountID string, status *ledger.HoldStatus, limit, offset int) ([]ledger.Hold, int64, error) {
	scope := store.db.WithContext(ctx).Model(&Hold{}).Where("account_id = ?", accountID)
	if status != nil {
		scope = scope.Where("status = ?", status.String())
	}
	var totalCount int64
	if err := scope.Count(&totalCount).Error; err != nil {
		return nil, 0, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	var rows []Hold
	err := scope.
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&rows).Error
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	holds := make([]ledger.Hold, 0, len(rows))
	for _, row := range rows {
		hold, err := mapHold(row)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectHold, errorCodeInvalid, err)
		}
		holds = append(holds, hold)
	}
	return holds, totalCount, nil
}

func (store *Store) ListExpiredHoldIDs(ctx context.Context, asOfUnixUTC int64, limit int) ([]string, error) {
	asOf := time.Unix(asOfUnixUTC, 0).UTC()
	var holdIDs []string
	err := store.db.WithContext(ctx).
		Model(&Hold{}).
		Where("status = ? AND expires_at <= ?", ledger.HoldStatusActive.String(), asOf).
		Order("expires_at ASC").
		Limit(limit).
		Pluck("hold_id", &holdIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	return holdIDs, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	var rows []CreditTransaction
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID, before).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	transactions := make([]ledger.Transaction, 0, len(rows))
	for _, row := range rows {
		transaction, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, transaction)
	}
	return transactions, nil
}

func wrapStoreError(subject string, code string, err error) error {
	if isUnavailable(err) {
		return ledger.WrapError(errorOperationStore, subject, errorCodeUnavailable, ledger.ErrStoreUnavailable)
	}
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

func mapHold(row Hold) (ledger.Hold, error) {
	status, err := ledger.ParseHoldStatus(row.Status)
	if err != nil {
		return ledger.Hold{}, err
	}
	return ledger.Hold{
		HoldID:            row.HoldID,
		AccountID:         row.AccountID,
		Amount:            ledger.Credits(row.Amount),
		ReferenceID:       row.ReferenceID,
		Status:            status,
		ExpiresAtUnixUTC:  row.ExpiresAt.Unix(),
		CreatedAtUnixUTC:  row.CreatedAt.Unix(),
		ResolvedAtUnixUTC: timeOrZero(row.ResolvedAt),
	}, nil
}

func mapTransaction(row CreditTransaction) (ledger.Transaction, error) {
	source, err := ledger.ParseTransactionSource(row.Source)
	if err != nil {
		return ledger.Transaction{}, err
	}
	referenceID := ""
	if row.ReferenceID != nil {
		referenceID = *row.ReferenceID
	}
	return ledger.Transaction{
		TransactionID:    row.TransactionID,
		AccountID:        row.AccountID,
		Source:           source,
		Amount:           ledger.Credits(row.Amount),
		ReferenceID:      referenceID,
		Description:      row.Description,
		MetadataJSON:     string(row.Metadata),
		CreatedAtUnixUTC: row.CreatedAt.Unix(),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func datatypesJSON(raw string) datatypes.JSON {
	if raw == "" {
		return datatypes.JSON([]byte(defaultMetadataJSON))
	}
	return datatypes.JSON([]byte(raw))
}

// isUnavailable classifies transient errors so callers can retry the whole
// hold/settle sequence.
func isUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if pgconn.Timeout(err) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, pgConnectionExceptionClass)
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code() & 0xFF
		return code == sqliteBusyCode || code == sqliteLockedCode
	}
	return false
}
