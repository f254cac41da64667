package pgstore

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/leadpilot/creditledger/pkg/ledger"
)

const (
	pgConnectionExceptionClass = "08"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectBalance        = "balance"
	errorSubjectHold           = "hold"
	errorSubjectTransaction    = "transaction"
	errorCodeAppend            = "append"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
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

	sqlInsertOrGetAccount = `
		insert into accounts(user_id, credit_type) values($1, $2)
		on conflict (user_id, credit_type) do update set user_id = excluded.user_id, credit_type = excluded.credit_type
		returning account_id
	`

	sqlLockAccount = `
		select account_id from accounts where account_id = $1 for update
	`

	sqlInsertTransaction = `
		insert into credit_transactions(
			transaction_id, account_id, source, amount, reference_id, description, metadata, created_at
		)
		values(
			gen_random_uuid(), $1, $2, $3,
			nullif($4,''), $5,
			coalesce(nullif($6,''),'{}')::jsonb,
			to_timestamp($7)
		)
		returning transaction_id::text
	`

	sqlSumTransactions = `
		select coalesce(sum(amount),0) from credit_transactions where account_id = $1
	`

	sqlSumActiveHolds = `
		select coalesce(sum(amount),0) from holds
		where account_id = $1 and status = 'active' and expires_at > to_timestamp($2)
	`

	sqlInsertHold = `
		insert into holds(hold_id, account_id, amount, reference_id, status, expires_at, created_at)
		values (gen_random_uuid(), $1, $2, $3, $4, to_timestamp($5), to_timestamp($6))
		returning hold_id::text
	`

	sqlSelectHold = `
		select
			hold_id::text,
			account_id::text,
			amount,
			reference_id,
			status,
			extract(epoch from expires_at)::bigint,
			extract(epoch from created_at)::bigint,
			coalesce(extract(epoch from resolved_at)::bigint,0)
		from holds
		where hold_id = $1
		for update
	`

	sqlSelectHoldStatus = `
		select status from holds where hold_id = $1
	`

	sqlUpdateHoldStatus = `
		update holds
		set status = $3, resolved_at = to_timestamp($4)
		where hold_id = $1 and status = $2
	`

	sqlCountHolds = `
		select count(*) from holds
		where account_id = $1 and ($2 = '' or status = $2)
	`

	sqlListHolds = `
		select
			hold_id::text,
			account_id::text,
			amount,
			reference_id,
			status,
			extract(epoch from expires_at)::bigint,
			extract(epoch from created_at)::bigint,
			coalesce(extract(epoch from resolved_at)::bigint,0)
		from holds
		where account_id = $1 and ($2 = '' or status = $2)
		order by created_at desc
		limit $3 offset $4
	`

	sqlListExpiredHoldIDs = `
		select hold_id::text from holds
		where status = 'active' and expires_at <= to_timestamp($1)
		order by expires_at asc
		limit $2
	`

	sqlListTransactions = `
		select
			transaction_id::text,
			account_id::text,
			source,
			amount,
			coalesce(reference_id,''),
			description,
			coalesce(metadata::text,'{}'),
			extract(epoch from created_at)::bigint
		from credit_transactions
		where account_id = $1 and created_at < to_timestamp($2)
		order by created_at desc
		limit $3
	`
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool (autocommit
// outside WithTx).
type Store struct {
	pool *pgxpool.Pool
	conn querier
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, conn: pool}
}

// WithTx runs fn inside a database transaction; nested calls reuse the open
// transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.pool == nil {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	transactionStore := &Store{conn: tx}
	if err := fn(ctx, transactionStore); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) GetOrCreateAccountID(ctx context.Context, userID ledger.UserID, creditType ledger.CreditType) (string, error) {
	var accountID string
	err := store.conn.QueryRow(ctx, sqlInsertOrGetAccount, userID.String(), creditType.String()).Scan(&accountID)
	if err != nil {
		return "", wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	return accountID, nil
}

func (store *Store) LockAccount(ctx context.Context, accountID string) error {
	var locked string
	if err := store.conn.QueryRow(ctx, sqlLockAccount, accountID).Scan(&locked); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, transaction ledger.Transaction) (string, error) {
	var transactionID string
	err := store.conn.QueryRow(ctx, sqlInsertTransaction,
		transaction.AccountID,
		transaction.Source.String(),
		transaction.Amount.Int64(),
		transaction.ReferenceID,
		transaction.Description,
		transaction.MetadataJSON,
		transaction.CreatedAtUnixUTC,
	).Scan(&transactionID)
	if err != nil {
		return "", wrapStoreError(errorSubjectTransaction, errorCodeAppend, err)
	}
	return transactionID, nil
}

func (store *Store) SumTransactions(ctx context.Context, accountID string) (ledger.Credits, error) {
	var sum int64
	if err := store.conn.QueryRow(ctx, sqlSumTransactions, accountID).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumTransactions, err)
	}
	return ledger.Credits(sum), nil
}

func (store *Store) SumActiveHolds(ctx context.Context, accountID string, asOfUnixUTC int64) (ledger.Credits, error) {
	var sum int64
	if err := store.conn.QueryRow(ctx, sqlSumActiveHolds, accountID, asOfUnixUTC).Scan(&sum); err != nil {
		return 0, wrapStoreError(errorSubjectBalance, errorCodeSumActiveHolds, err)
	}
	return ledger.Credits(sum), nil
}

func (store *Store) CreateHold(ctx context.Context, hold ledger.Hold) (string, error) {
	var holdID string
	err := store.conn.QueryRow(ctx, sqlInsertHold,
		hold.AccountID,
		hold.Amount.Int64(),
		hold.ReferenceID,
		hold.Status.String(),
		hold.ExpiresAtUnixUTC,
		hold.CreatedAtUnixUTC,
	).Scan(&holdID)
	if err != nil {
		return "", wrapStoreError(errorSubjectHold, errorCodeCreate, err)
	}
	return holdID, nil
}

func (store *Store) GetHold(ctx context.Context, holdID string) (ledger.Hold, error) {
	hold, err := scanHold(store.conn.QueryRow(ctx, sqlSelectHold, holdID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ledger.Hold{}, wrapStoreError(errorSubjectHold, errorCodeGet, ledger.ErrHoldNotFound)
		}
		return ledger.Hold{}, wrapStoreError(errorSubjectHold, errorCodeGet, err)
	}
	return hold, nil
}

func (store *Store) UpdateHoldStatus(ctx context.Context, holdID string, from, to ledger.HoldStatus, resolvedAtUnixUTC int64) error {
	tag, err := store.conn.Exec(ctx, sqlUpdateHoldStatus, holdID, from.String(), to.String(), resolvedAtUnixUTC)
	if err != nil {
		return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, err)
	}
	if tag.RowsAffected() == 0 {
		var current string
		err := store.conn.QueryRow(ctx, sqlSelectHoldStatus, holdID).Scan(&current)
		if errors.Is(err, pgx.ErrNoRows) {
			return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, ledger.ErrHoldNotFound)
		}
		if err != nil {
			return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, err)
		}
		status, parseErr := ledger.ParseHoldStatus(current)
		if parseErr != nil {
			return wrapStoreError(errorSubjectHold, errorCodeInvalid, parseErr)
		}
		return wrapStoreError(errorSubjectHold, errorCodeUpdateStatus, ledger.HoldStateError{HoldID: holdID, Status: status})
	}
	return nil
}

func (store *Store) ListHolds(ctx context.Context, accountID string, status *ledger.HoldStatus, limit, offset int) ([]ledger.Hold, int64, error) {
	statusFilter := ""
	if status != nil {
		statusFilter = status.String()
	}
	var totalCount int64
	if err := store.conn.QueryRow(ctx, sqlCountHolds, accountID, statusFilter).Scan(&totalCount); err != nil {
		return nil, 0, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	rows, err := store.conn.Query(ctx, sqlListHolds, accountID, statusFilter, limit, offset)
	if err != nil {
		return nil, 0, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	defer rows.Close()
	var holds []ledger.Hold
	for rows.Next() {
		hold, err := scanHold(rows)
		if err != nil {
			return nil, 0, wrapStoreError(errorSubjectHold, errorCodeInvalid, err)
		}
		holds = append(holds, hold)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	return holds, totalCount, nil
}

func (store *Store) ListExpiredHoldIDs(ctx context.Context, asOfUnixUTC int64, limit int) ([]string, error) {
	rows, err := store.conn.Query(ctx, sqlListExpiredHoldIDs, asOfUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	defer rows.Close()
	var holdIDs []string
	for rows.Next() {
		var holdID string
		if err := rows.Scan(&holdID); err != nil {
			return nil, wrapStoreError(errorSubjectHold, errorCodeList, err)
		}
		holdIDs = append(holdIDs, holdID)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectHold, errorCodeList, err)
	}
	return holdIDs, nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID string, beforeUnixUTC int64, limit int) ([]ledger.Transaction, error) {
	rows, err := store.conn.Query(ctx, sqlListTransactions, accountID, beforeUnixUTC, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	defer rows.Close()
	var transactions []ledger.Transaction
	for rows.Next() {
		var (
			transactionID string
			account       string
			sourceValue   string
			amount        int64
			referenceID   string
			description   string
			metadata      string
			createdAt     int64
		)
		if err := rows.Scan(&transactionID, &account, &sourceValue, &amount, &referenceID, &description, &metadata, &createdAt); err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
		}
		source, err := ledger.ParseTransactionSource(sourceValue)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		transactions = append(transactions, ledger.Transaction{
			TransactionID:    transactionID,
			AccountID:        account,
			Source:           source,
			Amount:           ledger.Credits(amount),
			ReferenceID:      referenceID,
			Description:      description,
			MetadataJSON:     metadata,
			CreatedAtUnixUTC: createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}
	return transactions, nil
}

func scanHold(row pgx.Row) (ledger.Hold, error) {
	var (
		holdID      string
		accountID   string
		amount      int64
		referenceID string
		statusValue string
		expiresAt   int64
		createdAt   int64
		resolvedAt  int64
	)
	if err := row.Scan(&holdID, &accountID, &amount, &referenceID, &statusValue, &expiresAt, &createdAt, &resolvedAt); err != nil {
		return ledger.Hold{}, err
	}
	status, err := ledger.ParseHoldStatus(statusValue)
	if err != nil {
		return ledger.Hold{}, err
	}
	return ledger.Hold{
		HoldID:            holdID,
		AccountID:         accountID,
		Amount:            ledger.Credits(amount),
		ReferenceID:       referenceID,
		Status:            status,
		ExpiresAtUnixUTC:  expiresAt,
		CreatedAtUnixUTC:  createdAt,
		ResolvedAtUnixUTC: resolvedAt,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	if isUnavailable(err) {
		return ledger.WrapError(errorOperationStore, subject, errorCodeUnavailable, ledger.ErrStoreUnavailable)
	}
	return ledger.WrapError(errorOperationStore, subject, code, err)
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
	return false
}
