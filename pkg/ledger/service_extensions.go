package ledger

import (
	"context"
	"errors"
	"fmt"
)

// Grant appends a pure credit (monthly allocation, top-up purchase, or manual
// adjustment) directly, bypassing holds. Returns the new transaction id.
func (service *Service) Grant(ctx context.Context, userID UserID, creditType CreditType, amount Credits, source TransactionSource, description string, referenceID string, metadata MetadataJSON) (string, error) {
	var transactionID string
	operationError := func() error {
		if amount <= 0 {
			return fmt.Errorf("%w: grant amount must be greater than zero", ErrInvalidAmount)
		}
		if !source.Grantable() {
			return fmt.Errorf("%w: %s is settlement-only", ErrInvalidSource, source)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			accountID, err := txStore.GetOrCreateAccountID(ctx, userID, creditType)
			if err != nil {
				return err
			}
			transactionID, err = txStore.AppendTransaction(ctx, Transaction{
				AccountID:        accountID,
				Source:           source,
				Amount:           amount,
				ReferenceID:      referenceID,
				Description:      description,
				MetadataJSON:     metadata.String(),
				CreatedAtUnixUTC: service.nowFn(),
			})
			return err
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:   operationGrant,
		UserID:      userID,
		CreditType:  creditType,
		Amount:      amount,
		ReferenceID: referenceID,
		Error:       operationError,
	})
	if operationError != nil {
		return "", operationError
	}
	return transactionID, nil
}

// GetHold returns a hold by id.
func (service *Service) GetHold(ctx context.Context, holdID HoldID) (Hold, error) {
	return service.store.GetHold(ctx, holdID.String())
}

// ListHolds returns one page of holds for a (user, credit type) pair, newest
// first, optionally filtered by status.
func (service *Service) ListHolds(ctx context.Context, userID UserID, creditType CreditType, status *HoldStatus, limit, offset int) (HoldPage, error) {
	normalizedLimit, err := normalizeListLimit(limit)
	if err != nil {
		return HoldPage{}, err
	}
	if offset < 0 {
		return HoldPage{}, fmt.Errorf("%w: offset must not be negative", ErrInvalidOffset)
	}
	accountID, err := service.store.GetOrCreateAccountID(ctx, userID, creditType)
	if err != nil {
		return HoldPage{}, err
	}
	holds, totalCount, err := service.store.ListHolds(ctx, accountID, status, normalizedLimit, offset)
	if err != nil {
		return HoldPage{}, err
	}
	return HoldPage{
		Holds:      holds,
		TotalCount: totalCount,
		HasMore:    int64(offset+len(holds)) < totalCount,
	}, nil
}

// ListTransactions lists ledger transactions for a user before a cutoff time.
func (service *Service) ListTransactions(ctx context.Context, userID UserID, creditType CreditType, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	normalizedLimit, err := normalizeListLimit(limit)
	if err != nil {
		return nil, err
	}
	if beforeUnixUTC == 0 {
		beforeUnixUTC = service.nowFn() + 1
	}
	accountID, err := service.store.GetOrCreateAccountID(ctx, userID, creditType)
	if err != nil {
		return nil, err
	}
	return service.store.ListTransactions(ctx, accountID, beforeUnixUTC, normalizedLimit)
}

// ExpireDue transitions up to limit holds whose expiry has passed from active
// to expired and reports how many it moved. Each transition is the same
// compare-and-swap used by settlement, so a sweep racing a late settlement
// loses cleanly instead of corrupting state. No transactions are appended.
func (service *Service) ExpireDue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = DefaultSweepBatch
	}
	nowUnixUTC := service.nowFn()
	holdIDs, err := service.store.ListExpiredHoldIDs(ctx, nowUnixUTC, limit)
	if err != nil {
		return 0, err
	}
	expired := 0
	for _, holdID := range holdIDs {
		err := service.store.UpdateHoldStatus(ctx, holdID, HoldStatusActive, HoldStatusExpired, nowUnixUTC)
		if errors.Is(err, ErrHoldNotActive) || errors.Is(err, ErrHoldNotFound) {
			// Lost the race to a settlement call; its transition stands.
			continue
		}
		if err != nil {
			return expired, err
		}
		expired++
		service.logOperation(ctx, OperationLog{
			Operation: operationExpire,
			HoldID:    holdID,
		})
	}
	return expired, nil
}

func normalizeListLimit(limit int) (int, error) {
	if limit == 0 {
		return DefaultListLimit, nil
	}
	if limit < 0 || limit > MaxListLimit {
		return 0, fmt.Errorf("%w: %d outside [1, %d]", ErrInvalidLimit, limit, MaxListLimit)
	}
	return limit, nil
}
