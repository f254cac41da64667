package ledger

import (
	"context"
	"fmt"
)

// Service contains the ledger domain logic layered over a Store. It holds no
// state of its own; every mutation happens inside a store transaction.
type Service struct {
	store  Store
	nowFn  func() int64
	logger OperationLogger
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns total, held, and available credits for a (user, credit type)
// pair. The reads run inside one store transaction so the caller sees a single
// consistent snapshot. Holds whose expiry has passed stop counting toward held
// immediately, even before the sweeper marks them expired.
func (service *Service) Balance(ctx context.Context, userID UserID, creditType CreditType) (Balance, error) {
	var balance Balance
	err := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		accountID, err := txStore.GetOrCreateAccountID(ctx, userID, creditType)
		if err != nil {
			return err
		}
		snapshot, err := balanceSnapshot(ctx, txStore, accountID, service.nowFn())
		if err != nil {
			return err
		}
		balance = snapshot
		return nil
	})
	if err != nil {
		return Balance{}, err
	}
	return balance, nil
}

// PlaceHold reserves amount credits against the available balance and returns
// the created hold. The availability check and the hold insert run in one
// store transaction with the account row locked, so two concurrent holds on
// the same pair cannot jointly overdraw.
func (service *Service) PlaceHold(ctx context.Context, userID UserID, creditType CreditType, amount Credits, referenceID ReferenceID, ttlMinutes int) (Hold, error) {
	var hold Hold
	operationError := func() error {
		if amount <= 0 {
			return fmt.Errorf("%w: hold amount must be greater than zero", ErrInvalidAmount)
		}
		if ttlMinutes < MinTTLMinutes || ttlMinutes > MaxTTLMinutes {
			return fmt.Errorf("%w: %d minutes outside [%d, %d]", ErrInvalidTTL, ttlMinutes, MinTTLMinutes, MaxTTLMinutes)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			accountID, err := txStore.GetOrCreateAccountID(ctx, userID, creditType)
			if err != nil {
				return err
			}
			if err := txStore.LockAccount(ctx, accountID); err != nil {
				return err
			}
			nowUnixUTC := service.nowFn()
			snapshot, err := balanceSnapshot(ctx, txStore, accountID, nowUnixUTC)
			if err != nil {
				return err
			}
			if amount > snapshot.Available {
				return InsufficientCreditsError{Available: snapshot.Available, Required: amount}
			}
			hold = Hold{
				AccountID:        accountID,
				Amount:           amount,
				ReferenceID:      referenceID.String(),
				Status:           HoldStatusActive,
				ExpiresAtUnixUTC: nowUnixUTC + int64(ttlMinutes)*60,
				CreatedAtUnixUTC: nowUnixUTC,
			}
			holdID, err := txStore.CreateHold(ctx, hold)
			if err != nil {
				return err
			}
			hold.HoldID = holdID
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation:   operationPlaceHold,
		UserID:      userID,
		CreditType:  creditType,
		HoldID:      hold.HoldID,
		Amount:      amount,
		ReferenceID: referenceID.String(),
		Error:       operationError,
	})
	if operationError != nil {
		return Hold{}, operationError
	}
	return hold, nil
}

// Convert settles a hold into a final deduction. actualAmount defaults to the
// full reserved amount when nil; when less is used the unused remainder comes
// back as a refund transaction, so the net change to total is exactly the
// amount spent. The status transition and both transactions are one atomic
// unit. Metadata lands on the deduction transaction.
func (service *Service) Convert(ctx context.Context, holdID HoldID, actualAmount *int64, description string, metadata MetadataJSON) (Settlement, error) {
	var settlement Settlement
	operationError := func() error {
		if actualAmount != nil && *actualAmount < 0 {
			return fmt.Errorf("%w: actual amount must not be negative", ErrInvalidAmount)
		}
		return service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
			hold, err := txStore.GetHold(ctx, holdID.String())
			if err != nil {
				return err
			}
			// Same account lock PlaceHold takes: a settlement must not commit
			// between the two sums of an in-flight availability snapshot.
			if err := txStore.LockAccount(ctx, hold.AccountID); err != nil {
				return err
			}
			nowUnixUTC := service.nowFn()
			if hold.Status != HoldStatusActive {
				return HoldStateError{HoldID: hold.HoldID, Status: hold.Status}
			}
			if hold.ExpiredAt(nowUnixUTC) {
				return fmt.Errorf("%w: hold %s expired at %d", ErrHoldExpired, hold.HoldID, hold.ExpiresAtUnixUTC)
			}
			actual := hold.Amount
			if actualAmount != nil {
				actual = Credits(*actualAmount)
			}
			if actual > hold.Amount {
				return fmt.Errorf("%w: %d > %d", ErrAmountExceedsHold, actual, hold.Amount)
			}
			if err := txStore.UpdateHoldStatus(ctx, hold.HoldID, HoldStatusActive, HoldStatusConverted, nowUnixUTC); err != nil {
				return err
			}
			// The deduction covers the full reserved amount; the refund below
			// returns the unused remainder. Net change to total is -actual and
			// total stays equal to the sum of all transactions.
			deductionID, err := txStore.AppendTransaction(ctx, Transaction{
				AccountID:        hold.AccountID,
				Source:           SourceDeduction,
				Amount:           -hold.Amount,
				ReferenceID:      hold.HoldID,
				Description:      description,
				MetadataJSON:     metadata.String(),
				CreatedAtUnixUTC: nowUnixUTC,
			})
			if err != nil {
				return err
			}
			settlement = Settlement{
				TransactionID:  deductionID,
				AmountDeducted: actual,
			}
			if actual < hold.Amount {
				refundID, err := txStore.AppendTransaction(ctx, Transaction{
					AccountID:        hold.AccountID,
					Source:           SourceRefund,
					Amount:           hold.Amount - actual,
					ReferenceID:      hold.HoldID,
					Description:      "unused reserved credits",
					CreatedAtUnixUTC: nowUnixUTC,
				})
				if err != nil {
					return err
				}
				settlement.RefundTransactionID = refundID
				settlement.AmountRefunded = hold.Amount - actual
			}
			return nil
		})
	}()
	service.logOperation(ctx, OperationLog{
		Operation: operationConvert,
		HoldID:    holdID.String(),
		Amount:    settlement.AmountDeducted,
		Error:     operationError,
	})
	if operationError != nil {
		return Settlement{}, operationError
	}
	return settlement, nil
}

// Release cancels a hold, returning its reserved credits to the available
// balance. No transaction is appended: held credits were never removed from
// total, so there is nothing to put back in the ledger.
func (service *Service) Release(ctx context.Context, holdID HoldID, reason string) (Hold, error) {
	var released Hold
	operationError := service.store.WithTx(ctx, func(ctx context.Context, txStore Store) error {
		hold, err := txStore.GetHold(ctx, holdID.String())
		if err != nil {
			return err
		}
		if err := txStore.LockAccount(ctx, hold.AccountID); err != nil {
			return err
		}
		nowUnixUTC := service.nowFn()
		if hold.Status != HoldStatusActive {
			return HoldStateError{HoldID: hold.HoldID, Status: hold.Status}
		}
		if hold.ExpiredAt(nowUnixUTC) {
			return fmt.Errorf("%w: hold %s expired at %d", ErrHoldExpired, hold.HoldID, hold.ExpiresAtUnixUTC)
		}
		if err := txStore.UpdateHoldStatus(ctx, hold.HoldID, HoldStatusActive, HoldStatusReleased, nowUnixUTC); err != nil {
			return err
		}
		hold.Status = HoldStatusReleased
		hold.ResolvedAtUnixUTC = nowUnixUTC
		released = hold
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation:   operationRelease,
		HoldID:      holdID.String(),
		Amount:      released.Amount,
		ReferenceID: released.ReferenceID,
		Reason:      reason,
		Error:       operationError,
	})
	if operationError != nil {
		return Hold{}, operationError
	}
	return released, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}

func balanceSnapshot(ctx context.Context, store Store, accountID string, nowUnixUTC int64) (Balance, error) {
	total, err := store.SumTransactions(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	held, err := store.SumActiveHolds(ctx, accountID, nowUnixUTC)
	if err != nil {
		return Balance{}, err
	}
	available := total - held
	if available < 0 {
		return Balance{}, WrapError("service", "balance", "negative_available", ErrInvalidBalance)
	}
	return Balance{Total: total, Held: held, Available: available}, nil
}
