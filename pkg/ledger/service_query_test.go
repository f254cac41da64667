package ledger

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestGrantAppendsCreditTransaction(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "grant-user")

	transactionID, err := service.Grant(context.Background(), userID, CreditTypeInteraction, mustAmount(test, 75), SourceTopupPurchase, "starter pack", "invoice-7", mustMetadata(test, `{"invoice":"inv-7"}`))
	if err != nil {
		test.Fatalf("grant: %v", err)
	}
	if transactionID == "" {
		test.Fatal("expected a transaction id")
	}
	if len(store.transactions) != 1 {
		test.Fatalf("expected 1 transaction, got %d", len(store.transactions))
	}
	transaction := store.transactions[0]
	if transaction.Source != SourceTopupPurchase || transaction.Amount != 75 {
		test.Fatalf("unexpected transaction %s %d", transaction.Source, transaction.Amount)
	}
	if transaction.ReferenceID != "invoice-7" {
		test.Fatalf("unexpected reference id %q", transaction.ReferenceID)
	}
	if transaction.MetadataJSON != `{"invoice":"inv-7"}` {
		test.Fatalf("unexpected metadata %q", transaction.MetadataJSON)
	}
}

func TestGrantRejectsSettlementOnlySources(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "grant-bad-source")

	for _, source := range []TransactionSource{SourceDeduction, SourceRefund} {
		_, err := service.Grant(context.Background(), userID, CreditTypeInteraction, mustAmount(test, 10), source, "", "", mustMetadata(test, ""))
		if !errors.Is(err, ErrInvalidSource) {
			test.Fatalf("source %s: expected ErrInvalidSource, got %v", source, err)
		}
	}
	if len(store.transactions) != 0 {
		test.Fatalf("expected no transactions, got %d", len(store.transactions))
	}
}

func TestGetHoldReturnsStoredHold(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "get-hold-user")

	mustGrant(test, service, userID, CreditTypeInteraction, 100)
	placed := placeTestHold(test, service, userID, 15)

	fetched, err := service.GetHold(context.Background(), mustHoldID(test, placed.HoldID))
	if err != nil {
		test.Fatalf("get hold: %v", err)
	}
	if fetched.HoldID != placed.HoldID || fetched.Amount != 15 {
		test.Fatalf("unexpected hold %s %d", fetched.HoldID, fetched.Amount)
	}
}

func TestListHoldsPaginatesNewestFirst(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "list-user")

	mustGrant(test, service, userID, CreditTypeInteraction, 1000)
	for index := 0; index < 5; index++ {
		reference := mustReferenceID(test, fmt.Sprintf("job-%d", index))
		if _, err := service.PlaceHold(context.Background(), userID, CreditTypeInteraction, mustAmount(test, 10), reference, 30); err != nil {
			test.Fatalf("hold %d: %v", index, err)
		}
		clock.Advance(1)
	}

	page, err := service.ListHolds(context.Background(), userID, CreditTypeInteraction, nil, 2, 0)
	if err != nil {
		test.Fatalf("list holds: %v", err)
	}
	if page.TotalCount != 5 {
		test.Fatalf("expected total count 5, got %d", page.TotalCount)
	}
	if len(page.Holds) != 2 {
		test.Fatalf("expected 2 holds, got %d", len(page.Holds))
	}
	if !page.HasMore {
		test.Fatal("expected more pages")
	}
	if page.Holds[0].ReferenceID != "job-4" {
		test.Fatalf("expected newest hold first, got %s", page.Holds[0].ReferenceID)
	}

	lastPage, err := service.ListHolds(context.Background(), userID, CreditTypeInteraction, nil, 2, 4)
	if err != nil {
		test.Fatalf("list last page: %v", err)
	}
	if len(lastPage.Holds) != 1 || lastPage.HasMore {
		test.Fatalf("expected final page of 1 without more, got %d/%v", len(lastPage.Holds), lastPage.HasMore)
	}
}

func TestListHoldsFiltersByStatus(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "filter-user")

	mustGrant(test, service, userID, CreditTypeInteraction, 100)
	kept := placeTestHold(test, service, userID, 10)
	settled := placeTestHold(test, service, userID, 10)
	if _, err := service.Convert(context.Background(), mustHoldID(test, settled.HoldID), nil, "", mustMetadata(test, "")); err != nil {
		test.Fatalf("convert: %v", err)
	}

	activeStatus := HoldStatusActive
	page, err := service.ListHolds(context.Background(), userID, CreditTypeInteraction, &activeStatus, 0, 0)
	if err != nil {
		test.Fatalf("list holds: %v", err)
	}
	if page.TotalCount != 1 || len(page.Holds) != 1 {
		test.Fatalf("expected exactly one active hold, got %d", page.TotalCount)
	}
	if page.Holds[0].HoldID != kept.HoldID {
		test.Fatalf("expected hold %s, got %s", kept.HoldID, page.Holds[0].HoldID)
	}
}

func TestListHoldsRejectsBadPagination(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "bad-page-user")

	if _, err := service.ListHolds(context.Background(), userID, CreditTypeInteraction, nil, MaxListLimit+1, 0); !errors.Is(err, ErrInvalidLimit) {
		test.Fatalf("expected ErrInvalidLimit for oversized limit, got %v", err)
	}
	if _, err := service.ListHolds(context.Background(), userID, CreditTypeInteraction, nil, -1, 0); !errors.Is(err, ErrInvalidLimit) {
		test.Fatalf("expected ErrInvalidLimit for negative limit, got %v", err)
	}
	if _, err := service.ListHolds(context.Background(), userID, CreditTypeInteraction, nil, 10, -1); !errors.Is(err, ErrInvalidOffset) {
		test.Fatalf("expected ErrInvalidOffset, got %v", err)
	}
}

func TestListTransactionsHonorsCutoffAndLimit(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "history-user")

	for index := 0; index < 4; index++ {
		mustGrant(test, service, userID, CreditTypeInteraction, 10)
		clock.Advance(60)
	}

	transactions, err := service.ListTransactions(context.Background(), userID, CreditTypeInteraction, testEpoch+120, 0)
	if err != nil {
		test.Fatalf("list transactions: %v", err)
	}
	if len(transactions) != 2 {
		test.Fatalf("expected 2 transactions before cutoff, got %d", len(transactions))
	}
	if transactions[0].CreatedAtUnixUTC < transactions[1].CreatedAtUnixUTC {
		test.Fatal("expected newest transaction first")
	}

	limited, err := service.ListTransactions(context.Background(), userID, CreditTypeInteraction, clock.Now()+1, 1)
	if err != nil {
		test.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 {
		test.Fatalf("expected 1 transaction with limit 1, got %d", len(limited))
	}
}

func TestListTransactionsDefaultsCutoffFromClock(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "default-cutoff-user")

	mustGrant(test, service, userID, CreditTypeInteraction, 10)
	clock.Advance(1000)
	mustGrant(test, service, userID, CreditTypeInteraction, 20)

	// Rewind the clock below the second grant. A zero cutoff must default
	// from the service clock, not the wall clock, so only the first grant
	// falls before it.
	clock.Advance(-900)
	transactions, err := service.ListTransactions(context.Background(), userID, CreditTypeInteraction, 0, 0)
	if err != nil {
		test.Fatalf("list transactions: %v", err)
	}
	if len(transactions) != 1 {
		test.Fatalf("expected 1 transaction before the clock cutoff, got %d", len(transactions))
	}
	if transactions[0].CreatedAtUnixUTC != testEpoch {
		test.Fatalf("expected the first grant, got created_at %d", transactions[0].CreatedAtUnixUTC)
	}
}

func TestExpireDueTransitionsStaleHolds(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "expire-user")

	mustGrant(test, service, userID, CreditTypeInteraction, 100)
	stale := placeTestHold(test, service, userID, 20)
	fresh, err := service.PlaceHold(context.Background(), userID, CreditTypeInteraction, mustAmount(test, 20), mustReferenceID(test, "fresh"), MaxTTLMinutes)
	if err != nil {
		test.Fatalf("fresh hold: %v", err)
	}

	clock.Advance(31 * 60)
	expired, err := service.ExpireDue(context.Background(), 10)
	if err != nil {
		test.Fatalf("expire due: %v", err)
	}
	if expired != 1 {
		test.Fatalf("expected 1 expired hold, got %d", expired)
	}
	if store.mustHold(test, stale.HoldID).Status != HoldStatusExpired {
		test.Fatal("expected stale hold marked expired")
	}
	if store.mustHold(test, fresh.HoldID).Status != HoldStatusActive {
		test.Fatal("expected fresh hold untouched")
	}
	// Expiry is a status flip only; the ledger never changes.
	if len(store.accountTransactions(stale.AccountID)) != 1 {
		test.Fatal("expected no transactions from expiry")
	}
}

func TestExpireDueSkipsHoldsSettledMidSweep(test *testing.T) {
	test.Parallel()
	store := newStubStore()
	clock := newFakeClock(testEpoch)
	service := mustNewService(test, store, clock)
	userID := mustUserID(test, "race-user")

	mustGrant(test, service, userID, CreditTypeInteraction, 100)
	hold := placeTestHold(test, service, userID, 20)
	clock.Advance(31 * 60)

	// Flip the hold between the sweep's listing and its compare-and-swap.
	if err := store.UpdateHoldStatus(context.Background(), hold.HoldID, HoldStatusActive, HoldStatusReleased, clock.Now()); err != nil {
		test.Fatalf("simulate race: %v", err)
	}
	raced := &listThenFlipStore{stubStore: store, holdID: hold.HoldID}
	racedService := mustNewService(test, raced, clock)

	expired, err := racedService.ExpireDue(context.Background(), 10)
	if err != nil {
		test.Fatalf("expire due: %v", err)
	}
	if expired != 0 {
		test.Fatalf("expected 0 expired, got %d", expired)
	}
	if store.mustHold(test, hold.HoldID).Status != HoldStatusReleased {
		test.Fatal("expected the release transition to stand")
	}
}

// listThenFlipStore reports one hold as expired even though its status has
// already moved on, mimicking a sweep that lost the settlement race.
type listThenFlipStore struct {
	*stubStore
	holdID string
}

func (store *listThenFlipStore) ListExpiredHoldIDs(context.Context, int64, int) ([]string, error) {
	return []string{store.holdID}, nil
}
