package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"testing"
)

// stubStore is an in-memory Store. WithTx runs the callback against the same
// instance; the compare-and-swap in UpdateHoldStatus behaves like the real
// stores so state-machine tests exercise the same transitions.
type stubStore struct {
	mu           sync.Mutex
	accounts     map[string]string
	transactions []Transaction
	holds        map[string]Hold
	holdOrder    []string
	nextID       int
}

func newStubStore() *stubStore {
	return &stubStore{
		accounts: map[string]string{},
		holds:    map[string]Hold{},
	}
}

func (store *stubStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error {
	return fn(ctx, store)
}

func (store *stubStore) GetOrCreateAccountID(_ context.Context, userID UserID, creditType CreditType) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	key := userID.String() + "/" + creditType.String()
	if accountID, ok := store.accounts[key]; ok {
		return accountID, nil
	}
	store.nextID++
	accountID := fmt.Sprintf("account-%d", store.nextID)
	store.accounts[key] = accountID
	return accountID, nil
}

func (store *stubStore) LockAccount(context.Context, string) error {
	return nil
}

func (store *stubStore) AppendTransaction(_ context.Context, transaction Transaction) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID++
	transaction.TransactionID = fmt.Sprintf("transaction-%d", store.nextID)
	store.transactions = append(store.transactions, transaction)
	return transaction.TransactionID, nil
}

func (store *stubStore) SumTransactions(_ context.Context, accountID string) (Credits, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var total Credits
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID {
			total += transaction.Amount
		}
	}
	return total, nil
}

func (store *stubStore) SumActiveHolds(_ context.Context, accountID string, asOfUnixUTC int64) (Credits, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var held Credits
	for _, hold := range store.holds {
		if hold.AccountID == accountID && hold.Status == HoldStatusActive && hold.ExpiresAtUnixUTC > asOfUnixUTC {
			held += hold.Amount
		}
	}
	return held, nil
}

func (store *stubStore) CreateHold(_ context.Context, hold Hold) (string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	store.nextID++
	hold.HoldID = fmt.Sprintf("hold-%d", store.nextID)
	store.holds[hold.HoldID] = hold
	store.holdOrder = append(store.holdOrder, hold.HoldID)
	return hold.HoldID, nil
}

func (store *stubStore) GetHold(_ context.Context, holdID string) (Hold, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	hold, ok := store.holds[holdID]
	if !ok {
		return Hold{}, fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
	}
	return hold, nil
}

func (store *stubStore) UpdateHoldStatus(_ context.Context, holdID string, from, to HoldStatus, resolvedAtUnixUTC int64) error {
	store.mu.Lock()
	defer store.mu.Unlock()
	hold, ok := store.holds[holdID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrHoldNotFound, holdID)
	}
	if hold.Status != from {
		return HoldStateError{HoldID: holdID, Status: hold.Status}
	}
	hold.Status = to
	hold.ResolvedAtUnixUTC = resolvedAtUnixUTC
	store.holds[holdID] = hold
	return nil
}

func (store *stubStore) ListHolds(_ context.Context, accountID string, status *HoldStatus, limit, offset int) ([]Hold, int64, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []Hold
	for _, holdID := range store.holdOrder {
		hold := store.holds[holdID]
		if hold.AccountID != accountID {
			continue
		}
		if status != nil && hold.Status != *status {
			continue
		}
		matched = append(matched, hold)
	}
	sort.SliceStable(matched, func(left, right int) bool {
		return matched[left].CreatedAtUnixUTC > matched[right].CreatedAtUnixUTC
	})
	totalCount := int64(len(matched))
	if offset >= len(matched) {
		return nil, totalCount, nil
	}
	matched = matched[offset:]
	if len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, totalCount, nil
}

func (store *stubStore) ListExpiredHoldIDs(_ context.Context, asOfUnixUTC int64, limit int) ([]string, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var expired []string
	for _, holdID := range store.holdOrder {
		hold := store.holds[holdID]
		if hold.Status == HoldStatusActive && hold.ExpiresAtUnixUTC <= asOfUnixUTC {
			expired = append(expired, holdID)
			if len(expired) == limit {
				break
			}
		}
	}
	return expired, nil
}

func (store *stubStore) ListTransactions(_ context.Context, accountID string, beforeUnixUTC int64, limit int) ([]Transaction, error) {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []Transaction
	for index := len(store.transactions) - 1; index >= 0; index-- {
		transaction := store.transactions[index]
		if transaction.AccountID != accountID || transaction.CreatedAtUnixUTC >= beforeUnixUTC {
			continue
		}
		matched = append(matched, transaction)
		if len(matched) == limit {
			break
		}
	}
	return matched, nil
}

func (store *stubStore) accountTransactions(accountID string) []Transaction {
	store.mu.Lock()
	defer store.mu.Unlock()
	var matched []Transaction
	for _, transaction := range store.transactions {
		if transaction.AccountID == accountID {
			matched = append(matched, transaction)
		}
	}
	return matched
}

func (store *stubStore) mustHold(test *testing.T, holdID string) Hold {
	test.Helper()
	store.mu.Lock()
	defer store.mu.Unlock()
	hold, ok := store.holds[holdID]
	if !ok {
		test.Fatalf("hold %s not found in stub store", holdID)
	}
	return hold
}

// failingStore returns a store-unavailable error from every call.
type failingStore struct{}

func (failingStore) WithTx(context.Context, func(ctx context.Context, txStore Store) error) error {
	return WrapError("stub", "tx", "begin", ErrStoreUnavailable)
}

func (failingStore) GetOrCreateAccountID(context.Context, UserID, CreditType) (string, error) {
	return "", WrapError("stub", "account", "get_or_create", ErrStoreUnavailable)
}

func (failingStore) LockAccount(context.Context, string) error {
	return WrapError("stub", "account", "lock", ErrStoreUnavailable)
}

func (failingStore) AppendTransaction(context.Context, Transaction) (string, error) {
	return "", WrapError("stub", "transaction", "append", ErrStoreUnavailable)
}

func (failingStore) SumTransactions(context.Context, string) (Credits, error) {
	return 0, WrapError("stub", "transaction", "sum", ErrStoreUnavailable)
}

func (failingStore) SumActiveHolds(context.Context, string, int64) (Credits, error) {
	return 0, WrapError("stub", "hold", "sum_active", ErrStoreUnavailable)
}

func (failingStore) CreateHold(context.Context, Hold) (string, error) {
	return "", WrapError("stub", "hold", "create", ErrStoreUnavailable)
}

func (failingStore) GetHold(context.Context, string) (Hold, error) {
	return Hold{}, WrapError("stub", "hold", "get", ErrStoreUnavailable)
}

func (failingStore) UpdateHoldStatus(context.Context, string, HoldStatus, HoldStatus, int64) error {
	return WrapError("stub", "hold", "update_status", ErrStoreUnavailable)
}

func (failingStore) ListHolds(context.Context, string, *HoldStatus, int, int) ([]Hold, int64, error) {
	return nil, 0, WrapError("stub", "hold", "list", ErrStoreUnavailable)
}

func (failingStore) ListExpiredHoldIDs(context.Context, int64, int) ([]string, error) {
	return nil, WrapError("stub", "hold", "list_expired", ErrStoreUnavailable)
}

func (failingStore) ListTransactions(context.Context, string, int64, int) ([]Transaction, error) {
	return nil, WrapError("stub", "transaction", "list", ErrStoreUnavailable)
}

// fakeClock is a settable clock for driving expiry in tests.
type fakeClock struct {
	mu  sync.Mutex
	now int64
}

func newFakeClock(now int64) *fakeClock {
	return &fakeClock{now: now}
}

func (clock *fakeClock) Now() int64 {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	return clock.now
}

func (clock *fakeClock) Advance(seconds int64) {
	clock.mu.Lock()
	defer clock.mu.Unlock()
	clock.now += seconds
}

func mustNewService(test *testing.T, store Store, clock *fakeClock, options ...ServiceOption) *Service {
	test.Helper()
	service, err := NewService(store, clock.Now, options...)
	if err != nil {
		test.Fatalf("new service: %v", err)
	}
	return service
}

func mustUserID(test *testing.T, raw string) UserID {
	test.Helper()
	userID, err := NewUserID(raw)
	if err != nil {
		test.Fatalf("user id %q: %v", raw, err)
	}
	return userID
}

func mustReferenceID(test *testing.T, raw string) ReferenceID {
	test.Helper()
	referenceID, err := NewReferenceID(raw)
	if err != nil {
		test.Fatalf("reference id %q: %v", raw, err)
	}
	return referenceID
}

func mustHoldID(test *testing.T, raw string) HoldID {
	test.Helper()
	holdID, err := NewHoldID(raw)
	if err != nil {
		test.Fatalf("hold id %q: %v", raw, err)
	}
	return holdID
}

func mustMetadata(test *testing.T, raw string) MetadataJSON {
	test.Helper()
	metadata, err := NewMetadataJSON(raw)
	if err != nil {
		test.Fatalf("metadata %q: %v", raw, err)
	}
	return metadata
}

func mustAmount(test *testing.T, raw int64) Credits {
	test.Helper()
	amount, err := NewCreditAmount(raw)
	if err != nil {
		test.Fatalf("amount %d: %v", raw, err)
	}
	return amount
}

func mustGrant(test *testing.T, service *Service, userID UserID, creditType CreditType, amount int64) {
	test.Helper()
	if _, err := service.Grant(context.Background(), userID, creditType, mustAmount(test, amount), SourceMonthlyAllocation, "seed", "", mustMetadata(test, "")); err != nil {
		test.Fatalf("grant %d: %v", amount, err)
	}
}

func int64Ptr(value int64) *int64 {
	return &value
}
