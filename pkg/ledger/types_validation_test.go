package ledger

import (
	"errors"
	"testing"
)

func TestNewCreditAmountRequiresPositiveValue(test *testing.T) {
	test.Parallel()
	if _, err := NewCreditAmount(1); err != nil {
		test.Fatalf("amount 1: %v", err)
	}
	for _, raw := range []int64{0, -1, -100} {
		if _, err := NewCreditAmount(raw); !errors.Is(err, ErrInvalidAmount) {
			test.Fatalf("amount %d: expected ErrInvalidAmount, got %v", raw, err)
		}
	}
}

func TestNewUserIDTrimsAndRejectsEmpty(test *testing.T) {
	test.Parallel()
	userID, err := NewUserID("  user-7  ")
	if err != nil {
		test.Fatalf("user id: %v", err)
	}
	if userID.String() != "user-7" {
		test.Fatalf("expected trimmed id, got %q", userID.String())
	}
	for _, raw := range []string{"", "   "} {
		if _, err := NewUserID(raw); !errors.Is(err, ErrInvalidUserID) {
			test.Fatalf("user id %q: expected ErrInvalidUserID, got %v", raw, err)
		}
	}
}

func TestNewHoldIDRejectsEmpty(test *testing.T) {
	test.Parallel()
	if _, err := NewHoldID(" "); !errors.Is(err, ErrInvalidHoldID) {
		test.Fatalf("expected ErrInvalidHoldID, got %v", err)
	}
}

func TestNewReferenceIDRejectsEmpty(test *testing.T) {
	test.Parallel()
	if _, err := NewReferenceID(""); !errors.Is(err, ErrInvalidReferenceID) {
		test.Fatalf("expected ErrInvalidReferenceID, got %v", err)
	}
}

func TestNewMetadataJSONValidation(test *testing.T) {
	test.Parallel()
	metadata, err := NewMetadataJSON("")
	if err != nil {
		test.Fatalf("empty metadata: %v", err)
	}
	if metadata.String() != "{}" {
		test.Fatalf("expected empty object default, got %q", metadata.String())
	}
	if _, err := NewMetadataJSON(`{"key":"value"}`); err != nil {
		test.Fatalf("valid metadata: %v", err)
	}
	if _, err := NewMetadataJSON("{broken"); !errors.Is(err, ErrInvalidMetadataJSON) {
		test.Fatalf("expected ErrInvalidMetadataJSON, got %v", err)
	}
}
