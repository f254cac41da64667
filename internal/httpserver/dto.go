package httpserver

import "github.com/leadpilot/creditledger/pkg/ledger"

type placeHoldRequest struct {
	UserID      string `json:"user_id"`
	CreditType  string `json:"credit_type"`
	Amount      int64  `json:"amount"`
	ReferenceID string `json:"reference_id"`
	TTLMinutes  int    `json:"ttl_minutes"`
}

type convertRequest struct {
	ActualAmount *int64 `json:"actual_amount"`
	Description  string `json:"description"`
	Metadata     string `json:"metadata"`
}

type releaseRequest struct {
	Reason string `json:"reason"`
}

type grantRequest struct {
	UserID      string `json:"user_id"`
	CreditType  string `json:"credit_type"`
	Amount      int64  `json:"amount"`
	Source      string `json:"source"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id"`
	Metadata    string `json:"metadata"`
}

type balancePayload struct {
	Total     int64 `json:"total"`
	Held      int64 `json:"held"`
	Available int64 `json:"available"`
}

type holdPayload struct {
	HoldID            string `json:"hold_id"`
	Amount            int64  `json:"amount"`
	ReferenceID       string `json:"reference_id"`
	Status            string `json:"status"`
	ExpiresAtUnixUTC  int64  `json:"expires_at_unix_utc"`
	CreatedAtUnixUTC  int64  `json:"created_at_unix_utc"`
	ResolvedAtUnixUTC int64  `json:"resolved_at_unix_utc,omitempty"`
}

type holdPagePayload struct {
	Holds      []holdPayload `json:"holds"`
	TotalCount int64         `json:"total_count"`
	HasMore    bool          `json:"has_more"`
}

type settlementPayload struct {
	TransactionID       string `json:"transaction_id"`
	RefundTransactionID string `json:"refund_transaction_id,omitempty"`
	AmountDeducted      int64  `json:"amount_deducted"`
	AmountRefunded      int64  `json:"amount_refunded"`
}

type grantPayload struct {
	TransactionID string `json:"transaction_id"`
}

type transactionPayload struct {
	TransactionID    string `json:"transaction_id"`
	Source           string `json:"source"`
	Amount           int64  `json:"amount"`
	ReferenceID      string `json:"reference_id,omitempty"`
	Description      string `json:"description,omitempty"`
	Metadata         string `json:"metadata,omitempty"`
	CreatedAtUnixUTC int64  `json:"created_at_unix_utc"`
}

func toHoldPayload(hold ledger.Hold) holdPayload {
	return holdPayload{
		HoldID:            hold.HoldID,
		Amount:            hold.Amount.Int64(),
		ReferenceID:       hold.ReferenceID,
		Status:            hold.Status.String(),
		ExpiresAtUnixUTC:  hold.ExpiresAtUnixUTC,
		CreatedAtUnixUTC:  hold.CreatedAtUnixUTC,
		ResolvedAtUnixUTC: hold.ResolvedAtUnixUTC,
	}
}

func toTransactionPayload(transaction ledger.Transaction) transactionPayload {
	return transactionPayload{
		TransactionID:    transaction.TransactionID,
		Source:           transaction.Source.String(),
		Amount:           transaction.Amount.Int64(),
		ReferenceID:      transaction.ReferenceID,
		Description:      transaction.Description,
		Metadata:         transaction.MetadataJSON,
		CreatedAtUnixUTC: transaction.CreatedAtUnixUTC,
	}
}
