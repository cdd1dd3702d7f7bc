package domain

import "time"

// TransactionStatus mirrors the gateway's verdict on a charge.
type TransactionStatus string

const (
	TransactionPaid    TransactionStatus = "paid"
	TransactionFailed  TransactionStatus = "failed"
	TransactionPending TransactionStatus = "pending"
)

// Transaction is the persisted record of a payment attempt.
type Transaction struct {
	ID          string            `json:"id"`
	UserID      string            `json:"user_id"`
	Tier        string            `json:"tier,omitempty"`
	Amount      string            `json:"amount"`
	AmountMinor int64             `json:"amount_minor"`
	Currency    string            `json:"currency"`
	Description string            `json:"description,omitempty"`
	Status      TransactionStatus `json:"status"`
	GatewayID   string            `json:"gateway_id,omitempty"`
	FailureMsg  string            `json:"failure_message,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
}
