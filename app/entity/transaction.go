package entity

import "time"

const (
	TransactionStatusPending  int32 = 1
	TransactionStatusPaid     int32 = 10
	TransactionStatusFailed   int32 = 20
	TransactionStatusExpired  int32 = 30
	TransactionStatusRejected int32 = 40
)

// Transaction is one initiated STK push and its eventual outcome.
type Transaction struct {
	ID uint64

	RequestID        string
	PhoneNumber      string
	Amount           int64
	AccountReference string
	Description      string

	MerchantRequestID *string
	CheckoutRequestID *string

	Status            int32
	ResultCode        *int32
	ResultDescription *string
	FailureReason     *string

	ReceiptNumber   *string
	PaidAmount      *float64
	PayerPhone      *string
	TransactionDate *string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether no further status transitions are expected.
func (t *Transaction) Terminal() bool {
	switch t.Status {
	case TransactionStatusPaid, TransactionStatusFailed, TransactionStatusExpired, TransactionStatusRejected:
		return true
	default:
		return false
	}
}

func TransactionStatusLabel(status int32) string {
	switch status {
	case TransactionStatusPending:
		return "pending"
	case TransactionStatusPaid:
		return "paid"
	case TransactionStatusFailed:
		return "failed"
	case TransactionStatusExpired:
		return "expired"
	case TransactionStatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}
