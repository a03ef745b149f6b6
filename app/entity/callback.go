package entity

import "time"

const (
	CallbackStatusProcessed int32 = 10
	CallbackStatusRejected  int32 = 20
	CallbackStatusUnmatched int32 = 30
)

// MpesaCallback is the raw audit record of one inbound callback delivery,
// including duplicates and payloads that failed to parse.
type MpesaCallback struct {
	ID uint64

	TransactionID     *uint64
	CheckoutRequestID string
	PayloadJSON       string
	Status            int32
	Error             *string

	CreatedAt time.Time
}
