package entity

import "time"

// TransactionEvent is an append-only record of one status transition.
type TransactionEvent struct {
	ID uint64

	TransactionID uint64
	EventType     string
	OldStatus     *int32
	NewStatus     int32
	PayloadJSON   *string

	CreatedAt time.Time
}
