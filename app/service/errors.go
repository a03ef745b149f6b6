package service

import "errors"

var (
	ErrInvalidRequest      = errors.New("invalid request")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrCallbackRejected    = errors.New("callback rejected")
)

// OutcomeCodeGatewayUnavailable marks initiation attempts that never
// reached a Daraja verdict: credential failures and transport errors.
const OutcomeCodeGatewayUnavailable = "GatewayUnavailable"
