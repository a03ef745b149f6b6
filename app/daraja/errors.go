package daraja

import (
	"errors"
	"fmt"
)

// ErrMalformedCallback marks an inbound callback payload that does not
// carry the Body.stkCallback envelope.
var ErrMalformedCallback = errors.New("callback payload missing stkCallback envelope")

// ValidationError rejects caller input before any network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Field + " " + e.Reason
}

// CredentialError wraps a failure to obtain a bearer credential from the
// OAuth endpoint. The consumer key and secret never appear in the message.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("credential fetch failed: %v", e.Err)
}

func (e *CredentialError) Unwrap() error {
	return e.Err
}

// RequestError is returned when the payment endpoint was reachable but
// declined the request. Code and Message are passed through verbatim from
// the upstream error body.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("daraja request rejected: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
}
