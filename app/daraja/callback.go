package daraja

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Failure categories for non-zero callback result codes, from the Daraja
// documentation.
const (
	ReasonInsufficientFunds  = "insufficient_funds"
	ReasonSubscriberLocked   = "subscriber_locked"
	ReasonTransactionExpired = "transaction_expired"
	ReasonSystemError        = "system_error"
	ReasonCancelledByUser    = "cancelled_by_user"
	ReasonTimeout            = "timeout"
	ReasonWrongPIN           = "wrong_pin"
	ReasonFailed             = "failed"
)

type callbackEnvelope struct {
	Body struct {
		STKCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string            `json:"MerchantRequestID"`
	CheckoutRequestID string            `json:"CheckoutRequestID"`
	ResultCode        int               `json:"ResultCode"`
	ResultDesc        string            `json:"ResultDesc"`
	CallbackMetadata  *callbackMetadata `json:"CallbackMetadata"`
}

type callbackMetadata struct {
	Item []callbackMetadataItem `json:"Item"`
}

type callbackMetadataItem struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

// CallbackResult is the structured outcome of one asynchronous result
// callback. Optional fields stay nil when the upstream payload omits them.
type CallbackResult struct {
	MerchantRequestID string
	CheckoutRequestID string
	ResultCode        int
	ResultDescription string

	Amount          *float64
	ReceiptNumber   *string
	PayerPhone      *string
	TransactionDate *string
}

// Succeeded reports whether the payment completed; result code 0 is the
// only success signal.
func (r *CallbackResult) Succeeded() bool {
	return r.ResultCode == 0
}

// ParseCallback decodes an inbound callback payload into a CallbackResult.
// Parsing is pure and idempotent; duplicate-callback handling belongs to
// whoever stores the outcome. Payloads without the Body.stkCallback
// envelope fail with ErrMalformedCallback.
func ParseCallback(payload []byte) (*CallbackResult, error) {
	var envelope callbackEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedCallback, err)
	}

	cb := envelope.Body.STKCallback
	if cb == nil {
		return nil, ErrMalformedCallback
	}
	if strings.TrimSpace(cb.CheckoutRequestID) == "" && strings.TrimSpace(cb.MerchantRequestID) == "" {
		return nil, ErrMalformedCallback
	}

	result := &CallbackResult{
		MerchantRequestID: cb.MerchantRequestID,
		CheckoutRequestID: cb.CheckoutRequestID,
		ResultCode:        cb.ResultCode,
		ResultDescription: cb.ResultDesc,
	}

	if cb.ResultCode == 0 && cb.CallbackMetadata != nil {
		for _, item := range cb.CallbackMetadata.Item {
			switch item.Name {
			case "Amount":
				if v, ok := itemFloat(item.Value); ok {
					result.Amount = &v
				}
			case "MpesaReceiptNumber":
				if v, ok := itemString(item.Value); ok {
					result.ReceiptNumber = &v
				}
			case "PhoneNumber":
				if v, ok := itemString(item.Value); ok {
					result.PayerPhone = &v
				}
			case "TransactionDate":
				if v, ok := itemString(item.Value); ok {
					result.TransactionDate = &v
				}
			}
		}
	}

	return result, nil
}

// FailureReason maps a non-zero result code to its failure category.
func FailureReason(resultCode int) string {
	switch resultCode {
	case 0:
		return ""
	case 1:
		return ReasonInsufficientFunds
	case 1001:
		return ReasonSubscriberLocked
	case 1019:
		return ReasonTransactionExpired
	case 1025, 9999:
		return ReasonSystemError
	case 1032:
		return ReasonCancelledByUser
	case 1037:
		return ReasonTimeout
	case 2001:
		return ReasonWrongPIN
	default:
		return ReasonFailed
	}
}

// Metadata values arrive either as JSON strings or as JSON numbers (phone
// numbers and dates come through as numbers).
func itemString(value any) (string, bool) {
	switch v := value.(type) {
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	default:
		return "", false
	}
}

func itemFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	default:
		return 0, false
	}
}
