package daraja

import (
	"encoding/base64"
	"fmt"
	"strings"
	"time"
)

const (
	transactionType = "CustomerPayBillOnline"
	timestampLayout = "20060102150405"
)

// STKPushRequest is the upstream initiation payload. Field names are part
// of the Daraja contract and must not change.
type STKPushRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type STKPushResponse struct {
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	CustomerMessage     string `json:"CustomerMessage"`
}

// Accepted reports whether Daraja acknowledged the push request.
func (r *STKPushResponse) Accepted() bool {
	return r != nil && r.ResponseCode == "0"
}

type STKQueryRequest struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type STKQueryResponse struct {
	ResponseCode        string `json:"ResponseCode"`
	ResponseDescription string `json:"ResponseDescription"`
	MerchantRequestID   string `json:"MerchantRequestID"`
	CheckoutRequestID   string `json:"CheckoutRequestID"`
	ResultCode          string `json:"ResultCode"`
	ResultDesc          string `json:"ResultDesc"`
}

// Password derives the request signature Daraja expects: the shortcode,
// passkey and timestamp concatenated and base64 encoded. The formula is an
// upstream contract, not a design choice.
func Password(shortcode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortcode + passkey + timestamp))
}

// BuildSTKPushRequest validates and assembles one initiation payload.
// All checks run before any network call is attempted.
func (c *Client) BuildSTKPushRequest(phone string, amount int64, reference, description string) (*STKPushRequest, error) {
	msisdn, err := NormalizePhoneNumber(phone)
	if err != nil {
		return nil, err
	}
	if amount < 1 {
		return nil, &ValidationError{Field: "amount", Reason: "must be at least 1"}
	}
	if c.cfg.MaxAmount > 0 && amount > c.cfg.MaxAmount {
		return nil, &ValidationError{Field: "amount", Reason: fmt.Sprintf("cannot exceed %d", c.cfg.MaxAmount)}
	}
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, &ValidationError{Field: "account_reference", Reason: "is required"}
	}
	if strings.TrimSpace(c.cfg.CallbackURL) == "" {
		return nil, &ValidationError{Field: "callback_url", Reason: "is required"}
	}
	description = strings.TrimSpace(description)
	if description == "" {
		description = fmt.Sprintf("Payment of KES %d", amount)
	}

	timestamp := time.Now().Format(timestampLayout)

	return &STKPushRequest{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          Password(c.cfg.ShortCode, c.cfg.Passkey, timestamp),
		Timestamp:         timestamp,
		TransactionType:   transactionType,
		Amount:            amount,
		PartyA:            msisdn,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       msisdn,
		CallBackURL:       strings.TrimSpace(c.cfg.CallbackURL),
		AccountReference:  reference,
		TransactionDesc:   description,
	}, nil
}

// NormalizePhoneNumber rewrites common Kenyan local formats to the
// canonical 254XXXXXXXXX MSISDN. Normalization happens before signature
// derivation and before any network call.
func NormalizePhoneNumber(raw string) (string, error) {
	phone := strings.TrimSpace(raw)
	phone = strings.TrimPrefix(phone, "+")
	if phone == "" {
		return "", &ValidationError{Field: "phone_number", Reason: "is required"}
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return "", &ValidationError{Field: "phone_number", Reason: "must contain only digits"}
		}
	}

	switch {
	case strings.HasPrefix(phone, "254"):
		if len(phone) != 12 {
			return "", &ValidationError{Field: "phone_number", Reason: "must be 12 digits in 254 format"}
		}
		return phone, nil
	case strings.HasPrefix(phone, "07"), strings.HasPrefix(phone, "01"):
		if len(phone) != 10 {
			return "", &ValidationError{Field: "phone_number", Reason: "must be 10 digits in 07/01 format"}
		}
		return "254" + phone[1:], nil
	case strings.HasPrefix(phone, "7"), strings.HasPrefix(phone, "1"):
		if len(phone) != 9 {
			return "", &ValidationError{Field: "phone_number", Reason: "must be 9 digits in 7/1 format"}
		}
		return "254" + phone, nil
	default:
		return "", &ValidationError{Field: "phone_number", Reason: "must start with 254, 07, 01, 7 or 1"}
	}
}
