package types

import (
	"errors"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

type STKPushRequest struct {
	RequestId        string `json:"request_id"`
	PhoneNumber      string `json:"phone_number"`
	Amount           int64  `json:"amount"`
	AccountReference string `json:"account_reference"`
	Description      string `json:"description"`
}

func NewSTKPushRequestFromContext(ctx echo.Context) (*STKPushRequest, error) {
	var body STKPushRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestId = strings.TrimSpace(body.RequestId)
	if body.RequestId == "" {
		body.RequestId = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	if body.RequestId == "" {
		body.RequestId = uuid.NewString()
	}
	body.PhoneNumber = strings.TrimSpace(body.PhoneNumber)
	body.AccountReference = strings.TrimSpace(body.AccountReference)
	body.Description = strings.TrimSpace(body.Description)

	return &body, nil
}

// Validate covers only the cheap transport-level checks; MSISDN
// normalization and the amount cap are enforced by the gateway builder.
func (r *STKPushRequest) Validate() error {
	if strings.TrimSpace(r.GetPhoneNumber()) == "" {
		return errors.New("phone_number is required")
	}
	if r.GetAmount() <= 0 {
		return errors.New("amount must be > 0")
	}
	return nil
}

func (r *STKPushRequest) GetRequestId() string {
	if r == nil {
		return ""
	}
	return r.RequestId
}

func (r *STKPushRequest) GetPhoneNumber() string {
	if r == nil {
		return ""
	}
	return r.PhoneNumber
}

func (r *STKPushRequest) GetAmount() int64 {
	if r == nil {
		return 0
	}
	return r.Amount
}

func (r *STKPushRequest) GetAccountReference() string {
	if r == nil {
		return ""
	}
	return r.AccountReference
}

func (r *STKPushRequest) GetDescription() string {
	if r == nil {
		return ""
	}
	return r.Description
}

type GetTransactionRequest struct {
	Id uint64
}

func NewGetTransactionRequestFromContext(ctx echo.Context) (*GetTransactionRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetTransactionRequest{Id: id}, nil
}

func (r *GetTransactionRequest) Validate() error {
	if r.GetId() == 0 {
		return errors.New("invalid transaction id")
	}
	return nil
}

func (r *GetTransactionRequest) GetId() uint64 {
	if r == nil {
		return 0
	}
	return r.Id
}

type ListTransactionsRequest struct {
	PhoneNumber      string
	AccountReference string
	HasStatus        bool
	Status           int32
	Limit            int32
	Offset           int32
}

func (r *ListTransactionsRequest) GetPhoneNumber() string {
	if r == nil {
		return ""
	}
	return r.PhoneNumber
}

func (r *ListTransactionsRequest) GetAccountReference() string {
	if r == nil {
		return ""
	}
	return r.AccountReference
}

func (r *ListTransactionsRequest) GetHasStatus() bool {
	if r == nil {
		return false
	}
	return r.HasStatus
}

func (r *ListTransactionsRequest) GetStatus() int32 {
	if r == nil {
		return 0
	}
	return r.Status
}

func (r *ListTransactionsRequest) GetLimit() int32 {
	if r == nil {
		return 0
	}
	return r.Limit
}

func (r *ListTransactionsRequest) GetOffset() int32 {
	if r == nil {
		return 0
	}
	return r.Offset
}

func NewListTransactionsRequestFromContext(ctx echo.Context) (*ListTransactionsRequest, error) {
	req := &ListTransactionsRequest{
		PhoneNumber:      strings.TrimSpace(ctx.QueryParam("phone_number")),
		AccountReference: strings.TrimSpace(ctx.QueryParam("account_reference")),
		Limit:            100,
		Offset:           0,
	}

	if statusRaw := strings.TrimSpace(ctx.QueryParam("status")); statusRaw != "" {
		status, err := strconv.ParseInt(statusRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.HasStatus = true
		req.Status = int32(status)
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListTransactionsRequest) Validate() error {
	if r.Limit == 0 {
		r.Limit = 100
	}
	if r.Limit <= 0 || r.Limit > 500 {
		return errors.New("limit must be between 1 and 500")
	}
	if r.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	return nil
}

type Transaction struct {
	Id                uint64   `json:"id"`
	RequestId         string   `json:"request_id"`
	PhoneNumber       string   `json:"phone_number"`
	Amount            int64    `json:"amount"`
	AccountReference  string   `json:"account_reference"`
	Description       string   `json:"description"`
	MerchantRequestId string   `json:"merchant_request_id,omitempty"`
	CheckoutRequestId string   `json:"checkout_request_id,omitempty"`
	Status            string   `json:"status"`
	ResultCode        *int32   `json:"result_code,omitempty"`
	ResultDescription string   `json:"result_description,omitempty"`
	FailureReason     string   `json:"failure_reason,omitempty"`
	ReceiptNumber     string   `json:"receipt_number,omitempty"`
	PaidAmount        *float64 `json:"paid_amount,omitempty"`
	PayerPhone        string   `json:"payer_phone,omitempty"`
	TransactionDate   string   `json:"transaction_date,omitempty"`
	CreatedAt         string   `json:"created_at"`
	UpdatedAt         string   `json:"updated_at"`
}

type STKPushResult struct {
	Accepted          bool         `json:"accepted"`
	MerchantRequestId string       `json:"merchant_request_id,omitempty"`
	CheckoutRequestId string       `json:"checkout_request_id,omitempty"`
	CustomerMessage   string       `json:"customer_message,omitempty"`
	ErrorCode         string       `json:"error_code,omitempty"`
	ErrorMessage      string       `json:"error_message,omitempty"`
	Transaction       *Transaction `json:"transaction,omitempty"`
}

type TransactionEnvelopeResponse struct {
	Transaction *Transaction `json:"transaction"`
}

type ListTransactionsResponse struct {
	Transactions []*Transaction `json:"transactions"`
}

// CallbackAckResponse is the body the upstream provider expects from the
// callback endpoint. Anything other than ResultCode 0 with HTTP 200 makes
// the provider retry delivery.
type CallbackAckResponse struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
