package controller

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sokopay/ms-go-mpesa/app/daraja"
	"github.com/sokopay/ms-go-mpesa/app/entity"
	"github.com/sokopay/ms-go-mpesa/app/repository"
	"github.com/sokopay/ms-go-mpesa/app/service"
	"github.com/sokopay/ms-go-mpesa/app/types"
	"github.com/sokopay/ms-go-mpesa/config"
)

type controllerTransactionRepo struct {
	createFn                  func(ctx context.Context, txn *entity.Transaction) error
	updateFn                  func(ctx context.Context, txn *entity.Transaction) error
	findByIDFn                func(ctx context.Context, id uint64) (*entity.Transaction, error)
	findByRequestIDFn         func(ctx context.Context, requestID string) (*entity.Transaction, error)
	findByCheckoutRequestIDFn func(ctx context.Context, checkoutRequestID string) (*entity.Transaction, error)
	listFn                    func(ctx context.Context, filter repository.TransactionFilter) ([]*entity.Transaction, error)
	listForReconcileFn        func(ctx context.Context, before time.Time, limit int32) ([]*entity.Transaction, error)
	listExpiredPendingFn      func(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error)
}

func (r *controllerTransactionRepo) Create(ctx context.Context, txn *entity.Transaction) error {
	if r.createFn != nil {
		return r.createFn(ctx, txn)
	}
	return nil
}

func (r *controllerTransactionRepo) Update(ctx context.Context, txn *entity.Transaction) error {
	if r.updateFn != nil {
		return r.updateFn(ctx, txn)
	}
	return nil
}

func (r *controllerTransactionRepo) FindByID(ctx context.Context, id uint64) (*entity.Transaction, error) {
	if r.findByIDFn != nil {
		return r.findByIDFn(ctx, id)
	}
	return nil, nil
}

func (r *controllerTransactionRepo) FindByRequestID(ctx context.Context, requestID string) (*entity.Transaction, error) {
	if r.findByRequestIDFn != nil {
		return r.findByRequestIDFn(ctx, requestID)
	}
	return nil, nil
}

func (r *controllerTransactionRepo) FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*entity.Transaction, error) {
	if r.findByCheckoutRequestIDFn != nil {
		return r.findByCheckoutRequestIDFn(ctx, checkoutRequestID)
	}
	return nil, nil
}

func (r *controllerTransactionRepo) List(ctx context.Context, filter repository.TransactionFilter) ([]*entity.Transaction, error) {
	if r.listFn != nil {
		return r.listFn(ctx, filter)
	}
	return []*entity.Transaction{}, nil
}

func (r *controllerTransactionRepo) ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Transaction, error) {
	if r.listForReconcileFn != nil {
		return r.listForReconcileFn(ctx, before, limit)
	}
	return []*entity.Transaction{}, nil
}

func (r *controllerTransactionRepo) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error) {
	if r.listExpiredPendingFn != nil {
		return r.listExpiredPendingFn(ctx, cutoff, limit)
	}
	return []*entity.Transaction{}, nil
}

type controllerEventRepo struct{}

func (r *controllerEventRepo) Create(context.Context, *entity.TransactionEvent) error {
	return nil
}

type controllerCallbackRepo struct{}

func (r *controllerCallbackRepo) Create(context.Context, *entity.MpesaCallback) error {
	return nil
}

type controllerGateway struct {
	pushResp *daraja.STKPushResponse
	pushErr  error
}

func (g *controllerGateway) BuildSTKPushRequest(phone string, amount int64, reference, description string) (*daraja.STKPushRequest, error) {
	msisdn, err := daraja.NormalizePhoneNumber(phone)
	if err != nil {
		return nil, err
	}
	return &daraja.STKPushRequest{Amount: amount, PartyA: msisdn, PhoneNumber: msisdn, AccountReference: reference, TransactionDesc: description}, nil
}

func (g *controllerGateway) STKPush(context.Context, *daraja.STKPushRequest) (*daraja.STKPushResponse, error) {
	if g.pushErr != nil {
		return nil, g.pushErr
	}
	if g.pushResp != nil {
		return g.pushResp, nil
	}
	return &daraja.STKPushResponse{
		MerchantRequestID:   "merchant-1",
		CheckoutRequestID:   "ws_CO_1",
		ResponseCode:        "0",
		ResponseDescription: "Success. Request accepted for processing",
		CustomerMessage:     "Success. Request accepted for processing",
	}, nil
}

func (g *controllerGateway) STKQuery(context.Context, string) (*daraja.STKQueryResponse, error) {
	return &daraja.STKQueryResponse{ResponseCode: "0", ResultCode: "0"}, nil
}

func newControllerForTest(repo *controllerTransactionRepo, gw *controllerGateway) *PaymentController {
	paymentService := service.NewPaymentService(
		repo,
		&controllerEventRepo{},
		&controllerCallbackRepo{},
		gw,
		config.PaymentsConfig{MaxAmount: 70000, PendingTimeout: time.Hour, ReconcileStaleAfter: time.Minute, JobBatchSize: 100},
	)
	return NewPaymentController(paymentService)
}

func TestInitiateSTKPushBadBody(t *testing.T) {
	ctrl := newControllerForTest(&controllerTransactionRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/stkpush", bytes.NewBufferString("{bad"))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	if err := ctrl.InitiateSTKPush(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInitiateSTKPushSuccess(t *testing.T) {
	repo := &controllerTransactionRepo{createFn: func(_ context.Context, txn *entity.Transaction) error {
		txn.ID = 22
		return nil
	}}
	ctrl := newControllerForTest(repo, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/stkpush", bytes.NewBufferString(`{"request_id":"req-1","phone_number":"0712345678","amount":150,"account_reference":"INV-001"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.InitiateSTKPush(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.STKPushResult
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if !payload.Accepted || payload.CheckoutRequestId != "ws_CO_1" {
		t.Fatalf("unexpected result payload: %+v", payload)
	}
	if payload.Transaction == nil || payload.Transaction.Id != 22 {
		t.Fatalf("expected transaction in payload, got %+v", payload.Transaction)
	}
}

func TestInitiateSTKPushInvalidPhone(t *testing.T) {
	ctrl := newControllerForTest(&controllerTransactionRepo{}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/stkpush", bytes.NewBufferString(`{"request_id":"req-1","phone_number":"12345","amount":150}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.InitiateSTKPush(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestInitiateSTKPushGatewayDownReturnsBadGateway(t *testing.T) {
	ctrl := newControllerForTest(&controllerTransactionRepo{}, &controllerGateway{
		pushErr: &daraja.CredentialError{Err: context.DeadlineExceeded},
	})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/stkpush", bytes.NewBufferString(`{"request_id":"req-1","phone_number":"254712345678","amount":150}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.InitiateSTKPush(ctx)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.STKPushResult
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Accepted || payload.ErrorCode != service.OutcomeCodeGatewayUnavailable {
		t.Fatalf("unexpected result payload: %+v", payload)
	}
}

func TestInitiateSTKPushUpstreamRejection(t *testing.T) {
	ctrl := newControllerForTest(&controllerTransactionRepo{}, &controllerGateway{
		pushErr: &daraja.RequestError{StatusCode: 400, Code: "400.002.02", Message: "Bad Request - Invalid Amount"},
	})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/payments/stkpush", bytes.NewBufferString(`{"request_id":"req-1","phone_number":"254712345678","amount":150}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.InitiateSTKPush(ctx)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.STKPushResult
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if payload.Accepted || payload.ErrorCode != "400.002.02" {
		t.Fatalf("unexpected result payload: %+v", payload)
	}
}

func TestGetTransactionNotFound(t *testing.T) {
	ctrl := newControllerForTest(&controllerTransactionRepo{findByIDFn: func(context.Context, uint64) (*entity.Transaction, error) { return nil, nil }}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments/9", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)
	ctx.SetParamNames("id")
	ctx.SetParamValues("9")

	_ = ctrl.GetTransaction(ctx)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListTransactionsSuccess(t *testing.T) {
	now := time.Now().UTC()
	ctrl := newControllerForTest(&controllerTransactionRepo{listFn: func(context.Context, repository.TransactionFilter) ([]*entity.Transaction, error) {
		return []*entity.Transaction{{
			ID:               1,
			RequestID:        "req-1",
			PhoneNumber:      "254712345678",
			Amount:           150,
			AccountReference: "INV-001",
			Status:           entity.TransactionStatusPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}}, nil
	}}, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/payments?limit=10&offset=0", nil)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.ListTransactions(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d body=%s", rec.Code, rec.Body.String())
	}

	var payload types.ListTransactionsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if len(payload.Transactions) != 1 || payload.Transactions[0].Status != "pending" {
		t.Fatalf("unexpected list payload: %+v", payload.Transactions)
	}
}

func TestHandleMpesaCallbackAlwaysAcknowledges(t *testing.T) {
	bodies := []string{
		`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_404","ResultCode":0,"ResultDesc":"ok"}}}`,
		`{"Body":{}}`,
		`not json at all`,
	}
	for _, body := range bodies {
		ctrl := newControllerForTest(&controllerTransactionRepo{}, &controllerGateway{})
		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/callbacks/mpesa", bytes.NewBufferString(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
		rec := httptest.NewRecorder()
		ctx := e.NewContext(req, rec)

		if err := ctrl.HandleMpesaCallback(ctx); err != nil {
			t.Fatalf("unexpected error for body %q: %v", body, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200 for body %q, got %d", body, rec.Code)
		}
		var ack types.CallbackAckResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &ack); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if ack.ResultCode != 0 || ack.ResultDesc != "Success" {
			t.Fatalf("unexpected ack payload: %+v", ack)
		}
	}
}

func TestHandleMpesaCallbackAppliesTransition(t *testing.T) {
	checkoutID := "ws_CO_1"
	var updated *entity.Transaction
	repo := &controllerTransactionRepo{
		findByCheckoutRequestIDFn: func(_ context.Context, id string) (*entity.Transaction, error) {
			if id != checkoutID {
				return nil, nil
			}
			return &entity.Transaction{ID: 1, RequestID: "req-1", Status: entity.TransactionStatusPending, CheckoutRequestID: &checkoutID}, nil
		},
		updateFn: func(_ context.Context, txn *entity.Transaction) error {
			updated = txn
			return nil
		},
	}
	ctrl := newControllerForTest(repo, &controllerGateway{})
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/callbacks/mpesa", bytes.NewBufferString(`{"Body":{"stkCallback":{"MerchantRequestID":"m-1","CheckoutRequestID":"ws_CO_1","ResultCode":0,"ResultDesc":"ok","CallbackMetadata":{"Item":[{"Name":"Amount","Value":150},{"Name":"MpesaReceiptNumber","Value":"NLJ7RT61SV"}]}}}}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	ctx := e.NewContext(req, rec)

	_ = ctrl.HandleMpesaCallback(ctx)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if updated == nil || updated.Status != entity.TransactionStatusPaid {
		t.Fatalf("expected transaction updated to paid, got %+v", updated)
	}
}
