package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sokopay/ms-go-mpesa/app/entity"
)

const paidCallbackPayload = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "merchant-1",
			"CheckoutRequestID": "ws_CO_1",
			"ResultCode": 0,
			"ResultDesc": "The service request is processed successfully.",
			"CallbackMetadata": {
				"Item": [
					{"Name": "Amount", "Value": 150.00},
					{"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
					{"Name": "TransactionDate", "Value": 20260830121530},
					{"Name": "PhoneNumber", "Value": 254712345678}
				]
			}
		}
	}
}`

const cancelledCallbackPayload = `{
	"Body": {
		"stkCallback": {
			"MerchantRequestID": "merchant-1",
			"CheckoutRequestID": "ws_CO_1",
			"ResultCode": 1032,
			"ResultDesc": "Request cancelled by user"
		}
	}
}`

func seedPendingTransaction(repo *serviceTransactionRepo) *entity.Transaction {
	merchantID := "merchant-1"
	checkoutID := "ws_CO_1"
	now := time.Now().UTC().Add(-time.Minute)
	txn := &entity.Transaction{
		ID:                1,
		RequestID:         "req-1",
		PhoneNumber:       "254712345678",
		Amount:            150,
		AccountReference:  "INV-001",
		Status:            entity.TransactionStatusPending,
		MerchantRequestID: &merchantID,
		CheckoutRequestID: &checkoutID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	repo.transactions[1] = txn
	repo.nextID = 2
	return txn
}

func TestHandleCallbackMarksTransactionPaid(t *testing.T) {
	repo := newServiceTransactionRepo()
	seedPendingTransaction(repo)
	eventRepo := &serviceEventRepo{}
	callbackRepo := &serviceCallbackRepo{}
	svc := newPaymentServiceForTest(repo, eventRepo, callbackRepo, &fakeGateway{})

	txn, err := svc.HandleCallback(context.Background(), []byte(paidCallbackPayload))
	if err != nil {
		t.Fatalf("handle callback failed: %v", err)
	}
	if txn.Status != entity.TransactionStatusPaid {
		t.Fatalf("expected paid status, got %d", txn.Status)
	}
	if txn.ReceiptNumber == nil || *txn.ReceiptNumber != "NLJ7RT61SV" {
		t.Fatalf("expected receipt number NLJ7RT61SV, got %v", txn.ReceiptNumber)
	}
	if txn.PaidAmount == nil || *txn.PaidAmount != 150 {
		t.Fatalf("expected paid amount 150, got %v", txn.PaidAmount)
	}
	if txn.PayerPhone == nil || *txn.PayerPhone != "254712345678" {
		t.Fatalf("expected payer phone, got %v", txn.PayerPhone)
	}

	stored, _ := repo.FindByID(context.Background(), 1)
	if stored.Status != entity.TransactionStatusPaid {
		t.Fatalf("expected stored paid status, got %d", stored.Status)
	}
	if len(eventRepo.events) != 1 || eventRepo.events[0].EventType != "callback_received" {
		t.Fatalf("expected callback_received event, got %+v", eventRepo.events)
	}
	if len(callbackRepo.callbacks) != 1 || callbackRepo.callbacks[0].Status != entity.CallbackStatusProcessed {
		t.Fatalf("expected processed callback record, got %+v", callbackRepo.callbacks)
	}
}

func TestHandleCallbackFailureMapsReason(t *testing.T) {
	repo := newServiceTransactionRepo()
	seedPendingTransaction(repo)
	svc := newPaymentServiceForTest(repo, &serviceEventRepo{}, &serviceCallbackRepo{}, &fakeGateway{})

	txn, err := svc.HandleCallback(context.Background(), []byte(cancelledCallbackPayload))
	if err != nil {
		t.Fatalf("handle callback failed: %v", err)
	}
	if txn.Status != entity.TransactionStatusFailed {
		t.Fatalf("expected failed status, got %d", txn.Status)
	}
	if txn.FailureReason == nil || *txn.FailureReason != "cancelled_by_user" {
		t.Fatalf("expected cancelled_by_user reason, got %v", txn.FailureReason)
	}
	if txn.ReceiptNumber != nil {
		t.Fatalf("expected no receipt on failure, got %v", txn.ReceiptNumber)
	}
}

func TestHandleCallbackDuplicateLeavesTerminalState(t *testing.T) {
	repo := newServiceTransactionRepo()
	seedPendingTransaction(repo)
	eventRepo := &serviceEventRepo{}
	callbackRepo := &serviceCallbackRepo{}
	svc := newPaymentServiceForTest(repo, eventRepo, callbackRepo, &fakeGateway{})

	if _, err := svc.HandleCallback(context.Background(), []byte(paidCallbackPayload)); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	receipt := repo.transactions[1].ReceiptNumber

	txn, err := svc.HandleCallback(context.Background(), []byte(cancelledCallbackPayload))
	if err != nil {
		t.Fatalf("duplicate delivery failed: %v", err)
	}
	if txn.Status != entity.TransactionStatusPaid {
		t.Fatalf("expected paid status preserved on duplicate, got %d", txn.Status)
	}
	if repo.transactions[1].ReceiptNumber == nil || *repo.transactions[1].ReceiptNumber != *receipt {
		t.Fatal("expected receipt preserved on duplicate delivery")
	}
	if len(eventRepo.events) != 1 {
		t.Fatalf("expected single callback_received event, got %d", len(eventRepo.events))
	}
	if len(callbackRepo.callbacks) != 2 {
		t.Fatalf("expected both deliveries recorded, got %d", len(callbackRepo.callbacks))
	}
}

func TestHandleCallbackMalformedPayloadRecordedAndRejected(t *testing.T) {
	repo := newServiceTransactionRepo()
	callbackRepo := &serviceCallbackRepo{}
	svc := newPaymentServiceForTest(repo, &serviceEventRepo{}, callbackRepo, &fakeGateway{})

	_, err := svc.HandleCallback(context.Background(), []byte(`{"Body":{}}`))
	if !errors.Is(err, ErrCallbackRejected) {
		t.Fatalf("expected ErrCallbackRejected, got %v", err)
	}
	if len(callbackRepo.callbacks) != 1 || callbackRepo.callbacks[0].Status != entity.CallbackStatusRejected {
		t.Fatalf("expected rejected callback record, got %+v", callbackRepo.callbacks)
	}
	if callbackRepo.callbacks[0].Error == nil {
		t.Fatal("expected rejection reason recorded")
	}
}

func TestHandleCallbackUnknownCheckoutRecordedAsUnmatched(t *testing.T) {
	repo := newServiceTransactionRepo()
	callbackRepo := &serviceCallbackRepo{}
	svc := newPaymentServiceForTest(repo, &serviceEventRepo{}, callbackRepo, &fakeGateway{})

	_, err := svc.HandleCallback(context.Background(), []byte(paidCallbackPayload))
	if !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound, got %v", err)
	}
	if len(callbackRepo.callbacks) != 1 || callbackRepo.callbacks[0].Status != entity.CallbackStatusUnmatched {
		t.Fatalf("expected unmatched callback record, got %+v", callbackRepo.callbacks)
	}
	if callbackRepo.callbacks[0].CheckoutRequestID != "ws_CO_1" {
		t.Fatalf("expected checkout request id recorded, got %q", callbackRepo.callbacks[0].CheckoutRequestID)
	}
}
