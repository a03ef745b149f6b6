package service

import (
	"context"
	"errors"
	"time"

	"github.com/sokopay/ms-go-mpesa/app/daraja"
	"github.com/sokopay/ms-go-mpesa/app/entity"
)

// HandleCallback processes one inbound result callback delivery. Every
// delivery is recorded in the callback audit table, including malformed
// payloads and duplicates. The returned error describes the processing
// outcome for logging; the HTTP layer still acknowledges with 200 so the
// upstream stops retrying.
func (s *PaymentService) HandleCallback(ctx context.Context, payload []byte) (*entity.Transaction, error) {
	now := time.Now().UTC()

	result, err := daraja.ParseCallback(payload)
	if err != nil {
		s.logger.WithError(err).Warn("rejected malformed callback payload")
		reason := err.Error()
		s.recordCallback(ctx, &entity.MpesaCallback{
			PayloadJSON: string(payload),
			Status:      entity.CallbackStatusRejected,
			Error:       &reason,
			CreatedAt:   now,
		})
		return nil, errors.Join(ErrCallbackRejected, err)
	}

	txn, err := s.transactionRepo.FindByCheckoutRequestID(ctx, result.CheckoutRequestID)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		s.logger.WithField("checkout_request_id", result.CheckoutRequestID).
			Warn("callback for unknown transaction")
		s.recordCallback(ctx, &entity.MpesaCallback{
			CheckoutRequestID: result.CheckoutRequestID,
			PayloadJSON:       string(payload),
			Status:            entity.CallbackStatusUnmatched,
			CreatedAt:         now,
		})
		return nil, ErrTransactionNotFound
	}

	if txn.Terminal() {
		// Duplicate delivery: record it, leave the transaction untouched.
		s.recordCallback(ctx, &entity.MpesaCallback{
			TransactionID:     &txn.ID,
			CheckoutRequestID: result.CheckoutRequestID,
			PayloadJSON:       string(payload),
			Status:            entity.CallbackStatusProcessed,
			CreatedAt:         now,
		})
		return txn, nil
	}

	oldStatus := txn.Status
	s.applyCallbackResult(txn, result, now)

	if err := s.transactionRepo.Update(ctx, txn); err != nil {
		return nil, err
	}

	payloadJSON := string(payload)
	_ = s.eventRepo.Create(ctx, &entity.TransactionEvent{
		TransactionID: txn.ID,
		EventType:     "callback_received",
		OldStatus:     &oldStatus,
		NewStatus:     txn.Status,
		PayloadJSON:   &payloadJSON,
		CreatedAt:     now,
	})
	s.recordCallback(ctx, &entity.MpesaCallback{
		TransactionID:     &txn.ID,
		CheckoutRequestID: result.CheckoutRequestID,
		PayloadJSON:       payloadJSON,
		Status:            entity.CallbackStatusProcessed,
		CreatedAt:         now,
	})

	s.logger.WithFields(map[string]any{
		"transaction_id":      txn.ID,
		"checkout_request_id": result.CheckoutRequestID,
		"result_code":         result.ResultCode,
		"status":              entity.TransactionStatusLabel(txn.Status),
	}).Info("callback processed")

	return txn, nil
}

func (s *PaymentService) applyCallbackResult(txn *entity.Transaction, result *daraja.CallbackResult, now time.Time) {
	resultCode := int32(result.ResultCode)
	txn.ResultCode = &resultCode
	desc := result.ResultDescription
	txn.ResultDescription = &desc
	txn.UpdatedAt = now

	if result.Succeeded() {
		txn.Status = entity.TransactionStatusPaid
		txn.ReceiptNumber = result.ReceiptNumber
		txn.PaidAmount = result.Amount
		txn.PayerPhone = result.PayerPhone
		txn.TransactionDate = result.TransactionDate
		return
	}

	txn.Status = entity.TransactionStatusFailed
	reason := daraja.FailureReason(result.ResultCode)
	txn.FailureReason = &reason
}

func (s *PaymentService) recordCallback(ctx context.Context, callback *entity.MpesaCallback) {
	if err := s.callbackRepo.Create(ctx, callback); err != nil {
		s.logger.WithError(err).Error("failed to record callback audit row")
	}
}
