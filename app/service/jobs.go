package service

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sokopay/ms-go-mpesa/app/daraja"
	"github.com/sokopay/ms-go-mpesa/app/entity"
)

// RunReconcileBatch queries the upstream status of pending transactions
// whose callback never arrived and applies the reported outcome. Returns
// the number of transactions transitioned. Per-item failures are logged
// and skipped so one bad row cannot stall the batch.
func (s *PaymentService) RunReconcileBatch(ctx context.Context) (int, error) {
	limit := s.paymentsCfg.JobBatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	before := time.Now().UTC().Add(-s.paymentsCfg.ReconcileStaleAfter)

	stale, err := s.transactionRepo.ListForReconcile(ctx, before, limit)
	if err != nil {
		return 0, err
	}

	reconciled := 0
	for _, txn := range stale {
		if err := s.reconcileTransaction(ctx, txn); err != nil {
			s.logger.WithError(err).WithField("transaction_id", txn.ID).
				Warn("reconcile skipped")
			continue
		}
		reconciled++
	}
	return reconciled, nil
}

func (s *PaymentService) reconcileTransaction(ctx context.Context, txn *entity.Transaction) error {
	if txn.CheckoutRequestID == nil {
		return errors.New("transaction has no checkout request id")
	}

	resp, err := s.gateway.STKQuery(ctx, *txn.CheckoutRequestID)
	if err != nil {
		var reqErr *daraja.RequestError
		if errors.As(err, &reqErr) {
			// The query endpoint rejects lookups for requests that are
			// still being processed; leave those pending for the next run.
			return errors.New("still processing upstream: " + reqErr.Message)
		}
		return err
	}

	resultCode, err := strconv.Atoi(resp.ResultCode)
	if err != nil {
		return errors.New("unparseable result code " + strconv.Quote(resp.ResultCode))
	}

	now := time.Now().UTC()
	oldStatus := txn.Status
	resultCode32 := int32(resultCode)
	txn.ResultCode = &resultCode32
	desc := resp.ResultDesc
	txn.ResultDescription = &desc
	txn.UpdatedAt = now

	if resultCode == 0 {
		// The query endpoint reports the outcome but carries no payment
		// metadata, so receipt details stay empty until a callback lands.
		txn.Status = entity.TransactionStatusPaid
	} else {
		txn.Status = entity.TransactionStatusFailed
		reason := daraja.FailureReason(resultCode)
		txn.FailureReason = &reason
	}

	if err := s.transactionRepo.Update(ctx, txn); err != nil {
		return err
	}
	_ = s.eventRepo.Create(ctx, &entity.TransactionEvent{
		TransactionID: txn.ID,
		EventType:     "reconciled",
		OldStatus:     &oldStatus,
		NewStatus:     txn.Status,
		CreatedAt:     now,
	})

	s.logger.WithFields(map[string]any{
		"transaction_id": txn.ID,
		"result_code":    resultCode,
		"status":         entity.TransactionStatusLabel(txn.Status),
	}).Info("transaction reconciled")
	return nil
}

// RunExpirePendingBatch marks pending transactions past the configured
// timeout as expired. Returns the number of transactions expired.
func (s *PaymentService) RunExpirePendingBatch(ctx context.Context) (int, error) {
	limit := s.paymentsCfg.JobBatchSize
	if limit <= 0 {
		limit = defaultBatchSize
	}
	cutoff := time.Now().UTC().Add(-s.paymentsCfg.PendingTimeout)

	pending, err := s.transactionRepo.ListExpiredPending(ctx, cutoff, limit)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, txn := range pending {
		now := time.Now().UTC()
		oldStatus := txn.Status
		txn.Status = entity.TransactionStatusExpired
		txn.UpdatedAt = now

		if err := s.transactionRepo.Update(ctx, txn); err != nil {
			s.logger.WithError(err).WithField("transaction_id", txn.ID).
				Warn("expire skipped")
			continue
		}
		_ = s.eventRepo.Create(ctx, &entity.TransactionEvent{
			TransactionID: txn.ID,
			EventType:     "expired",
			OldStatus:     &oldStatus,
			NewStatus:     txn.Status,
			CreatedAt:     now,
		})
		expired++
	}
	return expired, nil
}
