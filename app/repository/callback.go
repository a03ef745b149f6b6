package repository

import (
	"context"

	"github.com/sokopay/ms-go-mpesa/app/entity"
)

type CallbackRepository struct {
	db DBTX
}

func NewCallbackRepository(db DBTX) *CallbackRepository {
	return &CallbackRepository{db: db}
}

func (r *CallbackRepository) Create(ctx context.Context, callback *entity.MpesaCallback) error {
	query := `
		INSERT INTO mpesa_callbacks (
			transaction_id, checkout_request_id, payload_json, status, error, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableUint64Value(callback.TransactionID),
		callback.CheckoutRequestID,
		callback.PayloadJSON,
		callback.Status,
		nullableStringValue(callback.Error),
		callback.CreatedAt,
	)
	if err != nil {
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	callback.ID = uint64(id)
	return nil
}
