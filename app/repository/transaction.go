package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/sokopay/ms-go-mpesa/app/entity"
)

var (
	ErrTransactionNotFound      = errors.New("transaction not found")
	ErrTransactionAlreadyExists = errors.New("transaction already exists")
)

type TransactionFilter struct {
	PhoneNumber      string
	AccountReference string
	HasStatus        bool
	Status           int32
	Limit            int32
	Offset           int32
}

type TransactionRepository struct {
	db DBTX
}

func NewTransactionRepository(db DBTX) *TransactionRepository {
	return &TransactionRepository{db: db}
}

const transactionColumns = `
	id, request_id, phone_number, amount, account_reference, description,
	merchant_request_id, checkout_request_id,
	status, result_code, result_description, failure_reason,
	receipt_number, paid_amount, payer_phone, transaction_date,
	created_at, updated_at
`

func (r *TransactionRepository) Create(ctx context.Context, txn *entity.Transaction) error {
	query := `
		INSERT INTO transactions (
			request_id, phone_number, amount, account_reference, description,
			merchant_request_id, checkout_request_id,
			status, result_code, result_description, failure_reason,
			receipt_number, paid_amount, payer_phone, transaction_date,
			created_at, updated_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	result, err := r.db.ExecContext(ctx, query,
		txn.RequestID,
		txn.PhoneNumber,
		txn.Amount,
		txn.AccountReference,
		txn.Description,
		nullableStringValue(txn.MerchantRequestID),
		nullableStringValue(txn.CheckoutRequestID),
		txn.Status,
		nullableInt32Value(txn.ResultCode),
		nullableStringValue(txn.ResultDescription),
		nullableStringValue(txn.FailureReason),
		nullableStringValue(txn.ReceiptNumber),
		nullableFloat64Value(txn.PaidAmount),
		nullableStringValue(txn.PayerPhone),
		nullableStringValue(txn.TransactionDate),
		txn.CreatedAt,
		txn.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrTransactionAlreadyExists
		}
		return err
	}

	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	txn.ID = uint64(id)
	return nil
}

func (r *TransactionRepository) Update(ctx context.Context, txn *entity.Transaction) error {
	query := `
		UPDATE transactions SET
			merchant_request_id = ?,
			checkout_request_id = ?,
			status = ?,
			result_code = ?,
			result_description = ?,
			failure_reason = ?,
			receipt_number = ?,
			paid_amount = ?,
			payer_phone = ?,
			transaction_date = ?,
			updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		nullableStringValue(txn.MerchantRequestID),
		nullableStringValue(txn.CheckoutRequestID),
		txn.Status,
		nullableInt32Value(txn.ResultCode),
		nullableStringValue(txn.ResultDescription),
		nullableStringValue(txn.FailureReason),
		nullableStringValue(txn.ReceiptNumber),
		nullableFloat64Value(txn.PaidAmount),
		nullableStringValue(txn.PayerPhone),
		nullableStringValue(txn.TransactionDate),
		txn.UpdatedAt,
		txn.ID,
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrTransactionNotFound
	}
	return nil
}

func (r *TransactionRepository) FindByID(ctx context.Context, id uint64) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *TransactionRepository) FindByRequestID(ctx context.Context, requestID string) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE request_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, requestID))
}

func (r *TransactionRepository) FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*entity.Transaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, checkoutRequestID))
}

func (r *TransactionRepository) List(ctx context.Context, filter TransactionFilter) ([]*entity.Transaction, error) {
	conditions := make([]string, 0, 3)
	args := make([]interface{}, 0, 5)

	if filter.PhoneNumber != "" {
		conditions = append(conditions, "phone_number = ?")
		args = append(args, filter.PhoneNumber)
	}
	if filter.AccountReference != "" {
		conditions = append(conditions, "account_reference = ?")
		args = append(args, filter.AccountReference)
	}
	if filter.HasStatus {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + transactionColumns + ` FROM transactions`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMany(rows)
}

// ListForReconcile returns pending transactions old enough to be queried
// upstream. Rows without a CheckoutRequestID cannot be reconciled.
func (r *TransactionRepository) ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = ? AND checkout_request_id IS NOT NULL AND created_at < ?
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, entity.TransactionStatusPending, before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMany(rows)
}

func (r *TransactionRepository) ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = ? AND created_at < ?
		ORDER BY id ASC
		LIMIT ?
	`
	rows, err := r.db.QueryContext(ctx, query, entity.TransactionStatusPending, cutoff, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return r.scanMany(rows)
}

func (r *TransactionRepository) scanOne(row *sql.Row) (*entity.Transaction, error) {
	txn, err := scanTransaction(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return txn, nil
}

func (r *TransactionRepository) scanMany(rows *sql.Rows) ([]*entity.Transaction, error) {
	items := make([]*entity.Transaction, 0)
	for rows.Next() {
		txn, err := scanTransaction(rows.Scan)
		if err != nil {
			return nil, err
		}
		items = append(items, txn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

func scanTransaction(scan func(dest ...interface{}) error) (*entity.Transaction, error) {
	var (
		txn               entity.Transaction
		merchantRequestID sql.NullString
		checkoutRequestID sql.NullString
		resultCode        sql.NullInt32
		resultDescription sql.NullString
		failureReason     sql.NullString
		receiptNumber     sql.NullString
		paidAmount        sql.NullFloat64
		payerPhone        sql.NullString
		transactionDate   sql.NullString
	)

	err := scan(
		&txn.ID,
		&txn.RequestID,
		&txn.PhoneNumber,
		&txn.Amount,
		&txn.AccountReference,
		&txn.Description,
		&merchantRequestID,
		&checkoutRequestID,
		&txn.Status,
		&resultCode,
		&resultDescription,
		&failureReason,
		&receiptNumber,
		&paidAmount,
		&payerPhone,
		&transactionDate,
		&txn.CreatedAt,
		&txn.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	txn.MerchantRequestID = stringPtrFromNull(merchantRequestID)
	txn.CheckoutRequestID = stringPtrFromNull(checkoutRequestID)
	txn.ResultCode = int32PtrFromNull(resultCode)
	txn.ResultDescription = stringPtrFromNull(resultDescription)
	txn.FailureReason = stringPtrFromNull(failureReason)
	txn.ReceiptNumber = stringPtrFromNull(receiptNumber)
	txn.PaidAmount = float64PtrFromNull(paidAmount)
	txn.PayerPhone = stringPtrFromNull(payerPhone)
	txn.TransactionDate = stringPtrFromNull(transactionDate)

	return &txn, nil
}
