package mapper

import (
	"time"

	"github.com/sokopay/ms-go-mpesa/app/entity"
	"github.com/sokopay/ms-go-mpesa/app/types"
)

func TransactionToAPI(item *entity.Transaction) *types.Transaction {
	if item == nil {
		return nil
	}

	return &types.Transaction{
		Id:                item.ID,
		RequestId:         item.RequestID,
		PhoneNumber:       item.PhoneNumber,
		Amount:            item.Amount,
		AccountReference:  item.AccountReference,
		Description:       item.Description,
		MerchantRequestId: derefString(item.MerchantRequestID),
		CheckoutRequestId: derefString(item.CheckoutRequestID),
		Status:            entity.TransactionStatusLabel(item.Status),
		ResultCode:        item.ResultCode,
		ResultDescription: derefString(item.ResultDescription),
		FailureReason:     derefString(item.FailureReason),
		ReceiptNumber:     derefString(item.ReceiptNumber),
		PaidAmount:        item.PaidAmount,
		PayerPhone:        derefString(item.PayerPhone),
		TransactionDate:   derefString(item.TransactionDate),
		CreatedAt:         item.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:         item.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func TransactionsToAPI(items []*entity.Transaction) []*types.Transaction {
	result := make([]*types.Transaction, 0, len(items))
	for _, item := range items {
		result = append(result, TransactionToAPI(item))
	}
	return result
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
