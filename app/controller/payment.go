package controller

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/sokopay/ms-go-mpesa/app/daraja"
	"github.com/sokopay/ms-go-mpesa/app/factory"
	"github.com/sokopay/ms-go-mpesa/app/mapper"
	"github.com/sokopay/ms-go-mpesa/app/service"
	"github.com/sokopay/ms-go-mpesa/app/types"
)

type PaymentController struct {
	paymentService *service.PaymentService
	logger         logrus.FieldLogger
}

func NewPaymentController(paymentService *service.PaymentService) *PaymentController {
	return &PaymentController{
		paymentService: paymentService,
		logger:         factory.NewModuleLogger("payments-controller"),
	}
}

func (c *PaymentController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *PaymentController) InitiateSTKPush(ctx echo.Context) error {
	req, err := types.NewSTKPushRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	outcome, txn, err := c.paymentService.InitiateSTKPush(ctx.Request().Context(), req)
	if err != nil {
		var validationErr *daraja.ValidationError
		switch {
		case errors.As(err, &validationErr):
			return c.writeError(ctx, http.StatusBadRequest, validationErr.Error())
		case errors.Is(err, service.ErrInvalidRequest):
			return c.writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Initiate stk push failed")
			return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	result := &types.STKPushResult{
		Accepted:          outcome.Accepted,
		MerchantRequestId: outcome.MerchantRequestID,
		CheckoutRequestId: outcome.CheckoutRequestID,
		CustomerMessage:   outcome.CustomerMessage,
		ErrorCode:         outcome.ErrorCode,
		ErrorMessage:      outcome.ErrorMessage,
	}
	if txn != nil {
		result.Transaction = mapper.TransactionToAPI(txn)
	}

	if !outcome.Accepted {
		if outcome.ErrorCode == service.OutcomeCodeGatewayUnavailable {
			return ctx.JSON(http.StatusBadGateway, result)
		}
		return ctx.JSON(http.StatusBadRequest, result)
	}
	return ctx.JSON(http.StatusOK, result)
}

func (c *PaymentController) GetTransaction(ctx echo.Context) error {
	req, err := types.NewGetTransactionRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.paymentService.GetTransaction(ctx.Request().Context(), req.GetId())
	if err != nil {
		if errors.Is(err, service.ErrTransactionNotFound) {
			return c.writeError(ctx, http.StatusNotFound, "transaction not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get transaction failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.TransactionEnvelopeResponse{Transaction: mapper.TransactionToAPI(item)})
}

func (c *PaymentController) ListTransactions(ctx echo.Context) error {
	req, err := types.NewListTransactionsRequestFromContext(ctx)
	if err != nil {
		return c.writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return c.writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.paymentService.ListTransactions(ctx.Request().Context(), req)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List transactions failed")
		return c.writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListTransactionsResponse{Transactions: mapper.TransactionsToAPI(items)})
}

// HandleMpesaCallback always acknowledges with HTTP 200 and ResultCode 0.
// Any other response makes the upstream retry the delivery; problems are
// logged and stored server side instead of being reported back.
func (c *PaymentController) HandleMpesaCallback(ctx echo.Context) error {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to read callback body")
		return ctx.JSON(http.StatusOK, &types.CallbackAckResponse{ResultCode: 0, ResultDesc: "Success"})
	}

	if _, err := c.paymentService.HandleCallback(ctx.Request().Context(), payload); err != nil {
		c.logger.WithError(err).Warn("Mpesa callback not applied")
	}

	return ctx.JSON(http.StatusOK, &types.CallbackAckResponse{ResultCode: 0, ResultDesc: "Success"})
}

func (c *PaymentController) writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
