package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sokopay/ms-go-mpesa/app/daraja"
	"github.com/sokopay/ms-go-mpesa/app/entity"
	"github.com/sokopay/ms-go-mpesa/app/factory"
	"github.com/sokopay/ms-go-mpesa/app/repository"
	"github.com/sokopay/ms-go-mpesa/config"
)

const (
	defaultListLimit = int32(100)
	defaultBatchSize = int32(100)
)

type stkPushRequest interface {
	GetRequestId() string
	GetPhoneNumber() string
	GetAmount() int64
	GetAccountReference() string
	GetDescription() string
}

type listTransactionsRequest interface {
	GetPhoneNumber() string
	GetAccountReference() string
	GetHasStatus() bool
	GetStatus() int32
	GetLimit() int32
	GetOffset() int32
}

type transactionRepository interface {
	Create(ctx context.Context, txn *entity.Transaction) error
	Update(ctx context.Context, txn *entity.Transaction) error
	FindByID(ctx context.Context, id uint64) (*entity.Transaction, error)
	FindByRequestID(ctx context.Context, requestID string) (*entity.Transaction, error)
	FindByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (*entity.Transaction, error)
	List(ctx context.Context, filter repository.TransactionFilter) ([]*entity.Transaction, error)
	ListForReconcile(ctx context.Context, before time.Time, limit int32) ([]*entity.Transaction, error)
	ListExpiredPending(ctx context.Context, cutoff time.Time, limit int32) ([]*entity.Transaction, error)
}

type transactionEventRepository interface {
	Create(ctx context.Context, event *entity.TransactionEvent) error
}

type callbackRepository interface {
	Create(ctx context.Context, callback *entity.MpesaCallback) error
}

// gateway is the outbound face of the Daraja client: validation and
// assembly, the push call itself, and the status query.
type gateway interface {
	BuildSTKPushRequest(phone string, amount int64, reference, description string) (*daraja.STKPushRequest, error)
	STKPush(ctx context.Context, req *daraja.STKPushRequest) (*daraja.STKPushResponse, error)
	STKQuery(ctx context.Context, checkoutRequestID string) (*daraja.STKQueryResponse, error)
}

// PaymentOutcome is the normalized result of one initiation attempt.
type PaymentOutcome struct {
	Accepted          bool
	MerchantRequestID string
	CheckoutRequestID string
	CustomerMessage   string
	ErrorCode         string
	ErrorMessage      string
}

type PaymentService struct {
	transactionRepo transactionRepository
	eventRepo       transactionEventRepository
	callbackRepo    callbackRepository
	gateway         gateway
	paymentsCfg     config.PaymentsConfig
	logger          logrus.FieldLogger
}

func NewPaymentService(
	transactionRepo transactionRepository,
	eventRepo transactionEventRepository,
	callbackRepo callbackRepository,
	gw gateway,
	paymentsCfg config.PaymentsConfig,
) *PaymentService {
	return &PaymentService{
		transactionRepo: transactionRepo,
		eventRepo:       eventRepo,
		callbackRepo:    callbackRepo,
		gateway:         gw,
		paymentsCfg:     paymentsCfg,
		logger:          factory.NewModuleLogger("payment-service"),
	}
}

// InitiateSTKPush validates the request, obtains a bearer credential
// (refreshed transparently by the client's token cache), issues the single
// outbound push call and classifies the result. Validation failures come
// back as a *daraja.ValidationError; gateway failures are reported inside
// the outcome, never retried here.
func (s *PaymentService) InitiateSTKPush(ctx context.Context, req stkPushRequest) (*PaymentOutcome, *entity.Transaction, error) {
	requestID := strings.TrimSpace(req.GetRequestId())
	if requestID == "" {
		return nil, nil, ErrInvalidRequest
	}

	existing, err := s.transactionRepo.FindByRequestID(ctx, requestID)
	if err != nil {
		return nil, nil, err
	}
	if existing != nil {
		return outcomeFromTransaction(existing), existing, nil
	}

	msisdn, err := daraja.NormalizePhoneNumber(req.GetPhoneNumber())
	if err != nil {
		return nil, nil, err
	}

	reference := strings.TrimSpace(req.GetAccountReference())
	if reference == "" {
		reference = defaultAccountReference(msisdn)
	}

	pushReq, err := s.gateway.BuildSTKPushRequest(msisdn, req.GetAmount(), reference, req.GetDescription())
	if err != nil {
		return nil, nil, err
	}

	resp, pushErr := s.gateway.STKPush(ctx, pushReq)

	now := time.Now().UTC()
	txn := &entity.Transaction{
		RequestID:        requestID,
		PhoneNumber:      msisdn,
		Amount:           req.GetAmount(),
		AccountReference: reference,
		Description:      pushReq.TransactionDesc,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	if pushErr != nil {
		var reqErr *daraja.RequestError
		if errors.As(pushErr, &reqErr) {
			// Upstream reachable but declined: keep the rejection for audit.
			txn.Status = entity.TransactionStatusRejected
			desc := reqErr.Message
			txn.ResultDescription = &desc
			reason := reqErr.Code
			txn.FailureReason = &reason
			if err := s.persistInitiated(ctx, txn, "stk_push_rejected"); err != nil {
				return nil, nil, err
			}
			return &PaymentOutcome{
				Accepted:     false,
				ErrorCode:    reqErr.Code,
				ErrorMessage: reqErr.Message,
			}, txn, nil
		}

		// Credential fetch failure or transport error: the upstream holds
		// no state for this attempt, so nothing is persisted.
		var credErr *daraja.CredentialError
		if errors.As(pushErr, &credErr) {
			s.logger.WithError(credErr).Warn("credential fetch failed")
		} else {
			s.logger.WithError(pushErr).Warn("stk push transport failure")
		}
		return &PaymentOutcome{
			Accepted:  false,
			ErrorCode: OutcomeCodeGatewayUnavailable,
		}, nil, nil
	}

	if !resp.Accepted() {
		txn.Status = entity.TransactionStatusRejected
		desc := resp.ResponseDescription
		txn.ResultDescription = &desc
		if resp.MerchantRequestID != "" {
			merchantID := resp.MerchantRequestID
			txn.MerchantRequestID = &merchantID
		}
		if resp.CheckoutRequestID != "" {
			checkoutID := resp.CheckoutRequestID
			txn.CheckoutRequestID = &checkoutID
		}
		if err := s.persistInitiated(ctx, txn, "stk_push_rejected"); err != nil {
			return nil, nil, err
		}
		return &PaymentOutcome{
			Accepted:     false,
			ErrorCode:    resp.ResponseCode,
			ErrorMessage: resp.ResponseDescription,
		}, txn, nil
	}

	merchantID := resp.MerchantRequestID
	checkoutID := resp.CheckoutRequestID
	txn.Status = entity.TransactionStatusPending
	txn.MerchantRequestID = &merchantID
	txn.CheckoutRequestID = &checkoutID
	if err := s.persistInitiated(ctx, txn, "stk_push_accepted"); err != nil {
		return nil, nil, err
	}

	return &PaymentOutcome{
		Accepted:          true,
		MerchantRequestID: merchantID,
		CheckoutRequestID: checkoutID,
		CustomerMessage:   resp.CustomerMessage,
	}, txn, nil
}

func (s *PaymentService) GetTransaction(ctx context.Context, id uint64) (*entity.Transaction, error) {
	txn, err := s.transactionRepo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if txn == nil {
		return nil, ErrTransactionNotFound
	}
	return txn, nil
}

func (s *PaymentService) ListTransactions(ctx context.Context, req listTransactionsRequest) ([]*entity.Transaction, error) {
	limit := req.GetLimit()
	if limit <= 0 {
		limit = defaultListLimit
	}

	filter := repository.TransactionFilter{
		PhoneNumber:      strings.TrimSpace(req.GetPhoneNumber()),
		AccountReference: strings.TrimSpace(req.GetAccountReference()),
		HasStatus:        req.GetHasStatus(),
		Status:           req.GetStatus(),
		Limit:            limit,
		Offset:           req.GetOffset(),
	}

	return s.transactionRepo.List(ctx, filter)
}

func (s *PaymentService) persistInitiated(ctx context.Context, txn *entity.Transaction, eventType string) error {
	if err := s.transactionRepo.Create(ctx, txn); err != nil {
		// Two concurrent requests with the same request id can both pass
		// the idempotency lookup; the unique key settles the race.
		if errors.Is(err, repository.ErrTransactionAlreadyExists) {
			existing, findErr := s.transactionRepo.FindByRequestID(ctx, txn.RequestID)
			if findErr == nil && existing != nil {
				*txn = *existing
				return nil
			}
		}
		return err
	}
	_ = s.eventRepo.Create(ctx, &entity.TransactionEvent{
		TransactionID: txn.ID,
		EventType:     eventType,
		NewStatus:     txn.Status,
		CreatedAt:     txn.CreatedAt,
	})
	return nil
}

func outcomeFromTransaction(txn *entity.Transaction) *PaymentOutcome {
	outcome := &PaymentOutcome{
		Accepted:          txn.Status != entity.TransactionStatusRejected,
		MerchantRequestID: derefString(txn.MerchantRequestID),
		CheckoutRequestID: derefString(txn.CheckoutRequestID),
	}
	if txn.Status == entity.TransactionStatusRejected {
		outcome.ErrorCode = derefString(txn.FailureReason)
		outcome.ErrorMessage = derefString(txn.ResultDescription)
	}
	return outcome
}

func defaultAccountReference(msisdn string) string {
	suffix := msisdn
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return "PAY_" + suffix + "_" + strings.Split(uuid.NewString(), "-")[0]
}

func derefString(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
