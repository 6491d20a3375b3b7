package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/credentials"
	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/mpesa"
)

// PaymentsService owns the initiation flows: it creates the pending ledger
// record, fires the STK push and hands back a status-check reference the
// caller polls until the callback lands.
type PaymentsService struct {
	store           QueryStore
	gateway         mpesa.Gateway
	creds           *credentials.Service
	audit           *AuditService
	registrationFee decimal.Decimal
	logger          *zap.Logger
}

func NewPaymentsService(store QueryStore, gateway mpesa.Gateway, creds *credentials.Service, registrationFee decimal.Decimal, logger *zap.Logger) *PaymentsService {
	if logger == nil {
		logger = zap.L()
	}
	return &PaymentsService{
		store:           store,
		gateway:         gateway,
		creds:           creds,
		audit:           NewAuditService(store),
		registrationFee: registrationFee,
		logger:          logger,
	}
}

// InitiationResponse is returned from every initiation flow. The caller polls
// the checkout reference until a terminal status is observed.
type InitiationResponse struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Status            string    `json:"status"`
}

// RegistrationRequest is the registration form plus the payer phone.
type RegistrationRequest struct {
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Phone     string `json:"phone"`
	IDNumber  string `json:"id_number,omitempty"`
	PIN       string `json:"pin,omitempty"`
	// AccountType defaults to individual.
	AccountType string `json:"account_type,omitempty"`
}

// Validate checks the minimum form fields.
func (r RegistrationRequest) Validate() error {
	if strings.TrimSpace(r.Email) == "" || !strings.Contains(r.Email, "@") {
		return errors.New("a valid email is required")
	}
	if strings.TrimSpace(r.Phone) == "" {
		return errors.New("phone is required")
	}
	if strings.TrimSpace(r.FirstName) == "" || strings.TrimSpace(r.LastName) == "" {
		return errors.New("first_name and last_name are required")
	}
	return nil
}

// InitiateRegistration hashes a freshly generated temporary password into the
// transaction metadata and prompts the registration fee. The User and Account
// are only materialized when the callback confirms payment.
func (s *PaymentsService) InitiateRegistration(ctx context.Context, req RegistrationRequest) (*InitiationResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	tempPassword, err := credentials.GenerateTemporaryPassword(10)
	if err != nil {
		return nil, err
	}
	hashedPassword, err := s.creds.Hash(tempPassword)
	if err != nil {
		return nil, err
	}
	meta := domain.RegistrationMetadata{
		Email:                   strings.ToLower(strings.TrimSpace(req.Email)),
		FirstName:               req.FirstName,
		LastName:                req.LastName,
		Phone:                   req.Phone,
		IDNumber:                req.IDNumber,
		AccountType:             req.AccountType,
		HashedTemporaryPassword: hashedPassword,
		TemporaryPassword:       tempPassword,
	}
	if req.PIN != "" {
		hashedPIN, err := s.creds.Hash(req.PIN)
		if err != nil {
			return nil, err
		}
		meta.HashedPIN = hashedPIN
	}
	rawMeta, err := domain.EncodeMetadata(meta)
	if err != nil {
		return nil, err
	}

	return s.initiate(ctx, initiation{
		txType:      domain.TxTypeRegistration,
		amount:      s.registrationFee,
		phone:       req.Phone,
		reference:   "REG-" + shortRef(),
		description: "Member registration fee",
		metadata:    rawMeta,
	})
}

// DepositRequest covers deposit, contribution and payment initiations against
// an existing account.
type DepositRequest struct {
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Phone     string          `json:"phone"`
	Narrative string          `json:"narrative,omitempty"`
}

// InitiateDeposit prompts a payment that will credit the account when the
// callback confirms it. txType must be deposit, contribution or payment.
func (s *PaymentsService) InitiateDeposit(ctx context.Context, txType string, req DepositRequest) (*InitiationResponse, error) {
	if !domain.IsCreditOnCompletion(txType) {
		return nil, fmt.Errorf("unsupported payment type: %s", txType)
	}
	if err := domain.ValidatePositiveAmount(req.Amount); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.Phone) == "" {
		return nil, errors.New("phone is required")
	}

	account, err := s.store.Queries().GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, err
	}

	rawMeta, err := domain.EncodeMetadata(domain.DepositMetadata{
		Phone:     req.Phone,
		Narrative: req.Narrative,
	})
	if err != nil {
		return nil, err
	}

	return s.initiate(ctx, initiation{
		txType:      txType,
		amount:      req.Amount,
		phone:       req.Phone,
		reference:   account.AccountNumber,
		description: paymentDescription(txType),
		metadata:    rawMeta,
		userID:      &account.UserID,
		accountID:   &account.ID,
	})
}

type initiation struct {
	txType      string
	amount      decimal.Decimal
	phone       string
	reference   string
	description string
	metadata    []byte
	userID      *uuid.UUID
	accountID   *int64
}

// initiate creates the pending record first, then fires the STK push: a
// transaction must exist before the callback can possibly arrive. Gateway
// failure after exhausted retries finalizes the record as failed with the
// error in its metadata.
func (s *PaymentsService) initiate(ctx context.Context, in initiation) (*InitiationResponse, error) {
	tx := &models.Transaction{
		ID:        uuid.New(),
		UserID:    in.userID,
		AccountID: in.accountID,
		Amount:    in.amount,
		Type:      in.txType,
		Status:    domain.TxStatusPending,
		Metadata:  in.metadata,
	}
	if err := s.store.Queries().CreateTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("create pending transaction: %w", err)
	}
	s.audit.WriteBestEffort(ctx, "transaction", tx.ID.String(), "created", "", domain.TxStatusPending, nil)

	resp, err := s.gateway.InitiateSTKPush(ctx, mpesa.STKPushRequest{
		Phone:       in.phone,
		Amount:      in.amount,
		Reference:   in.reference,
		Description: in.description,
	})
	if err != nil {
		failMeta, metaErr := domain.MergeFailureReason(in.metadata, err.Error())
		if metaErr != nil {
			failMeta = in.metadata
		}
		if _, failErr := s.store.Queries().FinalizeTransactionIfPending(ctx, tx.ID.String(), domain.TxStatusFailed, failMeta); failErr != nil {
			s.logger.Error("failed to mark transaction failed after gateway error",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(failErr),
			)
		}
		s.audit.WriteBestEffort(ctx, "transaction", tx.ID.String(), "gateway_failed", domain.TxStatusPending, domain.TxStatusFailed, nil)
		return nil, err
	}

	withCheckout, err := domain.SetCheckoutID(in.metadata, resp.CheckoutRequestID)
	if err != nil {
		withCheckout = in.metadata
	}
	if _, err := s.store.Queries().SetTransactionCheckoutID(ctx, tx.ID.String(), resp.CheckoutRequestID, withCheckout); err != nil {
		return nil, err
	}
	if resp.Synthetic {
		s.logger.Warn("pending transaction carries a synthetic checkout id and needs manual reconciliation",
			zap.String("transaction_id", tx.ID.String()),
			zap.String("checkout_request_id", resp.CheckoutRequestID),
		)
	}

	return &InitiationResponse{
		TransactionID:     tx.ID,
		CheckoutRequestID: resp.CheckoutRequestID,
		Status:            domain.TxStatusPending,
	}, nil
}

// StatusResponse is the poll result for a checkout reference.
type StatusResponse struct {
	TransactionID     uuid.UUID `json:"transaction_id"`
	CheckoutRequestID string    `json:"checkout_request_id"`
	Type              string    `json:"type"`
	Status            string    `json:"status"`
	Stage             string    `json:"stage"`
}

// StatusByCheckoutID resolves the poll reference into a caller-facing stage:
// pending, registration_completed, payment_completed or payment_failed.
func (s *PaymentsService) StatusByCheckoutID(ctx context.Context, checkoutID string) (*StatusResponse, error) {
	tx, err := s.store.Queries().GetTransactionByCheckoutID(ctx, checkoutID)
	if err != nil {
		return nil, err
	}

	stage := "pending"
	switch tx.Status {
	case domain.TxStatusCompleted:
		if tx.Type == domain.TxTypeRegistration {
			stage = "registration_completed"
		} else {
			stage = "payment_completed"
		}
	case domain.TxStatusFailed:
		stage = "payment_failed"
	}

	resp := &StatusResponse{
		TransactionID: tx.ID,
		Type:          tx.Type,
		Status:        tx.Status,
		Stage:         stage,
	}
	if tx.CheckoutRequestID != nil {
		resp.CheckoutRequestID = *tx.CheckoutRequestID
	}
	return resp, nil
}

func paymentDescription(txType string) string {
	switch txType {
	case domain.TxTypeDeposit:
		return "Account deposit"
	case domain.TxTypeContribution:
		return "Member contribution"
	default:
		return "Payment"
	}
}

func shortRef() string {
	return strings.ToUpper(uuid.NewString()[:8])
}
