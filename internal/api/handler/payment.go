package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/mpesa"
	"github.com/hazinapay/backend/internal/service"
)

// PaymentHandler serves the initiation endpoints and the status poll. Every
// initiation responds with a checkout reference; the caller polls it until the
// provider callback lands.
type PaymentHandler struct {
	payments *service.PaymentsService
	accounts *service.AccountService
	balance  *service.BalanceService
}

func NewPaymentHandler(payments *service.PaymentsService, accounts *service.AccountService, balance *service.BalanceService) *PaymentHandler {
	return &PaymentHandler{payments: payments, accounts: accounts, balance: balance}
}

// CreateRegistration handles POST /v1/registrations.
func (h *PaymentHandler) CreateRegistration(w http.ResponseWriter, r *http.Request) {
	var req service.RegistrationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	resp, err := h.payments.InitiateRegistration(r.Context(), req)
	if err != nil {
		h.respondInitiationError(w, r, err, "registration")
		return
	}
	RespondJSON(w, http.StatusAccepted, resp)
}

// CreateDeposit handles POST /v1/deposits.
func (h *PaymentHandler) CreateDeposit(w http.ResponseWriter, r *http.Request) {
	h.createAccountPayment(w, r, domain.TxTypeDeposit)
}

// CreateContribution handles POST /v1/contributions.
func (h *PaymentHandler) CreateContribution(w http.ResponseWriter, r *http.Request) {
	h.createAccountPayment(w, r, domain.TxTypeContribution)
}

func (h *PaymentHandler) createAccountPayment(w http.ResponseWriter, r *http.Request, txType string) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req service.DepositRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if !h.authorizeAccount(w, r, req.AccountID, actorID, isAdmin) {
		return
	}

	resp, err := h.payments.InitiateDeposit(r.Context(), txType, req)
	if err != nil {
		h.respondInitiationError(w, r, err, txType)
		return
	}
	RespondJSON(w, http.StatusAccepted, resp)
}

type withdrawalRequest struct {
	AccountID int64           `json:"account_id"`
	Amount    decimal.Decimal `json:"amount"`
	Type      string          `json:"type,omitempty"`
	Phone     string          `json:"phone,omitempty"`
	Reason    string          `json:"reason,omitempty"`
}

// CreateWithdrawal handles POST /v1/withdrawals. Withdrawals settle
// synchronously against the available balance.
func (h *PaymentHandler) CreateWithdrawal(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	var req withdrawalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	if !h.authorizeAccount(w, r, req.AccountID, actorID, isAdmin) {
		return
	}

	record, err := h.balance.Withdraw(r.Context(), service.WithdrawRequest{
		AccountID: req.AccountID,
		Amount:    req.Amount,
		Type:      req.Type,
		Phone:     req.Phone,
		Reason:    req.Reason,
	})
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInsufficientBalance):
			RespondError(w, r, http.StatusUnprocessableEntity, "account/insufficient-balance", "insufficient available balance")
		case errors.Is(err, models.ErrAccountNotFound):
			RespondError(w, r, http.StatusNotFound, "account/not-found", "account not found")
		default:
			zap.L().Error("withdrawal failed", zap.Int64("account_id", req.AccountID), zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "withdrawal/failed", "withdrawal failed")
		}
		return
	}
	RespondJSON(w, http.StatusCreated, record)
}

// GetStatus handles GET /v1/payments/{checkoutRequestID}.
func (h *PaymentHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	checkoutID := chi.URLParam(r, "checkoutRequestID")
	if checkoutID == "" {
		RespondError(w, r, http.StatusBadRequest, "request/missing-checkout-id", "checkout request id is required")
		return
	}

	resp, err := h.payments.StatusByCheckoutID(r.Context(), checkoutID)
	if err != nil {
		if errors.Is(err, models.ErrTransactionNotFound) {
			RespondError(w, r, http.StatusNotFound, "payment/not-found", "no payment for that checkout reference")
			return
		}
		zap.L().Error("status poll failed", zap.String("checkout_request_id", checkoutID), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "payment/status-read-failed", "failed to read payment status")
		return
	}
	RespondJSON(w, http.StatusOK, resp)
}

func (h *PaymentHandler) authorizeAccount(w http.ResponseWriter, r *http.Request, accountID int64, actorID uuid.UUID, isAdmin bool) bool {
	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, r, http.StatusNotFound, "account/not-found", "account not found")
		} else {
			zap.L().Error("account authorization lookup failed", zap.Int64("account_id", accountID), zap.Error(err))
			RespondError(w, r, http.StatusInternalServerError, "account/authorization-failed", "Failed to authorize account access")
		}
		return false
	}
	if !isAdmin && account.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return false
	}
	return true
}

func (h *PaymentHandler) respondInitiationError(w http.ResponseWriter, r *http.Request, err error, flow string) {
	if errors.Is(err, mpesa.ErrGatewayUnavailable) {
		RespondError(w, r, http.StatusBadGateway, "payment/gateway-unavailable", "payment gateway unavailable, try again")
		return
	}
	if status, problemType, message, ok := mapDBError(err); ok {
		RespondError(w, r, status, problemType, message)
		return
	}
	zap.L().Warn("initiation rejected", zap.String("flow", flow), zap.Error(err))
	RespondError(w, r, http.StatusBadRequest, "payment/initiation-rejected", err.Error())
}
