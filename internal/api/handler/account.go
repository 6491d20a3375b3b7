package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/service"
)

type AccountHandler struct {
	accounts *service.AccountService
	balance  *service.BalanceService
}

func NewAccountHandler(accounts *service.AccountService, balance *service.BalanceService) *AccountHandler {
	return &AccountHandler{accounts: accounts, balance: balance}
}

func accountIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// Get handles GET /v1/accounts/{id}.
func (h *AccountHandler) Get(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	accountID, err := accountIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, r, http.StatusNotFound, "account/not-found", "account not found")
			return
		}
		zap.L().Error("get account failed", zap.Int64("account_id", accountID), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "account/read-failed", "Failed to get account")
		return
	}
	if !isAdmin && account.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	RespondJSON(w, http.StatusOK, account)
}

// GetStatement handles GET /v1/accounts/{id}/statement.
func (h *AccountHandler) GetStatement(w http.ResponseWriter, r *http.Request) {
	actorID, isAdmin, err := requestActor(r)
	if err != nil {
		RespondError(w, r, http.StatusUnauthorized, "auth/unauthorized", "Unauthorized")
		return
	}

	accountID, err := accountIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	account, err := h.accounts.GetAccount(r.Context(), accountID)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, r, http.StatusNotFound, "account/not-found", "account not found")
			return
		}
		zap.L().Error("account authorization lookup failed", zap.Int64("account_id", accountID), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "account/authorization-failed", "Failed to authorize account access")
		return
	}
	if !isAdmin && account.UserID != actorID {
		RespondError(w, r, http.StatusForbidden, "auth/insufficient-permissions", "insufficient permissions")
		return
	}

	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	pageSize, _ := strconv.Atoi(r.URL.Query().Get("page_size"))

	transactions, err := h.accounts.GetStatement(r.Context(), accountID, page, pageSize)
	if err != nil {
		zap.L().Error("get statement failed", zap.Int64("account_id", accountID), zap.Error(err))
		RespondError(w, r, http.StatusInternalServerError, "account/statement-read-failed", "Failed to get statement")
		return
	}

	RespondJSON(w, http.StatusOK, map[string]interface{}{
		"account_id":   accountID,
		"page":         page,
		"transactions": transactions,
	})
}

type earningsRequest struct {
	Kind   string          `json:"kind"`
	Amount decimal.Decimal `json:"amount"`
}

// PostEarnings handles POST /v1/accounts/{id}/earnings. Admin only, enforced
// at the router.
func (h *AccountHandler) PostEarnings(w http.ResponseWriter, r *http.Request) {
	accountID, err := accountIDParam(r)
	if err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-account-id", "Invalid account ID")
		return
	}

	var req earningsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondError(w, r, http.StatusBadRequest, "request/invalid-body", "Invalid request body")
		return
	}

	record, err := h.balance.RecordEarnings(r.Context(), accountID, req.Kind, req.Amount)
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			RespondError(w, r, http.StatusNotFound, "account/not-found", "account not found")
			return
		}
		zap.L().Warn("earnings posting rejected", zap.Int64("account_id", accountID), zap.Error(err))
		RespondError(w, r, http.StatusBadRequest, "earnings/rejected", err.Error())
		return
	}
	RespondJSON(w, http.StatusCreated, record)
}
