package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/repository"
)

// BalanceService applies credits, withdrawals and earnings to accounts while
// preserving the current = available + locked invariant. Every mutation is
// paired with a transaction record so the audit trail stays append-only.
type BalanceService struct {
	store QueryStore
	audit *AuditService
}

func NewBalanceService(store QueryStore) *BalanceService {
	return &BalanceService{
		store: store,
		audit: NewAuditService(store),
	}
}

// CreditInTx credits an account inside an existing transaction. Contribution
// payments also feed the voluntary contributions running total.
func (s *BalanceService) CreditInTx(ctx context.Context, q *repository.Queries, accountID int64, amount decimal.Decimal, txType string) error {
	if err := domain.ValidatePositiveAmount(amount); err != nil {
		return err
	}
	bucket := ""
	if txType == domain.TxTypeContribution {
		bucket = "voluntary"
	}
	rows, err := q.CreditAccount(ctx, accountID, amount, bucket)
	if err != nil {
		return err
	}
	if err := requireExactlyOne(rows, "credit account"); err != nil {
		return err
	}
	meta, _ := domain.EncodeMetadata(map[string]string{"amount": amount.String(), "type": txType})
	return s.audit.Write(ctx, q, "account", fmt.Sprintf("%d", accountID), "credited", "", "", meta)
}

// WithdrawRequest describes a synchronous withdrawal.
type WithdrawRequest struct {
	AccountID int64
	Amount    decimal.Decimal
	Type      string // withdrawal_savings or withdrawal_benefits
	Phone     string
	Reason    string
}

// Withdraw debits the account if the available balance covers the amount.
// On InsufficientBalance no account field changes and no record is written.
func (s *BalanceService) Withdraw(ctx context.Context, req WithdrawRequest) (*models.Transaction, error) {
	if err := domain.ValidatePositiveAmount(req.Amount); err != nil {
		return nil, err
	}
	txType := req.Type
	if txType != domain.TxTypeWithdrawalSavings && txType != domain.TxTypeWithdrawalBenefits {
		txType = domain.TxTypeWithdrawalSavings
	}

	record := &models.Transaction{
		ID:        uuid.New(),
		AccountID: &req.AccountID,
		Amount:    req.Amount.Neg(),
		Type:      txType,
		Status:    domain.TxStatusCompleted,
	}
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		account, err := q.GetAccountForUpdate(ctx, req.AccountID)
		if err != nil {
			return err
		}
		if account.AvailableBalance.LessThan(req.Amount) {
			return models.ErrInsufficientBalance
		}

		rows, err := q.DebitAccount(ctx, req.AccountID, req.Amount)
		if err != nil {
			return err
		}
		if rows == 0 {
			// The SQL guard caught a concurrent debit.
			return models.ErrInsufficientBalance
		}

		record.UserID = &account.UserID
		meta, err := domain.EncodeMetadata(domain.WithdrawalMetadata{Phone: req.Phone, Reason: req.Reason})
		if err != nil {
			return err
		}
		record.Metadata = meta
		if err := q.CreateTransaction(ctx, record); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "account", fmt.Sprintf("%d", req.AccountID), "withdrawn", "", "", meta)
	})
	if err != nil {
		if errors.Is(err, models.ErrInsufficientBalance) || errors.Is(err, models.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("withdraw: %w", err)
	}
	return record, nil
}

// RecordEarnings posts interest, investment or dividend earnings to the
// matching running total and to both balances.
func (s *BalanceService) RecordEarnings(ctx context.Context, accountID int64, kind string, amount decimal.Decimal) (*models.Transaction, error) {
	if err := domain.ValidatePositiveAmount(amount); err != nil {
		return nil, err
	}
	if !domain.IsValidEarningsKind(kind) {
		return nil, fmt.Errorf("unknown earnings kind: %s", kind)
	}

	record := &models.Transaction{
		ID:        uuid.New(),
		AccountID: &accountID,
		Amount:    amount,
		Type:      "earnings_" + kind,
		Status:    domain.TxStatusCompleted,
	}
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		account, err := q.GetAccountForUpdate(ctx, accountID)
		if err != nil {
			return err
		}
		rows, err := q.AddEarnings(ctx, accountID, kind, amount)
		if err != nil {
			return err
		}
		if err := requireExactlyOne(rows, "add earnings"); err != nil {
			return err
		}

		record.UserID = &account.UserID
		meta, err := domain.EncodeMetadata(map[string]string{"kind": kind, "amount": amount.String()})
		if err != nil {
			return err
		}
		record.Metadata = meta
		if err := q.CreateTransaction(ctx, record); err != nil {
			return err
		}
		return s.audit.Write(ctx, q, "account", fmt.Sprintf("%d", accountID), "earnings_posted", "", "", meta)
	})
	if err != nil {
		if errors.Is(err, models.ErrAccountNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("record earnings: %w", err)
	}
	return record, nil
}
