package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/hazinapay/backend/internal/models"
)

const accountColumns = `id, user_id, COALESCE(account_number, ''), account_type, account_status,
	current_balance, available_balance, locked_balance,
	employee_contributions, employer_contributions, voluntary_contributions,
	interest_earned, investment_earnings, dividend_earnings, total_withdrawn,
	kyc_verified, compliance_flagged, last_contribution_at, last_withdrawal_at,
	created_at, updated_at`

func scanAccount(row pgx.Row, a *models.Account) error {
	return row.Scan(&a.ID, &a.UserID, &a.AccountNumber, &a.AccountType, &a.AccountStatus,
		&a.CurrentBalance, &a.AvailableBalance, &a.LockedBalance,
		&a.EmployeeContributions, &a.EmployerContributions, &a.VoluntaryContributions,
		&a.InterestEarned, &a.InvestmentEarnings, &a.DividendEarnings, &a.TotalWithdrawn,
		&a.KYCVerified, &a.ComplianceFlagged, &a.LastContributionAt, &a.LastWithdrawalAt,
		&a.CreatedAt, &a.UpdatedAt)
}

// CreateAccount inserts an account and fills the storage-assigned sequential id.
// The account number cannot be derived before this returns; see SetAccountNumber.
func (q *Queries) CreateAccount(ctx context.Context, account *models.Account) error {
	query := `
		INSERT INTO accounts (user_id, account_type, account_status, kyc_verified, compliance_flagged, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, NOW(), NOW())
		RETURNING id, created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		account.UserID, account.AccountType, account.AccountStatus,
		account.KYCVerified, account.ComplianceFlagged,
	).Scan(&account.ID, &account.CreatedAt, &account.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create account: %w", err)
	}
	return nil
}

// SetAccountNumber persists the derived account number; phase two of creation.
func (q *Queries) SetAccountNumber(ctx context.Context, id int64, accountNumber string) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE accounts SET account_number = $2, updated_at = NOW() WHERE id = $1`,
		id, accountNumber)
	if err != nil {
		return 0, fmt.Errorf("set account number: %w", err)
	}
	return tag.RowsAffected(), nil
}

// GetAccount fetches an account by id.
func (q *Queries) GetAccount(ctx context.Context, id int64) (*models.Account, error) {
	account := &models.Account{}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	if err := scanAccount(q.db.QueryRow(ctx, query, id), account); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account: %w", err)
	}
	return account, nil
}

// GetAccountForUpdate fetches an account with a row lock inside a transaction.
func (q *Queries) GetAccountForUpdate(ctx context.Context, id int64) (*models.Account, error) {
	account := &models.Account{}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1 FOR UPDATE`
	if err := scanAccount(q.db.QueryRow(ctx, query, id), account); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account for update: %w", err)
	}
	return account, nil
}

// GetAccountByUserAndType resolves the unique account for a (user, type) pair.
func (q *Queries) GetAccountByUserAndType(ctx context.Context, userID string, accountType string) (*models.Account, error) {
	account := &models.Account{}
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE user_id = $1 AND account_type = $2`
	if err := scanAccount(q.db.QueryRow(ctx, query, userID, accountType), account); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrAccountNotFound
		}
		return nil, fmt.Errorf("get account by user and type: %w", err)
	}
	return account, nil
}

// CreditAccount applies a credit to both current and available balance and
// stamps the contribution time. Locked balance is untouched, so the
// current = available + locked invariant holds by construction.
func (q *Queries) CreditAccount(ctx context.Context, id int64, amount decimal.Decimal, contributionBucket string) (int64, error) {
	bucket := ""
	switch contributionBucket {
	case "employee":
		bucket = "employee_contributions = employee_contributions + $2,"
	case "employer":
		bucket = "employer_contributions = employer_contributions + $2,"
	case "voluntary":
		bucket = "voluntary_contributions = voluntary_contributions + $2,"
	}
	query := `
		UPDATE accounts
		SET current_balance = current_balance + $2,
			available_balance = available_balance + $2,
			` + bucket + `
			last_contribution_at = NOW(),
			updated_at = NOW()
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, id, amount)
	if err != nil {
		return 0, fmt.Errorf("credit account: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DebitAccount withdraws from both balances, guarded in SQL so a concurrent
// debit can never push available balance negative. Zero rows means the guard
// rejected it.
func (q *Queries) DebitAccount(ctx context.Context, id int64, amount decimal.Decimal) (int64, error) {
	query := `
		UPDATE accounts
		SET current_balance = current_balance - $2,
			available_balance = available_balance - $2,
			total_withdrawn = total_withdrawn + $2,
			last_withdrawal_at = NOW(),
			updated_at = NOW()
		WHERE id = $1 AND available_balance >= $2`
	tag, err := q.db.Exec(ctx, query, id, amount)
	if err != nil {
		return 0, fmt.Errorf("debit account: %w", err)
	}
	return tag.RowsAffected(), nil
}

// AddEarnings applies an earnings posting to the matching running total and to
// both balances. The column is chosen from a fixed set, never caller input.
func (q *Queries) AddEarnings(ctx context.Context, id int64, kind string, amount decimal.Decimal) (int64, error) {
	var column string
	switch kind {
	case "interest":
		column = "interest_earned"
	case "investment":
		column = "investment_earnings"
	case "dividend":
		column = "dividend_earnings"
	default:
		return 0, fmt.Errorf("unknown earnings kind: %s", kind)
	}
	query := `
		UPDATE accounts
		SET current_balance = current_balance + $2,
			available_balance = available_balance + $2,
			` + column + ` = ` + column + ` + $2,
			updated_at = NOW()
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, id, amount)
	if err != nil {
		return 0, fmt.Errorf("add earnings: %w", err)
	}
	return tag.RowsAffected(), nil
}
