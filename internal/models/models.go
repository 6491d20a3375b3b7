package models

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientBalance is returned when a withdrawal exceeds the
	// available balance. No account field changes when it is returned.
	ErrInsufficientBalance = errors.New("insufficient available balance")

	// ErrTransactionNotFound is returned when no lookup tier matched a
	// checkout identifier.
	ErrTransactionNotFound = errors.New("transaction not found")

	ErrUserNotFound    = errors.New("user not found")
	ErrAccountNotFound = errors.New("account not found")

	// ErrAlreadyFinalized signals that a transaction was already in a
	// terminal state; callers treat it as a no-op success.
	ErrAlreadyFinalized = errors.New("transaction already finalized")
)

// User is materialized from registration metadata only when the registration
// payment completes. The temporary password hash is flagged until the member
// replaces it on first verified login.
type User struct {
	ID                  uuid.UUID `json:"id"`
	Email               string    `json:"email"`
	FirstName           string    `json:"first_name"`
	LastName            string    `json:"last_name"`
	Phone               string    `json:"phone"`
	IDNumber            string    `json:"id_number,omitempty"`
	Role                string    `json:"role"`
	PasswordHash        string    `json:"-"`
	PINHash             string    `json:"-"`
	IsTemporaryPassword bool      `json:"is_temporary_password"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// Account is the mutable balance summary. The append-only audit trail lives in
// the transactions table. Invariant: CurrentBalance = AvailableBalance + LockedBalance.
type Account struct {
	ID            int64     `json:"id"`
	UserID        uuid.UUID `json:"user_id"`
	AccountNumber string    `json:"account_number"`
	AccountType   string    `json:"account_type"`
	AccountStatus string    `json:"account_status"`

	CurrentBalance   decimal.Decimal `json:"current_balance"`
	AvailableBalance decimal.Decimal `json:"available_balance"`
	LockedBalance    decimal.Decimal `json:"locked_balance"`

	EmployeeContributions  decimal.Decimal `json:"employee_contributions"`
	EmployerContributions  decimal.Decimal `json:"employer_contributions"`
	VoluntaryContributions decimal.Decimal `json:"voluntary_contributions"`
	InterestEarned         decimal.Decimal `json:"interest_earned"`
	InvestmentEarnings     decimal.Decimal `json:"investment_earnings"`
	DividendEarnings       decimal.Decimal `json:"dividend_earnings"`
	TotalWithdrawn         decimal.Decimal `json:"total_withdrawn"`

	KYCVerified        bool       `json:"kyc_verified"`
	ComplianceFlagged  bool       `json:"compliance_flagged"`
	LastContributionAt *time.Time `json:"last_contribution_at,omitempty"`
	LastWithdrawalAt   *time.Time `json:"last_withdrawal_at,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Transaction is one payment attempt. Created pending at initiation, mutated
// exactly once into a terminal status, never deleted.
type Transaction struct {
	ID                uuid.UUID       `json:"id"`
	UserID            *uuid.UUID      `json:"user_id,omitempty"`
	AccountID         *int64          `json:"account_id,omitempty"`
	Amount            decimal.Decimal `json:"amount"`
	Type              string          `json:"type"`
	Status            string          `json:"status"`
	CheckoutRequestID *string         `json:"checkout_request_id,omitempty"`
	Metadata          json.RawMessage `json:"metadata,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}
