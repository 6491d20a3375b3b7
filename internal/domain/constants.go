package domain

// Transaction types. Withdrawal amounts are stored negative; everything else positive.
const (
	TxTypeRegistration       = "registration"
	TxTypePayment            = "payment"
	TxTypeContribution       = "contribution"
	TxTypeDeposit            = "deposit"
	TxTypeWithdrawalSavings  = "withdrawal_savings"
	TxTypeWithdrawalBenefits = "withdrawal_benefits"
	TxTypeEarningsInterest   = "earnings_interest"
	TxTypeEarningsInvestment = "earnings_investment"
	TxTypeEarningsDividend   = "earnings_dividend"
)

// Transaction statuses. pending is the only non-terminal state.
const (
	TxStatusPending   = "pending"
	TxStatusCompleted = "completed"
	TxStatusFailed    = "failed"
)

// Account types and statuses.
const (
	AccountTypeIndividual = "individual"
	AccountTypeCorporate  = "corporate"

	AccountStatusActive    = "active"
	AccountStatusSuspended = "suspended"
	AccountStatusClosed    = "closed"
)

// Earnings kinds accepted by the balance updater.
const (
	EarningsKindInterest   = "interest"
	EarningsKindInvestment = "investment"
	EarningsKindDividend   = "dividend"
)

// User roles.
const (
	RoleMember = "member"
	RoleAdmin  = "admin"
)

// Provider result code signalling a successful payment.
const ResultCodeSuccess = 0

// SyntheticCheckoutPrefix marks checkout ids we generated ourselves because the
// provider omitted one. Such ids can never be matched by a genuine callback.
const SyntheticCheckoutPrefix = "CRID-"

// IsTerminalStatus reports whether a transaction status can no longer change.
func IsTerminalStatus(status string) bool {
	return status == TxStatusCompleted || status == TxStatusFailed
}

// IsCreditOnCompletion reports whether completing a transaction of this type
// credits the linked account.
func IsCreditOnCompletion(txType string) bool {
	switch txType {
	case TxTypePayment, TxTypeContribution, TxTypeDeposit:
		return true
	default:
		return false
	}
}

// IsValidEarningsKind reports whether kind is one of the supported earnings buckets.
func IsValidEarningsKind(kind string) bool {
	switch kind {
	case EarningsKindInterest, EarningsKindInvestment, EarningsKindDividend:
		return true
	default:
		return false
	}
}
