package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Amounts are stored as NUMERIC(14,2) and handled as shopspring decimals.
// Withdrawals are persisted with a negative sign; every other type positive.

// ValidatePositiveAmount rejects non-positive or sub-cent amounts.
func ValidatePositiveAmount(amount decimal.Decimal) error {
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("amount must be positive, got %s", amount)
	}
	if amount.Exponent() < -2 {
		return fmt.Errorf("amount %s has more than two decimal places", amount)
	}
	return nil
}

// WholeShillings rounds an amount to the integer value the STK API expects.
func WholeShillings(amount decimal.Decimal) int64 {
	return amount.Round(0).IntPart()
}

// FormatAccountNumber derives the human-facing account number from the
// storage-assigned sequential id: an 8-digit zero-padded decimal.
func FormatAccountNumber(id int64) string {
	return fmt.Sprintf("%08d", id)
}
