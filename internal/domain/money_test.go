package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePositiveAmount(t *testing.T) {
	cases := []struct {
		name   string
		amount string
		valid  bool
	}{
		{name: "whole", amount: "100", valid: true},
		{name: "two_decimals", amount: "99.99", valid: true},
		{name: "one_decimal", amount: "0.5", valid: true},
		{name: "zero", amount: "0", valid: false},
		{name: "negative", amount: "-1", valid: false},
		{name: "three_decimals", amount: "1.001", valid: false},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			err := ValidatePositiveAmount(decimal.RequireFromString(tc.amount))
			if tc.valid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestWholeShillings(t *testing.T) {
	assert.EqualValues(t, 500, WholeShillings(decimal.RequireFromString("500")))
	assert.EqualValues(t, 500, WholeShillings(decimal.RequireFromString("499.99")))
	assert.EqualValues(t, 499, WholeShillings(decimal.RequireFromString("499.49")))
}

func TestFormatAccountNumber(t *testing.T) {
	assert.Equal(t, "00000001", FormatAccountNumber(1))
	assert.Equal(t, "00012345", FormatAccountNumber(12345))
	assert.Equal(t, "99999999", FormatAccountNumber(99999999))
	assert.Len(t, FormatAccountNumber(7), 8)
}
