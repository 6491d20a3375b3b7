package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Transaction metadata is persisted as a single JSONB column. The shape depends
// on the transaction type, so each type gets its own struct decoded at read
// time instead of callers poking at an untyped map.

// checkoutIDKeys lists every key name that has historically carried the
// checkout identifier inside metadata. Only the first is written today; the
// rest survive so the fallback lookup tiers can still match old rows.
var checkoutIDKeys = []string{
	"checkoutRequestId",
	"checkout_request_id",
	"CheckoutRequestID",
	"checkoutId",
}

// PrimaryCheckoutIDKey is the metadata key written by current code paths and
// probed by the targeted JSONB lookup tier.
const PrimaryCheckoutIDKey = "checkoutRequestId"

// RegistrationMetadata carries the registration form captured at initiation.
// TemporaryPassword is the plaintext generated at initiation; it rides along
// only until provisioning hands it to the notifier, then it is scrubbed.
type RegistrationMetadata struct {
	Email                   string `json:"email"`
	FirstName               string `json:"firstName"`
	LastName                string `json:"lastName"`
	Phone                   string `json:"phone"`
	IDNumber                string `json:"idNumber,omitempty"`
	AccountType             string `json:"accountType,omitempty"`
	HashedTemporaryPassword string `json:"hashedTemporaryPassword"`
	TemporaryPassword       string `json:"temporaryPassword,omitempty"`
	HashedPIN               string `json:"hashedPin,omitempty"`
	KYCVerified             bool   `json:"kycVerified,omitempty"`
}

// Validate checks the fields the provisioner cannot proceed without.
func (m RegistrationMetadata) Validate() error {
	if strings.TrimSpace(m.Email) == "" {
		return errors.New("registration metadata: email is required")
	}
	if m.HashedTemporaryPassword == "" {
		return errors.New("registration metadata: hashedTemporaryPassword is required")
	}
	return nil
}

// NormalizedAccountType defaults to an individual account when the form left
// the type blank or carried an unknown value.
func (m RegistrationMetadata) NormalizedAccountType() string {
	switch m.AccountType {
	case AccountTypeIndividual, AccountTypeCorporate:
		return m.AccountType
	default:
		return AccountTypeIndividual
	}
}

// DepositMetadata covers deposit, payment and contribution initiations.
type DepositMetadata struct {
	Phone     string `json:"phone"`
	Narrative string `json:"narrative,omitempty"`
}

// WithdrawalMetadata records the destination of a withdrawal.
type WithdrawalMetadata struct {
	Phone  string `json:"phone"`
	Reason string `json:"reason,omitempty"`
}

// ReceiptMetadata holds the provider-supplied fields delivered with a callback.
type ReceiptMetadata struct {
	MpesaReceipt    string `json:"mpesaReceipt,omitempty"`
	Phone           string `json:"payerPhone,omitempty"`
	Balance         string `json:"providerBalance,omitempty"`
	TransactionDate string `json:"providerTransactionDate,omitempty"`
	ResultCode      int    `json:"resultCode"`
	ResultDesc      string `json:"resultDesc,omitempty"`
}

// DecodeRegistrationMetadata parses and validates registration metadata.
func DecodeRegistrationMetadata(raw []byte) (RegistrationMetadata, error) {
	var m RegistrationMetadata
	if len(raw) == 0 {
		return m, errors.New("registration metadata: empty payload")
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("registration metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return m, err
	}
	return m, nil
}

// EncodeMetadata serializes a typed metadata struct for storage.
func EncodeMetadata(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}
	return raw, nil
}

// MergeReceipt folds the provider receipt fields into existing metadata without
// discarding the original payload; provisioning still needs the initiation
// fields after the callback lands.
func MergeReceipt(raw []byte, receipt ReceiptMetadata) ([]byte, error) {
	base := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &base); err != nil {
			return nil, fmt.Errorf("merge receipt: existing metadata: %w", err)
		}
	}
	patch, err := json.Marshal(receipt)
	if err != nil {
		return nil, fmt.Errorf("merge receipt: %w", err)
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(patch, &fields); err != nil {
		return nil, fmt.Errorf("merge receipt: %w", err)
	}
	for k, v := range fields {
		base[k] = v
	}
	return json.Marshal(base)
}

// MergeFailureReason records why a transaction was marked failed.
func MergeFailureReason(raw []byte, reason string) ([]byte, error) {
	base := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &base); err != nil {
			return nil, fmt.Errorf("merge failure reason: %w", err)
		}
	}
	encoded, err := json.Marshal(reason)
	if err != nil {
		return nil, err
	}
	base["failureReason"] = encoded
	return json.Marshal(base)
}

// SetCheckoutID writes the checkout identifier under the primary key.
func SetCheckoutID(raw []byte, checkoutID string) ([]byte, error) {
	base := map[string]json.RawMessage{}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &base); err != nil {
			return nil, fmt.Errorf("set checkout id: %w", err)
		}
	}
	encoded, err := json.Marshal(checkoutID)
	if err != nil {
		return nil, err
	}
	base[PrimaryCheckoutIDKey] = encoded
	return json.Marshal(base)
}

// RemoveMetadataKey drops one key from a metadata payload. Used to scrub the
// plaintext temporary password once it has been handed to the notifier.
func RemoveMetadataKey(raw []byte, key string) ([]byte, error) {
	if len(raw) == 0 {
		return raw, nil
	}
	base := map[string]json.RawMessage{}
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, fmt.Errorf("remove metadata key: %w", err)
	}
	delete(base, key)
	return json.Marshal(base)
}

// ExtractCheckoutID scans metadata for the checkout identifier under any of the
// historically used key names. Used by the fallback lookup tier only.
func ExtractCheckoutID(raw []byte) (string, bool) {
	if len(raw) == 0 {
		return "", false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return "", false
	}
	for _, key := range checkoutIDKeys {
		v, ok := fields[key]
		if !ok {
			continue
		}
		var id string
		if err := json.Unmarshal(v, &id); err == nil && id != "" {
			return id, true
		}
	}
	return "", false
}
