package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/models"
)

func TestProvisionFromRegistrationIsIdempotent(t *testing.T) {
	store, db := setupTestStore(t)
	provisioner := NewProvisionerService(store)
	ctx := context.Background()

	tx := seedPendingTransaction(t, store, &models.Transaction{
		Amount: mustDecimal("500"),
		Type:   domain.TxTypeRegistration,
	})

	meta := domain.RegistrationMetadata{
		Email:                   "njeri@example.com",
		FirstName:               "Njeri",
		LastName:                "Otieno",
		Phone:                   "254711000002",
		HashedTemporaryPassword: "$2a$10$hash",
		TemporaryPassword:       "A7pkXw29Qr",
	}

	first, err := provisioner.ProvisionFromRegistration(ctx, tx.ID, meta)
	require.NoError(t, err)
	assert.True(t, first.AccountCreated)
	assert.Equal(t, "A7pkXw29Qr", first.TemporaryPassword)
	assert.Equal(t, domain.FormatAccountNumber(first.Account.ID), first.Account.AccountNumber)
	assert.Len(t, first.Account.AccountNumber, 8)

	second, err := provisioner.ProvisionFromRegistration(ctx, tx.ID, meta)
	require.NoError(t, err)
	assert.False(t, second.AccountCreated, "replay reuses the existing account")
	assert.Equal(t, first.User.ID, second.User.ID)
	assert.Equal(t, first.Account.ID, second.Account.ID)

	var users, accounts int
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM users`).Scan(&users))
	require.NoError(t, db.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&accounts))
	assert.Equal(t, 1, users)
	assert.Equal(t, 1, accounts)
}

func TestProvisionLinksTransaction(t *testing.T) {
	store, _ := setupTestStore(t)
	provisioner := NewProvisionerService(store)
	ctx := context.Background()

	tx := seedPendingTransaction(t, store, &models.Transaction{
		Amount: mustDecimal("500"),
		Type:   domain.TxTypeRegistration,
	})

	result, err := provisioner.ProvisionFromRegistration(ctx, tx.ID, domain.RegistrationMetadata{
		Email:                   "link@example.com",
		FirstName:               "Amina",
		LastName:                "Yusuf",
		Phone:                   "254711000003",
		HashedTemporaryPassword: "$2a$10$hash",
	})
	require.NoError(t, err)

	got, err := store.Queries().GetTransaction(ctx, tx.ID.String())
	require.NoError(t, err)
	require.NotNil(t, got.UserID)
	require.NotNil(t, got.AccountID)
	assert.Equal(t, result.User.ID, *got.UserID)
	assert.Equal(t, result.Account.ID, *got.AccountID)
}

func TestProvisionDefaultsUnknownAccountType(t *testing.T) {
	store, _ := setupTestStore(t)
	provisioner := NewProvisionerService(store)

	tx := seedPendingTransaction(t, store, &models.Transaction{
		Amount: mustDecimal("500"),
		Type:   domain.TxTypeRegistration,
	})

	result, err := provisioner.ProvisionFromRegistration(context.Background(), tx.ID, domain.RegistrationMetadata{
		Email:                   "typed@example.com",
		AccountType:             "chama", // not a supported type
		HashedTemporaryPassword: "$2a$10$hash",
	})
	require.NoError(t, err)
	assert.Equal(t, domain.AccountTypeIndividual, result.Account.AccountType)
}

func TestProvisionRejectsIncompleteMetadata(t *testing.T) {
	store, _ := setupTestStore(t)
	provisioner := NewProvisionerService(store)

	cases := []struct {
		name string
		meta domain.RegistrationMetadata
	}{
		{name: "missing_email", meta: domain.RegistrationMetadata{HashedTemporaryPassword: "x"}},
		{name: "missing_password_hash", meta: domain.RegistrationMetadata{Email: "a@b.com"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := provisioner.ProvisionFromRegistration(context.Background(), uuid.New(), tc.meta)
			require.Error(t, err)
		})
	}
}
