package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazinapay/backend/internal/credentials"
	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/mpesa"
	"github.com/hazinapay/backend/internal/repository"
)

// stubGateway returns canned responses instead of calling the provider.
type stubGateway struct {
	resp  *mpesa.STKPushResponse
	err   error
	calls int
	last  mpesa.STKPushRequest
}

func (g *stubGateway) InitiateSTKPush(_ context.Context, req mpesa.STKPushRequest) (*mpesa.STKPushResponse, error) {
	g.calls++
	g.last = req
	if g.err != nil {
		return nil, g.err
	}
	return g.resp, nil
}

func newPaymentsService(store *repository.Store, gateway mpesa.Gateway) *PaymentsService {
	creds := credentials.NewService().WithCost(4) // min bcrypt cost keeps tests fast
	return NewPaymentsService(store, gateway, creds, mustDecimal("500"), nil)
}

func TestInitiateRegistrationCreatesPending(t *testing.T) {
	store, _ := setupTestStore(t)
	gateway := &stubGateway{resp: &mpesa.STKPushResponse{CheckoutRequestID: "ws_CO_reg_ok"}}
	payments := newPaymentsService(store, gateway)
	ctx := context.Background()

	resp, err := payments.InitiateRegistration(ctx, RegistrationRequest{
		Email:     "Init@Example.com",
		FirstName: "Grace",
		LastName:  "Mutua",
		Phone:     "254722000004",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_reg_ok", resp.CheckoutRequestID)
	assert.Equal(t, domain.TxStatusPending, resp.Status)

	got, err := store.Queries().GetTransactionByCheckoutID(ctx, "ws_CO_reg_ok")
	require.NoError(t, err)
	assert.Equal(t, domain.TxTypeRegistration, got.Type)
	assert.True(t, got.Amount.Equal(mustDecimal("500")), "registration fee from config")

	meta, err := domain.DecodeRegistrationMetadata(got.Metadata)
	require.NoError(t, err)
	assert.Equal(t, "init@example.com", meta.Email, "email is normalized")
	assert.NotEmpty(t, meta.HashedTemporaryPassword)
	assert.NotEmpty(t, meta.TemporaryPassword, "plaintext rides along until provisioning")
	assert.NotEqual(t, meta.TemporaryPassword, meta.HashedTemporaryPassword)

	assert.Equal(t, 1, gateway.calls)
	assert.True(t, gateway.last.Amount.Equal(mustDecimal("500")))
}

func TestInitiateRegistrationValidatesForm(t *testing.T) {
	store, _ := setupTestStore(t)
	gateway := &stubGateway{resp: &mpesa.STKPushResponse{CheckoutRequestID: "unused"}}
	payments := newPaymentsService(store, gateway)

	cases := []struct {
		name string
		req  RegistrationRequest
	}{
		{name: "missing_email", req: RegistrationRequest{Phone: "2547", FirstName: "A", LastName: "B"}},
		{name: "bad_email", req: RegistrationRequest{Email: "nope", Phone: "2547", FirstName: "A", LastName: "B"}},
		{name: "missing_phone", req: RegistrationRequest{Email: "a@b.com", FirstName: "A", LastName: "B"}},
		{name: "missing_names", req: RegistrationRequest{Email: "a@b.com", Phone: "2547"}},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := payments.InitiateRegistration(context.Background(), tc.req)
			require.Error(t, err)
			assert.Zero(t, gateway.calls, "no push before validation passes")
		})
	}
}

func TestInitiateDepositGatewayFailureMarksFailed(t *testing.T) {
	store, _ := setupTestStore(t)
	gateway := &stubGateway{err: mpesa.ErrGatewayUnavailable}
	payments := newPaymentsService(store, gateway)
	ctx := context.Background()

	_, account := seedMemberAccount(t, store)

	_, err := payments.InitiateDeposit(ctx, domain.TxTypeDeposit, DepositRequest{
		AccountID: account.ID,
		Amount:    mustDecimal("100"),
		Phone:     "254722000004",
	})
	require.ErrorIs(t, err, mpesa.ErrGatewayUnavailable)

	// The pending record was created first, then finalized as failed.
	txs, err := store.Queries().ListTransactionsByAccount(ctx, account.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, txs, 1)
	assert.Equal(t, domain.TxStatusFailed, txs[0].Status)

	var meta map[string]interface{}
	require.NoError(t, json.Unmarshal(txs[0].Metadata, &meta))
	assert.Contains(t, meta, "failureReason")
}

func TestInitiateDepositRejectsUnknownType(t *testing.T) {
	store, _ := setupTestStore(t)
	payments := newPaymentsService(store, &stubGateway{})
	_, account := seedMemberAccount(t, store)

	_, err := payments.InitiateDeposit(context.Background(), domain.TxTypeWithdrawalSavings, DepositRequest{
		AccountID: account.ID,
		Amount:    mustDecimal("100"),
		Phone:     "2547",
	})
	require.Error(t, err)
}

func TestInitiateDepositUnknownAccount(t *testing.T) {
	store, _ := setupTestStore(t)
	payments := newPaymentsService(store, &stubGateway{})

	_, err := payments.InitiateDeposit(context.Background(), domain.TxTypeDeposit, DepositRequest{
		AccountID: 99999,
		Amount:    mustDecimal("100"),
		Phone:     "2547",
	})
	require.ErrorIs(t, err, models.ErrAccountNotFound)
}

func TestInitiateRecordsSyntheticCheckoutID(t *testing.T) {
	store, _ := setupTestStore(t)
	syntheticID := domain.SyntheticCheckoutPrefix + "0b7a8c1e"
	gateway := &stubGateway{resp: &mpesa.STKPushResponse{CheckoutRequestID: syntheticID, Synthetic: true}}
	payments := newPaymentsService(store, gateway)
	ctx := context.Background()

	_, account := seedMemberAccount(t, store)
	resp, err := payments.InitiateDeposit(ctx, domain.TxTypeDeposit, DepositRequest{
		AccountID: account.ID,
		Amount:    mustDecimal("50"),
		Phone:     "2547",
	})
	require.NoError(t, err)
	assert.Equal(t, syntheticID, resp.CheckoutRequestID)

	got, err := store.Queries().GetTransactionByCheckoutID(ctx, syntheticID)
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusPending, got.Status, "synthetic rows stay pending for the sweep to report")
}

func TestStatusByCheckoutIDStages(t *testing.T) {
	store, _ := setupTestStore(t)
	payments := newPaymentsService(store, &stubGateway{})
	ctx := context.Background()

	cases := []struct {
		name   string
		txType string
		status string
		stage  string
	}{
		{name: "pending", txType: domain.TxTypeDeposit, status: domain.TxStatusPending, stage: "pending"},
		{name: "registration_done", txType: domain.TxTypeRegistration, status: domain.TxStatusCompleted, stage: "registration_completed"},
		{name: "payment_done", txType: domain.TxTypeDeposit, status: domain.TxStatusCompleted, stage: "payment_completed"},
		{name: "failed", txType: domain.TxTypeContribution, status: domain.TxStatusFailed, stage: "payment_failed"},
	}
	for _, tc := range cases {
		tc := tc
		checkoutID := "ws_CO_stage_" + tc.name
		seedPendingTransaction(t, store, &models.Transaction{
			Amount:            mustDecimal("10"),
			Type:              tc.txType,
			Status:            tc.status,
			CheckoutRequestID: &checkoutID,
		})
		t.Run(tc.name, func(t *testing.T) {
			resp, err := payments.StatusByCheckoutID(ctx, checkoutID)
			require.NoError(t, err)
			assert.Equal(t, tc.stage, resp.Stage)
			assert.Equal(t, tc.status, resp.Status)
		})
	}

	_, err := payments.StatusByCheckoutID(ctx, "ws_CO_missing")
	require.True(t, errors.Is(err, models.ErrTransactionNotFound))
}
