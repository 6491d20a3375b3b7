package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/notify"
	"github.com/hazinapay/backend/internal/observability"
	"github.com/hazinapay/backend/internal/repository"
)

// fallbackScanLimit bounds the deprecated metadata-scan lookup tier.
const fallbackScanLimit = 50

// ReconcilerService consumes provider callbacks: it locates the pending
// transaction behind each checkout identifier, performs the one-way status
// transition and triggers the completion side effects. The transition is a
// single conditional update, so two near-simultaneous deliveries of the same
// callback can finalize the row (and run side effects) at most once.
type ReconcilerService struct {
	store       QueryStore
	balance     *BalanceService
	provisioner *ProvisionerService
	notifier    notify.Dispatcher
	audit       *AuditService
	logger      *zap.Logger
}

func NewReconcilerService(store QueryStore, balance *BalanceService, provisioner *ProvisionerService, notifier notify.Dispatcher, logger *zap.Logger) *ReconcilerService {
	if logger == nil {
		logger = zap.L()
	}
	if notifier == nil {
		notifier = notify.NopDispatcher{}
	}
	return &ReconcilerService{
		store:       store,
		balance:     balance,
		provisioner: provisioner,
		notifier:    notifier,
		audit:       NewAuditService(store),
		logger:      logger,
	}
}

// ReconcileInput is the normalized callback consumed by the reconciler; the
// handler translates the provider's envelope into this.
type ReconcileInput struct {
	CheckoutRequestID string
	ResultCode        int
	ResultDesc        string
	ReceiptNumber     string
	Phone             string
	Balance           string
	TransactionDate   string
}

// Process reconciles one callback. It returns ErrTransactionNotFound when no
// lookup tier matched; the webhook handler still acknowledges success in that
// case, because a non-success acknowledgement only makes the provider retry a
// permanently unmatchable event.
func (s *ReconcilerService) Process(ctx context.Context, input ReconcileInput) error {
	if input.CheckoutRequestID == "" {
		observability.IncrementWebhookEvent("invalid")
		return errors.New("callback missing checkout identifier")
	}

	tx, err := s.lookup(ctx, input.CheckoutRequestID)
	if err != nil {
		if errors.Is(err, models.ErrTransactionNotFound) {
			observability.IncrementWebhookEvent("unmatched")
			s.logger.Warn("callback matched no transaction, acknowledging anyway",
				zap.String("checkout_request_id", input.CheckoutRequestID),
				zap.Int("result_code", input.ResultCode),
			)
		}
		return err
	}

	if domain.IsTerminalStatus(tx.Status) {
		// Re-delivery for an already-terminal transaction is a no-op success.
		observability.IncrementWebhookEvent("duplicate")
		return nil
	}

	receipt := domain.ReceiptMetadata{
		MpesaReceipt:    input.ReceiptNumber,
		Phone:           input.Phone,
		Balance:         input.Balance,
		TransactionDate: input.TransactionDate,
		ResultCode:      input.ResultCode,
		ResultDesc:      input.ResultDesc,
	}
	merged, err := domain.MergeReceipt(tx.Metadata, receipt)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", tx.ID, err)
	}

	nextStatus := domain.TxStatusCompleted
	if input.ResultCode != domain.ResultCodeSuccess {
		nextStatus = domain.TxStatusFailed
	}

	rows, err := s.store.Queries().FinalizeTransactionIfPending(ctx, tx.ID.String(), nextStatus, merged)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", tx.ID, err)
	}
	if rows == 0 {
		// Another delivery won the conditional update; already handled.
		observability.IncrementWebhookEvent("duplicate")
		return nil
	}
	s.audit.WriteBestEffort(ctx, "transaction", tx.ID.String(), "reconciled", domain.TxStatusPending, nextStatus, merged)

	if nextStatus == domain.TxStatusFailed {
		observability.IncrementWebhookEvent("failed")
		s.logger.Info("transaction failed at provider",
			zap.String("transaction_id", tx.ID.String()),
			zap.Int("result_code", input.ResultCode),
			zap.String("result_desc", input.ResultDesc),
		)
		return nil
	}

	observability.IncrementWebhookEvent("completed")
	tx.Metadata = merged
	s.runCompletionSideEffects(ctx, tx, input)
	return nil
}

// runCompletionSideEffects fires the downstream effects of a completion. Each
// effect is attempted independently; a failure is logged, never re-raised into
// the webhook response, and never rolls back the committed transition.
func (s *ReconcilerService) runCompletionSideEffects(ctx context.Context, tx *models.Transaction, input ReconcileInput) {
	if domain.IsCreditOnCompletion(tx.Type) && tx.AccountID != nil {
		if err := s.creditAccount(ctx, tx); err != nil {
			s.logger.Error("completion credit failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.Int64("account_id", *tx.AccountID),
				zap.Error(err),
			)
		} else {
			s.notifier.Dispatch(ctx, notify.Message{
				To:       input.Phone,
				Channel:  notify.ChannelSMS,
				Template: notify.TemplatePaymentReceived,
				Data: map[string]string{
					"amount":  tx.Amount.String(),
					"receipt": input.ReceiptNumber,
				},
			})
		}
	}

	if tx.Type == domain.TxTypeRegistration {
		if err := s.provisionRegistration(ctx, tx); err != nil {
			s.logger.Error("completion provisioning failed",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err),
			)
		}
	}
}

// creditAccount runs in its own transaction, after the status transition has
// already committed. A crash between the two leaves the row terminal without
// the credit; the audit row written at transition time is the trail for
// recovering such a gap. The split keeps the webhook transition at-most-once:
// a credit failure never rolls the row back to pending, so a provider retry
// can never double-credit.
func (s *ReconcilerService) creditAccount(ctx context.Context, tx *models.Transaction) error {
	return s.store.RunInTx(ctx, func(q *repository.Queries) error {
		return s.balance.CreditInTx(ctx, q, *tx.AccountID, tx.Amount, tx.Type)
	})
}

func (s *ReconcilerService) provisionRegistration(ctx context.Context, tx *models.Transaction) error {
	meta, err := domain.DecodeRegistrationMetadata(tx.Metadata)
	if err != nil {
		return err
	}
	result, err := s.provisioner.ProvisionFromRegistration(ctx, tx.ID, meta)
	if err != nil {
		return err
	}

	if result.TemporaryPassword != "" {
		s.notifier.Dispatch(ctx, notify.Message{
			To:       result.User.Phone,
			Channel:  notify.ChannelSMS,
			Template: notify.TemplateTemporaryPassword,
			Data: map[string]string{
				"account_number":     result.Account.AccountNumber,
				"temporary_password": result.TemporaryPassword,
			},
		})
		// Scrub the plaintext now that it has been handed off.
		scrubbed, err := domain.RemoveMetadataKey(tx.Metadata, "temporaryPassword")
		if err == nil {
			_, err = s.store.Queries().UpdateTransactionMetadata(ctx, tx.ID.String(), scrubbed)
		}
		if err != nil {
			s.logger.Warn("failed to scrub temporary password from metadata",
				zap.String("transaction_id", tx.ID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// lookup runs the ordered fallback chain, first match wins. Tier one is the
// indexed column; the scan and JSONB-probe tiers only exist for rows written
// before the column was reliably populated.
func (s *ReconcilerService) lookup(ctx context.Context, checkoutID string) (*models.Transaction, error) {
	queries := s.store.Queries()

	tx, err := queries.GetTransactionByCheckoutID(ctx, checkoutID)
	if err == nil {
		observability.IncrementLookupTier("indexed")
		return tx, nil
	}
	if !errors.Is(err, models.ErrTransactionNotFound) {
		return nil, err
	}

	pending, err := queries.ListRecentPending(ctx, fallbackScanLimit)
	if err != nil {
		return nil, err
	}
	for i := range pending {
		if id, ok := domain.ExtractCheckoutID(pending[i].Metadata); ok && id == checkoutID {
			observability.IncrementLookupTier("metadata_scan")
			return &pending[i], nil
		}
	}

	tx, err = queries.GetPendingByMetadataCheckoutID(ctx, domain.PrimaryCheckoutIDKey, checkoutID)
	if err == nil {
		observability.IncrementLookupTier("jsonb_probe")
		return tx, nil
	}
	if errors.Is(err, models.ErrTransactionNotFound) {
		observability.IncrementLookupTier("unmatched")
	}
	return nil, err
}
