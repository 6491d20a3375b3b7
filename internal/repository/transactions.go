package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/hazinapay/backend/internal/models"
)

const transactionColumns = `id, user_id, account_id, amount, type, status,
	checkout_request_id, metadata, created_at, updated_at`

func scanTransaction(row pgx.Row, t *models.Transaction) error {
	return row.Scan(&t.ID, &t.UserID, &t.AccountID, &t.Amount, &t.Type, &t.Status,
		&t.CheckoutRequestID, &t.Metadata, &t.CreatedAt, &t.UpdatedAt)
}

// CreateTransaction inserts a new pending payment attempt.
func (q *Queries) CreateTransaction(ctx context.Context, tx *models.Transaction) error {
	query := `
		INSERT INTO transactions (id, user_id, account_id, amount, type, status, checkout_request_id, metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		RETURNING created_at, updated_at`
	err := q.db.QueryRow(ctx, query,
		tx.ID, tx.UserID, tx.AccountID, tx.Amount, tx.Type, tx.Status, tx.CheckoutRequestID, tx.Metadata,
	).Scan(&tx.CreatedAt, &tx.UpdatedAt)
	if err != nil {
		return fmt.Errorf("create transaction: %w", err)
	}
	return nil
}

// GetTransaction fetches one transaction by id.
func (q *Queries) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE id = $1`
	if err := scanTransaction(q.db.QueryRow(ctx, query, id), tx); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction: %w", err)
	}
	return tx, nil
}

// GetTransactionByCheckoutID is the indexed primary lookup tier.
func (q *Queries) GetTransactionByCheckoutID(ctx context.Context, checkoutID string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	query := `SELECT ` + transactionColumns + ` FROM transactions WHERE checkout_request_id = $1`
	if err := scanTransaction(q.db.QueryRow(ctx, query, checkoutID), tx); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get transaction by checkout id: %w", err)
	}
	return tx, nil
}

// ListRecentPending returns the most recently created pending transactions.
//
// Deprecated: only the metadata-scan fallback tier uses this; it goes away once
// every writer reliably populates checkout_request_id.
func (q *Queries) ListRecentPending(ctx context.Context, limit int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending'
		ORDER BY created_at DESC
		LIMIT $1`
	rows, err := q.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent pending: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, fmt.Errorf("scan pending transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// GetPendingByMetadataCheckoutID probes the metadata payload for the checkout
// identifier under the primary key name.
//
// Deprecated: last-resort lookup tier, same retirement path as ListRecentPending.
func (q *Queries) GetPendingByMetadataCheckoutID(ctx context.Context, key, checkoutID string) (*models.Transaction, error) {
	tx := &models.Transaction{}
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND metadata ->> $1 = $2
		ORDER BY created_at DESC
		LIMIT 1`
	if err := scanTransaction(q.db.QueryRow(ctx, query, key, checkoutID), tx); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, models.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("get pending by metadata checkout id: %w", err)
	}
	return tx, nil
}

// FinalizeTransactionIfPending performs the one-way status transition as a
// single conditional update. Zero affected rows means another delivery already
// finalized the row; callers treat that as handled, not as an error.
func (q *Queries) FinalizeTransactionIfPending(ctx context.Context, id string, status string, metadata json.RawMessage) (int64, error) {
	query := `
		UPDATE transactions
		SET status = $2, metadata = COALESCE($3, metadata), updated_at = NOW()
		WHERE id = $1 AND status = 'pending'`
	tag, err := q.db.Exec(ctx, query, id, status, metadata)
	if err != nil {
		return 0, fmt.Errorf("finalize transaction: %w", err)
	}
	return tag.RowsAffected(), nil
}

// SetTransactionCheckoutID records the provider-assigned (or synthesized)
// checkout identifier once initiation succeeds.
func (q *Queries) SetTransactionCheckoutID(ctx context.Context, id string, checkoutID string, metadata json.RawMessage) (int64, error) {
	query := `
		UPDATE transactions
		SET checkout_request_id = $2, metadata = COALESCE($3, metadata), updated_at = NOW()
		WHERE id = $1`
	tag, err := q.db.Exec(ctx, query, id, checkoutID, metadata)
	if err != nil {
		return 0, fmt.Errorf("set transaction checkout id: %w", err)
	}
	return tag.RowsAffected(), nil
}

// UpdateTransactionMetadata replaces the metadata payload.
func (q *Queries) UpdateTransactionMetadata(ctx context.Context, id string, metadata json.RawMessage) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions SET metadata = $2, updated_at = NOW() WHERE id = $1`,
		id, metadata)
	if err != nil {
		return 0, fmt.Errorf("update transaction metadata: %w", err)
	}
	return tag.RowsAffected(), nil
}

// LinkTransactionAccount attaches the provisioned account to a transaction.
func (q *Queries) LinkTransactionAccount(ctx context.Context, id string, userID string, accountID int64) (int64, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE transactions SET user_id = $2, account_id = $3, updated_at = NOW() WHERE id = $1`,
		id, userID, accountID)
	if err != nil {
		return 0, fmt.Errorf("link transaction account: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListTransactionsByAccount pages the append-only audit trail for a statement.
func (q *Queries) ListTransactionsByAccount(ctx context.Context, accountID int64, limit, offset int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`
	rows, err := q.db.Query(ctx, query, accountID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list transactions by account: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}

// ListStalePending returns pending transactions created before the cutoff,
// oldest first. The stale-pending worker reports these; it never mutates them.
func (q *Queries) ListStalePending(ctx context.Context, cutoff time.Time, limit int) ([]models.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE status = 'pending' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2`
	rows, err := q.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending: %w", err)
	}
	defer rows.Close()

	var txs []models.Transaction
	for rows.Next() {
		var t models.Transaction
		if err := scanTransaction(rows, &t); err != nil {
			return nil, fmt.Errorf("scan stale pending: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
