package repository

import (
	"context"
	"fmt"
)

// IdempotencyRow mirrors one row of idempotency_keys.
type IdempotencyRow struct {
	IdempotencyKey string
	RequestHash    string
	Method         string
	Path           string
	ResponseStatus int32
	ResponseBody   []byte
	ContentType    string
	InProgress     bool
}

// GetIdempotencyKey fetches a stored idempotency record.
func (q *Queries) GetIdempotencyKey(ctx context.Context, key string) (IdempotencyRow, error) {
	var row IdempotencyRow
	query := `
		SELECT idempotency_key, request_hash, method, path,
			COALESCE(response_status, 0), COALESCE(response_body, ''::bytea),
			COALESCE(content_type, ''), in_progress
		FROM idempotency_keys
		WHERE idempotency_key = $1`
	err := q.db.QueryRow(ctx, query, key).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	if err != nil {
		return row, err
	}
	return row, nil
}

// ReserveIdempotencyKey claims a key for an in-flight request. The insert is
// conditional on the key not existing; pgx.ErrNoRows from the RETURNING scan
// means someone else holds it.
func (q *Queries) ReserveIdempotencyKey(ctx context.Context, key, requestHash, method, path string) (IdempotencyRow, error) {
	var row IdempotencyRow
	query := `
		INSERT INTO idempotency_keys (idempotency_key, request_hash, method, path, in_progress, created_at, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, NOW(), NOW())
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING idempotency_key, request_hash, method, path, 0, ''::bytea, '', in_progress`
	err := q.db.QueryRow(ctx, query, key, requestHash, method, path).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	if err != nil {
		return row, err
	}
	return row, nil
}

// FinalizeIdempotencyKey stores the response for replay and releases the claim.
func (q *Queries) FinalizeIdempotencyKey(ctx context.Context, key, requestHash string, status int32, body []byte, contentType string) (IdempotencyRow, error) {
	var row IdempotencyRow
	query := `
		UPDATE idempotency_keys
		SET response_status = $3, response_body = $4, content_type = $5, in_progress = FALSE, updated_at = NOW()
		WHERE idempotency_key = $1 AND request_hash = $2
		RETURNING idempotency_key, request_hash, method, path, response_status, response_body, content_type, in_progress`
	err := q.db.QueryRow(ctx, query, key, requestHash, status, body, contentType).Scan(
		&row.IdempotencyKey, &row.RequestHash, &row.Method, &row.Path,
		&row.ResponseStatus, &row.ResponseBody, &row.ContentType, &row.InProgress)
	if err != nil {
		return row, fmt.Errorf("finalize idempotency key: %w", err)
	}
	return row, nil
}
