package repository

import (
	"context"
	"encoding/json"
	"fmt"
)

// InsertAuditLog appends one audit trail row. Entity ids are stored as text so
// both UUID transaction ids and numeric account ids fit.
func (q *Queries) InsertAuditLog(ctx context.Context, entityType, entityID, action, prevState, nextState string, metadata json.RawMessage) error {
	query := `
		INSERT INTO audit_log (entity_type, entity_id, action, prev_state, next_state, metadata, created_at)
		VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, NOW())`
	if _, err := q.db.Exec(ctx, query, entityType, entityID, action, prevState, nextState, metadata); err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}
