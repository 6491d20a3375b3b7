package service

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/hazinapay/backend/internal/repository"
)

// AuditService appends audit trail rows for state transitions and balance
// mutations. Audit writes inside a transaction share its atomicity; standalone
// writes only log on failure.
type AuditService struct {
	store QueryStore
}

func NewAuditService(store QueryStore) *AuditService {
	return &AuditService{store: store}
}

// Write appends one audit row using the supplied (possibly transactional) queries.
func (s *AuditService) Write(ctx context.Context, q *repository.Queries, entityType, entityID, action, prevState, nextState string, metadata json.RawMessage) error {
	return q.InsertAuditLog(ctx, entityType, entityID, action, prevState, nextState, metadata)
}

// WriteBestEffort appends outside any transaction and swallows failures.
func (s *AuditService) WriteBestEffort(ctx context.Context, entityType, entityID, action, prevState, nextState string, metadata json.RawMessage) {
	if err := s.store.Queries().InsertAuditLog(ctx, entityType, entityID, action, prevState, nextState, metadata); err != nil {
		zap.L().Warn("audit write failed",
			zap.String("entity_type", entityType),
			zap.String("entity_id", entityID),
			zap.String("action", action),
			zap.Error(err),
		)
	}
}
