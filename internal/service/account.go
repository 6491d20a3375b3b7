package service

import (
	"context"

	"github.com/hazinapay/backend/internal/models"
)

// AccountService serves account reads: the balance summary and the paged
// transaction statement.
type AccountService struct {
	store QueryStore
}

func NewAccountService(store QueryStore) *AccountService {
	return &AccountService{store: store}
}

func (s *AccountService) GetAccount(ctx context.Context, accountID int64) (*models.Account, error) {
	return s.store.Queries().GetAccount(ctx, accountID)
}

func (s *AccountService) GetStatement(ctx context.Context, accountID int64, page, pageSize int) ([]models.Transaction, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize
	return s.store.Queries().ListTransactionsByAccount(ctx, accountID, pageSize, offset)
}
