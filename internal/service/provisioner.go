package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hazinapay/backend/internal/domain"
	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/repository"
)

// ProvisionerService creates or reuses the User and Account behind a completed
// registration. It must be idempotent: duplicate webhook delivery replays the
// same metadata and must land on the same rows.
type ProvisionerService struct {
	store QueryStore
	audit *AuditService
}

func NewProvisionerService(store QueryStore) *ProvisionerService {
	return &ProvisionerService{
		store: store,
		audit: NewAuditService(store),
	}
}

// ProvisionResult is the provisioner's handoff to the notification dispatcher.
// TemporaryPassword is the plaintext generated at initiation time; it is never
// regenerated here.
type ProvisionResult struct {
	User              *models.User
	Account           *models.Account
	AccountCreated    bool
	TemporaryPassword string
}

// ProvisionFromRegistration resolves the user by email and the account by
// (user, type), creating whichever is missing. Account-number assignment is
// two-phase: the row is persisted first to obtain its sequential id, then the
// 8-digit zero-padded number derived from that id is persisted.
func (s *ProvisionerService) ProvisionFromRegistration(ctx context.Context, transactionID uuid.UUID, meta domain.RegistrationMetadata) (*ProvisionResult, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}

	result := &ProvisionResult{TemporaryPassword: meta.TemporaryPassword}
	err := s.store.RunInTx(ctx, func(q *repository.Queries) error {
		user, err := q.GetUserByEmail(ctx, meta.Email)
		switch {
		case err == nil:
			// Duplicate delivery: refresh profile fields in place, never
			// create a second user.
			user.FirstName = meta.FirstName
			user.LastName = meta.LastName
			user.Phone = meta.Phone
			user.IDNumber = meta.IDNumber
			if _, err := q.UpdateUserProfile(ctx, user); err != nil {
				return err
			}
		case errors.Is(err, models.ErrUserNotFound):
			user = &models.User{
				ID:                  uuid.New(),
				Email:               meta.Email,
				FirstName:           meta.FirstName,
				LastName:            meta.LastName,
				Phone:               meta.Phone,
				IDNumber:            meta.IDNumber,
				Role:                domain.RoleMember,
				PasswordHash:        meta.HashedTemporaryPassword,
				PINHash:             meta.HashedPIN,
				IsTemporaryPassword: true,
			}
			if err := q.CreateUser(ctx, user); err != nil {
				return err
			}
		default:
			return err
		}
		result.User = user

		accountType := meta.NormalizedAccountType()
		account, err := q.GetAccountByUserAndType(ctx, user.ID.String(), accountType)
		switch {
		case err == nil:
			// Reuse; covers duplicate webhook delivery.
		case errors.Is(err, models.ErrAccountNotFound):
			account = &models.Account{
				UserID:        user.ID,
				AccountType:   accountType,
				AccountStatus: domain.AccountStatusActive,
				KYCVerified:   meta.KYCVerified,
			}
			if err := q.CreateAccount(ctx, account); err != nil {
				// A concurrent provisioning run may have won the unique
				// (user_id, account_type) race; fall back to the winner's row.
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "23505" {
					account, err = q.GetAccountByUserAndType(ctx, user.ID.String(), accountType)
					if err != nil {
						return err
					}
					break
				}
				return err
			}
			account.AccountNumber = domain.FormatAccountNumber(account.ID)
			rows, err := q.SetAccountNumber(ctx, account.ID, account.AccountNumber)
			if err != nil {
				return err
			}
			if err := requireExactlyOne(rows, "set account number"); err != nil {
				return err
			}
			result.AccountCreated = true
		default:
			return err
		}
		result.Account = account

		if _, err := q.LinkTransactionAccount(ctx, transactionID.String(), user.ID.String(), account.ID); err != nil {
			return err
		}

		action := "account_reused"
		if result.AccountCreated {
			action = "account_provisioned"
		}
		auditMeta, _ := domain.EncodeMetadata(map[string]string{
			"transaction_id": transactionID.String(),
			"account_number": account.AccountNumber,
		})
		return s.audit.Write(ctx, q, "account", fmt.Sprintf("%d", account.ID), action, "", "", auditMeta)
	})
	if err != nil {
		return nil, fmt.Errorf("provision registration: %w", err)
	}
	return result, nil
}
