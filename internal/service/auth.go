package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hazinapay/backend/internal/credentials"
	"github.com/hazinapay/backend/internal/models"
	"github.com/hazinapay/backend/internal/repository"
)

var ErrInvalidCredentials = errors.New("invalid credentials")

// AuthService covers the minimum credential surface: verified login and the
// mandatory replacement of the temporary password issued at registration.
type AuthService struct {
	store     QueryStore
	creds     *credentials.Service
	jwtSecret []byte
	issuer    string
	audience  string
	tokenTTL  time.Duration
}

func NewAuthService(store QueryStore, creds *credentials.Service, jwtSecret, issuer, audience string) *AuthService {
	return &AuthService{
		store:     store,
		creds:     creds,
		jwtSecret: []byte(jwtSecret),
		issuer:    issuer,
		audience:  audience,
		tokenTTL:  time.Hour,
	}
}

// LoginResult carries the bearer token. PasswordChangeRequired stays true
// until the temporary password has been replaced.
type LoginResult struct {
	Token                  string `json:"token"`
	UserID                 string `json:"user_id"`
	Role                   string `json:"role"`
	PasswordChangeRequired bool   `json:"password_change_required"`
}

// Login verifies the password and issues an HS256 token.
func (s *AuthService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	user, err := s.store.Queries().GetUserByEmail(ctx, strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		if errors.Is(err, models.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !s.creds.Compare(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID.String(),
		"role":    user.Role,
		"sub":     user.ID.String(),
		"iss":     s.issuer,
		"aud":     s.audience,
		"iat":     now.Unix(),
		"exp":     now.Add(s.tokenTTL).Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return nil, err
	}

	return &LoginResult{
		Token:                  signed,
		UserID:                 user.ID.String(),
		Role:                   user.Role,
		PasswordChangeRequired: user.IsTemporaryPassword,
	}, nil
}

// ReplacePassword swaps the temporary password for a caller-chosen one after
// re-verifying the current credential.
func (s *AuthService) ReplacePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return errors.New("new password must be at least 8 characters")
	}

	return s.store.RunInTx(ctx, func(q *repository.Queries) error {
		user, err := q.GetUserByID(ctx, userID)
		if err != nil {
			return err
		}
		if !s.creds.Compare(currentPassword, user.PasswordHash) {
			return ErrInvalidCredentials
		}
		hash, err := s.creds.Hash(newPassword)
		if err != nil {
			return err
		}
		rows, err := q.ReplacePassword(ctx, userID, hash)
		if err != nil {
			return err
		}
		return requireExactlyOne(rows, "replace password")
	})
}
