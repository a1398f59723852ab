package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/otp-auth-api/internal/application/otp"
	"github.com/otp-auth-api/internal/domain"
	jwtinfra "github.com/otp-auth-api/internal/infrastructure/jwt"
	"github.com/otp-auth-api/internal/pkg/id"
)

// TokenPair is the credential set handed out after a successful verification
// or refresh. ExpiresInMS is the access-token lifetime in milliseconds.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresInMS  int64  `json:"expires_in_ms"`
	AccountID    string `json:"account_id"`
}

type Service interface {
	VerifyAndLogin(ctx context.Context, code, phone string) (*TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

type service struct {
	otpSvc   otp.Service
	accounts domain.AccountDirectory
	tokens   *jwtinfra.Provider
}

func NewService(otpSvc otp.Service, accounts domain.AccountDirectory, tokens *jwtinfra.Provider) Service {
	return &service{otpSvc: otpSvc, accounts: accounts, tokens: tokens}
}

// VerifyAndLogin consumes the code, resolves the account for the verified
// identifier (creating one when the code was issued for registration) and
// mints the token pair.
func (s *service) VerifyAndLogin(ctx context.Context, code, phone string) (*TokenPair, error) {
	verified, err := s.otpSvc.Verify(ctx, otp.VerifyRequest{Phone: phone, Code: code})
	if err != nil {
		return nil, err
	}

	acct, err := s.accounts.GetByPhone(ctx, verified.Identifier)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrNotFound) && verified.Purpose == domain.PurposeRegistration:
		acct = &domain.Account{
			AccountID: id.New(),
			Phone:     verified.Identifier,
			Email:     verified.Email,
			Subject:   verified.Identifier,
			Role:      domain.RoleUser,
			CreatedAt: time.Now().UTC(),
		}
		if err := s.accounts.Create(ctx, acct); err != nil {
			return nil, err
		}
	case errors.Is(err, domain.ErrNotFound):
		return nil, fmt.Errorf("no account for verified identifier: %w", domain.ErrNotFound)
	default:
		return nil, err
	}

	return s.mintPair(acct.AccountID, acct.Subject, acct.Role)
}

// Refresh exchanges a refresh token for a fresh pair. The kind claim is
// checked here: an access token presented as a refresh token is rejected.
func (s *service) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.tokens.ExtractClaims(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Kind != jwtinfra.KindRefresh {
		return nil, fmt.Errorf("token kind %q is not a refresh token: %w", claims.Kind, domain.ErrTokenInvalid)
	}

	acct, err := s.accounts.GetByPhone(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}
	return s.mintPair(acct.AccountID, acct.Subject, acct.Role)
}

func (s *service) mintPair(accountID, subject, role string) (*TokenPair, error) {
	access, err := s.tokens.IssueAccess(accountID, subject, role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.IssueRefresh(accountID, subject)
	if err != nil {
		return nil, err
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresInMS:  s.tokens.AccessTTL().Milliseconds(),
		AccountID:    accountID,
	}, nil
}
