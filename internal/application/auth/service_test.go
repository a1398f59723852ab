package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/otp-auth-api/internal/application/otp"
	"github.com/otp-auth-api/internal/domain"
	jwtinfra "github.com/otp-auth-api/internal/infrastructure/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockOTPService struct{ mock.Mock }

func (m *mockOTPService) Issue(ctx context.Context, req otp.IssueRequest) (*otp.PendingCode, error) {
	args := m.Called(ctx, req)
	if p, _ := args.Get(0).(*otp.PendingCode); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockOTPService) Resend(ctx context.Context, req otp.IssueRequest) (*otp.PendingCode, error) {
	args := m.Called(ctx, req)
	if p, _ := args.Get(0).(*otp.PendingCode); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockOTPService) Verify(ctx context.Context, req otp.VerifyRequest) (*otp.VerifiedCode, error) {
	args := m.Called(ctx, req)
	if v, _ := args.Get(0).(*otp.VerifiedCode); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockDirectory struct{ mock.Mock }

func (m *mockDirectory) GetByPhone(ctx context.Context, phone string) (*domain.Account, error) {
	args := m.Called(ctx, phone)
	if a, _ := args.Get(0).(*domain.Account); a != nil {
		return a, args.Error(1)
	}
	return nil, args.Error(1)
}
func (m *mockDirectory) Create(ctx context.Context, a *domain.Account) error {
	return m.Called(ctx, a).Error(0)
}

// --- builder ---

const phone = "+33612345678"

func newTestService(t *testing.T, otpSvc *mockOTPService, dir *mockDirectory) (Service, *jwtinfra.Provider) {
	t.Helper()
	provider, err := jwtinfra.NewProvider("test-secret", 30*time.Minute, 720*time.Hour)
	require.NoError(t, err)
	return NewService(otpSvc, dir, provider), provider
}

// --- VerifyAndLogin ---

func TestVerifyAndLogin_ExistingAccount(t *testing.T) {
	otpSvc := &mockOTPService{}
	dir := &mockDirectory{}

	otpSvc.On("Verify", mock.Anything, otp.VerifyRequest{Phone: phone, Code: "123456"}).
		Return(&otp.VerifiedCode{Identifier: phone, Purpose: domain.PurposeLogin}, nil)
	dir.On("GetByPhone", mock.Anything, phone).
		Return(&domain.Account{AccountID: "acc-1", Phone: phone, Subject: phone, Role: domain.RoleUser}, nil)

	svc, provider := newTestService(t, otpSvc, dir)
	pair, err := svc.VerifyAndLogin(context.Background(), "123456", phone)

	require.NoError(t, err)
	assert.Equal(t, "acc-1", pair.AccountID)
	assert.Equal(t, int64(1_800_000), pair.ExpiresInMS)

	access, err := provider.ExtractClaims(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, jwtinfra.KindAccess, access.Kind)
	assert.Equal(t, domain.RoleUser, access.Role)

	refresh, err := provider.ExtractClaims(pair.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, jwtinfra.KindRefresh, refresh.Kind)
	assert.Empty(t, refresh.Role)

	dir.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestVerifyAndLogin_RegistrationCreatesAccount(t *testing.T) {
	otpSvc := &mockOTPService{}
	dir := &mockDirectory{}

	otpSvc.On("Verify", mock.Anything, mock.Anything).
		Return(&otp.VerifiedCode{Identifier: phone, Purpose: domain.PurposeRegistration}, nil)
	dir.On("GetByPhone", mock.Anything, phone).Return(nil, domain.ErrNotFound)
	dir.On("Create", mock.Anything, mock.AnythingOfType("*domain.Account")).Return(nil)

	svc, _ := newTestService(t, otpSvc, dir)
	pair, err := svc.VerifyAndLogin(context.Background(), "123456", phone)

	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	dir.AssertExpectations(t)
}

func TestVerifyAndLogin_LoginUnknownAccount(t *testing.T) {
	otpSvc := &mockOTPService{}
	dir := &mockDirectory{}

	otpSvc.On("Verify", mock.Anything, mock.Anything).
		Return(&otp.VerifiedCode{Identifier: phone, Purpose: domain.PurposeLogin}, nil)
	dir.On("GetByPhone", mock.Anything, phone).Return(nil, domain.ErrNotFound)

	svc, _ := newTestService(t, otpSvc, dir)
	_, err := svc.VerifyAndLogin(context.Background(), "123456", phone)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotFound))
	dir.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
}

func TestVerifyAndLogin_VerifyFailurePassesThrough(t *testing.T) {
	otpSvc := &mockOTPService{}
	otpSvc.On("Verify", mock.Anything, mock.Anything).Return(nil, domain.ErrInvalidCode)

	svc, _ := newTestService(t, otpSvc, &mockDirectory{})
	_, err := svc.VerifyAndLogin(context.Background(), "000000", phone)

	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrInvalidCode))
}

// --- Refresh ---

func TestRefresh_HappyPath(t *testing.T) {
	dir := &mockDirectory{}
	dir.On("GetByPhone", mock.Anything, phone).
		Return(&domain.Account{AccountID: "acc-1", Phone: phone, Subject: phone, Role: domain.RoleUser}, nil)

	svc, provider := newTestService(t, &mockOTPService{}, dir)
	refresh, err := provider.IssueRefresh("acc-1", phone)
	require.NoError(t, err)

	pair, err := svc.Refresh(context.Background(), refresh)
	require.NoError(t, err)

	claims, err := provider.ExtractClaims(pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, jwtinfra.KindAccess, claims.Kind)
}

func TestRefresh_RejectsAccessToken(t *testing.T) {
	svc, provider := newTestService(t, &mockOTPService{}, &mockDirectory{})
	access, err := provider.IssueAccess("acc-1", phone, domain.RoleUser)
	require.NoError(t, err)

	_, err = svc.Refresh(context.Background(), access)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTokenInvalid))
}

func TestRefresh_GarbageToken(t *testing.T) {
	svc, _ := newTestService(t, &mockOTPService{}, &mockDirectory{})
	_, err := svc.Refresh(context.Background(), "garbage")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrTokenInvalid))
}
