package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/otp-auth-api/internal/application/auth"
	"github.com/otp-auth-api/internal/application/otp"
	"github.com/otp-auth-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// --- mocks ---

type mockOTPSvc struct{ mock.Mock }

func (m *mockOTPSvc) Issue(ctx context.Context, req otp.IssueRequest) (*otp.PendingCode, error) {
	args := m.Called(ctx, req)
	if p, _ := args.Get(0).(*otp.PendingCode); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPSvc) Resend(ctx context.Context, req otp.IssueRequest) (*otp.PendingCode, error) {
	args := m.Called(ctx, req)
	if p, _ := args.Get(0).(*otp.PendingCode); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockOTPSvc) Verify(ctx context.Context, req otp.VerifyRequest) (*otp.VerifiedCode, error) {
	args := m.Called(ctx, req)
	if v, _ := args.Get(0).(*otp.VerifiedCode); v != nil {
		return v, args.Error(1)
	}
	return nil, args.Error(1)
}

type mockAuthSvc struct{ mock.Mock }

func (m *mockAuthSvc) VerifyAndLogin(ctx context.Context, code, phone string) (*auth.TokenPair, error) {
	args := m.Called(ctx, code, phone)
	if p, _ := args.Get(0).(*auth.TokenPair); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockAuthSvc) Refresh(ctx context.Context, refreshToken string) (*auth.TokenPair, error) {
	args := m.Called(ctx, refreshToken)
	if p, _ := args.Get(0).(*auth.TokenPair); p != nil {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

// --- helpers ---

func postJSON(t *testing.T, h http.HandlerFunc, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	buf, err := json.Marshal(body)
	require.NoError(t, err)
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(buf))
	h(rec, req)
	return rec
}

// --- Request ---

func TestRequest_Created(t *testing.T) {
	otpSvc := &mockOTPSvc{}
	otpSvc.On("Issue", mock.Anything, mock.AnythingOfType("otp.IssueRequest")).
		Return(&otp.PendingCode{MaskedIdentifier: "+336****5678", Purpose: domain.PurposeLogin, ExpiresAt: 1}, nil)

	h := NewOTPHandler(otpSvc, &mockAuthSvc{})
	rec := postJSON(t, h.Request, map[string]string{"phone": "+33612345678", "purpose": "LOGIN"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	var env PendingCodeEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Pending)
	assert.Equal(t, "+336****5678", env.Pending.MaskedIdentifier)
}

func TestRequest_RateLimited_Returns429(t *testing.T) {
	otpSvc := &mockOTPSvc{}
	otpSvc.On("Issue", mock.Anything, mock.Anything).Return(nil, domain.ErrRateLimited)

	h := NewOTPHandler(otpSvc, &mockAuthSvc{})
	rec := postJSON(t, h.Request, map[string]string{"phone": "+33612345678", "purpose": "LOGIN"})

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestRequest_DeliveryFailure_Returns502(t *testing.T) {
	otpSvc := &mockOTPSvc{}
	otpSvc.On("Issue", mock.Anything, mock.Anything).Return(nil, domain.ErrDeliveryFailed)

	h := NewOTPHandler(otpSvc, &mockAuthSvc{})
	rec := postJSON(t, h.Request, map[string]string{"phone": "+33612345678", "purpose": "LOGIN"})

	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestRequest_BadBody(t *testing.T) {
	h := NewOTPHandler(&mockOTPSvc{}, &mockAuthSvc{})
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("{")))
	h.Request(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// --- Verify ---

func TestVerify_ReturnsTokenPair(t *testing.T) {
	authSvc := &mockAuthSvc{}
	authSvc.On("VerifyAndLogin", mock.Anything, "123456", "+33612345678").
		Return(&auth.TokenPair{AccessToken: "a", RefreshToken: "r", ExpiresInMS: 1_800_000, AccountID: "acc-1"}, nil)

	h := NewOTPHandler(&mockOTPSvc{}, authSvc)
	rec := postJSON(t, h.Verify, map[string]string{"phone": "+33612345678", "code": "123456"})

	assert.Equal(t, http.StatusOK, rec.Code)
	var env AuthEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.NotNil(t, env.Tokens)
	assert.Equal(t, int64(1_800_000), env.Tokens.ExpiresInMS)
}

func TestVerify_InvalidCode_Returns401(t *testing.T) {
	authSvc := &mockAuthSvc{}
	authSvc.On("VerifyAndLogin", mock.Anything, "000000", "+33612345678").
		Return(nil, domain.ErrInvalidCode)

	h := NewOTPHandler(&mockOTPSvc{}, authSvc)
	rec := postJSON(t, h.Verify, map[string]string{"phone": "+33612345678", "code": "000000"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

// --- Resend ---

func TestResend_Created(t *testing.T) {
	otpSvc := &mockOTPSvc{}
	otpSvc.On("Resend", mock.Anything, mock.AnythingOfType("otp.IssueRequest")).
		Return(&otp.PendingCode{MaskedIdentifier: "+336****5678", Purpose: domain.PurposeLogin, ExpiresAt: 1}, nil)

	h := NewOTPHandler(otpSvc, &mockAuthSvc{})
	rec := postJSON(t, h.Resend, map[string]string{"phone": "+33612345678", "purpose": "LOGIN"})

	assert.Equal(t, http.StatusCreated, rec.Code)
	otpSvc.AssertExpectations(t)
}
