package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/otp-auth-api/internal/domain"
	"github.com/otp-auth-api/internal/infrastructure/smtp"
	"github.com/otp-auth-api/internal/infrastructure/sns"
	"github.com/otp-auth-api/internal/pkg/id"
	"github.com/otp-auth-api/internal/pkg/mask"
	"github.com/otp-auth-api/internal/pkg/metrics"
	"github.com/otp-auth-api/internal/pkg/validate"
)

type IssueRequest struct {
	Phone   string  `json:"phone" validate:"required,e164"`
	Email   *string `json:"email,omitempty" validate:"omitempty,email"`
	Purpose string  `json:"purpose" validate:"required,oneof=REGISTRATION LOGIN"`
}

type VerifyRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	Code  string `json:"code" validate:"required,numeric"`
}

// PendingCode is what the caller gets back after a successful issuance.
// The code itself never leaves the service; only a masked identifier and the
// expiry are echoed for display.
type PendingCode struct {
	MaskedIdentifier string `json:"masked_identifier"`
	Purpose          string `json:"purpose"`
	ExpiresAt        int64  `json:"expires_at"`
}

// VerifiedCode is the proof of a successful verification: the identifier and
// the purpose the code was issued for, so the caller can branch between the
// registration and login flows.
type VerifiedCode struct {
	Identifier string
	Email      *string
	Purpose    string
}

// CodeStore is the persistence the OTP lifecycle needs.
type CodeStore interface {
	Put(ctx context.Context, c *domain.OneTimeCode) error
	FindPending(ctx context.Context, identifier, code string) (*domain.OneTimeCode, error)
	CountIssuedSince(ctx context.Context, identifier string, since time.Time) (int, error)
	Consume(ctx context.Context, identifier, codeID string) error
	Delete(ctx context.Context, identifier, codeID string) error
	InvalidatePending(ctx context.Context, identifier string) (int, error)
}

type Service interface {
	Issue(ctx context.Context, req IssueRequest) (*PendingCode, error)
	Resend(ctx context.Context, req IssueRequest) (*PendingCode, error)
	Verify(ctx context.Context, req VerifyRequest) (*VerifiedCode, error)
}

// Config carries the lifecycle constants. All of them come from environment
// configuration; nothing is hard-coded.
type Config struct {
	CodeLength      int
	Validity        time.Duration
	MaxAttempts     int
	RateLimitMax    int
	RateLimitWindow time.Duration
	DeliveryTimeout time.Duration
}

type identifierLock struct {
	mu       sync.Mutex
	lastSeen time.Time
}

// service implements the OTP lifecycle. Issuance for one identifier is
// serialized through a per-identifier mutex so the window-count check and the
// record insert cannot interleave across concurrent requests. The lock is
// process-local; across replicas the overshoot is bounded by the replica
// count.
type service struct {
	codes  CodeStore
	sms    sns.SMSSender
	mailer smtp.Mailer
	cfg    Config

	mu    sync.Mutex
	locks map[string]*identifierLock
}

func NewService(codes CodeStore, sms sns.SMSSender, mailer smtp.Mailer, cfg Config) Service {
	return &service{
		codes:  codes,
		sms:    sms,
		mailer: mailer,
		cfg:    cfg,
		locks:  make(map[string]*identifierLock),
	}
}

func (s *service) Issue(ctx context.Context, req IssueRequest) (*PendingCode, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrBadRequest, err)
	}
	l := s.lock(req.Phone)
	defer l.Unlock()
	return s.issueLocked(ctx, req)
}

// Resend invalidates every pending code for the identifier before issuing a
// fresh one, so at most one code verifies at any moment and codes issued
// before the resend stop verifying immediately. Invalidated records stay in
// the store until they expire, which keeps every resend counted against the
// issuance-rate window; a caller cannot reset the window by resending.
func (s *service) Resend(ctx context.Context, req IssueRequest) (*PendingCode, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrBadRequest, err)
	}
	l := s.lock(req.Phone)
	defer l.Unlock()
	if _, err := s.codes.InvalidatePending(ctx, req.Phone); err != nil {
		return nil, err
	}
	return s.issueLocked(ctx, req)
}

// issueLocked runs the issuance pipeline. Caller holds the identifier lock.
func (s *service) issueLocked(ctx context.Context, req IssueRequest) (*PendingCode, error) {
	now := time.Now().UTC()

	n, err := s.codes.CountIssuedSince(ctx, req.Phone, now.Add(-s.cfg.RateLimitWindow))
	if err != nil {
		return nil, err
	}
	if n >= s.cfg.RateLimitMax {
		metrics.CodesIssued.WithLabelValues(req.Purpose, "rate_limited").Inc()
		return nil, fmt.Errorf("retry after %s: %w", s.cfg.RateLimitWindow, domain.ErrRateLimited)
	}

	code, err := generateCode(s.cfg.CodeLength)
	if err != nil {
		return nil, err
	}
	rec := &domain.OneTimeCode{
		Identifier: req.Phone,
		CodeID:     id.New(),
		Code:       code,
		Email:      req.Email,
		Purpose:    req.Purpose,
		CreatedAt:  now.Unix(),
		ExpiresAt:  now.Add(s.cfg.Validity).Unix(),
	}
	if err := s.codes.Put(ctx, rec); err != nil {
		return nil, err
	}

	if err := s.deliver(ctx, rec); err != nil {
		// No dangling pending code for a message the user never received.
		if delErr := s.codes.Delete(ctx, rec.Identifier, rec.CodeID); delErr != nil {
			slog.Warn("failed to roll back undelivered code", "identifier", mask.Identifier(rec.Identifier), "code_id", rec.CodeID, "err", delErr)
		}
		metrics.CodesIssued.WithLabelValues(req.Purpose, "delivery_failed").Inc()
		return nil, fmt.Errorf("%w: %s", domain.ErrDeliveryFailed, err)
	}

	metrics.CodesIssued.WithLabelValues(req.Purpose, "ok").Inc()
	return &PendingCode{
		MaskedIdentifier: mask.Identifier(req.Phone),
		Purpose:          req.Purpose,
		ExpiresAt:        rec.ExpiresAt,
	}, nil
}

// deliver sends the code over SMS under a bounded timeout so a hung gateway
// cannot pin a request worker. When the identifier carries an email, a copy
// goes out by mail best-effort; only the SMS result decides success.
func (s *service) deliver(ctx context.Context, rec *domain.OneTimeCode) error {
	msg := fmt.Sprintf("Your verification code is %s. It expires in %d minutes.", rec.Code, int(s.cfg.Validity.Minutes()))

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliveryTimeout)
	defer cancel()
	if err := s.sms.SendSMS(sendCtx, rec.Identifier, msg); err != nil {
		return err
	}

	if rec.Email != nil && s.mailer != nil {
		if err := s.mailer.SendEmail(*rec.Email, "Your verification code", msg); err != nil {
			slog.Warn("failed to email verification code copy", "identifier", mask.Identifier(rec.Identifier), "err", err)
		}
	}
	return nil
}

func (s *service) Verify(ctx context.Context, req VerifyRequest) (*VerifiedCode, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %s", domain.ErrBadRequest, err)
	}

	rec, err := s.codes.FindPending(ctx, req.Phone, req.Code)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			metrics.CodesVerified.WithLabelValues("invalid").Inc()
			return nil, fmt.Errorf("no matching code: %w", domain.ErrInvalidCode)
		}
		return nil, err
	}
	if rec.Expired(time.Now()) {
		metrics.CodesVerified.WithLabelValues("expired").Inc()
		return nil, fmt.Errorf("code expired at %d: %w", rec.ExpiresAt, domain.ErrCodeExpired)
	}
	if rec.Attempts >= s.cfg.MaxAttempts {
		metrics.CodesVerified.WithLabelValues("too_many_attempts").Inc()
		return nil, fmt.Errorf("attempt limit reached: %w", domain.ErrTooManyAttempts)
	}

	// Single conditional update: of two concurrent submissions of the same
	// code, exactly one consume succeeds. The loser surfaces ErrInvalidCode.
	if err := s.codes.Consume(ctx, rec.Identifier, rec.CodeID); err != nil {
		if errors.Is(err, domain.ErrInvalidCode) {
			metrics.CodesVerified.WithLabelValues("invalid").Inc()
		}
		return nil, err
	}

	metrics.CodesVerified.WithLabelValues("ok").Inc()
	return &VerifiedCode{Identifier: rec.Identifier, Email: rec.Email, Purpose: rec.Purpose}, nil
}

// lock acquires the per-identifier mutex, pruning entries idle for more than
// ten minutes on the way in.
func (s *service) lock(identifier string) *sync.Mutex {
	s.mu.Lock()
	for key, l := range s.locks {
		if key != identifier && time.Since(l.lastSeen) > 10*time.Minute && l.mu.TryLock() {
			l.mu.Unlock()
			delete(s.locks, key)
		}
	}
	l, ok := s.locks[identifier]
	if !ok {
		l = &identifierLock{}
		s.locks[identifier] = l
	}
	l.lastSeen = time.Now()
	s.mu.Unlock()

	l.mu.Lock()
	return &l.mu
}

// generateCode draws a code uniformly over the full fixed-width range, e.g.
// 100000–999999 for 6 digits. The lower bound keeps the width fixed: a draw
// over [0, 999999] alone could produce codes with leading zeros that
// truncate to fewer digits in downstream formatting.
func generateCode(length int) (string, error) {
	min := int64(1)
	for i := 1; i < length; i++ {
		min *= 10
	}
	span := big.NewInt(9 * min) // size of [min, 10*min)
	n, err := rand.Int(rand.Reader, span)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%d", n.Int64()+min), nil
}
