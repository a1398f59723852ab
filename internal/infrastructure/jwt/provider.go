package jwtinfra

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/otp-auth-api/internal/domain"
)

// Token kinds. An access token must never be accepted where a refresh token
// is required, and vice versa; callers enforce this via ExtractClaims.
const (
	KindAccess  = "access"
	KindRefresh = "refresh"
)

// Claims holds the JWT payload fields.
type Claims struct {
	AccountID string `json:"account_id"`
	Role      string `json:"role,omitempty"` // access tokens only
	Kind      string `json:"kind"`           // access | refresh
	jwt.RegisteredClaims
}

// Provider signs and verifies HS256 JWTs with a shared secret. Tokens are
// immutable once minted; validity derives purely from the signature and the
// embedded timestamps — there is no server-side revocation state.
type Provider struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewProvider(secret string, accessTTL, refreshTTL time.Duration) (*Provider, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is empty")
	}
	return &Provider{secret: []byte(secret), accessTTL: accessTTL, refreshTTL: refreshTTL}, nil
}

// AccessTTL exposes the configured access-token lifetime so handlers can
// report it alongside the minted token.
func (p *Provider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess mints a short-lived access token carrying the role claim.
func (p *Provider) IssueAccess(accountID, subject, role string) (string, error) {
	return p.sign(accountID, subject, role, KindAccess, p.accessTTL)
}

// IssueRefresh mints a long-lived refresh token. No role claim: a refresh
// token only proves the right to mint a fresh access token.
func (p *Provider) IssueRefresh(accountID, subject string) (string, error) {
	return p.sign(accountID, subject, "", KindRefresh, p.refreshTTL)
}

func (p *Provider) sign(accountID, subject, role, kind string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		AccountID: accountID,
		Role:      role,
		Kind:      kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(p.secret)
}

// ExtractClaims parses and verifies the token. Any structural or signature
// failure maps to ErrTokenInvalid; a good signature past its expiry maps to
// ErrTokenExpired. Stateless — no store lookup.
func (p *Provider) ExtractClaims(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", domain.ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %w", domain.ErrTokenInvalid, err)
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: malformed claims", domain.ErrTokenInvalid)
	}
	return claims, nil
}

// Validate reports whether the token verifies, is unexpired, and was minted
// for expectedSubject. Kind checking stays with the caller.
func (p *Provider) Validate(tokenStr, expectedSubject string) bool {
	claims, err := p.ExtractClaims(tokenStr)
	if err != nil {
		return false
	}
	return claims.Subject == expectedSubject
}
