package domain

import (
	"context"
	"time"
)

// Account roles propagated as a claim on access tokens. Role modelling beyond
// the claim itself lives outside this service.
const (
	RoleUser = "user"
)

// Account is the minimal identity record the auth flow needs: an opaque id,
// a subject string for token claims, and the verified contact points.
type Account struct {
	AccountID string    `json:"account_id" dynamodbav:"account_id"`
	Phone     string    `json:"phone" dynamodbav:"phone"`
	Email     *string   `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Subject   string    `json:"subject" dynamodbav:"subject"`
	Role      string    `json:"role" dynamodbav:"role"`
	CreatedAt time.Time `json:"created_at" dynamodbav:"created_at"`
}

// AccountDirectory resolves verified identifiers to accounts.
type AccountDirectory interface {
	GetByPhone(ctx context.Context, phone string) (*Account, error)
	Create(ctx context.Context, a *Account) error
}
