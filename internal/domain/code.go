package domain

import "time"

// Code purposes. The purpose tells the caller which flow to continue with
// after a successful verification.
const (
	PurposeRegistration = "REGISTRATION"
	PurposeLogin        = "LOGIN"
)

// OneTimeCode is a single issued OTP.
// PK: identifier, SK: code_id (ULID, so records sort by creation time).
// ExpiresAt is a Unix timestamp also usable as a DynamoDB TTL attribute.
// Invalidated records no longer verify but keep occupying the issuance-rate
// window until they expire; resend sets the flag instead of deleting rows.
type OneTimeCode struct {
	Identifier  string  `json:"identifier" dynamodbav:"identifier"`
	CodeID      string  `json:"code_id" dynamodbav:"code_id"`
	Code        string  `json:"-" dynamodbav:"code"`
	Email       *string `json:"email,omitempty" dynamodbav:"email,omitempty"`
	Purpose     string  `json:"purpose" dynamodbav:"purpose"` // REGISTRATION | LOGIN
	Attempts    int     `json:"attempts" dynamodbav:"attempts"`
	Consumed    bool    `json:"consumed" dynamodbav:"consumed"`
	Invalidated bool    `json:"invalidated" dynamodbav:"invalidated"`
	CreatedAt   int64   `json:"created_at" dynamodbav:"created_at"`
	ExpiresAt   int64   `json:"expires_at" dynamodbav:"expires_at"` // TTL (Unix seconds)
}

// Expired reports whether the code's validity window has passed at t.
func (c *OneTimeCode) Expired(t time.Time) bool {
	return c.ExpiresAt < t.Unix()
}
