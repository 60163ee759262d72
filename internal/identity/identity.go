// Package identity verifies bearer credentials and resolves them to a
// subject. The incident service trusts the subject ID as the owner of the
// records it creates.
package identity

import (
	"context"
	"errors"
)

var (
	ErrMissingToken = errors.New("missing token")
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// Subject is a verified caller.
type Subject struct {
	ID    string
	Email string
}

// Verifier checks a raw bearer credential.
type Verifier interface {
	Verify(ctx context.Context, token string) (*Subject, error)
}
