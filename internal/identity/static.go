package identity

import (
	"context"
	"crypto/subtle"

	"github.com/linnemanlabs/go-core/xerrors"
)

// Static accepts a single shared token and maps it to a fixed subject.
// Intended for service-to-service callers and local development.
type Static struct {
	token   []byte
	subject Subject
}

// NewStatic returns a Static verifier. Panics if token or subjectID is empty.
func NewStatic(token, subjectID string) *Static {
	if token == "" {
		panic(xerrors.New("identity: static token is required"))
	}
	if subjectID == "" {
		panic(xerrors.New("identity: static subject is required"))
	}
	return &Static{token: []byte(token), subject: Subject{ID: subjectID}}
}

// Verify compares in constant time.
func (s *Static) Verify(_ context.Context, token string) (*Subject, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if subtle.ConstantTimeCompare([]byte(token), s.token) != 1 {
		return nil, ErrInvalidToken
	}
	sub := s.subject
	return &sub, nil
}
