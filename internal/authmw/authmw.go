// Package authmw provides HTTP middleware for bearer token authentication.
package authmw

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/linnemanlabs/go-core/log"

	"github.com/linnemanlabs/medlog/internal/identity"
)

type ctxKey struct{}

// WithSubject returns a copy of ctx carrying sub.
func WithSubject(ctx context.Context, sub *identity.Subject) context.Context {
	return context.WithValue(ctx, ctxKey{}, sub)
}

// SubjectFromContext returns the verified caller, if any.
func SubjectFromContext(ctx context.Context) (*identity.Subject, bool) {
	sub, ok := ctx.Value(ctxKey{}).(*identity.Subject)
	return sub, ok && sub != nil
}

// BearerToken returns middleware that extracts the Bearer credential and
// passes it to v. A missing or malformed header is 401; a credential the
// verifier rejects is 403. On success the Subject is stored on the request
// context.
func BearerToken(v identity.Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearer(r.Header.Get("Authorization"))
			if !ok {
				writeError(w, http.StatusUnauthorized, "missing or malformed authorization header")
				return
			}

			ctx := r.Context()
			sub, err := v.Verify(ctx, token)
			if err != nil {
				reason := "invalid"
				if errors.Is(err, identity.ErrExpiredToken) {
					reason = "expired"
				}
				log.FromContext(ctx).Warn(ctx, "credential rejected", "reason", reason, "err", err)
				writeError(w, http.StatusForbidden, "invalid token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithSubject(ctx, sub)))
		})
	}
}

// bearer parses "Bearer <token>". The scheme is case-insensitive.
func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", false
	}
	return token, true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
