package identity

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// FirebaseJWKSURL publishes the keys that sign Firebase Auth ID tokens.
	FirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"
	firebaseIssuer  = "https://securetoken.google.com/"
)

// JWTConfig configures a JWT verifier. Setting ProjectID fills Issuer,
// Audience and JWKSURL with the Firebase Auth defaults for that project.
// SigningKey switches to HS256 verification for local development.
type JWTConfig struct {
	ProjectID  string
	Issuer     string
	Audience   string
	JWKSURL    string
	SigningKey []byte

	CacheTTL   time.Duration
	HTTPClient *http.Client
	Leeway     time.Duration
}

type claims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
}

// JWT verifies signed ID tokens.
type JWT struct {
	parser *jwt.Parser
	keys   *keyCache
	secret []byte
}

// NewJWT validates cfg and returns a verifier.
func NewJWT(cfg JWTConfig) (*JWT, error) {
	if cfg.ProjectID != "" {
		if cfg.Issuer == "" {
			cfg.Issuer = firebaseIssuer + cfg.ProjectID
		}
		if cfg.Audience == "" {
			cfg.Audience = cfg.ProjectID
		}
		if cfg.JWKSURL == "" && len(cfg.SigningKey) == 0 {
			cfg.JWKSURL = FirebaseJWKSURL
		}
	}
	if cfg.JWKSURL == "" && len(cfg.SigningKey) == 0 {
		return nil, errors.New("identity: one of JWKS URL, project ID or signing key is required")
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(cfg.Leeway))
	}

	v := &JWT{}
	if len(cfg.SigningKey) > 0 {
		v.secret = cfg.SigningKey
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	} else {
		v.keys = newKeyCache(cfg.JWKSURL, cfg.CacheTTL, cfg.HTTPClient)
		opts = append(opts, jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

// Verify parses and validates token, returning its subject.
func (v *JWT) Verify(ctx context.Context, token string) (*Subject, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	var c claims
	_, err := v.parser.ParseWithClaims(token, &c, v.keyFunc(ctx))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %w", ErrExpiredToken, err)
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if c.Subject == "" {
		return nil, fmt.Errorf("%w: no subject", ErrInvalidToken)
	}
	return &Subject{ID: c.Subject, Email: c.Email}, nil
}

func (v *JWT) keyFunc(ctx context.Context) jwt.Keyfunc {
	if v.secret != nil {
		return func(*jwt.Token) (any, error) { return v.secret, nil }
	}
	return func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, errors.New("token has no kid header")
		}
		return v.keys.key(ctx, kid)
	}
}
