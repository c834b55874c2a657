package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v4"
)

const jwtProvider = "jwt"

// SessionClaims is the payload of session tokens issued by the storefront identity service.
type SessionClaims struct {
	UserID string `json:"userId"`
	Role   string `json:"role,omitempty"`
	Email  string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// JWTVerifier verifies HS256 session tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// JWTOption customises JWTVerifier.
type JWTOption func(*JWTVerifier)

// WithJWTIssuer requires tokens to carry the given iss claim.
func WithJWTIssuer(issuer string) JWTOption {
	return func(v *JWTVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithJWTClock injects the time source used for exp/nbf checks.
func WithJWTClock(now func() time.Time) JWTOption {
	return func(v *JWTVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewJWTVerifier constructs a verifier for the shared secret.
func NewJWTVerifier(secret string, opts ...JWTOption) (*JWTVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	v := &JWTVerifier{secret: []byte(secret), now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(v)
		}
	}
	return v, nil
}

// VerifySession validates the signature, expiry and issuer and returns the identity. The role
// defaults to user when the claim is absent.
func (v *JWTVerifier) VerifySession(_ context.Context, token string) (*Identity, error) {
	if v == nil {
		return nil, ErrVerifierUnavailable
	}
	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		if t.Method == nil || t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("auth: unexpected signing method %v", t.Method)
		}
		return v.secret, nil
	}, jwt.WithoutClaimsValidation())
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	now := v.now()
	if !claims.VerifyExpiresAt(now, false) {
		return nil, ErrTokenExpired
	}
	if !claims.VerifyNotBefore(now, false) {
		return nil, fmt.Errorf("%w: token not yet valid", ErrTokenInvalid)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrTokenInvalid)
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return nil, fmt.Errorf("%w: missing user id", ErrTokenInvalid)
	}
	role := normaliseRole(claims.Role)
	if role == "" {
		role = RoleUser
	}
	return &Identity{
		UserID:   userID,
		Email:    strings.TrimSpace(claims.Email),
		Role:     role,
		Provider: jwtProvider,
	}, nil
}

// Sign issues a token for the claims. It is used by local tooling and tests.
func (v *JWTVerifier) Sign(claims SessionClaims) (string, error) {
	if v == nil {
		return "", ErrVerifierUnavailable
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
