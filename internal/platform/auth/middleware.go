package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/style-suite/api/internal/platform/httpx"
	"github.com/style-suite/api/internal/platform/requestctx"
)

const defaultVerifyTimeout = 5 * time.Second

var (
	// ErrTokenExpired signals that the session token has expired.
	ErrTokenExpired = errors.New("auth: session token expired")
	// ErrTokenInvalid signals that the session token is invalid for other reasons.
	ErrTokenInvalid = errors.New("auth: session token invalid")
	// ErrVerifierUnavailable signals that no verifier is configured.
	ErrVerifierUnavailable = errors.New("auth: session verifier unavailable")
)

// SessionVerifier turns a bearer token into a verified identity.
type SessionVerifier interface {
	VerifySession(ctx context.Context, token string) (*Identity, error)
}

// ChainVerifier tries each verifier in order and returns the first identity. The error of the last
// verifier is returned when none accepts the token.
type ChainVerifier []SessionVerifier

// VerifySession implements SessionVerifier.
func (c ChainVerifier) VerifySession(ctx context.Context, token string) (*Identity, error) {
	err := ErrVerifierUnavailable
	for _, verifier := range c {
		if verifier == nil {
			continue
		}
		var identity *Identity
		identity, err = verifier.VerifySession(ctx, token)
		if err == nil && identity != nil {
			return identity, nil
		}
	}
	return nil, err
}

// Authenticator wires session verification into HTTP middleware.
type Authenticator struct {
	verifier SessionVerifier
	metrics  MetricsRecorder
	timeout  time.Duration
	now      func() time.Time
}

// Option customises Authenticator behaviour.
type Option func(*Authenticator)

// WithVerificationTimeout sets the timeout used when verifying tokens.
func WithVerificationTimeout(d time.Duration) Option {
	return func(a *Authenticator) {
		if d > 0 {
			a.timeout = d
		}
	}
}

// WithSessionMetrics records verification outcomes.
func WithSessionMetrics(recorder MetricsRecorder) Option {
	return func(a *Authenticator) {
		a.metrics = recorder
	}
}

// NewAuthenticator constructs an Authenticator for middleware composition.
func NewAuthenticator(verifier SessionVerifier, opts ...Option) *Authenticator {
	a := &Authenticator{
		verifier: verifier,
		timeout:  defaultVerifyTimeout,
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// RequireSession verifies the Authorization bearer token. When roles are given the identity must hold
// one of them; a verified identity without the role gets 403.
func (a *Authenticator) RequireSession(allowedRoles ...string) func(http.Handler) http.Handler {
	allowed := make([]string, 0, len(allowedRoles))
	for _, role := range allowedRoles {
		if role = normaliseRole(role); role != "" {
			allowed = append(allowed, role)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			start := a.clock()

			tokenStr, ok := extractBearerToken(r.Header.Get("Authorization"))
			if !ok {
				a.record(ctx, false, "token_missing", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization header missing or invalid")
				return
			}
			if a == nil || a.verifier == nil {
				a.record(ctx, false, "verifier_unavailable", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "authorization service unavailable")
				return
			}

			verifyCtx, cancel := context.WithTimeout(ctx, a.timeout)
			identity, err := a.verifier.VerifySession(verifyCtx, tokenStr)
			cancel()
			if err != nil || identity == nil {
				if errors.Is(err, ErrTokenExpired) {
					a.record(ctx, false, "token_expired", start)
					respondAuthError(ctx, w, http.StatusUnauthorized, "token_expired", "session token expired")
					return
				}
				a.record(ctx, false, "token_invalid", start)
				respondAuthError(ctx, w, http.StatusUnauthorized, "unauthenticated", "session token invalid")
				return
			}

			requestctx.SetCaller(ctx, requestctx.CallerInfo{Kind: "session", UserID: identity.UserID})

			if len(allowed) > 0 && !identity.HasAnyRole(allowed...) {
				a.record(ctx, false, "insufficient_role", start)
				respondAuthError(ctx, w, http.StatusForbidden, "forbidden", "identity does not have required role")
				return
			}

			a.record(ctx, true, "ok", start)
			next.ServeHTTP(w, r.WithContext(WithIdentity(ctx, identity)))
		})
	}
}

func (a *Authenticator) clock() time.Time {
	if a == nil || a.now == nil {
		return time.Now()
	}
	return a.now()
}

func (a *Authenticator) record(ctx context.Context, success bool, reason string, start time.Time) {
	if a == nil || a.metrics == nil {
		return
	}
	a.metrics.RecordVerification(ctx, "session", success, reason, a.clock().Sub(start))
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", false
	}

	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 {
		return "", false
	}

	if !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}

	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", false
	}

	return token, true
}

func respondAuthError(ctx context.Context, w http.ResponseWriter, status int, code, message string) {
	httpx.WriteError(ctx, w, httpx.NewError(code, message, status))
}
